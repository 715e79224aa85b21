package harness

import (
	"fmt"
	"sort"
	"strings"

	freezer "github.com/freezerdb/freezer"
)

// AssertionError reports one failed expectation, with enough context
// to show what was expected against what the scenario actually
// produced.
type AssertionError struct {
	Kind     string
	Expected string
	Actual   string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s: expected %s, got %s", e.Kind, e.Expected, e.Actual)
}

// AssertExpectations checks scenario's snapshot and batch expectations
// against result, returning one error message per failed expectation.
func AssertExpectations(scenario *Scenario, result *Result) []string {
	var errs []string

	if scenario.ExpectSnap != nil {
		errs = append(errs, assertSnapshot(*scenario.ExpectSnap, result.Snapshot)...)
	}

	if scenario.ExpectBatch != nil {
		if err := assertBatches(*scenario.ExpectBatch, result.Batches); err != nil {
			errs = append(errs, err.Error())
		}
	}

	return errs
}

func assertSnapshot(expect SnapshotExpectation, actual map[string]freezer.AttributeValue) []string {
	var errs []string

	names := make([]string, 0, len(expect.Attributes))
	for name := range expect.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		want := expect.Attributes[name]
		got, present := actual[name]

		if want.Absent {
			if present {
				errs = append(errs, (&AssertionError{
					Kind:     "snapshot attribute absent",
					Expected: fmt.Sprintf("%s absent", name),
					Actual:   fmt.Sprintf("%s present with %d value(s)", name, len(got.Values)),
				}).Error())
			}
			continue
		}

		if !present {
			errs = append(errs, (&AssertionError{
				Kind:     "snapshot attribute present",
				Expected: fmt.Sprintf("%s present", name),
				Actual:   fmt.Sprintf("%s absent", name),
			}).Error())
			continue
		}

		if got.Collection != want.Collection {
			errs = append(errs, (&AssertionError{
				Kind:     "snapshot attribute collection flag",
				Expected: fmt.Sprintf("%s collection=%v", name, want.Collection),
				Actual:   fmt.Sprintf("%s collection=%v", name, got.Collection),
			}).Error())
			continue
		}

		wantValues := make([]freezer.Value, 0, len(want.Values))
		for _, sv := range want.Values {
			v, err := toValue(sv)
			if err != nil {
				errs = append(errs, err.Error())
				continue
			}
			wantValues = append(wantValues, v)
		}

		if !sameValueSet(wantValues, got.Values) {
			errs = append(errs, (&AssertionError{
				Kind:     "snapshot attribute values",
				Expected: describeValues(wantValues),
				Actual:   describeValues(got.Values),
			}).Error())
		}
	}

	return errs
}

// sameValueSet compares two value slices as sets: order doesn't
// matter for a collection attribute, and a scalar attribute's
// expectation slice always has length one.
func sameValueSet(want, got []freezer.Value) bool {
	if len(want) != len(got) {
		return false
	}
	remaining := append([]freezer.Value{}, got...)
	for _, w := range want {
		found := -1
		for i, g := range remaining {
			if w.Equal(g) {
				found = i
				break
			}
		}
		if found == -1 {
			return false
		}
		remaining = append(remaining[:found], remaining[found+1:]...)
	}
	return true
}

func describeValues(values []freezer.Value) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		parts = append(parts, fmt.Sprintf("%v", v))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func assertBatches(expect []BatchExpectation, actual [][]freezer.Change) error {
	if len(expect) != len(actual) {
		return &AssertionError{
			Kind:     "batch count",
			Expected: fmt.Sprintf("%d batches", len(expect)),
			Actual:   fmt.Sprintf("%d batches", len(actual)),
		}
	}

	for i, wantBatch := range expect {
		gotBatch := actual[i]
		if len(wantBatch.Changes) != len(gotBatch) {
			return &AssertionError{
				Kind:     fmt.Sprintf("batch[%d] change count", i),
				Expected: fmt.Sprintf("%d changes", len(wantBatch.Changes)),
				Actual:   fmt.Sprintf("%d changes", len(gotBatch)),
			}
		}
		for j, wantChange := range wantBatch.Changes {
			gotChange := gotBatch[j]
			gotType := "add"
			if gotChange.Type == freezer.ChangeTypeRemove {
				gotType = "remove"
			}
			if wantChange.Type != gotType || wantChange.Entity != gotChange.EntityID || wantChange.Attribute != gotChange.Attribute {
				return &AssertionError{
					Kind:     fmt.Sprintf("batch[%d].changes[%d]", i, j),
					Expected: fmt.Sprintf("%s %s.%s", wantChange.Type, wantChange.Entity, wantChange.Attribute),
					Actual:   fmt.Sprintf("%s %s.%s", gotType, gotChange.EntityID, gotChange.Attribute),
				}
			}
		}
	}

	return nil
}
