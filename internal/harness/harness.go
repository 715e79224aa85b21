// Package harness runs declarative transaction scripts against a
// fresh Freezer store and asserts on the resulting snapshot and
// published change batches — the scenario format spec §8's six
// end-to-end scenarios are each encoded in.
package harness

import (
	"context"
	"fmt"

	freezer "github.com/freezerdb/freezer"
	"github.com/freezerdb/freezer/internal/codec"
)

// Result is the outcome of running a Scenario: the resolved snapshot
// requested by the scenario's expectation (if any) and every change
// batch published while the steps ran, in commit order. StepError
// holds the error returned by the deepest-failing step, if any — a
// scenario exercising a forced nested failure (scenario 6's shape)
// expects one here and still wants its post-failure snapshot checked.
type Result struct {
	Snapshot  map[string]freezer.AttributeValue
	Batches   [][]freezer.Change
	StepError error
}

// Run executes scenario's attribute definitions and steps against a
// fresh in-memory store, then collects the resulting snapshot and
// change batches for assertion.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	store, err := freezer.OpenInMemory()
	if err != nil {
		return nil, fmt.Errorf("run %s: open store: %w", scenario.Name, err)
	}
	defer store.Close()

	t := store.Transactor()
	for _, a := range scenario.Attributes {
		kind, ok := codec.ParseKind(a.Type)
		if !ok {
			return nil, fmt.Errorf("run %s: unrecognized attribute type %q", scenario.Name, a.Type)
		}
		if err := t.AddAttribute(ctx, a.Name, kind, a.Collection); err != nil {
			return nil, fmt.Errorf("run %s: add attribute %s: %w", scenario.Name, a.Name, err)
		}
	}

	batches, unsubscribe := store.Changes()
	done := make(chan struct{})
	var collected [][]freezer.Change
	go func() {
		defer close(done)
		for b := range batches {
			collected = append(collected, b)
		}
	}()

	stepErr := runSteps(ctx, store, scenario.Steps)

	result := &Result{StepError: stepErr}
	if scenario.ExpectSnap != nil {
		snap := store.CurrentDatabase()
		attrs, err := snap.Entity(ctx, scenario.ExpectSnap.Entity)
		if err != nil {
			unsubscribe()
			<-done
			return nil, fmt.Errorf("run %s: resolve entity %s: %w", scenario.Name, scenario.ExpectSnap.Entity, err)
		}
		result.Snapshot = attrs
	}

	// Closing the store drains every batch still queued in the change
	// feed to its subscribers before closing their channels, so once
	// done is closed the collector has seen every batch the steps
	// published.
	store.Close()
	<-done
	result.Batches = collected

	return result, nil
}

// runSteps executes steps in order. Each top-level Step that is not
// itself a NestedStep opens its own write transaction (one tx_id per
// step); a NestedStep's sub-steps run inside one outer write
// transaction shared with whatever step invoked it, so scenarios 5
// and 6 (nested write success/failure) get exactly the "one tx_id for
// the whole nested stack" semantics spec §8 scenario 5 requires.
func runSteps(ctx context.Context, store *freezer.Store, steps []Step) error {
	for i, step := range steps {
		if err := runStep(ctx, store, step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	return nil
}

func runStep(ctx context.Context, store *freezer.Store, step Step) error {
	t := store.Transactor()

	switch {
	case step.Add != nil:
		v, err := toValue(step.Add.Value)
		if err != nil {
			return err
		}
		return t.AddValue(ctx, v, step.Add.Attribute, step.Add.Entity)

	case step.Remove != nil:
		values := make([]freezer.Value, 0, len(step.Remove.Values))
		for _, sv := range step.Remove.Values {
			v, err := toValue(sv)
			if err != nil {
				return err
			}
			values = append(values, v)
		}
		return t.RemoveValue(ctx, step.Remove.Attribute, step.Remove.Entity, values...)

	case step.Nested != nil:
		return store.Write(ctx, func(ctx context.Context) error {
			if err := runSteps(ctx, store, step.Nested.Steps); err != nil {
				return err
			}
			if step.Nested.Fail {
				return fmt.Errorf("nested step forced failure")
			}
			return nil
		})

	default:
		return fmt.Errorf("step has no action")
	}
}

func toValue(sv ScalarValue) (freezer.Value, error) {
	switch sv.Kind {
	case "integer":
		return codec.Integer(sv.Integer), nil
	case "double":
		return codec.Double(sv.Double), nil
	case "string":
		return codec.String(sv.String), nil
	case "reference":
		return codec.Reference(sv.Reference), nil
	case "null":
		return codec.Null(), nil
	default:
		return freezer.Value{}, fmt.Errorf("unrecognized scalar kind %q", sv.Kind)
	}
}
