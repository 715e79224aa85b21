package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"

	freezer "github.com/freezerdb/freezer"
	"github.com/freezerdb/freezer/internal/codec"
)

func TestAssertExpectations_SnapshotValueMismatch(t *testing.T) {
	scenario := &Scenario{
		ExpectSnap: &SnapshotExpectation{
			Entity: "alice",
			Attributes: map[string]ExpectAttribute{
				"age": {Values: []ScalarValue{{Kind: "integer", Integer: 42}}},
			},
		},
	}
	result := &Result{
		Snapshot: map[string]freezer.AttributeValue{
			"age": {Values: []freezer.Value{codec.Integer(43)}},
		},
	}

	errs := AssertExpectations(scenario, result)
	assert.Len(t, errs, 1)
	assert.Contains(t, errs[0], "snapshot attribute values")
}

func TestAssertExpectations_SnapshotAttributeUnexpectedlyPresent(t *testing.T) {
	scenario := &Scenario{
		ExpectSnap: &SnapshotExpectation{
			Entity: "alice",
			Attributes: map[string]ExpectAttribute{
				"age": {Absent: true},
			},
		},
	}
	result := &Result{
		Snapshot: map[string]freezer.AttributeValue{
			"age": {Values: []freezer.Value{codec.Integer(42)}},
		},
	}

	errs := AssertExpectations(scenario, result)
	assert.Len(t, errs, 1)
	assert.Contains(t, errs[0], "absent")
}

func TestAssertExpectations_CollectionSetMatchIgnoresOrder(t *testing.T) {
	scenario := &Scenario{
		ExpectSnap: &SnapshotExpectation{
			Entity: "x",
			Attributes: map[string]ExpectAttribute{
				"tags": {
					Collection: true,
					Values: []ScalarValue{
						{Kind: "string", String: "b"},
						{Kind: "string", String: "a"},
					},
				},
			},
		},
	}
	result := &Result{
		Snapshot: map[string]freezer.AttributeValue{
			"tags": {
				Collection: true,
				Values:     []freezer.Value{codec.String("a"), codec.String("b")},
			},
		},
	}

	errs := AssertExpectations(scenario, result)
	assert.Empty(t, errs)
}

func TestAssertExpectations_BatchCountMismatch(t *testing.T) {
	expect := []BatchExpectation{
		{Changes: []ChangeExpectation{{Type: "add", Entity: "alice", Attribute: "age"}}},
	}
	scenario := &Scenario{ExpectBatch: &expect}
	result := &Result{Batches: [][]freezer.Change{}}

	errs := AssertExpectations(scenario, result)
	assert.Len(t, errs, 1)
	assert.Contains(t, errs[0], "batch count")
}

func TestAssertExpectations_BatchMatches(t *testing.T) {
	expect := []BatchExpectation{
		{Changes: []ChangeExpectation{{Type: "add", Entity: "alice", Attribute: "age"}}},
	}
	scenario := &Scenario{ExpectBatch: &expect}
	result := &Result{
		Batches: [][]freezer.Change{
			{{Type: freezer.ChangeTypeAdd, EntityID: "alice", Attribute: "age"}},
		},
	}

	errs := AssertExpectations(scenario, result)
	assert.Empty(t, errs)
}

func TestAssertExpectations_ExplicitEmptyBatchExpectationCatchesUnexpectedBatch(t *testing.T) {
	expect := []BatchExpectation{}
	scenario := &Scenario{ExpectBatch: &expect}
	result := &Result{
		Batches: [][]freezer.Change{
			{{Type: freezer.ChangeTypeAdd, EntityID: "alice", Attribute: "age"}},
		},
	}

	errs := AssertExpectations(scenario, result)
	assert.Len(t, errs, 1)
	assert.Contains(t, errs[0], "batch count")
}
