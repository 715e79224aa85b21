package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenarioFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	path := writeScenarioFile(t, `
name: single_add
description: "adds one scalar value"
attributes:
  - name: profile/name
    type: string
steps:
  - add:
      attribute: profile/name
      entity: user-1
      value: { kind: string, string: Ada }
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "single_add", scenario.Name)
	assert.Len(t, scenario.Attributes, 1)
	assert.Len(t, scenario.Steps, 1)
	assert.Equal(t, "profile/name", scenario.Steps[0].Add.Attribute)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
}

func TestLoadScenario_MissingName(t *testing.T) {
	path := writeScenarioFile(t, `
steps:
  - add:
      attribute: profile/name
      entity: user-1
      value: { kind: string, string: Ada }
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name is required")
}

func TestLoadScenario_MissingSteps(t *testing.T) {
	path := writeScenarioFile(t, `
name: empty
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "steps list is required")
}

func TestLoadScenario_StepMissingAction(t *testing.T) {
	path := writeScenarioFile(t, `
name: bad_step
steps:
  - {}
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one of add, remove, nested is required")
}

func TestLoadScenario_StepWithTwoActions(t *testing.T) {
	path := writeScenarioFile(t, `
name: bad_step
steps:
  - add:
      attribute: profile/name
      entity: user-1
      value: { kind: string, string: Ada }
    remove:
      attribute: profile/name
      entity: user-1
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one of add, remove, nested is required")
}

func TestLoadScenario_UnknownFieldsRejected(t *testing.T) {
	path := writeScenarioFile(t, `
name: typo
steps:
  - add:
      attribute: profile/name
      entity: user-1
      value: { kind: string, string: Ada }
unexpected_field: value
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
}

func TestLoadScenario_NestedStepWithExpectations(t *testing.T) {
	path := writeScenarioFile(t, `
name: nested
steps:
  - nested:
      fail: true
      steps:
        - add:
            attribute: cart/item
            entity: cart-1
            value: { kind: string, string: widget }
expect_snapshot:
  entity: cart-1
  attributes:
    cart/item:
      absent: true
expect_batches: []
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	require.NotNil(t, scenario.Steps[0].Nested)
	assert.True(t, scenario.Steps[0].Nested.Fail)
	require.NotNil(t, scenario.ExpectSnap)
	assert.Equal(t, "cart-1", scenario.ExpectSnap.Entity)
	assert.True(t, scenario.ExpectSnap.Attributes["cart/item"].Absent)
	require.NotNil(t, scenario.ExpectBatch)
	assert.Len(t, *scenario.ExpectBatch, 0)
}
