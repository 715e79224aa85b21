package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenarioFixtures runs every scenario under testdata against a
// fresh store and checks it against its own expectations. These six
// fixtures are the end-to-end scenarios: attribute + single write,
// overwrite, remove, collection accumulation, and nested write
// success/failure.
func TestScenarioFixtures(t *testing.T) {
	names := []string{
		"01_attribute_single_write.yaml",
		"02_overwrite.yaml",
		"03_remove.yaml",
		"04_collection_accumulation.yaml",
		"05_nested_write_success.yaml",
		"06_nested_write_failure.yaml",
	}

	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(filepath.Join("testdata", name))
			require.NoError(t, err)

			result, err := Run(scenario)
			require.NoError(t, err)
			require.NotNil(t, result)

			errs := AssertExpectations(scenario, result)
			assert.Empty(t, errs)
		})
	}
}
