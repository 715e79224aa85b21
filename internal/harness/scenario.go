package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario declares a sequence of attribute definitions and
// transactor steps to run against a fresh store, plus the snapshot
// and change-batch expectations to assert on the result.
type Scenario struct {
	Name        string               `yaml:"name"`
	Description string               `yaml:"description"`
	Attributes  []AttributeDef       `yaml:"attributes"`
	Steps       []Step               `yaml:"steps"`
	ExpectSnap  *SnapshotExpectation `yaml:"expect_snapshot,omitempty"`
	// ExpectBatch is a pointer so an explicit empty list
	// ("expect_batches: []") is distinguishable from the key being
	// absent: a nil ExpectBatch skips batch assertion entirely, a
	// non-nil one (even pointing at a zero-length slice) asserts the
	// exact batch count, including zero.
	ExpectBatch *[]BatchExpectation `yaml:"expect_batches,omitempty"`
}

// LoadScenario reads and strictly parses a scenario YAML file,
// rejecting unknown fields so a typo'd key fails loudly instead of
// silently no-opping.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}

	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	for i, step := range s.Steps {
		set := 0
		if step.Add != nil {
			set++
		}
		if step.Remove != nil {
			set++
		}
		if step.Nested != nil {
			set++
		}
		if set != 1 {
			return fmt.Errorf("steps[%d]: exactly one of add, remove, nested is required", i)
		}
	}
	return nil
}
