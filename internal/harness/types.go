package harness

// AttributeDef declares one attribute to register before a scenario's
// steps run.
type AttributeDef struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Collection bool   `yaml:"collection,omitempty"`
}

// ScalarValue is the YAML-facing form of a codec.Value: exactly one
// of the typed fields is populated, selected by Kind.
type ScalarValue struct {
	Kind      string  `yaml:"kind"`
	Integer   int64   `yaml:"integer,omitempty"`
	Double    float64 `yaml:"double,omitempty"`
	String    string  `yaml:"string,omitempty"`
	Reference string  `yaml:"reference,omitempty"`
}

// Step is one mutation in a scenario's flow. Exactly one of Add,
// Remove, or Nested is set.
type Step struct {
	Add    *AddStep    `yaml:"add,omitempty"`
	Remove *RemoveStep `yaml:"remove,omitempty"`
	Nested *NestedStep `yaml:"nested,omitempty"`
}

// AddStep calls Transactor.AddValue.
type AddStep struct {
	Value     ScalarValue `yaml:"value"`
	Attribute string      `yaml:"attribute"`
	Entity    string      `yaml:"entity"`
}

// RemoveStep calls Transactor.RemoveValue.
type RemoveStep struct {
	Attribute string        `yaml:"attribute"`
	Entity    string        `yaml:"entity"`
	Values    []ScalarValue `yaml:"values,omitempty"`
}

// NestedStep opens a write transaction containing its own sub-steps,
// used to express scenarios 5 and 6 (nested write success/failure).
type NestedStep struct {
	Steps []Step `yaml:"steps"`
	Fail  bool   `yaml:"fail,omitempty"`
}

// ExpectAttribute is the expected resolved form of one attribute on
// the snapshot a scenario asserts against.
type ExpectAttribute struct {
	Collection bool          `yaml:"collection,omitempty"`
	Values     []ScalarValue `yaml:"values,omitempty"`
	Absent     bool          `yaml:"absent,omitempty"`
}

// SnapshotExpectation asserts on one entity's resolved attributes at
// the snapshot produced by running a scenario's steps.
type SnapshotExpectation struct {
	Entity     string                     `yaml:"entity"`
	Attributes map[string]ExpectAttribute `yaml:"attributes"`
}

// ChangeExpectation asserts on one change record within a batch.
type ChangeExpectation struct {
	Type      string `yaml:"type"`
	Entity    string `yaml:"entity"`
	Attribute string `yaml:"attribute"`
}

// BatchExpectation asserts on one commit's published change batch.
type BatchExpectation struct {
	Changes []ChangeExpectation `yaml:"changes"`
}
