package harness

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is a declarative end-to-end flow against a fresh engine.
//
// Setup steps prepare the managed tree; flow steps are the behavior under
// test (each may expect a typed failure); assertions check the final state.
type Scenario struct {
	Name       string      `yaml:"name"`
	Setup      []Step      `yaml:"setup,omitempty"`
	Flow       []Step      `yaml:"flow"`
	Assertions []Assertion `yaml:"assert,omitempty"`
}

// Step is one engine invocation.
type Step struct {
	// Op selects the operation: create, delete, modify, move, copy,
	// chmod, mkdir, rmdir, symlink, append, truncate, touch, undo,
	// begin, commit, rollback, obliterate.
	Op string `yaml:"op"`

	Path      string `yaml:"path,omitempty"`
	Secondary string `yaml:"secondary,omitempty"`
	Content   string `yaml:"content,omitempty"`
	Size      int64  `yaml:"size,omitempty"`
	Mode      uint32 `yaml:"mode,omitempty"`
	Recursive bool   `yaml:"recursive,omitempty"`
	Parents   bool   `yaml:"parents,omitempty"`
	Create    bool   `yaml:"create,omitempty"`
	Name      string `yaml:"name,omitempty"`

	// Reason and LegalBasis apply to obliterate steps.
	Reason     string `yaml:"reason,omitempty"`
	LegalBasis string `yaml:"legal_basis,omitempty"`

	// ExpectError names the error code this step must fail with. Empty
	// means the step must succeed.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Assertion checks one property of the final state.
type Assertion struct {
	// Kind selects the check: content, absent, exists, stored,
	// not_stored, store_count, history_undone, audit_count, proof_valid.
	Kind string `yaml:"kind"`

	Path    string `yaml:"path,omitempty"`
	Content string `yaml:"content,omitempty"` // content to hash for store checks
	Equals  string `yaml:"equals,omitempty"`  // expected file content
	Count   int    `yaml:"count,omitempty"`
}

// LoadScenario reads a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load scenario %s: %w", path, err)
	}
	var s Scenario
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if s.Name == "" {
		return nil, fmt.Errorf("scenario %s: missing name", path)
	}
	return &s, nil
}
