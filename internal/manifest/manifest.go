// Package manifest builds pipeline definitions from YAML documents.
//
// A manifest declares the input schema and an ordered list of steps that
// operate on a map-shaped state. Expressions are evaluated with expr-lang
// against the current state.
//
//	name: transfer
//	input:
//	  type: object
//	  required: [account, amount]
//	steps:
//	  - name: check limit
//	    fail_if: amount > 1000
//	    reason: limit exceeded
//	  - name: fee
//	    set:
//	      fee: amount / 100
//	  - name: book
//	    exec: INSERT INTO ledger (account, amount) VALUES (?, ?)
//	    args: [account, amount + fee]
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// State is the value threaded through manifest pipelines.
type State = map[string]any

// StepConfig is a single step of a manifest. Exactly one of Set, FailIf and
// Exec must be given.
type StepConfig struct {
	Name         string            `yaml:"name"`
	Description  string            `yaml:"desc,omitempty"`
	When         string            `yaml:"when,omitempty"`
	Set          map[string]string `yaml:"set,omitempty"`
	FailIf       string            `yaml:"fail_if,omitempty"`
	Reason       string            `yaml:"reason,omitempty"`
	Exec         string            `yaml:"exec,omitempty"`
	Args         []string          `yaml:"args,omitempty"`
	AllowFailure []string          `yaml:"allow_failure,omitempty"`
}

// Manifest is a parsed pipeline document.
type Manifest struct {
	Name          string         `yaml:"name"`
	Description   string         `yaml:"description,omitempty"`
	Input         map[string]any `yaml:"input,omitempty"`
	Transactional bool           `yaml:"transactional,omitempty"`
	Steps         []StepConfig   `yaml:"steps"`
}

// Load reads and parses a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return Parse(data)
}

// Parse parses a manifest document.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}

// Validate reports every problem in the manifest, including expressions
// that do not compile. It returns nil for a manifest Build accepts.
func (m *Manifest) Validate() error {
	var errs []error
	if m.Name == "" {
		errs = append(errs, errors.New("manifest: name is required"))
	}
	if len(m.Steps) == 0 {
		errs = append(errs, errors.New("manifest: at least one step is required"))
	}

	seen := make(map[string]bool, len(m.Steps))
	for i, sc := range m.Steps {
		if sc.Name == "" {
			errs = append(errs, fmt.Errorf("step %d: name is required", i))
		} else if seen[sc.Name] {
			errs = append(errs, fmt.Errorf("step %q: duplicate name", sc.Name))
		}
		seen[sc.Name] = true

		if _, err := compileStep(sc); err != nil {
			errs = append(errs, err)
		}
	}

	if m.Input != nil {
		if _, err := m.inputSchema(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// schemaJSON returns the input schema as a JSON document.
func (m *Manifest) schemaJSON() ([]byte, error) {
	src, err := json.Marshal(m.Input)
	if err != nil {
		return nil, fmt.Errorf("manifest %q: input schema: %w", m.Name, err)
	}
	return src, nil
}
