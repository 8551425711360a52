// Package scenario defines the step-definition tree a run executes and the
// YAML documents it is loaded from.
package scenario

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/NathanRodet/chutney/pkg/action"
	"github.com/NathanRodet/chutney/pkg/report"
)

// Scenario is the top-level YAML document: a named given/when/then tree
// plus the variables the run starts with.
type Scenario struct {
	Title       string            `yaml:"title"                 json:"title"                 jsonschema:"required"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Context     map[string]any    `yaml:"context,omitempty"     json:"context,omitempty"`
	Parallel    bool              `yaml:"parallel,omitempty"    json:"parallel,omitempty"`
	Given       []*StepDefinition `yaml:"given,omitempty"       json:"given,omitempty"`
	When        *StepDefinition   `yaml:"when"                  json:"when"                  jsonschema:"required"`
	Then        []*StepDefinition `yaml:"then,omitempty"        json:"then,omitempty"`
}

// Root returns the composite step the scenario runs as.
func (s *Scenario) Root() *StepDefinition {
	return &StepDefinition{
		Name:     s.Title,
		Parallel: s.Parallel,
		Given:    s.Given,
		When:     s.When,
		Then:     s.Then,
	}
}

// StepDefinition is one node of the tree. A leaf names an action type; a
// composite has no type and groups given/when/then children.
// Definitions are built once and never mutated by a run.
type StepDefinition struct {
	Name        string            `yaml:"name"                  json:"name"                  jsonschema:"required"`
	Type        string            `yaml:"type,omitempty"        json:"type,omitempty"`
	Target      *action.Target    `yaml:"target,omitempty"      json:"target,omitempty"`
	Inputs      Params            `yaml:"inputs,omitempty"      json:"inputs,omitempty"`
	Strategy    *Strategy         `yaml:"strategy,omitempty"    json:"strategy,omitempty"`
	Outputs     Params            `yaml:"outputs,omitempty"     json:"outputs,omitempty"`
	Validations Params            `yaml:"validations,omitempty" json:"validations,omitempty"`
	Parallel    bool              `yaml:"parallel,omitempty"    json:"parallel,omitempty"`
	Given       []*StepDefinition `yaml:"given,omitempty"       json:"given,omitempty"`
	When        *StepDefinition   `yaml:"when,omitempty"        json:"when,omitempty"`
	Then        []*StepDefinition `yaml:"then,omitempty"        json:"then,omitempty"`
}

// Strategy selects the retry policy wrapping a step.
type Strategy struct {
	Type       string            `yaml:"type"                 json:"type"                 jsonschema:"required,enum=default,enum=retry-with-timeout"`
	Parameters map[string]string `yaml:"parameters,omitempty" json:"parameters,omitempty"`
}

// IsComposite reports whether the step groups children instead of running an action.
func (s *StepDefinition) IsComposite() bool {
	return s.Type == "" && (len(s.Given) > 0 || s.When != nil || len(s.Then) > 0)
}

// Children returns the children in execution order: given, when, then.
// Report children use the same order.
func (s *StepDefinition) Children() []*StepDefinition {
	out := make([]*StepDefinition, 0, len(s.Given)+len(s.Then)+1)
	out = append(out, s.Given...)
	if s.When != nil {
		out = append(out, s.When)
	}
	return append(out, s.Then...)
}

// StrategyName returns the declared strategy type, empty for default.
func (s *StepDefinition) StrategyName() string {
	if s.Strategy == nil {
		return ""
	}
	return s.Strategy.Type
}

// Walk visits the step and its descendants depth-first with their report paths.
func (s *StepDefinition) Walk(fn func(path string, step *StepDefinition)) {
	walk(report.RootPath, s, fn)
}

func walk(path string, s *StepDefinition, fn func(string, *StepDefinition)) {
	if s == nil {
		return
	}
	fn(path, s)
	for i, c := range s.Children() {
		walk(report.ChildPath(path, i), c, fn)
	}
}

// Count returns the number of steps in the tree.
func (s *StepDefinition) Count() int {
	n := 0
	s.Walk(func(string, *StepDefinition) { n++ })
	return n
}

// LoadFile reads and parses a scenario YAML file with strict unknown-field
// rejection (yaml.v3 KnownFields).
func LoadFile(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open scenario: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses a scenario from an io.Reader with strict unknown-field rejection.
// JSON documents are accepted too.
func Load(r io.Reader) (*Scenario, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var s Scenario
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	return &s, nil
}
