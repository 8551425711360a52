package scenario

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/NathanRodet/chutney/pkg/strategy"
)

// ValidationError represents a single validation error with location context.
type ValidationError struct {
	Phase    string `json:"phase"`    // structural, semantic, domain
	Path     string `json:"path"`     // location, e.g. "when.given[0].inputs"
	Message  string `json:"message"`
	Severity string `json:"severity"` // error, warning
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Phase, e.Path, e.Message)
}

// HasErrors reports whether any entry has error severity.
func HasErrors(errs []*ValidationError) bool {
	return slices.ContainsFunc(errs, func(e *ValidationError) bool { return e.Severity == "error" })
}

// ValidateFile performs the full 3-phase validation pipeline on a scenario file.
// Phase 1: Structural (strict YAML decode)
// Phase 2: Semantic (JSON Schema validation)
// Phase 3: Domain (tree shape, strategies, known action types)
// actionTypes may be nil to skip the action type check.
func ValidateFile(path string, actionTypes []string) (*Scenario, []*ValidationError) {
	s, err := LoadFile(path)
	if err != nil {
		return nil, []*ValidationError{{
			Phase:    "structural",
			Message:  err.Error(),
			Severity: "error",
		}}
	}
	return s, Validate(s, actionTypes)
}

// Validate runs the semantic and domain phases on a loaded scenario.
func Validate(s *Scenario, actionTypes []string) []*ValidationError {
	errs := validateSemantic(s)
	return append(errs, ValidateDomain(s, actionTypes)...)
}

// validateSemantic validates the scenario against the generated JSON Schema.
func validateSemantic(s *Scenario) []*ValidationError {
	semantic := func(format string, args ...any) []*ValidationError {
		return []*ValidationError{{
			Phase:    "semantic",
			Message:  fmt.Sprintf(format, args...),
			Severity: "error",
		}}
	}

	data, err := json.Marshal(s)
	if err != nil {
		return semantic("marshal for schema validation: %v", err)
	}
	schemaJSON, err := GenerateJSONSchema()
	if err != nil {
		return semantic("generate schema: %v", err)
	}
	schemaDoc, err := sjsonschema.UnmarshalJSON(strings.NewReader(string(schemaJSON)))
	if err != nil {
		return semantic("unmarshal schema: %v", err)
	}

	c := sjsonschema.NewCompiler()
	if err := c.AddResource("scenario-v1.json", schemaDoc); err != nil {
		return semantic("add schema resource: %v", err)
	}
	sch, err := c.Compile("scenario-v1.json")
	if err != nil {
		return semantic("compile schema: %v", err)
	}

	doc, err := sjsonschema.UnmarshalJSON(strings.NewReader(string(data)))
	if err != nil {
		return semantic("unmarshal document: %v", err)
	}

	if err := sch.Validate(doc); err != nil {
		ve, ok := err.(*sjsonschema.ValidationError)
		if !ok {
			return semantic("%v", err)
		}
		var errs []*ValidationError
		for _, cause := range flattenValidationErrors(ve) {
			errs = append(errs, &ValidationError{
				Phase:    "semantic",
				Path:     strings.Join(cause.InstanceLocation, "/"),
				Message:  fmt.Sprintf("%v", cause.ErrorKind),
				Severity: "error",
			})
		}
		return errs
	}
	return nil
}

// flattenValidationErrors recursively collects all leaf validation errors.
func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}

// ValidateDomain checks rules the schema cannot express.
// Unknown action types are warnings: they fail only their own step at run time.
func ValidateDomain(s *Scenario, actionTypes []string) []*ValidationError {
	var errs []*ValidationError
	add := func(path, severity, format string, args ...any) {
		errs = append(errs, &ValidationError{
			Phase:    "domain",
			Path:     path,
			Message:  fmt.Sprintf(format, args...),
			Severity: severity,
		})
	}

	if s.When == nil {
		add("when", "error", "a scenario needs a when step")
	}

	var visit func(path string, st *StepDefinition)
	visit = func(path string, st *StepDefinition) {
		if st == nil {
			add(path, "error", "empty step")
			return
		}
		if strings.TrimSpace(st.Name) == "" {
			add(path+".name", "error", "step name is required")
		}
		hasChildren := len(st.Given) > 0 || st.When != nil || len(st.Then) > 0
		switch {
		case st.Type != "" && hasChildren:
			add(path, "error", "step %q has a type and children; a step is either a leaf or a composite", st.Name)
		case st.Type == "" && !hasChildren:
			add(path, "error", "step %q has neither a type nor children", st.Name)
		case st.Type != "" && actionTypes != nil && !slices.Contains(actionTypes, st.Type):
			add(path+".type", "warning", "unknown action type %q", st.Type)
		}
		if st.Parallel && st.Type != "" {
			add(path+".parallel", "error", "parallel only applies to composite steps")
		}
		if st.Strategy != nil {
			if _, err := strategy.New(st.Strategy.Type, st.Strategy.Parameters, strategy.DefaultOptions()); err != nil {
				add(path+".strategy", "error", "%v", err)
			}
		}
		for _, name := range duplicates(st.Outputs) {
			add(path+".outputs", "warning", "output %q is declared more than once", name)
		}

		for i, c := range st.Given {
			visit(fmt.Sprintf("%s.given[%d]", path, i), c)
		}
		if st.When != nil {
			visit(path+".when", st.When)
		}
		for i, c := range st.Then {
			visit(fmt.Sprintf("%s.then[%d]", path, i), c)
		}
	}

	for i, c := range s.Given {
		visit(fmt.Sprintf("given[%d]", i), c)
	}
	if s.When != nil {
		visit("when", s.When)
	}
	for i, c := range s.Then {
		visit(fmt.Sprintf("then[%d]", i), c)
	}
	return errs
}

func duplicates(p Params) []string {
	seen := make(map[string]bool, len(p))
	var dups []string
	for _, kv := range p {
		if seen[kv.Name] {
			dups = append(dups, kv.Name)
		}
		seen[kv.Name] = true
	}
	return dups
}
