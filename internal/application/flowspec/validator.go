package flowspec

import (
	"fmt"

	"github.com/aescanero/flowdeploy/pkg/domain"
)

// Validator validates flow definitions
type Validator struct{}

// NewValidator creates a new flow validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate validates a flow definition
func (v *Validator) Validate(f *Flow) error {
	if f == nil {
		return fmt.Errorf("flow is nil")
	}

	if f.Name == "" {
		return fmt.Errorf("flow name is required")
	}

	if len(f.Steps) == 0 {
		return fmt.Errorf("flow must have at least one step")
	}

	steps := make(map[string]Step, len(f.Steps))
	for _, s := range f.Steps {
		if s.Name == "" {
			return fmt.Errorf("step name is required")
		}
		if _, exists := steps[s.Name]; exists {
			return fmt.Errorf("duplicate step: %s", s.Name)
		}
		steps[s.Name] = s
	}

	if _, exists := steps[StartStep]; !exists {
		return fmt.Errorf("flow %s has no %s step", f.Name, StartStep)
	}
	if end, exists := steps[EndStep]; !exists {
		return fmt.Errorf("flow %s has no %s step", f.Name, EndStep)
	} else if len(end.Next) > 0 {
		return fmt.Errorf("step %s must not have successors", EndStep)
	}

	// Validate edges
	for _, s := range f.Steps {
		if s.Name != EndStep && len(s.Next) == 0 {
			return fmt.Errorf("step %s has no successor", s.Name)
		}
		for _, next := range s.Next {
			if _, exists := steps[next]; !exists {
				return fmt.Errorf("step %s references non-existent step: %s", s.Name, next)
			}
		}
	}

	if err := v.checkCycles(steps); err != nil {
		return err
	}

	names := make(map[string]bool, len(f.Parameters))
	for _, p := range f.Parameters {
		if err := v.validateParameter(p); err != nil {
			return fmt.Errorf("invalid parameter %s: %w", p.Name, err)
		}
		if names[p.Name] {
			return fmt.Errorf("duplicate parameter: %s", p.Name)
		}
		names[p.Name] = true
	}

	return nil
}

// checkCycles walks the graph depth first from every step
func (v *Validator) checkCycles(steps map[string]Step) error {
	const (
		unvisited = iota
		visiting
		visited
	)
	state := make(map[string]int, len(steps))

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case visiting:
			return fmt.Errorf("cycle detected at step %s", name)
		case visited:
			return nil
		}
		state[name] = visiting
		for _, next := range steps[name].Next {
			if err := visit(next); err != nil {
				return err
			}
		}
		state[name] = visited
		return nil
	}

	for name := range steps {
		if err := visit(name); err != nil {
			return err
		}
	}
	return nil
}

// validateParameter validates a single parameter
func (v *Validator) validateParameter(p domain.Parameter) error {
	if p.Name == "" {
		return fmt.Errorf("parameter name is required")
	}

	switch p.Type {
	case "", domain.ParamTypeString, domain.ParamTypeInt, domain.ParamTypeFloat,
		domain.ParamTypeBool, domain.ParamTypeJSON, domain.ParamTypeFilePath:
		return nil
	default:
		return fmt.Errorf("unsupported parameter type %q", p.Type)
	}
}
