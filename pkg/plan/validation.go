package plan

import (
	"fmt"
	"regexp"

	"github.com/andrej220/provchain/pkg/steps"
	"github.com/go-playground/validator/v10"
)

var (
	validate   = validator.New()
	stepNameRe = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
)

func init() {
	_ = validate.RegisterValidation("validStepName", validateStepName)
}

func validateStepName(fl validator.FieldLevel) bool {
	return stepNameRe.MatchString(fl.Field().String())
}

// Validate checks the plan structure, that step names are unique and, when
// reg is not nil, that every step type is registered.
func Validate(p *Plan, reg *steps.Registry) error {
	if p == nil {
		return fmt.Errorf("plan cannot be nil")
	}
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("plan validation failed: %w", err)
	}

	seen := make(map[string]bool, len(p.Steps))
	for i, def := range p.Steps {
		if seen[def.Name] {
			return fmt.Errorf("step %d: duplicate step name %q", i, def.Name)
		}
		seen[def.Name] = true

		if reg != nil && !reg.Has(def.Type) {
			return fmt.Errorf("step %d (%s): unknown step type %q", i, def.Name, def.Type)
		}
	}
	return nil
}
