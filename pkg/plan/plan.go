// Package plan describes a chain of provisioning steps as data, so it can
// live in configuration and be turned into a runnable chain.
package plan

import (
	"fmt"
	"os"

	"github.com/andrej220/provchain/pkg/chain"
	"github.com/andrej220/provchain/pkg/steps"
	"gopkg.in/yaml.v3"
)

const CurrentVersion = "v1"

type StepDef struct {
	Name string         `yaml:"name" json:"name" bson:"name" validate:"required,validStepName"`
	Type string         `yaml:"type" json:"type" bson:"type" validate:"required"`
	With map[string]any `yaml:"with,omitempty" json:"with,omitempty" bson:"with,omitempty"`
}

type Plan struct {
	Version string    `yaml:"version" json:"version" bson:"version" validate:"required,eq=v1"`
	Name    string    `yaml:"name" json:"name" bson:"name" validate:"required,validStepName"`
	Steps   []StepDef `yaml:"steps" json:"steps" bson:"steps" validate:"required,min=1,dive"`
}

// Default is the plan used when none is configured: check out the tests.
func Default() *Plan {
	return &Plan{
		Version: CurrentVersion,
		Name:    "checkout-tests",
		Steps: []StepDef{
			{Name: steps.CheckoutTestsName, Type: steps.TypeCheckoutTests},
		},
	}
}

// Parse reads a plan from YAML (or JSON, which is valid YAML).
func Parse(data []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}
	return &p, nil
}

func Load(filePath string) (*Plan, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}
	return Parse(data)
}

// Build validates the plan against reg and assembles the chain.
func (p *Plan) Build(reg *steps.Registry, deps steps.Deps, opts ...chain.Option) (*chain.Chain, error) {
	if err := Validate(p, reg); err != nil {
		return nil, err
	}
	c := chain.New(p.Name, opts...)
	for _, def := range p.Steps {
		step, err := reg.Build(def.Type, def.Name, deps, def.With)
		if err != nil {
			return nil, err
		}
		c.Append(step)
	}
	return c, nil
}
