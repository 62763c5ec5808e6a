package steps

import (
	"bytes"
	"fmt"
	"sort"
	"text/template"

	"github.com/andrej220/provchain/internal/lg"
	"github.com/andrej220/provchain/pkg/chain"
	"github.com/andrej220/provchain/pkg/executor"
	"github.com/mitchellh/mapstructure"
)

const (
	TypeCheckoutTests = "checkout_tests"
	TypeCommand       = "command"
)

// Deps are handed to every builder. BuildDir is fixed for the lifetime of
// the built steps.
type Deps struct {
	Runner   executor.Runner
	BuildDir string
	Logger   lg.Logger
}

// Builder creates a step named name from its plan parameters.
type Builder func(name string, deps Deps, params map[string]any) (chain.Step, error)

// Registry maps step types to builders.
type Registry struct {
	builders map[string]Builder
}

func NewRegistry() *Registry {
	r := &Registry{builders: make(map[string]Builder)}
	r.registerDefaults()
	return r
}

func (r *Registry) registerDefaults() {
	r.Register(TypeCheckoutTests, buildCheckoutTests)
	r.Register(TypeCommand, buildCommand)
}

func (r *Registry) Register(stepType string, b Builder) {
	r.builders[stepType] = b
}

func (r *Registry) Has(stepType string) bool {
	_, ok := r.builders[stepType]
	return ok
}

func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.builders))
	for t := range r.builders {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func (r *Registry) Build(stepType, name string, deps Deps, params map[string]any) (chain.Step, error) {
	b, ok := r.builders[stepType]
	if !ok {
		return nil, fmt.Errorf("step type %q not registered", stepType)
	}
	step, err := b(name, deps, params)
	if err != nil {
		return nil, fmt.Errorf("build step %q (%s): %w", name, stepType, err)
	}
	return step, nil
}

func buildCheckoutTests(name string, deps Deps, params map[string]any) (chain.Step, error) {
	var opts struct {
		BuildDir string `mapstructure:"build_dir"`
	}
	if err := decode(params, &opts); err != nil {
		return nil, err
	}
	buildDir := deps.BuildDir
	if opts.BuildDir != "" {
		buildDir = opts.BuildDir
	}
	step, err := NewCheckoutTests(deps.Runner, buildDir)
	if err != nil {
		return nil, err
	}
	if name != "" {
		step.name = name
	}
	return step.WithLogger(deps.Logger), nil
}

// commandParams are the "with:" parameters of a command step.
type commandParams struct {
	Command    string `mapstructure:"command"`
	Privileged bool   `mapstructure:"privileged"`
}

func buildCommand(name string, deps Deps, params map[string]any) (chain.Step, error) {
	var opts commandParams
	if err := decode(params, &opts); err != nil {
		return nil, err
	}
	cmd, err := expand(opts.Command, deps)
	if err != nil {
		return nil, err
	}
	step, err := NewRemoteCommand(name, deps.Runner, cmd, opts.Privileged)
	if err != nil {
		return nil, err
	}
	return step.WithLogger(deps.Logger), nil
}

func decode(params map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(params); err != nil {
		return fmt.Errorf("decode params: %w", err)
	}
	return nil
}

// expand renders {{.BuildDir}} once, when the step is built. The build
// directory is spliced into the command unquoted, so it must be a safe path.
func expand(command string, deps Deps) (string, error) {
	if deps.BuildDir != "" {
		if err := executor.CheckPath(deps.BuildDir); err != nil {
			return "", fmt.Errorf("build directory: %w", err)
		}
	}
	tmpl, err := template.New("command").Option("missingkey=error").Parse(command)
	if err != nil {
		return "", fmt.Errorf("parse command template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, struct{ BuildDir string }{deps.BuildDir}); err != nil {
		return "", fmt.Errorf("render command template: %w", err)
	}
	return buf.String(), nil
}
