// Package steps holds the provisioning steps that can be placed in a chain.
package steps

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/andrej220/provchain/internal/lg"
	"github.com/andrej220/provchain/pkg/chain"
	"github.com/andrej220/provchain/pkg/executor"
)

const CheckoutTestsName = "checkout_tests"

var ErrNoBuildDir = errors.New("build directory must not be empty")

// RemoteCommand runs one fixed shell command on the environment's machine and
// continues the chain only when the command succeeded.
type RemoteCommand struct {
	name       string
	runner     executor.Runner
	command    string
	privileged bool
	logger     lg.Logger
}

var _ chain.Step = (*RemoteCommand)(nil)

func NewRemoteCommand(name string, runner executor.Runner, command string, privileged bool) (*RemoteCommand, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("step name must not be empty")
	}
	if runner == nil {
		return nil, fmt.Errorf("step %q: runner must not be nil", name)
	}
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("step %q: %w", name, executor.ErrEmptyCommand)
	}
	return &RemoteCommand{
		name:       name,
		runner:     runner,
		command:    command,
		privileged: privileged,
		logger:     lg.Discard,
	}, nil
}

// NewCheckoutTests builds the step that checks out the test sources on the
// machine: "cd <buildDir>/builder; rake checkout_tests", run with sudo.
// buildDir must pass executor.CheckPath.
func NewCheckoutTests(runner executor.Runner, buildDir string) (*RemoteCommand, error) {
	if strings.TrimSpace(buildDir) == "" {
		return nil, ErrNoBuildDir
	}
	if err := executor.CheckPath(buildDir); err != nil {
		return nil, fmt.Errorf("build directory: %w", err)
	}
	cmd := fmt.Sprintf("cd %s; rake checkout_tests", path.Join(buildDir, "builder"))
	return NewRemoteCommand(CheckoutTestsName, runner, cmd, true)
}

func (s *RemoteCommand) WithLogger(l lg.Logger) *RemoteCommand {
	s.logger = lg.OrDiscard(l)
	return s
}

func (s *RemoteCommand) Name() string     { return s.name }
func (s *RemoteCommand) Command() string  { return s.command }
func (s *RemoteCommand) Privileged() bool { return s.privileged }

// OutputKey is the environment key the step's output is stored under.
func (s *RemoteCommand) OutputKey() string { return s.name + ".output" }

func (s *RemoteCommand) Run(ctx context.Context, env *chain.Env, next chain.Next) error {
	m, err := env.Machine()
	if err != nil {
		return err
	}
	s.logger.Info("running remote command", lg.String("step", s.name), lg.String("machine", m.Name), lg.Bool("privileged", s.privileged))

	out, err := s.runner.Execute(ctx, m, s.command, s.privileged)
	if err != nil {
		return err
	}
	env.Set(s.OutputKey(), out)
	return next(ctx, env)
}
