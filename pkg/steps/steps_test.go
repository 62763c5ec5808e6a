package steps

import (
	"context"
	"errors"
	"testing"

	"github.com/andrej220/provchain/pkg/chain"
	"github.com/andrej220/provchain/pkg/executor"
	"github.com/andrej220/provchain/pkg/machine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Execute(ctx context.Context, mc *machine.Machine, command string, privileged bool) (*executor.Output, error) {
	args := m.Called(ctx, mc, command, privileged)
	out, _ := args.Get(0).(*executor.Output)
	return out, args.Error(1)
}

var machineM = &machine.Machine{Name: "M", Host: "10.0.0.5", User: "vagrant"}

func TestCheckoutTestsCommand(t *testing.T) {
	runner := &MockRunner{}
	runner.On("Execute", mock.Anything, machineM, "cd /opt/build/builder; rake checkout_tests", true).
		Return(&executor.Output{}, nil).Once()

	step, err := NewCheckoutTests(runner, "/opt/build")
	require.NoError(t, err)

	rep, err := chain.New("provision").Append(step).Run(context.Background(), chain.NewEnv(machineM))
	require.NoError(t, err)
	assert.Equal(t, chain.StateCompleted, rep.State)
	runner.AssertExpectations(t)
	runner.AssertNumberOfCalls(t, "Execute", 1)
}

func TestCheckoutTestsBuildDirVariants(t *testing.T) {
	runner := &MockRunner{}
	tests := []struct {
		buildDir string
		want     string
	}{
		{"/opt/build", "cd /opt/build/builder; rake checkout_tests"},
		{"/opt/build/", "cd /opt/build/builder; rake checkout_tests"},
		{"/data/src/github.com/openshift", "cd /data/src/github.com/openshift/builder; rake checkout_tests"},
	}
	for _, tt := range tests {
		step, err := NewCheckoutTests(runner, tt.buildDir)
		require.NoError(t, err)
		assert.Equal(t, tt.want, step.Command())
		assert.True(t, step.Privileged())
		assert.Equal(t, CheckoutTestsName, step.Name())
	}

	_, err := NewCheckoutTests(runner, "  ")
	assert.ErrorIs(t, err, ErrNoBuildDir)
}

func TestCheckoutTestsFailureDoesNotForward(t *testing.T) {
	runner := &MockRunner{}
	rakeErr := executor.NonZeroExit(1, "rake aborted!")
	runner.On("Execute", mock.Anything, machineM, mock.Anything, true).Return(nil, rakeErr)

	step, err := NewCheckoutTests(runner, "/opt/build")
	require.NoError(t, err)

	nextCalls := 0
	next := func(ctx context.Context, env *chain.Env) error {
		nextCalls++
		return nil
	}
	err = step.Run(context.Background(), chain.NewEnv(machineM), next)
	assert.Same(t, rakeErr, err)
	assert.Zero(t, nextCalls)

	var execErr *executor.ExecError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, 1, execErr.Status)
	assert.Equal(t, "rake aborted!", execErr.Stderr)
}

func TestCheckoutTestsFailureThroughChain(t *testing.T) {
	runner := &MockRunner{}
	rakeErr := executor.NonZeroExit(1, "rake aborted!")
	runner.On("Execute", mock.Anything, machineM, mock.Anything, true).Return(nil, rakeErr)

	step, err := NewCheckoutTests(runner, "/opt/build")
	require.NoError(t, err)
	tailRan := false
	tail := chain.StepFunc{StepName: "tail", Fn: func(ctx context.Context, env *chain.Env, next chain.Next) error {
		tailRan = true
		return next(ctx, env)
	}}

	rep, err := chain.New("provision").Append(step, tail).Run(context.Background(), chain.NewEnv(machineM))
	assert.ErrorIs(t, err, executor.ErrNonZeroExit)
	assert.Same(t, rakeErr, err)
	assert.False(t, tailRan)
	assert.Equal(t, chain.ReasonError, rep.Reason)
}

func TestCheckoutTestsSuccessForwardsSameEnv(t *testing.T) {
	runner := &MockRunner{}
	out := &executor.Output{Stdout: []string{"checked out"}}
	runner.On("Execute", mock.Anything, machineM, mock.Anything, true).Return(out, nil)

	step, err := NewCheckoutTests(runner, "/opt/build")
	require.NoError(t, err)

	env := chain.NewEnv(machineM)
	var got []*chain.Env
	next := func(ctx context.Context, e *chain.Env) error {
		got = append(got, e)
		return nil
	}
	require.NoError(t, step.Run(context.Background(), env, next))
	require.Len(t, got, 1)
	assert.Same(t, env, got[0])

	stored, ok := env.Get(step.OutputKey())
	require.True(t, ok)
	assert.Same(t, out, stored)
}

func TestRemoteCommandWithoutMachine(t *testing.T) {
	runner := &MockRunner{}
	step, err := NewRemoteCommand("uptime", runner, "uptime", false)
	require.NoError(t, err)

	err = step.Run(context.Background(), chain.NewEnv(nil), func(context.Context, *chain.Env) error { return nil })
	assert.ErrorIs(t, err, chain.ErrNoMachine)
	runner.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestNewRemoteCommandValidation(t *testing.T) {
	runner := &MockRunner{}
	_, err := NewRemoteCommand("", runner, "true", false)
	assert.Error(t, err)
	_, err = NewRemoteCommand("x", nil, "true", false)
	assert.Error(t, err)
	_, err = NewRemoteCommand("x", runner, "", false)
	assert.ErrorIs(t, err, executor.ErrEmptyCommand)
}

func TestRegistryBuild(t *testing.T) {
	runner := &MockRunner{}
	reg := NewRegistry()
	deps := Deps{Runner: runner, BuildDir: "/opt/build"}

	assert.Equal(t, []string{TypeCheckoutTests, TypeCommand}, reg.Types())

	s, err := reg.Build(TypeCheckoutTests, "", deps, nil)
	require.NoError(t, err)
	assert.Equal(t, "cd /opt/build/builder; rake checkout_tests", s.(*RemoteCommand).Command())
	assert.Equal(t, CheckoutTestsName, s.Name())

	s, err = reg.Build(TypeCheckoutTests, "checkout_other", deps, map[string]any{"build_dir": "/srv"})
	require.NoError(t, err)
	assert.Equal(t, "cd /srv/builder; rake checkout_tests", s.(*RemoteCommand).Command())
	assert.Equal(t, "checkout_other", s.Name())

	s, err = reg.Build(TypeCommand, "build_origin", deps, map[string]any{
		"command":    "cd {{.BuildDir}}/origin; make",
		"privileged": "true",
	})
	require.NoError(t, err)
	rc := s.(*RemoteCommand)
	assert.Equal(t, "cd /opt/build/origin; make", rc.Command())
	assert.True(t, rc.Privileged())
}

func TestRegistryBuildErrors(t *testing.T) {
	reg := NewRegistry()
	deps := Deps{Runner: &MockRunner{}, BuildDir: "/opt/build"}

	_, err := reg.Build("nope", "x", deps, nil)
	assert.Error(t, err)

	_, err = reg.Build(TypeCommand, "x", deps, map[string]any{"command": "ls", "bogus": 1})
	assert.Error(t, err, "unknown parameters are rejected")

	_, err = reg.Build(TypeCommand, "x", deps, map[string]any{"command": "{{.Nope}}"})
	assert.Error(t, err)

	_, err = reg.Build(TypeCommand, "x", deps, nil)
	assert.ErrorIs(t, err, executor.ErrEmptyCommand)

	_, err = reg.Build(TypeCheckoutTests, "x", Deps{Runner: &MockRunner{}}, nil)
	assert.ErrorIs(t, err, ErrNoBuildDir)
}

func TestCheckoutTestsRejectsShellInBuildDir(t *testing.T) {
	runner := &MockRunner{}
	for _, dir := range []string{
		"/tmp; touch /pwned #",
		"/opt/build && reboot",
		"/opt/$(id)",
		"/opt/build\nid",
		"/opt/my build",
	} {
		_, err := NewCheckoutTests(runner, dir)
		assert.ErrorIs(t, err, executor.ErrUnsafePath, dir)

		_, err = NewRegistry().Build(TypeCommand, "x", Deps{Runner: runner, BuildDir: dir},
			map[string]any{"command": "cd {{.BuildDir}}; make"})
		assert.ErrorIs(t, err, executor.ErrUnsafePath, dir)
	}
	runner.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
