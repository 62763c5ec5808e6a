package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andrej220/provchain/internal/lg"
	"github.com/andrej220/provchain/internal/persistence"
	"github.com/andrej220/provchain/pkg/chain"
	"github.com/andrej220/provchain/pkg/config"
	"github.com/andrej220/provchain/pkg/executor"
	"github.com/andrej220/provchain/pkg/machine"
	"github.com/andrej220/provchain/pkg/steps"
	"github.com/spf13/cobra"
)

type closingRunner interface {
	executor.Runner
	Close() error
}

var newRunner = func(s *config.Settings, logger lg.Logger) closingRunner {
	return s.NewRunner(logger)
}

// nopRunner stands in when a chain is built but never run.
type nopRunner struct{}

func (nopRunner) Execute(context.Context, *machine.Machine, string, bool) (*executor.Output, error) {
	return nil, fmt.Errorf("nop runner")
}

type runOptions struct {
	machine  string
	buildDir string
	report   string
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	ro := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the plan once against one machine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runPlan(ctx, cmd, opts, ro)
		},
	}
	cmd.Flags().StringVarP(&ro.machine, "machine", "m", "", "machine name from the inventory")
	cmd.Flags().StringVar(&ro.buildDir, "build-dir", "", "override the configured build directory")
	cmd.Flags().StringVar(&ro.report, "report", "", "write the run report as JSON to this file")
	_ = cmd.MarkFlagRequired("machine")
	return cmd
}

func runPlan(ctx context.Context, cmd *cobra.Command, opts *rootOptions, ro *runOptions) error {
	s, err := opts.settings()
	if err != nil {
		return err
	}
	m, err := s.Machines.Lookup(ro.machine)
	if err != nil {
		return err
	}
	buildDir := s.BuildDir
	if ro.buildDir != "" {
		buildDir = ro.buildDir
	}

	logger := opts.logger().With(lg.String("machine", m.Name))
	defer logger.Sync()

	runner := newRunner(s, logger)
	defer runner.Close()

	c, err := s.Plan.Build(steps.NewRegistry(), steps.Deps{Runner: runner, BuildDir: buildDir, Logger: logger},
		chain.WithLogger(logger))
	if err != nil {
		return err
	}

	rep, runErr := c.Run(lg.Attach(ctx, logger), chain.NewEnv(m))

	if ro.report != "" {
		w := persistence.FileWriter{Overwrite: true, Fs: opts.fs}
		if err := persistence.WriteJSONToFile(rep, ro.report, persistence.JSONSerializer{Indent: "    "}, w); err != nil {
			logger.Error("failed to write report", lg.String("path", ro.report), lg.Err(err))
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s on %s: %s", rep.RunID, m.Name, rep.State)
	if rep.Reason != chain.ReasonNone {
		fmt.Fprintf(out, " (%s at step %d)", rep.Reason, rep.HaltedAt+1)
	}
	fmt.Fprintf(out, " in %s\n", rep.Elapsed().Round(time.Millisecond))
	return runErr
}
