package main

import (
	"fmt"

	"github.com/andrej220/provchain/pkg/steps"
	"github.com/spf13/cobra"
)

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the settings and the plan without connecting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.settings()
			if err != nil {
				return err
			}
			// steps need a runner to be built; nothing is executed here
			c, err := s.Plan.Build(steps.NewRegistry(), steps.Deps{Runner: nopRunner{}, BuildDir: s.BuildDir})
			if err != nil {
				return fmt.Errorf("invalid plan: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "plan %q: %d step(s)\n", c.Name(), c.Len())
			for i, name := range c.StepNames() {
				fmt.Fprintf(out, "  %d. %s\n", i+1, name)
			}
			fmt.Fprintf(out, "%d machine(s)\n", len(s.Machines))
			return nil
		},
	}
}
