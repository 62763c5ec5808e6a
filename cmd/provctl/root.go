package main

import (
	"github.com/andrej220/provchain/internal/lg"
	"github.com/andrej220/provchain/pkg/config"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

const serviceName = "provctl"

type rootOptions struct {
	configPath string
	debug      bool
	logFormat  string
	fs         afero.Fs
}

func (o *rootOptions) logger() lg.Logger {
	return lg.New(&lg.Config{ServiceName: serviceName, Debug: o.debug, Format: o.logFormat})
}

func (o *rootOptions) settings() (*config.Settings, error) {
	store, err := config.NewStore(config.FileStore, &config.FileConfig{Path: o.configPath, Fs: o.fs})
	if err != nil {
		return nil, err
	}
	return config.LoadSettings(store)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{fs: afero.NewOsFs()}
	cmd := &cobra.Command{
		Use:          serviceName,
		Short:        "Run provisioning chains against remote machines",
		SilenceUsage: true,
	}

	// Persistent flags (available to all commands)
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "settings file")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "console", "json or console")

	cmd.AddCommand(newRunCmd(opts), newValidateCmd(opts))
	return cmd
}
