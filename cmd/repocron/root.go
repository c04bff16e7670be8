package main

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"repocron/internal/app"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "repocron",
		Short:         "Scheduled analyses over repository issues, pull requests and code",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "./config.json", "path to config (json or yaml)")

	cmd.AddCommand(
		newServeCmd(opts),
		newTriggerCmd(opts),
		newRecoverCmd(opts),
		newJobCmd(opts),
		newMetaCmd(opts),
		newNextRunCmd(),
		newFilterCmd(),
	)
	return cmd
}

// withApp builds the app for a one-shot command and releases it afterwards.
func withApp(opts *rootOptions, fn func(a *app.App) error) error {
	a, err := app.New(opts.configPath)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	return fn(a)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
