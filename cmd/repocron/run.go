package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"repocron/internal/app"
	"repocron/internal/domain"
	"repocron/internal/storage"
	"repocron/internal/task/scheduler"
)

func newTriggerCmd(opts *rootOptions) *cobra.Command {
	var repoID string
	cmd := &cobra.Command{
		Use:   "trigger <job-id>",
		Short: "Run a job now",
		Long: "Run a job now. With a daemon serving the same storage dir the run is " +
			"started by the daemon and the started run is printed; otherwise the job " +
			"runs in this process and the finished run is printed.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app.App) error {
				jobID := args[0]
				err := a.LockStorage("trigger", false)
				if errors.Is(err, storage.ErrLocked) {
					return triggerViaDaemon(cmd, a, repoID, jobID, err)
				}
				if err != nil {
					return err
				}
				run, err := a.Scheduler().Execute(cmd.Context(), jobID, repoID)
				if err != nil {
					return fmt.Errorf("%s: %w", scheduler.ErrorCode(err), err)
				}
				return writeJSON(cmd.OutOrStdout(), run)
			})
		},
	}
	cmd.Flags().StringVar(&repoID, "repo", "", "repository id")
	_ = cmd.MarkFlagRequired("repo")
	return cmd
}

func triggerViaDaemon(cmd *cobra.Command, a *app.App, repoID, jobID string, lockErr error) error {
	if a.StorageHolder().Role != "serve" {
		return lockErr
	}
	client, ok := a.DaemonClient()
	if !ok {
		return fmt.Errorf("%w; enable ops to trigger through the daemon", lockErr)
	}
	var run domain.ScheduledJobRun
	// A refusal prints as "<code>: <reason>", matching the local path.
	if err := client.Trigger(cmd.Context(), repoID, jobID, &run); err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), run)
}

func newRecoverCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Fail sessions and runs left running by a crashed process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(opts, func(a *app.App) error {
				// Running records are only abandoned if nothing else uses the dir.
				if err := a.LockStorage("recover", true); err != nil {
					return fmt.Errorf("recover refused: %w", err)
				}
				rep, err := a.Scheduler().Recover(cmd.Context())
				if werr := writeJSON(cmd.OutOrStdout(), rep); werr != nil {
					return werr
				}
				return err
			})
		},
	}
}
