package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"repocron/internal/app"
	"repocron/internal/domain"
)

func newJobCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Manage scheduled jobs",
	}
	cmd.AddCommand(
		newJobAddCmd(opts),
		newJobListCmd(opts),
		newJobPauseCmd(opts),
		newJobResumeCmd(opts),
		newJobRescheduleCmd(opts),
		newJobRunsCmd(opts),
	)
	return cmd
}

func newJobAddCmd(opts *rootOptions) *cobra.Command {
	var (
		job    domain.ScheduledJob
		target string
		tools  []string
		paused bool
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a scheduled job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			job.TargetType = domain.TargetType(strings.ToLower(strings.TrimSpace(target)))
			job.AllowedTools = domain.StringList(tools)
			if paused {
				job.Status = domain.JobStatusPaused
			}
			return withApp(opts, func(a *app.App) error {
				if err := a.Scheduler().CreateJob(cmd.Context(), &job); err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), job)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&job.RepoID, "repo", "", "repository id")
	f.StringVar(&job.Name, "name", "", "job name")
	f.StringVar(&job.CronExpression, "cron", "", "five-field cron expression")
	f.StringVar(&job.Timezone, "tz", "UTC", "IANA timezone the cron expression is read in")
	f.StringVar(&target, "target", "issues", "issues, prs, codebase or custom")
	f.StringVar(&job.FilterQuery, "filter", "", `filter query, e.g. "state:open label:bug priority:high"`)
	f.StringVar(&job.CommandID, "command", "", "command template id")
	f.StringVar(&job.CustomPrompt, "prompt", "", "prompt for custom jobs without a template")
	f.IntVar(&job.MaxItems, "max-items", 0, "items per run (0 means default)")
	f.BoolVar(&job.OnlyNew, "only-new", false, "skip items analyzed by earlier runs of this job")
	f.StringVar(&job.PermissionMode, "permission-mode", "", "analyzer permission mode")
	f.StringSliceVar(&tools, "allowed-tools", nil, "analyzer tool allow-list")
	f.IntVar(&job.MaxTurns, "max-turns", 0, "analyzer turn limit")
	f.StringVar(&job.Model, "model", "", "analyzer model")
	f.BoolVar(&paused, "paused", false, "create the job paused")
	_ = cmd.MarkFlagRequired("repo")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("cron")
	return cmd
}

func newJobListCmd(opts *rootOptions) *cobra.Command {
	var repoID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the jobs of a repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(opts, func(a *app.App) error {
				st, err := a.Stores().Open(cmd.Context(), repoID)
				if err != nil {
					return err
				}
				jobs, err := st.ListJobs(cmd.Context())
				if err != nil {
					return err
				}
				t := table.NewWriter()
				t.SetOutputMirror(cmd.OutOrStdout())
				t.SetStyle(table.StyleLight)
				t.AppendHeader(table.Row{"ID", "Name", "Target", "Cron", "TZ", "Status", "Next Run (UTC)", "Last", "Runs"})
				for _, j := range jobs {
					t.AppendRow(table.Row{
						j.ID, j.Name, j.TargetType, j.CronExpression, j.Timezone, j.Status,
						fmtTime(j.NextRunAt), j.LastRunStatus, j.RunCount,
					})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&repoID, "repo", "", "repository id")
	_ = cmd.MarkFlagRequired("repo")
	return cmd
}

func newJobPauseCmd(opts *rootOptions) *cobra.Command {
	var repoID string
	cmd := &cobra.Command{
		Use:   "pause <job-id>",
		Short: "Pause a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app.App) error {
				if err := a.Scheduler().PauseJob(cmd.Context(), repoID, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "paused %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&repoID, "repo", "", "repository id")
	_ = cmd.MarkFlagRequired("repo")
	return cmd
}

func newJobResumeCmd(opts *rootOptions) *cobra.Command {
	var repoID string
	cmd := &cobra.Command{
		Use:   "resume <job-id>",
		Short: "Resume a paused job from its next window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app.App) error {
				job, err := a.Scheduler().ResumeJob(cmd.Context(), repoID, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "resumed %s, next run %s\n", job.ID, fmtTime(job.NextRunAt))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&repoID, "repo", "", "repository id")
	_ = cmd.MarkFlagRequired("repo")
	return cmd
}

func newJobRescheduleCmd(opts *rootOptions) *cobra.Command {
	var repoID, cronExpr, tz string
	cmd := &cobra.Command{
		Use:   "reschedule <job-id>",
		Short: "Replace the cron expression and timezone of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app.App) error {
				job, err := a.Scheduler().UpdateSchedule(cmd.Context(), repoID, args[0], cronExpr, tz)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rescheduled %s, next run %s\n", job.ID, fmtTime(job.NextRunAt))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&repoID, "repo", "", "repository id")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "five-field cron expression")
	cmd.Flags().StringVar(&tz, "tz", "UTC", "IANA timezone")
	_ = cmd.MarkFlagRequired("repo")
	_ = cmd.MarkFlagRequired("cron")
	return cmd
}

func newJobRunsCmd(opts *rootOptions) *cobra.Command {
	var (
		repoID string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "runs <job-id>",
		Short: "Show the latest runs of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app.App) error {
				st, err := a.Stores().Open(cmd.Context(), repoID)
				if err != nil {
					return err
				}
				runs, err := st.ListRuns(cmd.Context(), args[0], limit)
				if err != nil {
					return err
				}
				t := table.NewWriter()
				t.SetOutputMirror(cmd.OutOrStdout())
				t.SetStyle(table.StyleLight)
				t.AppendHeader(table.Row{"Run", "Status", "Started (UTC)", "Took", "Found", "Processed", "Skipped", "Failed", "Error"})
				for _, r := range runs {
					t.AppendRow(table.Row{
						r.ID, r.Status, fmtTime(r.StartedAt), r.Duration().Round(time.Millisecond),
						r.ItemsFound, r.ItemsProcessed, r.ItemsSkipped, r.ItemsFailed, r.ErrorMessage,
					})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&repoID, "repo", "", "repository id")
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs")
	_ = cmd.MarkFlagRequired("repo")
	return cmd
}

func fmtTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
