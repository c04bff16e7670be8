package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"repocron/internal/filterquery"
	"repocron/internal/task/nextrun"
)

func newNextRunCmd() *cobra.Command {
	var (
		tz    string
		count int
	)
	cmd := &cobra.Command{
		Use:   "next-run <cron>",
		Short: "Print the next UTC fire times of a cron expression",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := nextrun.Validate(args[0], tz); err != nil {
				return err
			}
			after := time.Now().UTC()
			for i := 0; i < count; i++ {
				next, err := nextrun.NextRunUTCAfter(args[0], tz, after)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), next.Format(time.RFC3339))
				after = next
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tz, "tz", "UTC", "IANA timezone the expression is read in")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of fire times")
	return cmd
}

func newFilterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "filter <query>",
		Short: "Print how a filter query is parsed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeJSON(cmd.OutOrStdout(), filterquery.Parse(args[0]))
		},
	}
}
