package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"repocron/internal/app"
	"repocron/internal/domain"
)

func newMetaCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "meta",
		Short: "Manage sidecar metadata of issues",
	}
	cmd.AddCommand(newMetaSetCmd(opts), newMetaGetCmd(opts))
	return cmd
}

func newMetaSetCmd(opts *rootOptions) *cobra.Command {
	var (
		repoID string
		m      domain.ItemMetadata
		areas  []string
	)
	cmd := &cobra.Command{
		Use:   "set <number>",
		Short: "Store triage metadata for an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := fmt.Sscanf(args[0], "%d", &m.Number); err != nil || m.Number <= 0 {
				return fmt.Errorf("invalid issue number %q", args[0])
			}
			m.AffectedAreas = domain.StringList(areas)
			return withApp(opts, func(a *app.App) error {
				repo, ok := a.Stores().Repository(repoID)
				if !ok {
					return fmt.Errorf("unknown repository %q", repoID)
				}
				st, err := a.Stores().Open(cmd.Context(), repoID)
				if err != nil {
					return err
				}
				m.RepoKey = repo.Key()
				if err := st.PutItemMetadata(cmd.Context(), m); err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), m)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&repoID, "repo", "", "repository id")
	f.StringVar(&m.Priority, "priority", "", "priority")
	f.StringVar(&m.Difficulty, "difficulty", "", "difficulty")
	f.StringVar(&m.Risk, "risk", "", "risk")
	f.StringVar(&m.Type, "type", "", "type")
	f.StringVar(&m.Status, "status", "", "status")
	f.StringSliceVar(&areas, "areas", nil, "affected areas")
	_ = cmd.MarkFlagRequired("repo")
	return cmd
}

func newMetaGetCmd(opts *rootOptions) *cobra.Command {
	var repoID string
	cmd := &cobra.Command{
		Use:   "get <number>",
		Short: "Print the stored metadata of an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var number int
			if _, err := fmt.Sscanf(args[0], "%d", &number); err != nil || number <= 0 {
				return fmt.Errorf("invalid issue number %q", args[0])
			}
			return withApp(opts, func(a *app.App) error {
				repo, ok := a.Stores().Repository(repoID)
				if !ok {
					return fmt.Errorf("unknown repository %q", repoID)
				}
				st, err := a.Stores().Open(cmd.Context(), repoID)
				if err != nil {
					return err
				}
				m, found, err := st.GetItemMetadata(cmd.Context(), repo.Key(), number)
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("no metadata for %s#%d", repo.Key(), number)
				}
				return writeJSON(cmd.OutOrStdout(), m)
			})
		},
	}
	cmd.Flags().StringVar(&repoID, "repo", "", "repository id")
	_ = cmd.MarkFlagRequired("repo")
	return cmd
}
