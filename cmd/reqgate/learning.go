package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/reqgate/internal/engine"
)

func newLearningCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "learning",
		Short: "Review and apply recommendations learned from sessions",
		Long: `Session learning turns recurring patterns in finished sessions into
recommendations for the agent's memories, skills and commands. Nothing is
written until a recommendation is applied, and every applied change can be
rolled back.

Examples:
  reqgate learning pending
  reqgate learning apply 4
  reqgate learning rollback 7c9e6679-7425-40de-944b-e07fc1f90ae7`,
	}

	run := func(fn func(cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error { return fn(cmd, args, a) })
		}
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Summarize the learning history",
		Args:  cobra.NoArgs,
		RunE: run(func(cmd *cobra.Command, _ []string, a *app) error {
			s, err := a.engine.LearningStats(cmd.Context())
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), s)
			}
			renderStats(cmd.OutOrStdout(), s)
			return nil
		}),
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List applied and rolled back changes",
		Args:  cobra.NoArgs,
		RunE: run(func(cmd *cobra.Command, _ []string, a *app) error {
			entries, err := a.engine.LearningEntries(cmd.Context())
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), entries)
			}
			renderEntries(cmd.OutOrStdout(), entries)
			return nil
		}),
	}

	pending := &cobra.Command{
		Use:   "pending",
		Short: "List recommendations waiting for review",
		Args:  cobra.NoArgs,
		RunE: run(func(cmd *cobra.Command, _ []string, a *app) error {
			recs, err := a.engine.PendingRecommendations(cmd.Context())
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), recs)
			}
			renderRecommendations(cmd.OutOrStdout(), "Pending recommendations", recs)
			return nil
		}),
	}

	analyze := &cobra.Command{
		Use:   "analyze <session-id>",
		Short: "Analyze a recorded session now",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, args []string, a *app) error {
			report, err := a.engine.Analyze(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), report)
			}
			renderReport(cmd.OutOrStdout(), report)
			return nil
		}),
	}

	var approver string
	apply := &cobra.Command{
		Use:   "apply <recommendation-id>",
		Short: "Write a recommendation into its target artifact",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, args []string, a *app) error {
			id, err := engine.ParseRecommendationID(args[0])
			if err != nil {
				return err
			}
			entry, err := a.engine.ApplyRecommendation(cmd.Context(), id, approver)
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), entry)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s applied #%d to %s\n  entry %s\n",
				passStyle.Render(iconPass), entry.RecommendationID, entry.TargetArtifact, entry.ID)
			return nil
		}),
	}
	apply.Flags().StringVar(&approver, "approver", "", "who approved the change (default: cli)")

	rollback := &cobra.Command{
		Use:   "rollback <entry-id>",
		Short: "Restore an artifact to its content before an applied change",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, args []string, a *app) error {
			entry, err := a.engine.Rollback(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), entry)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s rolled back %s\n", passStyle.Render(iconPass), entry.TargetArtifact)
			return nil
		}),
	}

	toggle := func(use string, enabled bool) *cobra.Command {
		state := use + "d"
		return &cobra.Command{
			Use:   use,
			Short: fmt.Sprintf("%s session learning for this project", capitalize(use)),
			Args:  cobra.NoArgs,
			RunE: run(func(cmd *cobra.Command, _ []string, a *app) error {
				if err := a.engine.SetLearningEnabled(cmd.Context(), enabled); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "session learning %s\n", state)
				return nil
			}),
		}
	}

	cmd.AddCommand(stats, list, pending, analyze, apply, rollback,
		toggle("disable", false),
		toggle("enable", true),
	)
	return cmd
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
