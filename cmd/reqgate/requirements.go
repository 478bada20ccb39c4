package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd(opts *globalOptions) *cobra.Command {
	var branch, session string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show requirement state for a branch",
		Long: `Show every configured requirement and its state on a branch.

Session-scoped requirements are only looked up with --session.

Examples:
  reqgate status
  reqgate status --branch feature/login --session abc123`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				if branch == "" {
					branch = a.engine.Branch("")
				}
				rows, err := a.engine.Status(cmd.Context(), branch, session)
				if err != nil {
					return err
				}
				if opts.jsonOut {
					return printJSON(cmd.OutOrStdout(), map[string]any{"branch": branch, "requirements": rows})
				}
				renderStatus(cmd.OutOrStdout(), branch, rows)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&branch, "branch", "", "branch (default: current git branch)")
	cmd.Flags().StringVar(&session, "session", "", "session id for session-scoped requirements")
	return cmd
}

func newSatisfyCmd(opts *globalOptions) *cobra.Command {
	var branch, session, actor string
	cmd := &cobra.Command{
		Use:   "satisfy <key>",
		Short: "Mark a requirement satisfied",
		Example: `  reqgate satisfy design_approved
  reqgate satisfy session_review --session abc123`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				st, err := a.engine.Satisfy(cmd.Context(), branch, session, args[0], actor)
				if err != nil {
					return err
				}
				if opts.jsonOut {
					return printJSON(cmd.OutOrStdout(), st)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s satisfied\n", passStyle.Render(iconPass), st.Key)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&branch, "branch", "", "branch (default: current git branch)")
	cmd.Flags().StringVar(&session, "session", "", "session id for session-scoped requirements")
	cmd.Flags().StringVar(&actor, "actor", "", "who is satisfying the requirement (default: cli)")
	return cmd
}

func newSkipCmd(opts *globalOptions) *cobra.Command {
	var branch, session, actor, reason string
	cmd := &cobra.Command{
		Use:     "skip <key>",
		Short:   "Skip a requirement with a reason",
		Example: `  reqgate skip tests_written --reason "docs only change"`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				st, err := a.engine.Skip(cmd.Context(), branch, session, args[0], actor, reason)
				if err != nil {
					return err
				}
				if opts.jsonOut {
					return printJSON(cmd.OutOrStdout(), st)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s skipped: %s\n", mutedStyle.Render(iconSkip), st.Key, st.Reason)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&branch, "branch", "", "branch (default: current git branch)")
	cmd.Flags().StringVar(&session, "session", "", "session id for session-scoped requirements")
	cmd.Flags().StringVar(&actor, "actor", "", "who is skipping the requirement (default: cli)")
	cmd.Flags().StringVar(&reason, "reason", "", "why the requirement does not apply")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func newResetCmd(opts *globalOptions) *cobra.Command {
	var branch string
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear requirement state for a branch",
		Long: `Clear every requirement row of a branch, typically after it is merged or
deleted. The reset is recorded in an audit log.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				if branch == "" {
					branch = a.engine.Branch("")
				}
				keys, err := a.engine.ResetBranch(cmd.Context(), branch, "")
				if err != nil {
					return err
				}
				if opts.jsonOut {
					return printJSON(cmd.OutOrStdout(), map[string]any{"branch": branch, "reset": keys})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "reset %s on %s\n", plural(len(keys), "requirement"), branch)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&branch, "branch", "", "branch (default: current git branch)")
	return cmd
}
