package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/reqgate/internal/hooks"
)

func newHookCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "hook",
		Short: "Handle one agent hook payload from stdin",
		Long: `Read a hook payload as JSON on stdin, evaluate it and print the result as
JSON on stdout. A blocked action prints the reason on stderr and exits 2 so
the agent runtime refuses the tool call.

Configure it for every hook event, for example:
  {"hooks": {"PreToolUse": [{"hooks": [{"type": "command", "command": "reqgate hook"}]}]}}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := hooks.ParsePayload(cmd.InOrStdin())
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), opts, func(a *app) error {
				res, err := a.engine.HandlePayload(cmd.Context(), p)
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
				if res.Message != "" {
					fmt.Fprintln(cmd.ErrOrStderr(), res.Message)
				}
				if res.Decision.Blocked() {
					fmt.Fprintln(cmd.ErrOrStderr(), res.Decision.Reason())
					return errBlocked
				}
				renderWarnings(cmd.ErrOrStderr(), res.Decision)
				return nil
			})
		},
	}
}

func newSessionCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect and end recorded sessions",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List recorded sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				all, err := a.engine.Sessions(cmd.Context())
				if err != nil {
					return err
				}
				if opts.jsonOut {
					return printJSON(cmd.OutOrStdout(), all)
				}
				renderSessions(cmd.OutOrStdout(), all)
				return nil
			})
		},
	}

	show := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a recorded session as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				m, err := a.engine.Session(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), m)
			})
		},
	}

	end := &cobra.Command{
		Use:   "end <session-id>",
		Short: "Seal a session and analyze it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				report, err := a.engine.EndSession(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if opts.jsonOut {
					return printJSON(cmd.OutOrStdout(), report)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "session %s sealed\n", args[0])
				renderReport(cmd.OutOrStdout(), report)
				return nil
			})
		},
	}

	cmd.AddCommand(list, show, end)
	return cmd
}
