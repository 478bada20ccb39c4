// Reqgate enforces workflow requirements on a coding agent's tool calls and
// learns from finished sessions.
//
// Usage:
//
//	# Install as a hook command; reads the payload on stdin
//	reqgate hook
//
//	# Inspect and change requirement state
//	reqgate status
//	reqgate satisfy design_approved
//	reqgate skip tests_written --reason "docs only"
//
//	# Review what past sessions suggest
//	reqgate learning pending
//	reqgate learning apply 3
//
//	# Run the local daemon
//	reqgate serve
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
)

func main() {
	cmd := newRootCmd()
	err := cmd.ExecuteContext(context.Background())
	if err != nil && !errors.Is(err, errBlocked) {
		fmt.Fprintln(os.Stderr, renderError(err))
	}
	os.Exit(exitCode(err))
}

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	root     string
	jsonOut  bool
	logLevel string
	noEnv    bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "reqgate",
		Short: "Requirement gate and session learning for coding agents",
		Long: `reqgate blocks agent actions until configured workflow requirements are met,
and turns recurring patterns from finished sessions into reviewable updates to
the agent's guidance files.

Exit codes:
  0  success
  1  error
  2  action blocked
  3  configuration could not be loaded
  4  state storage unavailable
  5  invalid rollback target`,
		Version:       fmt.Sprintf("%s (%s)", version, gitCommit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.root, "root", ".", "project root directory")
	root.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "print JSON instead of text")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level")
	root.PersistentFlags().BoolVar(&opts.noEnv, "no-env", false, "ignore REQGATE_ environment overrides")

	root.AddCommand(
		newStatusCmd(opts),
		newSatisfyCmd(opts),
		newSkipCmd(opts),
		newResetCmd(opts),
		newHookCmd(opts),
		newSessionCmd(opts),
		newLearningCmd(opts),
		newServeCmd(opts),
		newPolicyCmd(opts),
	)
	return root
}
