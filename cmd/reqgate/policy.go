package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newPolicyCmd(opts *globalOptions) *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Print the effective merged policy",
		Long: `Print the policy after merging defaults, user, project, local and
environment layers. Keys the gate does not use are kept.

Examples:
  reqgate policy
  reqgate policy --key hooks.session_learning`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				p := a.engine.Policy()
				var v any = p.Raw()
				if key != "" {
					if v = p.Get(key); v == nil {
						return fmt.Errorf("%s is not set", key)
					}
				}
				if opts.jsonOut {
					return printJSON(cmd.OutOrStdout(), v)
				}
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				if err := enc.Encode(v); err != nil {
					return fmt.Errorf("encoding policy: %w", err)
				}
				if err := enc.Close(); err != nil {
					return err
				}
				if len(p.Sources) > 0 && key == "" {
					fmt.Fprintln(cmd.ErrOrStderr(), mutedStyle.Render(fmt.Sprintf("# sources: %v", p.Sources)))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "print only the value at this dotted path")
	return cmd
}
