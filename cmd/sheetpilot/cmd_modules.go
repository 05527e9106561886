package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newModulesCmd(root *rootOptions) *cobra.Command {
	var pluginDirs []string
	cmd := &cobra.Command{
		Use:   "modules",
		Short: "List the registered cleaning modules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(root, appOverrides{pluginDirs: pluginDirs}, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(cmd.Context()))

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "MODULE\tDESCRIPTION")
			for _, name := range a.modules.Names() {
				fmt.Fprintf(tw, "%s\t%s\n", name, a.modules.Describe(name))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringSliceVar(&pluginDirs, "plugins-dir", nil, "Plugin directories to scan (repeatable)")
	return cmd
}
