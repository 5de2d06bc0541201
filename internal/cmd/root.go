// Package cmd defines the talkto CLI.
package cmd

import (
	"github.com/spf13/cobra"
)

var version = "dev"

// NewRootCmd creates the root cobra command. Bare invocation behaves as
// "start".
func NewRootCmd(v string) *cobra.Command {
	version = v

	root := &cobra.Command{
		Use:   "talkto",
		Short: "TalkTo: local-first messaging hub for humans and agents",
		Long:  "TalkTo mediates between browsers, MCP agents, and external agent runtimes: shared channels, DMs, @-mention invocation, and liveness tracking on one machine.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newStartCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringP("config", "c", "", "path to config file")

	return root
}
