package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/gridpipe/gridpipe/cluster"
)

// bootstrapCmd is the remote half of a submission: the generated job script
// pipes the encoded payload into "gridpipe bootstrap" on the compute node.
type bootstrapCmd struct{}

func (c *bootstrapCmd) registerFlags() *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Execute an encoded tool payload read from stdin",
	}
}

func (c *bootstrapCmd) run(cl *cliClient, cmd *cobra.Command, args []string) error {
	os.Exit(cluster.RunBootstrap(os.Stdin, os.Stdout))
	return nil
}
