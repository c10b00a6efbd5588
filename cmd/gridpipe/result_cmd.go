package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gridpipe/gridpipe/cluster"
)

type resultCmd struct{}

func (c *resultCmd) registerFlags() *cobra.Command {
	return &cobra.Command{
		Use:   "result",
		Short: "Decode the result envelope from a job's stdout log",
	}
}

func (c *resultCmd) run(cl *cliClient, cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return errors.New("a job stdout log must be provided")
	}

	value, err := cluster.ReadResultFile(args[0])
	if err != nil {
		return err
	}

	fmt.Println(value)
	return nil
}
