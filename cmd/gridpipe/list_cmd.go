package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

type listCmd struct{}

func (c *listCmd) registerFlags() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active jobs and their scheduler state",
	}
}

func (c *listCmd) run(cl *cliClient, cmd *cobra.Command, args []string) error {
	clus, _, err := cl.dial()
	if err != nil {
		return err
	}

	states, err := clus.List()
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(states))
	for id := range states {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		fmt.Printf("%s\t%s\n", id, states[id])
	}
	return nil
}
