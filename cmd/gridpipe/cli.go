package main

import (
	"github.com/spf13/cobra"

	"github.com/gridpipe/gridpipe/cluster"
	"github.com/gridpipe/gridpipe/config"
)

// Command-line client for inspecting and driving batch scheduler jobs.
type cliClient struct {
	rootCmd *cobra.Command

	configPath string
	cfg        *config.Config
	clus       cluster.Cluster
}

func (c *cliClient) Exec() error {
	return c.rootCmd.Execute()
}

func newCLIClient() *cliClient {
	c := &cliClient{}

	c.rootCmd = &cobra.Command{
		Use:   "gridpipe",
		Short: "gridpipe is a command-line client to batch scheduler pipelines",
		Run:   func(*cobra.Command, []string) {},
	}

	c.addCmd(&bootstrapCmd{})
	c.addCmd(&listCmd{})
	c.addCmd(&waitCmd{})
	c.addCmd(&resultCmd{})

	return c
}

// dial lazily loads the configuration and builds the scheduler backend.
// bootstrap never calls it: the remote side carries its own state in the
// payload and must not depend on a config file being present.
func (c *cliClient) dial() (cluster.Cluster, *config.Config, error) {
	if c.clus == nil {
		cfg, err := config.Load(c.configPath)
		if err != nil {
			return nil, nil, err
		}
		clus, err := cfg.NewCluster()
		if err != nil {
			return nil, nil, err
		}
		c.cfg = cfg
		c.clus = clus
	}
	return c.clus, c.cfg, nil
}

func (c *cliClient) addCmd(cmd command) {
	cobraCmd := cmd.registerFlags()
	cobraCmd.Flags().StringVar(&c.configPath, "config", "", "path to the gridpipe config file")
	cobraCmd.RunE = func(innerCmd *cobra.Command, args []string) error {
		return cmd.run(c, innerCmd, args)
	}
	c.rootCmd.AddCommand(cobraCmd)
}

type command interface {
	registerFlags() *cobra.Command
	run(cl *cliClient, cmd *cobra.Command, args []string) error
}
