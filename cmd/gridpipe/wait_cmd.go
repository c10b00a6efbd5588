package main

import (
	"errors"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type waitCmd struct{}

func (c *waitCmd) registerFlags() *cobra.Command {
	return &cobra.Command{
		Use:   "wait",
		Short: "Block until a job leaves the scheduler queue",
	}
}

func (c *waitCmd) run(cl *cliClient, cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return errors.New("a job id must be provided")
	}

	clus, cfg, err := cl.dial()
	if err != nil {
		return err
	}

	jobid := args[0]
	log.WithFields(log.Fields{"jobid": jobid, "interval": cfg.PollInterval}).Info("waiting for job")
	return clus.Wait(jobid, cfg.PollInterval)
}
