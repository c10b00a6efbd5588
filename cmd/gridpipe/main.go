package main

import (
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/gridpipe/gridpipe/common/log/hooks"
)

func main() {
	log.AddHook(hooks.NewContextHook())
	log.SetLevel(log.InfoLevel)

	if err := newCLIClient().Exec(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
