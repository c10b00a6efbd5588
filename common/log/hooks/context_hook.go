package hooks

import (
	"runtime/debug"
	"strings"

	"github.com/sirupsen/logrus"
)

type contextHook struct {
}

// NewContextHook returns a logrus hook that annotates every entry with the
// file:line of the log call site.
func NewContextHook() contextHook {
	return contextHook{}
}

func (hook contextHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (hook contextHook) Fire(entry *logrus.Entry) error {
	stack := debug.Stack()
	lines := strings.Split(string(stack), "\n")
	foundLoggerBlock := false
	incr := 1
	for i := 0; i < len(lines); i = i + incr {
		if strings.Contains(lines[i], "context_hook.go:") {
			foundLoggerBlock = true
			incr = 2
			continue
		}
		if !foundLoggerBlock {
			continue
		}
		ctx := strings.Split(lines[i], "gridpipe/")
		entry.Data["file:line"] = strings.TrimSpace(ctx[len(ctx)-1])
	}
	return nil
}
