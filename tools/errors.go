package tools

import (
	"fmt"
	"sort"
	"strings"
)

// ConfigurationError indicates that a tool was constructed without the
// mandatory pieces: a name and something to call.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string { return e.Msg }

// ValidationError is returned by Tool.Validate when the configuration is
// incomplete or inconsistent. Errors maps field names to messages.
type ValidationError struct {
	Errors map[string]string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("validation failed")
	fields := make([]string, 0, len(e.Errors))
	for f := range e.Errors {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		fmt.Fprintf(&b, "\n\t%s: %s", f, e.Errors[f])
	}
	return b.String()
}

// ExecutionError wraps a failed tool call. ExitCode carries the process
// exit status when the call ran an external command, Signal the number of
// the terminating signal when one was delivered.
type ExecutionError struct {
	Tool     string
	Msg      string
	ExitCode int
	Signal   int
	Err      error
}

func (e *ExecutionError) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Tool != "" {
		return fmt.Sprintf("tool %s failed: %s", e.Tool, msg)
	}
	return fmt.Sprintf("tool execution failed: %s", msg)
}

// Cause returns the underlying error, if any, for pkg/errors compatibility.
func (e *ExecutionError) Cause() error { return e.Err }
