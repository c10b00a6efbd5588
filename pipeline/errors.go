package pipeline

import (
	"fmt"
	"sort"
	"strings"
)

// CircularDependencyError is returned when an assignment would create a
// cycle in the dependency graph. Circle holds the tool names along the
// offending path. The rejected assignment never takes effect.
type CircularDependencyError struct {
	Circle []string
}

func (e *CircularDependencyError) Error() string {
	return "circular dependency: " + strings.Join(e.Circle, " -> ")
}

// Error aggregates pipeline-wide failures. ValidationErrors maps tool names
// to their per-field validation messages.
type Error struct {
	Msg              string
	ValidationErrors map[string]map[string]string
}

func (e *Error) Error() string {
	if len(e.ValidationErrors) == 0 {
		return e.Msg
	}
	var b strings.Builder
	b.WriteString(e.Msg)
	names := make([]string, 0, len(e.ValidationErrors))
	for n := range e.ValidationErrors {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "\n%s:", name)
		errs := e.ValidationErrors[name]
		fields := make([]string, 0, len(errs))
		for f := range errs {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			fmt.Fprintf(&b, "\n\t%s: %s", f, errs[f])
		}
	}
	return b.String()
}
