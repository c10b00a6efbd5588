// Package template implements the named-placeholder interpolation used for
// tool commands and configuration values. Placeholders use the ${name} form
// and may reach into nested contexts with a dotted path, e.g. ${job.name}.
// Anything that is not a ${...} placeholder, including bare $VAR shell
// variables, is passed through untouched.
package template

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Contexter exposes a value as a nested template context. Values that
// implement it can be traversed by dotted placeholder paths.
type Contexter interface {
	Context() map[string]interface{}
}

// Render interpolates all ${name} placeholders in tmpl against ctx. A
// placeholder that names no context entry is an error; the template is
// never emitted half-rendered.
func Render(tmpl string, ctx map[string]interface{}) (string, error) {
	var (
		out     strings.Builder
		missing []string
	)
	for i := 0; i < len(tmpl); {
		j := strings.Index(tmpl[i:], "${")
		if j < 0 {
			out.WriteString(tmpl[i:])
			break
		}
		out.WriteString(tmpl[i : i+j])
		rest := tmpl[i+j+2:]
		k := strings.IndexByte(rest, '}')
		if k < 0 {
			// unterminated placeholder, keep the literal text
			out.WriteString(tmpl[i+j:])
			break
		}
		name := rest[:k]
		if v, ok := lookup(ctx, name); ok {
			out.WriteString(stringify(v))
		} else {
			missing = append(missing, name)
		}
		i = i + j + 2 + k + 1
	}
	if len(missing) > 0 {
		return "", errors.Errorf("undefined template placeholder(s): %s",
			strings.Join(missing, ", "))
	}
	return out.String(), nil
}

// HasPlaceholder reports whether s contains at least one ${...} placeholder.
func HasPlaceholder(s string) bool {
	j := strings.Index(s, "${")
	return j >= 0 && strings.IndexByte(s[j:], '}') > 0
}

func lookup(ctx map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var cur interface{} = ctx
	for _, part := range parts {
		switch m := cur.(type) {
		case map[string]interface{}:
			v, ok := m[part]
			if !ok {
				return nil, false
			}
			cur = v
		case Contexter:
			v, ok := m.Context()[part]
			if !ok {
				return nil, false
			}
			cur = v
		default:
			return nil, false
		}
	}
	return cur, true
}

func stringify(v interface{}) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		// configuration decoded from JSON carries numbers as float64
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
