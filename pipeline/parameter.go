package pipeline

import (
	"fmt"

	"github.com/pkg/errors"
)

// Parameter is a lazily-resolved configuration value of one PipelineTool
// field. It holds either a concrete raw value or, when assigned across
// tools, acts as a reference into the owning tool's configuration. A
// parameter has exactly one owner; re-assigning a field replaces its
// parameter rather than mutating it.
type Parameter struct {
	owner *PipelineTool
	field string
	value interface{}
}

// Owner returns the pipeline tool this parameter belongs to.
func (p *Parameter) Owner() *PipelineTool { return p.owner }

// Field returns the configuration field name.
func (p *Parameter) Field() string { return p.field }

// Raw returns the unresolved value.
func (p *Parameter) Raw() interface{} { return p.value }

// Get resolves the parameter in its owner's context: the owner's raw
// configuration is resolved once and the field's value is taken from the
// result. Self-owned values stay raw inside that configuration, which
// breaks the recursion of a tool output referencing the tool's own fields.
func (p *Parameter) Get() (interface{}, error) {
	raw, err := p.owner.RawConfig()
	if err != nil {
		return nil, err
	}
	resolved, err := p.owner.tool.Resolve(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "could not resolve %s.%s", p.owner.name, p.field)
	}
	v, ok := resolved[p.field]
	if !ok {
		return nil, errors.Errorf("tool %s has no field %s", p.owner.name, p.field)
	}
	return v, nil
}

func (p *Parameter) String() string {
	v, err := p.Get()
	if err != nil {
		return fmt.Sprintf("<unresolved %s.%s>", p.owner.name, p.field)
	}
	return fmt.Sprintf("%v", v)
}
