package pipeline

import (
	"sort"

	"github.com/gridpipe/gridpipe/tools"
)

// PipelineTool wraps a Tool inside a pipeline. It owns the configuration
// overrides for that tool and the graph edges created by cross-tool
// parameter references. Configuration fields are managed through Get/Set
// accessors that wrap every value in a Parameter.
type PipelineTool struct {
	pipeline *Pipeline
	tool     *tools.Tool
	name     string
	id       int
	params   map[string]*Parameter
}

// Name returns the tool's unique name within its pipeline.
func (pt *PipelineTool) Name() string { return pt.name }

// Tool returns the wrapped tool.
func (pt *PipelineTool) Tool() *tools.Tool { return pt.tool }

// Job returns the wrapped tool's job spec.
func (pt *PipelineTool) Job() *tools.Job { return pt.tool.Job }

func (pt *PipelineTool) String() string { return pt.name }

// Get returns the Parameter for a configuration field, creating it from the
// tool's default value on first access. Fields unknown to the tool are an
// error.
func (pt *PipelineTool) Get(field string) (*Parameter, error) {
	if p, ok := pt.params[field]; ok {
		return p, nil
	}
	raw, ok := pt.tool.ValueOf(field)
	if !ok {
		return nil, &tools.ConfigurationError{
			Msg: "tool " + pt.name + " has no field " + field,
		}
	}
	p := &Parameter{owner: pt, field: field, value: raw}
	pt.params[field] = p
	return p, nil
}

// Set assigns a configuration field. A plain value is wrapped in a new
// Parameter owned by this tool. A Parameter owned by another tool records a
// dependency edge owner→self, and the assignment is cycle-checked on the
// spot: if it would close a cycle the edge is rolled back and the
// assignment is rejected with the offending path, leaving the edge sets
// exactly as they were. A Parameter owned by a tool in another pipeline is
// rejected; node ids are only meaningful within one pipeline's graph.
// Replacing an earlier reference drops its edge when no other field still
// references that upstream tool.
func (pt *PipelineTool) Set(field string, value interface{}) error {
	prev, hadPrev := pt.params[field]

	if param, ok := value.(*Parameter); ok {
		if param.owner == pt {
			return &CircularDependencyError{Circle: []string{pt.name, pt.name}}
		}
		if param.owner.pipeline != pt.pipeline {
			return &tools.ConfigurationError{
				Msg: "parameter " + param.owner.name + "." + param.field +
					" belongs to pipeline " + param.owner.pipeline.name +
					", not " + pt.pipeline.name,
			}
		}
		g := pt.pipeline.graph
		added := g.addEdge(param.owner.id, pt.id)
		if cycle := g.findCycle(pt.id); cycle != nil {
			if added {
				g.removeEdge(param.owner.id, pt.id)
			}
			return &CircularDependencyError{Circle: pt.pipeline.names(cycle)}
		}
		pt.params[field] = param
	} else {
		pt.params[field] = &Parameter{owner: pt, field: field, value: value}
	}

	if hadPrev && prev.owner != pt {
		pt.dropStaleEdge(prev.owner)
	}
	return nil
}

// dropStaleEdge removes owner→self unless some field still references a
// parameter owned by owner.
func (pt *PipelineTool) dropStaleEdge(owner *PipelineTool) {
	for _, p := range pt.params {
		if p.owner == owner {
			return
		}
	}
	pt.pipeline.graph.removeEdge(owner.id, pt.id)
}

// Dependencies returns the upstream tools this tool takes parameters from.
func (pt *PipelineTool) Dependencies() []*PipelineTool {
	return pt.pipeline.byIDs(pt.pipeline.graph.inEdges(pt.id))
}

// Dependents returns the downstream tools consuming this tool's
// parameters.
func (pt *PipelineTool) Dependents() []*PipelineTool {
	return pt.pipeline.byIDs(pt.pipeline.graph.outEdges(pt.id))
}

// InEdges returns the names of the upstream tools, sorted.
func (pt *PipelineTool) InEdges() []string { return names(pt.Dependencies()) }

// OutEdges returns the names of the downstream tools, sorted.
func (pt *PipelineTool) OutEdges() []string { return names(pt.Dependents()) }

func names(pts []*PipelineTool) []string {
	out := make([]string, 0, len(pts))
	for _, pt := range pts {
		out = append(out, pt.name)
	}
	sort.Strings(out)
	return out
}

// Config returns the fully resolved configuration: tool defaults overridden
// by the stored parameters, one template pass over the merged map, and the
// job spec injected under the reserved key.
func (pt *PipelineTool) Config() (tools.Config, error) {
	cfg := pt.tool.DefaultConfig()
	for name, param := range pt.params {
		v, err := param.Get()
		if err != nil {
			return nil, err
		}
		cfg[name] = v
	}
	resolved, err := pt.tool.Resolve(cfg)
	if err != nil {
		return nil, err
	}
	resolved[tools.JobKey] = pt.tool.Job
	return resolved, nil
}

// RawConfig is Config except that parameters owned by this tool keep their
// raw, unresolved values. Foreign parameters are resolved in their owner's
// context as usual.
func (pt *PipelineTool) RawConfig() (tools.Config, error) {
	cfg := pt.tool.DefaultConfig()
	for name, param := range pt.params {
		if param.owner == pt {
			cfg[name] = param.value
			continue
		}
		v, err := param.Get()
		if err != nil {
			return nil, err
		}
		cfg[name] = v
	}
	cfg[tools.JobKey] = pt.tool.Job
	return cfg, nil
}

// Incoming returns only the fields fed by upstream tools, resolved.
func (pt *PipelineTool) Incoming() (tools.Config, error) {
	cfg := tools.Config{}
	for name, param := range pt.params {
		if param.owner == pt {
			continue
		}
		v, err := param.Get()
		if err != nil {
			return nil, err
		}
		cfg[name] = v
	}
	return cfg, nil
}

// Validate resolves the configuration and delegates to the tool's
// validation.
func (pt *PipelineTool) Validate() error {
	cfg, err := pt.Config()
	if err != nil {
		return &tools.ValidationError{Errors: map[string]string{"config": err.Error()}}
	}
	incoming, err := pt.Incoming()
	if err != nil {
		return &tools.ValidationError{Errors: map[string]string{"config": err.Error()}}
	}
	return pt.tool.Validate(cfg, incoming)
}

// IsDone reports whether the tool's outputs already exist.
func (pt *PipelineTool) IsDone() (bool, error) {
	cfg, err := pt.Config()
	if err != nil {
		return false, err
	}
	return pt.tool.IsDone(cfg), nil
}

// Run executes the wrapped tool with the resolved configuration.
func (pt *PipelineTool) Run() (interface{}, error) {
	cfg, err := pt.Config()
	if err != nil {
		return nil, err
	}
	return pt.tool.Run(cfg)
}

// Cleanup delegates to the tool's cleanup with the resolved configuration.
func (pt *PipelineTool) Cleanup(failed bool) error {
	cfg, err := pt.Config()
	if err != nil {
		return err
	}
	return pt.tool.Cleanup(cfg, failed)
}

// UpstreamJobIDs returns the remote job ids of upstream tools that have
// already been submitted. Tools without a recorded job id are skipped.
func (pt *PipelineTool) UpstreamJobIDs() []string {
	var ids []string
	for _, dep := range pt.Dependencies() {
		if id := dep.tool.Job.JobID; id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
