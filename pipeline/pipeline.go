// Package pipeline wires tools into dependency graphs. Tools added to a
// pipeline are wrapped in PipelineTool instances whose configuration
// assignments both record parameter values and build the dependency graph:
// assigning another tool's parameter creates an edge that is cycle-checked
// immediately. The pipeline orders its tools topologically and orchestrates
// validation, local runs, and cluster submission.
//
//	p := pipeline.New("demo")
//	a, _ := p.Add(produce)
//	b, _ := p.Add(consume)
//	a.Set("name", "myfile.txt")
//	file, _ := a.Get("file")
//	b.Set("file", file) // records the edge a -> b
package pipeline

import (
	"fmt"

	"github.com/gridpipe/gridpipe/tools"
	"github.com/pkg/errors"

	log "github.com/sirupsen/logrus"
)

// Handle identifies a submitted remote job.
type Handle interface {
	ID() string
}

// Submitter sends a configured pipeline tool to a remote execution
// backend.
type Submitter interface {
	Submit(pt *PipelineTool) (Handle, error)
}

// Pipeline is a named collection of PipelineTool nodes forming a
// dependency graph. It is not safe for concurrent mutation.
type Pipeline struct {
	name  string
	tools map[string]*PipelineTool
	order []*PipelineTool
	owned map[*tools.Tool]bool
	graph *depGraph
}

// New creates an empty pipeline.
func New(name string) *Pipeline {
	return &Pipeline{
		name:  name,
		tools: map[string]*PipelineTool{},
		owned: map[*tools.Tool]bool{},
		graph: newDepGraph(),
	}
}

// Name returns the pipeline name.
func (p *Pipeline) Name() string { return p.name }

// Add wraps a tool in a PipelineTool under the tool's own name. Name
// collisions are auto-suffixed.
func (p *Pipeline) Add(t *tools.Tool) (*PipelineTool, error) {
	return p.AddNamed(t, "")
}

// AddNamed wraps a tool under an explicit name. A colliding name is
// suffixed with a counter: name.2, name.3, and so on. A tool instance can
// only be added to a pipeline once.
func (p *Pipeline) AddNamed(t *tools.Tool, name string) (*PipelineTool, error) {
	if t == nil {
		return nil, errors.New("no tool specified")
	}
	if p.owned[t] {
		return nil, &tools.ConfigurationError{
			Msg: "tool " + t.Name + " was already added to pipeline " + p.name,
		}
	}
	if name == "" {
		name = t.Name
	}
	if _, ok := p.tools[name]; ok {
		base := name
		for count := 2; ; count++ {
			name = fmt.Sprintf("%s.%d", base, count)
			if _, ok := p.tools[name]; !ok {
				break
			}
		}
	}
	pt := &PipelineTool{
		pipeline: p,
		tool:     t,
		name:     name,
		id:       p.graph.addNode(),
		params:   map[string]*Parameter{},
	}
	p.tools[name] = pt
	p.order = append(p.order, pt)
	p.owned[t] = true
	return pt, nil
}

// Get looks up a pipeline tool by name.
func (p *Pipeline) Get(name string) (*PipelineTool, error) {
	pt, ok := p.tools[name]
	if !ok {
		return nil, errors.Errorf("tool %s not found in pipeline %s", name, p.name)
	}
	return pt, nil
}

// Tools returns all pipeline tools in insertion order.
func (p *Pipeline) Tools() []*PipelineTool {
	out := make([]*PipelineTool, len(p.order))
	copy(out, p.order)
	return out
}

// Configuration resolves and returns the configuration of the named tool.
func (p *Pipeline) Configuration(name string) (tools.Config, error) {
	pt, err := p.Get(name)
	if err != nil {
		return nil, err
	}
	return pt.Config()
}

func (p *Pipeline) byIDs(ids []int) []*PipelineTool {
	out := make([]*PipelineTool, 0, len(ids))
	for _, id := range ids {
		out = append(out, p.order[id])
	}
	return out
}

func (p *Pipeline) names(ids []int) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, p.order[id].name)
	}
	return out
}

// Waves returns the tools in topological order, grouped into waves: tools
// within one wave have no dependency ordering among themselves.
func (p *Pipeline) Waves() ([][]*PipelineTool, error) {
	idWaves, err := p.graph.waves()
	if err != nil {
		return nil, err
	}
	waves := make([][]*PipelineTool, 0, len(idWaves))
	for _, ids := range idWaves {
		waves = append(waves, p.byIDs(ids))
	}
	return waves, nil
}

// SortedTools returns all tools in execution order.
func (p *Pipeline) SortedTools() ([]*PipelineTool, error) {
	waves, err := p.Waves()
	if err != nil {
		return nil, err
	}
	var sorted []*PipelineTool
	for _, wave := range waves {
		sorted = append(sorted, wave...)
	}
	return sorted, nil
}

// Validate validates every tool in the pipeline and aggregates all
// field-level errors, keyed by tool name, into a single Error instead of
// stopping at the first failing tool.
func (p *Pipeline) Validate() error {
	errs := map[string]map[string]string{}
	for _, pt := range p.order {
		err := pt.Validate()
		if err == nil {
			continue
		}
		if verr, ok := err.(*tools.ValidationError); ok {
			errs[pt.name] = verr.Errors
		} else {
			errs[pt.name] = map[string]string{"config": err.Error()}
		}
	}
	if len(errs) > 0 {
		return &Error{Msg: "pipeline validation failed", ValidationErrors: errs}
	}
	return nil
}

// Run executes the pipeline tools locally, in topological order, skipping
// tools whose outputs already exist. The run aborts at the first failing
// tool; its partial outputs have been cleaned up by the tool itself by the
// time the error propagates.
func (p *Pipeline) Run() error {
	sorted, err := p.SortedTools()
	if err != nil {
		return err
	}
	for _, pt := range sorted {
		done, err := pt.IsDone()
		if err != nil {
			return err
		}
		if done {
			log.WithFields(log.Fields{
				"pipeline": p.name,
				"tool":     pt.name,
			}).Info("Skipping completed tool")
			continue
		}
		if _, err := pt.Run(); err != nil {
			return err
		}
	}
	return nil
}

// Submit sends the pipeline tools to a remote backend in topological order,
// skipping completed tools, and returns the handles of the submitted jobs.
// Submitting in order guarantees every upstream tool holds a remote job id
// before its dependents are submitted.
func (p *Pipeline) Submit(s Submitter) ([]Handle, error) {
	sorted, err := p.SortedTools()
	if err != nil {
		return nil, err
	}
	var handles []Handle
	for _, pt := range sorted {
		done, err := pt.IsDone()
		if err != nil {
			return handles, err
		}
		if done {
			log.WithFields(log.Fields{
				"pipeline": p.name,
				"tool":     pt.name,
			}).Info("Skipping completed tool")
			continue
		}
		h, err := s.Submit(pt)
		if err != nil {
			return handles, err
		}
		log.WithFields(log.Fields{
			"pipeline": p.name,
			"tool":     pt.name,
			"jobID":    h.ID(),
		}).Info("Submitted tool")
		handles = append(handles, h)
	}
	return handles, nil
}
