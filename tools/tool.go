// Package tools covers tool definitions and execution. Tools wrap around
// executable units and provide the contract needed to integrate them into a
// pipeline: validation, completion checks, listener callbacks, and a default
// implementation that renders a command template and runs it through an
// interpreter. How a tool is executed remotely is controlled by the Job
// attached to every tool instance.
package tools

import (
	"os"
	"reflect"
	"sort"
	"sync"

	"github.com/gridpipe/gridpipe/common/stats"
	"github.com/gridpipe/gridpipe/template"

	log "github.com/sirupsen/logrus"
)

// Config is a tool configuration, a map from field names to values. Values
// may be concrete, template strings, or Expander functions.
type Config map[string]interface{}

// JobKey is the reserved configuration key under which the job spec is
// injected into a resolved configuration.
const JobKey = "job"

// Expander is a function-valued configuration entry. It is called with the
// resolved configuration and returns the concrete value, e.g. a list of
// output files derived from sibling fields.
type Expander func(cfg Config) interface{}

// Listener is called at tool lifecycle events with the tool and its
// resolved configuration. Listener failures are logged, never propagated.
type Listener func(t *Tool, cfg Config)

// CallFunc is a native tool implementation, used in place of the default
// interpreter call.
type CallFunc func(t *Tool, cfg Config) (interface{}, error)

// ValidateFunc replaces the default input-presence validation. It receives
// the resolved configuration and the subset of fields fed by upstream
// tools.
type ValidateFunc func(t *Tool, cfg Config, incoming Config) error

const defaultInterpreter = "bash"

// Tool is a named, configurable execution unit. Instances never share
// mutable state: every constructor hands out fresh maps and listener
// slices.
type Tool struct {
	Name        string
	Kind        string
	Interpreter string
	Command     string

	Inputs  map[string]interface{}
	Outputs map[string]interface{}
	Options map[string]interface{}

	Job *Job

	// HandleSignals enables the asynchronous cancellation path during Run.
	HandleSignals bool

	Call      CallFunc
	Validator ValidateFunc

	OnStart   []Listener
	OnSuccess []Listener
	OnFail    []Listener
	OnFinish  []Listener

	stat stats.StatsReceiver

	mu       sync.Mutex
	state    State
	proc     *os.Process
	received int
}

func newTool(name string) *Tool {
	return &Tool{
		Name:          name,
		Interpreter:   defaultInterpreter,
		Inputs:        map[string]interface{}{},
		Outputs:       map[string]interface{}{},
		Options:       map[string]interface{}{},
		Job:           NewJob(),
		HandleSignals: true,
		stat:          stats.DefaultStatsReceiver().Scope("tools"),
		state:         Created,
	}
}

// New creates an interpreter tool that runs the given command template.
func New(name, command string) (*Tool, error) {
	t := newTool(name)
	t.Command = command
	if err := t.check(); err != nil {
		return nil, err
	}
	return t, nil
}

// NewNative creates a tool backed by a Go implementation instead of a
// command template.
func NewNative(name string, call CallFunc) (*Tool, error) {
	t := newTool(name)
	t.Call = call
	if err := t.check(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tool) check() error {
	if t.Name == "" {
		return &ConfigurationError{Msg: "no tool name specified"}
	}
	if t.Command == "" && t.Call == nil {
		return &ConfigurationError{
			Msg: "tool " + t.Name + " has neither a command nor a call implementation",
		}
	}
	if t.Interpreter == "" {
		return &ConfigurationError{
			Msg: "tool " + t.Name + " has no interpreter",
		}
	}
	return nil
}

// SetStats replaces the receiver run metrics are reported to.
func (t *Tool) SetStats(s stats.StatsReceiver) {
	t.mu.Lock()
	t.stat = s
	t.mu.Unlock()
}

// State returns the current lifecycle state.
func (t *Tool) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Tool) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// DefaultConfig returns the union of the tool's inputs, outputs, and
// options with all values unresolved.
func (t *Tool) DefaultConfig() Config {
	cfg := make(Config, len(t.Inputs)+len(t.Outputs)+len(t.Options))
	for k, v := range t.Inputs {
		cfg[k] = v
	}
	for k, v := range t.Outputs {
		cfg[k] = v
	}
	for k, v := range t.Options {
		cfg[k] = v
	}
	return cfg
}

// ValueOf looks up the default value for a field, checking inputs, outputs,
// and options in that order.
func (t *Tool) ValueOf(field string) (interface{}, bool) {
	if v, ok := t.Inputs[field]; ok {
		return v, true
	}
	if v, ok := t.Outputs[field]; ok {
		return v, true
	}
	if v, ok := t.Options[field]; ok {
		return v, true
	}
	return nil, false
}

// Resolve performs a single template-resolution pass over the configuration:
// strings are rendered against the full map, Expander functions are called,
// everything else passes through.
func (t *Tool) Resolve(cfg Config) (Config, error) {
	resolved := make(Config, len(cfg))
	for k, v := range cfg {
		ev, err := t.evaluate(v, cfg)
		if err != nil {
			return nil, err
		}
		resolved[k] = ev
	}
	return resolved, nil
}

func (t *Tool) evaluate(v interface{}, cfg Config) (interface{}, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case string:
		if !template.HasPlaceholder(v) {
			return v, nil
		}
		return template.Render(v, cfg)
	case Expander:
		return v(cfg), nil
	case func(Config) interface{}:
		return v(cfg), nil
	default:
		return v, nil
	}
}

// Returns evaluates the tool's outputs against the configuration and
// returns the ordered list of output values, or nil if the tool declares no
// outputs. Configuration entries override the declared defaults.
func (t *Tool) Returns(cfg Config) ([]interface{}, error) {
	if len(t.Outputs) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(t.Outputs))
	for k := range t.Outputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var rets []interface{}
	for _, k := range keys {
		v := t.Outputs[k]
		if cfg != nil {
			if cv, ok := cfg[k]; ok && cv != nil {
				v = cv
			}
		}
		ev, err := t.evaluate(v, cfg)
		if err != nil {
			return nil, err
		}
		switch ev := ev.(type) {
		case nil:
		case []interface{}:
			rets = append(rets, ev...)
		case []string:
			for _, s := range ev {
				rets = append(rets, s)
			}
		default:
			rets = append(rets, ev)
		}
	}
	if len(rets) == 0 {
		return nil, nil
	}
	return rets, nil
}

// IsDone reports whether the tool declares outputs and all of them already
// exist on disk.
func (t *Tool) IsDone(cfg Config) bool {
	rets, err := t.Returns(cfg)
	if err != nil {
		log.WithFields(log.Fields{
			"tool":  t.Name,
			"error": err,
		}).Debug("Could not evaluate outputs, treating tool as not done")
		return false
	}
	if rets == nil {
		return false
	}
	for _, r := range rets {
		path, ok := r.(string)
		if !ok || path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			return false
		}
	}
	return true
}

// Validate checks the configuration against the declared inputs: every
// input must be present with a non-nil value. incoming holds the subset of
// fields fed by upstream tools and is passed to a custom Validator.
func (t *Tool) Validate(cfg Config, incoming Config) error {
	t.setState(Validating)
	if t.Validator != nil {
		return t.Validator(t, cfg, incoming)
	}
	errs := map[string]string{}
	for k := range t.Inputs {
		v, ok := cfg[k]
		if !ok {
			errs[k] = "configuration value not specified"
		} else if v == nil {
			errs[k] = "no value specified for " + k
		}
	}
	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// Cleanup is invoked after every run. The default implementation removes
// the partial output files of a failed run, identified by Returns.
func (t *Tool) Cleanup(cfg Config, failed bool) error {
	if !failed {
		return nil
	}
	rets, err := t.Returns(cfg)
	if err != nil {
		log.WithFields(log.Fields{
			"tool":  t.Name,
			"error": err,
		}).Warn("Could not evaluate outputs during cleanup")
		return err
	}
	for _, r := range rets {
		path, ok := r.(string)
		if !ok || path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		log.WithFields(log.Fields{
			"tool": t.Name,
			"file": path,
		}).Info("Removing partial output of failed run")
		if err := os.Remove(path); err != nil {
			log.WithFields(log.Fields{
				"tool":  t.Name,
				"file":  path,
				"error": err,
			}).Warn("Could not remove partial output")
		}
	}
	return nil
}

// Script renders the tool's command template against the configuration with
// the job spec bound under ${job...}.
func (t *Tool) Script(cfg Config) (string, error) {
	ctx := make(map[string]interface{}, len(cfg)+1)
	for k, v := range cfg {
		ctx[k] = v
	}
	ctx[JobKey] = t.Job
	return template.Render(t.Command, ctx)
}

// Serializable reports whether a value survives the remote payload
// encoding. Function values do not.
func Serializable(v interface{}) bool {
	if v == nil {
		return true
	}
	return reflect.TypeOf(v).Kind() != reflect.Func
}
