// Package cluster integrates tools with remote execution on an HPC batch
// scheduler. A configured tool is rendered into a self-contained submission
// script, sent to the scheduler's submission command, and tracked through a
// Feature handle that can wait for the job to leave the queue and fetch the
// result emitted between the sentinel lines of the job's stdout log.
package cluster

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"

	"github.com/gridpipe/gridpipe/template"
	"github.com/gridpipe/gridpipe/tools"
)

// JobState is the scheduler-reported state of a job.
type JobState string

const (
	StateQueued   JobState = "Queued"
	StateRunning  JobState = "Running"
	StateDone     JobState = "Done"
	StateFailed   JobState = "Failed"
	StateHold     JobState = "Hold"
	StateCanceled JobState = "Canceled"
)

// DefaultPollInterval is used by Wait when the caller passes no interval.
const DefaultPollInterval = 6 * time.Minute

// Task is a configured tool ready for submission. pipeline.PipelineTool
// implements it; NewToolTask adapts a bare tool.
type Task interface {
	Name() string
	Tool() *tools.Tool
	Job() *tools.Job
	Config() (tools.Config, error)
	// UpstreamJobIDs returns the remote job ids of already-submitted
	// upstream tasks.
	UpstreamJobIDs() []string
}

// Cluster abstracts a batch scheduler. Implementations are stateless beyond
// their configured executable paths.
type Cluster interface {
	// Submit renders the task into a submission script, sends it to the
	// scheduler, and returns a Feature for the assigned job id. A rejected
	// submission is a SubmissionError and is never retried.
	Submit(task Task) (*Feature, error)
	// List maps all active job ids to their state. The field layout and
	// state codes of the listing command are backend-specific.
	List() (map[string]JobState, error)
	// Wait blocks, polling List at the given interval, until the job no
	// longer appears in the listing. A listing failure counts as the job
	// being gone: per-job success is discovered from the result sentinel,
	// not from scheduler accounting.
	Wait(jobid string, interval time.Duration) error
	// Cancel removes the job from the queue.
	Cancel(jobid string) error
}

// SubmissionError indicates the scheduler CLI rejected a job, or produced
// an acknowledgment the backend could not parse. Fatal, no retry.
type SubmissionError struct {
	Msg    string
	Output string
}

func (e *SubmissionError) Error() string {
	if e.Output == "" {
		return "job submission failed: " + e.Msg
	}
	return "job submission failed: " + e.Msg + "\n" + e.Output
}

// toolTask adapts a bare tool to the Task interface.
type toolTask struct {
	tool *tools.Tool
	cfg  tools.Config
}

// NewToolTask wraps a tool plus configuration for direct submission,
// outside of a pipeline. A nil configuration resolves the tool's defaults.
func NewToolTask(t *tools.Tool, cfg tools.Config) Task {
	return &toolTask{tool: t, cfg: cfg}
}

func (t *toolTask) Name() string           { return t.tool.Name }
func (t *toolTask) Tool() *tools.Tool      { return t.tool }
func (t *toolTask) Job() *tools.Job        { return t.tool.Job }
func (t *toolTask) UpstreamJobIDs() []string { return nil }

func (t *toolTask) Config() (tools.Config, error) {
	if t.cfg != nil {
		return t.cfg, nil
	}
	cfg, err := t.tool.Resolve(t.tool.DefaultConfig())
	if err != nil {
		return nil, err
	}
	cfg[tools.JobKey] = t.tool.Job
	return cfg, nil
}

// defaultTemplate is the submission script every backend renders unless the
// job carries its own. ${header} is the job's environment setup, ${script}
// the bootstrap that runs the tool.
const defaultTemplate = `#!/bin/bash
#
# Auto-generated submission script
${header}

${script}
`

// submission is a rendered, ready-to-send job.
type submission struct {
	job    *tools.Job
	script string
	logdir string
}

// prepare renders a task into a submission: the tool and its resolved
// configuration are encoded into a bootstrap heredoc, the job's script
// template is rendered around it, the log directory is created, and the
// job's dependency list is filled from the already-submitted upstream
// tasks.
func prepare(task Task, runner string) (*submission, error) {
	job := task.Job()
	cfg, err := task.Config()
	if err != nil {
		return nil, err
	}
	encoded, err := encodeTool(task.Tool(), cfg)
	if err != nil {
		return nil, err
	}
	bootstrap := bootstrapScript(runner, encoded)

	tmpl := job.Template
	if tmpl == "" {
		tmpl = defaultTemplate
	}
	script, err := template.Render(tmpl, map[string]interface{}{
		"header": job.Header,
		"script": bootstrap,
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not render submission script")
	}

	if deps := task.UpstreamJobIDs(); len(deps) > 0 {
		job.Dependencies = deps
	}

	logdir := job.Logdir
	if logdir == "" {
		logdir, err = os.Getwd()
		if err != nil {
			return nil, err
		}
	}
	logdir, err = filepath.Abs(logdir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(logdir, 0777); err != nil {
		return nil, errors.Wrap(err, "could not create log directory")
	}

	return &submission{job: job, script: script, logdir: logdir}, nil
}

// argv builds a scheduler command line, skipping flags with empty values.
type argv struct {
	args []string
}

func (a *argv) flag(name, value string) {
	if value == "" {
		return
	}
	a.args = append(a.args, name, value)
}

func (a *argv) flagJoined(name string, values []string, sep, prefix string) {
	if len(values) == 0 {
		return
	}
	a.args = append(a.args, name, prefix+strings.Join(values, sep))
}

func (a *argv) raw(values ...string) {
	a.args = append(a.args, values...)
}

var errStillQueued = errors.New("job still queued")

// waitForJob polls the cluster listing at a constant interval until the job
// id no longer appears. Absence from the listing, or a listing failure, is
// the terminal condition, not an error.
func waitForJob(c Cluster, jobid string, interval time.Duration) error {
	if jobid == "" {
		return errors.New("no job id specified")
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return backoff.Retry(func() error {
		jobs, err := c.List()
		if err != nil {
			// accounting is unavailable; the job's fate is decided by its
			// result sentinel, not the queue listing
			return nil
		}
		if _, ok := jobs[jobid]; ok {
			return errStillQueued
		}
		return nil
	}, backoff.NewConstantBackOff(interval))
}
