package tools

// Job defines how a Tool is executed on a cluster or locally. It is
// evaluated at submission time by the cluster backend, which maps the
// generic fields to scheduler-specific flags.
type Job struct {
	// Template overrides the default submission script template. It is
	// rendered with ${header} and ${script} bindings.
	Template string `json:"template,omitempty" yaml:"template,omitempty"`
	// Name of the job as shown by the scheduler.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	// MaxTime is the wall clock limit, either plain minutes or [hh:]mm:ss.
	MaxTime string `json:"max_time,omitempty" yaml:"max_time,omitempty"`
	// MaxMem is the memory limit in MB.
	MaxMem int `json:"max_mem,omitempty" yaml:"max_mem,omitempty"`
	// Threads is the number of cpu slots per task.
	Threads int `json:"threads" yaml:"threads"`
	// Tasks is the number of tasks executed by the job.
	Tasks int `json:"tasks" yaml:"tasks"`
	// Queue the job is submitted to.
	Queue string `json:"queue,omitempty" yaml:"queue,omitempty"`
	// Priority or QoS of the job.
	Priority string `json:"priority,omitempty" yaml:"priority,omitempty"`
	// Dependencies holds remote job ids this job waits for. It is filled
	// at submission time from already-submitted upstream tools.
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	// WorkingDir of the job.
	WorkingDir string `json:"working_dir,omitempty" yaml:"working_dir,omitempty"`
	// Extra flags passed through to the submission command untouched.
	Extra []string `json:"extra,omitempty" yaml:"extra,omitempty"`
	// Header is rendered verbatim into the submission script before the
	// execution commands, e.g. to set up the environment.
	Header string `json:"header,omitempty" yaml:"header,omitempty"`
	// Verbose controls whether child process output is shown.
	Verbose bool `json:"verbose" yaml:"verbose"`
	// Logdir is the base directory for stdout/stderr logs. Created on
	// submission if absent.
	Logdir string `json:"logdir,omitempty" yaml:"logdir,omitempty"`
	// JobID is assigned by the scheduler after submission.
	JobID string `json:"jobid,omitempty" yaml:"jobid,omitempty"`
}

// NewJob returns a job spec with the default resource settings.
func NewJob() *Job {
	return &Job{
		Threads: 1,
		Tasks:   1,
		Verbose: true,
	}
}

// Context exposes the job fields to template placeholders like ${job.name}.
func (j *Job) Context() map[string]interface{} {
	return map[string]interface{}{
		"name":        j.Name,
		"max_time":    j.MaxTime,
		"max_mem":     j.MaxMem,
		"threads":     j.Threads,
		"tasks":       j.Tasks,
		"queue":       j.Queue,
		"priority":    j.Priority,
		"working_dir": j.WorkingDir,
		"logdir":      j.Logdir,
		"jobid":       j.JobID,
	}
}
