package cluster

import (
	"bytes"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gridpipe/gridpipe/common/stats"
	"github.com/pkg/errors"

	log "github.com/sirupsen/logrus"
)

// SlurmOptions configures a Slurm backend. Zero values fall back to the
// commands on PATH and the default runner executable.
type SlurmOptions struct {
	Sbatch   string   `mapstructure:"sbatch"`
	Squeue   string   `mapstructure:"squeue"`
	Scancel  string   `mapstructure:"scancel"`
	Runner   string   `mapstructure:"runner"`
	ListArgs []string `mapstructure:"list_args"`
}

// Slurm submits jobs through sbatch and tracks them through squeue. The
// submission script is passed on sbatch's stdin; memory is requested
// per-cpu and dependencies as a colon-joined afterok list.
type Slurm struct {
	sbatch   string
	squeue   string
	scancel  string
	runner   string
	listArgs []string
	stat     stats.StatsReceiver
}

// NewSlurm creates a Slurm backend.
func NewSlurm(opts SlurmOptions) *Slurm {
	s := &Slurm{
		sbatch:   opts.Sbatch,
		squeue:   opts.Squeue,
		scancel:  opts.Scancel,
		runner:   opts.Runner,
		listArgs: opts.ListArgs,
		stat:     stats.DefaultStatsReceiver().Scope("cluster", "slurm"),
	}
	if s.sbatch == "" {
		s.sbatch = "sbatch"
	}
	if s.squeue == "" {
		s.squeue = "squeue"
	}
	if s.scancel == "" {
		s.scancel = "scancel"
	}
	if s.runner == "" {
		s.runner = "gridpipe"
	}
	return s
}

// submitArgs maps the generic job spec to sbatch flags.
func (s *Slurm) submitArgs(sub *submission) []string {
	job := sub.job
	a := &argv{}
	a.flag("-J", job.Name)
	a.flag("-t", job.MaxTime)
	a.flag("-p", job.Queue)
	a.flag("--qos", job.Priority)
	if job.Threads > 0 {
		a.flag("-c", strconv.Itoa(job.Threads))
	}
	if job.Tasks > 1 {
		a.flag("-n", strconv.Itoa(job.Tasks))
	}
	if job.MaxMem > 0 {
		a.flag("--mem-per-cpu", strconv.Itoa(job.MaxMem))
	}
	a.flag("-D", job.WorkingDir)
	a.flagJoined("-d", job.Dependencies, ":", "afterok:")
	// %j is substituted with the job id by the scheduler
	a.flag("-o", filepath.Join(sub.logdir, "slurm-%j.out"))
	a.flag("-e", filepath.Join(sub.logdir, "slurm-%j.err"))
	a.raw(job.Extra...)
	return a.args
}

func (s *Slurm) Submit(task Task) (*Feature, error) {
	sub, err := prepare(task, s.runner)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(s.sbatch, s.submitArgs(sub)...)
	cmd.Stdin = strings.NewReader(sub.script)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		s.stat.Counter("submit", "failed").Inc(1)
		return nil, &SubmissionError{Msg: err.Error(), Output: stderr.String()}
	}

	jobid, err := parseSlurmAck(string(out))
	if err != nil {
		s.stat.Counter("submit", "failed").Inc(1)
		return nil, &SubmissionError{Msg: err.Error(), Output: string(out)}
	}
	sub.job.JobID = jobid
	s.stat.Counter("submit", "ok").Inc(1)
	log.WithFields(log.Fields{
		"tool":  task.Name(),
		"jobID": jobid,
	}).Info("Submitted job to slurm")

	return &Feature{
		JobID:  jobid,
		Stdout: filepath.Join(sub.logdir, "slurm-"+jobid+".out"),
		Stderr: filepath.Join(sub.logdir, "slurm-"+jobid+".err"),
	}, nil
}

// parseSlurmAck extracts the job id from sbatch's acknowledgment, e.g.
// "Submitted batch job 1234".
func parseSlurmAck(out string) (string, error) {
	fields := strings.Fields(out)
	if len(fields) < 4 || fields[0] != "Submitted" {
		return "", errors.Errorf("unexpected sbatch acknowledgment %q", out)
	}
	return fields[3], nil
}

func (s *Slurm) List() (map[string]JobState, error) {
	args := append([]string{"-h", "-o", "%i,%t"}, s.listArgs...)
	out, err := exec.Command(s.squeue, args...).Output()
	if err != nil {
		return nil, errors.Wrap(err, "could not list slurm jobs")
	}
	jobs := map[string]JobState{}
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ",", 2)
		if len(parts) != 2 {
			continue
		}
		jobs[parts[0]] = slurmState(parts[1])
	}
	s.stat.Gauge("jobs", "active").Update(int64(len(jobs)))
	return jobs, nil
}

func slurmState(code string) JobState {
	switch code {
	case "R", "CG":
		return StateRunning
	case "PD":
		return StateQueued
	case "CD":
		return StateDone
	case "F", "TO", "NF", "OOM":
		return StateFailed
	case "S":
		return StateHold
	case "CA":
		return StateCanceled
	default:
		return StateQueued
	}
}

func (s *Slurm) Wait(jobid string, interval time.Duration) error {
	return waitForJob(s, jobid, interval)
}

func (s *Slurm) Cancel(jobid string) error {
	if jobid == "" {
		return errors.Errorf("no job id specified")
	}
	var stderr bytes.Buffer
	cmd := exec.Command(s.scancel, jobid)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return errors.Wrap(err, "could not cancel job "+jobid+": "+stderr.String())
	}
	return nil
}
