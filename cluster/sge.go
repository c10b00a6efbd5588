package cluster

import (
	"bytes"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gridpipe/gridpipe/common/stats"
	"github.com/pkg/errors"

	log "github.com/sirupsen/logrus"
)

// SGEOptions configures a Sun Grid Engine backend.
type SGEOptions struct {
	Qsub     string   `mapstructure:"qsub"`
	Qstat    string   `mapstructure:"qstat"`
	Qdel     string   `mapstructure:"qdel"`
	Runner   string   `mapstructure:"runner"`
	ListArgs []string `mapstructure:"list_args"`
}

// SGE submits jobs through qsub and tracks them through qstat. Wall time is
// requested in seconds via h_rt, memory per node via virtual_free, and
// dependencies as a comma-joined hold list.
type SGE struct {
	qsub     string
	qstat    string
	qdel     string
	runner   string
	listArgs []string
	stat     stats.StatsReceiver
}

// NewSGE creates a Sun Grid Engine backend.
func NewSGE(opts SGEOptions) *SGE {
	s := &SGE{
		qsub:     opts.Qsub,
		qstat:    opts.Qstat,
		qdel:     opts.Qdel,
		runner:   opts.Runner,
		listArgs: opts.ListArgs,
		stat:     stats.DefaultStatsReceiver().Scope("cluster", "sge"),
	}
	if s.qsub == "" {
		s.qsub = "qsub"
	}
	if s.qstat == "" {
		s.qstat = "qstat"
	}
	if s.qdel == "" {
		s.qdel = "qdel"
	}
	if s.runner == "" {
		s.runner = "gridpipe"
	}
	return s
}

// submitArgs maps the generic job spec to qsub flags.
func (s *SGE) submitArgs(sub *submission) ([]string, error) {
	job := sub.job
	a := &argv{}
	a.flag("-N", job.Name)
	a.flag("-q", job.Queue)
	a.flag("-p", job.Priority)
	if job.Threads > 1 {
		a.raw("-pe", "smp", strconv.Itoa(job.Threads))
	}
	if job.MaxTime != "" {
		secs, err := parseClockTime(job.MaxTime)
		if err != nil {
			return nil, err
		}
		a.flag("-l", "h_rt="+strconv.Itoa(secs))
	}
	if job.MaxMem > 0 {
		a.flag("-l", "virtual_free="+strconv.Itoa(job.MaxMem)+"M")
	}
	if job.WorkingDir != "" {
		if _, err := os.Stat(job.WorkingDir); err == nil {
			a.flag("-wd", job.WorkingDir)
		}
	}
	a.flagJoined("-hold_jid", job.Dependencies, ",", "")
	a.flag("-now", "n")
	a.flag("-o", sub.logdir)
	a.flag("-e", sub.logdir)
	a.raw(job.Extra...)
	return a.args, nil
}

// parseClockTime converts a [hh:]mm:ss wall time, or a plain number of
// minutes, into seconds.
func parseClockTime(t string) (int, error) {
	parts := strings.Split(t, ":")
	nums := make([]int, len(parts))
	for i, p := range parts {
		if p == "" {
			p = "0"
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, errors.Errorf("invalid wall time %q", t)
		}
		nums[i] = n
	}
	switch len(nums) {
	case 1:
		return nums[0] * 60, nil
	case 2:
		return nums[0]*60 + nums[1], nil
	case 3:
		return nums[0]*3600 + nums[1]*60 + nums[2], nil
	default:
		return 0, errors.Errorf("invalid wall time %q", t)
	}
}

var sgeAckExpr = regexp.MustCompile(`Your job (\d+) .* has been submitted`)

func (s *SGE) Submit(task Task) (*Feature, error) {
	sub, err := prepare(task, s.runner)
	if err != nil {
		return nil, err
	}
	args, err := s.submitArgs(sub)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(s.qsub, args...)
	cmd.Stdin = strings.NewReader(sub.script)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		s.stat.Counter("submit", "failed").Inc(1)
		return nil, &SubmissionError{Msg: err.Error(), Output: stderr.String()}
	}

	match := sgeAckExpr.FindStringSubmatch(string(out))
	if match == nil {
		s.stat.Counter("submit", "failed").Inc(1)
		return nil, &SubmissionError{Msg: "unexpected qsub acknowledgment", Output: string(out)}
	}
	jobid := match[1]
	sub.job.JobID = jobid
	s.stat.Counter("submit", "ok").Inc(1)
	log.WithFields(log.Fields{
		"tool":  task.Name(),
		"jobID": jobid,
	}).Info("Submitted job to sge")

	name := sub.job.Name
	if name == "" {
		name = task.Name()
	}
	return &Feature{
		JobID:  jobid,
		Stdout: filepath.Join(sub.logdir, name+".o"+jobid),
		Stderr: filepath.Join(sub.logdir, name+".e"+jobid),
	}, nil
}

// sgeUser resolves the account whose jobs are listed. An empty result
// omits the -u flag instead of sending qstat -u "".
func sgeUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return ""
}

func (s *SGE) List() (map[string]JobState, error) {
	var args []string
	if u := sgeUser(); u != "" {
		args = append(args, "-u", u)
	}
	args = append(args, s.listArgs...)
	out, err := exec.Command(s.qstat, args...).Output()
	if err != nil {
		return nil, errors.Wrap(err, "could not list sge jobs")
	}
	jobs := map[string]JobState{}
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		// header and separator lines carry no numeric job id
		if _, err := strconv.Atoi(fields[0]); err != nil {
			continue
		}
		jobs[fields[0]] = sgeState(fields[4])
	}
	s.stat.Gauge("jobs", "active").Update(int64(len(jobs)))
	return jobs, nil
}

func sgeState(code string) JobState {
	switch {
	case strings.HasPrefix(code, "E"):
		return StateFailed
	case strings.HasPrefix(code, "d"):
		return StateCanceled
	case strings.HasPrefix(code, "h"):
		return StateHold
	case strings.Contains(code, "r") || strings.Contains(code, "t"):
		return StateRunning
	default:
		return StateQueued
	}
}

func (s *SGE) Wait(jobid string, interval time.Duration) error {
	return waitForJob(s, jobid, interval)
}

func (s *SGE) Cancel(jobid string) error {
	if jobid == "" {
		return errors.New("no job id specified")
	}
	var stderr bytes.Buffer
	cmd := exec.Command(s.qdel, jobid)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return errors.Wrap(err, "could not cancel job "+jobid+": "+stderr.String())
	}
	return nil
}
