package tools

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"

	uuid "github.com/nu7hatch/gouuid"
	"github.com/pkg/errors"

	log "github.com/sirupsen/logrus"
)

// State is the lifecycle state of a tool run.
type State int

const (
	Created State = iota
	Validating
	Running
	Succeeded
	Failed
	Finished
)

func (s State) String() string {
	switch s {
	case Created:
		return "CREATED"
	case Validating:
		return "VALIDATING"
	case Running:
		return "RUNNING"
	case Succeeded:
		return "SUCCEEDED"
	case Failed:
		return "FAILED"
	case Finished:
		return "FINISHED"
	default:
		panic(fmt.Sprintf("unexpected tool state %d", int(s)))
	}
}

// Terminal actions that must happen exactly once per run, whether driven by
// the normal failure path or by an asynchronous cancellation.
const (
	actionCleanup = "cleanup"
	actionFail    = "on_fail"
	actionFinish  = "on_finish"
)

// runGuard records which terminal actions have already been performed for
// one run. Both the normal control path and the cancellation path consult
// it, so a cancellation racing the failure path performs each action at
// most once between them.
type runGuard struct {
	mu   sync.Mutex
	done map[string]bool
}

func newRunGuard() *runGuard {
	return &runGuard{done: map[string]bool{}}
}

// first returns true exactly once per action.
func (g *runGuard) first(action string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.done[action] {
		return false
	}
	g.done[action] = true
	return true
}

// Run executes the tool with the given configuration. It fires the on_start
// listeners, invokes the call implementation, and on success fires
// on_success and cleanup(failed=false). A failed call fires on_fail and
// cleanup(failed=true) before the error is returned. The on_finish
// listeners fire in every case. While the run is active, an interrupt,
// terminate, or hangup notification is treated as a failure of the running
// tool and drives the same terminal actions through the shared guard.
func (t *Tool) Run(cfg Config) (interface{}, error) {
	t.mu.Lock()
	t.received = 0
	t.state = Created
	t.mu.Unlock()

	g := newRunGuard()
	if t.HandleSignals {
		sigCh := make(chan os.Signal, 1)
		stopCh := make(chan struct{})
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
		defer func() {
			signal.Stop(sigCh)
			close(stopCh)
		}()
		go func() {
			select {
			case sig := <-sigCh:
				num := 0
				if s, ok := sig.(syscall.Signal); ok {
					num = int(s)
				}
				t.cancel(g, cfg, num)
			case <-stopCh:
			}
		}()
	}
	return t.execute(g, cfg)
}

// cancel is the asynchronous cancellation path. It records the signal,
// kills the running process group, and performs the terminal actions the
// normal path has not already claimed.
func (t *Tool) cancel(g *runGuard, cfg Config, sig int) {
	log.WithFields(log.Fields{
		"tool":   t.Name,
		"signal": sig,
	}).Warn("Run canceled")
	t.mu.Lock()
	t.received = sig
	proc := t.proc
	t.mu.Unlock()
	if proc != nil {
		killGroup(proc.Pid)
	}
	t.stat.Counter("runs", "signaled").Inc(1)
	if g.first(actionFail) {
		t.fire(t.OnFail, cfg)
	}
	if g.first(actionCleanup) {
		t.Cleanup(cfg, true)
	}
	if g.first(actionFinish) {
		t.fire(t.OnFinish, cfg)
	}
}

func (t *Tool) execute(g *runGuard, cfg Config) (result interface{}, err error) {
	id := runID()
	t.setState(Running)
	t.stat.Counter("runs", "started").Inc(1)
	log.WithFields(log.Fields{
		"tool":  t.Name,
		"runID": id,
	}).Info("Running tool")

	t.fire(t.OnStart, cfg)
	defer func() {
		if g.first(actionFinish) {
			t.fire(t.OnFinish, cfg)
		}
		t.setState(Finished)
	}()

	result, err = t.invoke(cfg)
	if err != nil {
		t.setState(Failed)
		t.stat.Counter("runs", "failed").Inc(1)
		log.WithFields(log.Fields{
			"tool":  t.Name,
			"runID": id,
			"error": err,
		}).Error("Tool run failed")
		if g.first(actionFail) {
			t.fire(t.OnFail, cfg)
		}
		if g.first(actionCleanup) {
			t.Cleanup(cfg, true)
		}
		return nil, t.asExecutionError(err)
	}

	t.setState(Succeeded)
	t.stat.Counter("runs", "succeeded").Inc(1)
	t.fire(t.OnSuccess, cfg)
	if g.first(actionCleanup) {
		t.Cleanup(cfg, false)
	}
	return result, nil
}

func (t *Tool) invoke(cfg Config) (interface{}, error) {
	if t.Call != nil {
		return t.Call(t, cfg)
	}
	return t.shellCall(cfg)
}

// shellCall is the default call implementation. It renders the command
// template to a temporary script, runs it through the configured
// interpreter in its own process group, and maps a non-zero exit or an
// unconsumed termination signal to an ExecutionError.
func (t *Tool) shellCall(cfg Config) (interface{}, error) {
	script, err := t.Script(cfg)
	if err != nil {
		return nil, err
	}
	f, err := ioutil.TempFile("", "tool-"+runID()+"-*.sh")
	if err != nil {
		return nil, errors.Wrap(err, "could not write tool script")
	}
	defer os.Remove(f.Name())
	if _, err := f.WriteString(script); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "could not write tool script")
	}
	if err := f.Close(); err != nil {
		return nil, errors.Wrap(err, "could not write tool script")
	}

	cmd := exec.Command(t.Interpreter, f.Name())
	// child processes share a pgid so the whole tree can be killed on
	// cancellation
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if t.Job == nil || t.Job.Verbose {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Start(); err != nil {
		return nil, &ExecutionError{Tool: t.Name, Msg: "interpreter could not be started", Err: err}
	}
	t.mu.Lock()
	t.proc = cmd.Process
	t.mu.Unlock()

	waitErr := cmd.Wait()

	t.mu.Lock()
	t.proc = nil
	received := t.received
	t.mu.Unlock()

	exit, sig := exitStatus(waitErr)
	if sig == 0 {
		sig = received
	}
	if waitErr != nil || sig != 0 {
		e := &ExecutionError{Tool: t.Name, ExitCode: exit, Signal: sig, Err: waitErr}
		if sig != 0 {
			e.Msg = fmt.Sprintf("interpreter terminated by signal %d", sig)
		} else {
			e.Msg = fmt.Sprintf("interpreter exited with %d", exit)
		}
		return nil, e
	}
	return t.Returns(cfg)
}

func (t *Tool) fire(listeners []Listener, cfg Config) {
	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.WithFields(log.Fields{
						"tool":  t.Name,
						"panic": r,
					}).Warn("Listener call failed")
				}
			}()
			l(t, cfg)
		}()
	}
}

func (t *Tool) asExecutionError(err error) error {
	if _, ok := err.(*ExecutionError); ok {
		return err
	}
	if _, ok := err.(*ValidationError); ok {
		return err
	}
	return &ExecutionError{Tool: t.Name, Err: err}
}

// exitStatus extracts the exit code and termination signal from a Wait
// error.
func exitStatus(err error) (exit int, sig int) {
	if err == nil {
		return 0, 0
	}
	ee, ok := err.(*exec.ExitError)
	if !ok {
		return -1, 0
	}
	ws, ok := ee.Sys().(syscall.WaitStatus)
	if !ok {
		return -1, 0
	}
	if ws.Signaled() {
		return -1, int(ws.Signal())
	}
	return ws.ExitStatus(), 0
}

func killGroup(pid int) {
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		log.WithFields(log.Fields{
			"pid":   pid,
			"error": err,
		}).Error("Error finding pgid")
		return
	}
	if err := syscall.Kill(-pgid, syscall.SIGKILL); err != nil {
		log.WithFields(log.Fields{
			"pgid":  pgid,
			"error": err,
		}).Error("Error killing process group")
	}
}

func runID() string {
	id, err := uuid.NewV4()
	if err != nil {
		return "unknown"
	}
	return id.String()
}
