package cluster

import (
	"time"
)

// Feature is the handle to a submitted remote job: its scheduler id and the
// paths of its stdout/stderr logs. Features are immutable once returned by
// Submit.
type Feature struct {
	JobID  string
	Stdout string
	Stderr string
}

// ID returns the remote job id.
func (f *Feature) ID() string { return f.JobID }

// Wait blocks until the job disappears from the cluster queue. No success
// or failure judgment is made; that is left to Get.
func (f *Feature) Wait(c Cluster, interval time.Duration) error {
	return c.Wait(f.JobID, interval)
}

// Get waits for the job to leave the queue and then decodes the result
// from the job's stdout log. A remote tool failure surfaces as an
// ExecutionError; an unreadable result as a RetrievalError.
func (f *Feature) Get(c Cluster, interval time.Duration) (interface{}, error) {
	if err := f.Wait(c, interval); err != nil {
		return nil, err
	}
	return ReadResultFile(f.Stdout)
}

// Cancel removes the job from the queue.
func (f *Feature) Cancel(c Cluster) error {
	return c.Cancel(f.JobID)
}
