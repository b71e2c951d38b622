package runstore

import (
	"errors"
	"strings"
	"time"
)

// RunStatus is the execution status of a run.
type RunStatus string

const (
	StatusRunning  RunStatus = "RUNNING"
	StatusFinished RunStatus = "FINISHED"
	StatusFailed   RunStatus = "FAILED"
	StatusKilled   RunStatus = "KILLED"
)

// Terminal reports whether the status marks a completed run.
func (s RunStatus) Terminal() bool {
	switch s {
	case StatusFinished, StatusFailed, StatusKilled:
		return true
	}
	return false
}

// LifecycleStage tracks soft deletion of a run.
type LifecycleStage string

const (
	LifecycleActive  LifecycleStage = "active"
	LifecycleDeleted LifecycleStage = "deleted"
)

// Metric is a single logged metric point.
type Metric struct {
	Value     float64
	Step      int64
	Timestamp time.Time
}

// Run is a single tracked execution record. Tags and params are
// last-write-wins string maps; metrics accumulate points per key in
// log order. Artifacts are addressed by path relative to the run's
// artifact root and are handled by the transport methods of Client.
type Run struct {
	ID           string
	ExperimentID string
	Status       RunStatus
	Lifecycle    LifecycleStage
	StartedAt    time.Time
	EndedAt      *time.Time
	Tags         map[string]string
	Params       map[string]string
	Metrics      map[string][]Metric
}

func (r Run) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("run id is required")
	}
	if strings.TrimSpace(r.ExperimentID) == "" {
		return errors.New("experiment id is required")
	}
	if strings.TrimSpace(string(r.Status)) == "" {
		return errors.New("status is required")
	}
	return nil
}

// Clone returns a deep copy so stores can hand out runs without
// sharing mutable maps with callers.
func (r Run) Clone() Run {
	out := r
	if r.EndedAt != nil {
		t := *r.EndedAt
		out.EndedAt = &t
	}
	if r.Tags != nil {
		out.Tags = make(map[string]string, len(r.Tags))
		for k, v := range r.Tags {
			out.Tags[k] = v
		}
	}
	if r.Params != nil {
		out.Params = make(map[string]string, len(r.Params))
		for k, v := range r.Params {
			out.Params[k] = v
		}
	}
	if r.Metrics != nil {
		out.Metrics = make(map[string][]Metric, len(r.Metrics))
		for k, v := range r.Metrics {
			out.Metrics[k] = append([]Metric(nil), v...)
		}
	}
	return out
}

// Reserved tag keys understood by every store. Backends that speak a
// foreign wire protocol translate them to their native equivalents.
const (
	// TagRunName carries the human-readable display name of a run.
	TagRunName = "runstore.runName"
	// TagUser records the identity that created the run.
	TagUser = "runstore.user"
)
