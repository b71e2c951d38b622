package rest

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/animus-labs/runkv/runstore"
)

// flexInt64 decodes int64 wire fields that arrive either as JSON
// numbers or as proto3-style strings, and encodes as a number.
type flexInt64 int64

func (i *flexInt64) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*i = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("parse int64 %q: %w", s, err)
	}
	*i = flexInt64(v)
	return nil
}

func (i flexInt64) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(int64(i), 10)), nil
}

// Reserved tag keys of the wire protocol. The store-neutral names of
// runstore translate to these at the HTTP boundary in both
// directions.
const (
	wireTagRunName = "mlflow.runName"
	wireTagUser    = "mlflow.user"
)

func toWireTagKey(key string) string {
	switch key {
	case runstore.TagRunName:
		return wireTagRunName
	case runstore.TagUser:
		return wireTagUser
	}
	return key
}

func fromWireTagKey(key string) string {
	switch key {
	case wireTagRunName:
		return runstore.TagRunName
	case wireTagUser:
		return runstore.TagUser
	}
	return key
}

type wireKeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type wireMetric struct {
	Key       string    `json:"key"`
	Value     float64   `json:"value"`
	Timestamp flexInt64 `json:"timestamp"`
	Step      flexInt64 `json:"step,omitempty"`
}

type wireRunInfo struct {
	RunID          string    `json:"run_id"`
	ExperimentID   string    `json:"experiment_id"`
	Status         string    `json:"status"`
	StartTime      flexInt64 `json:"start_time"`
	EndTime        flexInt64 `json:"end_time,omitempty"`
	LifecycleStage string    `json:"lifecycle_stage"`
	ArtifactURI    string    `json:"artifact_uri,omitempty"`
}

type wireRunData struct {
	Metrics []wireMetric   `json:"metrics,omitempty"`
	Params  []wireKeyValue `json:"params,omitempty"`
	Tags    []wireKeyValue `json:"tags,omitempty"`
}

type wireRun struct {
	Info wireRunInfo `json:"info"`
	Data wireRunData `json:"data"`
}

func (r wireRun) toRun() runstore.Run {
	run := runstore.Run{
		ID:           r.Info.RunID,
		ExperimentID: r.Info.ExperimentID,
		Status:       runstore.RunStatus(r.Info.Status),
		Lifecycle:    runstore.LifecycleStage(r.Info.LifecycleStage),
		StartedAt:    fromMillis(int64(r.Info.StartTime)),
	}
	if run.Lifecycle == "" {
		run.Lifecycle = runstore.LifecycleActive
	}
	if r.Info.EndTime > 0 {
		ended := fromMillis(int64(r.Info.EndTime))
		run.EndedAt = &ended
	}
	if len(r.Data.Tags) > 0 {
		run.Tags = make(map[string]string, len(r.Data.Tags))
		for _, kv := range r.Data.Tags {
			run.Tags[fromWireTagKey(kv.Key)] = kv.Value
		}
	}
	if len(r.Data.Params) > 0 {
		run.Params = make(map[string]string, len(r.Data.Params))
		for _, kv := range r.Data.Params {
			run.Params[kv.Key] = kv.Value
		}
	}
	if len(r.Data.Metrics) > 0 {
		run.Metrics = make(map[string][]runstore.Metric, len(r.Data.Metrics))
		for _, m := range r.Data.Metrics {
			run.Metrics[m.Key] = append(run.Metrics[m.Key], runstore.Metric{
				Value:     m.Value,
				Step:      int64(m.Step),
				Timestamp: fromMillis(int64(m.Timestamp)),
			})
		}
	}
	return run
}

func tagsToWire(tags map[string]string) []wireKeyValue {
	if len(tags) == 0 {
		return nil
	}
	out := make([]wireKeyValue, 0, len(tags))
	for k, v := range tags {
		out = append(out, wireKeyValue{Key: toWireTagKey(k), Value: v})
	}
	return out
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
