package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/animus-labs/runkv/runstore"
)

func (s *Store) GetOrCreateExperiment(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("experiment name is required")
	}
	exps, err := s.loadExperiments()
	if err != nil {
		return "", err
	}
	if id, ok := exps[name]; ok {
		return id, nil
	}
	id := newRunID()
	exps[name] = id
	if err := s.saveExperiments(exps); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) CreateRun(ctx context.Context, experimentID string, tags map[string]string) (runstore.Run, error) {
	if err := ctx.Err(); err != nil {
		return runstore.Run{}, err
	}
	ok, err := s.experimentExists(experimentID)
	if err != nil {
		return runstore.Run{}, err
	}
	if !ok {
		return runstore.Run{}, fmt.Errorf("experiment %s: %w", experimentID, runstore.ErrNotFound)
	}

	run := runstore.Run{
		ID:           newRunID(),
		ExperimentID: experimentID,
		Status:       runstore.StatusRunning,
		Lifecycle:    runstore.LifecycleActive,
		StartedAt:    time.Now().UTC(),
		Tags:         map[string]string{},
	}
	for k, v := range tags {
		run.Tags[k] = v
	}
	if err := writeJSON(s.runDoc(run.ID), toDocument(run)); err != nil {
		return runstore.Run{}, err
	}
	return run.Clone(), nil
}

func (s *Store) readRun(runID string) (runstore.Run, error) {
	data, err := os.ReadFile(s.runDoc(runID))
	if os.IsNotExist(err) {
		return runstore.Run{}, fmt.Errorf("run %s: %w", runID, runstore.ErrNotFound)
	}
	if err != nil {
		return runstore.Run{}, fmt.Errorf("read run %s: %w", runID, err)
	}
	var doc runDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return runstore.Run{}, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return doc.toRun(), nil
}

func (s *Store) GetRun(ctx context.Context, runID string) (runstore.Run, error) {
	if err := ctx.Err(); err != nil {
		return runstore.Run{}, err
	}
	run, err := s.readRun(runID)
	if err != nil {
		return runstore.Run{}, err
	}
	if run.Lifecycle == runstore.LifecycleDeleted {
		return runstore.Run{}, fmt.Errorf("run %s: %w", runID, runstore.ErrDeleted)
	}
	return run, nil
}

func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	run, err := s.readRun(runID)
	if err != nil {
		return err
	}
	if run.Lifecycle == runstore.LifecycleDeleted {
		return nil
	}
	run.Lifecycle = runstore.LifecycleDeleted
	return writeJSON(s.runDoc(runID), toDocument(run))
}

func (s *Store) mutateRun(ctx context.Context, runID string, mutate func(*runstore.Run)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	run, err := s.readRun(runID)
	if err != nil {
		return err
	}
	if run.Lifecycle == runstore.LifecycleDeleted {
		return fmt.Errorf("run %s: %w", runID, runstore.ErrDeleted)
	}
	mutate(&run)
	return writeJSON(s.runDoc(runID), toDocument(run))
}

func (s *Store) SetTag(ctx context.Context, runID, key, value string) error {
	return s.mutateRun(ctx, runID, func(r *runstore.Run) {
		if r.Tags == nil {
			r.Tags = map[string]string{}
		}
		r.Tags[key] = value
	})
}

func (s *Store) LogParam(ctx context.Context, runID, key, value string) error {
	return s.mutateRun(ctx, runID, func(r *runstore.Run) {
		if r.Params == nil {
			r.Params = map[string]string{}
		}
		r.Params[key] = value
	})
}

func (s *Store) LogMetric(ctx context.Context, runID, key string, value float64, step int64) error {
	return s.mutateRun(ctx, runID, func(r *runstore.Run) {
		if r.Metrics == nil {
			r.Metrics = map[string][]runstore.Metric{}
		}
		r.Metrics[key] = append(r.Metrics[key], runstore.Metric{
			Value:     value,
			Step:      step,
			Timestamp: time.Now().UTC(),
		})
	})
}

func (s *Store) SetTerminated(ctx context.Context, runID string, status runstore.RunStatus) error {
	if status == "" {
		status = runstore.StatusFinished
	}
	if !status.Terminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}
	return s.mutateRun(ctx, runID, func(r *runstore.Run) {
		now := time.Now().UTC()
		r.Status = status
		r.EndedAt = &now
	})
}

func (s *Store) SearchRuns(ctx context.Context, experimentID string, filter runstore.Filter, maxResults int) ([]runstore.Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if maxResults <= 0 || maxResults > runstore.MaxSearchResults {
		maxResults = runstore.MaxSearchResults
	}

	entries, err := os.ReadDir(s.runsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list runs: %w", err)
	}

	var matched []runstore.Run
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		run, err := s.readRun(entry.Name())
		if err != nil {
			if errors.Is(err, runstore.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if run.Lifecycle != runstore.LifecycleActive || run.ExperimentID != experimentID {
			continue
		}
		if !filter.Matches(run) {
			continue
		}
		matched = append(matched, run)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].StartedAt.Equal(matched[j].StartedAt) {
			return matched[i].StartedAt.After(matched[j].StartedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	if len(matched) > maxResults {
		matched = matched[:maxResults]
	}
	return matched, nil
}
