// Package local implements runstore.Client on the local filesystem.
// Experiments live in a single JSON index, every run is one JSON
// document, and artifacts sit in a directory next to it:
//
//	<root>/experiments.json
//	<root>/runs/<run_id>/run.json
//	<root>/runs/<run_id>/artifacts/...
//
// Writes are atomic per document (temp file plus rename) but the
// store assumes a single writer; concurrent writers may lose updates
// to the experiment index.
package local

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/animus-labs/runkv/runstore"
)

// Store is a file-backed run store rooted at one directory.
type Store struct {
	root string
}

func Open(root string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("root directory is required")
	}
	if err := os.MkdirAll(filepath.Join(root, "runs"), 0o755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the directory backing the store.
func (s *Store) Root() string { return s.root }

func (s *Store) experimentsPath() string {
	return filepath.Join(s.root, "experiments.json")
}

func (s *Store) runsDir() string {
	return filepath.Join(s.root, "runs")
}

func (s *Store) runDir(runID string) string {
	return filepath.Join(s.runsDir(), runID)
}

func (s *Store) runDoc(runID string) string {
	return filepath.Join(s.runDir(runID), "run.json")
}

func (s *Store) artifactRoot(runID string) string {
	return filepath.Join(s.runDir(runID), "artifacts")
}

func (s *Store) loadExperiments() (map[string]string, error) {
	data, err := os.ReadFile(s.experimentsPath())
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read experiment index: %w", err)
	}
	exps := map[string]string{}
	if err := json.Unmarshal(data, &exps); err != nil {
		return nil, fmt.Errorf("decode experiment index: %w", err)
	}
	return exps, nil
}

func (s *Store) saveExperiments(exps map[string]string) error {
	return writeJSON(s.experimentsPath(), exps)
}

func (s *Store) experimentExists(id string) (bool, error) {
	exps, err := s.loadExperiments()
	if err != nil {
		return false, err
	}
	for _, expID := range exps {
		if expID == id {
			return true, nil
		}
	}
	return false, nil
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parent of %s: %w", path, err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// runDocument is the on-disk shape of a run.
type runDocument struct {
	ID           string                    `json:"id"`
	ExperimentID string                    `json:"experiment_id"`
	Status       string                    `json:"status"`
	Lifecycle    string                    `json:"lifecycle"`
	StartedAt    time.Time                 `json:"started_at"`
	EndedAt      *time.Time                `json:"ended_at,omitempty"`
	Tags         map[string]string         `json:"tags,omitempty"`
	Params       map[string]string         `json:"params,omitempty"`
	Metrics      map[string][]metricRecord `json:"metrics,omitempty"`
}

type metricRecord struct {
	Value     float64   `json:"value"`
	Step      int64     `json:"step"`
	Timestamp time.Time `json:"timestamp"`
}

func toDocument(r runstore.Run) runDocument {
	doc := runDocument{
		ID:           r.ID,
		ExperimentID: r.ExperimentID,
		Status:       string(r.Status),
		Lifecycle:    string(r.Lifecycle),
		StartedAt:    r.StartedAt,
		EndedAt:      r.EndedAt,
		Tags:         r.Tags,
		Params:       r.Params,
	}
	if len(r.Metrics) > 0 {
		doc.Metrics = make(map[string][]metricRecord, len(r.Metrics))
		for k, points := range r.Metrics {
			recs := make([]metricRecord, len(points))
			for i, p := range points {
				recs[i] = metricRecord{Value: p.Value, Step: p.Step, Timestamp: p.Timestamp}
			}
			doc.Metrics[k] = recs
		}
	}
	return doc
}

func (d runDocument) toRun() runstore.Run {
	run := runstore.Run{
		ID:           d.ID,
		ExperimentID: d.ExperimentID,
		Status:       runstore.RunStatus(d.Status),
		Lifecycle:    runstore.LifecycleStage(d.Lifecycle),
		StartedAt:    d.StartedAt,
		EndedAt:      d.EndedAt,
		Tags:         d.Tags,
		Params:       d.Params,
	}
	if len(d.Metrics) > 0 {
		run.Metrics = make(map[string][]runstore.Metric, len(d.Metrics))
		for k, recs := range d.Metrics {
			points := make([]runstore.Metric, len(recs))
			for i, rec := range recs {
				points[i] = runstore.Metric{Value: rec.Value, Step: rec.Step, Timestamp: rec.Timestamp}
			}
			run.Metrics[k] = points
		}
	}
	return run
}

func newRunID() string { return uuid.NewString() }
