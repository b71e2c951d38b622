// Package session couples one tracked run with a staged artifact manager.
//
// A Session is the explicit pipeline context: Start creates (or attaches to)
// a run, initializes a scratch directory and points the manager's default
// upload destination at the session run. Pipeline code receives the Session
// or its Manager as a parameter; there is no package-level active run.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/animus-labs/runkv/runstore"
	"github.com/animus-labs/runkv/runtree"
	"github.com/animus-labs/runkv/stage"
)

// StartConfig describes the run and scratch setup for a Session.
type StartConfig struct {
	// Client is the run store backing the session. Required.
	Client runstore.Client

	// Experiment names the experiment the session run lives in. It is
	// created when absent. Required unless RunID is set.
	Experiment string

	// RunID attaches the session to an existing active run instead of
	// creating a new one.
	RunID string

	// RunName, when set, is stored as the run name tag of a newly created
	// run.
	RunName string

	// ParentRun tags the new run as a child of the given run so tree
	// utilities can group them.
	ParentRun string

	// Tags are set on a newly created run.
	Tags map[string]string

	// ScratchDir pins the manager scratch directory. Empty means a fresh
	// temporary directory.
	ScratchDir string

	// KeepScratch disables scratch removal on End.
	KeepScratch bool

	// Log receives session diagnostics. Defaults to slog.Default().
	Log *slog.Logger
}

func (c StartConfig) validate() error {
	if c.Client == nil {
		return errors.New("run store client is required")
	}
	if strings.TrimSpace(c.Experiment) == "" && strings.TrimSpace(c.RunID) == "" {
		return errors.New("experiment name is required")
	}
	return nil
}

// Session is one tracked run plus the artifact manager logging to it.
type Session struct {
	client  runstore.Client
	run     runstore.Run
	expID   string
	manager *stage.Manager
	source  string
	log     *slog.Logger
	ended   bool
}

// Start opens a session: it resolves the experiment, creates a RUNNING run
// (or attaches to cfg.RunID) and initializes a stage.Manager whose default
// destination is the session run. End releases both again.
func Start(ctx context.Context, cfg StartConfig) (*Session, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	var run runstore.Run
	if id := strings.TrimSpace(cfg.RunID); id != "" {
		attached, err := cfg.Client.GetRun(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("attach run: %w", err)
		}
		run = attached
	} else {
		expID, err := cfg.Client.GetOrCreateExperiment(ctx, cfg.Experiment)
		if err != nil {
			return nil, fmt.Errorf("resolve experiment: %w", err)
		}
		tags := make(map[string]string, len(cfg.Tags)+2)
		for k, v := range cfg.Tags {
			tags[k] = v
		}
		if cfg.RunName != "" {
			tags[runstore.TagRunName] = cfg.RunName
		}
		if cfg.ParentRun != "" {
			tags[runtree.DefaultParentTag] = cfg.ParentRun
		}
		created, err := cfg.Client.CreateRun(ctx, expID, tags)
		if err != nil {
			return nil, fmt.Errorf("create run: %w", err)
		}
		run = created
	}

	var opts []stage.ManagerOption
	if cfg.ScratchDir != "" {
		opts = append(opts, stage.WithScratchDir(cfg.ScratchDir))
	}
	if cfg.KeepScratch {
		opts = append(opts, stage.WithKeepScratch())
	}
	opts = append(opts, stage.WithLogger(log))

	manager, err := stage.NewManager(cfg.Client, opts...)
	if err != nil {
		return nil, err
	}
	if err := manager.Init(); err != nil {
		if terr := cfg.Client.SetTerminated(ctx, run.ID, runstore.StatusFailed); terr != nil {
			log.Warn("terminate session run", "run_id", run.ID, "error", terr)
		}
		return nil, fmt.Errorf("init scratch dir: %w", err)
	}
	manager.SetDestination(run.ID)

	return &Session{
		client:  cfg.Client,
		run:     run,
		expID:   run.ExperimentID,
		manager: manager,
		log:     log,
	}, nil
}

// Run returns the session run as it was at Start.
func (s *Session) Run() runstore.Run { return s.run }

// ExperimentID returns the experiment the session run belongs to.
func (s *Session) ExperimentID() string { return s.expID }

// Manager returns the artifact manager logging to the session run.
func (s *Session) Manager() *stage.Manager { return s.manager }

// SetLoad routes stage loads to a previous run. No stages means all stages.
func (s *Session) SetLoad(runID string, stages ...string) {
	s.source = runID
	s.manager.SetLoad(runID, stages...)
}

// SetSkipLog suppresses uploads for the given stages. No stages means all.
func (s *Session) SetSkipLog(stages ...string) {
	s.manager.SetSkipLog(stages...)
}

// LoadInfo reports the experiment the session logs to and the run its stage
// loads were last routed to. The source is empty until SetLoad is called.
func (s *Session) LoadInfo() (experimentID, sourceRunID string) {
	return s.expID, s.source
}

// End terminates the session run as FINISHED and removes the scratch
// directory. It is a no-op on an already ended session.
func (s *Session) End(ctx context.Context) error {
	return s.EndWithStatus(ctx, runstore.StatusFinished)
}

// EndWithStatus is End with an explicit terminal status, for FAILED or
// KILLED pipelines.
func (s *Session) EndWithStatus(ctx context.Context, status runstore.RunStatus) error {
	if !status.Terminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}
	if s.ended {
		return nil
	}
	s.ended = true
	termErr := s.client.SetTerminated(ctx, s.run.ID, status)
	if termErr != nil {
		termErr = fmt.Errorf("terminate run %s: %w", s.run.ID, termErr)
	}
	return errors.Join(termErr, s.manager.Cleanup())
}
