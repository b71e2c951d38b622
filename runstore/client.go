package runstore

import "context"

// Client is the contract every run store backend satisfies. Calls are
// synchronous and perform no internal retries; cancellation and
// deadlines arrive through the context. Implementations are safe for
// use from a single goroutine per value unless documented otherwise.
type Client interface {
	// GetOrCreateExperiment resolves an experiment name to its id,
	// creating the experiment when it does not exist yet.
	GetOrCreateExperiment(ctx context.Context, name string) (string, error)

	// CreateRun starts a new RUNNING run in the experiment. tags may
	// be nil.
	CreateRun(ctx context.Context, experimentID string, tags map[string]string) (Run, error)
	// GetRun fetches a run by id. It returns ErrNotFound for unknown
	// ids and ErrDeleted for runs past soft deletion.
	GetRun(ctx context.Context, runID string) (Run, error)
	// DeleteRun flips the run lifecycle to deleted. Deleted runs no
	// longer appear in search results.
	DeleteRun(ctx context.Context, runID string) error

	SetTag(ctx context.Context, runID, key, value string) error
	LogParam(ctx context.Context, runID, key, value string) error
	LogMetric(ctx context.Context, runID, key string, value float64, step int64) error
	// SetTerminated stamps the end time and a terminal status.
	SetTerminated(ctx context.Context, runID string, status RunStatus) error

	// SearchRuns returns active runs of the experiment matching the
	// filter. maxResults is clamped to MaxSearchResults; zero or
	// negative means the full bound.
	SearchRuns(ctx context.Context, experimentID string, filter Filter, maxResults int) ([]Run, error)

	// UploadArtifact stores the local file under artifactPath relative
	// to the run's artifact root. An empty artifactPath places the
	// file at the root under its base name.
	UploadArtifact(ctx context.Context, runID, localPath, artifactPath string) error
	// UploadArtifactDir stores the local directory tree under
	// artifactPath, preserving the directory's base name.
	UploadArtifactDir(ctx context.Context, runID, localDir, artifactPath string) error
	// DownloadArtifact fetches one artifact into destDir and returns
	// the local path. Missing artifacts yield ErrNotFound.
	DownloadArtifact(ctx context.Context, runID, artifactPath, destDir string) (string, error)
	// DownloadArtifactDir fetches an artifact subtree into destDir and
	// returns the local directory path.
	DownloadArtifactDir(ctx context.Context, runID, artifactPath, destDir string) (string, error)
}
