package local

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/animus-labs/runkv/runstore"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() err=%v", err)
	}
	return store
}

func TestGetOrCreateExperiment_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	id1, err := store.GetOrCreateExperiment(ctx, "exp")
	if err != nil {
		t.Fatalf("GetOrCreateExperiment() err=%v", err)
	}
	id2, err := store.GetOrCreateExperiment(ctx, "exp")
	if err != nil {
		t.Fatalf("GetOrCreateExperiment() err=%v", err)
	}
	if id1 != id2 {
		t.Fatalf("experiment ids differ: %s vs %s", id1, id2)
	}

	other, err := store.GetOrCreateExperiment(ctx, "other")
	if err != nil {
		t.Fatalf("GetOrCreateExperiment() err=%v", err)
	}
	if other == id1 {
		t.Fatalf("distinct experiments share id %s", id1)
	}
}

func TestGetOrCreateExperiment_BlankName(t *testing.T) {
	store := newStore(t)
	if _, err := store.GetOrCreateExperiment(context.Background(), "  "); err == nil {
		t.Fatalf("GetOrCreateExperiment() expected error for blank name")
	}
}

func TestCreateRun_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	exp, err := store.GetOrCreateExperiment(ctx, "exp")
	if err != nil {
		t.Fatalf("GetOrCreateExperiment() err=%v", err)
	}

	created, err := store.CreateRun(ctx, exp, map[string]string{"k": "v"})
	if err != nil {
		t.Fatalf("CreateRun() err=%v", err)
	}
	if created.Status != runstore.StatusRunning {
		t.Fatalf("status=%s, want RUNNING", created.Status)
	}

	got, err := store.GetRun(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetRun() err=%v", err)
	}
	if got.ExperimentID != exp || got.Tags["k"] != "v" {
		t.Fatalf("GetRun()=%+v", got)
	}
	if got.Lifecycle != runstore.LifecycleActive {
		t.Fatalf("lifecycle=%s, want active", got.Lifecycle)
	}
}

func TestCreateRun_UnknownExperiment(t *testing.T) {
	store := newStore(t)
	_, err := store.CreateRun(context.Background(), "missing", nil)
	if !errors.Is(err, runstore.ErrNotFound) {
		t.Fatalf("CreateRun() err=%v, want ErrNotFound", err)
	}
}

func TestGetRun_Unknown(t *testing.T) {
	store := newStore(t)
	_, err := store.GetRun(context.Background(), "missing")
	if !errors.Is(err, runstore.ErrNotFound) {
		t.Fatalf("GetRun() err=%v, want ErrNotFound", err)
	}
}

func TestRunMutations(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	exp, _ := store.GetOrCreateExperiment(ctx, "exp")
	run, err := store.CreateRun(ctx, exp, nil)
	if err != nil {
		t.Fatalf("CreateRun() err=%v", err)
	}

	if err := store.SetTag(ctx, run.ID, "tag", "tv"); err != nil {
		t.Fatalf("SetTag() err=%v", err)
	}
	if err := store.LogParam(ctx, run.ID, "param", "pv"); err != nil {
		t.Fatalf("LogParam() err=%v", err)
	}
	if err := store.LogMetric(ctx, run.ID, "loss", 0.5, 0); err != nil {
		t.Fatalf("LogMetric() err=%v", err)
	}
	if err := store.LogMetric(ctx, run.ID, "loss", 0.25, 1); err != nil {
		t.Fatalf("LogMetric() err=%v", err)
	}
	if err := store.SetTerminated(ctx, run.ID, ""); err != nil {
		t.Fatalf("SetTerminated() err=%v", err)
	}

	got, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun() err=%v", err)
	}
	if got.Tags["tag"] != "tv" || got.Params["param"] != "pv" {
		t.Fatalf("GetRun()=%+v", got)
	}
	points := got.Metrics["loss"]
	if len(points) != 2 || points[0].Value != 0.5 || points[1].Value != 0.25 {
		t.Fatalf("metrics=%+v", points)
	}
	if got.Status != runstore.StatusFinished {
		t.Fatalf("status=%s, want FINISHED", got.Status)
	}
	if got.EndedAt == nil {
		t.Fatalf("EndedAt not stamped")
	}
}

func TestSetTerminated_NonTerminal(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	exp, _ := store.GetOrCreateExperiment(ctx, "exp")
	run, _ := store.CreateRun(ctx, exp, nil)
	if err := store.SetTerminated(ctx, run.ID, runstore.StatusRunning); err == nil {
		t.Fatalf("SetTerminated() expected error for RUNNING")
	}
}

func TestDeleteRun(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	exp, _ := store.GetOrCreateExperiment(ctx, "exp")
	run, _ := store.CreateRun(ctx, exp, map[string]string{"k": "v"})

	if err := store.DeleteRun(ctx, run.ID); err != nil {
		t.Fatalf("DeleteRun() err=%v", err)
	}
	if _, err := store.GetRun(ctx, run.ID); !errors.Is(err, runstore.ErrDeleted) {
		t.Fatalf("GetRun() err=%v, want ErrDeleted", err)
	}
	if err := store.DeleteRun(ctx, run.ID); err != nil {
		t.Fatalf("DeleteRun() repeat err=%v", err)
	}
	if err := store.SetTag(ctx, run.ID, "k", "x"); !errors.Is(err, runstore.ErrDeleted) {
		t.Fatalf("SetTag() err=%v, want ErrDeleted", err)
	}

	runs, err := store.SearchRuns(ctx, exp, runstore.Filter{}, 0)
	if err != nil {
		t.Fatalf("SearchRuns() err=%v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("SearchRuns() returned deleted run: %+v", runs)
	}
}

func TestSearchRuns_FilterAndClamp(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	exp, _ := store.GetOrCreateExperiment(ctx, "exp")

	for i := 0; i < 3; i++ {
		run, err := store.CreateRun(ctx, exp, map[string]string{"group": "a"})
		if err != nil {
			t.Fatalf("CreateRun() err=%v", err)
		}
		if i == 0 {
			if err := store.SetTerminated(ctx, run.ID, runstore.StatusFinished); err != nil {
				t.Fatalf("SetTerminated() err=%v", err)
			}
		}
	}
	if _, err := store.CreateRun(ctx, exp, map[string]string{"group": "b"}); err != nil {
		t.Fatalf("CreateRun() err=%v", err)
	}

	runs, err := store.SearchRuns(ctx, exp, runstore.Filter{Tags: map[string]string{"group": "a"}}, 0)
	if err != nil {
		t.Fatalf("SearchRuns() err=%v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("SearchRuns()=%d runs, want 3", len(runs))
	}

	runs, err = store.SearchRuns(ctx, exp, runstore.Filter{Tags: map[string]string{"group": "a"}, OnlyFinished: true}, 0)
	if err != nil {
		t.Fatalf("SearchRuns() err=%v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("SearchRuns() finished=%d runs, want 1", len(runs))
	}

	runs, err = store.SearchRuns(ctx, exp, runstore.Filter{Tags: map[string]string{"group": "a"}}, 2)
	if err != nil {
		t.Fatalf("SearchRuns() err=%v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("SearchRuns() clamped=%d runs, want 2", len(runs))
	}
}

func TestArtifact_FileRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	exp, _ := store.GetOrCreateExperiment(ctx, "exp")
	run, _ := store.CreateRun(ctx, exp, nil)

	src := filepath.Join(t.TempDir(), "value.json")
	if err := os.WriteFile(src, []byte(`"hello"`), 0o644); err != nil {
		t.Fatalf("write src: %v", err)
	}
	if err := store.UploadArtifact(ctx, run.ID, src, ""); err != nil {
		t.Fatalf("UploadArtifact() err=%v", err)
	}

	destDir := t.TempDir()
	got, err := store.DownloadArtifact(ctx, run.ID, "value.json", destDir)
	if err != nil {
		t.Fatalf("DownloadArtifact() err=%v", err)
	}
	if got != filepath.Join(destDir, "value.json") {
		t.Fatalf("DownloadArtifact()=%q", got)
	}
	data, err := os.ReadFile(got)
	if err != nil {
		t.Fatalf("read download: %v", err)
	}
	if string(data) != `"hello"` {
		t.Fatalf("downloaded=%q", data)
	}
}

func TestArtifact_NestedPath(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	exp, _ := store.GetOrCreateExperiment(ctx, "exp")
	run, _ := store.CreateRun(ctx, exp, nil)

	src := filepath.Join(t.TempDir(), "weights.bin")
	if err := os.WriteFile(src, []byte("w"), 0o644); err != nil {
		t.Fatalf("write src: %v", err)
	}
	if err := store.UploadArtifact(ctx, run.ID, src, "model/weights.bin"); err != nil {
		t.Fatalf("UploadArtifact() err=%v", err)
	}

	destDir := t.TempDir()
	got, err := store.DownloadArtifact(ctx, run.ID, "model/weights.bin", destDir)
	if err != nil {
		t.Fatalf("DownloadArtifact() err=%v", err)
	}
	if got != filepath.Join(destDir, "model", "weights.bin") {
		t.Fatalf("DownloadArtifact()=%q", got)
	}
}

func TestArtifact_Missing(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	exp, _ := store.GetOrCreateExperiment(ctx, "exp")
	run, _ := store.CreateRun(ctx, exp, nil)

	_, err := store.DownloadArtifact(ctx, run.ID, "nope.txt", t.TempDir())
	if !errors.Is(err, runstore.ErrNotFound) {
		t.Fatalf("DownloadArtifact() err=%v, want ErrNotFound", err)
	}
}

func TestArtifact_DirRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	exp, _ := store.GetOrCreateExperiment(ctx, "exp")
	run, _ := store.CreateRun(ctx, exp, nil)

	srcDir := filepath.Join(t.TempDir(), "out")
	if err := os.MkdirAll(filepath.Join(srcDir, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(srcDir, "a.txt"), []byte("a"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(srcDir, "sub", "b.txt"), []byte("b"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := store.UploadArtifactDir(ctx, run.ID, srcDir, ""); err != nil {
		t.Fatalf("UploadArtifactDir() err=%v", err)
	}

	destDir := t.TempDir()
	got, err := store.DownloadArtifactDir(ctx, run.ID, "out", destDir)
	if err != nil {
		t.Fatalf("DownloadArtifactDir() err=%v", err)
	}
	if got != filepath.Join(destDir, "out") {
		t.Fatalf("DownloadArtifactDir()=%q", got)
	}
	for rel, want := range map[string]string{"a.txt": "a", filepath.Join("sub", "b.txt"): "b"} {
		data, err := os.ReadFile(filepath.Join(got, rel))
		if err != nil {
			t.Fatalf("read %s: %v", rel, err)
		}
		if string(data) != want {
			t.Fatalf("%s=%q, want %q", rel, data, want)
		}
	}
}

func TestArtifact_UploadToDeletedRun(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	exp, _ := store.GetOrCreateExperiment(ctx, "exp")
	run, _ := store.CreateRun(ctx, exp, nil)
	if err := store.DeleteRun(ctx, run.ID); err != nil {
		t.Fatalf("DeleteRun() err=%v", err)
	}

	src := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
		t.Fatalf("write src: %v", err)
	}
	if err := store.UploadArtifact(ctx, run.ID, src, ""); !errors.Is(err, runstore.ErrDeleted) {
		t.Fatalf("UploadArtifact() err=%v, want ErrDeleted", err)
	}
}
