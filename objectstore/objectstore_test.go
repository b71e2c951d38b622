package objectstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestConfigValidate(t *testing.T) {
	valid := Config{
		Endpoint:  "localhost:9000",
		AccessKey: "a",
		SecretKey: "b",
		Region:    "us-east-1",
		Bucket:    "artifacts",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}

	invalid := valid
	invalid.Endpoint = "http://localhost:9000"
	if err := invalid.Validate(); err == nil {
		t.Fatalf("Validate() expected error for scheme in endpoint")
	}

	invalid = valid
	invalid.Bucket = " "
	if err := invalid.Validate(); err == nil {
		t.Fatalf("Validate() expected error for blank bucket")
	}
}

func TestRunPrefix(t *testing.T) {
	got := RunPrefix("exp1", "run1")
	want := "experiments/exp1/runs/run1/artifacts"
	if got != want {
		t.Fatalf("RunPrefix()=%q, want %q", got, want)
	}
}

func writeTemp(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestFSStore_FileRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore() err=%v", err)
	}

	src := writeTemp(t, t.TempDir(), "payload.json", `{"a":1}`)
	if err := store.UploadFile(ctx, "runs/r1/payload.json", src); err != nil {
		t.Fatalf("UploadFile() err=%v", err)
	}

	dst := filepath.Join(t.TempDir(), "out", "payload.json")
	if err := store.DownloadFile(ctx, "runs/r1/payload.json", dst); err != nil {
		t.Fatalf("DownloadFile() err=%v", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read downloaded: %v", err)
	}
	if string(data) != `{"a":1}` {
		t.Fatalf("downloaded content=%q", data)
	}
}

func TestFSStore_DownloadMissing(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore() err=%v", err)
	}
	err = store.DownloadFile(context.Background(), "no/such/key", filepath.Join(t.TempDir(), "x"))
	if !errors.Is(err, ErrNotExist) {
		t.Fatalf("DownloadFile() err=%v, want ErrNotExist", err)
	}
}

func TestFSStore_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore() err=%v", err)
	}
	src := writeTemp(t, t.TempDir(), "f", "x")
	for _, key := range []string{"p/a", "p/b/c", "q/a"} {
		if err := store.UploadFile(ctx, key, src); err != nil {
			t.Fatalf("UploadFile(%s) err=%v", key, err)
		}
	}

	keys, err := store.List(ctx, "p/")
	if err != nil {
		t.Fatalf("List() err=%v", err)
	}
	if len(keys) != 2 || keys[0] != "p/a" || keys[1] != "p/b/c" {
		t.Fatalf("List()=%v", keys)
	}

	if err := store.Delete(ctx, "p/a"); err != nil {
		t.Fatalf("Delete() err=%v", err)
	}
	if err := store.Delete(ctx, "p/a"); err != nil {
		t.Fatalf("Delete() on absent key err=%v", err)
	}
	keys, err = store.List(ctx, "p/")
	if err != nil {
		t.Fatalf("List() err=%v", err)
	}
	if len(keys) != 1 || keys[0] != "p/b/c" {
		t.Fatalf("List() after delete=%v", keys)
	}
}

func TestFSStore_RejectsEscapingKey(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore() err=%v", err)
	}
	src := writeTemp(t, t.TempDir(), "f", "x")
	if err := store.UploadFile(context.Background(), "../outside", src); err == nil {
		t.Fatalf("UploadFile() expected error for escaping key")
	}
}

func TestTreeRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore() err=%v", err)
	}

	srcDir := t.TempDir()
	writeTemp(t, srcDir, "model/weights.bin", "wwww")
	writeTemp(t, srcDir, "model/meta.json", `{"epoch":3}`)
	writeTemp(t, srcDir, "report.txt", "done")

	if err := UploadTree(ctx, store, "runs/r1/out", srcDir); err != nil {
		t.Fatalf("UploadTree() err=%v", err)
	}

	destDir := t.TempDir()
	if err := DownloadTree(ctx, store, "runs/r1/out", destDir); err != nil {
		t.Fatalf("DownloadTree() err=%v", err)
	}
	for rel, want := range map[string]string{
		"model/weights.bin": "wwww",
		"model/meta.json":   `{"epoch":3}`,
		"report.txt":        "done",
	} {
		data, err := os.ReadFile(filepath.Join(destDir, filepath.FromSlash(rel)))
		if err != nil {
			t.Fatalf("read %s: %v", rel, err)
		}
		if string(data) != want {
			t.Fatalf("%s=%q, want %q", rel, data, want)
		}
	}
}

func TestDownloadTree_EmptyPrefix(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore() err=%v", err)
	}
	err = DownloadTree(context.Background(), store, "runs/none", t.TempDir())
	if !errors.Is(err, ErrNotExist) {
		t.Fatalf("DownloadTree() err=%v, want ErrNotExist", err)
	}
}
