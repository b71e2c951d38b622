package runtree

import (
	"context"
	"errors"
	"testing"

	"github.com/animus-labs/runkv/runstore"
	"github.com/animus-labs/runkv/runstore/local"
)

func newStore(t *testing.T) (*local.Store, string) {
	t.Helper()
	store, err := local.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() err=%v", err)
	}
	exp, err := store.GetOrCreateExperiment(context.Background(), "tree_test")
	if err != nil {
		t.Fatalf("GetOrCreateExperiment() err=%v", err)
	}
	return store, exp
}

func makeRun(t *testing.T, store *local.Store, exp, parent string, status runstore.RunStatus) runstore.Run {
	t.Helper()
	ctx := context.Background()
	var tags map[string]string
	if parent != "" {
		tags = map[string]string{DefaultParentTag: parent}
	}
	run, err := store.CreateRun(ctx, exp, tags)
	if err != nil {
		t.Fatalf("CreateRun() err=%v", err)
	}
	if status.Terminal() {
		if err := store.SetTerminated(ctx, run.ID, status); err != nil {
			t.Fatalf("SetTerminated() err=%v", err)
		}
	}
	run, err = store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun() err=%v", err)
	}
	return run
}

// seedTree builds a -> (b -> d, c) in the store.
func seedTree(t *testing.T, store *local.Store, exp string) (a, b, c, d runstore.Run) {
	a = makeRun(t, store, exp, "", runstore.StatusFinished)
	b = makeRun(t, store, exp, a.ID, runstore.StatusFinished)
	c = makeRun(t, store, exp, a.ID, runstore.StatusFinished)
	d = makeRun(t, store, exp, b.ID, runstore.StatusFinished)
	return a, b, c, d
}

func pos(t *testing.T, ids []string, id string) int {
	t.Helper()
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	t.Fatalf("id %s not in %v", id, ids)
	return -1
}

func TestBuild_Roots(t *testing.T) {
	store, exp := newStore(t)
	a, b, c, d := seedTree(t, store, exp)
	orphan := makeRun(t, store, exp, "no-such-run", runstore.StatusFinished)

	roots := Build([]runstore.Run{a, b, c, d, orphan}, Options{})
	if len(roots) != 2 {
		t.Fatalf("got %d roots, want 2", len(roots))
	}
	node, ok := roots[a.ID]
	if !ok {
		t.Fatalf("run a not a root: %v", roots)
	}
	if _, ok := roots[orphan.ID]; !ok {
		t.Fatal("run with unknown parent must stay a root")
	}
	if len(node.Children) != 2 {
		t.Fatalf("a has %d children, want 2", len(node.Children))
	}
	if _, ok := node.Children[b.ID].Children[d.ID]; !ok {
		t.Fatal("d not nested under b")
	}
}

func TestBuild_OnlyFinished(t *testing.T) {
	store, exp := newStore(t)
	a := makeRun(t, store, exp, "", runstore.StatusFinished)
	running := makeRun(t, store, exp, a.ID, runstore.StatusRunning)

	roots := Build([]runstore.Run{a, running}, Options{OnlyFinished: true})
	node := roots[a.ID]
	if node == nil {
		t.Fatal("finished root missing")
	}
	if len(node.Children) != 0 {
		t.Fatalf("running child kept: %v", node.Children)
	}
}

func TestFlatten_ChildrenBeforeParents(t *testing.T) {
	store, exp := newStore(t)
	a, b, c, d := seedTree(t, store, exp)

	roots := Build([]runstore.Run{a, b, c, d}, Options{})
	ids := FlattenIDs(roots, FlattenOptions{})
	if len(ids) != 4 {
		t.Fatalf("flattened %d ids, want 4", len(ids))
	}
	if !(pos(t, ids, d.ID) < pos(t, ids, b.ID) && pos(t, ids, b.ID) < pos(t, ids, a.ID)) {
		t.Fatalf("children not before parents: %v", ids)
	}
	if pos(t, ids, c.ID) > pos(t, ids, a.ID) {
		t.Fatalf("c after its parent a: %v", ids)
	}

	// Same tree flattens to the same order.
	again := FlattenIDs(Build([]runstore.Run{d, c, b, a}, Options{}), FlattenOptions{})
	for i := range ids {
		if ids[i] != again[i] {
			t.Fatalf("non-deterministic order: %v vs %v", ids, again)
		}
	}
}

func TestFlattenEntries_Trace(t *testing.T) {
	store, exp := newStore(t)
	a, b, c, d := seedTree(t, store, exp)

	roots := Build([]runstore.Run{a, b, c, d}, Options{})
	for _, entry := range FlattenEntries(roots, FlattenOptions{}) {
		if entry.Run.ID != d.ID {
			continue
		}
		want := []string{a.ID, b.ID, d.ID}
		if len(entry.Trace) != 3 {
			t.Fatalf("trace %v, want %v", entry.Trace, want)
		}
		for i := range want {
			if entry.Trace[i] != want[i] {
				t.Fatalf("trace %v, want %v", entry.Trace, want)
			}
		}
		return
	}
	t.Fatal("d not flattened")
}

func TestFlatten_Exclude(t *testing.T) {
	store, exp := newStore(t)
	a, b, c, d := seedTree(t, store, exp)
	roots := Build([]runstore.Run{a, b, c, d}, Options{})

	exclude := func(r runstore.Run) bool { return r.ID == b.ID }

	ids := FlattenIDs(roots, FlattenOptions{Exclude: exclude})
	if len(ids) != 3 {
		t.Fatalf("got %v, want 3 ids without b", ids)
	}
	pos(t, ids, d.ID)

	ids = FlattenIDs(roots, FlattenOptions{Exclude: exclude, ExcludeChildren: true})
	if len(ids) != 2 {
		t.Fatalf("got %v, want 2 ids without b's subtree", ids)
	}
	for _, id := range ids {
		if id == d.ID {
			t.Fatal("d kept despite ExcludeChildren")
		}
	}
}

func TestChildren_Expands(t *testing.T) {
	store, exp := newStore(t)
	a, b, _, d := seedTree(t, store, exp)

	roots, err := Children(context.Background(), store, []runstore.Run{a}, Options{})
	if err != nil {
		t.Fatalf("Children() err=%v", err)
	}
	node := roots[a.ID]
	if node == nil {
		t.Fatalf("a not a root: %v", roots)
	}
	if len(node.Children) != 2 {
		t.Fatalf("a has %d children, want 2", len(node.Children))
	}
	if _, ok := node.Children[b.ID].Children[d.ID]; !ok {
		t.Fatal("grandchild d not expanded")
	}
}

func TestParents_Expands(t *testing.T) {
	store, exp := newStore(t)
	a, b, c, d := seedTree(t, store, exp)

	roots, err := Parents(context.Background(), store, []runstore.Run{d}, Options{})
	if err != nil {
		t.Fatalf("Parents() err=%v", err)
	}
	node := roots[a.ID]
	if node == nil {
		t.Fatalf("ancestor a not the root: %v", roots)
	}
	if _, ok := node.Children[b.ID].Children[d.ID]; !ok {
		t.Fatal("chain a -> b -> d not built")
	}
	if _, ok := node.Children[c.ID]; ok {
		t.Fatal("c is not an ancestor of d")
	}
}

func TestDeleteTree(t *testing.T) {
	store, exp := newStore(t)
	a, _, _, _ := seedTree(t, store, exp)
	// A RUNNING descendant is deleted too.
	running := makeRun(t, store, exp, a.ID, runstore.StatusRunning)
	ctx := context.Background()

	collected, deleted, err := DeleteTree(ctx, store, a.ID, DeleteOptions{DryRun: true})
	if err != nil {
		t.Fatalf("DeleteTree() dry run err=%v", err)
	}
	if len(collected) != 5 || len(deleted) != 0 {
		t.Fatalf("dry run collected=%d deleted=%d, want 5/0", len(collected), len(deleted))
	}
	if _, err := store.GetRun(ctx, a.ID); err != nil {
		t.Fatalf("dry run deleted something: %v", err)
	}

	collected, deleted, err = DeleteTree(ctx, store, a.ID, DeleteOptions{})
	if err != nil {
		t.Fatalf("DeleteTree() err=%v", err)
	}
	if len(collected) != 5 || len(deleted) != 5 {
		t.Fatalf("collected=%d deleted=%d, want 5/5", len(collected), len(deleted))
	}
	// Children go before parents, the root last.
	if collected[len(collected)-1] != a.ID {
		t.Fatalf("root not deleted last: %v", collected)
	}
	for _, id := range []string{a.ID, running.ID} {
		if _, err := store.GetRun(ctx, id); !errors.Is(err, runstore.ErrDeleted) {
			t.Fatalf("GetRun(%s) err=%v, want ErrDeleted", id, err)
		}
	}
}

func TestDeleteTree_MissingRoot(t *testing.T) {
	store, _ := newStore(t)

	_, _, err := DeleteTree(context.Background(), store, "absent", DeleteOptions{})
	if !errors.Is(err, runstore.ErrNotFound) {
		t.Fatalf("DeleteTree() err=%v, want ErrNotFound", err)
	}
}
