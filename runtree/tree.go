// Package runtree builds and walks parent/child trees of runs. The
// relation comes from a tag on the child run holding the parent's run
// id.
package runtree

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/animus-labs/runkv/runstore"
)

// DefaultParentTag is the tag key naming a run's parent.
const DefaultParentTag = "parent"

// Node is one run in a tree.
type Node struct {
	Run      runstore.Run
	Children map[string]*Node
}

// Options steer tree construction and expansion.
type Options struct {
	// ParentTag overrides DefaultParentTag.
	ParentTag string

	// OnlyFinished drops runs that are not FINISHED.
	OnlyFinished bool

	// ExperimentIDs restricts child searches. Empty means the
	// experiments of the given runs.
	ExperimentIDs []string

	// Tags adds extra filter clauses to child searches.
	Tags map[string]string

	Log *slog.Logger
}

func (o Options) parentTag() string {
	if o.ParentTag == "" {
		return DefaultParentTag
	}
	return o.ParentTag
}

func (o Options) logger() *slog.Logger {
	if o.Log == nil {
		return slog.Default()
	}
	return o.Log
}

func (o Options) keep(run runstore.Run) bool {
	return !o.OnlyFinished || run.Status == runstore.StatusFinished
}

// Build wires the given runs into trees and returns the roots keyed by
// run id. A run whose parent tag points at a run not in the set stays
// a root.
func Build(runs []runstore.Run, opts Options) map[string]*Node {
	roots := map[string]*Node{}
	all := map[string]*Node{}
	addRuns(runs, roots, all, nil, opts)
	return roots
}

// addRuns merges runs into the root/all node maps and reports nodes
// that are new to the structure.
func addRuns(runs []runstore.Run, roots, all, added map[string]*Node, opts Options) {
	for _, run := range runs {
		if _, ok := all[run.ID]; ok {
			continue
		}
		if !opts.keep(run) {
			continue
		}
		node := &Node{Run: run, Children: map[string]*Node{}}
		all[run.ID] = node
		roots[run.ID] = node
		if added != nil {
			added[run.ID] = node
		}
	}
	parentTag := opts.parentTag()
	for id, node := range roots {
		parentID, ok := node.Run.Tags[parentTag]
		if !ok {
			continue
		}
		if parent, ok := all[parentID]; ok && parentID != id {
			parent.Children[id] = node
			delete(roots, id)
		}
	}
}

// FlattenOptions controls tree flattening.
type FlattenOptions struct {
	// Exclude drops a run from the result.
	Exclude func(runstore.Run) bool

	// ExcludeChildren also skips the subtree under an excluded run.
	ExcludeChildren bool
}

// Entry is one flattened run with the run-id trace from its root.
type Entry struct {
	Trace []string
	Run   runstore.Run
}

// FlattenEntries walks the trees depth first, children before parents,
// in sorted run-id order.
func FlattenEntries(roots map[string]*Node, opts FlattenOptions) []Entry {
	exclude := opts.Exclude
	if exclude == nil {
		exclude = func(runstore.Run) bool { return false }
	}

	var entries []Entry
	var traverse func(trace []string, id string, node *Node)
	traverse = func(trace []string, id string, node *Node) {
		selfTrace := append(append([]string{}, trace...), id)
		if !(opts.ExcludeChildren && exclude(node.Run)) {
			for _, childID := range sortedIDs(node.Children) {
				traverse(selfTrace, childID, node.Children[childID])
			}
		}
		if !exclude(node.Run) {
			entries = append(entries, Entry{Trace: selfTrace, Run: node.Run})
		}
	}
	for _, id := range sortedIDs(roots) {
		traverse(nil, id, roots[id])
	}
	return entries
}

// Flatten returns the runs of FlattenEntries.
func Flatten(roots map[string]*Node, opts FlattenOptions) []runstore.Run {
	entries := FlattenEntries(roots, opts)
	runs := make([]runstore.Run, 0, len(entries))
	for _, e := range entries {
		runs = append(runs, e.Run)
	}
	return runs
}

// FlattenIDs returns the run ids of FlattenEntries.
func FlattenIDs(roots map[string]*Node, opts FlattenOptions) []string {
	entries := FlattenEntries(roots, opts)
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.Run.ID)
	}
	return ids
}

func sortedIDs(nodes map[string]*Node) []string {
	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Children expands the given runs level by level with all their
// descendants and returns the resulting roots.
func Children(ctx context.Context, client runstore.Client, runs []runstore.Run, opts Options) (map[string]*Node, error) {
	roots := map[string]*Node{}
	all := map[string]*Node{}
	fresh := map[string]*Node{}
	addRuns(runs, roots, all, fresh, opts)

	experimentIDs := opts.ExperimentIDs
	if len(experimentIDs) == 0 {
		seen := map[string]bool{}
		for _, node := range all {
			if id := node.Run.ExperimentID; id != "" && !seen[id] {
				seen[id] = true
				experimentIDs = append(experimentIDs, id)
			}
		}
		sort.Strings(experimentIDs)
	}

	parentTag := opts.parentTag()
	for len(fresh) > 0 {
		level := fresh
		fresh = map[string]*Node{}
		for _, id := range sortedIDs(level) {
			filter := runstore.Filter{
				Tags:         map[string]string{parentTag: id},
				OnlyFinished: opts.OnlyFinished,
			}
			for k, v := range opts.Tags {
				filter.Tags[k] = v
			}
			for _, expID := range experimentIDs {
				children, err := client.SearchRuns(ctx, expID, filter, runstore.MaxSearchResults)
				if err != nil {
					return nil, fmt.Errorf("search children of %s: %w", id, err)
				}
				addRuns(children, roots, all, fresh, opts)
			}
		}
	}
	return roots, nil
}

// Parents expands the given runs level by level with all their
// ancestors and returns the resulting roots. Missing or deleted
// parents end the chain with a log line.
func Parents(ctx context.Context, client runstore.Client, runs []runstore.Run, opts Options) (map[string]*Node, error) {
	log := opts.logger()
	roots := map[string]*Node{}
	all := map[string]*Node{}
	fresh := map[string]*Node{}
	addRuns(runs, roots, all, fresh, opts)

	parentTag := opts.parentTag()
	for len(fresh) > 0 {
		level := fresh
		fresh = map[string]*Node{}
		var parents []runstore.Run
		for _, id := range sortedIDs(level) {
			parentID, ok := level[id].Run.Tags[parentTag]
			if !ok {
				continue
			}
			parent, err := client.GetRun(ctx, parentID)
			if errors.Is(err, runstore.ErrNotFound) || errors.Is(err, runstore.ErrDeleted) {
				log.Warn("parent run unavailable", "run_id", id, "parent_id", parentID, "error", err)
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("get parent of %s: %w", id, err)
			}
			parents = append(parents, parent)
		}
		addRuns(parents, roots, all, fresh, opts)
	}
	return roots, nil
}
