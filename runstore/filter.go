package runstore

import (
	"fmt"
	"sort"
	"strings"
)

// Filter selects runs by exact tag values, optionally restricted to
// runs that finished successfully. A zero Filter matches every active
// run of the experiment.
type Filter struct {
	Tags         map[string]string
	OnlyFinished bool
}

// Matches evaluates the filter against a run. Stores that hold runs
// natively use this directly instead of parsing the expression form.
func (f Filter) Matches(r Run) bool {
	if f.OnlyFinished && r.Status != StatusFinished {
		return false
	}
	for k, want := range f.Tags {
		if got, ok := r.Tags[k]; !ok || got != want {
			return false
		}
	}
	return true
}

// Expr renders the filter in the tracking-server search grammar: a
// conjunction of tag-equality comparisons with backquoted keys, plus
// a status restriction when OnlyFinished is set. Keys are emitted in
// sorted order so the rendering is deterministic.
func (f Filter) Expr() string {
	keys := make([]string, 0, len(f.Tags))
	for k := range f.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clauses := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		clauses = append(clauses, fmt.Sprintf("tags.`%s` = '%s'", k, escapeLiteral(f.Tags[k])))
	}
	if f.OnlyFinished {
		clauses = append(clauses, fmt.Sprintf("attributes.status = '%s'", StatusFinished))
	}
	return strings.Join(clauses, " AND ")
}

func escapeLiteral(v string) string {
	return strings.ReplaceAll(v, "'", "''")
}
