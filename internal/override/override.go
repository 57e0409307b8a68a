// Package override resolves operator-supplied field corrections collected
// from review items. Resolution is a pure lookup layered over computed
// values; the underlying stores are never mutated, so a changed override
// file can be reapplied by rebuilding normalization without re-deriving
// anything else.
package override

import (
	"strings"

	"github.com/smilezzm/schools-of-professors/internal/model"
)

// Resolver holds one invocation's snapshot of manual corrections, keyed
// exactly like review items. The snapshot is taken once at stage start;
// mid-run edits to the review file are invisible until the next run.
type Resolver struct {
	manual  map[string]string
	pending int
}

// NewResolver indexes the usable manual values out of a review store
// snapshot. Items without a manual value count as pending so run summaries
// can surface how many decisions still await an operator.
func NewResolver(items map[string]model.ReviewItem) *Resolver {
	r := &Resolver{manual: map[string]string{}}
	for _, item := range items {
		v := strings.TrimSpace(item.ManualValue())
		if v == "" {
			r.pending++
			continue
		}
		r.manual[item.Key()] = v
	}
	return r
}

// Resolve returns the manual correction for (rowKey, field, originalValue)
// when one exists, else value unchanged. The second return reports whether
// an override applied.
func (r *Resolver) Resolve(rowKey model.RowKey, field, value string) (string, bool) {
	item := model.ReviewItem{RowKey: rowKey.String(), Field: field, OriginalValue: value}
	if manual, ok := r.manual[item.Key()]; ok {
		return manual, true
	}
	return value, false
}

// Overrides returns how many manual corrections the snapshot holds.
func (r *Resolver) Overrides() int { return len(r.manual) }

// Pending returns how many review items still lack a manual value.
func (r *Resolver) Pending() int { return r.pending }
