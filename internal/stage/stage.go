// Package stage implements the skip/merge control loop shared by every
// pipeline stage. A stage loads its durable store, diffs the input
// collection against the recorded keys, dispatches the per-item transform
// over a bounded worker pool, and merges successful results back through
// the store. Re-running a completed stage in resume mode is a no-op;
// re-running after a partial failure reprocesses only the missing keys.
package stage

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/smilezzm/schools-of-professors/internal/recordstore"
)

// maxErrorExamples caps how many per-item failures a summary carries.
const maxErrorExamples = 5

// Options controls one stage invocation.
type Options struct {
	// Resume skips inputs whose keys are already recorded. When false the
	// stage reprocesses every input and the final persist fully rewrites
	// the store.
	Resume bool

	// Limit caps how many pending items are dispatched (0 = no cap).
	Limit int

	// Concurrency bounds the worker pool. Values below 1 mean sequential.
	Concurrency int
}

// ItemError is one isolated per-item transform failure.
type ItemError struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// Summary reports what one stage invocation did. Runs always complete
// with a summary rather than silently truncating output.
type Summary struct {
	Stage      string        `json:"stage"`
	Mode       string        `json:"mode"`
	Inputs     int           `json:"inputs"`
	Skipped    int           `json:"skipped"`
	Duplicates int           `json:"duplicates"`
	Processed  int           `json:"processed"`
	Failed     int           `json:"failed"`
	Total      int           `json:"total"`
	Errors     []ItemError   `json:"errors,omitempty"`
	Warnings   []string      `json:"warnings,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Mode returns the run-mode label for a resume flag.
func Mode(resume bool) string {
	if resume {
		return "resume"
	}
	return "rebuild"
}

// Run executes one stage over inputs.
//
// Items whose transform fails are excluded from the persisted output so
// they stay eligible for retry on the next run; other items continue.
// Duplicate input keys are dropped before dispatch, so an item is
// attempted at most once per invocation and no two workers ever share a
// key. Merging happens single-threaded after the pool drains; only this
// function writes the stage's store.
func Run[In, Out any](
	ctx context.Context,
	name string,
	store *recordstore.Store[Out],
	inputs []In,
	keyOf func(In) string,
	transform func(context.Context, In) (Out, error),
	opts Options,
) (map[string]Out, *Summary, error) {
	start := time.Now()
	log := zap.L().With(zap.String("stage", name), zap.String("mode", Mode(opts.Resume)))

	existing, err := store.Load()
	if err != nil {
		return nil, nil, eris.Wrapf(err, "stage %s: load store", name)
	}

	done := map[string]struct{}{}
	if opts.Resume {
		for k := range existing {
			done[k] = struct{}{}
		}
	}

	summary := &Summary{Stage: name, Mode: Mode(opts.Resume), Inputs: len(inputs)}

	// Partition in input order for deterministic retry ordering.
	seen := map[string]struct{}{}
	var toProcess []In
	for _, in := range inputs {
		k := keyOf(in)
		if _, dup := seen[k]; dup {
			summary.Duplicates++
			continue
		}
		seen[k] = struct{}{}
		if _, ok := done[k]; ok {
			summary.Skipped++
			continue
		}
		toProcess = append(toProcess, in)
	}
	if opts.Limit > 0 && len(toProcess) > opts.Limit {
		toProcess = toProcess[:opts.Limit]
	}

	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	log.Info("stage starting",
		zap.Int("inputs", len(inputs)),
		zap.Int("pending", len(toProcess)),
		zap.Int("skipped", summary.Skipped),
		zap.Int("workers", concurrency),
	)

	// Workers report back only through per-item results; the shared slice
	// append is the single synchronized point.
	var (
		mu         sync.Mutex
		results    = make([]Out, 0, len(toProcess))
		itemErrors []ItemError
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, in := range toProcess {
		g.Go(func() error {
			if gCtx.Err() != nil {
				return gCtx.Err()
			}
			k := keyOf(in)
			out, err := transform(gCtx, in)
			if err != nil {
				log.Warn("stage item failed",
					zap.String("key", k),
					zap.Error(err),
				)
				mu.Lock()
				itemErrors = append(itemErrors, ItemError{Key: k, Reason: err.Error()})
				mu.Unlock()
				return nil
			}
			mu.Lock()
			results = append(results, out)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, eris.Wrapf(err, "stage %s: cancelled", name)
	}

	summary.Processed = len(results)
	summary.Failed = len(itemErrors)
	if len(itemErrors) > maxErrorExamples {
		summary.Errors = itemErrors[:maxErrorExamples]
	} else {
		summary.Errors = itemErrors
	}

	var merged map[string]Out
	if opts.Resume {
		merged = store.Merge(existing, results)
		if err := store.Append(results); err != nil {
			return nil, nil, eris.Wrapf(err, "stage %s: append results", name)
		}
	} else {
		merged = store.Merge(map[string]Out{}, results)
		if err := store.Persist(merged); err != nil {
			return nil, nil, eris.Wrapf(err, "stage %s: persist results", name)
		}
	}
	summary.Total = len(merged)
	summary.Duration = time.Since(start)

	log.Info("stage finished",
		zap.Int("processed", summary.Processed),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("total", summary.Total),
		zap.Duration("duration", summary.Duration),
	)
	return merged, summary, nil
}

// RunFanOut executes a stage whose transform yields any number of output
// records per input (a seed yields many pages, a page yields many
// candidates). Skip decisions compare inputKey(in) against the set of
// doneKeyOf values over the existing store: an input is done when any
// recorded output points back at it. Everything else follows Run.
func RunFanOut[In, Out any](
	ctx context.Context,
	name string,
	store *recordstore.Store[Out],
	inputs []In,
	inputKey func(In) string,
	doneKeyOf func(Out) string,
	transform func(context.Context, In) ([]Out, error),
	opts Options,
) (map[string]Out, *Summary, error) {
	start := time.Now()
	log := zap.L().With(zap.String("stage", name), zap.String("mode", Mode(opts.Resume)))

	existing, err := store.Load()
	if err != nil {
		return nil, nil, eris.Wrapf(err, "stage %s: load store", name)
	}

	done := map[string]struct{}{}
	if opts.Resume {
		for _, rec := range existing {
			done[doneKeyOf(rec)] = struct{}{}
		}
	}

	summary := &Summary{Stage: name, Mode: Mode(opts.Resume), Inputs: len(inputs)}

	seen := map[string]struct{}{}
	var toProcess []In
	for _, in := range inputs {
		k := inputKey(in)
		if _, dup := seen[k]; dup {
			summary.Duplicates++
			continue
		}
		seen[k] = struct{}{}
		if _, ok := done[k]; ok {
			summary.Skipped++
			continue
		}
		toProcess = append(toProcess, in)
	}
	if opts.Limit > 0 && len(toProcess) > opts.Limit {
		toProcess = toProcess[:opts.Limit]
	}

	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	log.Info("stage starting",
		zap.Int("inputs", len(inputs)),
		zap.Int("pending", len(toProcess)),
		zap.Int("skipped", summary.Skipped),
		zap.Int("workers", concurrency),
	)

	var (
		mu         sync.Mutex
		results    []Out
		itemErrors []ItemError
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, in := range toProcess {
		g.Go(func() error {
			if gCtx.Err() != nil {
				return gCtx.Err()
			}
			k := inputKey(in)
			outs, err := transform(gCtx, in)
			if err != nil {
				log.Warn("stage item failed",
					zap.String("key", k),
					zap.Error(err),
				)
				mu.Lock()
				itemErrors = append(itemErrors, ItemError{Key: k, Reason: err.Error()})
				mu.Unlock()
				return nil
			}
			mu.Lock()
			results = append(results, outs...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, eris.Wrapf(err, "stage %s: cancelled", name)
	}

	summary.Processed = len(toProcess) - len(itemErrors)
	summary.Failed = len(itemErrors)
	if len(itemErrors) > maxErrorExamples {
		summary.Errors = itemErrors[:maxErrorExamples]
	} else {
		summary.Errors = itemErrors
	}

	var merged map[string]Out
	if opts.Resume {
		merged = store.Merge(existing, results)
		if err := store.Append(results); err != nil {
			return nil, nil, eris.Wrapf(err, "stage %s: append results", name)
		}
	} else {
		merged = store.Merge(map[string]Out{}, results)
		if err := store.Persist(merged); err != nil {
			return nil, nil, eris.Wrapf(err, "stage %s: persist results", name)
		}
	}
	summary.Total = len(merged)
	summary.Duration = time.Since(start)

	log.Info("stage finished",
		zap.Int("processed", summary.Processed),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("total", summary.Total),
		zap.Duration("duration", summary.Duration),
	)
	return merged, summary, nil
}
