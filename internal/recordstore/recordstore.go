// Package recordstore persists a sequence of typed records addressed by a
// string key as newline-delimited JSON. It backs every pipeline stage's
// durable state: presence of a key in a stage's store is the sole witness
// that the key has been processed by that stage.
package recordstore

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Store reads and writes one stage's keyed records at a fixed path.
// Within the file, a later line for the same key supersedes an earlier
// one, so appending is a valid merge. Concurrent writers to the same
// store are never allowed; the stage runner is the single writer.
type Store[R any] struct {
	path string
	key  func(R) string
}

// New creates a store for records at path, keyed by the given function.
func New[R any](path string, key func(R) string) *Store[R] {
	return &Store[R]{path: path, key: key}
}

// Path returns the backing file path.
func (s *Store[R]) Path() string { return s.path }

// Key returns the store key for a record.
func (s *Store[R]) Key(r R) string { return s.key(r) }

// Load reads the full store into a key→record map. A missing file yields
// an empty map. Malformed lines are reported and skipped rather than
// aborting the load: manually edited files are a realistic source of
// parse errors. Later lines win over earlier lines for the same key.
func (s *Store[R]) Load() (map[string]R, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]R{}, nil
		}
		return nil, eris.Wrapf(err, "recordstore: open %s", s.path)
	}
	defer f.Close() //nolint:errcheck

	out := map[string]R{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec R
		if err := json.Unmarshal(line, &rec); err != nil {
			zap.L().Warn("recordstore: skipping malformed line",
				zap.String("path", s.path),
				zap.Int("line", lineNo),
				zap.String("content", truncate(string(line), 200)),
				zap.Error(err),
			)
			continue
		}
		out[s.key(rec)] = rec
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrapf(err, "recordstore: read %s", s.path)
	}
	return out, nil
}

// Merge folds incoming records into existing, latest write wins per key.
// Keys absent from incoming keep their existing record untouched.
func (s *Store[R]) Merge(existing map[string]R, incoming []R) map[string]R {
	out := make(map[string]R, len(existing)+len(incoming))
	for k, r := range existing {
		out[k] = r
	}
	for _, r := range incoming {
		out[s.key(r)] = r
	}
	return out
}

// Persist rewrites the store with the full current state. The write goes
// to a temp file in the same directory and is renamed into place, so a
// crash never leaves a truncated store. Records are written in sorted key
// order for byte-stable output across runs.
func (s *Store[R]) Persist(records map[string]R) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return eris.Wrapf(err, "recordstore: mkdir for %s", s.path)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return eris.Wrapf(err, "recordstore: create temp for %s", s.path)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck

	keys := make([]string, 0, len(records))
	for k := range records {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	w := bufio.NewWriter(tmp)
	for _, k := range keys {
		if err := writeLine(w, records[k]); err != nil {
			tmp.Close() //nolint:errcheck
			return eris.Wrapf(err, "recordstore: write %s", s.path)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrapf(err, "recordstore: flush %s", s.path)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrapf(err, "recordstore: sync %s", s.path)
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrapf(err, "recordstore: close temp for %s", s.path)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return eris.Wrapf(err, "recordstore: rename into %s", s.path)
	}
	return nil
}

// Append adds records to the end of the store without rewriting prior
// lines. Used on resumed runs so file growth stays append-only; a line
// appended for an existing key supersedes it on the next Load.
func (s *Store[R]) Append(records []R) error {
	if len(records) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return eris.Wrapf(err, "recordstore: mkdir for %s", s.path)
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return eris.Wrapf(err, "recordstore: open append %s", s.path)
	}

	w := bufio.NewWriter(f)
	for _, r := range records {
		if err := writeLine(w, r); err != nil {
			f.Close() //nolint:errcheck
			return eris.Wrapf(err, "recordstore: append %s", s.path)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close() //nolint:errcheck
		return eris.Wrapf(err, "recordstore: flush append %s", s.path)
	}
	if err := f.Sync(); err != nil {
		f.Close() //nolint:errcheck
		return eris.Wrapf(err, "recordstore: sync append %s", s.path)
	}
	return eris.Wrapf(f.Close(), "recordstore: close %s", s.path)
}

func writeLine[R any](w *bufio.Writer, rec R) error {
	// Validate by marshaling before any bytes hit the writer.
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	return w.WriteByte('\n')
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
