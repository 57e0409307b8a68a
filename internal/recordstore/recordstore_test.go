package recordstore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rec struct {
	ID  string `json:"id"`
	Val string `json:"val"`
}

func recKey(r rec) string { return r.ID }

func newTestStore(t *testing.T) *Store[rec] {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "stage.jsonl"), recKey)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	got, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPersistAndLoad_RoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	require.NoError(t, s.Persist(map[string]rec{
		"a": {ID: "a", Val: "1"},
		"b": {ID: "b", Val: "2"},
	}))

	got, err := s.Load()
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "1", got["a"].Val)
	assert.Equal(t, "2", got["b"].Val)
}

func TestPersist_ByteStableOrdering(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	records := map[string]rec{
		"z": {ID: "z"},
		"a": {ID: "a"},
		"m": {ID: "m"},
	}

	require.NoError(t, s.Persist(records))
	first, err := os.ReadFile(s.Path())
	require.NoError(t, err)

	require.NoError(t, s.Persist(records))
	second, err := os.ReadFile(s.Path())
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestLoad_SkipsMalformedLines(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	content := strings.Join([]string{
		`{"id":"a","val":"1"}`,
		`{not json at all`,
		``,
		`{"id":"b","val":"2"}`,
	}, "\n")
	require.NoError(t, os.WriteFile(s.Path(), []byte(content+"\n"), 0o644))

	got, err := s.Load()
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "2", got["b"].Val)
}

func TestLoad_LaterLineWinsForSameKey(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	content := `{"id":"a","val":"old"}` + "\n" + `{"id":"a","val":"new"}` + "\n"
	require.NoError(t, os.WriteFile(s.Path(), []byte(content), 0o644))

	got, err := s.Load()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got["a"].Val)
}

func TestMerge_LatestWinsUntouchedKept(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	existing := map[string]rec{
		"k":  {ID: "k", Val: "A"},
		"k2": {ID: "k2", Val: "C"},
	}
	merged := s.Merge(existing, []rec{{ID: "k", Val: "B"}})

	assert.Equal(t, "B", merged["k"].Val)
	assert.Equal(t, "C", merged["k2"].Val)
	// The input map is not mutated.
	assert.Equal(t, "A", existing["k"].Val)
}

func TestAppend_SupersedesOnLoad(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	require.NoError(t, s.Persist(map[string]rec{"a": {ID: "a", Val: "1"}}))
	require.NoError(t, s.Append([]rec{{ID: "a", Val: "2"}, {ID: "b", Val: "3"}}))

	got, err := s.Load()
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "2", got["a"].Val)
	assert.Equal(t, "3", got["b"].Val)
}

func TestAppend_Empty_NoFileCreated(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	require.NoError(t, s.Append(nil))
	_, err := os.Stat(s.Path())
	assert.True(t, os.IsNotExist(err))
}

func TestPersist_NoTempLeftovers(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.Persist(map[string]rec{"a": {ID: "a"}}))

	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, filepath.Base(s.Path()), entries[0].Name())
}
