package runlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilezzm/schools-of-professors/internal/stage"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history", "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunLifecycle(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx := context.Background()

	run, err := s.StartRun(ctx, "discover", "resume")
	require.NoError(t, err)
	require.NotEmpty(t, run.ID)

	require.NoError(t, s.RecordStage(ctx, run.ID, &stage.Summary{
		Stage: "discovery.pages", Mode: "resume", Processed: 3, Total: 7,
		Duration: 2 * time.Second,
	}))
	require.NoError(t, s.RecordStage(ctx, run.ID, &stage.Summary{
		Stage: "discovery.names", Mode: "resume", Processed: 1, Total: 40,
	}))
	require.NoError(t, s.FinishRun(ctx, run.ID, nil))

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "discover", runs[0].Command)
	assert.Equal(t, "done", runs[0].Status)
	assert.Empty(t, runs[0].Error)

	stages, err := s.RunStages(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, stages, 2)
	assert.Equal(t, "discovery.pages", stages[0].Stage)
	assert.Equal(t, 3, stages[0].Summary.Processed)
	assert.Equal(t, 2*time.Second, stages[0].Summary.Duration)
}

func TestFinishRunRecordsFailure(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx := context.Background()

	run, err := s.StartRun(ctx, "all", "rebuild")
	require.NoError(t, err)
	require.NoError(t, s.FinishRun(ctx, run.ID, eris.New("enrich stage exploded")))

	runs, err := s.ListRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "failed", runs[0].Status)
	assert.Contains(t, runs[0].Error, "enrich stage exploded")
}

func TestFinishUnknownRun(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	assert.Error(t, s.FinishRun(context.Background(), "no-such-run", nil))
}

func TestListRunsNewestFirstWithLimit(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx := context.Background()

	for _, cmd := range []string{"discover", "enrich", "normalize"} {
		_, err := s.StartRun(ctx, cmd, "resume")
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}

	runs, err := s.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "normalize", runs[0].Command)
	assert.Equal(t, "enrich", runs[1].Command)
}
