package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestDoVal_SuccessFirstAttempt(t *testing.T) {
	t.Parallel()
	calls := 0
	val, err := DoVal(context.Background(), fastConfig(), func(context.Context) (int, error) {
		calls++
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, val)
	assert.Equal(t, 1, calls)
}

func TestDoVal_RetriesTransient(t *testing.T) {
	t.Parallel()
	calls := 0
	val, err := DoVal(context.Background(), fastConfig(), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", NewTransientError(eris.New("rate limited"), 429)
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", val)
	assert.Equal(t, 3, calls)
}

func TestDoVal_NoRetryOnPermanentError(t *testing.T) {
	t.Parallel()
	calls := 0
	_, err := DoVal(context.Background(), fastConfig(), func(context.Context) (int, error) {
		calls++
		return 0, eris.New("bad request")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoVal_ExhaustsAttempts(t *testing.T) {
	t.Parallel()
	calls := 0
	_, err := DoVal(context.Background(), fastConfig(), func(context.Context) (int, error) {
		calls++
		return 0, NewTransientError(eris.New("still down"), 503)
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoVal_ContextCancelStopsRetries(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := DoVal(ctx, fastConfig(), func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, NewTransientError(eris.New("down"), 503)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_CustomShouldRetry(t *testing.T) {
	t.Parallel()
	cfg := fastConfig()
	cfg.ShouldRetry = func(error) bool { return true }

	calls := 0
	err := Do(context.Background(), cfg, func(context.Context) error {
		calls++
		return eris.New("not normally transient")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestIsTransient(t *testing.T) {
	t.Parallel()
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(eris.New("parse failure")))
	assert.True(t, IsTransient(NewTransientError(eris.New("x"), 500)))
	assert.True(t, IsTransient(eris.New("read tcp: i/o timeout")))
}

func TestIsTransientHTTPStatus(t *testing.T) {
	t.Parallel()
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), "code %d", code)
	}
	for _, code := range []int{200, 301, 400, 401, 403, 404} {
		assert.False(t, IsTransientHTTPStatus(code), "code %d", code)
	}
}
