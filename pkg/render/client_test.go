package render

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilezzm/schools-of-professors/internal/resilience"
)

func TestRender_Success(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/content", r.URL.Path)
		assert.Equal(t, "secret", r.URL.Query().Get("token"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://phy.pku.edu.cn/szdw.htm", req["url"])

		_, _ = w.Write([]byte("<html><body>rendered</body></html>"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret")
	res, err := c.Render(context.Background(), "https://phy.pku.edu.cn/szdw.htm")
	require.NoError(t, err)
	assert.Contains(t, res.HTML, "rendered")
}

func TestRender_ServiceBusyIsTransient(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.Render(context.Background(), "https://example.com")
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestRender_BadRequestIsPermanent(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("invalid url"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.Render(context.Background(), "not-a-url")
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
}
