package discovery

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilezzm/schools-of-professors/internal/crawl"
	"github.com/smilezzm/schools-of-professors/internal/fetch"
	"github.com/smilezzm/schools-of-professors/internal/llm"
	"github.com/smilezzm/schools-of-professors/internal/model"
	"github.com/smilezzm/schools-of-professors/internal/recordstore"
	"github.com/smilezzm/schools-of-professors/internal/stage"
)

// scriptedLLM replays canned responses and records prompts.
type scriptedLLM struct {
	response string
	err      error
	prompts  []string
}

func (s *scriptedLLM) ChatJSON(_ context.Context, prompt string, _ float64) (string, error) {
	s.prompts = append(s.prompts, prompt)
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func (s *scriptedLLM) Enabled() bool { return true }

func facultySite(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><ul>
<li><a href="/people/zs">张三丰</a></li>
<li><a href="/people/ls">李四光</a></li>
<li><a href="/">首页</a></li>
</ul></body></html>`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestStage(t *testing.T, client llm.Client) *Stage {
	t.Helper()
	dir := t.TempDir()
	if client == nil {
		client = llm.Disabled{}
	}
	return &Stage{
		Pages: recordstore.New(filepath.Join(dir, "pages.jsonl"),
			func(p model.ListingPage) string { return p.Key() }),
		Candidates: recordstore.New(filepath.Join(dir, "candidates.jsonl"),
			func(c model.NameCandidate) string { return c.Key() }),
		Names: recordstore.New(filepath.Join(dir, "names.jsonl"),
			func(p model.ProfessorName) string { return p.Key().String() }),
		Frontier: &crawl.Frontier{
			Fetcher:     fetch.New(fetch.Options{RatePerHost: 1000}),
			PagesDir:    filepath.Join(dir, "pages"),
			MaxPages:    3,
			RetryBudget: 1,
		},
		LLM:         client,
		SeedWorkers: 2,
	}
}

func seedFor(srv *httptest.Server) []model.SeedRow {
	return []model.SeedRow{{
		Index:      0,
		Department: "信息科学技术学院",
		School:     "计算机学院",
		ListURL:    srv.URL + "/faculty",
	}}
}

func TestRun_FullDiscovery(t *testing.T) {
	srv := facultySite(t)
	s := newTestStage(t, nil)

	summaries, err := s.Run(context.Background(), seedFor(srv), stage.Options{Resume: true})
	require.NoError(t, err)
	require.Len(t, summaries, 3)
	assert.Equal(t, "discovery.pages", summaries[0].Stage)
	assert.Equal(t, "discovery.candidates", summaries[1].Stage)
	assert.Equal(t, "discovery.names", summaries[2].Stage)

	pages, err := s.Pages.Load()
	require.NoError(t, err)
	require.Len(t, pages, 1)

	names, err := s.Names.Load()
	require.NoError(t, err)
	assert.Len(t, names, 2)
	for _, p := range names {
		assert.Equal(t, "phase1_discovery", p.Source)
		assert.Equal(t, "计算机学院", p.School)
		assert.NotEmpty(t, p.NameZH)
		assert.Empty(t, p.NameEN)
	}
}

func TestRun_ResumeIsNoOp(t *testing.T) {
	srv := facultySite(t)
	s := newTestStage(t, nil)
	seedRows := seedFor(srv)

	_, err := s.Run(context.Background(), seedRows, stage.Options{Resume: true})
	require.NoError(t, err)

	before := readAll(t, s.Names.Path())
	summaries, err := s.Run(context.Background(), seedRows, stage.Options{Resume: true})
	require.NoError(t, err)

	assert.Equal(t, 1, summaries[0].Skipped)
	assert.Equal(t, 0, summaries[0].Processed)
	assert.Equal(t, 1, summaries[2].Skipped)
	assert.Equal(t, before, readAll(t, s.Names.Path()))
}

func TestRun_ModelFilterNarrowsNames(t *testing.T) {
	srv := facultySite(t)
	client := &scriptedLLM{response: `["张三丰"]`}
	s := newTestStage(t, client)

	_, err := s.Run(context.Background(), seedFor(srv), stage.Options{Resume: true})
	require.NoError(t, err)

	names, err := s.Names.Load()
	require.NoError(t, err)
	require.Len(t, names, 1)
	for _, p := range names {
		assert.Equal(t, "张三丰", p.NameZH)
	}

	require.Len(t, client.prompts, 1)
	assert.Contains(t, client.prompts[0], "计算机学院")
	assert.Contains(t, client.prompts[0], "张三丰")
	assert.Contains(t, client.prompts[0], "李四光")
}

func TestRun_FilterFailureKeepsBatch(t *testing.T) {
	srv := facultySite(t)
	s := newTestStage(t, &scriptedLLM{err: eris.New("model overloaded")})

	_, err := s.Run(context.Background(), seedFor(srv), stage.Options{Resume: true})
	require.NoError(t, err)

	names, err := s.Names.Load()
	require.NoError(t, err)
	assert.Len(t, names, 2)
}

func TestRun_RequireLLMWithoutProvider(t *testing.T) {
	srv := facultySite(t)
	s := newTestStage(t, nil)
	s.RequireLLM = true

	_, err := s.Run(context.Background(), seedFor(srv), stage.Options{Resume: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no provider")
}

func TestRun_FailedSeedDoesNotBlockOthers(t *testing.T) {
	good := facultySite(t)
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(bad.Close)

	s := newTestStage(t, nil)
	seedRows := []model.SeedRow{
		{Index: 0, Department: "信息科学技术学院", School: "计算机学院", ListURL: good.URL + "/faculty"},
		{Index: 1, Department: "物理学院", School: "物理学院", ListURL: bad.URL + "/faculty"},
	}

	summaries, err := s.Run(context.Background(), seedRows, stage.Options{Resume: true})
	require.NoError(t, err)

	pages, err := s.Pages.Load()
	require.NoError(t, err)
	require.Len(t, pages, 2)

	failed := 0
	for _, p := range pages {
		if p.Status == model.FetchFailed {
			failed++
			assert.Equal(t, 1, p.SeedIndex)
		}
	}
	assert.Equal(t, 1, failed)
	assert.Equal(t, 2, summaries[0].Processed)

	names, err := s.Names.Load()
	require.NoError(t, err)
	assert.Len(t, names, 2)
}

func TestRun_FailedSeedRetriedOnResume(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, `<html><body><ul>
<li><a href="/people/zs">张三丰</a></li>
<li><a href="/people/ls">李四光</a></li>
</ul></body></html>`)
	}))
	t.Cleanup(srv.Close)

	s := newTestStage(t, nil)
	seedRows := seedFor(srv)

	_, err := s.Run(context.Background(), seedRows, stage.Options{Resume: true})
	require.NoError(t, err)

	pages, err := s.Pages.Load()
	require.NoError(t, err)
	require.Len(t, pages, 1)
	for _, p := range pages {
		assert.Equal(t, model.FetchFailed, p.Status)
	}
	names, err := s.Names.Load()
	require.NoError(t, err)
	assert.Empty(t, names)

	// The listing recovers. The degraded page record must not retire the
	// seed: the next resume run crawls it again and yields names.
	healthy.Store(true)
	summaries, err := s.Run(context.Background(), seedRows, stage.Options{Resume: true})
	require.NoError(t, err)
	assert.Equal(t, 0, summaries[0].Skipped)
	assert.Equal(t, 1, summaries[0].Processed)

	names, err = s.Names.Load()
	require.NoError(t, err)
	assert.Len(t, names, 2)
}

func readAll(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return ""
	}
	require.NoError(t, err)
	return string(data)
}
