// Package pipeline sequences the four stages: discovery, enrichment,
// normalization, export. Each stage consumes the previous stage's durable
// store as its input, so there is no orchestrator-level checkpoint; a
// restart re-derives progress from the stores alone.
package pipeline

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/smilezzm/schools-of-professors/internal/config"
	"github.com/smilezzm/schools-of-professors/internal/crawl"
	"github.com/smilezzm/schools-of-professors/internal/discovery"
	"github.com/smilezzm/schools-of-professors/internal/enrich"
	"github.com/smilezzm/schools-of-professors/internal/export"
	"github.com/smilezzm/schools-of-professors/internal/fetch"
	"github.com/smilezzm/schools-of-professors/internal/llm"
	"github.com/smilezzm/schools-of-professors/internal/model"
	"github.com/smilezzm/schools-of-professors/internal/normalize"
	"github.com/smilezzm/schools-of-professors/internal/recordstore"
	"github.com/smilezzm/schools-of-professors/internal/seeds"
	"github.com/smilezzm/schools-of-professors/internal/stage"
	"github.com/smilezzm/schools-of-professors/pkg/render"
)

// Options are the shared run parameters one invocation propagates to its
// stages.
type Options struct {
	Resume     bool
	Limit      int
	SeedStart  int
	SeedLimit  int
	RequireLLM bool
}

// Pipeline owns the stage stores and collaborators.
type Pipeline struct {
	cfg *config.Config
	llm llm.Client

	seedIssues *recordstore.Store[model.SeedIssue]
	pages      *recordstore.Store[model.ListingPage]
	candidates *recordstore.Store[model.NameCandidate]
	names      *recordstore.Store[model.ProfessorName]
	enriched   *recordstore.Store[model.EnrichedProfessor]
	normalized *recordstore.Store[model.NormalizedProfessor]
	review     *recordstore.Store[model.ReviewItem]

	frontier *crawl.Frontier
	exporter *export.Exporter
}

// New wires a pipeline from configuration.
func New(cfg *config.Config) *Pipeline {
	var renderer render.Client
	if cfg.Render.URL != "" {
		renderer = render.NewClient(cfg.Render.URL, cfg.Render.Token,
			render.WithTimeout(time.Duration(cfg.Render.TimeoutSecs)*time.Second))
	}

	return &Pipeline{
		cfg: cfg,
		llm: llm.FromConfig(cfg),

		seedIssues: recordstore.New(cfg.Paths.SeedIssuesPath(),
			func(i model.SeedIssue) string { return strconv.Itoa(i.SeedIndex) + "|" + i.Issue }),
		pages: recordstore.New(cfg.Paths.ListingPagesPath(),
			func(p model.ListingPage) string { return p.Key() }),
		candidates: recordstore.New(cfg.Paths.CandidatesPath(),
			func(c model.NameCandidate) string { return c.Key() }),
		names: recordstore.New(cfg.Paths.NamesPath(),
			func(p model.ProfessorName) string { return p.Key().String() }),
		enriched: recordstore.New(cfg.Paths.EnrichedPath(),
			func(e model.EnrichedProfessor) string { return e.Key().String() }),
		normalized: recordstore.New(cfg.Paths.NormalizedPath(),
			func(n model.NormalizedProfessor) string { return n.Key().String() }),
		review: recordstore.New(cfg.Paths.ReviewPath(),
			func(r model.ReviewItem) string { return r.Key() }),

		frontier: &crawl.Frontier{
			Fetcher: fetch.New(fetch.Options{
				Timeout:     time.Duration(cfg.Crawl.TimeoutSecs) * time.Second,
				UserAgent:   cfg.Crawl.UserAgent,
				RatePerHost: rate.Limit(cfg.Crawl.RatePerHost),
			}),
			Renderer:    renderer,
			PagesDir:    cfg.Paths.PagesDir(),
			MaxPages:    cfg.Crawl.MaxPagesPerSeed,
			RetryBudget: cfg.Crawl.RetryBudget,
		},
		exporter: &export.Exporter{
			TemplateCSV: cfg.Paths.TemplateCSV,
			OutputCSV:   cfg.Paths.OutputCSVPath(),
		},
	}
}

// Discover runs phase 1 over the seed CSV.
func (p *Pipeline) Discover(ctx context.Context, opts Options) ([]*stage.Summary, error) {
	seedRows, issues, err := seeds.Load(p.cfg.Paths.SeedCSV)
	if err != nil {
		return nil, err
	}
	if err := p.seedIssues.Persist(p.seedIssues.Merge(nil, issues)); err != nil {
		return nil, eris.Wrap(err, "pipeline: persist seed issues")
	}
	if len(issues) > 0 {
		zap.L().Warn("seed rows rejected",
			zap.Int("issues", len(issues)),
			zap.String("path", p.seedIssues.Path()))
	}

	seedRows = seeds.Window(seedRows, opts.SeedStart, opts.SeedLimit)

	ds := &discovery.Stage{
		Pages:       p.pages,
		Candidates:  p.candidates,
		Names:       p.names,
		Frontier:    p.frontier,
		LLM:         p.llm,
		SeedWorkers: p.cfg.Crawl.SeedWorkers,
		RequireLLM:  opts.RequireLLM,
	}
	return ds.Run(ctx, seedRows, stage.Options{Resume: opts.Resume, Limit: opts.Limit})
}

// Enrich runs phase 2 over the discovered names.
func (p *Pipeline) Enrich(ctx context.Context, opts Options) (*stage.Summary, error) {
	names, err := p.names.Load()
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load names")
	}
	inputs := sortedByKey(names)

	_, summary, err := enrich.Run(ctx, p.enriched, inputs, p.llm, stage.Options{
		Resume:      opts.Resume,
		Limit:       opts.Limit,
		Concurrency: p.cfg.Enrich.Workers,
	})
	return summary, err
}

// Normalize runs phase 3 over the enriched records.
func (p *Pipeline) Normalize(ctx context.Context, opts Options) (*stage.Summary, error) {
	enrichedRecords, err := p.enriched.Load()
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load enriched")
	}
	inputs := sortedByKey(enrichedRecords)

	_, summary, err := normalize.Run(ctx, p.normalized, p.review, inputs, p.llm,
		p.cfg.Normalize.ConfidenceThreshold,
		stage.Options{Resume: opts.Resume, Limit: opts.Limit})
	return summary, err
}

// Export merges the normalized store into the output CSV.
func (p *Pipeline) Export() (*export.Summary, error) {
	records, err := p.normalized.Load()
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load normalized")
	}
	return p.exporter.Run(records)
}

// All runs the full pipeline in order and returns every stage summary.
// A stage failure stops the sequence; the completed stages' stores keep
// their progress for the next invocation.
func (p *Pipeline) All(ctx context.Context, opts Options) ([]*stage.Summary, error) {
	summaries, err := p.Discover(ctx, opts)
	if err != nil {
		return summaries, err
	}

	enrichSummary, err := p.Enrich(ctx, opts)
	if enrichSummary != nil {
		summaries = append(summaries, enrichSummary)
	}
	if err != nil {
		return summaries, err
	}

	normalizeSummary, err := p.Normalize(ctx, opts)
	if normalizeSummary != nil {
		summaries = append(summaries, normalizeSummary)
	}
	if err != nil {
		return summaries, err
	}

	exportSummary, err := p.Export()
	if exportSummary != nil {
		summaries = append(summaries, exportSummary.StageSummary())
	}
	if err != nil {
		return summaries, err
	}
	return summaries, nil
}

// sortedByKey flattens a loaded store into stable key order so that work
// lists, and therefore retry behavior, are deterministic across runs.
func sortedByKey[R any](records map[string]R) []R {
	keys := make([]string, 0, len(records))
	for k := range records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]R, 0, len(keys))
	for _, k := range keys {
		out = append(out, records[k])
	}
	return out
}
