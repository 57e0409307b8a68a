// Package discovery implements phase 1: seeds are crawled into listing
// pages, pages yield raw name candidates, and candidates are promoted to
// confirmed professor identities. Each of the three steps has its own
// durable store and resumes independently.
package discovery

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/smilezzm/schools-of-professors/internal/crawl"
	"github.com/smilezzm/schools-of-professors/internal/extract"
	"github.com/smilezzm/schools-of-professors/internal/llm"
	"github.com/smilezzm/schools-of-professors/internal/model"
	"github.com/smilezzm/schools-of-professors/internal/recordstore"
	"github.com/smilezzm/schools-of-professors/internal/stage"
)

// filterBatchSize bounds how many candidate tokens go into one model call.
const filterBatchSize = 60

// Stage wires the three discovery steps together.
type Stage struct {
	Pages      *recordstore.Store[model.ListingPage]
	Candidates *recordstore.Store[model.NameCandidate]
	Names      *recordstore.Store[model.ProfessorName]

	Frontier *crawl.Frontier
	LLM      llm.Client

	// SeedWorkers bounds how many seeds crawl in parallel. Pagination
	// within one seed stays sequential.
	SeedWorkers int

	// RequireLLM makes a disabled model client a hard error instead of
	// falling back to the deterministic name filter.
	RequireLLM bool

	Now func() time.Time
}

// Run executes discovery over the (already windowed) seed list and returns
// one summary per step: pages, candidates, names.
func (s *Stage) Run(ctx context.Context, seedRows []model.SeedRow, opts stage.Options) ([]*stage.Summary, error) {
	if s.RequireLLM && !s.LLM.Enabled() {
		return nil, eris.New("discovery: model filtering required but no provider is configured")
	}

	pages, pagesSummary, err := s.crawlSeeds(ctx, seedRows, opts)
	if err != nil {
		return nil, err
	}

	candidates, candidatesSummary, err := s.extractCandidates(ctx, pages, opts)
	if err != nil {
		return nil, err
	}

	namesSummary, err := s.promoteNames(ctx, candidates, opts)
	if err != nil {
		return nil, err
	}

	return []*stage.Summary{pagesSummary, candidatesSummary, namesSummary}, nil
}

// crawlSeeds walks every pending seed's pagination in parallel. A seed is
// done once any of its pages is recorded; a failed seed's degraded page
// records keep it visible without blocking the others.
func (s *Stage) crawlSeeds(ctx context.Context, seedRows []model.SeedRow, opts stage.Options) (map[string]model.ListingPage, *stage.Summary, error) {
	var (
		warnMu   sync.Mutex
		warnings []string
	)

	crawlOpts := opts
	crawlOpts.Concurrency = s.SeedWorkers

	pages, summary, err := stage.RunFanOut(ctx, "discovery.pages",
		s.Pages, seedRows,
		func(seed model.SeedRow) string { return strconv.Itoa(seed.Index) },
		func(p model.ListingPage) string {
			// Only a fetched page marks its seed done. A degraded failed
			// record keeps the seed visible without retiring it, so the
			// next resume run retries the crawl.
			if p.Status != model.FetchOK {
				return ""
			}
			return strconv.Itoa(p.SeedIndex)
		},
		func(ctx context.Context, seed model.SeedRow) ([]model.ListingPage, error) {
			res, err := s.Frontier.Walk(ctx, seed)
			if err != nil {
				return nil, err
			}
			if len(res.Warnings) > 0 {
				warnMu.Lock()
				warnings = append(warnings, res.Warnings...)
				warnMu.Unlock()
			}
			return res.Pages, nil
		},
		crawlOpts,
	)
	if err != nil {
		return nil, nil, err
	}
	summary.Warnings = warnings
	return pages, summary, nil
}

// extractCandidates parses every successfully fetched page's saved HTML.
// Pages are keyed by html_path, so re-crawled pages re-extract while
// untouched ones are skipped on resume.
func (s *Stage) extractCandidates(ctx context.Context, pages map[string]model.ListingPage, opts stage.Options) (map[string]model.NameCandidate, *stage.Summary, error) {
	fetched := make([]model.ListingPage, 0, len(pages))
	for _, p := range pages {
		if p.Status == model.FetchOK && p.HTMLPath != "" {
			fetched = append(fetched, p)
		}
	}
	sort.Slice(fetched, func(i, j int) bool {
		if fetched[i].SeedIndex != fetched[j].SeedIndex {
			return fetched[i].SeedIndex < fetched[j].SeedIndex
		}
		return fetched[i].PageIndex < fetched[j].PageIndex
	})

	extractOpts := opts
	extractOpts.Concurrency = 1
	extractOpts.Limit = 0

	return stage.RunFanOut(ctx, "discovery.candidates",
		s.Candidates, fetched,
		func(p model.ListingPage) string { return p.HTMLPath },
		func(c model.NameCandidate) string { return c.HTMLPath },
		func(_ context.Context, page model.ListingPage) ([]model.NameCandidate, error) {
			html, err := os.ReadFile(page.HTMLPath)
			if err != nil {
				return nil, eris.Wrapf(err, "discovery: read %s", page.HTMLPath)
			}
			pairs, err := extract.CollectCandidates(string(html), page.PageURL)
			if err != nil {
				return nil, err
			}
			out := make([]model.NameCandidate, 0, len(pairs))
			for _, pair := range pairs {
				out = append(out, model.NameCandidate{
					Department: page.Department,
					School:     page.School,
					Name:       pair.Name,
					ProfileURL: pair.ProfileURL,
					HTMLPath:   page.HTMLPath,
					PageURL:    page.PageURL,
					SeedIndex:  page.SeedIndex,
					CrawlDate:  page.CrawlDate,
				})
			}
			return out, nil
		},
		extractOpts,
	)
}

// schoolGroup is one (department, school) unit's deduplicated candidates.
type schoolGroup struct {
	Department string
	School     string
	Names      []string
}

// promoteNames filters each school's candidate tokens down to confirmed
// professor names, via the model when available with the deterministic
// heuristics as fallback. On resume, names a school already has are
// excluded before filtering so model spend tracks new candidates only.
func (s *Stage) promoteNames(ctx context.Context, candidates map[string]model.NameCandidate, opts stage.Options) (*stage.Summary, error) {
	start := time.Now()
	summary := &stage.Summary{Stage: "discovery.names", Mode: stage.Mode(opts.Resume)}

	existing, err := s.Names.Load()
	if err != nil {
		return nil, eris.Wrap(err, "discovery: load names store")
	}

	existingBySchool := map[string]map[string]struct{}{}
	if opts.Resume {
		for _, p := range existing {
			k := p.Department + "|" + p.School
			if existingBySchool[k] == nil {
				existingBySchool[k] = map[string]struct{}{}
			}
			if p.NameZH != "" {
				existingBySchool[k][p.NameZH] = struct{}{}
			}
			if p.NameEN != "" {
				existingBySchool[k][p.NameEN] = struct{}{}
			}
		}
	}

	groups := groupBySchool(candidates)
	summary.Inputs = len(groups)

	var results []model.ProfessorName
	for _, group := range groups {
		known := existingBySchool[group.Department+"|"+group.School]
		pending := make([]string, 0, len(group.Names))
		for _, name := range group.Names {
			if _, ok := known[name]; ok {
				continue
			}
			pending = append(pending, name)
		}
		if len(pending) == 0 {
			summary.Skipped++
			continue
		}

		filtered := s.filterNames(ctx, group.Department, group.School, pending)
		summary.Processed++

		for _, name := range filtered {
			prof := model.ProfessorName{
				Department: group.Department,
				School:     group.School,
				Source:     "phase1_discovery",
				CrawlDate:  s.today(),
			}
			switch extract.TypeOf(name) {
			case extract.KindZH:
				prof.NameZH = name
			case extract.KindEN:
				prof.NameEN = name
			default:
				continue
			}
			results = append(results, prof)
		}
	}

	var merged map[string]model.ProfessorName
	if opts.Resume {
		merged = s.Names.Merge(existing, results)
		if err := s.Names.Append(results); err != nil {
			return nil, eris.Wrap(err, "discovery: append names")
		}
	} else {
		merged = s.Names.Merge(map[string]model.ProfessorName{}, results)
		if err := s.Names.Persist(merged); err != nil {
			return nil, eris.Wrap(err, "discovery: persist names")
		}
	}
	summary.Total = len(merged)
	summary.Duration = time.Since(start)

	zap.L().Info("stage finished",
		zap.String("stage", summary.Stage),
		zap.Int("schools", summary.Inputs),
		zap.Int("new", len(results)),
		zap.Int("total", summary.Total),
	)
	return summary, nil
}

// filterNames asks the model to keep only real person names out of a
// school's candidate tokens, batched to bound prompt size. A failed batch
// keeps all of its deterministic candidates rather than dropping them.
func (s *Stage) filterNames(ctx context.Context, department, school string, candidates []string) []string {
	deterministic := make([]string, 0, len(candidates))
	for _, name := range candidates {
		if extract.LooksLikeName(name) {
			deterministic = append(deterministic, name)
		}
	}

	if !s.LLM.Enabled() {
		return dedupSorted(deterministic)
	}

	selected := map[string]struct{}{}
	for batchStart := 0; batchStart < len(deterministic); batchStart += filterBatchSize {
		end := batchStart + filterBatchSize
		if end > len(deterministic) {
			end = len(deterministic)
		}
		batch := deterministic[batchStart:end]

		text, err := s.LLM.ChatJSON(ctx, filterPrompt(department, school, batch), 0)
		if err != nil {
			zap.L().Warn("discovery: name filter batch failed, keeping candidates",
				zap.String("school", school),
				zap.Int("batch", len(batch)),
				zap.Error(err))
			for _, name := range batch {
				selected[name] = struct{}{}
			}
			continue
		}
		for _, name := range llm.ExtractList(text) {
			if extract.LooksLikeName(name) {
				selected[name] = struct{}{}
			}
		}
	}

	out := make([]string, 0, len(selected))
	for name := range selected {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func filterPrompt(department, school string, batch []string) string {
	var b strings.Builder
	b.WriteString("请从候选词中筛选『真实教师姓名』，返回JSON数组。")
	b.WriteString("只保留人名，剔除栏目词、职位词、页面导航词、学科词、机构词。")
	b.WriteString("中文姓名一般2-4个汉字；英文姓名2-3词，且每个词应为首字母大写或全大写。")
	fmt.Fprintf(&b, "\n院系: %s", department)
	fmt.Fprintf(&b, "\n单位: %s", school)
	fmt.Fprintf(&b, "\n候选词列表: %s", strings.Join(batch, "、"))
	b.WriteString("\n仅输出JSON数组，例如: [\"张三\", \"Li Ming\"]")
	return b.String()
}

func groupBySchool(candidates map[string]model.NameCandidate) []schoolGroup {
	byKey := map[string]map[string]struct{}{}
	meta := map[string][2]string{}
	for _, c := range candidates {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			continue
		}
		k := c.Department + "|" + c.School
		if byKey[k] == nil {
			byKey[k] = map[string]struct{}{}
			meta[k] = [2]string{c.Department, c.School}
		}
		byKey[k][name] = struct{}{}
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	groups := make([]schoolGroup, 0, len(keys))
	for _, k := range keys {
		names := make([]string, 0, len(byKey[k]))
		for name := range byKey[k] {
			names = append(names, name)
		}
		sort.Strings(names)
		groups = append(groups, schoolGroup{
			Department: meta[k][0],
			School:     meta[k][1],
			Names:      names,
		})
	}
	return groups
}

func dedupSorted(names []string) []string {
	set := map[string]struct{}{}
	for _, name := range names {
		set[name] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *Stage) today() string {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return now().Format("2006-01-02")
}
