// Package crawl walks one seed's faculty listing pagination. Pagination
// within a seed is strictly sequential: the next page URL comes from the
// previous page's content. Seeds themselves are crawled in parallel by the
// discovery stage.
package crawl

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/smilezzm/schools-of-professors/internal/extract"
	"github.com/smilezzm/schools-of-professors/internal/fetch"
	"github.com/smilezzm/schools-of-professors/internal/model"
	"github.com/smilezzm/schools-of-professors/internal/resilience"
	"github.com/smilezzm/schools-of-professors/pkg/render"
)

// Fetcher is the static fetch path.
type Fetcher interface {
	Get(ctx context.Context, url string) (*fetch.Page, error)
}

// Frontier walks a single seed's listing pages.
type Frontier struct {
	Fetcher     Fetcher
	Renderer    render.Client // nil disables the scripted fallback
	PagesDir    string
	MaxPages    int
	RetryBudget int

	// Now is injectable for tests; nil means time.Now.
	Now func() time.Time
}

// Result is one seed's completed walk.
type Result struct {
	Pages    []model.ListingPage
	Warnings []string
}

// Walk crawls seed's listing pages up to the page cap. A page whose fetch
// exhausts the retry budget is recorded as a degraded failed page and the
// walk stops, since next-page discovery needs the page content. Two
// consecutive pages with identical name signatures also stop the walk:
// scripted pagination that has stopped advancing serves the same content
// forever.
func (f *Frontier) Walk(ctx context.Context, seed model.SeedRow) (*Result, error) {
	if err := os.MkdirAll(f.PagesDir, 0o755); err != nil {
		return nil, eris.Wrap(err, "crawl: create pages dir")
	}

	res := &Result{}
	visited := map[string]struct{}{}
	currentURL := seed.ListURL
	lastSignature := ""
	repeatCount := 0

	maxPages := f.MaxPages
	if maxPages < 1 {
		maxPages = 1
	}

	for pageIndex := 1; pageIndex <= maxPages; pageIndex++ {
		if _, seen := visited[currentURL]; seen {
			break
		}
		visited[currentURL] = struct{}{}

		page := model.ListingPage{
			Department: seed.Department,
			School:     seed.School,
			SeedURL:    seed.ListURL,
			PageURL:    currentURL,
			PageIndex:  pageIndex,
			SeedIndex:  seed.Index,
			CrawlDate:  f.today(),
		}

		html, mode, warning, err := f.fetchPage(ctx, currentURL)
		if warning != "" {
			res.Warnings = append(res.Warnings, warning)
		}
		if err != nil {
			page.Status = model.FetchFailed
			page.Mode = model.RenderStatic
			page.FetchError = err.Error()
			res.Pages = append(res.Pages, page)
			zap.L().Warn("crawl: page fetch failed",
				zap.Int("seed", seed.Index),
				zap.String("url", currentURL),
				zap.Error(err))
			break
		}

		htmlPath, err := f.savePage(seed, pageIndex, html)
		if err != nil {
			return nil, err
		}
		page.Status = model.FetchOK
		page.Mode = mode
		page.HTMLPath = htmlPath
		res.Pages = append(res.Pages, page)

		signature := extract.Signature(html)
		if signature != "" && signature == lastSignature {
			repeatCount++
		} else {
			repeatCount = 0
		}
		lastSignature = signature
		if repeatCount >= 2 {
			break
		}

		next := extract.NextPageURL(currentURL, html)
		if next == "" {
			break
		}
		currentURL = next
	}

	return res, nil
}

// fetchPage tries the static path first, retrying transient failures up to
// the budget. When the static page yields no name candidates the scripted
// renderer takes over, if configured; a missing renderer degrades to the
// static content with a warning.
func (f *Frontier) fetchPage(ctx context.Context, url string) (html string, mode model.RenderMode, warning string, err error) {
	retry := resilience.DefaultRetryConfig()
	if f.RetryBudget > 0 {
		retry.MaxAttempts = f.RetryBudget
	}
	retry.OnRetry = resilience.RetryLogger("crawl", "fetch")

	page, staticErr := resilience.DoVal(ctx, retry, func(ctx context.Context) (*fetch.Page, error) {
		return f.Fetcher.Get(ctx, url)
	})

	if staticErr == nil {
		if f.hasCandidates(page.HTML, url) {
			return page.HTML, model.RenderStatic, "", nil
		}
		if f.Renderer == nil {
			return page.HTML, model.RenderStatic,
				fmt.Sprintf("no candidates on %s and render service disabled", url), nil
		}
		rendered, renderErr := f.Renderer.Render(ctx, url)
		if renderErr != nil {
			return page.HTML, model.RenderStatic,
				fmt.Sprintf("render fallback failed for %s: %v", url, renderErr), nil
		}
		return rendered.HTML, model.RenderScripted, "", nil
	}

	if f.Renderer != nil {
		rendered, renderErr := f.Renderer.Render(ctx, url)
		if renderErr == nil {
			return rendered.HTML, model.RenderScripted, "", nil
		}
	}
	return "", model.RenderStatic, "", staticErr
}

func (f *Frontier) hasCandidates(html, url string) bool {
	pairs, err := extract.CollectCandidates(html, url)
	return err == nil && len(pairs) > 0
}

func (f *Frontier) savePage(seed model.SeedRow, pageIndex int, html string) (string, error) {
	slug := extract.SafeSlug(fmt.Sprintf("%s-%d-%d", seed.School, seed.Index, pageIndex))
	path := filepath.Join(f.PagesDir, slug+".html")
	if err := os.WriteFile(path, []byte(html), 0o644); err != nil {
		return "", eris.Wrapf(err, "crawl: save page %d of seed %d", pageIndex, seed.Index)
	}
	return path, nil
}

func (f *Frontier) today() string {
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	return now().Format("2006-01-02")
}
