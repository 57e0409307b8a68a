// Package normalize implements phase 3: degree-school fields are rewritten
// to canonical abbreviations. A deterministic alias table handles the
// common institutions; everything else goes to the model, and low
// confidence answers become review items for an operator to correct.
package normalize

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/smilezzm/schools-of-professors/internal/llm"
	"github.com/smilezzm/schools-of-professors/internal/model"
	"github.com/smilezzm/schools-of-professors/internal/override"
	"github.com/smilezzm/schools-of-professors/internal/recordstore"
	"github.com/smilezzm/schools-of-professors/internal/stage"
)

// aliasPair maps one institution spelling to its canonical abbreviation.
// Ordered: substring matching scans top to bottom and the first hit wins,
// so longer spellings must precede the shorter ones they contain.
type aliasPair struct {
	alias string
	std   string
}

var aliasTable = []aliasPair{
	{"北京大学物理学院", "PKU"},
	{"北京大学物理系", "PKU"},
	{"北京大学", "PKU"},
	{"北大", "PKU"},
	{"中国科学院物理研究所", "CAS"},
	{"中科院物理所", "CAS"},
	{"中国科学院", "CAS"},
	{"中科院", "CAS"},
	{"清华大学", "THU"},
	{"复旦大学", "FDU"},
	{"上海交通大学", "SJTU"},
	{"浙江大学", "ZJU"},
	{"南京大学", "NJU"},
	{"中国科学技术大学", "USTC"},
	{"武汉大学", "WHU"},
	{"吉林大学", "JLU"},
}

// MapDeterministic resolves a school name through the alias table: exact
// match first, then substring scan. The boolean reports whether the table
// decided; an empty input decides to an empty abbreviation.
func MapDeterministic(name string) (string, bool) {
	text := strings.TrimSpace(name)
	if text == "" {
		return "", true
	}
	for _, pair := range aliasTable {
		if pair.alias == text {
			return pair.std, true
		}
	}
	for _, pair := range aliasTable {
		if strings.Contains(text, pair.alias) {
			return pair.std, true
		}
	}
	return "", false
}

// Transform normalizes one enriched record per call, collecting review
// items for the fields it could not confidently resolve.
type Transform struct {
	LLM       llm.Client
	Overrides *override.Resolver
	Threshold float64
	Now       func() time.Time

	mu      sync.Mutex
	reviews []model.ReviewItem
	applied int
}

// Run executes the normalization stage. The review store snapshot is taken
// once at stage start; manual values found there override matching field
// values outright, and newly flagged fields are merged back in without
// disturbing items the operator has already decided.
func Run(
	ctx context.Context,
	store *recordstore.Store[model.NormalizedProfessor],
	reviewStore *recordstore.Store[model.ReviewItem],
	enriched []model.EnrichedProfessor,
	client llm.Client,
	threshold float64,
	opts stage.Options,
) (map[string]model.NormalizedProfessor, *stage.Summary, error) {
	reviewItems, err := reviewStore.Load()
	if err != nil {
		return nil, nil, eris.Wrap(err, "normalize: load review store")
	}
	resolver := override.NewResolver(reviewItems)

	t := &Transform{
		LLM:       client,
		Overrides: resolver,
		Threshold: threshold,
	}

	merged, summary, err := stage.Run(ctx, "normalize", store, enriched,
		func(e model.EnrichedProfessor) string { return e.Key().String() },
		t.Normalize, opts)
	if err != nil {
		return nil, nil, err
	}

	finalReviews := reviewItems
	if len(t.reviews) > 0 {
		finalReviews = reviewStore.Merge(reviewItems, t.reviews)
		if err := reviewStore.Persist(finalReviews); err != nil {
			return nil, nil, eris.Wrap(err, "normalize: persist review store")
		}
	}

	pending := 0
	for _, item := range finalReviews {
		if strings.TrimSpace(item.ManualValue()) == "" {
			pending++
		}
	}
	if pending > 0 {
		summary.Warnings = append(summary.Warnings,
			fmt.Sprintf("%d review items await a manual value in %s", pending, reviewStore.Path()))
	}
	if unapplied := resolver.Overrides() - t.applied; opts.Resume && unapplied > 0 && summary.Skipped > 0 {
		summary.Warnings = append(summary.Warnings, fmt.Sprintf(
			"%d manual overrides did not apply; overrides reach already-normalized rows only on a rebuild run", unapplied))
	}
	zap.L().Info("normalize review state",
		zap.Int("new_review_items", len(t.reviews)),
		zap.Int("overrides_applied", t.applied),
		zap.Int("pending", resolver.Pending()),
	)
	return merged, summary, nil
}

// Normalize rewrites the degree-school fields of one record.
func (t *Transform) Normalize(ctx context.Context, e model.EnrichedProfessor) (model.NormalizedProfessor, error) {
	n := model.NormalizedProfessor{
		Department:      e.Department,
		School:          e.School,
		NameZH:          e.NameZH,
		NameEN:          e.NameEN,
		NameENSuggested: e.NameENSuggested,
		Title:           e.Title,
		ProfileURL:      e.ProfileURL,
		JoinYear:        e.JoinYear,
		Status:          e.Status,
		Notes:           e.Notes,
		CrawlDate:       e.CrawlDate,
	}
	key := e.Key()
	n.BSSchool = t.normalizeField(ctx, key, "bs_school", e.BSSchool)
	n.MSSchool = t.normalizeField(ctx, key, "ms_school", e.MSSchool)
	n.PhDSchool = t.normalizeField(ctx, key, "phd_school", e.PhDSchool)
	return n, nil
}

// normalizeField resolves one field value: manual override first, then the
// alias table, then the model. A value the model cannot confidently map
// keeps its original text and is flagged for review; model unavailability
// or failure flags the same way rather than failing the row.
func (t *Transform) normalizeField(ctx context.Context, key model.RowKey, field, value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}

	if manual, ok := t.Overrides.Resolve(key, field, value); ok {
		t.mu.Lock()
		t.applied++
		t.mu.Unlock()
		return manual
	}

	if std, ok := MapDeterministic(value); ok {
		return std
	}

	abbr, confidence, reason := t.mapWithModel(ctx, value)
	if abbr != "" && confidence >= t.Threshold {
		return abbr
	}

	t.mu.Lock()
	t.reviews = append(t.reviews, model.ReviewItem{
		RowKey:        key.String(),
		Field:         field,
		OriginalValue: value,
		ModelAbbr:     abbr,
		Confidence:    confidence,
		Reason:        reason,
		CreatedAt:     t.today(),
	})
	t.mu.Unlock()
	return value
}

func (t *Transform) mapWithModel(ctx context.Context, name string) (abbr string, confidence float64, reason string) {
	if !t.LLM.Enabled() {
		return "", 0, "client_disabled"
	}

	var b strings.Builder
	b.WriteString("你负责把学校/科研机构名称标准化成简写（如 PKU, CAS, THU）。")
	b.WriteString(`返回JSON对象：{"abbr":"","confidence":0~1,"reason":""}。`)
	b.WriteString("若不确定，abbr返回空字符串。")
	fmt.Fprintf(&b, "\n待标准化名称: %s", name)

	text, err := t.LLM.ChatJSON(ctx, b.String(), 0)
	if err != nil {
		return "", 0, fmt.Sprintf("model_error: %v", err)
	}
	obj := llm.ExtractObject(text)
	return strings.ToUpper(llm.StringField(obj, "abbr")),
		llm.FloatField(obj, "confidence"),
		llm.StringField(obj, "reason")
}

func (t *Transform) today() string {
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	return now().Format("2006-01-02")
}
