// Package enrich implements phase 2: each confirmed professor identity is
// enriched with career fields (title, degree schools, join year) through a
// model web-search call. One record per row key; a later enrichment fully
// replaces an earlier one.
package enrich

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/smilezzm/schools-of-professors/internal/llm"
	"github.com/smilezzm/schools-of-professors/internal/model"
	"github.com/smilezzm/schools-of-professors/internal/recordstore"
	"github.com/smilezzm/schools-of-professors/internal/stage"
)

// Transform enriches one professor identity per call.
type Transform struct {
	LLM llm.Client
	Now func() time.Time
}

// Run executes the enrichment stage over names in stable key order.
func Run(
	ctx context.Context,
	store *recordstore.Store[model.EnrichedProfessor],
	names []model.ProfessorName,
	client llm.Client,
	opts stage.Options,
) (map[string]model.EnrichedProfessor, *stage.Summary, error) {
	t := &Transform{LLM: client}
	return stage.Run(ctx, "enrich", store, names,
		func(p model.ProfessorName) string { return p.Key().String() },
		t.Enrich, opts)
}

// Enrich builds the enriched record for one identity. With no model
// configured the default (empty-fields, incomplete) record is still
// written, so the row counts as processed and does not loop forever. A
// model failure is returned as an error instead, keeping the row eligible
// for retry on the next run.
func (t *Transform) Enrich(ctx context.Context, p model.ProfessorName) (model.EnrichedProfessor, error) {
	rec := model.EnrichedProfessor{
		Department: p.Department,
		School:     p.School,
		NameZH:     p.NameZH,
		NameEN:     p.NameEN,
		ProfileURL: p.ProfileURL,
		Status:     model.EnrichIncomplete,
		CrawlDate:  t.today(),
	}

	if !t.LLM.Enabled() {
		return rec, nil
	}

	text, err := t.LLM.ChatJSON(ctx, t.prompt(p), 0.05)
	if err != nil {
		return model.EnrichedProfessor{}, eris.Wrapf(err, "enrich: %s", p.Key())
	}
	obj := llm.ExtractObject(text)
	if len(obj) == 0 {
		return model.EnrichedProfessor{}, eris.Errorf("enrich: %s: model returned no JSON object", p.Key())
	}

	if suggested := llm.StringField(obj, "name_en"); suggested != "" && suggested != p.NameEN {
		rec.NameENSuggested = suggested
	}
	rec.Title = llm.StringField(obj, "title")
	if url := llm.StringField(obj, "profile_url"); url != "" {
		rec.ProfileURL = url
	}
	rec.BSSchool = llm.StringField(obj, "bs_school")
	rec.MSSchool = llm.StringField(obj, "ms_school")
	rec.PhDSchool = llm.StringField(obj, "phd_school")
	rec.JoinYear = llm.StringField(obj, "join_pku_year")
	rec.Notes = llm.StringField(obj, "notes")
	rec.Status = rec.CompletionStatus()
	return rec, nil
}

func (t *Transform) prompt(p model.ProfessorName) string {
	identity := p.NameZH
	if identity == "" {
		identity = p.NameEN
	}
	var b strings.Builder
	b.WriteString("基于北京大学教师主页检索教师信息。")
	b.WriteString("只输出纯文本JSON对象，字段完整：")
	b.WriteString("name_en,title,profile_url,bs_school,ms_school,phd_school,join_pku_year,notes。")
	b.WriteString("如果不确定请留空字符串，不要编造。")
	b.WriteString("profile_url 需要通过检索给出最可信的教师个人主页链接。")
	b.WriteString("join_pku_year 只给出年份数字，不要其他文字。")
	b.WriteString("bs_school/ms_school/phd_school 只给出学校名称，不要其他文字（如本科、学士等）。")
	fmt.Fprintf(&b, "\n姓名: %s", identity)
	fmt.Fprintf(&b, "\n学部: %s", p.Department)
	fmt.Fprintf(&b, "\n学院: %s", p.School)
	return b.String()
}

func (t *Transform) today() string {
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	return now().Format("2006-01-02")
}
