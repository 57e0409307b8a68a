package export

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilezzm/schools-of-professors/internal/model"
)

const templateHeader = "department_name_zh,school_name_zh,name_zh,name_en,title,bs_school,ms_school,phd_school,join_pku_year,status,crawl_date\n"

func newExporter(t *testing.T) *Exporter {
	t.Helper()
	dir := t.TempDir()
	template := filepath.Join(dir, "professors_template.csv")
	require.NoError(t, os.WriteFile(template, []byte(templateHeader), 0o644))
	return &Exporter{
		TemplateCSV: template,
		OutputCSV:   filepath.Join(dir, "output", "professors_output.csv"),
		Now:         func() time.Time { return time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC) },
	}
}

func normalized(nameZH string) model.NormalizedProfessor {
	return model.NormalizedProfessor{
		Department: "物理学院",
		School:     "物理学院",
		NameZH:     nameZH,
		BSSchool:   "PKU",
		PhDSchool:  "UPS",
		JoinYear:   "2005",
		Status:     model.EnrichComplete,
		CrawlDate:  "2026-08-01",
	}
}

func recordsOf(profs ...model.NormalizedProfessor) map[string]model.NormalizedProfessor {
	out := map[string]model.NormalizedProfessor{}
	for _, p := range profs {
		out[p.Key().String()] = p
	}
	return out
}

func readOutput(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := strings.TrimPrefix(string(data), "\uFEFF")
	return strings.Split(strings.TrimSpace(content), "\n")
}

func TestRun_WritesTemplateColumns(t *testing.T) {
	t.Parallel()

	e := newExporter(t)
	sum, err := e.Run(recordsOf(normalized("李四光")))
	require.NoError(t, err)
	assert.Equal(t, 11, sum.Columns)
	assert.Equal(t, 0, sum.Existing)
	assert.Equal(t, 1, sum.Total)

	lines := readOutput(t, e.OutputCSV)
	require.Len(t, lines, 2)
	assert.Equal(t, strings.TrimSpace(templateHeader), lines[0])
	assert.Contains(t, lines[1], "李四光")
	assert.Contains(t, lines[1], "UPS")
	// Columns outside the template (notes, profile_url) are not exported.
	assert.NotContains(t, lines[0], "notes")
}

func TestRun_Additivity(t *testing.T) {
	t.Parallel()

	e := newExporter(t)
	_, err := e.Run(recordsOf(normalized("李四光")))
	require.NoError(t, err)

	// Second export carries only a different row; the first survives.
	sum, err := e.Run(recordsOf(normalized("钱三强")))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Existing)
	assert.Equal(t, 2, sum.Total)

	lines := readOutput(t, e.OutputCSV)
	require.Len(t, lines, 3)
	content := strings.Join(lines, "\n")
	assert.Contains(t, content, "李四光")
	assert.Contains(t, content, "钱三强")
}

func TestRun_SameKeyReplaced(t *testing.T) {
	t.Parallel()

	e := newExporter(t)
	_, err := e.Run(recordsOf(normalized("李四光")))
	require.NoError(t, err)

	updated := normalized("李四光")
	updated.PhDSchool = "CAS"
	sum, err := e.Run(recordsOf(updated))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Total)

	lines := readOutput(t, e.OutputCSV)
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "CAS")
	assert.NotContains(t, lines[1], "UPS")
}

func TestRun_DefaultsCrawlDate(t *testing.T) {
	t.Parallel()

	e := newExporter(t)
	p := normalized("李四光")
	p.CrawlDate = ""
	_, err := e.Run(recordsOf(p))
	require.NoError(t, err)

	lines := readOutput(t, e.OutputCSV)
	assert.Contains(t, lines[1], "2026-08-29")
}

func TestRun_MissingTemplateFails(t *testing.T) {
	t.Parallel()

	e := newExporter(t)
	e.TemplateCSV = filepath.Join(t.TempDir(), "absent.csv")
	_, err := e.Run(nil)
	assert.Error(t, err)
}

func TestRun_OutputStartsWithBOM(t *testing.T) {
	t.Parallel()

	e := newExporter(t)
	_, err := e.Run(recordsOf(normalized("李四光")))
	require.NoError(t, err)

	data, err := os.ReadFile(e.OutputCSV)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "\uFEFF"))
}

func TestStageSummary(t *testing.T) {
	t.Parallel()

	e := newExporter(t)
	sum, err := e.Run(recordsOf(normalized("李四光")))
	require.NoError(t, err)

	ss := sum.StageSummary()
	assert.Equal(t, "export", ss.Stage)
	assert.Equal(t, "merge", ss.Mode)
	assert.Equal(t, 1, ss.Processed)
	assert.Equal(t, 1, ss.Total)
	assert.Equal(t, sum.Duration, ss.Duration)
}
