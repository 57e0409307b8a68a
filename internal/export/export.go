// Package export merges normalized records into the final CSV. The column
// set comes from an externally maintained template, and the existing
// output is read back first so exporting is additive: rows absent from
// this run's normalized set survive untouched.
package export

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/smilezzm/schools-of-professors/internal/model"
	"github.com/smilezzm/schools-of-professors/internal/stage"
)

// Exporter writes the final table.
type Exporter struct {
	TemplateCSV string
	OutputCSV   string

	Now func() time.Time
}

// Summary reports what one export did.
type Summary struct {
	Columns  int           `json:"columns"`
	Existing int           `json:"existing"`
	Merged   int           `json:"merged"`
	Total    int           `json:"total"`
	Duration time.Duration `json:"duration"`
}

// StageSummary adapts the export counts to the shape the run-history
// store records for every stage. Export always merges into the existing
// output, so its mode is fixed.
func (s *Summary) StageSummary() *stage.Summary {
	return &stage.Summary{
		Stage:     "export",
		Mode:      "merge",
		Inputs:    s.Merged,
		Processed: s.Merged,
		Total:     s.Total,
		Duration:  s.Duration,
	}
}

// Run merges records into the output CSV. Row identity is the canonical
// row key projected onto the template's identity columns; a normalized
// record replaces the existing output row with its key and leaves every
// other row alone. Rows missing a crawl date get today's.
func (e *Exporter) Run(records map[string]model.NormalizedProfessor) (*Summary, error) {
	start := time.Now()

	headers, err := readHeader(e.TemplateCSV)
	if err != nil {
		return nil, err
	}

	merged := map[string]map[string]string{}

	existing, err := readRows(e.OutputCSV)
	if err != nil {
		return nil, err
	}
	for _, row := range existing {
		mapped := projectRow(row, headers)
		merged[rowKeyOf(mapped)] = mapped
	}
	summary := &Summary{Columns: len(headers), Existing: len(existing), Merged: len(records)}

	for _, key := range sortedKeys(records) {
		mapped := projectRow(rowValues(records[key]), headers)
		if mapped["crawl_date"] == "" {
			mapped["crawl_date"] = e.today()
		}
		merged[rowKeyOf(mapped)] = mapped
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if err := writeRows(e.OutputCSV, headers, keys, merged); err != nil {
		return nil, err
	}
	summary.Total = len(merged)
	summary.Duration = time.Since(start)

	zap.L().Info("export finished",
		zap.Int("existing", summary.Existing),
		zap.Int("merged", summary.Merged),
		zap.Int("total", summary.Total),
		zap.String("path", e.OutputCSV),
	)
	return summary, nil
}

// rowValues projects a normalized record onto the template's column names.
func rowValues(n model.NormalizedProfessor) map[string]string {
	return map[string]string{
		"department_name_zh": n.Department,
		"school_name_zh":     n.School,
		"name_zh":            n.NameZH,
		"name_en":            n.NameEN,
		"name_en_suggested":  n.NameENSuggested,
		"title":              n.Title,
		"profile_url":        n.ProfileURL,
		"bs_school":          n.BSSchool,
		"ms_school":          n.MSSchool,
		"phd_school":         n.PhDSchool,
		"join_pku_year":      n.JoinYear,
		"status":             string(n.Status),
		"notes":              n.Notes,
		"crawl_date":         n.CrawlDate,
	}
}

func rowKeyOf(row map[string]string) string {
	return strings.Join([]string{
		strings.TrimSpace(row["department_name_zh"]),
		strings.TrimSpace(row["school_name_zh"]),
		strings.TrimSpace(row["name_zh"]),
		strings.TrimSpace(row["name_en"]),
	}, "|")
}

func projectRow(row map[string]string, headers []string) map[string]string {
	out := make(map[string]string, len(headers))
	for _, h := range headers {
		out[h] = row[h]
	}
	return out
}

func readHeader(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "export: open template %s", path)
	}
	defer f.Close()

	reader := csv.NewReader(transform.NewReader(f, unicode.UTF8BOM.NewDecoder()))
	header, err := reader.Read()
	if err != nil {
		return nil, eris.Wrapf(err, "export: read template header %s", path)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	return header, nil
}

func readRows(path string) ([]map[string]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "export: open %s", path)
	}
	defer f.Close()

	reader := csv.NewReader(transform.NewReader(f, unicode.UTF8BOM.NewDecoder()))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "export: read header of %s", path)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var rows []map[string]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "export: read %s", path)
		}
		row := make(map[string]string, len(header))
		for i, value := range record {
			if i < len(header) {
				row[header[i]] = value
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// writeRows rewrites the output atomically, BOM-prefixed so spreadsheet
// tools detect UTF-8.
func writeRows(path string, headers, keys []string, rows map[string]map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "export: create output dir")
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".professors_output-*.csv")
	if err != nil {
		return eris.Wrap(err, "export: create temp output")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString("\uFEFF"); err != nil {
		tmp.Close()
		return eris.Wrap(err, "export: write BOM")
	}
	w := csv.NewWriter(tmp)
	if err := w.Write(headers); err != nil {
		tmp.Close()
		return eris.Wrap(err, "export: write header")
	}
	record := make([]string, len(headers))
	for _, key := range keys {
		row := rows[key]
		for i, h := range headers {
			record[i] = row[h]
		}
		if err := w.Write(record); err != nil {
			tmp.Close()
			return eris.Wrap(err, "export: write row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return eris.Wrap(err, "export: flush")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return eris.Wrap(err, "export: sync")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "export: close temp")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return eris.Wrap(err, "export: rename into place")
	}
	return nil
}

func sortedKeys(records map[string]model.NormalizedProfessor) []string {
	keys := make([]string, 0, len(records))
	for k := range records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (e *Exporter) today() string {
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	return now().Format("2006-01-02")
}
