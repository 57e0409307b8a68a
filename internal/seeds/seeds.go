// Package seeds loads and validates the school seed CSV that roots the
// whole pipeline. Bad rows become SeedIssue records and the run continues;
// a file with no usable rows at all is a structural failure.
package seeds

import (
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/smilezzm/schools-of-professors/internal/model"
)

var requiredColumns = []string{"department_name_zh", "school_name_zh", "faculty_list_url"}

// Load reads the seed CSV (UTF-8, optional BOM) and validates each row.
// Valid rows get sequential indices by their position among valid rows;
// that index is the stable crawl-level identity across runs, so the seed
// file must not be reordered between resumed runs. Returns an error when
// the file is unreadable or no row survives validation.
func Load(path string) ([]model.SeedRow, []model.SeedIssue, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "seeds: open %s", path)
	}
	defer f.Close()

	reader := csv.NewReader(transform.NewReader(f, unicode.UTF8BOM.NewDecoder()))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, nil, eris.Wrapf(err, "seeds: read header of %s", path)
	}
	for i, name := range header {
		header[i] = strings.TrimSpace(name)
	}

	var (
		rows   []model.SeedRow
		issues []model.SeedIssue
	)
	rawIndex := -1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, eris.Wrapf(err, "seeds: read %s", path)
		}
		rawIndex++

		row := map[string]string{}
		for i, value := range record {
			if i < len(header) && header[i] != "" {
				row[header[i]] = strings.TrimSpace(value)
			}
		}

		var missing []string
		for _, col := range requiredColumns {
			if row[col] == "" {
				missing = append(missing, col)
			}
		}
		if len(missing) > 0 {
			issues = append(issues, model.SeedIssue{
				SeedIndex:     rawIndex,
				Issue:         "missing_required_fields",
				MissingFields: missing,
				Row:           row,
			})
			continue
		}

		url := row["faculty_list_url"]
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			issues = append(issues, model.SeedIssue{
				SeedIndex: rawIndex,
				Issue:     "invalid_url",
				Row:       row,
			})
			continue
		}

		rows = append(rows, model.SeedRow{
			Index:      len(rows),
			Department: row["department_name_zh"],
			School:     row["school_name_zh"],
			ListURL:    url,
			Locale:     row["locale"],
		})
	}

	if len(rows) == 0 {
		return nil, issues, eris.Errorf("seeds: no valid rows in %s", path)
	}
	return rows, issues, nil
}

// Window narrows the seed list to [start, start+limit). Indices assigned
// by Load are preserved so resume state keyed on them stays valid. A
// non-positive limit means no upper bound.
func Window(rows []model.SeedRow, start, limit int) []model.SeedRow {
	if start > 0 {
		if start >= len(rows) {
			return nil
		}
		rows = rows[start:]
	}
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}
