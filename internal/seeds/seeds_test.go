package seeds

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilezzm/schools-of-professors/internal/model"
)

func writeSeedCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schools_seed.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := writeSeedCSV(t, "department_name_zh,school_name_zh,faculty_list_url,locale\n"+
		"信息科学技术学院,计算机学院,https://cs.example.edu/faculty/,zh\n"+
		"物理学院,物理学院,http://phy.example.edu/people\n")

	rows, issues, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, issues)
	require.Len(t, rows, 2)

	assert.Equal(t, model.SeedRow{
		Index:      0,
		Department: "信息科学技术学院",
		School:     "计算机学院",
		ListURL:    "https://cs.example.edu/faculty/",
		Locale:     "zh",
	}, rows[0])
	assert.Equal(t, 1, rows[1].Index)
	assert.Empty(t, rows[1].Locale)
}

func TestLoadStripsBOM(t *testing.T) {
	t.Parallel()

	path := writeSeedCSV(t, "\uFEFFdepartment_name_zh,school_name_zh,faculty_list_url\n"+
		"数学科学学院,数学科学学院,https://math.example.edu/\n")

	rows, _, err := Load(path)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "数学科学学院", rows[0].Department)
}

func TestLoadRecordsIssues(t *testing.T) {
	t.Parallel()

	path := writeSeedCSV(t, "department_name_zh,school_name_zh,faculty_list_url\n"+
		",化学学院,https://chem.example.edu/\n"+ // missing department
		"生命科学学院,生科院,ftp://bio.example.edu/\n"+ // bad scheme
		"信息科学技术学院,计算机学院,https://cs.example.edu/faculty/\n")

	rows, issues, err := Load(path)
	require.NoError(t, err)

	require.Len(t, rows, 1)
	assert.Equal(t, 0, rows[0].Index)
	assert.Equal(t, "计算机学院", rows[0].School)

	require.Len(t, issues, 2)
	assert.Equal(t, "missing_required_fields", issues[0].Issue)
	assert.Equal(t, []string{"department_name_zh"}, issues[0].MissingFields)
	assert.Equal(t, 0, issues[0].SeedIndex)
	assert.Equal(t, "invalid_url", issues[1].Issue)
	assert.Equal(t, 1, issues[1].SeedIndex)
}

func TestLoadFailsWithoutValidRows(t *testing.T) {
	t.Parallel()

	path := writeSeedCSV(t, "department_name_zh,school_name_zh,faculty_list_url\n"+
		",,not-a-url\n")

	_, issues, err := Load(path)
	assert.Error(t, err)
	assert.Len(t, issues, 1)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, _, err := Load(filepath.Join(t.TempDir(), "absent.csv"))
	assert.Error(t, err)
}

func TestWindow(t *testing.T) {
	t.Parallel()

	rows := []model.SeedRow{{Index: 0}, {Index: 1}, {Index: 2}, {Index: 3}}

	assert.Len(t, Window(rows, 0, 0), 4)
	assert.Equal(t, []model.SeedRow{{Index: 1}, {Index: 2}}, Window(rows, 1, 2))
	assert.Equal(t, []model.SeedRow{{Index: 3}}, Window(rows, 3, 10))
	assert.Empty(t, Window(rows, 9, 0))
}
