package model

import "strings"

// RowKey is the canonical identity of one professor across all stages:
// (department, school, Chinese name, English name). Keys are exact-string
// tuples; no normalization or fuzzy matching is ever applied to the key.
type RowKey struct {
	Department string
	School     string
	NameZH     string
	NameEN     string
}

// String renders the key as the pipe-joined form stored in review items.
func (k RowKey) String() string {
	return strings.Join([]string{k.Department, k.School, k.NameZH, k.NameEN}, "|")
}

// ProfessorName is a confirmed professor identity, the phase-1 output and
// the input to every downstream stage. Exactly one of NameZH/NameEN is set
// for names discovered by the pipeline; manually seeded rows may carry both.
type ProfessorName struct {
	Department string `json:"department_name_zh"`
	School     string `json:"school_name_zh"`
	NameZH     string `json:"name_zh"`
	NameEN     string `json:"name_en"`
	ProfileURL string `json:"profile_url"`
	Source     string `json:"source"`
	CrawlDate  string `json:"crawl_date"`
}

// Key returns the canonical row key.
func (p ProfessorName) Key() RowKey {
	return RowKey{Department: p.Department, School: p.School, NameZH: p.NameZH, NameEN: p.NameEN}
}

// EnrichStatus marks whether an enriched record has all the fields the
// export cares most about.
type EnrichStatus string

const (
	EnrichComplete   EnrichStatus = "complete"
	EnrichIncomplete EnrichStatus = "incomplete"
)

// EnrichedProfessor is a ProfessorName plus model-derived career fields.
// A later enrichment for the same key fully replaces an earlier one.
type EnrichedProfessor struct {
	Department string `json:"department_name_zh"`
	School     string `json:"school_name_zh"`
	NameZH     string `json:"name_zh"`
	NameEN     string `json:"name_en"`

	// NameENSuggested holds a model-proposed English name for rows whose
	// NameEN is empty. It lives outside the key fields: rewriting NameEN
	// would change the row key and orphan the record from its input.
	NameENSuggested string `json:"name_en_suggested,omitempty"`

	Title      string       `json:"title"`
	ProfileURL string       `json:"profile_url"`
	BSSchool   string       `json:"bs_school"`
	MSSchool   string       `json:"ms_school"`
	PhDSchool  string       `json:"phd_school"`
	JoinYear   string       `json:"join_pku_year"`
	Status     EnrichStatus `json:"status"`
	Notes      string       `json:"notes"`
	CrawlDate  string       `json:"crawl_date"`
}

// Key returns the canonical row key.
func (e EnrichedProfessor) Key() RowKey {
	return RowKey{Department: e.Department, School: e.School, NameZH: e.NameZH, NameEN: e.NameEN}
}

// CompletionStatus derives the status from the fields that matter:
// a record is complete when BS school, PhD school and join year are all set.
func (e EnrichedProfessor) CompletionStatus() EnrichStatus {
	if strings.TrimSpace(e.BSSchool) != "" &&
		strings.TrimSpace(e.PhDSchool) != "" &&
		strings.TrimSpace(e.JoinYear) != "" {
		return EnrichComplete
	}
	return EnrichIncomplete
}

// NormalizedProfessor is an EnrichedProfessor whose bs/ms/phd school fields
// have been rewritten to canonical abbreviations where possible. Same row
// key; fields the normalizer could not resolve keep their original value
// and emit a ReviewItem instead.
type NormalizedProfessor struct {
	Department      string       `json:"department_name_zh"`
	School          string       `json:"school_name_zh"`
	NameZH          string       `json:"name_zh"`
	NameEN          string       `json:"name_en"`
	NameENSuggested string       `json:"name_en_suggested,omitempty"`
	Title           string       `json:"title"`
	ProfileURL      string       `json:"profile_url"`
	BSSchool        string       `json:"bs_school"`
	MSSchool        string       `json:"ms_school"`
	PhDSchool       string       `json:"phd_school"`
	JoinYear        string       `json:"join_pku_year"`
	Status          EnrichStatus `json:"status"`
	Notes           string       `json:"notes"`
	CrawlDate       string       `json:"crawl_date"`
}

// Key returns the canonical row key.
func (n NormalizedProfessor) Key() RowKey {
	return RowKey{Department: n.Department, School: n.School, NameZH: n.NameZH, NameEN: n.NameEN}
}
