package model

import "strconv"

// FetchStatus records how a listing-page fetch ended.
type FetchStatus string

const (
	FetchOK     FetchStatus = "ok"
	FetchFailed FetchStatus = "failed"
)

// RenderMode records which fetch path produced a page's content.
type RenderMode string

const (
	RenderStatic   RenderMode = "static"
	RenderScripted RenderMode = "scripted"
)

// SeedRow is one school/faculty unit from the seed CSV. Immutable,
// externally sourced. Index is the stable crawl-level identity.
type SeedRow struct {
	Index      int    `json:"seed_row_index"`
	Department string `json:"department_name_zh"`
	School     string `json:"school_name_zh"`
	ListURL    string `json:"faculty_list_url"`
	Locale     string `json:"locale,omitempty"`
}

// ListingPage is one fetched page of a seed's pagination walk. Created by
// the crawl frontier and never mutated afterwards. HTMLPath is the
// content-addressed key; pages whose fetch failed have no HTMLPath and key
// on seed|url|index instead.
type ListingPage struct {
	Department string      `json:"department_name_zh"`
	School     string      `json:"school_name_zh"`
	SeedURL    string      `json:"seed_faculty_list_url"`
	PageURL    string      `json:"listing_page_url"`
	PageIndex  int         `json:"page_index"`
	SeedIndex  int         `json:"seed_row_index"`
	HTMLPath   string      `json:"html_path"`
	Status     FetchStatus `json:"fetch_status"`
	Mode       RenderMode  `json:"render_mode"`
	FetchError string      `json:"fetch_error,omitempty"`
	CrawlDate  string      `json:"crawl_date"`
}

// Key returns the page's store key: the content-addressed HTML path when
// present, else the positional fallback.
func (p ListingPage) Key() string {
	if p.HTMLPath != "" {
		return p.HTMLPath
	}
	return strconv.Itoa(p.SeedIndex) + "|" + p.PageURL + "|" + strconv.Itoa(p.PageIndex)
}

// NameCandidate is a raw (name, profile-link) pair pulled from one listing
// page. Most candidates are noise; filtering happens in the promote step.
type NameCandidate struct {
	Department string `json:"department_name_zh"`
	School     string `json:"school_name_zh"`
	Name       string `json:"name_candidate"`
	ProfileURL string `json:"profile_url"`
	HTMLPath   string `json:"html_path"`
	PageURL    string `json:"listing_page_url"`
	SeedIndex  int    `json:"seed_row_index"`
	CrawlDate  string `json:"crawl_date"`
}

// Key identifies a candidate across runs.
func (c NameCandidate) Key() string {
	return c.Department + "|" + c.School + "|" + c.Name + "|" + c.ProfileURL + "|" + c.PageURL
}

// SeedIssue records a seed row rejected by validation. Written to its own
// file so operators can fix the seed CSV; the run continues without the row.
type SeedIssue struct {
	SeedIndex     int               `json:"seed_row_index"`
	Issue         string            `json:"issue"`
	MissingFields []string          `json:"missing_fields,omitempty"`
	Row           map[string]string `json:"row"`
}
