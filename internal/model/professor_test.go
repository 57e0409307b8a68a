package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRowKeyString(t *testing.T) {
	t.Parallel()

	k := RowKey{Department: "数学科学学院", School: "数学科学学院", NameZH: "张三", NameEN: ""}
	assert.Equal(t, "数学科学学院|数学科学学院|张三|", k.String())
}

func TestCompletionStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		e    EnrichedProfessor
		want EnrichStatus
	}{
		{"all set", EnrichedProfessor{BSSchool: "北京大学", PhDSchool: "MIT", JoinYear: "2010"}, EnrichComplete},
		{"missing join year", EnrichedProfessor{BSSchool: "北京大学", PhDSchool: "MIT"}, EnrichIncomplete},
		{"missing phd", EnrichedProfessor{BSSchool: "北京大学", JoinYear: "2010"}, EnrichIncomplete},
		{"whitespace only", EnrichedProfessor{BSSchool: " ", PhDSchool: "MIT", JoinYear: "2010"}, EnrichIncomplete},
		{"empty", EnrichedProfessor{}, EnrichIncomplete},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.e.CompletionStatus())
		})
	}
}

func TestListingPageKey(t *testing.T) {
	t.Parallel()

	p := ListingPage{SeedIndex: 2, PageURL: "https://example.edu/faculty", PageIndex: 1, HTMLPath: "data/raw/pages/x.html"}
	assert.Equal(t, "data/raw/pages/x.html", p.Key())

	p.HTMLPath = ""
	assert.Equal(t, "2|https://example.edu/faculty|1", p.Key())
}
