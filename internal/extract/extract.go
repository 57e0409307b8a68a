// Package extract pulls professor-name candidates out of faculty listing
// HTML. The heuristics are deliberately permissive: they admit navigation
// words and section titles that a later model-filter pass removes, but
// they must never drop a real name.
package extract

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
)

// NameKind classifies an accepted candidate token.
type NameKind string

const (
	KindZH   NameKind = "zh"
	KindEN   NameKind = "en"
	KindNone NameKind = ""
)

var (
	zhNameRE  = regexp.MustCompile(`^[\x{4e00}-\x{9fff}]{2,4}$`)
	enWordRE  = regexp.MustCompile(`^[A-Za-z][A-Za-z\-'.]*$`)
	splitRE   = regexp.MustCompile(`[\s,，。；;：:、|/()（）\[\]<>《》‘’“”\-]+`)
	capizedRE = regexp.MustCompile(`\b[A-Z][A-Za-z\-'.]*(?:\s+[A-Z][A-Za-z\-'.]*){0,2}\b`)
	spaceRE   = regexp.MustCompile(`\s+`)
	slugRE    = regexp.MustCompile(`[^\w\-\x{4e00}-\x{9fff}]`)
)

// zhStopwords are CJK tokens of name-like length that are site chrome,
// not people.
var zhStopwords = []string{
	"导航", "门户", "概况", "简介", "历史", "学院", "新闻", "公告",
	"招生", "校友", "联系", "首页", "教研人员", "教师队伍", "快速",
	"主页", "北大", "网络", "课题组", "组长", "在职", "教师",
}

var enStopwords = map[string]struct{}{
	"home": {}, "portal": {}, "about": {}, "overview": {}, "news": {},
	"notice": {}, "admission": {}, "alumni": {}, "contact": {},
	"faculty": {}, "teacher": {}, "staff": {}, "research": {},
	"group": {}, "navigation": {},
}

// NormalizeToken collapses internal whitespace and trims.
func NormalizeToken(token string) string {
	return spaceRE.ReplaceAllString(strings.TrimSpace(token), " ")
}

// IsZHName reports whether token is a plausible Chinese personal name:
// 2-4 CJK characters containing no stopword.
func IsZHName(token string) bool {
	token = strings.TrimSpace(token)
	if !zhNameRE.MatchString(token) {
		return false
	}
	for _, stop := range zhStopwords {
		if strings.Contains(token, stop) {
			return false
		}
	}
	return true
}

// IsENName reports whether token is a plausible Western name: 2-3 words,
// each capitalized or all-caps, no digits, no stopword.
func IsENName(token string) bool {
	token = NormalizeToken(token)
	if token == "" || strings.ContainsAny(token, "0123456789") {
		return false
	}
	words := strings.Split(token, " ")
	if len(words) < 2 || len(words) > 3 {
		return false
	}
	allSingle := true
	for _, word := range words {
		if !enWordRE.MatchString(word) {
			return false
		}
		if !isCapitalized(word) {
			return false
		}
		if len(word) > 1 {
			allSingle = false
		}
	}
	if allSingle {
		return false
	}
	lower := strings.ToLower(token)
	if _, ok := enStopwords[lower]; ok {
		return false
	}
	for _, word := range strings.Split(lower, " ") {
		if _, ok := enStopwords[word]; ok {
			return false
		}
	}
	return true
}

func isCapitalized(word string) bool {
	if word == strings.ToUpper(word) {
		return true
	}
	return word[:1] == strings.ToUpper(word[:1]) && word[1:] == strings.ToLower(word[1:])
}

// LooksLikeName reports whether token passes either name heuristic.
func LooksLikeName(token string) bool {
	token = NormalizeToken(token)
	return IsZHName(token) || IsENName(token)
}

// TypeOf classifies token; Chinese wins when both heuristics somehow match.
func TypeOf(token string) NameKind {
	token = strings.TrimSpace(token)
	if IsZHName(token) {
		return KindZH
	}
	if IsENName(token) {
		return KindEN
	}
	return KindNone
}

// CandidatePair is one accepted token plus the profile link it was
// anchored to, when any.
type CandidatePair struct {
	Name       string
	ProfileURL string
}

// CollectCandidates extracts name candidates from a listing page. Anchor
// text keeps its resolved href as the profile URL; free-text tokens and
// capitalized English runs arrive without one. Duplicates collapse to a
// single pair, preferring whichever occurrence carried a profile URL.
// Output is sorted by name for stable stores.
func CollectCandidates(html, pageURL string) ([]CandidatePair, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, eris.Wrap(err, "extract: parse html")
	}

	var base *url.URL
	if pageURL != "" {
		base, _ = url.Parse(pageURL)
	}

	dedup := map[string]string{}
	record := func(name, profileURL string) {
		existing, ok := dedup[name]
		if !ok || (existing == "" && profileURL != "") {
			dedup[name] = profileURL
		}
	}

	doc.Find("a").Each(func(_ int, sel *goquery.Selection) {
		text := NormalizeToken(sel.Text())
		if !LooksLikeName(text) {
			return
		}
		href := strings.TrimSpace(sel.AttrOr("href", ""))
		record(text, resolveHref(base, href))
	})

	rawText := NormalizeToken(doc.Text())
	for _, token := range splitRE.Split(rawText, -1) {
		token = NormalizeToken(token)
		if LooksLikeName(token) {
			record(token, "")
		}
	}
	for _, token := range capizedRE.FindAllString(rawText, -1) {
		token = NormalizeToken(token)
		if LooksLikeName(token) {
			record(token, "")
		}
	}

	pairs := make([]CandidatePair, 0, len(dedup))
	for name, profileURL := range dedup {
		pairs = append(pairs, CandidatePair{Name: name, ProfileURL: profileURL})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Name < pairs[j].Name })
	return pairs, nil
}

// Signature fingerprints a listing page by its first 20 candidate names.
// Paginated sites that loop back to the same content produce the same
// signature, which the crawler uses to stop.
func Signature(html string) string {
	pairs, err := CollectCandidates(html, "")
	if err != nil {
		return ""
	}
	names := make([]string, 0, 20)
	for _, pair := range pairs {
		names = append(names, pair.Name)
		if len(names) == 20 {
			break
		}
	}
	return strings.Join(names, "|")
}

// NextPageURL finds the pagination link on a listing page: any anchor
// whose text contains 下一页 or 下页, or equals "next" case-insensitively.
// Returns "" when there is no next page.
func NextPageURL(currentURL, html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	base, _ := url.Parse(currentURL)

	next := ""
	doc.Find("a").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href := strings.TrimSpace(sel.AttrOr("href", ""))
		if href == "" {
			return true
		}
		text := strings.ToLower(strings.TrimSpace(sel.Text()))
		if strings.Contains(text, "下一页") || strings.Contains(text, "下页") || text == "next" {
			next = resolveHref(base, href)
			return false
		}
		return true
	})
	return next
}

// SafeSlug renders value as a filesystem-safe name, keeping CJK
// characters, word characters and hyphens, capped at 80 characters.
func SafeSlug(value string) string {
	value = spaceRE.ReplaceAllString(strings.TrimSpace(value), "-")
	value = slugRE.ReplaceAllString(value, "")
	if runes := []rune(value); len(runes) > 80 {
		value = string(runes[:80])
	}
	if value == "" {
		return "page"
	}
	return value
}

func resolveHref(base *url.URL, href string) string {
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}
