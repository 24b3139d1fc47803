package links

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/tweetarchive/tweets/internal/models"
	"github.com/tweetarchive/tweets/internal/urlcache"
)

// urlPattern matches an absolute URL up to whitespace, excluding a trailing period
var urlPattern = regexp.MustCompile(`(?i)https?://[^\s]+[^.\s]+`)

// Match is a URL found in text, with code point offsets
type Match struct {
	URL  string
	Span models.Span
}

// FindURLs returns every absolute URL in text in order of appearance
func FindURLs(text string) []Match {
	locs := urlPattern.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return nil
	}
	out := make([]Match, 0, len(locs))
	for _, loc := range locs {
		start := utf8.RuneCountInString(text[:loc[0]])
		out = append(out, Match{
			URL:  text[loc[0]:loc[1]],
			Span: models.Span{Start: start, End: start + utf8.RuneCountInString(text[loc[0]:loc[1]])},
		})
	}
	return out
}

// Rewriter substitutes resolved URLs into record text
type Rewriter struct {
	cache *urlcache.Cache
}

// NewRewriter returns a rewriter backed by cache
func NewRewriter(cache *urlcache.Cache) *Rewriter {
	return &Rewriter{cache: cache}
}

// RegisterExpansions records the platform's own short -> expanded pairs as
// resolved entries. Existing resolutions are left alone so later runs never
// regress a fully resolved entry back to an intermediate shortener. An
// expansion that is itself on a shortener gets a pending entry of its own.
// It returns the number of entries written.
func (rw *Rewriter) RegisterExpansions(urls []models.URLEntity) int {
	n := 0
	for _, e := range urls {
		if e.URL == "" || e.ExpandedURL == "" || Host(e.ExpandedURL) == "" {
			continue
		}
		if IsShortener(e.ExpandedURL) && rw.cache.MarkPending(e.ExpandedURL) {
			n++
		}
		if v, ok := rw.cache.Get(e.URL); ok && !v.IsPending() {
			continue
		}
		rw.cache.Set(e.URL, urlcache.Resolved(e.ExpandedURL))
		n++
	}
	return n
}

// MarkShortened adds a pending entry for every shortener URL in text that has
// no entry yet. It returns the number of new entries.
func (rw *Rewriter) MarkShortened(text string) int {
	n := 0
	for _, m := range FindURLs(text) {
		if !IsShortener(m.URL) {
			continue
		}
		if rw.cache.MarkPending(m.URL) {
			n++
		}
	}
	return n
}

// Rewrite replaces each URL in text that has a resolved cache entry with its
// destination, then trims surrounding whitespace. Only whole matched URLs are
// replaced, never a prefix of a longer one. Entries holding a status code are
// never substituted.
func (rw *Rewriter) Rewrite(text string) string {
	locs := urlPattern.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return strings.TrimSpace(text)
	}

	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, loc := range locs {
		raw := text[loc[0]:loc[1]]
		b.WriteString(text[last:loc[0]])
		b.WriteString(rw.destination(raw))
		last = loc[1]
	}
	b.WriteString(text[last:])
	return strings.TrimSpace(b.String())
}

// destination returns the resolved target of raw, or raw itself
func (rw *Rewriter) destination(raw string) string {
	v, ok := rw.cache.Get(raw)
	if !ok {
		return raw
	}
	if target, ok := v.URL(); ok && target != "" {
		return target
	}
	return raw
}
