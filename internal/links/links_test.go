package links

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tweetarchive/tweets/internal/models"
	"github.com/tweetarchive/tweets/internal/urlcache"
)

func TestFindURLs(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected []Match
	}{
		{
			name: "trailing period excluded",
			text: "see http://bit.ly/xyz.",
			expected: []Match{
				{URL: "http://bit.ly/xyz", Span: models.Span{Start: 4, End: 21}},
			},
		},
		{
			name: "code point offsets",
			text: "café ☕ https://example.com/a and HTTPS://EXAMPLE.com",
			expected: []Match{
				{URL: "https://example.com/a", Span: models.Span{Start: 7, End: 28}},
				{URL: "HTTPS://EXAMPLE.com", Span: models.Span{Start: 33, End: 52}},
			},
		},
		{
			name:     "no urls",
			text:     "nothing here",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FindURLs(tt.text))
		})
	}
}

func TestHosts(t *testing.T) {
	assert.True(t, IsShortener("http://bit.ly/xyz"))
	assert.True(t, IsShortener("HTTPS://T.CO/abc"))
	assert.False(t, IsShortener("https://example.com/bit.ly"))
	assert.False(t, IsShortener("not a url"))
	assert.True(t, IsExpired("http://4sq.com/abc"))
	assert.False(t, IsExpired("http://bit.ly/abc"))
	assert.Equal(t, "example.com", Host("https://Example.com:8443/x"))
	assert.Contains(t, Shorteners(), "youtu.be")
}

func TestRewriteSubstitutesResolved(t *testing.T) {
	c := urlcache.New("unused")
	c.Set("http://bit.ly/xyz", urlcache.Resolved("http://example.com/real"))
	rw := NewRewriter(c)

	assert.Equal(t, "check http://example.com/real now", rw.Rewrite("check http://bit.ly/xyz now"))
}

func TestRewriteSkipsCodesAndPending(t *testing.T) {
	c := urlcache.New("unused")
	c.Set("http://bit.ly/dead", urlcache.Code(6))
	c.Set("http://bit.ly/new", urlcache.Pending())
	rw := NewRewriter(c)

	text := "  http://bit.ly/dead and http://bit.ly/new  "
	assert.Equal(t, "http://bit.ly/dead and http://bit.ly/new", rw.Rewrite(text))
}

func TestRewritePrefixURLs(t *testing.T) {
	c := urlcache.New("unused")
	c.Set("http://t.co/ab", urlcache.Resolved("https://one.example/"))
	c.Set("http://t.co/abc", urlcache.Resolved("https://two.example/"))
	rw := NewRewriter(c)

	got := rw.Rewrite("http://t.co/ab http://t.co/abc http://t.co/ab")
	assert.Equal(t, "https://one.example/ https://two.example/ https://one.example/", got)
}

func TestRewriteLeavesLongerURLsIntact(t *testing.T) {
	c := urlcache.New("unused")
	c.Set("http://example.com/a", urlcache.Resolved("http://other.org/z"))
	rw := NewRewriter(c)

	tests := []struct {
		input    string
		expected string
	}{
		{"see http://example.com/a and http://example.com/ab", "see http://other.org/z and http://example.com/ab"},
		{"http://example.com/ab then http://example.com/a", "http://example.com/ab then http://other.org/z"},
		{"only http://example.com/abc/d", "only http://example.com/abc/d"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, rw.Rewrite(tt.input))
		})
	}
}

func TestRegisterExpansions(t *testing.T) {
	c := urlcache.New("unused")
	c.Set("https://t.co/done", urlcache.Resolved("https://final.example/"))
	c.Set("https://t.co/pending", urlcache.Pending())
	rw := NewRewriter(c)

	n := rw.RegisterExpansions([]models.URLEntity{
		{URL: "https://t.co/done", ExpandedURL: "http://bit.ly/intermediate"},
		{URL: "https://t.co/pending", ExpandedURL: "https://example.com/p"},
		{URL: "https://t.co/short", ExpandedURL: "http://bit.ly/chain"},
		{URL: "https://t.co/bad", ExpandedURL: "nope"},
	})
	assert.Equal(t, 4, n)

	for _, chained := range []string{"http://bit.ly/intermediate", "http://bit.ly/chain"} {
		v, ok := c.Get(chained)
		require.True(t, ok, chained)
		assert.True(t, v.IsPending(), chained)
	}

	v, _ := c.Get("https://t.co/done")
	u, _ := v.URL()
	assert.Equal(t, "https://final.example/", u, "a resolved entry must not regress")

	v, _ = c.Get("https://t.co/short")
	u, _ = v.URL()
	assert.Equal(t, "http://bit.ly/chain", u)
	assert.True(t, IsShortener(u), "still a shortener, picked up by the resolution loop")

	_, ok := c.Get("https://t.co/bad")
	assert.False(t, ok)
}

func TestMarkShortened(t *testing.T) {
	c := urlcache.New("unused")
	c.Set("http://bit.ly/known", urlcache.Resolved("https://example.com/"))
	rw := NewRewriter(c)

	n := rw.MarkShortened("http://bit.ly/known http://bit.ly/new https://example.org/x")
	assert.Equal(t, 1, n)

	v, ok := c.Get("http://bit.ly/new")
	require.True(t, ok)
	assert.True(t, v.IsPending())

	v, _ = c.Get("http://bit.ly/known")
	assert.True(t, v.IsResolved())

	_, ok = c.Get("https://example.org/x")
	assert.False(t, ok)
}

func TestNormalizeURL(t *testing.T) {
	https := map[string]struct{}{"news.example": {}}

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"upgrade", "http://news.example", "https://news.example"},
		{"upgrade keeps path", "http://news.example/a/b?x=1#top", "https://news.example/a/b?x=1#top"},
		{"no upgrade for other hosts", "http://other.example/", "http://other.example/"},
		{"strip utm", "https://site.example/p?utm_source=tw&b=2&a=1&utm_medium=social", "https://site.example/p?a=1&b=2"},
		{"strip all params", "https://site.example/p?utm_source=tw", "https://site.example/p"},
		{"untouched query keeps order", "https://site.example/p?b=2&a=1", "https://site.example/p?b=2&a=1"},
		{"default port", "https://site.example:443/p", "https://site.example/p"},
		{"custom port", "https://site.example:8443/p", "https://site.example:8443/p"},
		{"upgrade drops port 80", "http://news.example:80/x", "https://news.example/x"},
		{"video feature", "https://m.youtube.com/watch?v=abc&feature=youtu.be", "https://www.youtube.com/watch?v=abc"},
		{"video without feature", "https://m.youtube.com/watch?v=abc", "https://m.youtube.com/watch?v=abc"},
		{"unparsable", "http://[::1", "http://[::1"},
		{"not absolute", "/relative/path", "/relative/path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeURL(tt.input, https)
			assert.Equal(t, tt.expected, got)
			// idempotent
			assert.Equal(t, got, NormalizeURL(got, https))
		})
	}
}

func TestNormalizeCache(t *testing.T) {
	c := urlcache.New("unused")
	c.Set("http://a", urlcache.Resolved("http://news.example"))
	c.Set("http://b", urlcache.Resolved("https://news.example/x"))
	c.Set("http://c", urlcache.Code(6))
	c.Set("http://d", urlcache.Pending())

	stats := Normalize(c)
	assert.Equal(t, 1, stats.HTTPSHosts)
	assert.Equal(t, 1, stats.Rewritten)

	v, _ := c.Get("http://a")
	u, _ := v.URL()
	assert.Equal(t, "https://news.example", u)

	v, _ = c.Get("http://c")
	assert.True(t, v.IsCode())
}
