package pipeline

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tweetarchive/tweets/internal/models"
	"github.com/tweetarchive/tweets/pkg/config"
)

var now = time.Date(2020, 6, 15, 12, 0, 0, 0, time.UTC)

func TestFilterApply(t *testing.T) {
	nov := &models.Record{ID: 1, FullText: "hello world", CreatedAt: "Sat Nov 10 22:35:01 +0000 2018"}
	repost := &models.Record{ID: 2, FullText: "RT @Carol: hi", CreatedAt: "Sun Dec 02 10:00:00 +0000 2018"}
	reply := &models.Record{ID: 3, FullText: "@bob ok", CreatedAt: "Sun Dec 02 10:00:00 +0000 2018"}
	undated := &models.Record{ID: 4, FullText: "when?"}

	tests := []struct {
		name   string
		filter Filter
		rec    *models.Record
		reason DropReason
	}{
		{"no filter", Filter{}, nov, Kept},
		{"missing key", Filter{RequiredKeys: []string{"entities"}}, nov, DropMissingKey},
		{"present key", Filter{RequiredKeys: []string{"created_at"}}, nov, Kept},
		{"no reposts", Filter{NoReposts: true}, repost, DropRepost},
		{"no mentions", Filter{NoMentions: true}, reply, DropMention},
		{"before window", Filter{From: time.Date(2018, 12, 1, 0, 0, 0, 0, time.UTC)}, nov, DropDate},
		{"after window", Filter{To: time.Date(2018, 12, 1, 0, 0, 0, 0, time.UTC)}, repost, DropDate},
		{"inclusive bound", Filter{From: time.Date(2018, 12, 2, 10, 0, 0, 0, time.UTC)}, repost, Kept},
		{"undated without window", Filter{}, undated, Kept},
		{"undated with window", Filter{To: now}, undated, DropNoDate},
		{"regexp miss", Filter{Pattern: mustCompile(t, "/WORLD/")}, nov, DropRegexp},
		{"regexp hit", Filter{Pattern: mustCompile(t, "/WORLD/i")}, nov, Kept},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, reason := tt.filter.Apply(tt.rec)
			assert.Equal(t, tt.reason, reason)
			if tt.reason == Kept {
				require.NotNil(t, out)
				assert.NotSame(t, tt.rec, out)
			} else {
				assert.Nil(t, out)
			}
		})
	}
}

func TestFilterAnnotates(t *testing.T) {
	f := &Filter{
		Pattern:       mustCompile(t, `(?P<tag>#\w+)`),
		PatternSource: `(?P<tag>#\w+)`,
		SaveAs:        "tags",
	}
	rec := &models.Record{ID: 1, Text: "RT @Carol: loving #golang", CreatedAt: "Sun Dec 02 10:00:00 +0000 2018"}

	out, reason := f.Apply(rec)
	require.Equal(t, Kept, reason)
	assert.Equal(t, "RT @Carol: loving #golang", out.FullText)
	assert.Equal(t, "Carol", out.RepostedScreenName)
	assert.Equal(t, int64(1543744800), out.CreatedAtUnix)
	require.Len(t, out.Regexps, 1)
	assert.Equal(t, "tags", out.Regexps[0].Name)
	assert.Equal(t, map[string]string{"0": "#golang", "1": "#golang", "tag": "#golang"}, out.Regexps[0].Matches)

	assert.Empty(t, rec.FullText, "source record untouched")
	assert.Empty(t, rec.Regexps)
}

func TestNewFilter(t *testing.T) {
	f, err := NewFilter(config.FilterConfig{
		DateFrom:   "2018-01-01",
		DateTo:     "yesterday",
		Regexp:     "/go/i",
		RegexpSave: "go",
		NoRetweets: true,
	}, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC), f.From)
	assert.Equal(t, time.Date(2020, 6, 14, 0, 0, 0, 0, time.UTC), f.To)
	assert.True(t, f.NoReposts)
	assert.True(t, f.Pattern.MatchString("GO"))

	_, err = NewFilter(config.FilterConfig{DateFrom: "someday", DateTo: "2010-01-01", Regexp: "/x/q"}, now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "date from")
	assert.Contains(t, err.Error(), "regexp flag")

	_, err = NewFilter(config.FilterConfig{DateFrom: "2020-01-01", DateTo: "2019-01-01"}, now)
	assert.ErrorContains(t, err, "before")
}

func mustCompile(t *testing.T, expr string) *regexp.Regexp {
	t.Helper()
	re, err := config.CompilePattern(expr)
	require.NoError(t, err)
	return re
}

func TestCleanTruncation(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"complete sentence", "complete sentence"},
		{"a long sentence that was cu…", "a long sentence that was…"},
		{"read more at htt…", "read more at"},
		{"vertical ellipsis endi⋮", "vertical ellipsis…"},
		{"single…", "single…"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, CleanTruncation(tt.input))
		})
	}
}
