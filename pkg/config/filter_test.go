package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

var now = time.Date(2020, 6, 15, 12, 0, 0, 0, time.UTC)

func TestCompilePattern(t *testing.T) {
	tests := []struct {
		expr    string
		input   string
		matches bool
		wantErr bool
	}{
		{"plain", "a plain text", true, false},
		{"/Plain/", "plain", false, false},
		{"/Plain/i", "plain", true, false},
		{"/^b$/m", "a\nb", true, false},
		{"/a.b/s", "a\nb", true, false},
		{"/é/u", "café", true, false},
		{"/x/g", "", false, true},
		{"(", "", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			re, err := CompilePattern(tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.matches, re.MatchString(tt.input))
		})
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Time
	}{
		{"2018-11-10", time.Date(2018, 11, 10, 0, 0, 0, 0, time.UTC)},
		{"2018-11-10 22:35:01", time.Date(2018, 11, 10, 22, 35, 1, 0, time.UTC)},
		{"2018/11/10", time.Date(2018, 11, 10, 0, 0, 0, 0, time.UTC)},
		{"10 November 2018", time.Date(2018, 11, 10, 0, 0, 0, 0, time.UTC)},
		{"@1541889301", time.Date(2018, 11, 10, 22, 35, 1, 0, time.UTC)},
		{"now", now},
		{"today", time.Date(2020, 6, 15, 0, 0, 0, 0, time.UTC)},
		{"tomorrow", time.Date(2020, 6, 16, 0, 0, 0, 0, time.UTC)},
		{"last year", time.Date(2019, 6, 15, 12, 0, 0, 0, time.UTC)},
		{"next week", time.Date(2020, 6, 22, 12, 0, 0, 0, time.UTC)},
		{"3 days ago", time.Date(2020, 6, 12, 12, 0, 0, 0, time.UTC)},
		{"2 hours", time.Date(2020, 6, 15, 14, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDate(tt.input, now)
			require.NoError(t, err)
			assert.True(t, tt.expected.Equal(got), "got %s", got)
		})
	}

	_, err := ParseDate("last fortnight", now)
	assert.Error(t, err)
	_, err = ParseDate("soon", now)
	assert.Error(t, err)
}

func TestFilterCheck(t *testing.T) {
	tests := []struct {
		name   string
		cfg    FilterConfig
		errors int
	}{
		{"empty", FilterConfig{}, 0},
		{"valid", FilterConfig{DateFrom: "2018-01-01", DateTo: "yesterday", Regexp: "/go/i"}, 0},
		{"bad dates and pattern", FilterConfig{DateFrom: "not a date at all", DateTo: "soon", Regexp: "/(unclosed/"}, 3},
		{"reversed range", FilterConfig{DateFrom: "2020-01-01", DateTo: "2019-01-01"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.check(now)
			if tt.errors == 0 {
				assert.NoError(t, err)
				return
			}
			assert.Len(t, multierr.Errors(err), tt.errors)
		})
	}
}
