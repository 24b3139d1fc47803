package pipeline

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/tweetarchive/tweets/internal/models"
	"github.com/tweetarchive/tweets/pkg/config"
)

// DropReason tells why a record left the pipeline
type DropReason string

const (
	Kept           DropReason = ""
	DropMissingKey DropReason = "missing_key"
	DropRepost     DropReason = "repost"
	DropMention    DropReason = "mention"
	DropDate       DropReason = "date"
	DropNoDate     DropReason = "no_date"
	DropRegexp     DropReason = "regexp"
)

var repostHandle = regexp.MustCompile(`(?i)^RT\s+@([^:\s]+)`)

// Filter decides which records are kept and annotates the survivors
type Filter struct {
	RequiredKeys []string
	NoReposts    bool
	NoMentions   bool
	// From and To bound the creation time inclusively; zero means unbounded
	From, To time.Time
	Pattern  *regexp.Regexp
	// PatternSource is the expression as given, recorded with each match
	PatternSource string
	// SaveAs names the match annotation; empty disables it
	SaveAs string
}

// NewFilter compiles filter configuration. Relative dates are taken from now.
// Every problem is reported together.
func NewFilter(cfg config.FilterConfig, now time.Time) (*Filter, error) {
	f := &Filter{
		RequiredKeys:  cfg.RequiredKeys,
		NoReposts:     cfg.NoRetweets,
		NoMentions:    cfg.NoMentions,
		PatternSource: cfg.Regexp,
		SaveAs:        cfg.RegexpSave,
	}

	var errs error
	if cfg.DateFrom != "" {
		t, err := config.ParseDate(cfg.DateFrom, now)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("unable to parse date from %q: %w", cfg.DateFrom, err))
		}
		f.From = t
	}
	if cfg.DateTo != "" {
		t, err := config.ParseDate(cfg.DateTo, now)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("unable to parse date to %q: %w", cfg.DateTo, err))
		}
		f.To = t
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		errs = multierr.Append(errs, fmt.Errorf("date to %q is before date from %q", cfg.DateTo, cfg.DateFrom))
	}
	if cfg.Regexp != "" {
		re, err := config.CompilePattern(cfg.Regexp)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("invalid regexp %q: %w", cfg.Regexp, err))
		}
		f.Pattern = re
	}
	return f, errs
}

// Apply returns the filtered, annotated copy of rec, or the reason it was
// dropped. rec is not modified.
func (f *Filter) Apply(rec *models.Record) (*models.Record, DropReason) {
	for _, key := range f.RequiredKeys {
		if !rec.HasKey(key) {
			return nil, DropMissingKey
		}
	}

	out := rec.Clone()
	if out.FullText == "" {
		out.FullText = out.Text
	}

	if f.NoReposts && out.IsRepost() {
		return nil, DropRepost
	}
	if f.NoMentions && out.IsMention() {
		return nil, DropMention
	}
	if out.IsRepost() {
		if m := repostHandle.FindStringSubmatch(out.FullText); m != nil {
			out.RepostedScreenName = m[1]
		}
	}

	if out.CreatedAtUnix == 0 {
		t, err := out.ParseCreatedAt()
		if err != nil {
			if !f.From.IsZero() || !f.To.IsZero() {
				return nil, DropNoDate
			}
		} else {
			out.CreatedAtUnix = t.Unix()
		}
	}
	if !f.From.IsZero() && out.CreatedAtUnix < f.From.Unix() {
		return nil, DropDate
	}
	if !f.To.IsZero() && out.CreatedAtUnix > f.To.Unix() {
		return nil, DropDate
	}

	if f.Pattern != nil {
		m := f.Pattern.FindStringSubmatch(out.FullText)
		if m == nil {
			return nil, DropRegexp
		}
		if f.SaveAs != "" {
			out.Regexps = append(out.Regexps, models.RegexpMatch{
				Name:    f.SaveAs,
				Regexp:  f.PatternSource,
				Matches: matchGroups(f.Pattern, m),
			})
		}
	}

	if out.Text == "" {
		out.Text = out.FullText
	}
	out.Text = CleanTruncation(out.Text)
	return out, Kept
}

func matchGroups(re *regexp.Regexp, m []string) map[string]string {
	groups := make(map[string]string, len(m))
	names := re.SubexpNames()
	for i, s := range m {
		groups[strconv.Itoa(i)] = s
		if names[i] != "" {
			groups[names[i]] = s
		}
	}
	return groups
}

// truncationMarks end text the platform cut short
var truncationMarks = []string{"…", "⋮"}

// CleanTruncation tidies text the platform truncated: the partial last word
// is dropped and a horizontal ellipsis appended, unless that word was the
// start of a link.
func CleanTruncation(text string) string {
	for _, mark := range truncationMarks {
		if !strings.HasSuffix(text, mark) {
			continue
		}
		p := strings.LastIndexByte(text, ' ')
		if p < 0 {
			return text
		}
		word := text[p+1:]
		cleaned := strings.TrimSpace(text[:p])
		if !strings.HasPrefix(word, "h") {
			cleaned += "…"
		}
		return cleaned
	}
	return text
}
