package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// CompilePattern compiles an expression, accepting the delimited "/expr/flags"
// form with the i, m, s and U flags as well as a bare expression.
func CompilePattern(expr string) (*regexp.Regexp, error) {
	if len(expr) >= 2 && expr[0] == '/' {
		end := strings.LastIndexByte(expr, '/')
		if end > 0 {
			body, flags := expr[1:end], expr[end+1:]
			var goFlags strings.Builder
			for _, fl := range flags {
				switch fl {
				case 'i', 'm', 's', 'U':
					if !strings.ContainsRune(goFlags.String(), fl) {
						goFlags.WriteRune(fl)
					}
				case 'u':
					// patterns are always UTF-8
				default:
					return nil, fmt.Errorf("unsupported regexp flag %q", fl)
				}
			}
			if goFlags.Len() > 0 {
				body = "(?" + goFlags.String() + ")" + body
			}
			return regexp.Compile(body)
		}
	}
	return regexp.Compile(expr)
}

var relativeDate = regexp.MustCompile(`^([+-]?\d+)\s*(second|minute|hour|day|week|month|year)s?(\s+ago)?$`)

// ParseDate parses an absolute date, a unix timestamp or a simple relative
// expression such as "yesterday", "last year" or "3 days ago".
func ParseDate(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"2006-01-02",
		"2006/01/02",
		time.RubyDate,
		"2 January 2006",
		"January 2 2006",
	} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	if strings.HasPrefix(s, "@") {
		if n, err := strconv.ParseInt(s[1:], 10, 64); err == nil {
			return time.Unix(n, 0).UTC(), nil
		}
	}

	lower := strings.ToLower(s)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch lower {
	case "now":
		return now, nil
	case "today":
		return today, nil
	case "yesterday":
		return today.AddDate(0, 0, -1), nil
	case "tomorrow":
		return today.AddDate(0, 0, 1), nil
	}
	if unit := strings.TrimPrefix(lower, "last "); unit != lower {
		return shift(now, -1, unit)
	}
	if unit := strings.TrimPrefix(lower, "next "); unit != lower {
		return shift(now, 1, unit)
	}
	if m := relativeDate.FindStringSubmatch(lower); m != nil {
		n, _ := strconv.Atoi(m[1])
		if m[3] != "" {
			n = -n
		}
		return shift(now, n, m[2])
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

func shift(t time.Time, n int, unit string) (time.Time, error) {
	switch strings.TrimSuffix(unit, "s") {
	case "second":
		return t.Add(time.Duration(n) * time.Second), nil
	case "minute":
		return t.Add(time.Duration(n) * time.Minute), nil
	case "hour":
		return t.Add(time.Duration(n) * time.Hour), nil
	case "day":
		return t.AddDate(0, 0, n), nil
	case "week":
		return t.AddDate(0, 0, 7*n), nil
	case "month":
		return t.AddDate(0, n, 0), nil
	case "year":
		return t.AddDate(n, 0, 0), nil
	}
	return time.Time{}, fmt.Errorf("unrecognised date unit %q", unit)
}

// check reports every unparsable date or pattern of the filter settings
func (f FilterConfig) check(now time.Time) error {
	var errs error
	var from, to time.Time
	if f.DateFrom != "" {
		t, err := ParseDate(f.DateFrom, now)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("unable to parse date from %q: %w", f.DateFrom, err))
		}
		from = t
	}
	if f.DateTo != "" {
		t, err := ParseDate(f.DateTo, now)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("unable to parse date to %q: %w", f.DateTo, err))
		}
		to = t
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		errs = multierr.Append(errs, fmt.Errorf("date to %q is before date from %q", f.DateTo, f.DateFrom))
	}
	if f.Regexp != "" {
		if _, err := CompilePattern(f.Regexp); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("invalid regexp %q: %w", f.Regexp, err))
		}
	}
	return errs
}
