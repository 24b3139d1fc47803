package archive

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tweetarchive/tweets/internal/models"
	"github.com/tweetarchive/tweets/internal/urlcache"
	"github.com/tweetarchive/tweets/pkg/logging"
)

// TimestampLayout is the date form of the CSV and grailbird outputs
const TimestampLayout = "2006-01-02 15:04:05 +0000"

// csvHeader is the fixed column set of the CSV output
var csvHeader = []string{
	"tweet_id", "in_reply_to_status_id", "in_reply_to_user_id", "timestamp", "source", "text",
	"retweeted_status_id", "retweeted_status_user_id", "retweeted_status_timestamp", "expanded_urls",
}

// Writer persists output files. In dry-run mode nothing is written.
type Writer struct {
	dryRun bool
	logger *zap.Logger
}

// NewWriter creates a writer
func NewWriter(dryRun bool) *Writer {
	return &Writer{dryRun: dryRun, logger: logging.WithComponent("archive")}
}

// OutputOptions shapes the records of a flat output file
type OutputOptions struct {
	Format string // "json", "csv" or "txt"
	// Keep projects records onto these top-level keys when non-empty
	Keep []string
	// Remove drops these top-level keys
	Remove []string
	// Clear drops empty values
	Clear bool
}

// EncodeJSON renders v as indented JSON wrapped in prefix and suffix
func EncodeJSON(v interface{}, prefix, suffix string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(prefix)
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	if suffix != "" {
		buf.Truncate(buf.Len() - 1)
		buf.WriteString(suffix)
	}
	return buf.Bytes(), nil
}

// WriteJSON writes v as JSON wrapped in prefix and suffix, e.g.
// "var user_details = " and "".
func (w *Writer) WriteJSON(path string, v interface{}, prefix, suffix string) error {
	data, err := EncodeJSON(v, prefix, suffix)
	if err != nil {
		return fmt.Errorf("failed encoding JSON output file %s: %w", path, err)
	}
	return w.write(path, data)
}

func (w *Writer) write(path string, data []byte) error {
	if w.dryRun {
		w.logger.Info("Would write", zap.String("path", path), zap.Int("bytes", len(data)))
		return nil
	}
	if err := urlcache.WriteFileAtomic(path, data); err != nil {
		return fmt.Errorf("failed writing output file %s: %w", path, err)
	}
	w.logger.Debug("Wrote", zap.String("path", path), zap.Int("bytes", len(data)))
	return nil
}

// WriteRecords writes records to path in the configured format
func (w *Writer) WriteRecords(path string, records []*models.Record, opts OutputOptions) error {
	data, err := EncodeRecords(records, opts)
	if err != nil {
		return fmt.Errorf("failed encoding output file %s: %w", path, err)
	}
	return w.write(path, data)
}

// EncodeRecords renders records in the configured format
func EncodeRecords(records []*models.Record, opts OutputOptions) ([]byte, error) {
	switch opts.Format {
	case "csv":
		return encodeCSV(records)
	case "txt":
		return encodeText(records), nil
	case "", "json":
		out := make([]map[string]json.RawMessage, 0, len(records))
		for _, r := range records {
			m, err := r.Project(opts.Keep, opts.Remove)
			if err != nil {
				return nil, fmt.Errorf("record %s: %w", r.ID, err)
			}
			if opts.Clear {
				if m, err = ClearEmpty(m); err != nil {
					return nil, fmt.Errorf("record %s: %w", r.ID, err)
				}
			}
			out = append(out, m)
		}
		return EncodeJSON(out, "", "")
	default:
		return nil, fmt.Errorf("unknown output format %q", opts.Format)
	}
}

func encodeCSV(records []*models.Record) ([]byte, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, r := range records {
		row := []string{
			r.ID.String(),
			optionalID(r.InReplyToStatusID),
			optionalID(r.InReplyToUserID),
			timestamp(r),
			r.Source,
			r.FinalText(),
			"", "", "",
			strings.Join(expandedURLs(r), ","),
		}
		if rt := r.RetweetedStatus; rt != nil {
			row[6] = rt.ID.String()
			if rt.User != nil {
				row[7] = rt.User.ID.String()
			}
			row[8] = timestamp(rt)
		}
		if err := cw.Write(row); err != nil {
			return nil, err
		}
	}
	cw.Flush()
	return buf.Bytes(), cw.Error()
}

func encodeText(records []*models.Record) []byte {
	var buf bytes.Buffer
	for _, r := range records {
		buf.WriteString(strings.ReplaceAll(r.FinalText(), "\n", " "))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func optionalID(id models.FlexInt) string {
	if id == 0 {
		return ""
	}
	return id.String()
}

func timestamp(r *models.Record) string {
	if r.CreatedAtUnix != 0 {
		return time.Unix(r.CreatedAtUnix, 0).UTC().Format(TimestampLayout)
	}
	if t, err := r.ParseCreatedAt(); err == nil {
		return t.UTC().Format(TimestampLayout)
	}
	return r.CreatedAt
}

func expandedURLs(r *models.Record) []string {
	var urls []string
	for _, u := range r.URLs() {
		if u.ExpandedURL != "" {
			urls = append(urls, u.ExpandedURL)
		}
	}
	return urls
}

// ClearEmpty drops null, empty-string, false and empty collection values
// from m, recursing into nested objects and arrays. Zero numbers are kept.
func ClearEmpty(m map[string]json.RawMessage) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(m))
	for k, raw := range m {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var v interface{}
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("key %s: %w", k, err)
		}
		v = clearValue(v)
		if isEmpty(v) {
			continue
		}
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(v); err != nil {
			return nil, fmt.Errorf("key %s: %w", k, err)
		}
		out[k] = bytes.TrimRight(buf.Bytes(), "\n")
	}
	return out, nil
}

func clearValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, item := range t {
			item = clearValue(item)
			if isEmpty(item) {
				delete(t, k)
				continue
			}
			t[k] = item
		}
		return t
	case []interface{}:
		for i, item := range t {
			t[i] = clearValue(item)
		}
		return t
	}
	return v
}

func isEmpty(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case bool:
		return !t
	case map[string]interface{}:
		return len(t) == 0
	case []interface{}:
		return len(t) == 0
	}
	return false
}
