// Package archive reads the platform export files and writes the output
// layouts: flat JSON/CSV/TXT files and the grailbird directory tree.
package archive

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/gjson"

	"github.com/tweetarchive/tweets/internal/models"
)

var (
	// ErrArchiveNotFound is returned when a named export file is not in the archive
	ErrArchiveNotFound = errors.New("archive file not found")
	// ErrNoRecords is returned when an export file holds no records
	ErrNoRecords = errors.New("no records found")
)

// codec decodes the bulk export files
var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// assignmentPrefixes start the JavaScript files of the export, e.g.
// "window.YTD.tweet.part0 = [" or "Grailbird.data.tweets_2018_11 = ["
var assignmentPrefixes = [][]byte{[]byte("window"), []byte("Grailbird"), []byte("var ")}

// ScriptIndex locates export files by basename
type ScriptIndex interface {
	Find(name string) (string, bool)
}

// Locate returns the path of the named export file
func Locate(index ScriptIndex, name string) (string, error) {
	if p, ok := index.Find(name); ok {
		return p, nil
	}
	return "", fmt.Errorf("%w: %s", ErrArchiveNotFound, name)
}

// StripAssignment removes a leading JavaScript variable assignment so the
// remainder parses as JSON.
func StripAssignment(data []byte) []byte {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	for _, prefix := range assignmentPrefixes {
		if bytes.HasPrefix(trimmed, prefix) {
			if i := bytes.IndexAny(trimmed, "[{"); i >= 0 {
				return trimmed[i:]
			}
		}
	}
	return data
}

// ReadScript reads an export file and returns its JSON payload
func ReadScript(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrArchiveNotFound, path)
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return StripAssignment(data), nil
}

// DecodeRecords parses a JSON array of records. Elements wrapped as
// {"tweet": {...}}, as in newer exports, are unwrapped.
func DecodeRecords(data []byte) ([]*models.Record, error) {
	var raw []jsoniter.RawMessage
	if err := codec.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode records: %w", err)
	}
	if len(raw) == 0 {
		return nil, ErrNoRecords
	}

	records := make([]*models.Record, 0, len(raw))
	for i, item := range raw {
		if inner := gjson.GetBytes(item, "tweet"); inner.IsObject() && !gjson.GetBytes(item, "id").Exists() {
			item = []byte(inner.Raw)
		}
		var rec models.Record
		if err := codec.Unmarshal(item, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode record %d: %w", i, err)
		}
		records = append(records, &rec)
	}
	return records, nil
}

// LoadRecords reads and decodes an export file of records
func LoadRecords(path string) ([]*models.Record, error) {
	data, err := ReadScript(path)
	if err != nil {
		return nil, err
	}
	records, err := DecodeRecords(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return records, nil
}

// CountRecords returns the number of elements in an export file without
// decoding the records themselves.
func CountRecords(path string) (int, error) {
	data, err := ReadScript(path)
	if err != nil {
		return 0, err
	}
	result := gjson.ParseBytes(data)
	if !result.IsArray() {
		return 0, fmt.Errorf("%s: %w", filepath.Base(path), ErrNoRecords)
	}
	return int(result.Get("#").Int()), nil
}

// Set holds records keyed by id
type Set map[int64]*models.Record

// IndexByID keys records by id. A later record with the same id replaces
// an earlier one.
func IndexByID(records []*models.Record) Set {
	set := make(Set, len(records))
	for _, r := range records {
		set[r.ID.Int64()] = r
	}
	return set
}

// IDs returns the record ids in ascending order
func (s Set) IDs() []int64 {
	ids := make([]int64, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Sorted returns the records in ascending id order
func (s Set) Sorted() []*models.Record {
	out := make([]*models.Record, 0, len(s))
	for _, id := range s.IDs() {
		out = append(out, s[id])
	}
	return out
}
