package models

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"
)

// RepostMarker prefixes the text of a repost
const RepostMarker = "RT"

// createdAtLayouts covers the native export, grailbird and ISO forms
var createdAtLayouts = []string{
	time.RubyDate,               // Fri Nov 16 21:50:01 +0000 2018
	"2006-01-02 15:04:05 -0700", // grailbird
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// Record is one archived post
type Record struct {
	ID                   FlexInt           `json:"id"`
	IDStr                string            `json:"id_str,omitempty"`
	FullText             string            `json:"full_text,omitempty"`
	Text                 string            `json:"text,omitempty"`
	CreatedAt            string            `json:"created_at,omitempty"`
	CreatedAtUnix        int64             `json:"created_at_unixtime,omitempty"`
	Source               string            `json:"source,omitempty"`
	InReplyToStatusID    FlexInt           `json:"in_reply_to_status_id,omitempty"`
	InReplyToUserID      FlexInt           `json:"in_reply_to_user_id,omitempty"`
	InReplyToScreenName  string            `json:"in_reply_to_screen_name,omitempty"`
	Entities             *Entities         `json:"entities,omitempty"`
	ExtendedEntities     *ExtendedEntities `json:"extended_entities,omitempty"`
	RetweetedStatus      *Record           `json:"retweeted_status,omitempty"`
	User                 *User             `json:"user,omitempty"`
	RepostedScreenName   string            `json:"rt,omitempty"`
	DisplayTextRange     *Span             `json:"display_text_range,omitempty"`
	Images               map[string]string `json:"images,omitempty"`
	Videos               map[string]string `json:"videos,omitempty"`
	Files                map[string]string `json:"files,omitempty"`
	Regexps              []RegexpMatch     `json:"regexps,omitempty"`

	// Extra carries source keys this type does not model, so they round-trip
	Extra map[string]json.RawMessage `json:"-"`

	keys map[string]struct{}
}

// RegexpMatch is the audit trail of a filter expression match
type RegexpMatch struct {
	Name    string            `json:"name"`
	Regexp  string            `json:"regexp"`
	Matches map[string]string `json:"matches"`
}

// recordFields is the alias used to avoid recursive (un)marshalling
type recordFields Record

var knownRecordKeys = jsonKeys(recordFields{})

// UnmarshalJSON decodes a record, remembering which top-level keys were present
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var fields recordFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*r = Record(fields)
	r.keys = make(map[string]struct{}, len(raw))
	for k, v := range raw {
		r.keys[k] = struct{}{}
		if _, known := knownRecordKeys[k]; !known {
			if r.Extra == nil {
				r.Extra = make(map[string]json.RawMessage)
			}
			r.Extra[k] = v
		}
	}
	return nil
}

// MarshalJSON encodes the record with its extra keys, in key order
func (r Record) MarshalJSON() ([]byte, error) {
	m, err := r.Map()
	if err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// Map returns the record as top-level key -> encoded value
func (r Record) Map() (map[string]json.RawMessage, error) {
	data, err := json.Marshal(recordFields(r))
	if err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	for k, v := range r.Extra {
		if _, set := m[k]; !set {
			m[k] = v
		}
	}
	return m, nil
}

// HasKey reports whether the top-level key was present in the source or has
// been populated since.
func (r *Record) HasKey(key string) bool {
	if _, ok := r.keys[key]; ok {
		return true
	}
	if _, ok := r.Extra[key]; ok {
		return true
	}
	switch key {
	case "id":
		return r.ID != 0
	case "full_text":
		return r.FullText != ""
	case "text":
		return r.Text != ""
	case "created_at":
		return r.CreatedAt != ""
	case "entities":
		return r.Entities != nil
	case "extended_entities":
		return r.ExtendedEntities != nil
	case "retweeted_status":
		return r.RetweetedStatus != nil
	case "user":
		return r.User != nil
	}
	return false
}

// FinalText returns the working text of the record: the rewritten text when
// one has been produced, otherwise the source text.
func (r *Record) FinalText() string {
	if r.Text != "" {
		return r.Text
	}
	return r.FullText
}

// IsRepost reports whether the record's source text begins with the repost marker
func (r *Record) IsRepost() bool {
	return strings.HasPrefix(r.FullText, RepostMarker)
}

// IsMention reports whether the record's source text begins with a mention
func (r *Record) IsMention() bool {
	return strings.HasPrefix(r.FullText, "@")
}

// ParseCreatedAt parses the record's creation timestamp
func (r *Record) ParseCreatedAt() (time.Time, error) {
	for _, layout := range createdAtLayouts {
		if t, err := time.Parse(layout, r.CreatedAt); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparsable created_at %q", r.CreatedAt)
}

// Mentions returns the mention list, or nil
func (r *Record) Mentions() []MentionEntity {
	if r.Entities == nil {
		return nil
	}
	return r.Entities.UserMentions
}

// URLs returns the source-extracted URL list, or nil
func (r *Record) URLs() []URLEntity {
	if r.Entities == nil {
		return nil
	}
	return r.Entities.URLs
}

// Media returns the primary media list, or nil
func (r *Record) Media() []MediaEntity {
	if r.Entities == nil {
		return nil
	}
	return r.Entities.Media
}

// ExtendedMedia returns the extended media list, falling back to the primary
// list when the record has no extended entities.
func (r *Record) ExtendedMedia() []MediaEntity {
	if r.ExtendedEntities != nil && len(r.ExtendedEntities.Media) > 0 {
		return r.ExtendedEntities.Media
	}
	return r.Media()
}

// Clone returns a deep copy of the record
func (r *Record) Clone() *Record {
	data, err := json.Marshal(r)
	if err != nil {
		c := *r
		return &c
	}
	var c Record
	if err := json.Unmarshal(data, &c); err != nil {
		c = *r
	}
	c.keys = make(map[string]struct{}, len(r.keys))
	for k := range r.keys {
		c.keys[k] = struct{}{}
	}
	return &c
}

// Project returns the record restricted to keep (when non-empty) minus
// remove, as a key-sorted map ready for encoding.
func (r *Record) Project(keep, remove []string) (map[string]json.RawMessage, error) {
	m, err := r.Map()
	if err != nil {
		return nil, err
	}
	if len(keep) > 0 {
		allowed := toSet(keep)
		for k := range m {
			if _, ok := allowed[k]; !ok {
				delete(m, k)
			}
		}
	}
	for _, k := range remove {
		delete(m, k)
	}
	return m, nil
}

// SortedKeys returns the record's present keys in order, for diagnostics
func (r *Record) SortedKeys() []string {
	m, err := r.Map()
	if err != nil {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}

// jsonKeys lists the json names declared on a struct's fields
func jsonKeys(v interface{}) map[string]struct{} {
	keys := map[string]struct{}{}
	t := reflect.TypeOf(v)
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("json")
		name := strings.Split(tag, ",")[0]
		if name == "" || name == "-" {
			continue
		}
		keys[name] = struct{}{}
	}
	return keys
}
