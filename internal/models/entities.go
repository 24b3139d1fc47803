package models

import (
	"encoding/json"
	"path"
	"strings"
)

// Entities holds the span-annotated lists of a record
type Entities struct {
	Hashtags     []HashtagEntity `json:"hashtags"`
	Symbols      json.RawMessage `json:"symbols,omitempty"`
	UserMentions []MentionEntity `json:"user_mentions"`
	URLs         []URLEntity     `json:"urls"`
	Media        []MediaEntity   `json:"media,omitempty"`
}

// ExtendedEntities holds the complete media list (all photos, video variants)
type ExtendedEntities struct {
	Media []MediaEntity `json:"media,omitempty"`
}

// HashtagEntity is a #tag occurrence
type HashtagEntity struct {
	Text    string `json:"text"`
	Indices Span   `json:"indices"`
}

// MentionEntity is an @handle occurrence
type MentionEntity struct {
	Name       string  `json:"name,omitempty"`
	ScreenName string  `json:"screen_name"`
	ID         FlexInt `json:"id,omitempty"`
	IDStr      string  `json:"id_str,omitempty"`
	Indices    Span    `json:"indices"`
}

// Handle returns the literal "@screen_name" form
func (m MentionEntity) Handle() string {
	return "@" + m.ScreenName
}

// URLEntity is a link occurrence
type URLEntity struct {
	URL         string `json:"url"`
	ExpandedURL string `json:"expanded_url"`
	DisplayURL  string `json:"display_url"`
	Indices     Span   `json:"indices"`
}

// MediaEntity is an attached photo, GIF or video
type MediaEntity struct {
	ID                FlexInt         `json:"id,omitempty"`
	IDStr             string          `json:"id_str,omitempty"`
	Type              string          `json:"type,omitempty"`
	URL               string          `json:"url"`
	ExpandedURL       string          `json:"expanded_url"`
	DisplayURL        string          `json:"display_url"`
	MediaURL          string          `json:"media_url,omitempty"`
	MediaURLHTTPS     string          `json:"media_url_https"`
	SourceStatusID    FlexInt         `json:"source_status_id,omitempty"`
	SourceStatusIDStr string          `json:"source_status_id_str,omitempty"`
	SourceUserID      FlexInt         `json:"source_user_id,omitempty"`
	Sizes             json.RawMessage `json:"sizes,omitempty"`
	VideoInfo         *VideoInfo      `json:"video_info,omitempty"`
	Indices           Span            `json:"indices"`
}

// Filename returns the basename of the media URL
func (m MediaEntity) Filename() string {
	u := m.MediaURLHTTPS
	if u == "" {
		u = m.MediaURL
	}
	if u == "" {
		return ""
	}
	return path.Base(strings.TrimPrefix(u, "file://"))
}

// SourceID returns the id of the record the media was first posted with, or 0
func (m MediaEntity) SourceID() int64 {
	if m.SourceStatusID != 0 {
		return m.SourceStatusID.Int64()
	}
	var id FlexInt
	if m.SourceStatusIDStr != "" && id.UnmarshalJSON([]byte(m.SourceStatusIDStr)) == nil {
		return id.Int64()
	}
	return 0
}

// VideoInfo lists the encodings of a video
type VideoInfo struct {
	AspectRatio    json.RawMessage `json:"aspect_ratio,omitempty"`
	DurationMillis FlexInt         `json:"duration_millis,omitempty"`
	Variants       []VideoVariant  `json:"variants,omitempty"`
}

// VideoVariant is one encoding of a video
type VideoVariant struct {
	Bitrate     *FlexInt `json:"bitrate,omitempty"`
	ContentType string   `json:"content_type,omitempty"`
	URL         string   `json:"url"`
}

// HighestBitrate returns the URL of the variant with the largest bitrate.
// Variants without a bitrate (playlists) are ignored.
func (v *VideoInfo) HighestBitrate() (string, bool) {
	if v == nil {
		return "", false
	}
	best := int64(-1)
	var url string
	for _, variant := range v.Variants {
		if variant.Bitrate == nil {
			continue
		}
		if b := variant.Bitrate.Int64(); b > best {
			best, url = b, variant.URL
		}
	}
	return url, best >= 0
}
