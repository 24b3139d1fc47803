package db

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tweetarchive/tweets/internal/models"
)

// RecordRow is one exported post. Raw keeps the full record as written to
// the JSON output so nothing is lost to the column projection.
type RecordRow struct {
	ID                 int64     `gorm:"primaryKey;autoIncrement:false;column:id"`
	CreatedAt          time.Time `gorm:"index:tweets_records_created_at;column:created_at"`
	Text               string    `gorm:"type:text;not null;default:'';column:text"`
	FullText           string    `gorm:"type:text;not null;default:'';column:full_text"`
	Source             string    `gorm:"type:varchar(512);not null;default:'';column:source"`
	InReplyToStatusID  int64     `gorm:"not null;default:0;column:in_reply_to_status_id"`
	InReplyToUserID    int64     `gorm:"not null;default:0;column:in_reply_to_user_id"`
	RepostedScreenName string    `gorm:"type:varchar(64);not null;default:'';index:tweets_records_rt;column:rt"`
	RepostedID         int64     `gorm:"not null;default:0;column:retweeted_status_id"`
	ExpandedURLs       string    `gorm:"type:text;not null;default:'';column:expanded_urls"`
	Raw                string    `gorm:"type:text;column:raw_json"`
}

// TableName specifies the table name for RecordRow
func (RecordRow) TableName() string {
	return "tweets_records"
}

// UserRow is one known account
type UserRow struct {
	ScreenName string `gorm:"primaryKey;type:varchar(64);column:screen_name"`
	ID         int64  `gorm:"not null;default:0;column:id"`
	Name       string `gorm:"type:varchar(128);not null;default:'';column:name"`
	Raw        string `gorm:"type:text;column:raw_json"`
}

// TableName specifies the table name for UserRow
func (UserRow) TableName() string {
	return "tweets_users"
}

// NewRecordRow projects a processed record onto its table row
func NewRecordRow(r *models.Record) (*RecordRow, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed encoding record %d: %w", r.ID.Int64(), err)
	}
	row := &RecordRow{
		ID:                 r.ID.Int64(),
		Text:               r.FinalText(),
		FullText:           r.FullText,
		Source:             r.Source,
		InReplyToStatusID:  r.InReplyToStatusID.Int64(),
		InReplyToUserID:    r.InReplyToUserID.Int64(),
		RepostedScreenName: r.RepostedScreenName,
		Raw:                string(raw),
	}
	switch {
	case r.CreatedAtUnix != 0:
		row.CreatedAt = time.Unix(r.CreatedAtUnix, 0).UTC()
	default:
		if t, err := r.ParseCreatedAt(); err == nil {
			row.CreatedAt = t.UTC()
		}
	}
	if r.RetweetedStatus != nil {
		row.RepostedID = r.RetweetedStatus.ID.Int64()
	}
	for i, u := range r.URLs() {
		if i > 0 {
			row.ExpandedURLs += ","
		}
		row.ExpandedURLs += u.ExpandedURL
	}
	return row, nil
}

// Record decodes the stored record
func (row *RecordRow) Record() (*models.Record, error) {
	var r models.Record
	if err := json.Unmarshal([]byte(row.Raw), &r); err != nil {
		return nil, fmt.Errorf("failed decoding record %d: %w", row.ID, err)
	}
	return &r, nil
}

// NewUserRow projects a user onto its table row
func NewUserRow(u *models.User) (*UserRow, error) {
	raw, err := json.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("failed encoding user %s: %w", u.ScreenName, err)
	}
	return &UserRow{
		ScreenName: u.ScreenName,
		ID:         u.ID.Int64(),
		Name:       u.Name,
		Raw:        string(raw),
	}, nil
}
