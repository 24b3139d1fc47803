package archive

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tweetarchive/tweets/internal/media"
	"github.com/tweetarchive/tweets/internal/models"
)

// grailbirdDropKeys are not part of the grailbird record layout
var grailbirdDropKeys = []string{
	"truncated", "retweet_count", "retweeted", "favorited", "favorite_count",
	"possibly_sensitive", "rt", "lang", "display_text_range", "full_text",
	"created_at_unixtime", "extended_entities",
}

// unknownAvatar stands in for users whose details are gone
const unknownAvatar = "https://pbs.twimg.com/profile_images/"

// MonthIndex is one entry of tweet_index.js
type MonthIndex struct {
	FileName   string `json:"file_name"`
	Year       int    `json:"year"`
	VarName    string `json:"var_name"`
	TweetCount int    `json:"tweet_count"`
	Month      int    `json:"month"`
}

type userDetails struct {
	ScreenName string `json:"screen_name"`
	Location   string `json:"location"`
	FullName   string `json:"full_name"`
	Bio        string `json:"bio"`
	ID         string `json:"id"`
	CreatedAt  string `json:"created_at"`
}

type payloadDetails struct {
	Tweets    int    `json:"tweets"`
	CreatedAt string `json:"created_at"`
	Lang      string `json:"lang"`
}

// Grailbird writes the platform's legacy browsable export layout
type Grailbird struct {
	Dir     string
	Account *Account
	// Users supplies authors for reposts; unknown handles are added as placeholders
	Users models.Users
	// Now stamps payload_details.js
	Now time.Time
	w   *Writer
}

// NewGrailbird creates a grailbird exporter writing below dir
func NewGrailbird(w *Writer, dir string, account *Account, users models.Users) *Grailbird {
	if users == nil {
		users = models.Users{}
	}
	return &Grailbird{Dir: dir, Account: account, Users: users, Now: time.Now(), w: w}
}

// Export writes user_details.js, payload_details.js, one YYYY_MM.js file per
// month and tweet_index.js. Every failure is collected.
func (g *Grailbird) Export(records []*models.Record) ([]MonthIndex, error) {
	var errs error

	if g.Account != nil {
		details := userDetails{
			ScreenName: g.Account.Username,
			Location:   g.Account.Location,
			FullName:   g.Account.DisplayName,
			Bio:        g.Account.Bio,
			ID:         g.Account.ID,
			CreatedAt:  g.Account.CreatedAt.UTC().Format(TimestampLayout),
		}
		errs = multierr.Append(errs, g.w.WriteJSON(filepath.Join(g.Dir, "user_details.js"), details, "var user_details = ", ""))
	}

	payload := payloadDetails{Tweets: len(records), CreatedAt: g.Now.UTC().Format(TimestampLayout), Lang: "en"}
	errs = multierr.Append(errs, g.w.WriteJSON(filepath.Join(g.Dir, "payload_details.js"), payload, "var payload_details = ", ""))

	months := map[string][]map[string]json.RawMessage{}
	for _, r := range records {
		when, ok := createdAt(r)
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf("record %s: unparsable created_at %q", r.ID, r.CreatedAt))
			continue
		}
		m, err := g.convert(r, when)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("record %s: %w", r.ID, err))
			continue
		}
		key := when.Format("2006_01")
		months[key] = append(months[key], m)
	}

	keys := make([]string, 0, len(months))
	for k := range months {
		keys = append(keys, k)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))

	index := make([]MonthIndex, 0, len(keys))
	for _, key := range keys {
		var year, month int
		fmt.Sscanf(key, "%04d_%02d", &year, &month)
		index = append(index, MonthIndex{
			FileName:   fmt.Sprintf("data/js/tweets/%s.js", key),
			Year:       year,
			VarName:    "tweets_" + key,
			TweetCount: len(months[key]),
			Month:      month,
		})
		path := filepath.Join(g.Dir, key+".js")
		errs = multierr.Append(errs, g.w.WriteJSON(path, months[key], "Grailbird.data.tweets_"+key+" = \n", ""))
	}

	errs = multierr.Append(errs, g.w.WriteJSON(filepath.Join(g.Dir, "tweet_index.js"), index, "var tweet_index = ", ""))
	g.w.logger.Info("Wrote grailbird files", zap.String("dir", g.Dir), zap.Int("months", len(index)), zap.Int("records", len(records)))
	return index, errs
}

// convert shapes a record into the grailbird layout
func (g *Grailbird) convert(r *models.Record, when time.Time) (map[string]json.RawMessage, error) {
	out := r.Clone()
	out.Text = r.FinalText()
	out.CreatedAt = when.UTC().Format(TimestampLayout)
	if out.User == nil {
		out.User = g.author(r)
	}
	return out.Project(nil, grailbirdDropKeys)
}

// author picks the default user of a record: the reposted account for
// reposts, the archive owner otherwise.
func (g *Grailbird) author(r *models.Record) *models.User {
	if r.RepostedScreenName == "" {
		if g.Account == nil {
			return nil
		}
		return g.Account.User()
	}
	handle := r.RepostedScreenName
	placeholder := &models.User{
		ID:                   -1,
		IDStr:                "-1",
		ScreenName:           handle,
		Name:                 handle,
		ProfileImageURLHTTPS: unknownAvatar,
	}
	u, ok := g.Users.Get(handle)
	if !ok {
		g.Users.Add(placeholder, false)
		u, _ = g.Users.Get(handle)
		return u
	}
	if u.ProfileImageURLHTTPS == "" {
		filled := *placeholder
		filled.Merge(u)
		*u = filled
	}
	return u
}

func createdAt(r *models.Record) (time.Time, bool) {
	if r.CreatedAtUnix != 0 {
		return time.Unix(r.CreatedAtUnix, 0).UTC(), true
	}
	t, err := r.ParseCreatedAt()
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// monthFile matches the monthly data files, e.g. 2018_11.js
var monthFile = regexp.MustCompile(`^[0-9]{4}_[0-9]{2}\.js$`)

// ImportGrailbird loads every monthly YYYY_MM.js file below dir, in name order
func ImportGrailbird(dir string) ([]*models.Record, error) {
	ix, err := media.Scan(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, name := range media.Sorted(ix.Scripts) {
		if monthFile.MatchString(name) {
			files = append(files, ix.Scripts[name])
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no grailbird js files in %s", ErrArchiveNotFound, dir)
	}

	var records []*models.Record
	for _, f := range files {
		recs, err := LoadRecords(f)
		if err != nil {
			return nil, fmt.Errorf("no data found in file %s: %w", f, err)
		}
		records = append(records, recs...)
	}
	return records, nil
}

// Merge folds incoming records into s. New ids are added; records already
// present are deep-merged with the incoming values taking precedence.
func (s Set) Merge(incoming []*models.Record) (added, merged int, err error) {
	for _, r := range incoming {
		id := r.ID.Int64()
		existing, ok := s[id]
		if !ok {
			s[id] = r
			added++
			continue
		}
		combined, mergeErr := MergeRecords(existing, r)
		if mergeErr != nil {
			err = multierr.Append(err, fmt.Errorf("record %d: %w", id, mergeErr))
			continue
		}
		s[id] = combined
		merged++
	}
	return added, merged, err
}

// MergeRecords deep-merges src over dst: objects merge by key, arrays by
// position, and any other src value replaces the dst value.
func MergeRecords(dst, src *models.Record) (*models.Record, error) {
	a, err := toValue(dst)
	if err != nil {
		return nil, err
	}
	b, err := toValue(src)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(mergeValues(a, b))
	if err != nil {
		return nil, err
	}
	var out models.Record
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func toValue(r *models.Record) (interface{}, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v interface{}
	err = dec.Decode(&v)
	return v, err
}

func mergeValues(dst, src interface{}) interface{} {
	switch s := src.(type) {
	case map[string]interface{}:
		d, ok := dst.(map[string]interface{})
		if !ok {
			return s
		}
		for k, v := range s {
			d[k] = mergeValues(d[k], v)
		}
		return d
	case []interface{}:
		d, ok := dst.([]interface{})
		if !ok {
			return s
		}
		for i, v := range s {
			if i < len(d) {
				d[i] = mergeValues(d[i], v)
			} else {
				d = append(d, v)
			}
		}
		return d
	}
	return src
}
