package archive

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tweetarchive/tweets/internal/media"
	"github.com/tweetarchive/tweets/internal/models"
)

const tweetJS = `window.YTD.tweet.part0 = [ {
  "tweet" : {
    "id" : "1061391367372746752",
    "id_str" : "1061391367372746752",
    "full_text" : "hello @bob",
    "created_at" : "Sat Nov 10 22:35:01 +0000 2018",
    "favorite_count" : "3",
    "entities" : { "hashtags" : [ ], "user_mentions" : [ { "screen_name" : "bob", "id_str" : "7", "indices" : [ "6", "10" ] } ], "urls" : [ ] }
  }
}, {
  "tweet" : {
    "id" : "1061391367372746753",
    "full_text" : "RT @bob: see http://t.co/abc",
    "created_at" : "Sun Dec 02 10:00:00 +0000 2018"
  }
} ]`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestStripAssignment(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"window", "window.YTD.tweet.part0 = [1]", "[1]"},
		{"grailbird", "Grailbird.data.tweets_2018_11 = \n[2]", "[2]"},
		{"var", "var user_details = {\"a\":1}", "{\"a\":1}"},
		{"plain", "[3]", "[3]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, string(StripAssignment([]byte(tt.input))))
		})
	}
}

func TestLoadRecords(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "data", "tweet.js"), tweetJS)

	ix, err := media.Scan(root)
	require.NoError(t, err)

	path, err := Locate(ix, "tweet.js")
	require.NoError(t, err)

	records, err := LoadRecords(path)
	require.NoError(t, err)
	require.Len(t, records, 2)

	first := records[0]
	assert.Equal(t, int64(1061391367372746752), first.ID.Int64())
	assert.Equal(t, "hello @bob", first.FullText)
	require.Len(t, first.Mentions(), 1)
	assert.Equal(t, models.Span{Start: 6, End: 10}, first.Mentions()[0].Indices)
	assert.True(t, first.HasKey("favorite_count"))

	count, err := CountRecords(path)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	set := IndexByID(records)
	assert.Equal(t, []int64{1061391367372746752, 1061391367372746753}, set.IDs())

	_, err = Locate(ix, "missing.js")
	assert.ErrorIs(t, err, ErrArchiveNotFound)
}

func TestDecodeRecordsEmpty(t *testing.T) {
	_, err := DecodeRecords([]byte("[]"))
	assert.ErrorIs(t, err, ErrNoRecords)

	_, err = DecodeRecords([]byte("[{"))
	assert.Error(t, err)
}

func TestParseAccount(t *testing.T) {
	account := []byte(`[ { "account" : { "email" : "x@example.com", "createdVia" : "web", "username" : "alice",
		"accountId" : "12345", "createdAt" : "2009-03-01T10:20:30.000Z", "accountDisplayName" : "Alice" } } ]`)
	profile := []byte(`[ { "profile" : { "description" : { "bio" : "Writes things", "website" : "", "location" : "Earth" },
		"avatarMediaUrl" : "https://pbs.twimg.com/profile_images/1/a.jpg" } } ]`)

	a, err := ParseAccount(account, profile)
	require.NoError(t, err)
	assert.Equal(t, "alice", a.Username)
	assert.Equal(t, "Alice", a.DisplayName)
	assert.Equal(t, "Writes things", a.Bio)
	assert.Equal(t, "Earth", a.Location)
	assert.Equal(t, time.Date(2009, 3, 1, 10, 20, 30, 0, time.UTC), a.CreatedAt)

	u := a.User()
	assert.Equal(t, int64(12345), u.ID.Int64())
	assert.Equal(t, "alice", u.ScreenName)

	_, err = ParseAccount([]byte(`[]`), profile)
	assert.Error(t, err)
}

func sampleRecords() []*models.Record {
	return []*models.Record{
		{
			ID:            1,
			FullText:      "source & text",
			Text:          "final & text https://example.com",
			CreatedAtUnix: 1542405001,
			Source:        "web",
			Entities: &models.Entities{
				URLs: []models.URLEntity{{URL: "https://example.com", ExpandedURL: "https://example.com", Indices: models.Span{Start: 13, End: 32}}},
			},
		},
		{
			ID:                 2,
			FullText:           "RT @bob: hi",
			CreatedAt:          "Sun Dec 02 10:00:00 +0000 2018",
			InReplyToStatusID:  1,
			RepostedScreenName: "bob",
			RetweetedStatus:    &models.Record{ID: 9, CreatedAtUnix: 1542405001, User: &models.User{ID: 77, ScreenName: "bob"}},
		},
	}
}

func TestEncodeRecordsCSV(t *testing.T) {
	data, err := EncodeRecords(sampleRecords(), OutputOptions{Format: "csv"})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, strings.Join(csvHeader, ","), lines[0])
	assert.Equal(t, "1,,,2018-11-16 21:50:01 +0000,web,final & text https://example.com,,,,https://example.com", lines[1])
	assert.Equal(t, "2,1,,2018-12-02 10:00:00 +0000,,RT @bob: hi,9,77,2018-11-16 21:50:01 +0000,", lines[2])
}

func TestEncodeRecordsJSON(t *testing.T) {
	data, err := EncodeRecords(sampleRecords(), OutputOptions{Format: "json", Keep: []string{"id", "text", "rt", "entities"}, Clear: true})
	require.NoError(t, err)
	assert.Contains(t, string(data), "    ")

	var out []map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))
	require.Len(t, out, 2)
	assert.Equal(t, "final & text https://example.com", out[0]["text"])
	assert.NotContains(t, out[0], "full_text")
	entities := out[0]["entities"].(map[string]interface{})
	assert.NotContains(t, entities, "hashtags", "empty lists are cleared")
	assert.Contains(t, entities, "urls")
	assert.Equal(t, "bob", out[1]["rt"])

	data, err = EncodeRecords(sampleRecords(), OutputOptions{Format: "txt"})
	require.NoError(t, err)
	assert.Equal(t, "final & text https://example.com\nRT @bob: hi\n", string(data))
}

func TestClearEmptyKeepsZero(t *testing.T) {
	m := map[string]json.RawMessage{
		"a": json.RawMessage(`""`),
		"b": json.RawMessage(`0`),
		"c": json.RawMessage(`{"d":[],"e":null,"f":[0,5]}`),
		"g": json.RawMessage(`false`),
	}
	out, err := ClearEmpty(m)
	require.NoError(t, err)
	assert.Equal(t, map[string]json.RawMessage{
		"b": json.RawMessage(`0`),
		"c": json.RawMessage(`{"f":[0,5]}`),
	}, out)
}

func TestWriterDryRun(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "out.json")

	require.NoError(t, NewWriter(true).WriteJSON(path, []int{1}, "", ""))
	assert.NoFileExists(t, path)

	require.NoError(t, NewWriter(false).WriteJSON(path, map[string]string{"u": "a&b"}, "var x = ", ";"))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "var x = {\n    \"u\": \"a&b\"\n};", string(data))
}

func TestGrailbirdExportAndImport(t *testing.T) {
	dir := t.TempDir()
	account := &Account{ID: "12345", Username: "alice", DisplayName: "Alice", CreatedAt: time.Date(2009, 3, 1, 0, 0, 0, 0, time.UTC)}
	users := models.Users{}

	g := NewGrailbird(NewWriter(false), dir, account, users)
	g.Now = time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)

	index, err := g.Export(sampleRecords())
	require.NoError(t, err)
	require.Len(t, index, 2)
	assert.Equal(t, MonthIndex{FileName: "data/js/tweets/2018_12.js", Year: 2018, VarName: "tweets_2018_12", TweetCount: 1, Month: 12}, index[0])
	assert.Equal(t, "tweets_2018_11", index[1].VarName)

	for _, name := range []string{"user_details.js", "payload_details.js", "tweet_index.js", "2018_11.js", "2018_12.js"} {
		assert.FileExists(t, filepath.Join(dir, name))
	}

	payload, err := os.ReadFile(filepath.Join(dir, "payload_details.js"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(payload), "var payload_details = {"))
	assert.Contains(t, string(payload), `"created_at": "2020-01-02 03:04:05 +0000"`)

	november, err := os.ReadFile(filepath.Join(dir, "2018_11.js"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(november), "Grailbird.data.tweets_2018_11 = \n["))
	assert.Contains(t, string(november), `"created_at": "2018-11-16 21:50:01 +0000"`)
	assert.Contains(t, string(november), `"screen_name": "alice"`)
	assert.NotContains(t, string(november), "full_text")
	assert.NotContains(t, string(november), "created_at_unixtime")

	// the unknown reposted account gets a placeholder
	bob, ok := users.Get("bob")
	require.True(t, ok)
	assert.Equal(t, int64(-1), bob.ID.Int64())

	// only the monthly files are imported
	imported, err := ImportGrailbird(dir)
	require.NoError(t, err)
	require.Len(t, imported, 2)
	assert.Equal(t, int64(1), imported[0].ID.Int64())
	assert.Equal(t, "final & text https://example.com", imported[0].Text)
}

func TestMerge(t *testing.T) {
	set := IndexByID([]*models.Record{{
		ID:       1,
		FullText: "original",
		Source:   "web",
		Entities: &models.Entities{URLs: []models.URLEntity{{URL: "https://t.co/a", ExpandedURL: "https://a.example"}}},
	}})

	added, merged, err := set.Merge([]*models.Record{
		{ID: 1, Text: "imported", Entities: &models.Entities{URLs: []models.URLEntity{{URL: "https://t.co/a", DisplayURL: "a.example"}}}},
		{ID: 2, FullText: "new"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, merged)

	r := set[1]
	assert.Equal(t, "original", r.FullText)
	assert.Equal(t, "imported", r.Text)
	assert.Equal(t, "web", r.Source)
	require.Len(t, r.URLs(), 1)
	assert.Equal(t, "a.example", r.URLs()[0].DisplayURL)
	assert.Equal(t, "https://t.co/a", r.URLs()[0].URL)
	assert.Equal(t, []int64{1, 2}, set.IDs())
}

func TestUsersRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")

	users, err := LoadUsers(path)
	require.NoError(t, err)
	assert.Empty(t, users)

	users.Add(&models.User{ID: 8, ScreenName: "Carol", Name: "Carol"}, true)
	users.Add(&models.User{ID: 7, ScreenName: "bob"}, true)
	require.NoError(t, NewWriter(false).WriteUsers(path, users))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Less(t, strings.Index(string(data), `"Carol"`), strings.Index(string(data), `"bob"`))

	loaded, err := LoadUsers(path)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	carol, ok := loaded.Get("carol")
	require.True(t, ok)
	assert.Equal(t, int64(8), carol.ID.Int64())

	writeFile(t, path, "{")
	_, err = LoadUsers(path)
	assert.Error(t, err)
}
