package urlcache

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		pending bool
		url     string
		code    int
		isCode  bool
	}{
		{name: "null", input: `null`, pending: true},
		{name: "url", input: `"https://example.com/a?b=c&d=e"`, url: "https://example.com/a?b=c&d=e"},
		{name: "negative code", input: `-22`, code: -22, isCode: true},
		{name: "code", input: `6`, code: 6, isCode: true},
		{name: "numeric string", input: `"28"`, code: 28, isCode: true},
		{name: "false", input: `false`, pending: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v Value
			require.NoError(t, json.Unmarshal([]byte(tt.input), &v))
			assert.Equal(t, tt.pending, v.IsPending())
			if u, ok := v.URL(); ok {
				assert.Equal(t, tt.url, u)
			}
			code, ok := v.StatusCode()
			assert.Equal(t, tt.isCode, ok)
			assert.Equal(t, tt.code, code)
		})
	}

	out, err := json.Marshal(map[string]Value{"a": Resolved("https://x.test/?a=1&b=2"), "b": Code(-22), "c": Pending()})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"https://x.test/?a=1&b=2","b":-22,"c":null}`, string(out))
}

func TestLoadMissingFile(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "urls.json"))
	require.NoError(t, err)
	assert.Equal(t, 0, c.Len())
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urls.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"http://bit.ly/x": `), 0o644))

	c, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCorrupt))
	require.NotNil(t, c)
	assert.Equal(t, 0, c.Len())
}

func TestHeal(t *testing.T) {
	c := New("unused")
	c.Set("http://a.test/1", Resolved("http://b.test/2"))
	c.Set("http://b.test/2", Resolved("http://a.test/1"))
	c.Set("http://self.test/", Resolved("http://self.test/"))
	c.Set("http://bad.test/", Resolved("not a url"))
	c.Set("http://ok.test/", Resolved("https://example.com/"))
	c.Set("http://dead.test/", Code(6))
	c.Set("http://new.test/", Pending())

	assert.Equal(t, 3, c.Heal())

	for _, gone := range []string{"http://a.test/1", "http://b.test/2", "http://bad.test/"} {
		_, ok := c.Get(gone)
		assert.False(t, ok, gone)
	}
	for _, kept := range []string{"http://self.test/", "http://ok.test/", "http://dead.test/", "http://new.test/"} {
		_, ok := c.Get(kept)
		assert.True(t, ok, kept)
	}
}

func TestFlushRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urls.json")
	c := New(path)
	c.Set("http://bit.ly/xyz", Resolved("http://example.com/real"))
	c.Set("http://t.co/dead", Code(-22))
	assert.True(t, c.MarkPending("http://t.co/new"))
	assert.False(t, c.MarkPending("http://bit.ly/xyz"))
	require.NoError(t, c.Flush())
	assert.False(t, c.Dirty())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Len())

	v, _ := loaded.Get("http://bit.ly/xyz")
	u, ok := v.URL()
	assert.True(t, ok)
	assert.Equal(t, "http://example.com/real", u)

	v, _ = loaded.Get("http://t.co/new")
	assert.True(t, v.IsPending())
}

func TestFlushDryRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urls.json")
	c := New(path, WithDryRun(true))
	c.Set("http://bit.ly/xyz", Resolved("http://example.com/real"))
	require.NoError(t, c.Flush())

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "dry run must not write the cache")
}

func TestSummarize(t *testing.T) {
	c := New("unused")
	c.Set("http://bit.ly/a", Resolved("https://example.com/1"))
	c.Set("http://bit.ly/b", Code(6))
	c.Set("http://t.co/c", Pending())

	s := c.Summarize()
	assert.Equal(t, 2, s.Sources["bit.ly"])
	assert.Equal(t, 1, s.Targets["example.com"])
	assert.Equal(t, 1, s.Codes[6])
	assert.Equal(t, 1, s.Pending)
}
