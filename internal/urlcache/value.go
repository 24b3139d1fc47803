package urlcache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

type kind uint8

const (
	kindPending kind = iota
	kindURL
	kindCode
)

// Value is a cache entry: pending (JSON null), a resolved URL (JSON string) or
// a transport status code (JSON integer).
type Value struct {
	kind kind
	url  string
	code int
}

// Pending returns an entry awaiting resolution
func Pending() Value { return Value{kind: kindPending} }

// Resolved returns an entry holding a final URL
func Resolved(url string) Value { return Value{kind: kindURL, url: url} }

// Code returns an entry holding a transport status code
func Code(code int) Value { return Value{kind: kindCode, code: code} }

// IsPending reports whether the entry still needs resolving
func (v Value) IsPending() bool { return v.kind == kindPending }

// IsResolved reports whether the entry holds a URL
func (v Value) IsResolved() bool { return v.kind == kindURL }

// IsCode reports whether the entry holds a status code
func (v Value) IsCode() bool { return v.kind == kindCode }

// URL returns the resolved URL and whether there is one
func (v Value) URL() (string, bool) {
	return v.url, v.kind == kindURL
}

// StatusCode returns the status code and whether there is one
func (v Value) StatusCode() (int, bool) {
	return v.code, v.kind == kindCode
}

func (v Value) String() string {
	switch v.kind {
	case kindURL:
		return v.url
	case kindCode:
		return strconv.Itoa(v.code)
	}
	return "null"
}

// MarshalJSON encodes the entry as null, a string or an integer
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case kindURL:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(v.url); err != nil {
			return nil, err
		}
		return bytes.TrimRight(buf.Bytes(), "\n"), nil
	case kindCode:
		return []byte(strconv.Itoa(v.code)), nil
	}
	return []byte("null"), nil
}

// UnmarshalJSON decodes null, a string or a number. Numeric strings written
// by older tools are read as codes.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")),
		bytes.Equal(data, []byte("false")), bytes.Equal(data, []byte("true")):
		*v = Pending()
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if n, err := strconv.Atoi(s); err == nil {
			*v = Code(n)
			return nil
		}
		if s == "" {
			*v = Pending()
			return nil
		}
		*v = Resolved(s)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("unexpected cache value %s", data)
		}
		i, err := n.Int64()
		if err != nil {
			return fmt.Errorf("unexpected cache value %s", data)
		}
		*v = Code(int(i))
	}
	return nil
}
