package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// FlexInt is an integer that archives encode either as a JSON number or as a
// numeric string ("id": "1061391367372746752").
type FlexInt int64

// UnmarshalJSON accepts numbers, numeric strings and null
func (f *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*f = 0
			return nil
		}
		data = []byte(s)
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		// some exports write ids as floats, e.g. 1.2e3
		fl, ferr := strconv.ParseFloat(string(data), 64)
		if ferr != nil {
			return fmt.Errorf("not an integer: %s", data)
		}
		n = int64(fl)
	}
	*f = FlexInt(n)
	return nil
}

// Int64 returns the value as int64
func (f FlexInt) Int64() int64 {
	return int64(f)
}

// String returns the decimal form
func (f FlexInt) String() string {
	return strconv.FormatInt(int64(f), 10)
}

// Span is a [start, end) code point range into a record's working text.
// It is encoded as the platform's two-element "indices" array.
type Span struct {
	Start int
	End   int
}

// MarshalJSON encodes the span as [start, end]
func (s Span) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("[%d,%d]", s.Start, s.End)), nil
}

// UnmarshalJSON decodes [start, end] where each element may be a string
func (s *Span) UnmarshalJSON(data []byte) error {
	var parts []FlexInt
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("invalid indices: %w", err)
	}
	if len(parts) != 2 {
		*s = Span{}
		return nil
	}
	s.Start, s.End = int(parts[0]), int(parts[1])
	return nil
}

// Len returns the number of code points covered
func (s Span) Len() int {
	return s.End - s.Start
}
