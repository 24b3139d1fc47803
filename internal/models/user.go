package models

import (
	"encoding/json"
	"sort"
	"strings"
)

// User is the author of a record, or a mentioned account
type User struct {
	ID                   FlexInt `json:"id,omitempty"`
	IDStr                string  `json:"id_str,omitempty"`
	ScreenName           string  `json:"screen_name"`
	Name                 string  `json:"name,omitempty"`
	Description          string  `json:"description,omitempty"`
	Location             string  `json:"location,omitempty"`
	CreatedAt            string  `json:"created_at,omitempty"`
	ProfileImageURLHTTPS string  `json:"profile_image_url_https,omitempty"`
	Protected            bool    `json:"protected,omitempty"`
	Verified             bool    `json:"verified,omitempty"`
}

// Merge overwrites u's fields with every non-empty field of other
func (u *User) Merge(other *User) {
	if other == nil {
		return
	}
	if other.ID != 0 {
		u.ID = other.ID
	}
	if other.IDStr != "" {
		u.IDStr = other.IDStr
	}
	if other.ScreenName != "" {
		u.ScreenName = other.ScreenName
	}
	if other.Name != "" {
		u.Name = other.Name
	}
	if other.Description != "" {
		u.Description = other.Description
	}
	if other.Location != "" {
		u.Location = other.Location
	}
	if other.CreatedAt != "" {
		u.CreatedAt = other.CreatedAt
	}
	if other.ProfileImageURLHTTPS != "" {
		u.ProfileImageURLHTTPS = other.ProfileImageURLHTTPS
	}
	u.Protected = u.Protected || other.Protected
	u.Verified = u.Verified || other.Verified
}

// Users is the set of accounts seen in an archive, keyed by screen name
type Users map[string]*User

// Add inserts or merges a user. With replace false an existing entry is kept as is.
func (us Users) Add(u *User, replace bool) {
	if u == nil || u.ScreenName == "" {
		return
	}
	key := strings.ToLower(u.ScreenName)
	existing, ok := us[key]
	if !ok {
		c := *u
		us[key] = &c
		return
	}
	if replace {
		existing.Merge(u)
	}
}

// Get finds a user by screen name, case-insensitively
func (us Users) Get(screenName string) (*User, bool) {
	u, ok := us[strings.ToLower(strings.TrimPrefix(screenName, "@"))]
	return u, ok
}

// Sorted returns the users ordered by screen name
func (us Users) Sorted() []*User {
	keys := make([]string, 0, len(us))
	for k := range us {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*User, 0, len(keys))
	for _, k := range keys {
		out = append(out, us[k])
	}
	return out
}

// MarshalJSON encodes the users as an object keyed by screen name
func (us Users) MarshalJSON() ([]byte, error) {
	m := make(map[string]*User, len(us))
	for _, u := range us {
		m[u.ScreenName] = u
	}
	return json.Marshal(m)
}

// UnmarshalJSON decodes an object keyed by screen name
func (us *Users) UnmarshalJSON(data []byte) error {
	var m map[string]*User
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*us = make(Users, len(m))
	for name, u := range m {
		if u == nil {
			continue
		}
		if u.ScreenName == "" {
			u.ScreenName = name
		}
		us.Add(u, true)
	}
	return nil
}
