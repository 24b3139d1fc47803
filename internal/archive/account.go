package archive

import (
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/tweetarchive/tweets/internal/models"
)

// Account is the archive owner, from account.js and profile.js
type Account struct {
	ID          string
	Username    string
	DisplayName string
	CreatedAt   time.Time
	Bio         string
	Location    string
	AvatarURL   string
}

// LoadAccount reads the owner details from the account and profile export files
func LoadAccount(index ScriptIndex) (*Account, error) {
	accountPath, err := Locate(index, "account.js")
	if err != nil {
		return nil, err
	}
	profilePath, err := Locate(index, "profile.js")
	if err != nil {
		return nil, err
	}
	accountData, err := ReadScript(accountPath)
	if err != nil {
		return nil, err
	}
	profileData, err := ReadScript(profilePath)
	if err != nil {
		return nil, err
	}
	return ParseAccount(accountData, profileData)
}

// ParseAccount extracts the owner details from the payloads of account.js
// and profile.js.
func ParseAccount(accountData, profileData []byte) (*Account, error) {
	account := gjson.GetBytes(accountData, "0.account")
	if !account.Exists() {
		return nil, fmt.Errorf("%w: no account details", ErrNoRecords)
	}
	profile := gjson.GetBytes(profileData, "0.profile")

	a := &Account{
		ID:          account.Get("accountId").String(),
		Username:    account.Get("username").String(),
		DisplayName: account.Get("accountDisplayName").String(),
		Bio:         profile.Get("description.bio").String(),
		Location:    profile.Get("description.location").String(),
		AvatarURL:   profile.Get("avatarMediaUrl").String(),
	}
	if created := account.Get("createdAt").String(); created != "" {
		t, err := time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, fmt.Errorf("invalid account createdAt %q: %w", created, err)
		}
		a.CreatedAt = t.UTC()
	}
	return a, nil
}

// User returns the owner as the default author of records
func (a *Account) User() *models.User {
	var id models.FlexInt
	_ = id.UnmarshalJSON([]byte(a.ID))
	return &models.User{
		ID:                   id,
		IDStr:                a.ID,
		ScreenName:           a.Username,
		Name:                 a.DisplayName,
		ProfileImageURLHTTPS: a.AvatarURL,
	}
}
