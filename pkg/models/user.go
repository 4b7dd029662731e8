package models

import "time"

// Repeat modes accepted in user preferences.
const (
	RepeatNone = "none"
	RepeatOne  = "one"
	RepeatAll  = "all"
)

// Preferences holds player settings persisted per user.
type Preferences struct {
	Theme   string  `json:"theme"`
	Volume  float64 `json:"volume"` // 0.0 to 1.0
	Repeat  string  `json:"repeat"`
	Shuffle bool    `json:"shuffle"`
}

// DefaultPreferences returns the settings given to newly registered users.
func DefaultPreferences() Preferences {
	return Preferences{
		Theme:   "dark",
		Volume:  0.8,
		Repeat:  RepeatNone,
		Shuffle: false,
	}
}

// PreferencesPatch carries a partial preferences update; nil fields keep
// their stored value.
type PreferencesPatch struct {
	Theme   *string  `json:"theme,omitempty"`
	Volume  *float64 `json:"volume,omitempty"`
	Repeat  *string  `json:"repeat,omitempty"`
	Shuffle *bool    `json:"shuffle,omitempty"`
}

// Apply merges the patch into p key by key.
func (pp PreferencesPatch) Apply(p Preferences) Preferences {
	if pp.Theme != nil {
		p.Theme = *pp.Theme
	}
	if pp.Volume != nil {
		p.Volume = *pp.Volume
	}
	if pp.Repeat != nil {
		p.Repeat = *pp.Repeat
	}
	if pp.Shuffle != nil {
		p.Shuffle = *pp.Shuffle
	}
	return p
}

// User represents a registered account
type User struct {
	ID           string      `json:"id"`
	Username     string      `json:"username"`
	Email        string      `json:"email"`
	PasswordHash string      `json:"-"` // never serialized
	DisplayName  string      `json:"displayName"`
	Avatar       string      `json:"avatar"`
	Preferences  Preferences `json:"preferences"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
	LastLogin    time.Time   `json:"lastLogin"`
}

// UserStats are derived from the tracks table on read.
type UserStats struct {
	TrackCount int   `json:"trackCount"`
	TotalPlays int64 `json:"totalPlays"`
	TotalLikes int64 `json:"totalLikes"`
}

// ProfileUpdate is a partial profile change.
type ProfileUpdate struct {
	DisplayName *string           `json:"displayName,omitempty"`
	Avatar      *string           `json:"avatar,omitempty"`
	Preferences *PreferencesPatch `json:"preferences,omitempty"`
}
