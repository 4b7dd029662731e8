package models

import "time"

// Playlist represents a user-created playlist
type Playlist struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	OwnerID     string    `json:"ownerId"`
	IsPublic    bool      `json:"isPublic"`
	Thumbnail   string    `json:"thumbnail,omitempty"`
	TrackCount  int       `json:"trackCount"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	CreatedBy   *Owner    `json:"createdBy,omitempty"`
}

// VisibleTo reports whether userID may see the playlist.
func (p *Playlist) VisibleTo(userID string) bool {
	return p.IsPublic || (userID != "" && p.OwnerID == userID)
}

// PlaylistUpdate is a partial playlist change.
type PlaylistUpdate struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	IsPublic    *bool   `json:"isPublic,omitempty"`
	Thumbnail   *string `json:"thumbnail,omitempty"`
}

// PlaylistTrack represents the relationship between playlists and tracks
type PlaylistTrack struct {
	PlaylistID string    `json:"playlistId"`
	TrackID    string    `json:"trackId"`
	Position   int       `json:"position"`
	AddedAt    time.Time `json:"addedAt"`
}
