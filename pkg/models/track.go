package models

import "time"

// Source types recorded on a track.
const (
	SourceUpload   = "upload"
	SourceURL      = "url"
	SourceYouTube  = "youtube"
	SourceFreemium = "freemium"
)

// Owner is the public projection of a user joined onto listings.
type Owner struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
}

// Track represents uploaded or linked audio and its ownership.
//
// Exactly one of AudioData, StorageKey and StorageURL may be set: inline
// base64 audio, an object in the configured blob backend, or an external URL.
type Track struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Artist     string    `json:"artist"`
	Album      string    `json:"album"`
	Genre      string    `json:"genre"`
	Duration   float64   `json:"duration"` // in seconds, 0 when unknown
	OwnerID    string    `json:"ownerId"`
	FileName   string    `json:"fileName,omitempty"`
	FileSize   int64     `json:"fileSize"`
	MimeType   string    `json:"mimeType,omitempty"`
	SourceType string    `json:"sourceType"`
	Thumbnail  string    `json:"thumbnail,omitempty"`
	AudioData  string    `json:"-"` // heavy, served by the stream endpoint only
	StorageKey string    `json:"-"`
	StorageURL string    `json:"storageUrl,omitempty"`
	IsPublic   bool      `json:"isPublic"`
	PlayCount  int64     `json:"playCount"`
	LikeCount  int64     `json:"likeCount"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	UploadedBy *Owner    `json:"uploadedBy,omitempty"`
}

// VisibleTo reports whether userID may see the track.
func (t *Track) VisibleTo(userID string) bool {
	return t.IsPublic || (userID != "" && t.OwnerID == userID)
}

// HasInlineAudio reports whether the audio is embedded in the record.
func (t *Track) HasInlineAudio() bool { return t.AudioData != "" }

// TrackUpdate is a partial, owner-only metadata edit.
type TrackUpdate struct {
	Title    *string  `json:"title,omitempty"`
	Artist   *string  `json:"artist,omitempty"`
	Album    *string  `json:"album,omitempty"`
	Genre    *string  `json:"genre,omitempty"`
	Duration *float64 `json:"duration,omitempty"`
	IsPublic *bool    `json:"isPublic,omitempty"`
}

// TrackFilter narrows the public listing. Both filters combine with AND.
type TrackFilter struct {
	Genre  string
	Search string
}

// Page describes a 1-based page request.
type Page struct {
	Number int
	Size   int
}

// Offset returns the number of rows to skip.
func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}

// Pagination is returned alongside listings.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// NewPagination computes page counts for total rows.
func NewPagination(p Page, total int) Pagination {
	pages := 0
	if p.Size > 0 {
		pages = (total + p.Size - 1) / p.Size
	}
	return Pagination{Page: p.Number, Limit: p.Size, Total: total, Pages: pages}
}
