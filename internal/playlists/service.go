// Package playlists manages user playlists and their ordered tracks.
package playlists

import (
	"context"
	"fmt"
	"strings"

	"flowplay/internal/apperr"
	"flowplay/pkg/models"

	"github.com/sirupsen/logrus"
)

const (
	maxNameLength        = 255
	maxDescriptionLength = 1000
)

// Store is the persistence the playlist service needs.
type Store interface {
	CreatePlaylist(ctx context.Context, p *models.Playlist) error
	GetPlaylist(ctx context.Context, id string) (*models.Playlist, error)
	ListPlaylistsByOwner(ctx context.Context, ownerID string, page models.Page) ([]models.Playlist, int, error)
	ListPublicPlaylists(ctx context.Context, page models.Page) ([]models.Playlist, int, error)
	UpdatePlaylist(ctx context.Context, p *models.Playlist) error
	DeletePlaylist(ctx context.Context, id string) error
	AddTrackToPlaylist(ctx context.Context, playlistID, trackID string) (bool, error)
	RemoveTrackFromPlaylist(ctx context.Context, playlistID, trackID string) error
	GetPlaylistTracks(ctx context.Context, playlistID, viewerID string) ([]models.Track, error)
	GetTrack(ctx context.Context, id string) (*models.Track, error)
}

// CreateInput is the payload accepted by Create.
type CreateInput struct {
	Name        string
	Description string
	IsPublic    bool
	Thumbnail   string
}

// Service implements playlist operations
type Service struct {
	store  Store
	logger *logrus.Logger
}

// NewService creates a new playlist service
func NewService(store Store, logger *logrus.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Create creates a playlist owned by ownerID.
func (s *Service) Create(ctx context.Context, ownerID string, in CreateInput) (*models.Playlist, error) {
	name := strings.TrimSpace(in.Name)
	description := strings.TrimSpace(in.Description)
	if err := validate(name, description); err != nil {
		return nil, err
	}

	p := &models.Playlist{
		Name:        name,
		Description: description,
		OwnerID:     ownerID,
		IsPublic:    in.IsPublic,
		Thumbnail:   strings.TrimSpace(in.Thumbnail),
	}
	if err := s.store.CreatePlaylist(ctx, p); err != nil {
		return nil, apperr.Classify(err)
	}

	s.logger.WithFields(logrus.Fields{
		"playlist_id": p.ID,
		"owner_id":    ownerID,
	}).Info("Playlist created")

	// re-read for the owner projection
	return s.reload(ctx, p.ID)
}

// Get returns a playlist and the tracks in it the viewer may see. Private
// playlists are hidden from everyone but their owner.
func (s *Service) Get(ctx context.Context, playlistID, viewerID string) (*models.Playlist, []models.Track, error) {
	p, err := s.visible(ctx, playlistID, viewerID)
	if err != nil {
		return nil, nil, err
	}
	tracks, err := s.store.GetPlaylistTracks(ctx, playlistID, viewerID)
	if err != nil {
		return nil, nil, apperr.Classify(err)
	}
	return p, tracks, nil
}

// ListOwned returns one page of the owner's playlists.
func (s *Service) ListOwned(ctx context.Context, ownerID string, page models.Page) ([]models.Playlist, models.Pagination, error) {
	playlists, total, err := s.store.ListPlaylistsByOwner(ctx, ownerID, page)
	if err != nil {
		return nil, models.Pagination{}, apperr.Classify(err)
	}
	return playlists, models.NewPagination(page, total), nil
}

// ListPublic returns one page of public playlists.
func (s *Service) ListPublic(ctx context.Context, page models.Page) ([]models.Playlist, models.Pagination, error) {
	playlists, total, err := s.store.ListPublicPlaylists(ctx, page)
	if err != nil {
		return nil, models.Pagination{}, apperr.Classify(err)
	}
	return playlists, models.NewPagination(page, total), nil
}

// Update applies an owner-only partial update.
func (s *Service) Update(ctx context.Context, playlistID, requesterID string, upd models.PlaylistUpdate) (*models.Playlist, error) {
	p, err := s.owned(ctx, playlistID, requesterID)
	if err != nil {
		return nil, err
	}

	if upd.Name != nil {
		p.Name = strings.TrimSpace(*upd.Name)
	}
	if upd.Description != nil {
		p.Description = strings.TrimSpace(*upd.Description)
	}
	if upd.IsPublic != nil {
		p.IsPublic = *upd.IsPublic
	}
	if upd.Thumbnail != nil {
		p.Thumbnail = strings.TrimSpace(*upd.Thumbnail)
	}
	if err := validate(p.Name, p.Description); err != nil {
		return nil, err
	}

	if err := s.store.UpdatePlaylist(ctx, p); err != nil {
		return nil, apperr.Classify(err)
	}
	return p, nil
}

// Delete removes an owned playlist. The tracks themselves are untouched.
func (s *Service) Delete(ctx context.Context, playlistID, requesterID string) error {
	if _, err := s.owned(ctx, playlistID, requesterID); err != nil {
		return err
	}
	if err := s.store.DeletePlaylist(ctx, playlistID); err != nil {
		return apperr.Classify(err)
	}

	s.logger.WithField("playlist_id", playlistID).Info("Playlist deleted")
	return nil
}

// AddTrack appends a track the owner can see. Adding a track that is
// already present leaves the playlist unchanged.
func (s *Service) AddTrack(ctx context.Context, playlistID, requesterID, trackID string) (*models.Playlist, error) {
	trackID = strings.TrimSpace(trackID)
	if trackID == "" {
		return nil, apperr.Validation("trackId", "MISSING_TRACK_ID", "trackId is required")
	}
	if _, err := s.owned(ctx, playlistID, requesterID); err != nil {
		return nil, err
	}

	track, err := s.store.GetTrack(ctx, trackID)
	if err != nil {
		return nil, apperr.Classify(err)
	}
	if !track.VisibleTo(requesterID) {
		return nil, apperr.NotFound("track not found")
	}

	added, err := s.store.AddTrackToPlaylist(ctx, playlistID, trackID)
	if err != nil {
		return nil, apperr.Classify(err)
	}
	if !added {
		s.logger.WithFields(logrus.Fields{
			"playlist_id": playlistID,
			"track_id":    trackID,
		}).Debug("Track already in playlist")
	}
	return s.reload(ctx, playlistID)
}

// RemoveTrack removes a track from an owned playlist.
func (s *Service) RemoveTrack(ctx context.Context, playlistID, requesterID, trackID string) (*models.Playlist, error) {
	if _, err := s.owned(ctx, playlistID, requesterID); err != nil {
		return nil, err
	}
	if err := s.store.RemoveTrackFromPlaylist(ctx, playlistID, trackID); err != nil {
		return nil, apperr.Classify(err)
	}
	return s.reload(ctx, playlistID)
}

func (s *Service) reload(ctx context.Context, playlistID string) (*models.Playlist, error) {
	p, err := s.store.GetPlaylist(ctx, playlistID)
	if err != nil {
		return nil, apperr.Classify(err)
	}
	return p, nil
}

func (s *Service) visible(ctx context.Context, playlistID, viewerID string) (*models.Playlist, error) {
	p, err := s.store.GetPlaylist(ctx, playlistID)
	if err != nil {
		return nil, apperr.Classify(err)
	}
	if !p.VisibleTo(viewerID) {
		return nil, apperr.NotFound("playlist not found")
	}
	return p, nil
}

// owned loads a playlist for modification. Private playlists of other users
// stay hidden; public ones are visible but not editable.
func (s *Service) owned(ctx context.Context, playlistID, requesterID string) (*models.Playlist, error) {
	p, err := s.visible(ctx, playlistID, requesterID)
	if err != nil {
		return nil, err
	}
	if p.OwnerID != requesterID {
		return nil, apperr.Forbidden("you can only modify your own playlists")
	}
	return p, nil
}

func validate(name, description string) error {
	switch {
	case name == "":
		return apperr.Validation("name", "MISSING_NAME", "playlist name is required")
	case len(name) > maxNameLength:
		return apperr.Validation("name", "NAME_TOO_LONG", fmt.Sprintf("playlist name too long (max %d characters)", maxNameLength))
	case len(description) > maxDescriptionLength:
		return apperr.Validation("description", "DESCRIPTION_TOO_LONG", fmt.Sprintf("description too long (max %d characters)", maxDescriptionLength))
	}
	return nil
}
