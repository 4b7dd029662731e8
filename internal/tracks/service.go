// Package tracks owns track metadata, audio payloads and the ownership and
// visibility rules around them.
package tracks

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"flowplay/internal/apperr"
	"flowplay/internal/cache"
	"flowplay/internal/config"
	"flowplay/internal/metadata"
	"flowplay/internal/storage"
	"flowplay/pkg/models"

	"github.com/sirupsen/logrus"
)

const (
	maxTitleLength     = 255
	maxGenreLength     = 100
	maxURLLength       = 2048
	maxThumbnailBytes  = 512 << 10
	backgroundDeadline = 10 * time.Second
)

// Store is the persistence the track store needs.
type Store interface {
	CreateTrack(ctx context.Context, t *models.Track) error
	GetTrack(ctx context.Context, id string) (*models.Track, error)
	ListTracksByOwner(ctx context.Context, ownerID string, page models.Page) ([]models.Track, int, error)
	ListPublicTracks(ctx context.Context, filter models.TrackFilter, page models.Page) ([]models.Track, int, error)
	UpdateTrack(ctx context.Context, t *models.Track) error
	DeleteTrack(ctx context.Context, id string) error
	IncrementPlayCount(ctx context.Context, id string) error
	IncrementLikeCount(ctx context.Context, id string) (int64, error)
}

// Metadata is the client-supplied description of a track. Empty fields are
// filled from the audio tags where possible.
type Metadata struct {
	Title    string
	Artist   string
	Album    string
	Genre    string
	Duration float64
	IsPublic bool
}

// FileUpload is an audio file received as multipart form data.
type FileUpload struct {
	Metadata
	FileName    string
	ContentType string
	Data        []byte
}

// LinkUpload creates a track from JSON alone. AudioData (base64 or a data
// URI) and StorageURL are mutually exclusive; with neither the track is a
// metadata-only placeholder.
type LinkUpload struct {
	Metadata
	AudioData  string
	StorageURL string
	SourceType string
	FileName   string
	MimeType   string
	Thumbnail  string
}

// Stream is what the stream endpoint serves: either an object to read from
// or an external URL to redirect to.
type Stream struct {
	Track       *models.Track
	Object      storage.Object
	RedirectURL string
}

// Service implements the track store operations.
type Service struct {
	store     Store
	backend   storage.Backend // nil keeps audio inline
	extractor *metadata.Extractor
	listings  *cache.ListingCache
	config    *config.Config
	logger    *logrus.Logger

	background sync.WaitGroup
}

// NewService creates a track service. backend and listings may be nil.
func NewService(store Store, backend storage.Backend, extractor *metadata.Extractor, listings *cache.ListingCache, cfg *config.Config, logger *logrus.Logger) *Service {
	return &Service{
		store:     store,
		backend:   backend,
		extractor: extractor,
		listings:  listings,
		config:    cfg,
		logger:    logger,
	}
}

// Upload stores an uploaded audio file and creates its track.
func (s *Service) Upload(ctx context.Context, ownerID string, up FileUpload) (*models.Track, error) {
	if len(up.Data) == 0 {
		return nil, apperr.Validation("file", "MISSING_FILE", "audio file is required")
	}
	if err := s.checkSize(int64(len(up.Data))); err != nil {
		return nil, err
	}
	if err := validateMetadata(up.Metadata, false); err != nil {
		return nil, err
	}

	mimeType, err := s.resolveMimeType(up.Data, up.ContentType)
	if err != nil {
		return nil, err
	}

	track := &models.Track{
		OwnerID:    ownerID,
		FileName:   filepath.Base(strings.ReplaceAll(up.FileName, `\`, "/")),
		FileSize:   int64(len(up.Data)),
		MimeType:   mimeType,
		SourceType: models.SourceUpload,
		IsPublic:   up.IsPublic,
	}
	s.applyMetadata(track, up.Metadata, s.extractor.Extract(up.Data, up.FileName))

	return s.createWithPayload(ctx, track, up.Data)
}

// CreateFromLink creates a track from a JSON body: inline audio, an
// external URL or neither.
func (s *Service) CreateFromLink(ctx context.Context, ownerID string, up LinkUpload) (*models.Track, error) {
	audioData := strings.TrimSpace(up.AudioData)
	storageURL := strings.TrimSpace(up.StorageURL)

	if audioData != "" && storageURL != "" {
		return nil, apperr.Validation("storageUrl", "CONFLICTING_SOURCE", "provide either audioData or storageUrl, not both")
	}
	if err := validateMetadata(up.Metadata, audioData == ""); err != nil {
		return nil, err
	}

	sourceType := strings.ToLower(strings.TrimSpace(up.SourceType))
	switch sourceType {
	case "":
		sourceType = models.SourceUpload
		if storageURL != "" {
			sourceType = models.SourceURL
		}
	case models.SourceUpload, models.SourceURL, models.SourceYouTube, models.SourceFreemium:
	default:
		return nil, apperr.Validation("sourceType", "INVALID_SOURCE_TYPE", "sourceType must be one of upload, url, youtube, freemium")
	}

	track := &models.Track{
		OwnerID:    ownerID,
		FileName:   strings.TrimSpace(up.FileName),
		MimeType:   metadata.NormalizeMimeType(up.MimeType),
		SourceType: sourceType,
		Thumbnail:  strings.TrimSpace(up.Thumbnail),
		IsPublic:   up.IsPublic,
	}

	if audioData == "" {
		if storageURL != "" {
			if err := validateURL(storageURL); err != nil {
				return nil, err
			}
			track.StorageURL = storageURL
		}
		s.applyMetadata(track, up.Metadata, metadata.Info{})
		return s.create(ctx, track)
	}

	declared, data, err := decodeAudioData(audioData)
	if err != nil {
		return nil, apperr.Validation("audioData", "INVALID_AUDIO_DATA", "audioData must be base64 encoded")
	}
	if len(data) == 0 {
		return nil, apperr.Validation("audioData", "INVALID_AUDIO_DATA", "audioData is empty")
	}
	if err := s.checkSize(int64(len(data))); err != nil {
		return nil, err
	}
	if declared == "" {
		declared = up.MimeType
	}
	if track.MimeType, err = s.resolveMimeType(data, declared); err != nil {
		return nil, err
	}
	track.FileSize = int64(len(data))
	s.applyMetadata(track, up.Metadata, s.extractor.Extract(data, track.FileName))

	return s.createWithPayload(ctx, track, data)
}

// ListOwned returns one page of the owner's tracks, newest first.
func (s *Service) ListOwned(ctx context.Context, ownerID string, page models.Page) ([]models.Track, models.Pagination, error) {
	tracks, total, err := s.store.ListTracksByOwner(ctx, ownerID, page)
	if err != nil {
		return nil, models.Pagination{}, apperr.Classify(err)
	}
	return tracks, models.NewPagination(page, total), nil
}

// ListPublic returns one page of the discovery feed. Pages are cached until
// the next change to any track.
func (s *Service) ListPublic(ctx context.Context, filter models.TrackFilter, page models.Page) ([]models.Track, models.Pagination, error) {
	if s.listings == nil {
		return s.listPublic(ctx, filter, page)
	}

	key := cache.ListingKey(filter, page)
	if cached, ok := s.listings.GetPage(key); ok {
		return cloneTracks(cached.Tracks), models.NewPagination(page, cached.Total), nil
	}

	gen := s.listings.Generation()
	tracks, pagination, err := s.listPublic(ctx, filter, page)
	if err != nil {
		return nil, models.Pagination{}, err
	}
	s.listings.SetPage(gen, key, cache.TrackPage{
		Tracks: cloneTracks(tracks),
		Total:  pagination.Total,
	})
	return tracks, pagination, nil
}

func (s *Service) listPublic(ctx context.Context, filter models.TrackFilter, page models.Page) ([]models.Track, models.Pagination, error) {
	tracks, total, err := s.store.ListPublicTracks(ctx, filter, page)
	if err != nil {
		return nil, models.Pagination{}, apperr.Classify(err)
	}
	return tracks, models.NewPagination(page, total), nil
}

// Get returns a track the requester may see. Tracks hidden from the
// requester are reported as not found.
func (s *Service) Get(ctx context.Context, trackID, requesterID string) (*models.Track, error) {
	track, err := s.store.GetTrack(ctx, trackID)
	if err != nil {
		return nil, apperr.Classify(err)
	}
	if !track.VisibleTo(requesterID) {
		return nil, apperr.NotFound("track not found")
	}
	return track, nil
}

// Update applies an owner-only partial metadata edit.
func (s *Service) Update(ctx context.Context, trackID, requesterID string, upd models.TrackUpdate) (*models.Track, error) {
	track, err := s.owned(ctx, trackID, requesterID, "edit")
	if err != nil {
		return nil, err
	}

	if upd.Title != nil {
		track.Title = strings.TrimSpace(*upd.Title)
	}
	if upd.Artist != nil {
		track.Artist = strings.TrimSpace(*upd.Artist)
	}
	if upd.Album != nil {
		track.Album = strings.TrimSpace(*upd.Album)
	}
	if upd.Genre != nil {
		track.Genre = strings.TrimSpace(*upd.Genre)
	}
	if upd.Duration != nil {
		track.Duration = *upd.Duration
	}
	if upd.IsPublic != nil {
		track.IsPublic = *upd.IsPublic
	}

	err = validateMetadata(Metadata{
		Title:    track.Title,
		Artist:   track.Artist,
		Album:    track.Album,
		Genre:    track.Genre,
		Duration: track.Duration,
	}, true)
	if err != nil {
		return nil, err
	}

	if err := s.store.UpdateTrack(ctx, track); err != nil {
		return nil, apperr.Classify(err)
	}
	s.invalidate()
	return track, nil
}

// Delete removes an owned track and, best effort, its stored payload.
func (s *Service) Delete(ctx context.Context, trackID, requesterID string) error {
	track, err := s.owned(ctx, trackID, requesterID, "delete")
	if err != nil {
		return err
	}

	if err := s.store.DeleteTrack(ctx, track.ID); err != nil {
		return apperr.Classify(err)
	}
	s.invalidate()

	if track.StorageKey != "" && s.backend != nil {
		if err := s.backend.Delete(ctx, track.StorageKey); err != nil {
			s.logger.WithFields(logrus.Fields{
				"track_id":    track.ID,
				"storage_key": track.StorageKey,
				"backend":     s.backend.Name(),
			}).WithError(err).Warn("Failed to delete stored audio, leaving orphaned object")
		}
	}

	s.logger.WithFields(logrus.Fields{
		"track_id": track.ID,
		"owner_id": track.OwnerID,
	}).Info("Track deleted")
	return nil
}

// Like increments the like counter of a visible track and returns the new count.
func (s *Service) Like(ctx context.Context, trackID, requesterID string) (int64, error) {
	if _, err := s.Get(ctx, trackID, requesterID); err != nil {
		return 0, err
	}
	likes, err := s.store.IncrementLikeCount(ctx, trackID)
	if err != nil {
		return 0, apperr.Classify(err)
	}
	return likes, nil
}

// OpenStream authorizes the requester and locates the audio payload.
func (s *Service) OpenStream(ctx context.Context, trackID, requesterID string) (*Stream, error) {
	track, err := s.Get(ctx, trackID, requesterID)
	if err != nil {
		return nil, err
	}

	switch {
	case track.HasInlineAudio():
		_, data, err := decodeAudioData(track.AudioData)
		if err != nil {
			return nil, apperr.Internal(fmt.Errorf("corrupt inline audio for track %s: %w", track.ID, err))
		}
		return &Stream{Track: track, Object: storage.BytesObject(data)}, nil
	case track.StorageKey != "":
		if s.backend == nil {
			return nil, apperr.Internal(fmt.Errorf("track %s has storage key but no backend is configured", track.ID))
		}
		obj, err := s.backend.Open(ctx, track.StorageKey)
		if err != nil {
			return nil, apperr.Classify(err)
		}
		return &Stream{Track: track, Object: obj}, nil
	case track.StorageURL != "":
		return &Stream{Track: track, RedirectURL: track.StorageURL}, nil
	default:
		return nil, apperr.NotFound("track has no audio")
	}
}

// RecordPlay bumps the play counter in the background. Failures are only
// logged.
func (s *Service) RecordPlay(trackID string) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()

		ctx, cancel := context.WithTimeout(context.Background(), backgroundDeadline)
		defer cancel()

		if err := s.store.IncrementPlayCount(ctx, trackID); err != nil {
			s.logger.WithField("track_id", trackID).WithError(err).Warn("Failed to record play")
		}
	}()
}

// Wait blocks until background play counting has finished.
func (s *Service) Wait() {
	s.background.Wait()
}

func (s *Service) owned(ctx context.Context, trackID, requesterID, action string) (*models.Track, error) {
	track, err := s.store.GetTrack(ctx, trackID)
	if err != nil {
		return nil, apperr.Classify(err)
	}
	if track.OwnerID != requesterID {
		s.logger.WithFields(logrus.Fields{
			"track_id":     trackID,
			"requester_id": requesterID,
			"action":       action,
		}).Warn("Rejected change to track owned by another user")
		return nil, apperr.Forbidden(fmt.Sprintf("you can only %s your own tracks", action))
	}
	return track, nil
}

// createWithPayload stores data according to the configured backend, then
// inserts the track.
func (s *Service) createWithPayload(ctx context.Context, track *models.Track, data []byte) (*models.Track, error) {
	if s.backend == nil {
		track.AudioData = base64.StdEncoding.EncodeToString(data)
		return s.create(ctx, track)
	}

	key := storage.NewKey(extensionFor(track.FileName, track.MimeType))
	if err := s.backend.Put(ctx, key, data, track.MimeType); err != nil {
		s.logger.WithFields(logrus.Fields{
			"backend":     s.backend.Name(),
			"storage_key": key,
		}).WithError(err).Error("Failed to store audio")
		return nil, apperr.Internal(err)
	}
	track.StorageKey = key

	created, err := s.create(ctx, track)
	if err != nil {
		if delErr := s.backend.Delete(context.Background(), key); delErr != nil {
			s.logger.WithField("storage_key", key).WithError(delErr).Warn("Failed to remove audio after insert failure")
		}
		return nil, err
	}
	return created, nil
}

func (s *Service) create(ctx context.Context, track *models.Track) (*models.Track, error) {
	if err := s.store.CreateTrack(ctx, track); err != nil {
		return nil, apperr.Classify(err)
	}
	s.invalidate()

	s.logger.WithFields(logrus.Fields{
		"track_id":    track.ID,
		"owner_id":    track.OwnerID,
		"title":       track.Title,
		"source_type": track.SourceType,
		"public":      track.IsPublic,
		"size":        track.FileSize,
	}).Info("Track created")
	return track, nil
}

func (s *Service) invalidate() {
	if s.listings != nil {
		s.listings.Invalidate()
	}
}

func (s *Service) checkSize(size int64) error {
	if limit := s.config.MaxUploadBytes(); size > limit {
		return apperr.TooLarge("FILE_TOO_LARGE", fmt.Sprintf("file too large (max %d MB)", s.config.Uploads.MaxUploadMB))
	}
	return nil
}

// resolveMimeType prefers the sniffed type. The declared type is used only
// when sniffing found nothing specific.
func (s *Service) resolveMimeType(data []byte, declared string) (string, error) {
	sniffed := s.extractor.DetectMimeType(data)
	if s.config.IsMimeTypeAllowed(sniffed) {
		return sniffed, nil
	}
	if sniffed == "application/octet-stream" {
		if d := metadata.NormalizeMimeType(declared); s.config.IsMimeTypeAllowed(d) {
			return d, nil
		}
	}
	return "", apperr.Validation("file", "INVALID_FILE_TYPE",
		fmt.Sprintf("unsupported file type %q (allowed: %s)", sniffed, strings.Join(s.config.Uploads.AllowedMimeTypes, ", ")))
}

// applyMetadata fills track fields, preferring client values over tags.
func (s *Service) applyMetadata(track *models.Track, md Metadata, info metadata.Info) {
	track.Title = firstNonEmpty(md.Title, info.Title)
	track.Artist = firstNonEmpty(md.Artist, info.Artist)
	track.Album = firstNonEmpty(md.Album, info.Album)
	track.Genre = firstNonEmpty(md.Genre, info.Genre)

	track.Duration = md.Duration
	if track.Duration == 0 {
		track.Duration = info.Duration
	}

	if track.Thumbnail == "" && len(info.Picture) > 0 && len(info.Picture) <= maxThumbnailBytes {
		track.Thumbnail = "data:" + info.PictureMIME + ";base64," + base64.StdEncoding.EncodeToString(info.Picture)
	}
}

func validateMetadata(md Metadata, requireNames bool) error {
	title := strings.TrimSpace(md.Title)
	artist := strings.TrimSpace(md.Artist)

	switch {
	case requireNames && title == "":
		return apperr.Validation("title", "MISSING_TITLE", "title is required")
	case requireNames && artist == "":
		return apperr.Validation("artist", "MISSING_ARTIST", "artist is required")
	case len(title) > maxTitleLength:
		return apperr.Validation("title", "TITLE_TOO_LONG", fmt.Sprintf("title too long (max %d characters)", maxTitleLength))
	case len(artist) > maxTitleLength:
		return apperr.Validation("artist", "ARTIST_TOO_LONG", fmt.Sprintf("artist too long (max %d characters)", maxTitleLength))
	case len(strings.TrimSpace(md.Album)) > maxTitleLength:
		return apperr.Validation("album", "ALBUM_TOO_LONG", fmt.Sprintf("album too long (max %d characters)", maxTitleLength))
	case len(strings.TrimSpace(md.Genre)) > maxGenreLength:
		return apperr.Validation("genre", "GENRE_TOO_LONG", fmt.Sprintf("genre too long (max %d characters)", maxGenreLength))
	case md.Duration < 0:
		return apperr.Validation("duration", "INVALID_DURATION", "duration cannot be negative")
	}
	return nil
}

func validateURL(raw string) error {
	if len(raw) > maxURLLength {
		return apperr.Validation("storageUrl", "INVALID_URL", "storageUrl too long")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return apperr.Validation("storageUrl", "INVALID_URL", "storageUrl must be an http or https URL")
	}
	return nil
}

// decodeAudioData accepts plain base64 or a data URI and returns the MIME
// type declared by the URI, if any.
func decodeAudioData(raw string) (string, []byte, error) {
	var mimeType string
	if strings.HasPrefix(raw, "data:") {
		comma := strings.IndexByte(raw, ',')
		if comma < 0 {
			return "", nil, fmt.Errorf("malformed data URI")
		}
		header := raw[len("data:"):comma]
		if !strings.HasSuffix(header, ";base64") {
			return "", nil, fmt.Errorf("data URI is not base64 encoded")
		}
		mimeType = strings.TrimSuffix(header, ";base64")
		raw = raw[comma+1:]
	}

	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		// some clients strip padding
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(raw, "="))
		if err != nil {
			return "", nil, err
		}
	}
	return mimeType, data, nil
}

var mimeExtensions = map[string]string{
	"audio/mpeg": ".mp3",
	"audio/wav":  ".wav",
	"audio/ogg":  ".ogg",
	"audio/m4a":  ".m4a",
	"audio/flac": ".flac",
}

func extensionFor(fileName, mimeType string) string {
	if ext := strings.ToLower(filepath.Ext(fileName)); ext != "" && len(ext) <= 6 {
		return ext
	}
	return mimeExtensions[mimeType]
}

func cloneTracks(tracks []models.Track) []models.Track {
	out := make([]models.Track, len(tracks))
	copy(out, tracks)
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
