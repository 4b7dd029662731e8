package database

import (
	"context"
	"database/sql"
	"strings"

	"flowplay/pkg/models"

	"github.com/google/uuid"
)

// Listing projection. audio_data is deliberately absent.
const trackListColumns = `t.id, t.owner_id, t.title, t.artist, t.album, t.genre, t.duration,
	t.file_name, t.file_size, t.mime_type, t.source_type, t.thumbnail, t.storage_key, t.storage_url,
	t.is_public, t.play_count, t.like_count, t.created_at, t.updated_at`

func scanTrack(row rowScanner, extra ...any) (*models.Track, error) {
	var t models.Track
	var storageKey, storageURL sql.NullString
	var isPublic sql.NullBool

	dest := []any{&t.ID, &t.OwnerID, &t.Title, &t.Artist, &t.Album, &t.Genre, &t.Duration,
		&t.FileName, &t.FileSize, &t.MimeType, &t.SourceType, &t.Thumbnail, &storageKey, &storageURL,
		&isPublic, &t.PlayCount, &t.LikeCount, &t.CreatedAt, &t.UpdatedAt}
	dest = append(dest, extra...)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	t.StorageKey = storageKey.String
	t.StorageURL = storageURL.String
	// legacy rows without a visibility flag are private
	t.IsPublic = isPublic.Valid && isPublic.Bool
	return &t, nil
}

// scanTrackWithOwner scans a listing row joined with the owner's names.
func scanTrackWithOwner(row rowScanner) (*models.Track, error) {
	var owner models.Owner
	t, err := scanTrack(row, &owner.Username, &owner.DisplayName)
	if err != nil {
		return nil, err
	}
	owner.ID = t.OwnerID
	t.UploadedBy = &owner
	return t, nil
}

// CreateTrack inserts a track. ID and timestamps are assigned here.
func (db *Database) CreateTrack(ctx context.Context, t *models.Track) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := db.timestamp()
	t.CreatedAt = now
	t.UpdatedAt = now

	_, err := db.exec(ctx, `
		INSERT INTO tracks (id, owner_id, title, artist, album, genre, duration, file_name, file_size,
			mime_type, source_type, thumbnail, audio_data, storage_key, storage_url, is_public,
			play_count, like_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.OwnerID, t.Title, t.Artist, t.Album, t.Genre, t.Duration, t.FileName, t.FileSize,
		t.MimeType, t.SourceType, t.Thumbnail, nullString(t.AudioData), nullString(t.StorageKey),
		nullString(t.StorageURL), t.IsPublic, t.PlayCount, t.LikeCount, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return mapError(err, "track")
	}
	return nil
}

// GetTrack returns a track by id regardless of visibility, including any
// inline audio payload.
func (db *Database) GetTrack(ctx context.Context, id string) (*models.Track, error) {
	var audio sql.NullString
	t, err := scanTrack(db.queryRow(ctx, `
		SELECT `+trackListColumns+`, t.audio_data
		FROM tracks t WHERE t.id = ?`, id), &audio)
	if err != nil {
		return nil, mapError(err, "track")
	}
	t.AudioData = audio.String
	return t, nil
}

// ListTracksByOwner returns one page of the owner's tracks, newest first,
// and the owner's total track count.
func (db *Database) ListTracksByOwner(ctx context.Context, ownerID string, page models.Page) ([]models.Track, int, error) {
	total, err := db.count(ctx, `SELECT COUNT(*) FROM tracks WHERE owner_id = ?`, ownerID)
	if err != nil {
		return nil, 0, err
	}

	rows, err := db.query(ctx, `
		SELECT `+trackListColumns+`, u.username, u.display_name
		FROM tracks t JOIN users u ON u.id = t.owner_id
		WHERE t.owner_id = ?
		ORDER BY t.created_at DESC, t.id DESC
		LIMIT ? OFFSET ?`, ownerID, page.Size, page.Offset())
	if err != nil {
		return nil, 0, mapError(err, "track")
	}
	defer rows.Close()

	tracks, err := scanTrackRows(rows)
	if err != nil {
		return nil, 0, err
	}
	return tracks, total, nil
}

// ListPublicTracks returns one page of public tracks matching filter, newest
// first, with the owner's names joined. Genre matches as a case-insensitive
// substring; Search matches title or artist the same way. Both combine with AND.
func (db *Database) ListPublicTracks(ctx context.Context, filter models.TrackFilter, page models.Page) ([]models.Track, int, error) {
	where := []string{"t.is_public = ?"}
	args := []any{true}

	if g := strings.TrimSpace(filter.Genre); g != "" {
		where = append(where, `LOWER(t.genre) LIKE ? ESCAPE '\'`)
		args = append(args, containsPattern(g))
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		where = append(where, `(LOWER(t.title) LIKE ? ESCAPE '\' OR LOWER(t.artist) LIKE ? ESCAPE '\')`)
		p := containsPattern(s)
		args = append(args, p, p)
	}
	clause := strings.Join(where, " AND ")

	total, err := db.count(ctx, `SELECT COUNT(*) FROM tracks t WHERE `+clause, args...)
	if err != nil {
		return nil, 0, err
	}

	rows, err := db.query(ctx, `
		SELECT `+trackListColumns+`, u.username, u.display_name
		FROM tracks t JOIN users u ON u.id = t.owner_id
		WHERE `+clause+`
		ORDER BY t.created_at DESC, t.id DESC
		LIMIT ? OFFSET ?`, append(args, page.Size, page.Offset())...)
	if err != nil {
		return nil, 0, mapError(err, "track")
	}
	defer rows.Close()

	tracks, err := scanTrackRows(rows)
	if err != nil {
		return nil, 0, err
	}
	return tracks, total, nil
}

// UpdateTrack persists the editable metadata fields and visibility.
func (db *Database) UpdateTrack(ctx context.Context, t *models.Track) error {
	t.UpdatedAt = db.timestamp()
	res, err := db.exec(ctx, `
		UPDATE tracks SET title = ?, artist = ?, album = ?, genre = ?, duration = ?, is_public = ?,
			updated_at = ?
		WHERE id = ?`,
		t.Title, t.Artist, t.Album, t.Genre, t.Duration, t.IsPublic, t.UpdatedAt, t.ID)
	if err != nil {
		return mapError(err, "track")
	}
	return expectAffected(res, "track")
}

// DeleteTrack removes the track row. Playlist entries go with it.
func (db *Database) DeleteTrack(ctx context.Context, id string) error {
	res, err := db.exec(ctx, `DELETE FROM tracks WHERE id = ?`, id)
	if err != nil {
		return mapError(err, "track")
	}
	return expectAffected(res, "track")
}

// IncrementPlayCount bumps the play counter by one.
func (db *Database) IncrementPlayCount(ctx context.Context, id string) error {
	res, err := db.exec(ctx, `UPDATE tracks SET play_count = play_count + 1 WHERE id = ?`, id)
	if err != nil {
		return mapError(err, "track")
	}
	return expectAffected(res, "track")
}

// IncrementLikeCount bumps the like counter by one and returns the new value.
func (db *Database) IncrementLikeCount(ctx context.Context, id string) (int64, error) {
	res, err := db.exec(ctx, `UPDATE tracks SET like_count = like_count + 1 WHERE id = ?`, id)
	if err != nil {
		return 0, mapError(err, "track")
	}
	if err := expectAffected(res, "track"); err != nil {
		return 0, err
	}

	var likes int64
	if err := db.queryRow(ctx, `SELECT like_count FROM tracks WHERE id = ?`, id).Scan(&likes); err != nil {
		return 0, mapError(err, "track")
	}
	return likes, nil
}

// CountTracks returns the number of stored tracks.
func (db *Database) CountTracks(ctx context.Context) (int, error) {
	return db.count(ctx, `SELECT COUNT(*) FROM tracks`)
}

// scanTrackRows scans listing rows joined with owner names. Callers must
// have already deferred rows.Close().
func scanTrackRows(rows *sql.Rows) ([]models.Track, error) {
	tracks := []models.Track{}
	for rows.Next() {
		t, err := scanTrackWithOwner(rows)
		if err != nil {
			return nil, mapError(err, "track")
		}
		tracks = append(tracks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "track")
	}
	return tracks, nil
}
