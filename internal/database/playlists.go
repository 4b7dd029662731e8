package database

import (
	"context"
	"database/sql"
	"fmt"

	"flowplay/pkg/models"

	"github.com/google/uuid"
)

const playlistColumns = `p.id, p.owner_id, p.name, p.description, p.is_public, p.thumbnail,
	p.created_at, p.updated_at, u.username, u.display_name,
	(SELECT COUNT(*) FROM playlist_tracks pt WHERE pt.playlist_id = p.id) AS track_count`

func scanPlaylist(row rowScanner) (*models.Playlist, error) {
	var p models.Playlist
	var owner models.Owner
	err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Description, &p.IsPublic, &p.Thumbnail,
		&p.CreatedAt, &p.UpdatedAt, &owner.Username, &owner.DisplayName, &p.TrackCount)
	if err != nil {
		return nil, err
	}
	owner.ID = p.OwnerID
	p.CreatedBy = &owner
	return &p, nil
}

// CreatePlaylist inserts a new playlist. ID and timestamps are assigned here.
func (db *Database) CreatePlaylist(ctx context.Context, p *models.Playlist) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := db.timestamp()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := db.exec(ctx, `
		INSERT INTO playlists (id, owner_id, name, description, is_public, thumbnail, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.OwnerID, p.Name, p.Description, p.IsPublic, p.Thumbnail, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return mapError(err, "playlist")
	}
	return nil
}

// GetPlaylist returns a playlist with its derived track count.
func (db *Database) GetPlaylist(ctx context.Context, id string) (*models.Playlist, error) {
	p, err := scanPlaylist(db.queryRow(ctx, `
		SELECT `+playlistColumns+`
		FROM playlists p JOIN users u ON u.id = p.owner_id
		WHERE p.id = ?`, id))
	if err != nil {
		return nil, mapError(err, "playlist")
	}
	return p, nil
}

// ListPlaylistsByOwner returns one page of the owner's playlists, newest first.
func (db *Database) ListPlaylistsByOwner(ctx context.Context, ownerID string, page models.Page) ([]models.Playlist, int, error) {
	return db.listPlaylists(ctx, "p.owner_id = ?", ownerID, page)
}

// ListPublicPlaylists returns one page of public playlists, newest first.
func (db *Database) ListPublicPlaylists(ctx context.Context, page models.Page) ([]models.Playlist, int, error) {
	return db.listPlaylists(ctx, "p.is_public = ?", true, page)
}

func (db *Database) listPlaylists(ctx context.Context, where string, arg any, page models.Page) ([]models.Playlist, int, error) {
	total, err := db.count(ctx, `SELECT COUNT(*) FROM playlists p WHERE `+where, arg)
	if err != nil {
		return nil, 0, err
	}

	rows, err := db.query(ctx, `
		SELECT `+playlistColumns+`
		FROM playlists p JOIN users u ON u.id = p.owner_id
		WHERE `+where+`
		ORDER BY p.created_at DESC, p.id DESC
		LIMIT ? OFFSET ?`, arg, page.Size, page.Offset())
	if err != nil {
		return nil, 0, mapError(err, "playlist")
	}
	defer rows.Close()

	playlists := []models.Playlist{}
	for rows.Next() {
		p, err := scanPlaylist(rows)
		if err != nil {
			return nil, 0, mapError(err, "playlist")
		}
		playlists = append(playlists, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, mapError(err, "playlist")
	}
	return playlists, total, nil
}

// UpdatePlaylist persists name, description, visibility and thumbnail.
func (db *Database) UpdatePlaylist(ctx context.Context, p *models.Playlist) error {
	p.UpdatedAt = db.timestamp()
	res, err := db.exec(ctx, `
		UPDATE playlists SET name = ?, description = ?, is_public = ?, thumbnail = ?, updated_at = ?
		WHERE id = ?`,
		p.Name, p.Description, p.IsPublic, p.Thumbnail, p.UpdatedAt, p.ID)
	if err != nil {
		return mapError(err, "playlist")
	}
	return expectAffected(res, "playlist")
}

// DeletePlaylist deletes the playlist and its playlist_tracks entries.
func (db *Database) DeletePlaylist(ctx context.Context, id string) error {
	res, err := db.exec(ctx, `DELETE FROM playlists WHERE id = ?`, id)
	if err != nil {
		return mapError(err, "playlist")
	}
	return expectAffected(res, "playlist")
}

// AddTrackToPlaylist appends a track to the end of a playlist. It reports
// false when the track was already present.
func (db *Database) AddTrackToPlaylist(ctx context.Context, playlistID, trackID string) (bool, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	defer tx.Rollback()

	var maxPosition sql.NullInt64
	err = tx.QueryRowContext(ctx, db.rebind(`
		SELECT MAX(position) FROM playlist_tracks WHERE playlist_id = ?`), playlistID).Scan(&maxPosition)
	if err != nil {
		return false, mapError(err, "playlist")
	}

	position := 1
	if maxPosition.Valid {
		position = int(maxPosition.Int64) + 1
	}

	now := db.timestamp()
	res, err := tx.ExecContext(ctx, db.rebind(`
		INSERT INTO playlist_tracks (playlist_id, track_id, position, added_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (playlist_id, track_id) DO NOTHING`),
		playlistID, trackID, position, now)
	if err != nil {
		return false, mapError(err, "playlist track")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}

	if n > 0 {
		if _, err := tx.ExecContext(ctx, db.rebind(`UPDATE playlists SET updated_at = ? WHERE id = ?`), now, playlistID); err != nil {
			return false, mapError(err, "playlist")
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}

// RemoveTrackFromPlaylist removes a specific track from the given playlist.
func (db *Database) RemoveTrackFromPlaylist(ctx context.Context, playlistID, trackID string) error {
	res, err := db.exec(ctx, `
		DELETE FROM playlist_tracks
		WHERE playlist_id = ? AND track_id = ?`,
		playlistID, trackID)
	if err != nil {
		return mapError(err, "playlist track")
	}
	if err := expectAffected(res, "playlist track"); err != nil {
		return err
	}

	_, err = db.exec(ctx, `UPDATE playlists SET updated_at = ? WHERE id = ?`, db.timestamp(), playlistID)
	return mapError(err, "playlist")
}

// GetPlaylistTracks returns tracks in playlist order, limited to those
// viewerID may see: public tracks and tracks viewerID owns.
func (db *Database) GetPlaylistTracks(ctx context.Context, playlistID, viewerID string) ([]models.Track, error) {
	rows, err := db.query(ctx, `
		SELECT `+trackListColumns+`, u.username, u.display_name
		FROM playlist_tracks pt
		JOIN tracks t ON t.id = pt.track_id
		JOIN users u ON u.id = t.owner_id
		WHERE pt.playlist_id = ? AND (t.is_public = ? OR t.owner_id = ?)
		ORDER BY pt.position`, playlistID, true, viewerID)
	if err != nil {
		return nil, mapError(err, "track")
	}
	defer rows.Close()
	return scanTrackRows(rows)
}
