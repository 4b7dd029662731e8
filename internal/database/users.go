package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"flowplay/pkg/models"

	"github.com/google/uuid"
)

const userColumns = `id, username, email, password_hash, display_name, avatar,
	theme, volume, repeat_mode, shuffle, created_at, updated_at, last_login`

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	var lastLogin sql.NullTime
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.DisplayName, &u.Avatar,
		&u.Preferences.Theme, &u.Preferences.Volume, &u.Preferences.Repeat, &u.Preferences.Shuffle,
		&u.CreatedAt, &u.UpdatedAt, &lastLogin)
	if err != nil {
		return nil, err
	}
	if lastLogin.Valid {
		u.LastLogin = lastLogin.Time
	}
	return &u, nil
}

// CreateUser inserts a new user. ID and timestamps are assigned when empty.
// Duplicate usernames or emails (case-insensitive) yield a Conflict error.
func (db *Database) CreateUser(ctx context.Context, u *models.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := db.timestamp()
	u.CreatedAt = now
	u.UpdatedAt = now

	var lastLogin sql.NullTime
	if !u.LastLogin.IsZero() {
		lastLogin = sql.NullTime{Time: u.LastLogin, Valid: true}
	}

	_, err := db.exec(ctx, `
		INSERT INTO users (id, username, email, password_hash, display_name, avatar,
			theme, volume, repeat_mode, shuffle, created_at, updated_at, last_login)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.DisplayName, u.Avatar,
		u.Preferences.Theme, u.Preferences.Volume, u.Preferences.Repeat, u.Preferences.Shuffle,
		u.CreatedAt, u.UpdatedAt, lastLogin)
	if err != nil {
		return mapError(err, "user")
	}
	return nil
}

// GetUserByID returns a user by id.
func (db *Database) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	u, err := scanUser(db.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err != nil {
		return nil, mapError(err, "user")
	}
	return u, nil
}

// GetUserByLogin returns the user whose username or email matches login,
// ignoring case.
func (db *Database) GetUserByLogin(ctx context.Context, login string) (*models.User, error) {
	u, err := scanUser(db.queryRow(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE LOWER(username) = LOWER(?) OR LOWER(email) = LOWER(?)
		LIMIT 1`, login, login))
	if err != nil {
		return nil, mapError(err, "user")
	}
	return u, nil
}

// UserTaken reports whether username or email is already registered,
// ignoring case.
func (db *Database) UserTaken(ctx context.Context, username, email string) (usernameTaken, emailTaken bool, err error) {
	n, err := db.count(ctx, `SELECT COUNT(*) FROM users WHERE LOWER(username) = LOWER(?)`, username)
	if err != nil {
		return false, false, err
	}
	usernameTaken = n > 0

	n, err = db.count(ctx, `SELECT COUNT(*) FROM users WHERE LOWER(email) = LOWER(?)`, email)
	if err != nil {
		return false, false, err
	}
	emailTaken = n > 0
	return usernameTaken, emailTaken, nil
}

// TouchLastLogin records a successful login and returns the stored time.
func (db *Database) TouchLastLogin(ctx context.Context, id string) (time.Time, error) {
	now := db.timestamp()
	res, err := db.exec(ctx, `UPDATE users SET last_login = ?, updated_at = ? WHERE id = ?`, now, now, id)
	if err != nil {
		return time.Time{}, mapError(err, "user")
	}
	if err := expectAffected(res, "user"); err != nil {
		return time.Time{}, err
	}
	return now, nil
}

// UpdateUserProfile persists display name, avatar and preferences.
func (db *Database) UpdateUserProfile(ctx context.Context, u *models.User) error {
	u.UpdatedAt = db.timestamp()
	res, err := db.exec(ctx, `
		UPDATE users SET display_name = ?, avatar = ?, theme = ?, volume = ?, repeat_mode = ?,
			shuffle = ?, updated_at = ?
		WHERE id = ?`,
		u.DisplayName, u.Avatar, u.Preferences.Theme, u.Preferences.Volume, u.Preferences.Repeat,
		u.Preferences.Shuffle, u.UpdatedAt, u.ID)
	if err != nil {
		return mapError(err, "user")
	}
	return expectAffected(res, "user")
}

// GetUserStats derives the owner's counters from the tracks table.
func (db *Database) GetUserStats(ctx context.Context, id string) (models.UserStats, error) {
	var stats models.UserStats
	err := db.queryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(play_count), 0), COALESCE(SUM(like_count), 0)
		FROM tracks WHERE owner_id = ?`, id).Scan(&stats.TrackCount, &stats.TotalPlays, &stats.TotalLikes)
	if err != nil {
		return stats, fmt.Errorf("db error: %w", err)
	}
	return stats, nil
}

// CountUsers returns the number of registered users.
func (db *Database) CountUsers(ctx context.Context) (int, error) {
	return db.count(ctx, `SELECT COUNT(*) FROM users`)
}

func expectAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return mapError(sql.ErrNoRows, what)
	}
	return nil
}
