package database

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"flowplay/internal/apperr"
	"flowplay/internal/logging"
	"flowplay/pkg/models"

	"github.com/DATA-DOG/go-sqlmock"
)

// newTestDB opens a migrated sqlite database in a temp dir. The clock
// advances one second per call so ordering by created_at is deterministic.
func newTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), 5, logging.Discard())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	clock := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	db.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return db
}

func createUser(t *testing.T, db *Database, username string) *models.User {
	t.Helper()
	u := &models.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "hash",
		DisplayName:  username,
		Preferences:  models.DefaultPreferences(),
	}
	if err := db.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser(%s): %v", username, err)
	}
	return u
}

func createTrack(t *testing.T, db *Database, owner *models.User, title string, public bool) *models.Track {
	t.Helper()
	tr := &models.Track{
		OwnerID:    owner.ID,
		Title:      title,
		Artist:     "Artist",
		Genre:      "Rock",
		SourceType: models.SourceUpload,
		AudioData:  "AAAA",
		IsPublic:   public,
	}
	if err := db.CreateTrack(context.Background(), tr); err != nil {
		t.Fatalf("CreateTrack(%s): %v", title, err)
	}
	return tr
}

func TestParseDSN(t *testing.T) {
	tests := []struct {
		dsn     string
		dialect Dialect
		driver  string
		source  string
	}{
		{"postgres://u:p@host/db", DialectPostgres, "pgx", "postgres://u:p@host/db"},
		{"postgresql://host/db?sslmode=disable", DialectPostgres, "pgx", "postgresql://host/db?sslmode=disable"},
		{"sqlite://data/flowplay.db", DialectSQLite, "sqlite3", "data/flowplay.db?" + sqliteParams},
		{"flowplay.db?cache=shared", DialectSQLite, "sqlite3", "flowplay.db?cache=shared&" + sqliteParams},
	}

	for _, tt := range tests {
		dialect, driver, source := parseDSN(tt.dsn)
		if dialect != tt.dialect || driver != tt.driver || source != tt.source {
			t.Errorf("parseDSN(%q) = %s, %s, %s", tt.dsn, dialect, driver, source)
		}
	}
}

func TestRebind(t *testing.T) {
	db := &Database{dialect: DialectPostgres}
	got := db.rebind("SELECT * FROM t WHERE a = ? AND b = ?")
	if got != "SELECT * FROM t WHERE a = $1 AND b = $2" {
		t.Errorf("rebind = %q", got)
	}

	db.dialect = DialectSQLite
	if q := db.rebind("a = ?"); q != "a = ?" {
		t.Errorf("sqlite rebind changed query: %q", q)
	}
}

func TestEscapeLike(t *testing.T) {
	if got := containsPattern(`100%_Hits\`); got != `%100\%\_hits\\%` {
		t.Errorf("containsPattern = %q", got)
	}
}

func TestCreateUserConflicts(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	createUser(t, db, "alice")

	dupUsername := &models.User{Username: "ALICE", Email: "other@example.com", PasswordHash: "h", Preferences: models.DefaultPreferences()}
	err := db.CreateUser(ctx, dupUsername)
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict for username, got %v", err)
	}
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Field != "username" {
		t.Errorf("expected username field, got %+v", ae)
	}

	dupEmail := &models.User{Username: "alice2", Email: "Alice@Example.com", PasswordHash: "h", Preferences: models.DefaultPreferences()}
	err = db.CreateUser(ctx, dupEmail)
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict for email, got %v", err)
	}
	if !errors.As(err, &ae) || ae.Field != "email" {
		t.Errorf("expected email field, got %+v", ae)
	}

	usernameTaken, emailTaken, err := db.UserTaken(ctx, "Alice", "nobody@example.com")
	if err != nil || !usernameTaken || emailTaken {
		t.Errorf("UserTaken = %v, %v, %v", usernameTaken, emailTaken, err)
	}
}

func TestGetUserByLogin(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	alice := createUser(t, db, "alice")

	for _, login := range []string{"alice", "ALICE", "alice@example.com", "Alice@Example.COM"} {
		u, err := db.GetUserByLogin(ctx, login)
		if err != nil {
			t.Fatalf("GetUserByLogin(%q): %v", login, err)
		}
		if u.ID != alice.ID {
			t.Errorf("GetUserByLogin(%q) = %s", login, u.ID)
		}
		if u.Preferences != models.DefaultPreferences() {
			t.Errorf("preferences = %+v", u.Preferences)
		}
	}

	_, err := db.GetUserByLogin(ctx, "bob")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestUpdateUserProfileAndLastLogin(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	u := createUser(t, db, "alice")

	at, err := db.TouchLastLogin(ctx, u.ID)
	if err != nil {
		t.Fatalf("TouchLastLogin: %v", err)
	}

	u.DisplayName = "Alice"
	u.Preferences.Volume = 0.5
	u.Preferences.Repeat = models.RepeatAll
	if err := db.UpdateUserProfile(ctx, u); err != nil {
		t.Fatalf("UpdateUserProfile: %v", err)
	}

	got, err := db.GetUserByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if got.DisplayName != "Alice" || got.Preferences.Volume != 0.5 || got.Preferences.Repeat != models.RepeatAll {
		t.Errorf("unexpected user %+v", got)
	}
	if got.Preferences.Theme != "dark" {
		t.Errorf("theme changed to %q", got.Preferences.Theme)
	}
	if !got.LastLogin.Equal(at) {
		t.Errorf("last login = %v, want %v", got.LastLogin, at)
	}

	if _, err := db.TouchLastLogin(ctx, "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestTrackRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	alice := createUser(t, db, "alice")
	tr := createTrack(t, db, alice, "Song", false)

	got, err := db.GetTrack(ctx, tr.ID)
	if err != nil {
		t.Fatalf("GetTrack: %v", err)
	}
	if got.AudioData != "AAAA" || got.OwnerID != alice.ID || got.IsPublic {
		t.Errorf("unexpected track %+v", got)
	}

	list, total, err := db.ListTracksByOwner(ctx, alice.ID, models.Page{Number: 1, Size: 10})
	if err != nil {
		t.Fatalf("ListTracksByOwner: %v", err)
	}
	if total != 1 || len(list) != 1 {
		t.Fatalf("got %d tracks, total %d", len(list), total)
	}
	if list[0].AudioData != "" {
		t.Error("listing must not include inline audio")
	}
	if list[0].UploadedBy == nil || list[0].UploadedBy.Username != "alice" {
		t.Errorf("uploadedBy = %+v", list[0].UploadedBy)
	}
}

func TestListTracksByOwnerPagination(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	alice := createUser(t, db, "alice")
	for i := 0; i < 5; i++ {
		createTrack(t, db, alice, "Song "+string(rune('A'+i)), false)
	}

	page2, total, err := db.ListTracksByOwner(ctx, alice.ID, models.Page{Number: 2, Size: 10})
	if err != nil {
		t.Fatalf("ListTracksByOwner: %v", err)
	}
	if total != 5 || len(page2) != 0 || page2 == nil {
		t.Errorf("page 2 = %v (total %d)", page2, total)
	}

	first, _, err := db.ListTracksByOwner(ctx, alice.ID, models.Page{Number: 1, Size: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 2 || first[0].Title != "Song E" || first[1].Title != "Song D" {
		t.Errorf("expected newest first, got %s, %s", first[0].Title, first[1].Title)
	}
}

func TestListPublicTracksFilters(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	alice := createUser(t, db, "alice")

	jazz := createTrack(t, db, alice, "Blue in Green", true)
	jazz.Genre = "Jazz"
	jazz.Artist = "Miles Davis"
	if err := db.UpdateTrack(ctx, jazz); err != nil {
		t.Fatal(err)
	}
	createTrack(t, db, alice, "Rock Anthem", true)
	createTrack(t, db, alice, "Secret Jazz", false)

	// legacy row without a visibility flag
	if _, err := db.exec(ctx, `UPDATE tracks SET is_public = NULL WHERE title = ?`, "Secret Jazz"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		filter models.TrackFilter
		want   []string
	}{
		{"all public", models.TrackFilter{}, []string{"Rock Anthem", "Blue in Green"}},
		{"genre", models.TrackFilter{Genre: "jaz"}, []string{"Blue in Green"}},
		{"search title", models.TrackFilter{Search: "ANTHEM"}, []string{"Rock Anthem"}},
		{"search artist", models.TrackFilter{Search: "miles"}, []string{"Blue in Green"}},
		{"genre and search", models.TrackFilter{Genre: "rock", Search: "blue"}, nil},
		{"wildcard literal", models.TrackFilter{Search: "%"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, total, err := db.ListPublicTracks(ctx, tt.filter, models.Page{Number: 1, Size: 20})
			if err != nil {
				t.Fatalf("ListPublicTracks: %v", err)
			}
			if total != len(tt.want) || len(got) != len(tt.want) {
				t.Fatalf("got %d tracks (total %d), want %v", len(got), total, tt.want)
			}
			for i, title := range tt.want {
				if got[i].Title != title {
					t.Errorf("track %d = %q, want %q", i, got[i].Title, title)
				}
			}
		})
	}

	got, err := db.GetTrack(ctx, jazz.ID)
	if err != nil || !got.IsPublic {
		t.Errorf("jazz track should stay public: %v", err)
	}
}

func TestCountersAndStats(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	alice := createUser(t, db, "alice")
	tr := createTrack(t, db, alice, "Song", true)
	createTrack(t, db, alice, "Other", false)

	for i := 0; i < 3; i++ {
		if err := db.IncrementPlayCount(ctx, tr.ID); err != nil {
			t.Fatal(err)
		}
	}
	likes, err := db.IncrementLikeCount(ctx, tr.ID)
	if err != nil || likes != 1 {
		t.Fatalf("IncrementLikeCount = %d, %v", likes, err)
	}

	stats, err := db.GetUserStats(ctx, alice.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stats != (models.UserStats{TrackCount: 2, TotalPlays: 3, TotalLikes: 1}) {
		t.Errorf("stats = %+v", stats)
	}

	if err := db.IncrementPlayCount(ctx, "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestDeleteTrackCascadesPlaylists(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	alice := createUser(t, db, "alice")
	tr := createTrack(t, db, alice, "Song", true)

	pl := &models.Playlist{OwnerID: alice.ID, Name: "Mix"}
	if err := db.CreatePlaylist(ctx, pl); err != nil {
		t.Fatal(err)
	}
	if _, err := db.AddTrackToPlaylist(ctx, pl.ID, tr.ID); err != nil {
		t.Fatal(err)
	}

	if err := db.DeleteTrack(ctx, tr.ID); err != nil {
		t.Fatalf("DeleteTrack: %v", err)
	}
	if _, err := db.GetTrack(ctx, tr.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected track gone, got %v", err)
	}

	got, err := db.GetPlaylist(ctx, pl.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.TrackCount != 0 {
		t.Errorf("track count = %d after cascade", got.TrackCount)
	}

	if err := db.DeleteTrack(ctx, tr.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second delete: %v", err)
	}
}

func TestPlaylistTracks(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")

	a := createTrack(t, db, alice, "A", true)
	b := createTrack(t, db, alice, "B", false)

	pl := &models.Playlist{OwnerID: alice.ID, Name: "Mix", IsPublic: true}
	if err := db.CreatePlaylist(ctx, pl); err != nil {
		t.Fatal(err)
	}

	for _, id := range []string{b.ID, a.ID} {
		added, err := db.AddTrackToPlaylist(ctx, pl.ID, id)
		if err != nil || !added {
			t.Fatalf("AddTrackToPlaylist(%s) = %v, %v", id, added, err)
		}
	}
	added, err := db.AddTrackToPlaylist(ctx, pl.ID, a.ID)
	if err != nil || added {
		t.Errorf("duplicate add = %v, %v", added, err)
	}

	owned, err := db.GetPlaylistTracks(ctx, pl.ID, alice.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(owned) != 2 || owned[0].Title != "B" || owned[1].Title != "A" {
		t.Errorf("owner view = %v", owned)
	}

	others, err := db.GetPlaylistTracks(ctx, pl.ID, bob.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(others) != 1 || others[0].Title != "A" {
		t.Errorf("other view = %v", others)
	}

	if err := db.RemoveTrackFromPlaylist(ctx, pl.ID, b.ID); err != nil {
		t.Fatal(err)
	}
	if err := db.RemoveTrackFromPlaylist(ctx, pl.ID, b.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second remove: %v", err)
	}

	public, total, err := db.ListPublicPlaylists(ctx, models.Page{Number: 1, Size: 20})
	if err != nil || total != 1 || public[0].TrackCount != 1 {
		t.Errorf("public playlists = %v, %d, %v", public, total, err)
	}
	mine, total, err := db.ListPlaylistsByOwner(ctx, bob.ID, models.Page{Number: 1, Size: 20})
	if err != nil || total != 0 || len(mine) != 0 {
		t.Errorf("bob playlists = %v, %d, %v", mine, total, err)
	}
}

func TestCountUsersDriverError(t *testing.T) {
	conn, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer conn.Close()
	db := newDatabase(conn, DialectPostgres, logging.Discard())

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM users`)).
		WillReturnError(errors.New("connection refused"))

	_, err = db.CountUsers(context.Background())
	if err == nil || !regexp.MustCompile(`db error: .*connection refused`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
	if apperr.KindOf(err) != apperr.KindInternal {
		t.Errorf("kind = %v", apperr.KindOf(err))
	}
}

func TestGetTrackPostgresPlaceholders(t *testing.T) {
	conn, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer conn.Close()
	db := newDatabase(conn, DialectPostgres, logging.Discard())

	mock.ExpectQuery(`(?s)FROM tracks t WHERE t\.id = \$1`).
		WithArgs("t-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = db.GetTrack(context.Background(), "t-1")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestDeletePlaylistNoRows(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer conn.Close()
	db := newDatabase(conn, DialectSQLite, logging.Discard())

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM playlists WHERE id = ?`)).
		WithArgs("p-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := db.DeletePlaylist(context.Background(), "p-1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
