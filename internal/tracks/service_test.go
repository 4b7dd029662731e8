package tracks

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"flowplay/internal/apperr"
	"flowplay/internal/cache"
	"flowplay/internal/config"
	"flowplay/internal/database"
	"flowplay/internal/logging"
	"flowplay/internal/metadata"
	"flowplay/internal/storage"
	"flowplay/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	svc *Service
	db  *database.Database
	cfg *config.Config
}

func newFixture(t *testing.T, backend storage.Backend) *fixture {
	t.Helper()
	logger := logging.Discard()

	db, err := database.Open(context.Background(), filepath.Join(t.TempDir(), "tracks.db"), 2, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	listings := cache.NewListingCache(time.Minute)
	t.Cleanup(listings.Close)

	cfg := config.DefaultConfig()
	svc := NewService(db, backend, metadata.NewExtractor(logger), listings, cfg, logger)
	return &fixture{svc: svc, db: db, cfg: cfg}
}

func (f *fixture) user(t *testing.T, username string) string {
	t.Helper()
	u := &models.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "hash",
		DisplayName:  username,
		Preferences:  models.DefaultPreferences(),
	}
	require.NoError(t, f.db.CreateUser(context.Background(), u))
	return u.ID
}

func (f *fixture) link(t *testing.T, ownerID, title string, public bool) *models.Track {
	t.Helper()
	track, err := f.svc.CreateFromLink(context.Background(), ownerID, LinkUpload{
		Metadata:   Metadata{Title: title, Artist: "Artist", Genre: "Rock", IsPublic: public},
		StorageURL: "https://cdn.example.com/" + title + ".mp3",
	})
	require.NoError(t, err)
	return track
}

// makeWAV builds one second of silent 8 kHz mono PCM.
func makeWAV() []byte {
	const sampleRate, dataSize = 8000, 16000
	var buf bytes.Buffer
	w := func(v any) { binary.Write(&buf, binary.LittleEndian, v) }

	buf.WriteString("RIFF")
	w(uint32(36 + dataSize))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	w(uint32(16))
	w(uint16(1))
	w(uint16(1))
	w(uint32(sampleRate))
	w(uint32(sampleRate * 2))
	w(uint16(2))
	w(uint16(16))
	buf.WriteString("data")
	w(uint32(dataSize))
	buf.Write(make([]byte, dataSize))
	return buf.Bytes()
}

func readAll(t *testing.T, obj storage.Object) []byte {
	t.Helper()
	rc, err := obj.ReadRange(context.Background(), 0, obj.Size())
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

func TestUploadInline(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	owner := f.user(t, "alice")
	wav := makeWAV()

	track, err := f.svc.Upload(ctx, owner, FileUpload{
		FileName:    "Morning Song.wav",
		ContentType: "audio/x-wav",
		Data:        wav,
	})
	require.NoError(t, err)

	assert.Equal(t, "Morning Song", track.Title)
	assert.Equal(t, metadata.UnknownArtist, track.Artist)
	assert.Equal(t, "audio/wav", track.MimeType)
	assert.Equal(t, models.SourceUpload, track.SourceType)
	assert.Equal(t, int64(len(wav)), track.FileSize)
	assert.InDelta(t, 1.0, track.Duration, 0.01)
	assert.False(t, track.IsPublic)
	assert.Empty(t, track.StorageKey)

	stream, err := f.svc.OpenStream(ctx, track.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, wav, readAll(t, stream.Object))
}

func TestUploadClientMetadataWins(t *testing.T) {
	f := newFixture(t, nil)
	owner := f.user(t, "alice")

	track, err := f.svc.Upload(context.Background(), owner, FileUpload{
		Metadata: Metadata{Title: "Given", Artist: "Band", Genre: "Jazz", Duration: 42, IsPublic: true},
		FileName: "ignored.wav",
		Data:     makeWAV(),
	})
	require.NoError(t, err)
	assert.Equal(t, "Given", track.Title)
	assert.Equal(t, "Band", track.Artist)
	assert.Equal(t, "Jazz", track.Genre)
	assert.Equal(t, 42.0, track.Duration)
	assert.True(t, track.IsPublic)
}

func TestUploadLocalBackend(t *testing.T) {
	root := t.TempDir()
	backend, err := storage.NewLocal(root)
	require.NoError(t, err)

	f := newFixture(t, backend)
	ctx := context.Background()
	owner := f.user(t, "alice")
	wav := makeWAV()

	track, err := f.svc.Upload(ctx, owner, FileUpload{FileName: "song.wav", Data: wav})
	require.NoError(t, err)
	require.NotEmpty(t, track.StorageKey)
	assert.Empty(t, track.AudioData)
	assert.Equal(t, ".wav", filepath.Ext(track.StorageKey))

	stream, err := f.svc.OpenStream(ctx, track.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, wav, readAll(t, stream.Object))

	require.NoError(t, f.svc.Delete(ctx, track.ID, owner))
	_, err = os.Stat(filepath.Join(root, filepath.FromSlash(track.StorageKey)))
	assert.True(t, os.IsNotExist(err))
}

func TestUploadRejections(t *testing.T) {
	f := newFixture(t, nil)
	owner := f.user(t, "alice")
	ctx := context.Background()

	_, err := f.svc.Upload(ctx, owner, FileUpload{FileName: "notes.txt", ContentType: "audio/mpeg", Data: []byte("just some text, not audio")})
	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperr.KindValidation, appErr.Kind)
	assert.Equal(t, "INVALID_FILE_TYPE", appErr.Code)

	_, err = f.svc.Upload(ctx, owner, FileUpload{FileName: "empty.mp3"})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	f.cfg.Uploads.MaxUploadMB = 1
	_, err = f.svc.Upload(ctx, owner, FileUpload{FileName: "big.wav", Data: make([]byte, 2<<20)})
	assert.True(t, errors.Is(err, apperr.ErrTooLarge))
}

func TestCreateFromLink(t *testing.T) {
	f := newFixture(t, nil)
	owner := f.user(t, "alice")
	ctx := context.Background()

	_, err := f.svc.CreateFromLink(ctx, owner, LinkUpload{
		Metadata:   Metadata{Title: "T", Artist: "A"},
		AudioData:  "AAAA",
		StorageURL: "https://example.com/a.mp3",
	})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = f.svc.CreateFromLink(ctx, owner, LinkUpload{Metadata: Metadata{Artist: "A"}})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = f.svc.CreateFromLink(ctx, owner, LinkUpload{
		Metadata:   Metadata{Title: "T", Artist: "A"},
		StorageURL: "ftp://example.com/a.mp3",
	})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	linked := f.link(t, owner, "remote", false)
	assert.Equal(t, models.SourceURL, linked.SourceType)
	stream, err := f.svc.OpenStream(ctx, linked.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/remote.mp3", stream.RedirectURL)

	placeholder, err := f.svc.CreateFromLink(ctx, owner, LinkUpload{
		Metadata:   Metadata{Title: "Later", Artist: "A"},
		SourceType: models.SourceYouTube,
	})
	require.NoError(t, err)
	assert.Equal(t, models.SourceYouTube, placeholder.SourceType)
	_, err = f.svc.OpenStream(ctx, placeholder.ID, owner)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	wav := makeWAV()
	inline, err := f.svc.CreateFromLink(ctx, owner, LinkUpload{
		Metadata:  Metadata{Title: "Inline", Artist: "A"},
		AudioData: "data:audio/wav;base64," + base64.StdEncoding.EncodeToString(wav),
	})
	require.NoError(t, err)
	assert.Equal(t, "audio/wav", inline.MimeType)
	stream, err = f.svc.OpenStream(ctx, inline.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(len(wav)), stream.Object.Size())
}

func TestVisibility(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	bob := f.user(t, "bob")
	eve := f.user(t, "eve")

	private := f.link(t, bob, "secret", false)
	public := f.link(t, bob, "shared", true)

	_, err := f.svc.Get(ctx, private.ID, eve)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	_, err = f.svc.Get(ctx, private.ID, "")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	_, err = f.svc.OpenStream(ctx, private.ID, eve)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	got, err := f.svc.Get(ctx, private.ID, bob)
	require.NoError(t, err)
	assert.Equal(t, "secret", got.Title)

	_, err = f.svc.Get(ctx, public.ID, "")
	require.NoError(t, err)

	listed, pagination, err := f.svc.ListPublic(ctx, models.TrackFilter{}, models.Page{Number: 1, Size: 20})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, public.ID, listed[0].ID)
	assert.Equal(t, "bob", listed[0].UploadedBy.Username)
	assert.Equal(t, 1, pagination.Total)

	owned, _, err := f.svc.ListOwned(ctx, bob, models.Page{Number: 1, Size: 20})
	require.NoError(t, err)
	assert.Len(t, owned, 2)
}

func TestListPublicCacheInvalidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	bob := f.user(t, "bob")
	page := models.Page{Number: 1, Size: 20}

	track := f.link(t, bob, "draft", false)

	listed, _, err := f.svc.ListPublic(ctx, models.TrackFilter{}, page)
	require.NoError(t, err)
	assert.Empty(t, listed)
	assert.NotNil(t, listed)

	public := true
	_, err = f.svc.Update(ctx, track.ID, bob, models.TrackUpdate{IsPublic: &public})
	require.NoError(t, err)

	listed, _, err = f.svc.ListPublic(ctx, models.TrackFilter{}, page)
	require.NoError(t, err)
	require.Len(t, listed, 1)

	private := false
	_, err = f.svc.Update(ctx, track.ID, bob, models.TrackUpdate{IsPublic: &private})
	require.NoError(t, err)

	listed, _, err = f.svc.ListPublic(ctx, models.TrackFilter{}, page)
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestListPublicFilters(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	bob := f.user(t, "bob")
	page := models.Page{Number: 1, Size: 20}

	for _, md := range []Metadata{
		{Title: "Blue Train", Artist: "Coltrane", Genre: "Jazz", IsPublic: true},
		{Title: "Blue Monday", Artist: "New Order", Genre: "Synthpop", IsPublic: true},
		{Title: "So What", Artist: "Miles Davis", Genre: "Jazz", IsPublic: true},
	} {
		_, err := f.svc.CreateFromLink(ctx, bob, LinkUpload{Metadata: md})
		require.NoError(t, err)
	}

	tests := []struct {
		name   string
		filter models.TrackFilter
		want   int
	}{
		{"no filter", models.TrackFilter{}, 3},
		{"genre", models.TrackFilter{Genre: "jazz"}, 2},
		{"search", models.TrackFilter{Search: "BLUE"}, 2},
		{"genre and search", models.TrackFilter{Genre: "jazz", Search: "blue"}, 1},
		{"artist search", models.TrackFilter{Search: "davis"}, 1},
		{"no match", models.TrackFilter{Genre: "metal"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			listed, pagination, err := f.svc.ListPublic(ctx, tt.filter, page)
			require.NoError(t, err)
			assert.Len(t, listed, tt.want)
			assert.Equal(t, tt.want, pagination.Total)
		})
	}
}

func TestListOwnedOutOfRangePage(t *testing.T) {
	f := newFixture(t, nil)
	bob := f.user(t, "bob")
	for i := 0; i < 5; i++ {
		f.link(t, bob, "t"+string(rune('a'+i)), false)
	}

	tracks, pagination, err := f.svc.ListOwned(context.Background(), bob, models.Page{Number: 2, Size: 10})
	require.NoError(t, err)
	assert.Empty(t, tracks)
	assert.Equal(t, 5, pagination.Total)
	assert.Equal(t, 1, pagination.Pages)
}

func TestOwnerOnlyChanges(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	bob := f.user(t, "bob")
	eve := f.user(t, "eve")
	track := f.link(t, bob, "mine", true)

	title := "stolen"
	_, err := f.svc.Update(ctx, track.ID, eve, models.TrackUpdate{Title: &title})
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	err = f.svc.Delete(ctx, track.ID, eve)
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	got, err := f.svc.Get(ctx, track.ID, bob)
	require.NoError(t, err)
	assert.Equal(t, "mine", got.Title)

	empty := " "
	_, err = f.svc.Update(ctx, track.ID, bob, models.TrackUpdate{Title: &empty})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	require.NoError(t, f.svc.Delete(ctx, track.ID, bob))
	_, err = f.svc.Get(ctx, track.ID, bob)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	err = f.svc.Delete(ctx, track.ID, bob)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestCounters(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	bob := f.user(t, "bob")
	eve := f.user(t, "eve")
	track := f.link(t, bob, "hit", true)

	f.svc.RecordPlay(track.ID)
	f.svc.RecordPlay(track.ID)
	f.svc.Wait()

	likes, err := f.svc.Like(ctx, track.ID, eve)
	require.NoError(t, err)
	assert.Equal(t, int64(1), likes)

	got, err := f.svc.Get(ctx, track.ID, bob)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.PlayCount)
	assert.Equal(t, int64(1), got.LikeCount)

	hidden := f.link(t, bob, "hidden", false)
	_, err = f.svc.Like(ctx, hidden.ID, eve)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestDecodeAudioData(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantMime string
		want     string
		wantErr  bool
	}{
		{"plain", base64.StdEncoding.EncodeToString([]byte("abc")), "", "abc", false},
		{"unpadded", "YWJjZA", "", "abcd", false},
		{"data uri", "data:audio/mpeg;base64," + base64.StdEncoding.EncodeToString([]byte("xyz")), "audio/mpeg", "xyz", false},
		{"not base64 uri", "data:audio/mpeg,xyz", "", "", true},
		{"garbage", "!!!", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mimeType, data, err := decodeAudioData(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMime, mimeType)
			assert.Equal(t, tt.want, string(data))
		})
	}
}
