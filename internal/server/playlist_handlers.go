package server

import (
	"net/http"

	"flowplay/internal/auth"
	"flowplay/internal/playlists"
	"flowplay/pkg/models"

	"github.com/gorilla/mux"
)

type createPlaylistRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsPublic    bool   `json:"isPublic"`
	Thumbnail   string `json:"thumbnail"`
}

type addTrackRequest struct {
	TrackID string `json:"trackId"`
}

// handleCreatePlaylist creates a playlist owned by the caller.
func (ms *MusicServer) handleCreatePlaylist(w http.ResponseWriter, r *http.Request) {
	var req createPlaylistRequest
	if err := decodeJSON(w, r, &req, maxJSONBody); err != nil {
		ms.respondWithAppError(w, r, err)
		return
	}

	playlist, err := ms.playlists.Create(r.Context(), auth.UserIDFromContext(r.Context()), playlists.CreateInput{
		Name:        sanitizeInput(req.Name),
		Description: sanitizeInput(req.Description),
		IsPublic:    req.IsPublic,
		Thumbnail:   req.Thumbnail,
	})
	if err != nil {
		ms.respondWithAppError(w, r, err)
		return
	}

	ms.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"success":  true,
		"playlist": playlist,
	})
}

// handleGetMyPlaylists returns the caller's playlists.
func (ms *MusicServer) handleGetMyPlaylists(w http.ResponseWriter, r *http.Request) {
	page, verr := parsePage(r)
	if verr != nil {
		ms.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	list, pagination, err := ms.playlists.ListOwned(r.Context(), auth.UserIDFromContext(r.Context()), page)
	if err != nil {
		ms.respondWithAppError(w, r, err)
		return
	}

	ms.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"playlists":  list,
		"pagination": pagination,
	})
}

// handleGetPublicPlaylists returns public playlists from all users.
func (ms *MusicServer) handleGetPublicPlaylists(w http.ResponseWriter, r *http.Request) {
	page, verr := parsePage(r)
	if verr != nil {
		ms.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	list, pagination, err := ms.playlists.ListPublic(r.Context(), page)
	if err != nil {
		ms.respondWithAppError(w, r, err)
		return
	}

	ms.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"playlists":  list,
		"pagination": pagination,
	})
}

// handleGetPlaylist returns a playlist with the tracks the caller may see.
func (ms *MusicServer) handleGetPlaylist(w http.ResponseWriter, r *http.Request) {
	playlist, tracks, err := ms.playlists.Get(r.Context(), mux.Vars(r)["id"], auth.UserIDFromContext(r.Context()))
	if err != nil {
		ms.respondWithAppError(w, r, err)
		return
	}

	ms.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"playlist": playlist,
		"tracks":   tracks,
	})
}

// handleUpdatePlaylist applies an owner-only partial update.
func (ms *MusicServer) handleUpdatePlaylist(w http.ResponseWriter, r *http.Request) {
	var req models.PlaylistUpdate
	if err := decodeJSON(w, r, &req, maxJSONBody); err != nil {
		ms.respondWithAppError(w, r, err)
		return
	}

	playlist, err := ms.playlists.Update(r.Context(), mux.Vars(r)["id"], auth.UserIDFromContext(r.Context()), req)
	if err != nil {
		ms.respondWithAppError(w, r, err)
		return
	}

	ms.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"playlist": playlist,
	})
}

// handleDeletePlaylist deletes one of the caller's playlists.
func (ms *MusicServer) handleDeletePlaylist(w http.ResponseWriter, r *http.Request) {
	playlistID := mux.Vars(r)["id"]
	if err := ms.playlists.Delete(r.Context(), playlistID, auth.UserIDFromContext(r.Context())); err != nil {
		ms.respondWithAppError(w, r, err)
		return
	}

	ms.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"deletedId": playlistID,
	})
}

// handleAddTrackToPlaylist appends a track to one of the caller's playlists.
func (ms *MusicServer) handleAddTrackToPlaylist(w http.ResponseWriter, r *http.Request) {
	var req addTrackRequest
	if err := decodeJSON(w, r, &req, maxJSONBody); err != nil {
		ms.respondWithAppError(w, r, err)
		return
	}

	playlist, err := ms.playlists.AddTrack(r.Context(), mux.Vars(r)["id"], auth.UserIDFromContext(r.Context()), req.TrackID)
	if err != nil {
		ms.respondWithAppError(w, r, err)
		return
	}

	ms.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"playlist": playlist,
	})
}

// handleRemoveTrackFromPlaylist removes a track from one of the caller's playlists.
func (ms *MusicServer) handleRemoveTrackFromPlaylist(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	playlist, err := ms.playlists.RemoveTrack(r.Context(), vars["id"], auth.UserIDFromContext(r.Context()), vars["trackId"])
	if err != nil {
		ms.respondWithAppError(w, r, err)
		return
	}

	ms.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"playlist": playlist,
	})
}
