package server

import (
	"net/http"

	"flowplay/internal/auth"
	"flowplay/pkg/models"

	"github.com/gorilla/mux"
)

// handleGetPublicTracks returns the discovery feed, optionally filtered by
// genre and search text.
func (ms *MusicServer) handleGetPublicTracks(w http.ResponseWriter, r *http.Request) {
	page, verr := parsePage(r)
	if verr != nil {
		ms.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	filter := models.TrackFilter{
		Genre:  sanitizeInput(r.URL.Query().Get("genre")),
		Search: sanitizeInput(r.URL.Query().Get("search")),
	}
	for field, value := range map[string]string{"genre": filter.Genre, "search": filter.Search} {
		if verr := validateSearchQuery(field, value); verr != nil {
			ms.respondWithValidationError(w, r, []ValidationError{*verr})
			return
		}
	}

	tracks, pagination, err := ms.tracks.ListPublic(r.Context(), filter, page)
	if err != nil {
		ms.respondWithAppError(w, r, err)
		return
	}

	ms.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"tracks":     tracks,
		"pagination": pagination,
	})
}

// handleGetMyTracks returns the caller's tracks, public and private.
func (ms *MusicServer) handleGetMyTracks(w http.ResponseWriter, r *http.Request) {
	page, verr := parsePage(r)
	if verr != nil {
		ms.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	tracks, pagination, err := ms.tracks.ListOwned(r.Context(), auth.UserIDFromContext(r.Context()), page)
	if err != nil {
		ms.respondWithAppError(w, r, err)
		return
	}

	ms.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"tracks":     tracks,
		"pagination": pagination,
	})
}

// handleGetTrack returns one track's metadata.
func (ms *MusicServer) handleGetTrack(w http.ResponseWriter, r *http.Request) {
	track, err := ms.tracks.Get(r.Context(), mux.Vars(r)["id"], auth.UserIDFromContext(r.Context()))
	if err != nil {
		ms.respondWithAppError(w, r, err)
		return
	}

	ms.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"track":   track,
	})
}

// handleUpdateTrack applies an owner-only metadata edit.
func (ms *MusicServer) handleUpdateTrack(w http.ResponseWriter, r *http.Request) {
	var req models.TrackUpdate
	if err := decodeJSON(w, r, &req, maxJSONBody); err != nil {
		ms.respondWithAppError(w, r, err)
		return
	}

	track, err := ms.tracks.Update(r.Context(), mux.Vars(r)["id"], auth.UserIDFromContext(r.Context()), req)
	if err != nil {
		ms.respondWithAppError(w, r, err)
		return
	}

	ms.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"track":   track,
	})
}

// handleDeleteTrack deletes one of the caller's tracks.
func (ms *MusicServer) handleDeleteTrack(w http.ResponseWriter, r *http.Request) {
	trackID := mux.Vars(r)["id"]
	if err := ms.tracks.Delete(r.Context(), trackID, auth.UserIDFromContext(r.Context())); err != nil {
		ms.respondWithAppError(w, r, err)
		return
	}

	ms.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"deletedId": trackID,
	})
}

// handleLikeTrack increments a visible track's like counter.
func (ms *MusicServer) handleLikeTrack(w http.ResponseWriter, r *http.Request) {
	trackID := mux.Vars(r)["id"]
	likes, err := ms.tracks.Like(r.Context(), trackID, auth.UserIDFromContext(r.Context()))
	if err != nil {
		ms.respondWithAppError(w, r, err)
		return
	}

	ms.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"trackId":   trackID,
		"likeCount": likes,
	})
}
