package server

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"flowplay/internal/apperr"
	"flowplay/internal/auth"
	"flowplay/internal/tracks"
)

const (
	// room for multipart boundaries and metadata fields
	multipartOverhead = 1 << 20
	// parts above this spill to temp files
	multipartMemory = 32 << 20
)

// linkUploadRequest is the JSON form of /tracks/upload.
type linkUploadRequest struct {
	Title      string  `json:"title"`
	Artist     string  `json:"artist"`
	Album      string  `json:"album"`
	Genre      string  `json:"genre"`
	Duration   float64 `json:"duration"`
	IsPublic   bool    `json:"isPublic"`
	AudioData  string  `json:"audioData"`
	StorageURL string  `json:"storageUrl"`
	SourceType string  `json:"sourceType"`
	FileName   string  `json:"fileName"`
	MimeType   string  `json:"mimeType"`
	Thumbnail  string  `json:"thumbnail"`
}

// handleUploadTrack accepts either a multipart audio file with metadata
// fields or a JSON body carrying inline audio or an external URL.
func (ms *MusicServer) handleUploadTrack(w http.ResponseWriter, r *http.Request) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		ms.respondWithValidationError(w, r, []ValidationError{{
			Field:   "Content-Type",
			Message: "Content-Type must be multipart/form-data or application/json",
			Code:    "UNSUPPORTED_CONTENT_TYPE",
		}})
		return
	}

	switch mediaType {
	case "multipart/form-data":
		ms.handleFileUpload(w, r)
	case "application/json":
		ms.handleLinkUpload(w, r)
	default:
		ms.respondWithValidationError(w, r, []ValidationError{{
			Field:   "Content-Type",
			Message: "Content-Type must be multipart/form-data or application/json",
			Code:    "UNSUPPORTED_CONTENT_TYPE",
		}})
	}
}

func (ms *MusicServer) handleFileUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, ms.config.MaxUploadBytes()+multipartOverhead)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		ms.respondWithAppError(w, r, uploadReadError(err, "failed to parse upload form"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		ms.respondWithValidationError(w, r, []ValidationError{{
			Field:   "file",
			Message: "audio file is required",
			Code:    "MISSING_FILE",
		}})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		ms.respondWithAppError(w, r, uploadReadError(err, "failed to read uploaded file"))
		return
	}

	md, verr := formMetadata(r)
	if verr != nil {
		ms.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	track, err := ms.tracks.Upload(r.Context(), auth.UserIDFromContext(r.Context()), tracks.FileUpload{
		Metadata:    md,
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		ms.respondWithAppError(w, r, err)
		return
	}

	ms.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"track":   track,
	})
}

func (ms *MusicServer) handleLinkUpload(w http.ResponseWriter, r *http.Request) {
	// base64 inflates the payload by a third
	limit := ms.config.MaxUploadBytes()/3*4 + multipartOverhead

	var req linkUploadRequest
	if err := decodeJSON(w, r, &req, limit); err != nil {
		ms.respondWithAppError(w, r, err)
		return
	}

	track, err := ms.tracks.CreateFromLink(r.Context(), auth.UserIDFromContext(r.Context()), tracks.LinkUpload{
		Metadata: tracks.Metadata{
			Title:    sanitizeInput(req.Title),
			Artist:   sanitizeInput(req.Artist),
			Album:    sanitizeInput(req.Album),
			Genre:    sanitizeInput(req.Genre),
			Duration: req.Duration,
			IsPublic: req.IsPublic,
		},
		AudioData:  req.AudioData,
		StorageURL: req.StorageURL,
		SourceType: req.SourceType,
		FileName:   sanitizeInput(req.FileName),
		MimeType:   req.MimeType,
		Thumbnail:  req.Thumbnail,
	})
	if err != nil {
		ms.respondWithAppError(w, r, err)
		return
	}

	ms.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"track":   track,
	})
}

// formMetadata reads the optional metadata fields sent next to the file.
func formMetadata(r *http.Request) (tracks.Metadata, *ValidationError) {
	md := tracks.Metadata{
		Title:  sanitizeInput(r.FormValue("title")),
		Artist: sanitizeInput(r.FormValue("artist")),
		Album:  sanitizeInput(r.FormValue("album")),
		Genre:  sanitizeInput(r.FormValue("genre")),
	}

	if raw := strings.TrimSpace(r.FormValue("duration")); raw != "" {
		d, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return md, &ValidationError{Field: "duration", Message: "duration must be a number", Code: "INVALID_DURATION"}
		}
		md.Duration = d
	}

	if raw := strings.TrimSpace(r.FormValue("isPublic")); raw != "" {
		public, err := strconv.ParseBool(raw)
		if err != nil {
			return md, &ValidationError{Field: "isPublic", Message: "isPublic must be true or false", Code: "INVALID_IS_PUBLIC"}
		}
		md.IsPublic = public
	}

	return md, nil
}

func uploadReadError(err error, message string) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return apperr.TooLarge("FILE_TOO_LARGE", "file too large")
	}
	return apperr.Validation("file", "INVALID_UPLOAD", message)
}
