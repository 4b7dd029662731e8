package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"flowplay/internal/auth"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const (
	// Buffer size for streaming (64KB)
	streamBufferSize = 64 * 1024
)

var (
	errMalformedRange     = errors.New("malformed range")
	errUnsatisfiableRange = errors.New("range not satisfiable")
)

// byteRange is an inclusive byte interval.
type byteRange struct {
	start, end int64
}

func (br byteRange) length() int64 { return br.end - br.start + 1 }

// handleStreamTrack serves a track's audio with single-range support for
// seeking. Linked tracks redirect to their external URL.
func (ms *MusicServer) handleStreamTrack(w http.ResponseWriter, r *http.Request) {
	trackID := mux.Vars(r)["id"]

	stream, err := ms.tracks.OpenStream(r.Context(), trackID, auth.UserIDFromContext(r.Context()))
	if err != nil {
		ms.respondWithAppError(w, r, err)
		return
	}

	if stream.RedirectURL != "" {
		if r.Method == http.MethodGet {
			ms.tracks.RecordPlay(trackID)
		}
		http.Redirect(w, r, stream.RedirectURL, http.StatusFound)
		return
	}

	size := stream.Object.Size()
	contentType := stream.Track.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Accept-Ranges", "bytes")
	if stream.Track.IsPublic {
		w.Header().Set("Cache-Control", "public, max-age=3600")
	} else {
		w.Header().Set("Cache-Control", "private, max-age=3600")
	}

	status := http.StatusOK
	span := byteRange{start: 0, end: size - 1}

	if header := r.Header.Get("Range"); header != "" {
		parsed, err := parseRange(header, size)
		switch {
		case errors.Is(err, errUnsatisfiableRange):
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
			ms.respondWithError(w, r, http.StatusRequestedRangeNotSatisfiable, "range not satisfiable", nil)
			return
		case err != nil:
			// malformed ranges are ignored and the whole body is served
		default:
			span = parsed
			status = http.StatusPartialContent
			w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", span.start, span.end, size))
		}
	}

	w.Header().Set("Content-Length", strconv.FormatInt(span.length(), 10))

	if r.Method == http.MethodHead {
		w.WriteHeader(status)
		return
	}

	// a seek is not a new play
	if span.start == 0 {
		ms.tracks.RecordPlay(trackID)
	}

	if span.length() == 0 {
		w.WriteHeader(status)
		return
	}

	body, err := stream.Object.ReadRange(r.Context(), span.start, span.length())
	if err != nil {
		ms.respondWithError(w, r, http.StatusInternalServerError, "error opening audio", err)
		return
	}
	defer body.Close()

	w.WriteHeader(status)

	buffer := make([]byte, streamBufferSize)
	if _, err := io.CopyBuffer(w, body, buffer); err != nil {
		ms.logger.WithFields(logrus.Fields{
			"track_id": trackID,
			"start":    span.start,
			"end":      span.end,
		}).WithError(err).Debug("Stream interrupted")
	}
}

// parseRange parses a single-range Range header against an object of size
// bytes. Supported forms are bytes=a-b, bytes=a- and bytes=-n. The end is
// clamped to the last byte.
func parseRange(header string, size int64) (byteRange, error) {
	rangeSpec := strings.TrimSpace(header)
	if !strings.HasPrefix(rangeSpec, "bytes=") {
		return byteRange{}, errMalformedRange
	}
	rangeSpec = strings.TrimSpace(strings.TrimPrefix(rangeSpec, "bytes="))
	if strings.Contains(rangeSpec, ",") {
		// multipart/byteranges is not supported
		return byteRange{}, errMalformedRange
	}

	first, last, found := strings.Cut(rangeSpec, "-")
	if !found {
		return byteRange{}, errMalformedRange
	}
	first, last = strings.TrimSpace(first), strings.TrimSpace(last)

	if first == "" {
		// suffix range: the final n bytes
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n < 0 {
			return byteRange{}, errMalformedRange
		}
		if n == 0 || size == 0 {
			return byteRange{}, errUnsatisfiableRange
		}
		if n > size {
			n = size
		}
		return byteRange{start: size - n, end: size - 1}, nil
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return byteRange{}, errMalformedRange
	}

	end := size - 1
	if last != "" {
		e, err := strconv.ParseInt(last, 10, 64)
		if err != nil || e < start {
			return byteRange{}, errMalformedRange
		}
		if e < end {
			end = e
		}
	}

	if start >= size {
		return byteRange{}, errUnsatisfiableRange
	}
	return byteRange{start: start, end: end}, nil
}
