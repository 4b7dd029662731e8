package metadata

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/dhowden/tag"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-audio/wav"
	"github.com/mewkiz/flac"
	"github.com/sirupsen/logrus"
	"github.com/tcolgate/mp3"
)

// UnknownArtist is used when neither the client nor the file tags name one.
const UnknownArtist = "Unknown Artist"

// Info is what could be learned from an uploaded audio payload.
type Info struct {
	Title    string
	Artist   string
	Album    string
	Genre    string
	Duration float64 // seconds, 0 when unknown
	MimeType string

	Picture     []byte
	PictureMIME string
}

// Extractor handles metadata extraction from uploaded audio
type Extractor struct {
	logger *logrus.Logger
}

// NewExtractor creates a new metadata extractor
func NewExtractor(logger *logrus.Logger) *Extractor {
	return &Extractor{logger: logger}
}

// aliases collapses the names sniffers and browsers use for one format.
var aliases = map[string]string{
	"audio/mp3":       "audio/mpeg",
	"audio/x-mp3":     "audio/mpeg",
	"audio/x-mpeg":    "audio/mpeg",
	"audio/x-wav":     "audio/wav",
	"audio/wave":      "audio/wav",
	"audio/vnd.wave":  "audio/wav",
	"audio/x-m4a":     "audio/m4a",
	"audio/mp4":       "audio/m4a",
	"audio/aac":       "audio/m4a",
	"audio/x-flac":    "audio/flac",
	"application/ogg": "audio/ogg",
	"audio/opus":      "audio/ogg",
}

// NormalizeMimeType lowercases, strips parameters and maps aliases to the
// canonical names used in the upload allowlist.
func NormalizeMimeType(raw string) string {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if separator := strings.Index(normalized, ";"); separator >= 0 {
		normalized = strings.TrimSpace(normalized[:separator])
	}
	if canonical, ok := aliases[normalized]; ok {
		return canonical
	}
	return normalized
}

// DetectMimeType sniffs the payload content.
func (e *Extractor) DetectMimeType(data []byte) string {
	return NormalizeMimeType(mimetype.Detect(data).String())
}

// Extract reads tags and duration from data. fileName supplies the title
// fallback. Missing or unreadable tags are not an error.
func (e *Extractor) Extract(data []byte, fileName string) Info {
	startTime := time.Now()
	info := Info{MimeType: e.DetectMimeType(data)}

	duration, err := e.calculateDuration(data, info.MimeType)
	if err != nil {
		e.logger.WithFields(logrus.Fields{
			"file_name": fileName,
			"mime_type": info.MimeType,
			"error":     err.Error(),
		}).Debug("Failed to calculate duration, setting to 0")
	}
	info.Duration = duration

	if md, err := tag.ReadFrom(bytes.NewReader(data)); err == nil {
		info.Title = strings.TrimSpace(md.Title())
		info.Artist = strings.TrimSpace(md.Artist())
		info.Album = strings.TrimSpace(md.Album())
		info.Genre = strings.TrimSpace(md.Genre())
		if pic := md.Picture(); pic != nil && len(pic.Data) > 0 {
			info.Picture = pic.Data
			info.PictureMIME = pictureMimeType(pic.Data)
		}
	} else {
		e.logger.WithFields(logrus.Fields{
			"file_name": fileName,
			"error":     err.Error(),
		}).Debug("No readable tags, using filename")
	}

	if info.Title == "" {
		info.Title = titleFromFileName(fileName)
	}
	if info.Artist == "" {
		info.Artist = UnknownArtist
	}

	e.logger.WithFields(logrus.Fields{
		"file_name":      fileName,
		"title":          info.Title,
		"artist":         info.Artist,
		"duration":       info.Duration,
		"processingTime": time.Since(startTime),
	}).Debug("Extracted metadata")

	return info
}

func titleFromFileName(fileName string) string {
	base := filepath.Base(strings.ReplaceAll(fileName, `\`, "/"))
	name := strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
	if name == "" || name == "." || name == "/" {
		return "Untitled"
	}
	return name
}

// calculateDuration returns the duration in seconds for supported formats
func (e *Extractor) calculateDuration(data []byte, mimeType string) (float64, error) {
	switch mimeType {
	case "audio/mpeg":
		return durationMP3(data)
	case "audio/flac":
		return durationFLAC(data)
	case "audio/wav":
		return durationWAV(data)
	case "audio/m4a":
		return durationM4A(data)
	default:
		return 0, fmt.Errorf("unsupported format: %s", mimeType)
	}
}

// MP3 duration using frame decoding; falls back to a bitrate estimate only if
// no frame decodes.
func durationMP3(data []byte) (float64, error) {
	dec := mp3.NewDecoder(bytes.NewReader(data))
	var total time.Duration
	var skipped int
	frames := 0
	for {
		var fr mp3.Frame
		if err := dec.Decode(&fr, &skipped); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if frames == 0 {
				return estimateFromSize(int64(len(data)), 192000)
			}
			break // partial decode; use what we have
		}
		total += fr.Duration()
		frames++
	}
	return total.Seconds(), nil
}

// FLAC duration via the STREAMINFO block
func durationFLAC(data []byte) (float64, error) {
	stream, err := flac.New(bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	defer stream.Close()

	si := stream.Info
	if si.NSamples > 0 && si.SampleRate > 0 {
		return float64(si.NSamples) / float64(si.SampleRate), nil
	}
	return 0, fmt.Errorf("flac stream missing sample info")
}

// WAV duration from the header and payload size
func durationWAV(data []byte) (float64, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return 0, fmt.Errorf("invalid wav file")
	}
	if dec.SampleRate == 0 || dec.BitDepth == 0 || dec.NumChans == 0 {
		return 0, fmt.Errorf("invalid wav header")
	}

	const headerSize = 44
	pcmBytes := int64(len(data)) - headerSize
	if pcmBytes < 0 {
		pcmBytes = 0
	}
	bytesPerSampleFrame := int64(dec.BitDepth/8) * int64(dec.NumChans)
	if bytesPerSampleFrame <= 0 {
		return 0, fmt.Errorf("invalid sample frame size")
	}
	sampleFrames := pcmBytes / bytesPerSampleFrame
	return float64(sampleFrames) / float64(dec.SampleRate), nil
}

// M4A duration from the mvhd atom inside moov.
func durationM4A(data []byte) (float64, error) {
	r := bytes.NewReader(data)
	head := make([]byte, 8)
	for {
		if _, err := io.ReadFull(r, head); err != nil {
			return 0, fmt.Errorf("mvhd atom not found: %w", err)
		}
		size := int64(binary.BigEndian.Uint32(head[0:4]))
		if size < 8 {
			return 0, fmt.Errorf("invalid atom size")
		}
		if string(head[4:8]) != "moov" {
			if _, err := r.Seek(size-8, io.SeekCurrent); err != nil {
				return 0, err
			}
			continue
		}

		for read := int64(0); read < size-8; {
			if _, err := io.ReadFull(r, head); err != nil {
				return 0, err
			}
			subSize := int64(binary.BigEndian.Uint32(head[0:4]))
			if string(head[4:8]) == "mvhd" {
				return readMVHD(r)
			}
			if subSize < 8 {
				return 0, fmt.Errorf("invalid sub-atom size")
			}
			if _, err := r.Seek(subSize-8, io.SeekCurrent); err != nil {
				return 0, err
			}
			read += subSize
		}
		return 0, fmt.Errorf("mvhd atom not found")
	}
}

func readMVHD(r io.ReadSeeker) (float64, error) {
	version := make([]byte, 4) // version + flags
	if _, err := io.ReadFull(r, version); err != nil {
		return 0, err
	}

	var timescale uint32
	var units uint64
	if version[0] == 1 {
		buf := make([]byte, 8+8+4+8)
		if _, err := io.ReadFull(r, buf); err != nil {
			return 0, err
		}
		timescale = binary.BigEndian.Uint32(buf[16:20])
		units = binary.BigEndian.Uint64(buf[20:28])
	} else {
		buf := make([]byte, 4+4+4+4)
		if _, err := io.ReadFull(r, buf); err != nil {
			return 0, err
		}
		timescale = binary.BigEndian.Uint32(buf[8:12])
		units = uint64(binary.BigEndian.Uint32(buf[12:16]))
	}

	if timescale == 0 {
		return 0, fmt.Errorf("invalid timescale")
	}
	return float64(units) / float64(timescale), nil
}

// estimateFromSize is a last-resort estimate for undecodable mp3 data.
func estimateFromSize(size int64, bitrate int) (float64, error) {
	if bitrate <= 0 {
		return 0, fmt.Errorf("invalid bitrate")
	}
	return float64(size*8) / float64(bitrate), nil
}

// pictureMimeType guesses the MIME type of embedded cover art
func pictureMimeType(data []byte) string {
	if len(data) < 4 {
		return "application/octet-stream"
	}
	if data[0] == 0xFF && data[1] == 0xD8 {
		return "image/jpeg"
	}
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	if data[0] == 0x47 && data[1] == 0x49 && data[2] == 0x46 {
		return "image/gif"
	}
	return "application/octet-stream"
}
