package icy

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// Framing constants
const (
	// MetadataHeader is the request header that asks the server to
	// interleave metadata blocks into the response body.
	MetadataHeader = "Icy-MetaData"

	// MetaintHeader announces the number of audio bytes between
	// metadata blocks in the response.
	MetaintHeader = "icy-metaint"

	// Station description headers.
	NameHeader        = "icy-name"
	GenreHeader       = "icy-genre"
	URLHeader         = "icy-url"
	DescriptionHeader = "icy-description"
	BitrateHeader     = "icy-br"

	// BlockUnit is the granularity of the block length byte: the byte
	// counts 16-byte units, not bytes.
	BlockUnit = 16

	// MaxBlockSize is the largest metadata block the framing can carry
	// (length byte 255).
	MaxBlockSize = 255 * BlockUnit
)

// ErrInvalidMetaint reports a metadata interval that is not a positive
// integer.
var ErrInvalidMetaint = errors.New("invalid icy-metaint")

// RequestMetadata marks a request as willing to receive interleaved
// metadata. Servers that do not support the extension ignore the header
// and send a plain body.
func RequestMetadata(req *http.Request) {
	req.Header.Set(MetadataHeader, "1")
}

// Metaint returns the metadata interval advertised in the response
// headers. A return of 0 with a nil error means the server does not
// interleave metadata and the body is pure audio.
func Metaint(h http.Header) (int, error) {
	v := h.Get(MetaintHeader)
	if v == "" {
		return 0, nil
	}

	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMetaint, v)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: %d (must be positive)", ErrInvalidMetaint, n)
	}

	return n, nil
}

// Splitter separates audio bytes from interleaved metadata blocks.
//
// Wire layout, repeated: [Audio:metaint][Length:1][Metadata:Length*16]
//
// A zero length byte means no metadata update. Blocks are padded with
// zero bytes up to the 16-byte boundary and may straddle any number of
// chunk boundaries; the Splitter carries the partial state across calls.
type Splitter struct {
	metaint   int
	audioLeft int    // audio bytes until the next length byte
	metaLeft  int    // metadata bytes left in the current block
	block     []byte // accumulates the current metadata block
}

// NewSplitter creates a Splitter for the given metadata interval.
func NewSplitter(metaint int) (*Splitter, error) {
	if metaint <= 0 {
		return nil, fmt.Errorf("%w: %d (must be positive)", ErrInvalidMetaint, metaint)
	}

	return &Splitter{
		metaint:   metaint,
		audioLeft: metaint,
	}, nil
}

// Split consumes the next chunk of the response body and returns the
// audio bytes it contained plus any metadata blocks completed within it.
// The returned audio slice may share p's backing array; callers that
// retain it past the next read must copy.
func (s *Splitter) Split(p []byte) ([]byte, []string) {
	if len(p) == 0 {
		return nil, nil
	}

	// Fast path: the chunk ends before the next block boundary, so it
	// is audio in its entirety.
	if s.audioLeft >= len(p) {
		s.audioLeft -= len(p)
		return p, nil
	}

	audio := make([]byte, 0, len(p))
	var blocks []string

	for len(p) > 0 {
		switch {
		case s.audioLeft > 0:
			n := s.audioLeft
			if n > len(p) {
				n = len(p)
			}
			audio = append(audio, p[:n]...)
			s.audioLeft -= n
			p = p[n:]

		case s.metaLeft > 0:
			n := s.metaLeft
			if n > len(p) {
				n = len(p)
			}
			s.block = append(s.block, p[:n]...)
			s.metaLeft -= n
			p = p[n:]

			if s.metaLeft == 0 {
				if text := ExtractMetadata(s.block); text != "" {
					blocks = append(blocks, text)
				}
				s.block = s.block[:0]
				s.audioLeft = s.metaint
			}

		default:
			// Length byte. Zero means the block is absent.
			size := int(p[0]) * BlockUnit
			p = p[1:]
			if size == 0 {
				s.audioLeft = s.metaint
			} else {
				s.metaLeft = size
			}
		}
	}

	return audio, blocks
}

// ExtractMetadata returns the text of a padded metadata block, cutting
// at the first zero byte and dropping trailing spaces.
func ExtractMetadata(block []byte) string {
	end := len(block)
	for i, b := range block {
		if b == 0 {
			end = i
			break
		}
	}
	return strings.TrimRight(string(block[:end]), " ")
}

// ParseTitle extracts the StreamTitle value from a metadata block. The
// second return is false when the block carries no title.
func ParseTitle(metadata string) (string, bool) {
	const key = "StreamTitle='"

	i := strings.Index(metadata, key)
	if i < 0 {
		return "", false
	}
	rest := metadata[i+len(key):]

	// The canonical terminator is "';". Some servers omit the
	// semicolon on the last field, so fall back to the final quote.
	if j := strings.Index(rest, "';"); j >= 0 {
		return rest[:j], true
	}
	if j := strings.LastIndexByte(rest, '\''); j >= 0 {
		return rest[:j], true
	}

	return "", false
}

// Station describes the stream source as reported in the response
// headers. Fields for headers the server did not send are zero.
type Station struct {
	Name        string `json:"name,omitempty"`
	Genre       string `json:"genre,omitempty"`
	URL         string `json:"url,omitempty"`
	Description string `json:"description,omitempty"`
	Bitrate     int    `json:"bitrate,omitempty"` // kilobits per second
}

// ParseStation collects the station description headers from a response.
func ParseStation(h http.Header) Station {
	st := Station{
		Name:        h.Get(NameHeader),
		Genre:       h.Get(GenreHeader),
		URL:         h.Get(URLHeader),
		Description: h.Get(DescriptionHeader),
	}

	if br := h.Get(BitrateHeader); br != "" {
		// Some servers report per-channel rates as "128,128".
		if i := strings.IndexByte(br, ','); i >= 0 {
			br = br[:i]
		}
		if n, err := strconv.Atoi(strings.TrimSpace(br)); err == nil && n > 0 {
			st.Bitrate = n
		}
	}

	return st
}

// String returns a human-readable representation of the station.
func (st Station) String() string {
	return fmt.Sprintf("Station{Name:%q, Genre:%q, Bitrate:%d}", st.Name, st.Genre, st.Bitrate)
}
