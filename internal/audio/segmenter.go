package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// maxTitleRunes caps the title portion of a segment file name.
const maxTitleRunes = 80

// SegmenterConfig contains configuration for stream segmentation
type SegmenterConfig struct {
	Dir             string // output directory, created if missing
	Format          Format // decides the file extension
	MinSegmentBytes int64  // segments below this size absorb the next title change
}

// Segmenter splits a recorded stream into per-track files, rotating to
// a new file on title changes. A rotation is skipped while the current
// segment is below the configured minimum, so spurious title flips
// merge into one file instead of producing fragments.
type Segmenter struct {
	config SegmenterConfig

	// Current segment
	file    *os.File
	path    string
	title   string
	written int64 // bytes in the current segment
	index   int   // next segment ordinal

	// Statistics
	segmentsCreated uint64
	bytesTotal      int64

	mu sync.Mutex
}

// SegmenterStats represents segmenter statistics
type SegmenterStats struct {
	SegmentsCreated uint64 `json:"segments_created"`
	BytesWritten    int64  `json:"bytes_written"`
	CurrentTitle    string `json:"current_title"`
	CurrentBytes    int64  `json:"current_segment_bytes"`
}

// NewSegmenter creates a segmenter writing into config.Dir.
func NewSegmenter(config SegmenterConfig) (*Segmenter, error) {
	if config.Dir == "" {
		return nil, fmt.Errorf("segment directory must not be empty")
	}

	if err := os.MkdirAll(config.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create segment directory: %w", err)
	}

	return &Segmenter{config: config}, nil
}

// Write appends audio bytes to the current segment, opening an untitled
// segment when none is open yet. It implements io.Writer.
func (s *Segmenter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		if err := s.openSegment(s.title); err != nil {
			return 0, err
		}
	}

	n, err := s.file.Write(p)
	s.written += int64(n)
	s.bytesTotal += int64(n)
	if err != nil {
		return n, fmt.Errorf("failed to write segment %s: %w", filepath.Base(s.path), err)
	}

	return n, nil
}

// OnTitle records a track title change. It returns true when the change
// started a new segment file. A change arriving before the current
// segment reached MinSegmentBytes keeps writing into the same file and
// only adopts the new title.
func (s *Segmenter) OnTitle(title string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if title == s.title {
		return false, nil
	}

	// Nothing recorded yet, the first segment takes this title.
	if s.file == nil {
		s.title = title
		return false, nil
	}

	if s.written < s.config.MinSegmentBytes {
		s.title = title
		return false, nil
	}

	if err := s.closeSegment(); err != nil {
		return false, err
	}
	if err := s.openSegment(title); err != nil {
		return false, err
	}

	return true, nil
}

// Close flushes and closes the current segment file.
func (s *Segmenter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeSegment()
}

// GetStats returns current segmenter statistics
func (s *Segmenter) GetStats() SegmenterStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return SegmenterStats{
		SegmentsCreated: s.segmentsCreated,
		BytesWritten:    s.bytesTotal,
		CurrentTitle:    s.title,
		CurrentBytes:    s.written,
	}
}

// openSegment starts a new segment file named after the title. The
// caller must hold s.mu.
func (s *Segmenter) openSegment(title string) error {
	name := fmt.Sprintf("%03d - %s%s", s.index, sanitizeTitle(title), s.config.Format.Ext())
	path := filepath.Join(s.config.Dir, name)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create segment file: %w", err)
	}

	s.file = f
	s.path = path
	s.title = title
	s.written = 0
	s.index++
	s.segmentsCreated++

	return nil
}

// closeSegment closes the current segment file if one is open. The
// caller must hold s.mu.
func (s *Segmenter) closeSegment() error {
	if s.file == nil {
		return nil
	}

	err := s.file.Close()
	s.file = nil
	if err != nil {
		return fmt.Errorf("failed to close segment %s: %w", filepath.Base(s.path), err)
	}

	return nil
}

// sanitizeTitle maps a track title to a safe file name component.
func sanitizeTitle(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return "untitled"
	}

	var b strings.Builder
	for _, r := range title {
		if r < 0x20 || strings.ContainsRune(`/\:*?"<>|`, r) {
			b.WriteRune('_')
		} else {
			b.WriteRune(r)
		}
	}

	runes := []rune(b.String())
	if len(runes) > maxTitleRunes {
		runes = runes[:maxTitleRunes]
	}

	return string(runes)
}
