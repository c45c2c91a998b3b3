package audio

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSegmenterRotatesOnTitleChange(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSegmenter(SegmenterConfig{Dir: dir, Format: FormatMP3, MinSegmentBytes: 4})
	if err != nil {
		t.Fatalf("NewSegmenter failed: %v", err)
	}
	defer s.Close()

	if _, err := s.OnTitle("First Song"); err != nil {
		t.Fatalf("OnTitle failed: %v", err)
	}
	if _, err := s.Write([]byte("audio-one")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	rotated, err := s.OnTitle("Second Song")
	if err != nil {
		t.Fatalf("OnTitle failed: %v", err)
	}
	if !rotated {
		t.Error("Expected rotation on title change past the minimum size")
	}

	if _, err := s.Write([]byte("audio-two")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	first, err := os.ReadFile(filepath.Join(dir, "000 - First Song.mp3"))
	if err != nil {
		t.Fatalf("Failed to read first segment: %v", err)
	}
	if string(first) != "audio-one" {
		t.Errorf("First segment = %q, expected %q", first, "audio-one")
	}

	second, err := os.ReadFile(filepath.Join(dir, "001 - Second Song.mp3"))
	if err != nil {
		t.Fatalf("Failed to read second segment: %v", err)
	}
	if string(second) != "audio-two" {
		t.Errorf("Second segment = %q, expected %q", second, "audio-two")
	}

	stats := s.GetStats()
	if stats.SegmentsCreated != 2 {
		t.Errorf("Expected 2 segments created, got %d", stats.SegmentsCreated)
	}
	if stats.BytesWritten != int64(len("audio-one")+len("audio-two")) {
		t.Errorf("Expected %d bytes written, got %d", len("audio-one")+len("audio-two"), stats.BytesWritten)
	}
}

func TestSegmenterMinimumSizeGuard(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSegmenter(SegmenterConfig{Dir: dir, Format: FormatMP3, MinSegmentBytes: 100})
	if err != nil {
		t.Fatalf("NewSegmenter failed: %v", err)
	}
	defer s.Close()

	if _, err := s.OnTitle("Tiny Track"); err != nil {
		t.Fatalf("OnTitle failed: %v", err)
	}
	if _, err := s.Write([]byte("short")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	// Below the minimum, so the title change merges instead of rotating.
	rotated, err := s.OnTitle("Next Track")
	if err != nil {
		t.Fatalf("OnTitle failed: %v", err)
	}
	if rotated {
		t.Error("Expected no rotation below the minimum segment size")
	}

	if _, err := s.Write([]byte(" and more")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	stats := s.GetStats()
	if stats.SegmentsCreated != 1 {
		t.Errorf("Expected 1 segment, got %d", stats.SegmentsCreated)
	}
	if stats.CurrentTitle != "Next Track" {
		t.Errorf("Expected merged segment to adopt the new title, got %q", stats.CurrentTitle)
	}

	content, err := os.ReadFile(filepath.Join(dir, "000 - Tiny Track.mp3"))
	if err != nil {
		t.Fatalf("Failed to read merged segment: %v", err)
	}
	if string(content) != "short and more" {
		t.Errorf("Merged segment = %q, expected %q", content, "short and more")
	}
}

func TestSegmenterRepeatedTitle(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSegmenter(SegmenterConfig{Dir: dir, Format: FormatAAC})
	if err != nil {
		t.Fatalf("NewSegmenter failed: %v", err)
	}
	defer s.Close()

	if _, err := s.OnTitle("Same Song"); err != nil {
		t.Fatalf("OnTitle failed: %v", err)
	}
	if _, err := s.Write([]byte("data")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	rotated, err := s.OnTitle("Same Song")
	if err != nil {
		t.Fatalf("OnTitle failed: %v", err)
	}
	if rotated {
		t.Error("Expected no rotation for a repeated title")
	}

	if s.GetStats().SegmentsCreated != 1 {
		t.Errorf("Expected 1 segment, got %d", s.GetStats().SegmentsCreated)
	}
}

func TestSegmenterUntitledFirstSegment(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSegmenter(SegmenterConfig{Dir: dir, Format: FormatOgg})
	if err != nil {
		t.Fatalf("NewSegmenter failed: %v", err)
	}

	if _, err := s.Write([]byte("no metadata stream")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "000 - untitled.ogg")); err != nil {
		t.Errorf("Expected untitled segment file: %v", err)
	}
}

func TestSegmenterInvalidConfig(t *testing.T) {
	if _, err := NewSegmenter(SegmenterConfig{Dir: ""}); err == nil {
		t.Error("Expected error for empty segment directory")
	}
}

func TestSanitizeTitle(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "plain title",
			input:    "Artist - Song",
			expected: "Artist - Song",
		},
		{
			name:     "path hostile characters",
			input:    `A/B\C:D*E?F"G<H>I|J`,
			expected: "A_B_C_D_E_F_G_H_I_J",
		},
		{
			name:     "control characters",
			input:    "Song\x00Name\n",
			expected: "Song_Name",
		},
		{
			name:     "surrounding whitespace",
			input:    "  Trimmed  Title  ",
			expected: "Trimmed  Title",
		},
		{
			name:     "empty title",
			input:    "",
			expected: "untitled",
		},
		{
			name:     "whitespace only",
			input:    "   ",
			expected: "untitled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := sanitizeTitle(tt.input)
			if result != tt.expected {
				t.Errorf("sanitizeTitle(%q) = %q, expected %q", tt.input, result, tt.expected)
			}
		})
	}
}
