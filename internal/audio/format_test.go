package audio

import (
	"encoding/binary"
	"strings"
	"testing"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name     string
		head     []byte
		expected Format
	}{
		{
			name:     "id3 tagged mp3",
			head:     []byte("ID3\x04\x00\x00\x00\x00\x00\x00"),
			expected: FormatMP3,
		},
		{
			name:     "mp3 frame sync",
			head:     []byte{0xFF, 0xFB, 0x90, 0x00},
			expected: FormatMP3,
		},
		{
			name:     "adts aac",
			head:     []byte{0xFF, 0xF1, 0x50, 0x80},
			expected: FormatAAC,
		},
		{
			name:     "ogg container",
			head:     []byte("OggS\x00\x02\x00\x00"),
			expected: FormatOgg,
		},
		{
			name:     "flac marker",
			head:     []byte("fLaC\x00\x00\x00\x22"),
			expected: FormatFLAC,
		},
		{
			name:     "riff wave",
			head:     wavHeader(44100, 2, 16),
			expected: FormatWAV,
		},
		{
			name:     "m4a ftyp box",
			head:     append([]byte{0x00, 0x00, 0x00, 0x20}, []byte("ftypM4A ")...),
			expected: FormatM4A,
		},
		{
			name:     "riff without wave",
			head:     []byte("RIFF\x00\x00\x00\x00AVI LIST"),
			expected: FormatUnknown,
		},
		{
			name:     "unknown bytes",
			head:     []byte{0x01, 0x02, 0x03, 0x04, 0x05},
			expected: FormatUnknown,
		},
		{
			name:     "too short",
			head:     []byte{0xFF},
			expected: FormatUnknown,
		},
		{
			name:     "empty",
			head:     nil,
			expected: FormatUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := DetectFormat(tt.head)
			if result != tt.expected {
				t.Errorf("DetectFormat() = %q, expected %q", result, tt.expected)
			}
		})
	}
}

func TestFormatExt(t *testing.T) {
	tests := []struct {
		format   Format
		expected string
	}{
		{FormatMP3, ".mp3"},
		{FormatAAC, ".aac"},
		{FormatOgg, ".ogg"},
		{FormatFLAC, ".flac"},
		{FormatWAV, ".wav"},
		{FormatM4A, ".m4a"},
		{FormatUnknown, ".bin"},
	}

	for _, tt := range tests {
		if got := tt.format.Ext(); got != tt.expected {
			t.Errorf("%s.Ext() = %q, expected %q", tt.format, got, tt.expected)
		}
	}
}

func TestProbeWAV(t *testing.T) {
	tests := []struct {
		name        string
		head        []byte
		expectError bool
		errorMsg    string
		validate    func(*WAVInfo) bool
	}{
		{
			name: "valid stereo header",
			head: wavHeader(44100, 2, 16),
			validate: func(info *WAVInfo) bool {
				return info.SampleRate == 44100 && info.Channels == 2 && info.BitsPerSample == 16
			},
		},
		{
			name: "valid mono header",
			head: wavHeader(8000, 1, 16),
			validate: func(info *WAVInfo) bool {
				return info.SampleRate == 8000 && info.Channels == 1
			},
		},
		{
			name:        "header too short",
			head:        wavHeader(44100, 2, 16)[:20],
			expectError: true,
			errorMsg:    "WAV header too short",
		},
		{
			name:        "missing riff marker",
			head:        corruptWAVHeader(0, "JUNK"),
			expectError: true,
			errorMsg:    "missing RIFF header",
		},
		{
			name:        "missing wave marker",
			head:        corruptWAVHeader(8, "JUNK"),
			expectError: true,
			errorMsg:    "missing WAVE format",
		},
		{
			name:        "missing fmt chunk",
			head:        corruptWAVHeader(12, "LIST"),
			expectError: true,
			errorMsg:    "missing fmt chunk",
		},
		{
			name:        "zero sample rate",
			head:        wavHeader(0, 2, 16),
			expectError: true,
			errorMsg:    "sample rate is 0",
		},
		{
			name:        "zero channels",
			head:        wavHeader(44100, 0, 16),
			expectError: true,
			errorMsg:    "channel count is 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ProbeWAV(tt.head)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("Expected no error but got: %v", err)
				} else if tt.validate != nil && !tt.validate(result) {
					t.Errorf("Validation failed for result: %+v", result)
				}
			}
		})
	}
}

// Helper functions for tests

// wavHeader builds a canonical 44-byte RIFF/WAVE header.
func wavHeader(sampleRate uint32, channels, bits uint16) []byte {
	h := make([]byte, 44)
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], 36)
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(h[22:24], channels)
	binary.LittleEndian.PutUint32(h[24:28], sampleRate)
	binary.LittleEndian.PutUint32(h[28:32], sampleRate*uint32(channels)*uint32(bits)/8)
	binary.LittleEndian.PutUint16(h[32:34], channels*bits/8)
	binary.LittleEndian.PutUint16(h[34:36], bits)
	copy(h[36:40], "data")
	return h
}

// corruptWAVHeader replaces bytes at the given offset of a valid header.
func corruptWAVHeader(offset int, marker string) []byte {
	h := wavHeader(44100, 2, 16)
	copy(h[offset:], marker)
	return h
}
