package audio

import (
	"encoding/binary"
	"fmt"
)

// Format identifies the container or codec of a byte stream.
type Format string

const (
	FormatUnknown Format = "unknown"
	FormatMP3     Format = "mp3"
	FormatAAC     Format = "aac"
	FormatOgg     Format = "ogg"
	FormatFLAC    Format = "flac"
	FormatWAV     Format = "wav"
	FormatM4A     Format = "m4a"
)

// ProbeSize is the number of leading bytes DetectFormat wants before a
// FormatUnknown answer should be treated as final.
const ProbeSize = 16

// Ext returns the file extension for the format, including the dot.
func (f Format) Ext() string {
	switch f {
	case FormatMP3:
		return ".mp3"
	case FormatAAC:
		return ".aac"
	case FormatOgg:
		return ".ogg"
	case FormatFLAC:
		return ".flac"
	case FormatWAV:
		return ".wav"
	case FormatM4A:
		return ".m4a"
	default:
		return ".bin"
	}
}

// DetectFormat sniffs the codec or container from the first bytes of a
// stream. With fewer than ProbeSize bytes a FormatUnknown answer may
// still flip once more data arrives.
func DetectFormat(head []byte) Format {
	if len(head) < 4 {
		return FormatUnknown
	}

	switch {
	case string(head[:4]) == "OggS":
		return FormatOgg
	case string(head[:4]) == "fLaC":
		return FormatFLAC
	case string(head[:3]) == "ID3":
		return FormatMP3
	}

	if len(head) >= 12 && string(head[:4]) == "RIFF" && string(head[8:12]) == "WAVE" {
		return FormatWAV
	}
	if len(head) >= 12 && string(head[4:8]) == "ftyp" {
		return FormatM4A
	}

	// ADTS and MPEG audio share the 0xFF sync prefix. ADTS fixes the
	// layer bits to zero, MPEG audio requires them non-zero.
	if head[0] == 0xFF {
		if head[1]&0xF6 == 0xF0 {
			return FormatAAC
		}
		if head[1]&0xE0 == 0xE0 && head[1]&0x06 != 0 {
			return FormatMP3
		}
	}

	return FormatUnknown
}

// WAVInfo describes the PCM layout read from a RIFF/WAVE header
type WAVInfo struct {
	SampleRate    uint32 `json:"sample_rate"`
	Channels      uint16 `json:"channels"`
	BitsPerSample uint16 `json:"bits_per_sample"`
}

// wavProbeSize covers the RIFF descriptor plus the canonical fmt chunk.
const wavProbeSize = 36

// ProbeWAV reads the PCM layout from the first bytes of a RIFF/WAVE
// stream. It expects the canonical layout with the fmt chunk first.
func ProbeWAV(head []byte) (*WAVInfo, error) {
	if len(head) < wavProbeSize {
		return nil, fmt.Errorf("WAV header too short: need at least %d bytes, got %d", wavProbeSize, len(head))
	}

	if string(head[0:4]) != "RIFF" {
		return nil, fmt.Errorf("invalid WAV stream: missing RIFF header")
	}

	if string(head[8:12]) != "WAVE" {
		return nil, fmt.Errorf("invalid WAV stream: missing WAVE format")
	}

	if string(head[12:16]) != "fmt " {
		return nil, fmt.Errorf("invalid WAV stream: missing fmt chunk")
	}

	info := &WAVInfo{
		Channels:      binary.LittleEndian.Uint16(head[22:24]),
		SampleRate:    binary.LittleEndian.Uint32(head[24:28]),
		BitsPerSample: binary.LittleEndian.Uint16(head[34:36]),
	}

	if info.SampleRate == 0 {
		return nil, fmt.Errorf("invalid WAV stream: sample rate is 0")
	}

	if info.Channels == 0 {
		return nil, fmt.Errorf("invalid WAV stream: channel count is 0")
	}

	return info, nil
}

// String returns a human-readable representation of the WAV layout
func (w *WAVInfo) String() string {
	return fmt.Sprintf("WAVInfo{SampleRate:%d, Channels:%d, BitsPerSample:%d}",
		w.SampleRate, w.Channels, w.BitsPerSample)
}
