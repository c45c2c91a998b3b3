package main

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const (
	serverPort    = ":9100"
	streamMetaint = 16000 // audio bytes between metadata blocks
	bitrateKbps   = 128   // paced delivery rate
	titleRotation = 15 * time.Second
)

var trackTitles = []string{
	"Aurora Skies - Night Drive",
	"The Wave Riders - Undertow",
	"Static Bloom - Paper Lanterns",
	"Low Orbit - Reentry",
}

// mp3Frame builds one fake MPEG-1 Layer III frame: a valid sync header
// followed by a silent payload.
func mp3Frame() []byte {
	frame := make([]byte, 417) // 128 kbps at 44.1 kHz
	frame[0] = 0xFF
	frame[1] = 0xFB // MPEG-1 Layer III, no CRC
	frame[2] = 0x90 // 128 kbps, 44.1 kHz
	frame[3] = 0x64
	return frame
}

// metadataBlock encodes a StreamTitle update padded to the 16 byte unit
func metadataBlock(title string) []byte {
	payload := fmt.Sprintf("StreamTitle='%s';", title)
	blocks := (len(payload) + 15) / 16
	out := make([]byte, 1+blocks*16)
	out[0] = byte(blocks)
	copy(out[1:], payload)
	return out
}

func streamHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	wantMeta := r.Header.Get("Icy-MetaData") == "1"

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("icy-name", "Test Stream Server")
	w.Header().Set("icy-genre", "Testing")
	w.Header().Set("icy-br", strconv.Itoa(bitrateKbps))
	w.Header().Set("icy-url", "http://localhost"+serverPort)
	if wantMeta {
		w.Header().Set("icy-metaint", strconv.Itoa(streamMetaint))
	}
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)

	log.Printf("🎧 LISTENER CONNECTED: %s (metadata=%v)", r.RemoteAddr, wantMeta)

	// Pace delivery at the advertised bitrate
	limiter := rate.NewLimiter(rate.Limit(bitrateKbps*1024/8), 4096)

	audio := mp3Frame()
	pos := 0
	sinceMeta := 0
	var sent int64

	titleIndex := 0
	pendingTitle := trackTitles[titleIndex]
	lastRotation := time.Now()

	for {
		chunk := audio[pos:]
		if wantMeta {
			if remaining := streamMetaint - sinceMeta; len(chunk) > remaining {
				chunk = chunk[:remaining]
			}
		}

		if err := limiter.WaitN(r.Context(), len(chunk)); err != nil {
			return
		}
		if _, err := w.Write(chunk); err != nil {
			log.Printf("👋 LISTENER DISCONNECTED: %s (%d bytes sent)", r.RemoteAddr, sent)
			return
		}
		sent += int64(len(chunk))
		pos += len(chunk)
		if pos == len(audio) {
			pos = 0
		}

		if wantMeta {
			sinceMeta += len(chunk)
			if sinceMeta == streamMetaint {
				// Zero length block unless a title change is due
				block := []byte{0}
				switch {
				case pendingTitle != "":
					block = metadataBlock(pendingTitle)
					pendingTitle = ""
				case time.Since(lastRotation) >= titleRotation:
					titleIndex = (titleIndex + 1) % len(trackTitles)
					block = metadataBlock(trackTitles[titleIndex])
					lastRotation = time.Now()
					log.Printf("🎵 TITLE ROTATED: '%s'", trackTitles[titleIndex])
				}

				if _, err := w.Write(block); err != nil {
					log.Printf("👋 LISTENER DISCONNECTED: %s (%d bytes sent)", r.RemoteAddr, sent)
					return
				}
				sinceMeta = 0
			}
		}

		if flusher != nil {
			flusher.Flush()
		}
	}
}

func main() {
	http.HandleFunc("/stream", streamHandler)

	log.Printf("🚀 Test Stream Server starting on port %s", serverPort)
	log.Printf("📡 Endpoint: http://localhost%s/stream", serverPort)
	log.Println("💡 Start a download with: ./fetcher -url http://localhost:9100/stream")

	if err := http.ListenAndServe(serverPort, nil); err != nil {
		log.Fatal("Server failed to start:", err)
	}
}
