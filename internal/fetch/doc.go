// Package fetch drives progressive audio downloads end to end.
//
// A Downloader sits on top of the download coordinator and owns one Job
// per active stream. Each job consumes its handle's event stream on a
// dedicated goroutine: interleaved ICY metadata is separated out, the
// leading bytes are sniffed for the audio format, body bytes accumulate
// in a prebuffer, and once both the format is known and the prebuffer
// is full the audio drains into an optional per-track recording.
//
// Track title changes rotate the recording to a new segment file, with
// pending audio flushed first so segment boundaries line up with title
// boundaries.
package fetch
