// Package audio provides the byte-level building blocks around a
// download: a progressive buffer with a prebuffer readiness threshold,
// magic-number format detection for common stream codecs, and a
// segmenter that splits a recording into per-track files on title
// changes.
package audio
