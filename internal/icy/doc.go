// Package icy implements SHOUTcast-style metadata framing for HTTP
// audio streams.
//
// A client opts in by sending the Icy-MetaData request header. The
// server then announces a metadata interval in the icy-metaint response
// header and interleaves metadata into the body: after every interval
// of audio bytes comes one length byte followed by length*16 bytes of
// metadata padded with zeros. Splitter separates the two layers,
// ParseTitle decodes track titles from metadata blocks, and
// ParseStation collects the station description headers.
package icy
