// Package transport implements the asynchronous HTTP engine for streaming
// downloads. A Session owns a tuned HTTP client and a single delivery
// goroutine that serializes delegate callbacks; tasks are created suspended,
// started with Resume, and canceled individually or all at once through
// session invalidation.
package transport
