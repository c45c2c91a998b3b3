// Package download coordinates the lifecycle of concurrent streaming
// downloads. The Coordinator creates stream handles, binds each to a
// transport task on a single coordination goroutine, keeps a bidirectional
// registry for resolving transport callbacks back to their stream, and
// guarantees orderly cancellation individually, in bulk, and at teardown.
package download
