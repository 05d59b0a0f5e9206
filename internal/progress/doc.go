// Package progress carries run progress events from the pipeline to pluggable
// sinks. Emitters never block: events are buffered and delivered to sinks on a
// background goroutine.
package progress
