// Package progress buffers task milestone events and fans them out to sinks
// without blocking the orchestrator. Emit drops events under backpressure
// rather than stalling a crawl.
package progress
