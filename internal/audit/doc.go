// Package audit implements async dispatching of session lifecycle events.
//
// # Components
//
//   - [Sink]: event consumer (channel, JSON lines, slog, no-op).
//   - [Dispatcher]: buffered relay with drop-if-full or block-if-full semantics.
//   - [Event]: id, timestamp, type, user, outcome and metadata.
//
// # Architecture boundaries
//
// This package owns buffering and sink delivery. Which events are emitted is
// decided by the Coordinator.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on session logic.
//   - Import goSession or any sibling package.
//   - Carry tokens in events.
package audit
