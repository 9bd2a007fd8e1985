// Package pipeline wraps outgoing HTTP calls with session-aware token
// handling.
//
// Every call is dispatched with the access token read from the token store at
// send time. A 401 answer triggers the refresh algorithm:
//
//   - a request that was already replayed once fails with Unauthorized;
//   - with no refresh token the session is expired and the call fails with
//     SessionExpired;
//   - when a refresh is already in flight the call joins a FIFO queue;
//   - otherwise the call takes the refresh lock, refreshes, replays every
//     queued call in arrival order and finally replays itself.
//
// At most one refresh is outstanding per Pipeline. The refresh runs on a
// context detached from the caller so a caller that gives up never aborts a
// refresh other callers wait on.
//
// # What this package must NOT do
//
//   - hold its mutex across network I/O
//   - retry transport errors or timeouts
//   - mutate the caller's request
package pipeline
