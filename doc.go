// Package goSession is a client-side session coordinator for a token based
// auth service: it logs in, keeps the access/refresh token pair, attaches the
// access token to outgoing requests, and renews it transparently when the
// resource server answers 401.
//
// The Coordinator built by [Builder.Build] is safe to call from multiple
// goroutines. All authenticated traffic should go through
// [Coordinator.HTTPClient] so that concurrent 401s collapse into a single
// refresh and queued requests are replayed in arrival order.
//
// # Architecture boundaries
//
// goSession is the public surface. It exposes [Coordinator], [Builder],
// [Config] and value types. The state machine lives in session/, the 401
// recovery in pipeline/, the wire client in authapi/, token persistence in
// tokens/ and navigation rules in guard/. Audit dispatch lives under
// internal/.
//
// # What this package must NOT do
//
//   - Verify token signatures. Claims are read for routing hints only; the
//     resource server is the authority.
//   - Hold a lock across a network call.
//   - Import any sub-package that re-imports goSession (no import cycles).
package goSession
