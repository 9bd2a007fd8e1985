// Package session holds the client's authentication state machine and the
// transactions that move it: login, register, logout, refresh, and reconcile.
//
// # State machine
//
//	Anonymous --login ok--> Authenticated
//	Authenticated --refresh start--> Refreshing --refresh ok--> Authenticated
//	Refreshing --refresh failed--> Anonymous
//	Authenticated|Refreshing --logout | expire--> Anonymous
//
// [State.Error] is a transient annotation carrying the last failure message; it
// is cleared by [Session.ClearError] or by the next successful transaction.
//
// # Architecture boundaries
//
// A [Session] talks to the auth service through [Remote] and persists tokens
// through tokens.Store. Its mutex is never held across a [Remote] call, so a
// transaction can trigger a refresh that re-enters the session without
// deadlocking. Every teardown bumps a generation counter; results of remote calls
// issued under an older generation are discarded instead of resurrecting a
// session the user already left.
//
// # What this package must NOT do
//
//   - Coordinate concurrent refreshes (the pipeline package owns single-flight).
//   - Make navigation decisions.
//   - Trust the role embedded in a token for anything beyond UI hints.
package session
