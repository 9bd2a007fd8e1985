// Package autherr defines the failure taxonomy shared by every goSession component.
//
// # Kinds
//
//   - [InvalidCredentials]: login rejected by the auth service.
//   - [ValidationError]: registration/login input rejected, with per-field messages.
//   - [NetworkError]: no response (connectivity, timeout).
//   - [Unauthorized]: a non-auth call was rejected after its single retry.
//   - [RefreshFailed]: the refresh token was rejected or expired.
//   - [SessionExpired]: the session was torn down after a failed or impossible refresh.
//   - [ServerError]: the auth service answered with a 5xx or an unreadable envelope.
//
// # What this package must NOT do
//
//   - Import any other goSession package (it is the leaf every package depends on).
//   - Perform I/O or logging.
package autherr
