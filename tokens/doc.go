// Package tokens persists the access/refresh token pair.
//
// A [Store] is pure storage: it reads, writes, and clears one pair and applies no
// session policy. Every backend writes both tokens in a single operation so a
// partial pair is never observable, and treats a missing or malformed record as
// "no tokens" rather than as an error.
//
// # Backends
//
//   - [MemoryStore]: process memory.
//   - [FileStore]: JSON envelope on disk, replaced atomically via rename.
//   - [RedisStore]: JSON envelope under one Redis key.
//   - [SQLStore]: one GORM row per key, upserted in a single statement.
//
// # What this package must NOT do
//
//   - Decide whether a session is valid, refresh tokens, or log token values.
package tokens
