// Package internal holds helpers private to goSession.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - config: cleanenv/godotenv loading for the binaries
//   - logging: slog construction and context carriage
//   - storage: opens redis and sql token stores from StorageConfig
//
// # What this package must NOT do
//
//   - Export types that appear in the public goSession API other than through
//     root aliases.
package internal
