// Package middleware exposes HTTP middleware adapters that run the
// navigation guard in front of page handlers.
//
// # Adapters
//
//   - [Navigation] looks the request path up in the coordinator's route table.
//   - [Require] enforces a fixed [guard.Requirement], for routers that attach
//     metadata per route.
//   - [EchoNavigation] and [EchoRequire] are the same for echo.
//
// Each adapter stamps a request id on the context and the response, asks the
// Navigator for a decision, and either calls the next handler or answers with
// a 302 to the decided path.
//
// # What this package must NOT do
//
//   - Decide access itself (delegates to Navigator).
//   - Touch tokens or the auth service directly.
package middleware
