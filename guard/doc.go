// Package guard decides whether a navigation may proceed.
//
// Decide is pure and total: it maps a route Requirement and a View of the
// session onto Allow or a redirect, in a fixed precedence order (guest-only,
// then auth-required, then role-required). The caller performs the redirect.
//
// Roles read here come from an unverified token claim or the cached user.
// They steer the UI only and are never an authorization boundary.
package guard
