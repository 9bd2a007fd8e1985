// Package jwt reads claims out of access tokens on the client side.
//
// # Trust model
//
// Nothing in this package verifies a signature. [Inspect] decodes the payload of an
// access token so the client can pick a landing page or schedule a refresh before
// expiry. The decoded role is a UI hint only: the server must re-check the role on
// every request, and no goSession component grants access to data based on it.
// Navigation redirects are the only decisions allowed to consume it.
//
// [Signer] issues HS256 tokens for fake auth services in tests and load tools.
package jwt
