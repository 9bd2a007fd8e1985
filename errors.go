package goSession

import "github.com/MrEthical07/goSession/autherr"

var (
	// ErrInvalidCredentials is returned by Login when the service rejects the credentials.
	ErrInvalidCredentials = autherr.ErrInvalidCredentials
	// ErrValidation is returned when the service rejects a request body; see [autherr.Error.Fields].
	ErrValidation = autherr.ErrValidation
	// ErrNetwork is returned when the service could not be reached.
	ErrNetwork = autherr.ErrNetwork
	// ErrUnauthorized is returned when a request is still rejected after a refresh.
	ErrUnauthorized = autherr.ErrUnauthorized
	// ErrRefreshFailed is returned when the service refuses to renew the access token.
	ErrRefreshFailed = autherr.ErrRefreshFailed
	// ErrSessionExpired is returned to every request waiting on a failed refresh.
	ErrSessionExpired = autherr.ErrSessionExpired
	// ErrServer is returned for 5xx replies and malformed responses.
	ErrServer = autherr.ErrServer
)

// Error is the typed failure carried by every goSession error.
type Error = autherr.Error

// ErrorKind classifies an [Error].
type ErrorKind = autherr.Kind
