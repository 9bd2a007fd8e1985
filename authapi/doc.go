// Package authapi is the HTTP client for the remote authentication service.
//
// It implements session.Remote over the /api/auth/* endpoints and maps every
// failure onto an autherr kind. Login, register, refresh and logout go through
// a plain client. "Me" goes through the authorized client when one is set, so
// a stale access token is refreshed transparently by the pipeline.
package authapi
