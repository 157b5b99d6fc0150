// Package client is a small HTTP client for the beacon-gateway API.
//
// It speaks the same routes the http transport serves:
//
//	POST /user     Basic admin credentials, provisions an agent credential
//	POST /session  Basic agent credentials, returns a bearer token
//	POST /metrics  Bearer token, submits one payload
//	GET  /health
//
// Bodies are JSON by default; WithCodec(codec.CBOR) switches both the
// request encoding and the Accept header. Non-2xx responses come back as
// *StatusError, and errors.Is maps 401, 409 and an expired token onto
// ErrUnauthorized, ErrConflict and ErrTokenExpired.
package client
