package opsauth

import "errors"

// Sentinel errors returned by Manager. Callers should use errors.Is.
var (
	// ErrTokenExpired is returned when a bearer token has expired.
	ErrTokenExpired = errors.New("opsauth: token expired")

	// ErrTokenInvalid is returned when a token cannot be parsed or verified.
	ErrTokenInvalid = errors.New("opsauth: token invalid")

	// ErrInvalidCredentials is returned when the presented operator
	// credential does not match the configured one.
	ErrInvalidCredentials = errors.New("opsauth: invalid credentials")
)
