package service

import "errors"

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrForbidden         = errors.New("forbidden")
	ErrTokenMissing      = errors.New("provider access token missing")
	ErrCreationFailed    = errors.New("failed to create post")
	ErrInvalidSession    = errors.New("invalid session")
	ErrAuthProvider      = errors.New("auth provider error")
	ErrPostNotFound      = errors.New("post not found")
	ErrRemoteUnavailable = errors.New("remote store unavailable")
	ErrMisconfigured     = errors.New("config invalid")
)
