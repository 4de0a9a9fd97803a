package auth

import "errors"

var (
	ErrNotFound     = errors.New("auth: not found")
	ErrConflict     = errors.New("auth: already exists")
	ErrInvalidInput = errors.New("auth: invalid input")
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrInvalidKey   = errors.New("auth: invalid api key")
	ErrUnknownRole  = errors.New("auth: role not in allow-list")
)
