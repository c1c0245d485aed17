package ciba

import "errors"

var (
	ErrRequestNotFound  = errors.New("ciba request not found")
	ErrRequestExists    = errors.New("ciba request already exists")
	ErrInvalidExpiresIn = errors.New("expires_in must be positive")
)
