package grants

import "errors"

var (
	ErrGrantNotFound = errors.New("grant not found")
	ErrTokenNotFound = errors.New("token not found")
	ErrTokenEmpty    = errors.New("token value cannot be empty")
	ErrClientEmpty   = errors.New("token client cannot be empty")
)
