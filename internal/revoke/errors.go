package revoke

import "errors"

const (
	CodeInvalidRequest = "invalid_request"
)

var ErrInvalidRequest = errors.New(CodeInvalidRequest)

// RequestError is a client error reported back with an OAuth error code.
type RequestError struct {
	Code        string
	Description string
}

func (e *RequestError) Error() string {
	return e.Code + ": " + e.Description
}

func (e *RequestError) Is(target error) bool {
	if t, ok := target.(*RequestError); ok {
		return t.Code == e.Code
	}
	return target == ErrInvalidRequest && e.Code == CodeInvalidRequest
}

func invalidRequest(description string) *RequestError {
	return &RequestError{Code: CodeInvalidRequest, Description: description}
}
