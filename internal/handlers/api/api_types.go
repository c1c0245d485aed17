package api

// OAuth error codes returned by the token lifecycle endpoints.
const (
	ErrorInvalidRequest     = "invalid_request"
	ErrorInvalidClient      = "invalid_client"
	ErrorUnauthorizedClient = "unauthorized_client"
	ErrorInvalidScope       = "invalid_scope"
	ErrorServerError        = "server_error"
)

type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

type BackchannelAuthResponse struct {
	AuthReqID string `json:"auth_req_id"`
	ExpiresIn int    `json:"expires_in"`
	Interval  int    `json:"interval,omitempty"`
}

func NewErrorResponse(code, description string) ErrorResponse {
	return ErrorResponse{
		Error:            code,
		ErrorDescription: description,
	}
}
