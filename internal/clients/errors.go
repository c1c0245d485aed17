package clients

import "errors"

var (
	ErrClientNotFound            = errors.New("client not found")
	ErrClientAlreadyRegistered   = errors.New("client already registered")
	ErrClientCredentials         = errors.New("invalid client credentials")
	ErrClientNameEmpty           = errors.New("client name cannot be empty")
	ErrInvalidDeliveryMode       = errors.New("invalid backchannel delivery mode")
	ErrNotificationEndpointEmpty = errors.New("backchannel notification endpoint cannot be empty")
)
