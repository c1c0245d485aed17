package ciba

import (
	"time"

	"github.com/khanghh/koidc/model"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusInProcess Status = "IN_PROCESS"
	StatusExpired   Status = "EXPIRED"
	StatusAccepted  Status = "ACCEPTED" // cache only
	StatusDenied    Status = "DENIED"   // cache only
)

// CacheControl is the cache-resident mirror of a CIBA request. It carries the
// resolved client delivery settings so expiry handling does not need to look
// the client up again. Times are unix seconds.
type CacheControl struct {
	AuthReqID            string `json:"authReqId"            redis:"auth_req_id"`
	ClientID             string `json:"clientId"             redis:"client_id"`
	UserID               string `json:"userId"               redis:"user_id"`
	Scope                string `json:"scope"                redis:"scope"`
	Status               string `json:"status"               redis:"status"`
	DeliveryMode         string `json:"deliveryMode"         redis:"delivery_mode"`
	NotificationEndpoint string `json:"notificationEndpoint" redis:"notification_endpoint"`
	NotificationToken    string `json:"notificationToken"    redis:"notification_token"`
	ExpiresIn            int64  `json:"expiresIn"            redis:"expires_in"`
	CreatedAt            int64  `json:"createdAt"            redis:"created_at"`
	ExpiresAt            int64  `json:"expiresAt"            redis:"expires_at"`
}

func NewCacheControl(client *model.Client, userID, scope, notificationToken string) *CacheControl {
	return &CacheControl{
		ClientID:             client.ClientID,
		UserID:               userID,
		Scope:                scope,
		DeliveryMode:         string(client.BackchannelDeliveryMode),
		NotificationEndpoint: client.BackchannelNotificationEndpoint,
		NotificationToken:    notificationToken,
	}
}

func (c *CacheControl) CacheStatus() Status {
	return Status(c.Status)
}

func (c *CacheControl) Mode() model.DeliveryMode {
	return model.DeliveryMode(c.DeliveryMode)
}

func (c *CacheControl) CreationDate() time.Time {
	return time.Unix(c.CreatedAt, 0)
}

func (c *CacheControl) ExpirationDate() time.Time {
	return time.Unix(c.ExpiresAt, 0)
}
