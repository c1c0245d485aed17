package model

import (
	"slices"
	"strings"
	"time"

	"gorm.io/gorm"
)

type DeliveryMode string

const (
	DeliveryModePush DeliveryMode = "push"
	DeliveryModePing DeliveryMode = "ping"
	DeliveryModePoll DeliveryMode = "poll"
)

func (m DeliveryMode) IsValid() bool {
	switch m {
	case DeliveryModePush, DeliveryModePing, DeliveryModePoll:
		return true
	}
	return false
}

// Client is a registered OAuth client. Scopes and GrantTypes are space
// delimited.
type Client struct {
	ID                              uint         `gorm:"primarykey;autoIncrement"`
	ClientID                        string       `gorm:"size:64;not null;uniqueIndex"`
	Name                            string       `gorm:"size:128;not null"`
	ClientSecret                    string       `gorm:"size:128;not null"`
	Public                          bool         `gorm:"not null;default:false"`
	Scopes                          string       `gorm:"size:1024;not null"`
	GrantTypes                      string       `gorm:"size:512;not null"`
	BackchannelDeliveryMode         DeliveryMode `gorm:"size:8"`
	BackchannelNotificationEndpoint string       `gorm:"size:1024"`
	CreatedAt                       time.Time
	UpdatedAt                       time.Time
	DeletedAt                       gorm.DeletedAt `gorm:"index"`
}

func (c *Client) HasScope(scope string) bool {
	return slices.Contains(strings.Fields(c.Scopes), scope)
}

func (c *Client) HasGrantType(grantType string) bool {
	return slices.Contains(strings.Fields(c.GrantTypes), grantType)
}
