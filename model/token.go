package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type TokenType string

const (
	TokenTypeAccessToken       TokenType = "access_token"
	TokenTypeRefreshToken      TokenType = "refresh_token"
	TokenTypeAuthorizationCode TokenType = "authorization_code"
	TokenTypeTxToken           TokenType = "tx_token"
	TokenTypeIDToken           TokenType = "id_token"
)

// Token is an issued bearer credential. Code holds the SHA-256 fingerprint of
// the bearer value, never the value itself.
type Token struct {
	ID             uint              `gorm:"primarykey"`
	Code           string            `gorm:"size:64;not null;uniqueIndex"`
	Type           TokenType         `gorm:"size:32;not null;index"`
	GrantID        string            `gorm:"size:64;not null;index"`
	ClientID       string            `gorm:"size:64;not null;index"`
	UserID         string            `gorm:"size:64;index"`
	UserDN         string            `gorm:"size:256"`
	Scope          string            `gorm:"size:1024"`
	CreationDate   time.Time         `gorm:"not null"`
	ExpirationDate time.Time         `gorm:"not null;index"`
	TTL            int64             `gorm:"not null;default:0"` // seconds
	Deletable      bool              `gorm:"not null"` // expired deletable tokens are removed by the housekeeper
	Attributes     datatypes.JSONMap `gorm:"type:json"`
}

func (t *Token) BeforeCreate(tx *gorm.DB) error {
	if t.ID == 0 {
		t.ID = GenerateID()
	}
	return nil
}
