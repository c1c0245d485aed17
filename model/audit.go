package model

import "time"

type AuditEvent struct {
	ID            uint64    `gorm:"primaryKey;autoIncrement"`
	EventType     string    `gorm:"size:64;not null;index"` // token_revoked, ciba_registered...
	ClientID      string    `gorm:"size:64;index"`          // resolved client id, empty when unknown
	UserID        string    `gorm:"size:64;index"`          // (optional)
	AuthReqID     string    `gorm:"size:64"`                // only for ciba events
	TokenTypeHint string    `gorm:"size:32"`                // only for revocation events
	Success       bool      `gorm:"not null"`
	Count         int64     `gorm:"not null;default:0"` // number of affected tokens
	Reason        string    `gorm:"size:512"`           // failure reason or context
	IP            string    `gorm:"size:45"`            // IPv4/IPv6
	UserAgent     string    `gorm:"size:512"`           // user agent string
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}

func (AuditEvent) TableName() string {
	return "audit"
}
