package model

import "time"

type CibaRequest struct {
	AuthReqID      string    `gorm:"primarykey;size:64"`
	ClientID       string    `gorm:"size:64;not null;index"`
	UserID         string    `gorm:"size:64;not null"`
	Scope          string    `gorm:"size:1024"`
	Status         string    `gorm:"size:16;not null;index:idx_ciba_status_expiration"`
	CreationDate   time.Time `gorm:"not null"`
	ExpirationDate time.Time `gorm:"not null;index:idx_ciba_status_expiration"`
}
