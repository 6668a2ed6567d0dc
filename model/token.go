package model

import "time"

// RevokedToken records a logged-out access token by its token id
// claim. Rows are purged once the token would have expired anyway.
type RevokedToken struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	TokenID   string    `gorm:"type:varchar(36);not null;uniqueIndex" json:"token_id"`
	ExpiresAt time.Time `gorm:"not null;index" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}
