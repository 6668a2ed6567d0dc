package model

import (
	"time"
)

// User is the local record of an account. Email is the sole
// correlation key with the external identity provider; Password is
// empty for users provisioned by identity events and set once they
// register locally.
type User struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Email     string    `gorm:"type:varchar(255);not null;unique" json:"email"`
	Name      string    `gorm:"type:varchar(255)" json:"name"`
	Avatar    string    `gorm:"type:text" json:"avatar"`
	Password  string    `gorm:"type:varchar(255)" json:"-"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
