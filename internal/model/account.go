package model

import (
	"time"
)

// Account 由凭证子系统创建和维护，授权核心只把它的 ID 当作不可变的键使用。
type Account struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Username  string    `json:"username" gorm:"unique;not null"`
	Password  string    `json:"-" gorm:"not null"`
	Email     string    `json:"email" gorm:"unique;not null"`
	Role      string    `json:"role" gorm:"default:'user'"`
	Active    bool      `json:"active" gorm:"not null"`
	Company   string    `json:"company"`
	CreatedAt time.Time `json:"createdat"`
	UpdatedAt time.Time `json:"updatedat"`
	LastLogin time.Time `json:"lastlogin"`
}

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

func (a *Account) IsAdmin() bool {
	return a.Role == RoleAdmin
}
