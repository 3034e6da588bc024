package model

import "time"

const (
	LoginSucceeded = "success"
	LoginFailed    = "failed"
)

// LoginLog 每次登录尝试一行，账户不存在时 AccountID 为 0。
type LoginLog struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	AccountID uint      `json:"account_id" gorm:"index"`
	Username  string    `json:"username" gorm:"size:64"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"user_agent"`
	Status    string    `json:"status" gorm:"size:16"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
}
