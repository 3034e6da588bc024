package model

import "time"

// Tier 套餐等级，顺序为 free < basic < premium < enterprise。
type Tier string

const (
	TierFree       Tier = "free"
	TierBasic      Tier = "basic"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

// Entitlement 每个账号一条演进中的订阅记录，历史记录保留。
// 同一账号任一时刻最多一条 Active = true。
type Entitlement struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	AccountID   uint      `json:"account_id" gorm:"not null;index:idx_entitlement_account_active,priority:1"`
	Tier        Tier      `json:"plan" gorm:"not null;size:20;default:'free'"`
	DeviceQuota int       `json:"max_devices" gorm:"not null;default:3"`
	ValidFrom   time.Time `json:"start_date"`
	ValidUntil  time.Time `json:"end_date" gorm:"index"`
	Active      bool      `json:"is_active" gorm:"not null;index:idx_entitlement_account_active,priority:2"`
	AutoRenew   bool      `json:"auto_renew"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
