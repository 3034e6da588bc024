package model

import "time"

// OperationLog 记录设备与订阅状态的每一次变化，作为审计轨迹。
type OperationLog struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	AccountID uint      `json:"account_id" gorm:"index"`
	Action    string    `json:"action"`
	Target    string    `json:"target"`
	TargetID  string    `json:"target_id"`
	Details   string    `json:"details"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
}

const (
	ActionDeviceRegistered  = "device.registered"
	ActionDeviceReactivated = "device.reactivated"
	ActionDeviceKickedOut   = "device.kicked_out"
	ActionDeviceRemoved     = "device.removed"
	ActionEntitlementGrant  = "entitlement.provisioned"
	ActionEntitlementExpire = "entitlement.expired"
)
