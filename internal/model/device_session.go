package model

import "time"

type SessionStatus string

const (
	SessionActive     SessionStatus = "active"
	SessionInactive   SessionStatus = "inactive"
	SessionCooledDown SessionStatus = "cooled_down"
)

// DeviceInfo 客户端上报的设备信息。
type DeviceInfo struct {
	Browser   string `json:"browser"`
	OS        string `json:"os"`
	UserAgent string `json:"userAgent"`
}

// DeviceSession (AccountID, DeviceID) 唯一。同一账号最多一条 Status = active。
type DeviceSession struct {
	ID           uint          `json:"id" gorm:"primaryKey"`
	AccountID    uint          `json:"account_id" gorm:"not null;uniqueIndex:idx_session_account_device,priority:1;index:idx_session_account_status,priority:1"`
	DeviceID     string        `json:"device_id" gorm:"not null;size:191;uniqueIndex:idx_session_account_device,priority:2"`
	DeviceName   string        `json:"device_name"`
	Info         DeviceInfo    `json:"device_info" gorm:"embedded;embeddedPrefix:info_"`
	Status       SessionStatus `json:"status" gorm:"not null;size:20;index:idx_session_account_status,priority:2"`
	LastActiveAt time.Time     `json:"last_active_at"`
	KickedOutAt  *time.Time    `json:"kicked_out_at"`
	RegisteredAt time.Time     `json:"registered_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

func (s *DeviceSession) IsActive() bool {
	return s.Status == SessionActive
}
