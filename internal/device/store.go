package device

import (
	"context"
	"errors"
	"strings"
	"time"

	"entitlement-server/internal/apperror"
	"entitlement-server/internal/model"

	"gorm.io/gorm"
)

var ErrDuplicate = errors.New("设备记录已存在")

type Store interface {
	Find(ctx context.Context, accountID uint, deviceID string) (*model.DeviceSession, error)
	// List 按 LastActiveAt 倒序返回账号的全部设备。
	List(ctx context.Context, accountID uint) ([]model.DeviceSession, error)
	ListActive(ctx context.Context, accountID uint) ([]model.DeviceSession, error)
	CountActiveExcept(ctx context.Context, accountID uint, deviceID string) (int64, error)
	// Insert 遇到 (AccountID, DeviceID) 冲突时返回 ErrDuplicate。
	Insert(ctx context.Context, s *model.DeviceSession) error
	// KickOthers 单条条件更新：把账号下除 deviceID 以外所有 active 的会话置为 cooled_down。
	KickOthers(ctx context.Context, accountID uint, deviceID string, now time.Time) (int64, error)
	// Reactivate 把已有记录置为 active 并清除 KickedOutAt，记录不存在时返回 false。
	Reactivate(ctx context.Context, accountID uint, deviceID string, now time.Time, name string, info model.DeviceInfo) (bool, error)
	// Touch 仅当会话为 active 时刷新 LastActiveAt。
	Touch(ctx context.Context, accountID uint, deviceID string, now time.Time) (bool, error)
	// Deactivate 置为 inactive，不修改 KickedOutAt。
	Deactivate(ctx context.Context, accountID uint, deviceID string) (bool, error)
}

type GormStore struct {
	db      *gorm.DB
	timeout time.Duration
}

func NewGormStore(db *gorm.DB, timeout time.Duration) *GormStore {
	return &GormStore{db: db, timeout: timeout}
}

func (s *GormStore) ctx(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	return s.db.WithContext(ctx), cancel
}

func (s *GormStore) Find(ctx context.Context, accountID uint, deviceID string) (*model.DeviceSession, error) {
	db, cancel := s.ctx(ctx)
	defer cancel()

	var session model.DeviceSession
	err := db.Where("account_id = ? AND device_id = ?", accountID, deviceID).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.NotFound("device")
	}
	if err != nil {
		return nil, apperror.Store("device.find", err)
	}
	return &session, nil
}

func (s *GormStore) List(ctx context.Context, accountID uint) ([]model.DeviceSession, error) {
	db, cancel := s.ctx(ctx)
	defer cancel()

	var sessions []model.DeviceSession
	err := db.Where("account_id = ?", accountID).
		Order("last_active_at DESC").
		Order("id DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, apperror.Store("device.list", err)
	}
	return sessions, nil
}

func (s *GormStore) ListActive(ctx context.Context, accountID uint) ([]model.DeviceSession, error) {
	db, cancel := s.ctx(ctx)
	defer cancel()

	var sessions []model.DeviceSession
	err := db.Where("account_id = ? AND status = ?", accountID, model.SessionActive).Find(&sessions).Error
	if err != nil {
		return nil, apperror.Store("device.list_active", err)
	}
	return sessions, nil
}

func (s *GormStore) CountActiveExcept(ctx context.Context, accountID uint, deviceID string) (int64, error) {
	db, cancel := s.ctx(ctx)
	defer cancel()

	var count int64
	err := db.Model(&model.DeviceSession{}).
		Where("account_id = ? AND status = ? AND device_id <> ?", accountID, model.SessionActive, deviceID).
		Count(&count).Error
	if err != nil {
		return 0, apperror.Store("device.count_active", err)
	}
	return count, nil
}

func (s *GormStore) Insert(ctx context.Context, session *model.DeviceSession) error {
	db, cancel := s.ctx(ctx)
	defer cancel()

	err := db.Create(session).Error
	if isDuplicate(err) {
		return ErrDuplicate
	}
	return apperror.Store("device.insert", err)
}

func (s *GormStore) KickOthers(ctx context.Context, accountID uint, deviceID string, now time.Time) (int64, error) {
	db, cancel := s.ctx(ctx)
	defer cancel()

	result := db.Model(&model.DeviceSession{}).
		Where("account_id = ? AND status = ? AND device_id <> ?", accountID, model.SessionActive, deviceID).
		Updates(map[string]any{
			"status":        model.SessionCooledDown,
			"kicked_out_at": now,
		})
	if result.Error != nil {
		return 0, apperror.Store("device.kick_others", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *GormStore) Reactivate(ctx context.Context, accountID uint, deviceID string, now time.Time, name string, info model.DeviceInfo) (bool, error) {
	db, cancel := s.ctx(ctx)
	defer cancel()

	updates := map[string]any{
		"status":         model.SessionActive,
		"last_active_at": now,
		"kicked_out_at":  nil,
	}
	if name != "" {
		updates["device_name"] = name
	}
	if info != (model.DeviceInfo{}) {
		updates["info_browser"] = info.Browser
		updates["info_os"] = info.OS
		updates["info_user_agent"] = info.UserAgent
	}

	result := db.Model(&model.DeviceSession{}).
		Where("account_id = ? AND device_id = ?", accountID, deviceID).
		Updates(updates)
	if result.Error != nil {
		return false, apperror.Store("device.reactivate", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *GormStore) Touch(ctx context.Context, accountID uint, deviceID string, now time.Time) (bool, error) {
	db, cancel := s.ctx(ctx)
	defer cancel()

	result := db.Model(&model.DeviceSession{}).
		Where("account_id = ? AND device_id = ? AND status = ?", accountID, deviceID, model.SessionActive).
		Update("last_active_at", now)
	if result.Error != nil {
		return false, apperror.Store("device.touch", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *GormStore) Deactivate(ctx context.Context, accountID uint, deviceID string) (bool, error) {
	db, cancel := s.ctx(ctx)
	defer cancel()

	result := db.Model(&model.DeviceSession{}).
		Where("account_id = ? AND device_id = ?", accountID, deviceID).
		Update("status", model.SessionInactive)
	if result.Error != nil {
		return false, apperror.Store("device.deactivate", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// 驱动未翻译错误时的兜底
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key")
}
