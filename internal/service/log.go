package service

import (
	"context"
	"encoding/json"

	"entitlement-server/internal/model"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// OperationLog 把设备与订阅状态的变化写入 operation_logs 表。
type OperationLog struct {
	db    *gorm.DB
	clock quartz.Clock
	log   zerolog.Logger
}

// NewOperationLog 日志时间取自 clock，与设备、订阅记录使用同一时钟。
func NewOperationLog(db *gorm.DB, clock quartz.Clock, log zerolog.Logger) *OperationLog {
	return &OperationLog{
		db:    db,
		clock: clock,
		log:   log.With().Str("component", "oplog").Logger(),
	}
}

func (s *OperationLog) LogOperation(ctx context.Context, accountID uint, action, target, targetID string, details any) error {
	detailsJSON := []byte("null")
	if details != nil {
		var err error
		detailsJSON, err = json.Marshal(details)
		if err != nil {
			return err
		}
	}

	entry := &model.OperationLog{
		AccountID: accountID,
		Action:    action,
		Target:    target,
		TargetID:  targetID,
		Details:   string(detailsJSON),
		CreatedAt: s.clock.Now(),
	}
	return s.db.WithContext(ctx).Create(entry).Error
}

// Record 审计写入失败只记录错误日志。
func (s *OperationLog) Record(ctx context.Context, accountID uint, action, target, targetID string, details any) {
	if err := s.LogOperation(ctx, accountID, action, target, targetID, details); err != nil {
		s.log.Error().Err(err).
			Uint("account_id", accountID).
			Str("action", action).
			Str("target_id", targetID).
			Msg("写入操作日志失败")
	}
}

// 获取操作日志列表
func (s *OperationLog) GetOperationLogs(ctx context.Context, page, pageSize int) ([]model.OperationLog, int64, error) {
	return s.page(s.db.WithContext(ctx).Model(&model.OperationLog{}), page, pageSize)
}

// 获取账号的操作日志
func (s *OperationLog) GetAccountOperationLogs(ctx context.Context, accountID uint, page, pageSize int) ([]model.OperationLog, int64, error) {
	return s.page(s.db.WithContext(ctx).Model(&model.OperationLog{}).Where("account_id = ?", accountID), page, pageSize)
}

func (s *OperationLog) page(db *gorm.DB, page, pageSize int) ([]model.OperationLog, int64, error) {
	var logs []model.OperationLog
	var total int64

	// Session 让同一条件可以先 Count 再 Find
	db = db.Session(&gorm.Session{})
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	if err := db.Order("created_at DESC").Order("id DESC").Offset(offset).Limit(pageSize).Find(&logs).Error; err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}
