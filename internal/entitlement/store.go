package entitlement

import (
	"context"
	"errors"
	"time"

	"entitlement-server/internal/apperror"
	"entitlement-server/internal/model"

	"gorm.io/gorm"
)

type Store interface {
	// FindCurrent 返回 Active 的记录；没有时返回 ValidUntil 最晚的历史记录。
	FindCurrent(ctx context.Context, accountID uint) (*model.Entitlement, error)
	// DeactivateIfActive 仅当记录仍为 Active 时置为 inactive，返回是否真的修改了。
	DeactivateIfActive(ctx context.Context, id uint) (bool, error)
	// Replace 在同一事务中停用账号现有的 Active 记录并插入 e。
	Replace(ctx context.Context, e *model.Entitlement) error
}

type GormStore struct {
	db      *gorm.DB
	timeout time.Duration
}

func NewGormStore(db *gorm.DB, timeout time.Duration) *GormStore {
	return &GormStore{db: db, timeout: timeout}
}

func (s *GormStore) FindCurrent(ctx context.Context, accountID uint) (*model.Entitlement, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var e model.Entitlement
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND active = ?", accountID, true).
		Order("valid_until DESC").
		First(&e).Error
	if err == nil {
		return &e, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.Store("entitlement.find_active", err)
	}

	err = s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("valid_until DESC").
		First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.NotFound("entitlement")
	}
	if err != nil {
		return nil, apperror.Store("entitlement.find_latest", err)
	}
	return &e, nil
}

func (s *GormStore) DeactivateIfActive(ctx context.Context, id uint) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result := s.db.WithContext(ctx).
		Model(&model.Entitlement{}).
		Where("id = ? AND active = ?", id, true).
		Update("active", false)
	if result.Error != nil {
		return false, apperror.Store("entitlement.deactivate", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *GormStore) Replace(ctx context.Context, e *model.Entitlement) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Entitlement{}).
			Where("account_id = ? AND active = ?", e.AccountID, true).
			Update("active", false).Error; err != nil {
			return err
		}
		return tx.Create(e).Error
	})
	return apperror.Store("entitlement.replace", err)
}
