package entitlement

import (
	"context"
	"strconv"
	"time"

	"entitlement-server/internal/apperror"
	"entitlement-server/internal/metrics"
	"entitlement-server/internal/model"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
)

// Auditor 记录订阅状态变化，写入失败不影响主流程。
type Auditor interface {
	Record(ctx context.Context, accountID uint, action, target, targetID string, details any)
}

// Validator 判断账号当前订阅是否有效，并负责订阅的惰性过期和套餐变更。
type Validator struct {
	store   Store
	clock   quartz.Clock
	log     zerolog.Logger
	metrics *metrics.Metrics
	audit   Auditor
}

func NewValidator(store Store, clock quartz.Clock, log zerolog.Logger, m *metrics.Metrics) *Validator {
	return &Validator{
		store:   store,
		clock:   clock,
		log:     log.With().Str("component", "entitlement").Logger(),
		metrics: m,
	}
}

func (v *Validator) SetAuditor(a Auditor) {
	v.audit = a
}

func (v *Validator) record(ctx context.Context, e *model.Entitlement, action string, details any) {
	if v.audit == nil {
		return
	}
	v.audit.Record(ctx, e.AccountID, action, "entitlement", strconv.FormatUint(uint64(e.ID), 10), details)
}

// Lookup 只读：返回账号当前的订阅记录，不做任何写入。
func (v *Validator) Lookup(ctx context.Context, accountID uint) (*model.Entitlement, error) {
	return v.store.FindCurrent(ctx, accountID)
}

// ExpireIfDue 当 now >= ValidUntil 且记录仍为 Active 时将其置为 inactive。
// 写入是条件更新，并发调用时只有一个会真正生效；返回本次调用是否修改了记录。
func (v *Validator) ExpireIfDue(ctx context.Context, e *model.Entitlement) (bool, error) {
	if !e.Active || v.clock.Now().Before(e.ValidUntil) {
		return false, nil
	}

	changed, err := v.store.DeactivateIfActive(ctx, e.ID)
	if err != nil {
		return false, err
	}
	e.Active = false
	if changed {
		v.metrics.Expiration()
		v.log.Info().
			Uint("account_id", e.AccountID).
			Uint("entitlement_id", e.ID).
			Time("valid_until", e.ValidUntil).
			Msg("订阅已过期")
		v.record(ctx, e, model.ActionEntitlementExpire, map[string]any{
			"plan":        e.Tier,
			"valid_until": e.ValidUntil,
		})
	}
	return changed, nil
}

// Current 先 Lookup 再 ExpireIfDue，会写库。
// 返回的记录可能已经过期，调用方用 IsValid 判断。
func (v *Validator) Current(ctx context.Context, accountID uint) (*model.Entitlement, error) {
	e, err := v.Lookup(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if _, err := v.ExpireIfDue(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (v *Validator) IsValid(e *model.Entitlement) bool {
	return e != nil && e.Active && v.clock.Now().Before(e.ValidUntil)
}

// RequireValid 返回有效订阅，没有时返回 EntitlementExpiredOrMissing。
func (v *Validator) RequireValid(ctx context.Context, accountID uint) (*model.Entitlement, error) {
	e, err := v.Current(ctx, accountID)
	if apperror.Is(err, apperror.KindNotFound) {
		return nil, apperror.EntitlementExpiredOrMissing()
	}
	if err != nil {
		return nil, err
	}
	if !v.IsValid(e) {
		return nil, apperror.EntitlementExpiredOrMissing()
	}
	return e, nil
}

// Provision 为账号开通或变更套餐：旧的 Active 记录与新记录在同一事务中切换。
func (v *Validator) Provision(ctx context.Context, accountID uint, tier model.Tier, months int) (*model.Entitlement, Plan, error) {
	plan, ok := Plans[tier]
	if !ok {
		_, err := ParseTier(string(tier))
		return nil, Plan{}, err
	}
	if months <= 0 || months > MaxMonths {
		return nil, Plan{}, ErrInvalidDuration
	}

	now := v.clock.Now()
	e := &model.Entitlement{
		AccountID:   accountID,
		Tier:        tier,
		DeviceQuota: plan.MaxDevices,
		ValidFrom:   now,
		ValidUntil:  now.Add(time.Duration(months) * month),
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := v.store.Replace(ctx, e); err != nil {
		return nil, Plan{}, err
	}

	v.log.Info().
		Uint("account_id", accountID).
		Str("plan", string(tier)).
		Int("months", months).
		Msg("订阅已开通")
	v.record(ctx, e, model.ActionEntitlementGrant, map[string]any{
		"plan":        tier,
		"months":      months,
		"valid_until": e.ValidUntil,
	})
	return e, plan, nil
}
