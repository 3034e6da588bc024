// Package device 管理账号与设备之间的会话。
//
// 默认策略是单设备在线：新设备注册时把同账号的其他在线设备踢下线，
// 被踢下线的设备在冷却期内不能重新注册，防止两台设备来回互踢。
// 另有按设备数量限额的策略可通过配置选用，两种策略不会混用。
package device

import (
	"context"
	"fmt"
	"time"

	"entitlement-server/internal/apperror"
	"entitlement-server/internal/metrics"
	"entitlement-server/internal/model"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
)

type Policy string

const (
	PolicySingle Policy = "single"
	PolicyQuota  Policy = "quota"
)

const DefaultCooldown = 10 * time.Minute

func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicySingle, PolicyQuota:
		return Policy(s), nil
	}
	return "", fmt.Errorf("未知的设备策略 %q", s)
}

type Outcome string

const (
	Registered  Outcome = "registered"
	Reactivated Outcome = "reactivated"
)

type RegisterInput struct {
	AccountID uint
	DeviceID  string
	// Quota 仅在 PolicyQuota 下生效
	Quota int
	Name  string
	Info  model.DeviceInfo
}

type Result struct {
	Outcome   Outcome
	Session   *model.DeviceSession
	KickedOut int64
}

// Auditor 记录设备状态变化，写入失败不影响主流程。
type Auditor interface {
	Record(ctx context.Context, accountID uint, action, target, targetID string, details any)
}

type Manager struct {
	store    Store
	clock    quartz.Clock
	policy   Policy
	cooldown time.Duration
	log      zerolog.Logger
	metrics  *metrics.Metrics
	audit    Auditor
}

func NewManager(store Store, clock quartz.Clock, policy Policy, cooldown time.Duration, log zerolog.Logger, m *metrics.Metrics) *Manager {
	if policy == "" {
		policy = PolicySingle
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Manager{
		store:    store,
		clock:    clock,
		policy:   policy,
		cooldown: cooldown,
		log:      log.With().Str("component", "device").Logger(),
		metrics:  m,
	}
}

func (m *Manager) Policy() Policy {
	return m.policy
}

func (m *Manager) SetAuditor(a Auditor) {
	m.audit = a
}

func (m *Manager) record(ctx context.Context, accountID uint, action, deviceID string, details any) {
	if m.audit != nil {
		m.audit.Record(ctx, accountID, action, "device", deviceID, details)
	}
}

// cooldownRemaining 返回设备距离可以重新注册还需等待的时间。
// 被踢下线后又被用户主动移除的设备（inactive 但 KickedOutAt 仍在）同样受冷却约束。
func (m *Manager) cooldownRemaining(s *model.DeviceSession, now time.Time) time.Duration {
	if s.KickedOutAt == nil || s.Status == model.SessionActive {
		return 0
	}
	return s.KickedOutAt.Add(m.cooldown).Sub(now)
}

func ceilMinutes(d time.Duration) int {
	minutes := d / time.Minute
	if d%time.Minute != 0 {
		minutes++
	}
	return int(minutes)
}

// Register 注册或重新激活设备。
//
// 单设备策略下的步骤：
//  1. 设备在冷却期内则返回 CoolingDown，不做任何修改；
//  2. 一条条件批量更新把其他 active 会话置为 cooled_down；
//  3. 已有记录则重新激活，否则插入新记录；
//  4. 收敛：若并发注册导致多条 active，只保留 (LastActiveAt, DeviceID) 最大的一条。
func (m *Manager) Register(ctx context.Context, in RegisterInput) (*Result, error) {
	now := m.clock.Now()

	existing, err := m.store.Find(ctx, in.AccountID, in.DeviceID)
	if err != nil && !apperror.Is(err, apperror.KindNotFound) {
		return nil, err
	}

	if existing != nil {
		if remaining := m.cooldownRemaining(existing, now); remaining > 0 {
			m.metrics.Registration(string(apperror.KindCoolingDown))
			return nil, apperror.CoolingDown(ceilMinutes(remaining))
		}
	}

	var kicked int64
	switch m.policy {
	case PolicyQuota:
		if existing == nil || !existing.IsActive() {
			count, err := m.store.CountActiveExcept(ctx, in.AccountID, in.DeviceID)
			if err != nil {
				return nil, err
			}
			if count >= int64(in.Quota) {
				m.metrics.Registration(string(apperror.KindQuotaExceeded))
				return nil, apperror.QuotaExceeded(in.Quota)
			}
		}
	default:
		kicked, err = m.store.KickOthers(ctx, in.AccountID, in.DeviceID, now)
		if err != nil {
			return nil, err
		}
	}

	outcome, err := m.upsert(ctx, in, existing != nil, now)
	if err != nil {
		return nil, err
	}

	switch m.policy {
	case PolicyQuota:
		if existing == nil || !existing.IsActive() {
			if err := m.recheckQuota(ctx, in); err != nil {
				return nil, err
			}
		}
	default:
		n, err := m.settle(ctx, in.AccountID, now)
		if err != nil {
			return nil, err
		}
		kicked += n
	}

	session, err := m.store.Find(ctx, in.AccountID, in.DeviceID)
	if err != nil {
		return nil, err
	}

	m.metrics.Registration(string(outcome))
	m.metrics.KickOuts(kicked)
	ev := m.log.Info().
		Uint("account_id", in.AccountID).
		Str("device_id", in.DeviceID).
		Str("outcome", string(outcome))
	if kicked > 0 {
		ev = ev.Int64("kicked_out", kicked)
	}
	ev.Msg("设备已注册")

	action := model.ActionDeviceRegistered
	if outcome == Reactivated {
		action = model.ActionDeviceReactivated
	}
	m.record(ctx, in.AccountID, action, in.DeviceID, map[string]any{
		"device_name": in.Name,
		"policy":      m.policy,
	})
	if kicked > 0 {
		m.record(ctx, in.AccountID, model.ActionDeviceKickedOut, in.DeviceID, map[string]any{
			"kicked_out": kicked,
			"cooldown":   m.cooldown.String(),
		})
	}

	return &Result{Outcome: outcome, Session: session, KickedOut: kicked}, nil
}

func (m *Manager) upsert(ctx context.Context, in RegisterInput, exists bool, now time.Time) (Outcome, error) {
	if exists {
		ok, err := m.store.Reactivate(ctx, in.AccountID, in.DeviceID, now, in.Name, in.Info)
		if err != nil {
			return "", err
		}
		if ok {
			return Reactivated, nil
		}
	}

	err := m.store.Insert(ctx, &model.DeviceSession{
		AccountID:    in.AccountID,
		DeviceID:     in.DeviceID,
		DeviceName:   in.Name,
		Info:         in.Info,
		Status:       model.SessionActive,
		LastActiveAt: now,
		RegisteredAt: now,
	})
	if err == ErrDuplicate {
		// 同一设备的并发注册已先插入记录
		ok, err := m.store.Reactivate(ctx, in.AccountID, in.DeviceID, now, in.Name, in.Info)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", apperror.NotFound("device")
		}
		return Reactivated, nil
	}
	if err != nil {
		return "", err
	}
	return Registered, nil
}

// recheckQuota 写入后再数一次：并发注册使在线数超出额度时撤销本次激活。
// 最后提交的写入一定能看到之前所有的写入，因此最终在线数不会超过额度。
func (m *Manager) recheckQuota(ctx context.Context, in RegisterInput) error {
	count, err := m.store.CountActiveExcept(ctx, in.AccountID, in.DeviceID)
	if err != nil {
		return err
	}
	if count < int64(in.Quota) {
		return nil
	}
	if _, err := m.store.Deactivate(ctx, in.AccountID, in.DeviceID); err != nil {
		return err
	}
	m.log.Warn().
		Uint("account_id", in.AccountID).
		Str("device_id", in.DeviceID).
		Int64("active_others", count).
		Msg("并发注册超出设备额度，已撤销本次激活")
	m.metrics.Registration(string(apperror.KindQuotaExceeded))
	return apperror.QuotaExceeded(in.Quota)
}

// settle 在并发注册留下多条 active 会话时只保留最新的一条。
// 顺序注册时账号下只会有一条 active，这里不产生写入。
func (m *Manager) settle(ctx context.Context, accountID uint, now time.Time) (int64, error) {
	active, err := m.store.ListActive(ctx, accountID)
	if err != nil || len(active) <= 1 {
		return 0, err
	}

	winner := active[0]
	for _, s := range active[1:] {
		if s.LastActiveAt.After(winner.LastActiveAt) ||
			(s.LastActiveAt.Equal(winner.LastActiveAt) && s.DeviceID > winner.DeviceID) {
			winner = s
		}
	}

	m.log.Warn().
		Uint("account_id", accountID).
		Int("active", len(active)).
		Str("winner", winner.DeviceID).
		Msg("并发注册产生多个在线设备，保留最新的一个")
	return m.store.KickOthers(ctx, accountID, winner.DeviceID, now)
}

// Verify 要求设备存在且在线，并刷新其 LastActiveAt。
func (m *Manager) Verify(ctx context.Context, accountID uint, deviceID string) (*model.DeviceSession, error) {
	ok, err := m.store.Touch(ctx, accountID, deviceID, m.clock.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperror.NotRegisteredOrOffline()
	}

	session, err := m.store.Find(ctx, accountID, deviceID)
	if apperror.Is(err, apperror.KindNotFound) {
		return nil, apperror.NotRegisteredOrOffline()
	}
	return session, err
}

// Remove 用户主动下线设备，不会触发冷却。
func (m *Manager) Remove(ctx context.Context, accountID uint, deviceID string) (*model.DeviceSession, error) {
	ok, err := m.store.Deactivate(ctx, accountID, deviceID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperror.NotFound("device")
	}

	m.log.Info().Uint("account_id", accountID).Str("device_id", deviceID).Msg("设备已下线")
	m.record(ctx, accountID, model.ActionDeviceRemoved, deviceID, nil)
	return m.store.Find(ctx, accountID, deviceID)
}

func (m *Manager) List(ctx context.Context, accountID uint) ([]model.DeviceSession, error) {
	return m.store.List(ctx, accountID)
}
