// Package feature 在请求时决定某个账号能否使用某个功能。
package feature

import (
	"context"
	"time"

	"entitlement-server/internal/abuse"
	"entitlement-server/internal/apperror"
	"entitlement-server/internal/entitlement"
	"entitlement-server/internal/metrics"
	"entitlement-server/internal/model"

	"github.com/coder/quartz"
)

const DefaultFreshnessWindow = 60 * time.Second

// Request 一次受保护功能调用的上下文。Timestamp 由客户端提供。
type Request struct {
	AccountID   uint
	Feature     string
	Timestamp   time.Time
	Entitlement *model.Entitlement
}

type Gate struct {
	table     *Table
	validator *entitlement.Validator
	detector  *abuse.Detector
	clock     quartz.Clock
	freshness time.Duration
	metrics   *metrics.Metrics
}

func NewGate(table *Table, validator *entitlement.Validator, detector *abuse.Detector, clock quartz.Clock, freshness time.Duration, m *metrics.Metrics) *Gate {
	if freshness <= 0 {
		freshness = DefaultFreshnessWindow
	}
	return &Gate{
		table:     table,
		validator: validator,
		detector:  detector,
		clock:     clock,
		freshness: freshness,
		metrics:   m,
	}
}

func (g *Gate) Table() *Table {
	return g.table
}

// Authorize 依次检查：订阅有效、功能已知、等级足够、请求时间戳新鲜、未触发滥用检测。
// 只有最后一步会修改状态（记录本次调用）。
func (g *Gate) Authorize(req Request) error {
	err := g.authorize(req)
	if err != nil {
		g.metrics.GateDecision(req.Feature, string(apperror.KindOf(err)))
	} else {
		g.metrics.GateDecision(req.Feature, "allowed")
	}
	return err
}

func (g *Gate) authorize(req Request) error {
	if !g.validator.IsValid(req.Entitlement) {
		return apperror.EntitlementExpiredOrMissing()
	}

	required, ok := g.table.Required(req.Feature)
	if !ok {
		return apperror.UnknownFeature()
	}

	if !entitlement.TierAtLeast(req.Entitlement.Tier, required) {
		return apperror.InsufficientTier(string(req.Entitlement.Tier), string(required))
	}

	skew := g.clock.Now().Sub(req.Timestamp)
	if skew < 0 {
		skew = -skew
	}
	if skew > g.freshness {
		return apperror.StaleRequest()
	}

	if allowed, retryAfter := g.detector.RecordAndCheck(req.AccountID, req.Feature); !allowed {
		return apperror.RateLimited(retryAfter)
	}
	return nil
}

// Decision 权限探测结果，不包含新鲜度和滥用检查。
type Decision struct {
	Feature       string     `json:"feature"`
	HasPermission bool       `json:"hasPermission"`
	CurrentPlan   model.Tier `json:"currentPlan"`
	RequiredPlan  model.Tier `json:"requiredPlan"`
}

// Probe 只回答"当前套餐是否包含该功能"，不记录调用。
func (g *Gate) Probe(e *model.Entitlement, feature string) (Decision, error) {
	if !g.validator.IsValid(e) {
		return Decision{}, apperror.EntitlementExpiredOrMissing()
	}
	required, ok := g.table.Required(feature)
	if !ok {
		return Decision{}, apperror.UnknownFeature()
	}
	return Decision{
		Feature:       feature,
		HasPermission: entitlement.TierAtLeast(e.Tier, required),
		CurrentPlan:   e.Tier,
		RequiredPlan:  required,
	}, nil
}

// Guard 通过 Authorize 之后才执行 op。
func Guard[T any](ctx context.Context, g *Gate, req Request, op func(context.Context) (T, error)) (T, error) {
	if err := g.Authorize(req); err != nil {
		var zero T
		return zero, err
	}
	return op(ctx)
}
