package entitlement

import (
	"errors"
	"time"

	"entitlement-server/internal/model"
)

// Plan 套餐目录中的一项。
type Plan struct {
	Tier         model.Tier `json:"plan"`
	MaxDevices   int        `json:"max_devices"`
	MonthlyPrice float64    `json:"price"`
}

var Plans = map[model.Tier]Plan{
	model.TierFree:       {Tier: model.TierFree, MaxDevices: 3, MonthlyPrice: 0},
	model.TierBasic:      {Tier: model.TierBasic, MaxDevices: 5, MonthlyPrice: 9.99},
	model.TierPremium:    {Tier: model.TierPremium, MaxDevices: 10, MonthlyPrice: 19.99},
	model.TierEnterprise: {Tier: model.TierEnterprise, MaxDevices: 50, MonthlyPrice: 99.99},
}

// 一个订阅月按 30 天计算
const month = 30 * 24 * time.Hour

// MaxMonths 单次订阅的最长月数，同时保证 months*month 不会溢出 time.Duration。
const MaxMonths = 120

var ErrInvalidDuration = errors.New("订阅时长必须为 1 到 120 之间的整数（月）")

func (p Plan) Price(months int) float64 {
	return p.MonthlyPrice * float64(months)
}

// DaysRemaining 向上取整的剩余天数，已过期为 0。
func DaysRemaining(e *model.Entitlement, now time.Time) int {
	left := e.ValidUntil.Sub(now)
	if left <= 0 {
		return 0
	}
	days := left / (24 * time.Hour)
	if left%(24*time.Hour) != 0 {
		days++
	}
	return int(days)
}
