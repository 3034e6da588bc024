package entitlement

import (
	"fmt"

	"entitlement-server/internal/model"
)

var tierRank = map[model.Tier]int{
	model.TierFree:       0,
	model.TierBasic:      1,
	model.TierPremium:    2,
	model.TierEnterprise: 3,
}

// Tiers 按等级从低到高排列。
var Tiers = []model.Tier{model.TierFree, model.TierBasic, model.TierPremium, model.TierEnterprise}

func ParseTier(s string) (model.Tier, error) {
	t := model.Tier(s)
	if _, ok := tierRank[t]; !ok {
		return "", fmt.Errorf("无效的订阅计划 %q", s)
	}
	return t, nil
}

// TierAtLeast 当 accountTier 的等级不低于 requiredTier 时返回 true。
// 未知等级按 free 处理。
func TierAtLeast(accountTier, requiredTier model.Tier) bool {
	return tierRank[accountTier] >= tierRank[requiredTier]
}
