package model

// EntitlementStatistics 订阅与设备统计信息
type EntitlementStatistics struct {
	TotalAccounts        int64            `json:"total_accounts"`
	TotalEntitlements    int64            `json:"total_entitlements"`
	ActiveEntitlements   int64            `json:"active_entitlements"`
	ExpiredEntitlements  int64            `json:"expired_entitlements"`
	ExpiringEntitlements int64            `json:"expiring_entitlements"`
	EntitlementsByTier   map[string]int64 `json:"entitlements_by_tier"`
	SessionsByStatus     map[string]int64 `json:"sessions_by_status"`
	TotalSessions        int64            `json:"total_sessions"`
}

// GetActiveRate 有效订阅占比
func (s *EntitlementStatistics) GetActiveRate() float64 {
	if s.TotalEntitlements == 0 {
		return 0
	}
	return float64(s.ActiveEntitlements) / float64(s.TotalEntitlements)
}

// GetTierCount 获取指定等级的有效订阅数
func (s *EntitlementStatistics) GetTierCount(tier Tier) int64 {
	if count, ok := s.EntitlementsByTier[string(tier)]; ok {
		return count
	}
	return 0
}

func (s *EntitlementStatistics) GetSessionCount(status SessionStatus) int64 {
	if count, ok := s.SessionsByStatus[string(status)]; ok {
		return count
	}
	return 0
}
