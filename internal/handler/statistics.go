package handler

import (
	"time"

	"entitlement-server/internal/model"

	"github.com/gofiber/fiber/v2"
)

// HandleStatistics 订阅与设备会话的汇总统计
func (h *Handler) HandleStatistics(c *fiber.Ctx) error {
	db := h.db.WithContext(c.UserContext())
	now := h.clock.Now()

	stats := &model.EntitlementStatistics{
		EntitlementsByTier: make(map[string]int64),
		SessionsByStatus:   make(map[string]int64),
	}

	fail := func(msg string) error {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"code":    500,
			"message": msg,
		})
	}

	if err := db.Model(&model.Account{}).Count(&stats.TotalAccounts).Error; err != nil {
		return fail("获取账户总数失败")
	}

	if err := db.Model(&model.Entitlement{}).Count(&stats.TotalEntitlements).Error; err != nil {
		return fail("获取订阅总数失败")
	}

	// 有效订阅：Active 且未到期
	if err := db.Model(&model.Entitlement{}).
		Where("active = ? AND valid_until > ?", true, now).
		Count(&stats.ActiveEntitlements).Error; err != nil {
		return fail("获取有效订阅数失败")
	}

	if err := db.Model(&model.Entitlement{}).
		Where("valid_until <= ?", now).
		Count(&stats.ExpiredEntitlements).Error; err != nil {
		return fail("获取过期订阅数失败")
	}

	// 即将过期的订阅数（30天内）
	if err := db.Model(&model.Entitlement{}).
		Where("active = ? AND valid_until > ? AND valid_until <= ?", true, now, now.Add(30*24*time.Hour)).
		Count(&stats.ExpiringEntitlements).Error; err != nil {
		return fail("获取即将过期订阅数失败")
	}

	// 按等级统计有效订阅
	var tierStats []struct {
		Tier  string
		Count int64
	}
	if err := db.Model(&model.Entitlement{}).
		Select("tier, count(*) as count").
		Where("active = ? AND valid_until > ?", true, now).
		Group("tier").
		Scan(&tierStats).Error; err != nil {
		return fail("获取等级统计失败")
	}
	for _, ts := range tierStats {
		stats.EntitlementsByTier[ts.Tier] = ts.Count
	}

	// 按状态统计设备会话
	var sessionStats []struct {
		Status string
		Count  int64
	}
	if err := db.Model(&model.DeviceSession{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&sessionStats).Error; err != nil {
		return fail("获取设备统计失败")
	}
	for _, ss := range sessionStats {
		stats.SessionsByStatus[ss.Status] = ss.Count
		stats.TotalSessions += ss.Count
	}

	return c.JSON(fiber.Map{
		"code":       200,
		"message":    "success",
		"data":       stats,
		"activeRate": stats.GetActiveRate(),
	})
}

// HandleSheetsRebuild 用数据库中的有效订阅重建 Google Sheet 镜像
func (h *Handler) HandleSheetsRebuild(c *fiber.Ctx) error {
	if h.sheets == nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "未启用Google Sheet同步",
		})
	}

	db := h.db.WithContext(c.UserContext())

	var entitlements []model.Entitlement
	if err := db.Where("active = ?", true).Order("account_id ASC").Find(&entitlements).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "获取订阅数据失败",
		})
	}

	var accounts []model.Account
	if err := db.Select("id", "username").Find(&accounts).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "获取账户数据失败",
		})
	}
	usernames := make(map[uint]string, len(accounts))
	for _, a := range accounts {
		usernames[a.ID] = a.Username
	}

	if err := h.sheets.Rebuild(c.UserContext(), entitlements, usernames); err != nil {
		h.log.Error().Err(err).Msg("重建Google Sheet失败")
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "同步到Google Sheet失败",
		})
	}

	return c.JSON(fiber.Map{
		"message": "同步完成",
		"rows":    len(entitlements),
	})
}
