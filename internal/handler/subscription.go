package handler

import (
	"context"
	"errors"
	"time"

	"entitlement-server/internal/apperror"
	"entitlement-server/internal/entitlement"
	"entitlement-server/internal/middleware"
	"entitlement-server/internal/model"

	"github.com/gofiber/fiber/v2"
)

const sheetSyncTimeout = 10 * time.Second

type SubscribeInput struct {
	Plan     string `json:"plan"`
	Duration int    `json:"duration"` // 月
}

func (h *Handler) subscriptionView(e *model.Entitlement) fiber.Map {
	return fiber.Map{
		"plan":          e.Tier,
		"maxDevices":    e.DeviceQuota,
		"startDate":     e.ValidFrom,
		"endDate":       e.ValidUntil,
		"isActive":      e.Active,
		"isValid":       h.validator.IsValid(e),
		"daysRemaining": entitlement.DaysRemaining(e, h.clock.Now()),
	}
}

// mirror 同步失败只记日志，不影响接口结果。
func (h *Handler) mirror(c *fiber.Ctx, e *model.Entitlement, username string) {
	if h.sheets == nil {
		return
	}
	ctx, cancel := context.WithTimeout(c.UserContext(), sheetSyncTimeout)
	defer cancel()
	if err := h.sheets.SyncEntitlement(ctx, e, username); err != nil {
		h.log.Error().Err(err).Uint("account_id", e.AccountID).Msg("同步Google Sheet失败")
	}
}

// HandleCurrentSubscription 返回账号当前订阅，没有任何订阅记录时返回 404。
func (h *Handler) HandleCurrentSubscription(c *fiber.Ctx) error {
	e, err := h.validator.Current(c.UserContext(), middleware.AccountID(c))
	if err != nil {
		return h.WriteError(c, err)
	}
	return c.JSON(fiber.Map{
		"subscription": h.subscriptionView(e),
	})
}

// HandleSubscriptionStatus 与 current 相同的查询，但没有订阅时也返回 200。
func (h *Handler) HandleSubscriptionStatus(c *fiber.Ctx) error {
	e, err := h.validator.Current(c.UserContext(), middleware.AccountID(c))
	if apperror.Is(err, apperror.KindNotFound) {
		return c.JSON(fiber.Map{
			"hasSubscription": false,
			"isValid":         false,
			"daysRemaining":   0,
		})
	}
	if err != nil {
		return h.WriteError(c, err)
	}

	return c.JSON(fiber.Map{
		"hasSubscription": true,
		"isValid":         h.validator.IsValid(e),
		"plan":            e.Tier,
		"endDate":         e.ValidUntil,
		"daysRemaining":   entitlement.DaysRemaining(e, h.clock.Now()),
	})
}

func (h *Handler) HandlePlans(c *fiber.Ctx) error {
	plans := make([]entitlement.Plan, 0, len(entitlement.Tiers))
	for _, tier := range entitlement.Tiers {
		plans = append(plans, entitlement.Plans[tier])
	}
	return c.JSON(fiber.Map{
		"plans": plans,
	})
}

// HandleSubscribe 开通或变更套餐。支付不在本服务范围内，响应中只给出价格。
func (h *Handler) HandleSubscribe(c *fiber.Ctx) error {
	input := new(SubscribeInput)
	if err := c.BodyParser(input); err != nil {
		return badRequest(c, "无效的输入数据")
	}

	tier, err := entitlement.ParseTier(input.Plan)
	if err != nil {
		return badRequest(c, "无效的订阅计划")
	}
	if input.Duration == 0 {
		input.Duration = 1
	}

	e, plan, err := h.validator.Provision(c.UserContext(), middleware.AccountID(c), tier, input.Duration)
	if errors.Is(err, entitlement.ErrInvalidDuration) {
		return badRequest(c, err.Error())
	}
	if err != nil {
		return h.WriteError(c, err)
	}

	if account := middleware.Account(c); account != nil {
		h.mirror(c, e, account.Username)
	}

	return c.JSON(fiber.Map{
		"message":      "订阅成功",
		"subscription": h.subscriptionView(e),
		"price":        plan.Price(input.Duration),
	})
}
