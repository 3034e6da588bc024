package handler

import (
	"context"
	"strconv"
	"time"

	"entitlement-server/internal/feature"
	"entitlement-server/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

const (
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"
	HeaderDeviceID  = "X-Device-Id"
)

type FeatureVerifyInput struct {
	Feature string `json:"feature"`
}

// HandleFeatureVerify 只探测当前套餐是否包含该功能，不计入滥用统计。
func (h *Handler) HandleFeatureVerify(c *fiber.Ctx) error {
	input := new(FeatureVerifyInput)
	if err := c.BodyParser(input); err != nil || input.Feature == "" {
		return badRequest(c, "功能名称不能为空")
	}

	e, err := middleware.Entitlement(c)
	if err != nil {
		return h.WriteError(c, err)
	}

	decision, err := h.gate.Probe(e, input.Feature)
	if err != nil {
		return h.WriteError(c, err)
	}
	return c.JSON(decision)
}

func (h *Handler) HandleFeatureList(c *fiber.Ctx) error {
	table := h.gate.Table()
	features := fiber.Map{}
	for _, name := range table.Features() {
		required, _ := table.Required(name)
		features[name] = required
	}
	return c.JSON(fiber.Map{
		"features": features,
	})
}

// signedRequest 读取受保护接口要求的请求头。签名只要求存在，不做校验。
func signedRequest(c *fiber.Ctx) (time.Time, bool) {
	ts := c.Get(HeaderTimestamp)
	if ts == "" || c.Get(HeaderSignature) == "" || c.Get(HeaderDeviceID) == "" {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// HandleAdjustPrice 由 adjustPriceAndStock 功能门控的服务端定价。
func (h *Handler) HandleAdjustPrice(c *fiber.Ctx) error {
	timestamp, ok := signedRequest(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "缺少或无效的请求签名头",
		})
	}

	input := new(feature.PriceInput)
	if err := c.BodyParser(input); err != nil {
		return badRequest(c, "无效的输入数据")
	}

	e, err := middleware.Entitlement(c)
	if err != nil {
		return h.WriteError(c, err)
	}

	req := feature.Request{
		AccountID:   middleware.AccountID(c),
		Feature:     feature.AdjustPriceAndStock,
		Timestamp:   timestamp,
		Entitlement: e,
	}
	result, err := feature.Guard(c.UserContext(), h.gate, req, func(context.Context) (feature.PriceResult, error) {
		return feature.AdjustPrice(*input, e.Tier)
	})
	if err == feature.ErrInvalidPriceInput {
		return badRequest(c, err.Error())
	}
	if err != nil {
		return h.WriteError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    result,
	})
}

// HandleUsageStats 返回当前滑动窗口内各功能的调用次数。
func (h *Handler) HandleUsageStats(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"usage": h.detector.Stats(middleware.AccountID(c)),
	})
}
