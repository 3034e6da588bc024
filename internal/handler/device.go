package handler

import (
	"strings"

	"entitlement-server/internal/device"
	"entitlement-server/internal/entitlement"
	"entitlement-server/internal/middleware"
	"entitlement-server/internal/model"

	"github.com/gofiber/fiber/v2"
)

type DeviceRegisterInput struct {
	DeviceID   string           `json:"deviceId"`
	DeviceName string           `json:"deviceName"`
	DeviceInfo model.DeviceInfo `json:"deviceInfo"`
}

type DeviceVerifyInput struct {
	DeviceID string `json:"deviceId"`
}

// HandleDeviceRegister 新设备返回 201，已有设备重新激活返回 200。
// 需要 RequireEntitlement 在前。
func (h *Handler) HandleDeviceRegister(c *fiber.Ctx) error {
	input := new(DeviceRegisterInput)
	if err := c.BodyParser(input); err != nil {
		return badRequest(c, "无效的输入数据")
	}
	input.DeviceID = strings.TrimSpace(input.DeviceID)
	if input.DeviceID == "" {
		return badRequest(c, "设备ID不能为空")
	}
	if input.DeviceInfo.UserAgent == "" {
		input.DeviceInfo.UserAgent = c.Get(fiber.HeaderUserAgent)
	}

	e, err := middleware.Entitlement(c)
	if err != nil {
		return h.WriteError(c, err)
	}

	res, err := h.devices.Register(c.UserContext(), device.RegisterInput{
		AccountID: middleware.AccountID(c),
		DeviceID:  input.DeviceID,
		Quota:     e.DeviceQuota,
		Name:      input.DeviceName,
		Info:      input.DeviceInfo,
	})
	if err != nil {
		return h.WriteError(c, err)
	}

	status := fiber.StatusOK
	message := "设备已重新激活"
	if res.Outcome == device.Registered {
		status = fiber.StatusCreated
		message = "设备注册成功"
	}

	return c.Status(status).JSON(fiber.Map{
		"message":   message,
		"outcome":   res.Outcome,
		"device":    res.Session,
		"kickedOut": res.KickedOut,
	})
}

func (h *Handler) HandleDeviceVerify(c *fiber.Ctx) error {
	input := new(DeviceVerifyInput)
	if err := c.BodyParser(input); err != nil || input.DeviceID == "" {
		return badRequest(c, "设备ID不能为空")
	}

	e, err := middleware.Entitlement(c)
	if err != nil {
		return h.WriteError(c, err)
	}

	session, err := h.devices.Verify(c.UserContext(), middleware.AccountID(c), input.DeviceID)
	if err != nil {
		return h.WriteError(c, err)
	}

	return c.JSON(fiber.Map{
		"valid":  true,
		"device": session,
		"subscription": fiber.Map{
			"plan":          e.Tier,
			"endDate":       e.ValidUntil,
			"daysRemaining": entitlement.DaysRemaining(e, h.clock.Now()),
		},
	})
}

// HandleDeviceRemove 用户主动下线设备，不触发冷却。
func (h *Handler) HandleDeviceRemove(c *fiber.Ctx) error {
	deviceID := c.Params("deviceId")
	if deviceID == "" {
		return badRequest(c, "设备ID不能为空")
	}

	session, err := h.devices.Remove(c.UserContext(), middleware.AccountID(c), deviceID)
	if err != nil {
		return h.WriteError(c, err)
	}

	return c.JSON(fiber.Map{
		"message": "设备已移除",
		"device":  session,
	})
}

func (h *Handler) HandleDeviceList(c *fiber.Ctx) error {
	sessions, err := h.devices.List(c.UserContext(), middleware.AccountID(c))
	if err != nil {
		return h.WriteError(c, err)
	}

	active := 0
	for i := range sessions {
		if sessions[i].IsActive() {
			active++
		}
	}

	return c.JSON(fiber.Map{
		"devices": sessions,
		"total":   len(sessions),
		"active":  active,
		"policy":  h.devices.Policy(),
	})
}
