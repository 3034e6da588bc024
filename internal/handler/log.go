package handler

import (
	"entitlement-server/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

func (h *Handler) HandleGetLogs(c *fiber.Ctx) error {
	page, pageSize := pagination(c)

	logs, total, err := h.oplog.GetOperationLogs(c.UserContext(), page, pageSize)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "获取日志失败",
		})
	}

	return c.JSON(fiber.Map{
		"logs":  logs,
		"total": total,
		"page":  page,
	})
}

func (h *Handler) HandleGetAccountLogs(c *fiber.Ctx) error {
	page, pageSize := pagination(c)

	logs, total, err := h.oplog.GetAccountOperationLogs(c.UserContext(), middleware.AccountID(c), page, pageSize)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "获取日志失败",
		})
	}

	return c.JSON(fiber.Map{
		"logs":  logs,
		"total": total,
		"page":  page,
	})
}
