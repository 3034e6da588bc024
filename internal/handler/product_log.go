package handler

import (
	"strings"

	"entitlement-server/internal/middleware"
	"entitlement-server/internal/model"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type ProductLogInput struct {
	OriginalTitle  string `json:"originalTitle"`
	SourceURL      string `json:"sourceUrl"`
	OptimizedTitle string `json:"optimizedTitle"`
	Action         string `json:"action"`
}

// HandleCreateProductLog 登录可选，匿名上报时 AccountID 为空。
func (h *Handler) HandleCreateProductLog(c *fiber.Ctx) error {
	input := new(ProductLogInput)
	if err := c.BodyParser(input); err != nil {
		return badRequest(c, "无效的输入数据")
	}
	if strings.TrimSpace(input.OriginalTitle) == "" || strings.TrimSpace(input.SourceURL) == "" {
		return badRequest(c, "originalTitle 和 sourceUrl 不能为空")
	}
	if !model.IsValidProductAction(input.Action) {
		return badRequest(c, "无效的 action")
	}

	entry := &model.ProductLog{
		OriginalTitle:  input.OriginalTitle,
		SourceURL:      input.SourceURL,
		OptimizedTitle: input.OptimizedTitle,
		Action:         input.Action,
		CreatedAt:      h.clock.Now(),
	}
	if account := middleware.Account(c); account != nil {
		entry.AccountID = &account.ID
		entry.Username = account.Username
	}

	if err := h.db.WithContext(c.UserContext()).Create(entry).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "保存产品日志失败",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(entry)
}

func (h *Handler) HandleGetProductLogs(c *fiber.Ctx) error {
	page, pageSize := pagination(c)

	db := h.db.WithContext(c.UserContext()).Model(&model.ProductLog{})
	if action := c.Query("action"); action != "" {
		db = db.Where("action = ?", action)
	}
	db = db.Session(&gorm.Session{})

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "获取产品日志总数失败",
		})
	}

	var logs []model.ProductLog
	offset := (page - 1) * pageSize
	if err := db.Order("created_at DESC").Order("id DESC").Offset(offset).Limit(pageSize).Find(&logs).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "获取产品日志失败",
		})
	}

	return c.JSON(fiber.Map{
		"logs":  logs,
		"total": total,
		"page":  page,
		"size":  pageSize,
	})
}
