// Package handler 把授权核心的操作映射为 HTTP 接口。
package handler

import (
	"errors"
	"strconv"

	"entitlement-server/internal/abuse"
	"entitlement-server/internal/apperror"
	"entitlement-server/internal/config"
	"entitlement-server/internal/device"
	"entitlement-server/internal/entitlement"
	"entitlement-server/internal/feature"
	"entitlement-server/internal/service"

	"github.com/coder/quartz"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

type Handler struct {
	db        *gorm.DB
	auth      config.AuthConfig
	clock     quartz.Clock
	validator *entitlement.Validator
	devices   *device.Manager
	gate      *feature.Gate
	detector  *abuse.Detector
	oplog     *service.OperationLog
	sheets    *service.SheetSyncService
	log       zerolog.Logger
}

type Deps struct {
	DB        *gorm.DB
	Auth      config.AuthConfig
	Clock     quartz.Clock
	Validator *entitlement.Validator
	Devices   *device.Manager
	Gate      *feature.Gate
	Detector  *abuse.Detector
	OpLog     *service.OperationLog
	// Sheets 为 nil 时不同步
	Sheets *service.SheetSyncService
	Log    zerolog.Logger
}

func New(d Deps) *Handler {
	return &Handler{
		db:        d.DB,
		auth:      d.Auth,
		clock:     d.Clock,
		validator: d.Validator,
		devices:   d.Devices,
		gate:      d.Gate,
		detector:  d.Detector,
		oplog:     d.OpLog,
		sheets:    d.Sheets,
		log:       d.Log.With().Str("component", "http").Logger(),
	}
}

func statusOf(kind apperror.Kind) int {
	switch kind {
	case apperror.KindCoolingDown, apperror.KindRateLimited:
		return fiber.StatusTooManyRequests
	case apperror.KindInsufficientTier, apperror.KindEntitlementExpiredOrMissing, apperror.KindQuotaExceeded:
		return fiber.StatusForbidden
	case apperror.KindStaleRequest:
		return fiber.StatusUnauthorized
	case apperror.KindNotRegisteredOrOffline, apperror.KindNotFound:
		return fiber.StatusNotFound
	case apperror.KindUnknownFeature:
		return fiber.StatusBadRequest
	}
	return fiber.StatusInternalServerError
}

// WriteError 把核心错误序列化为 {"error", "kind", ...}。
func (h *Handler) WriteError(c *fiber.Ctx, err error) error {
	var appErr *apperror.Error
	if !errors.As(err, &appErr) {
		h.log.Error().Err(err).Str("path", c.Path()).Msg("未处理的错误")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "服务器内部错误",
		})
	}

	body := fiber.Map{
		"error": appErr.Error(),
		"kind":  appErr.Kind,
	}
	status := statusOf(appErr.Kind)

	switch appErr.Kind {
	case apperror.KindStore:
		h.log.Error().Err(appErr.Err).Str("op", appErr.Op).Str("path", c.Path()).Msg("存储操作失败")
		body["error"] = "服务器内部错误"
		if appErr.Timeout() {
			status = fiber.StatusServiceUnavailable
			body["error"] = "存储服务暂不可用，请稍后重试"
		}
	case apperror.KindCoolingDown:
		body["remainingMinutes"] = appErr.RemainingMinutes
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(appErr.RemainingMinutes*60))
	case apperror.KindRateLimited:
		body["retryAfter"] = appErr.RetryAfterSeconds
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(appErr.RetryAfterSeconds))
	case apperror.KindInsufficientTier:
		body["currentPlan"] = appErr.Current
		body["requiredPlan"] = appErr.Required
	case apperror.KindQuotaExceeded:
		body["maxDevices"] = appErr.Quota
	}

	return c.Status(status).JSON(body)
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": msg,
	})
}

// pagination 解析 page / page_size，page_size 最大 100。
func pagination(c *fiber.Ctx) (int, int) {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	pageSize, _ := strconv.Atoi(c.Query("page_size", "10"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}
