package handler

import (
	"entitlement-server/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

// Register 挂载全部 /api/v1 路由和 /health。
func (h *Handler) Register(app fiber.Router) {
	auth := middleware.Auth(h.db, h.auth.JWTSecret)
	entitled := middleware.RequireEntitlement(h.validator, h.WriteError)
	admin := middleware.AdminOnly()

	app.Get("/health", h.HandleHealth)

	api := app.Group("/api/v1")

	// 认证路由
	authGroup := api.Group("/auth")
	authGroup.Post("/register", h.HandleRegister)
	authGroup.Post("/login", h.HandleLogin)
	authGroup.Post("/validate-token", h.HandleValidateToken)
	authGroup.Post("/change-password", auth, h.HandleChangePassword)

	users := api.Group("/users", auth)
	users.Get("/info", h.HandleAccountInfo)
	users.Get("/login-logs", h.HandleLoginLogs)
	users.Get("/logs", h.HandleGetAccountLogs)

	subscription := api.Group("/subscription")
	subscription.Get("/plans", h.HandlePlans)
	subscription.Get("/current", auth, h.HandleCurrentSubscription)
	subscription.Get("/status", auth, h.HandleSubscriptionStatus)
	subscription.Post("/subscribe", auth, h.HandleSubscribe)

	devices := api.Group("/device", auth)
	devices.Post("/register", entitled, h.HandleDeviceRegister)
	devices.Post("/verify", entitled, h.HandleDeviceVerify)
	devices.Get("/list", h.HandleDeviceList)
	devices.Delete("/:deviceId", h.HandleDeviceRemove)

	features := api.Group("/features", auth)
	features.Get("/", h.HandleFeatureList)
	features.Post("/verify", entitled, h.HandleFeatureVerify)
	features.Post("/adjust-price", entitled, h.HandleAdjustPrice)
	features.Get("/usage-stats", h.HandleUsageStats)

	productLog := api.Group("/product-log")
	productLog.Post("/log", middleware.OptionalAuth(h.db, h.auth.JWTSecret), h.HandleCreateProductLog)
	productLog.Get("/logs", auth, admin, h.HandleGetProductLogs)

	// 管理员专用路由
	adminGroup := api.Group("/admin", auth, admin)
	adminGroup.Get("/logs", h.HandleGetLogs)
	adminGroup.Get("/statistics", h.HandleStatistics)
	adminGroup.Get("/accounts", h.HandleSearchAccounts)
	adminGroup.Put("/accounts/:id", h.HandleUpdateAccount)
	adminGroup.Post("/sheets/rebuild", h.HandleSheetsRebuild)
}

func (h *Handler) HandleHealth(c *fiber.Ctx) error {
	status := "ok"
	code := fiber.StatusOK
	if sqlDB, err := h.db.DB(); err != nil || sqlDB.PingContext(c.UserContext()) != nil {
		status = "degraded"
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{
		"status": status,
		"time":   h.clock.Now(),
	})
}
