package middleware

import (
	"entitlement-server/internal/apperror"
	"entitlement-server/internal/entitlement"
	"entitlement-server/internal/model"

	"github.com/gofiber/fiber/v2"
)

// ErrorWriter 把核心返回的错误写成 HTTP 响应。
type ErrorWriter func(c *fiber.Ctx, err error) error

// RequireEntitlement 要求账户有当前有效的订阅，并把订阅放入 Locals。
// 读取订阅时会顺带完成惰性过期。
func RequireEntitlement(v *entitlement.Validator, writeError ErrorWriter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		e, err := v.RequireValid(c.UserContext(), AccountID(c))
		if err != nil {
			return writeError(c, err)
		}
		c.Locals(LocalEntitlement, e)
		return c.Next()
	}
}

func Entitlement(c *fiber.Ctx) (*model.Entitlement, error) {
	e, ok := c.Locals(LocalEntitlement).(*model.Entitlement)
	if !ok {
		return nil, apperror.EntitlementExpiredOrMissing()
	}
	return e, nil
}
