package middleware

import (
	"errors"
	"strings"

	"entitlement-server/internal/model"
	"entitlement-server/internal/util"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

const (
	LocalAccountID   = "accountID"
	LocalAccount     = "account"
	LocalEntitlement = "entitlement"
)

func bearerToken(c *fiber.Ctx) (string, error) {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("未提供认证令牌")
	}

	// 获取 Bearer token
	tokenParts := strings.Split(authHeader, " ")
	if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
		return "", errors.New("无效的认证格式")
	}
	return tokenParts[1], nil
}

func loadAccount(c *fiber.Ctx, db *gorm.DB, secret string) (*model.Account, int, string) {
	token, err := bearerToken(c)
	if err != nil {
		return nil, fiber.StatusUnauthorized, err.Error()
	}

	accountID, err := util.ValidateToken(token, secret)
	if err != nil {
		return nil, fiber.StatusUnauthorized, "无效的认证令牌"
	}

	var account model.Account
	if err := db.WithContext(c.UserContext()).First(&account, accountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fiber.StatusUnauthorized, "账户不存在"
		}
		return nil, fiber.StatusInternalServerError, "查询账户失败"
	}
	if !account.Active {
		return nil, fiber.StatusForbidden, "账户已被禁用"
	}
	return &account, 0, ""
}

// Auth 校验令牌，并要求账户存在且处于启用状态。
func Auth(db *gorm.DB, secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		account, status, msg := loadAccount(c, db, secret)
		if account == nil {
			return c.Status(status).JSON(fiber.Map{
				"error": msg,
			})
		}

		c.Locals(LocalAccountID, account.ID)
		c.Locals(LocalAccount, account)
		return c.Next()
	}
}

// OptionalAuth 有合法令牌时设置账户信息，否则按匿名请求继续。
func OptionalAuth(db *gorm.DB, secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Get("Authorization") != "" {
			if account, _, _ := loadAccount(c, db, secret); account != nil {
				c.Locals(LocalAccountID, account.ID)
				c.Locals(LocalAccount, account)
			}
		}
		return c.Next()
	}
}

func AdminOnly() fiber.Handler {
	return func(c *fiber.Ctx) error {
		account, ok := c.Locals(LocalAccount).(*model.Account)
		if !ok || !account.IsAdmin() {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "需要管理员权限",
			})
		}
		return c.Next()
	}
}

func AccountID(c *fiber.Ctx) uint {
	id, _ := c.Locals(LocalAccountID).(uint)
	return id
}

func Account(c *fiber.Ctx) *model.Account {
	account, _ := c.Locals(LocalAccount).(*model.Account)
	return account
}
