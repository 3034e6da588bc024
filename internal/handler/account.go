package handler

import (
	"errors"
	"strconv"
	"strings"

	"entitlement-server/internal/middleware"
	"entitlement-server/internal/model"
	"entitlement-server/internal/util"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type RegisterInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
	Company  string `json:"company"`
}

type LoginInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// 账户搜索查询参数
type AccountSearchQuery struct {
	Page     int    `query:"page"`
	PageSize int    `query:"page_size"`
	Keyword  string `query:"keyword"`
	Role     string `query:"role"`
	Active   string `query:"active"`
}

func accountView(a *model.Account) fiber.Map {
	return fiber.Map{
		"id":        a.ID,
		"username":  a.Username,
		"email":     a.Email,
		"role":      a.Role,
		"active":    a.Active,
		"company":   a.Company,
		"createdat": a.CreatedAt,
		"updatedat": a.UpdatedAt,
		"lastlogin": a.LastLogin,
	}
}

// HandleRegister 创建账户并开通 30 天免费版订阅。
func (h *Handler) HandleRegister(c *fiber.Ctx) error {
	input := new(RegisterInput)
	if err := c.BodyParser(input); err != nil {
		return badRequest(c, "无效的输入数据")
	}
	input.Username = strings.TrimSpace(input.Username)
	input.Email = strings.TrimSpace(input.Email)
	if input.Username == "" || input.Email == "" || len(input.Password) < 6 {
		return badRequest(c, "用户名和邮箱不能为空，密码至少 6 位")
	}

	// 密码加密
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "密码加密失败",
		})
	}

	now := h.clock.Now()
	account := &model.Account{
		Username:  input.Username,
		Password:  string(hashedPassword),
		Email:     input.Email,
		Company:   input.Company,
		Role:      model.RoleUser,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.db.WithContext(c.UserContext()).Create(account).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "用户名或邮箱已存在",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "用户创建失败",
		})
	}

	e, _, err := h.validator.Provision(c.UserContext(), account.ID, model.TierFree, 1)
	if err != nil {
		return h.WriteError(c, err)
	}
	h.mirror(c, e, account.Username)

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"user":         accountView(account),
		"subscription": e,
	})
}

func (h *Handler) HandleLogin(c *fiber.Ctx) error {
	input := new(LoginInput)
	if err := c.BodyParser(input); err != nil {
		return badRequest(c, "无效的输入数据")
	}

	db := h.db.WithContext(c.UserContext())

	loginLog := &model.LoginLog{
		Username:  input.Username,
		IP:        c.IP(),
		UserAgent: c.Get(fiber.HeaderUserAgent),
		Status:    model.LoginSucceeded,
		CreatedAt: h.clock.Now(),
	}

	var account model.Account
	if err := db.Where("username = ?", input.Username).First(&account).Error; err != nil {
		loginLog.Status = model.LoginFailed
		db.Create(loginLog)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "用户名或密码错误",
		})
	}
	loginLog.AccountID = account.ID

	// 验证密码
	if err := bcrypt.CompareHashAndPassword([]byte(account.Password), []byte(input.Password)); err != nil {
		loginLog.Status = model.LoginFailed
		db.Create(loginLog)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "用户名或密码错误",
		})
	}
	if !account.Active {
		loginLog.Status = model.LoginFailed
		db.Create(loginLog)
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "账户已被禁用",
		})
	}

	// 记录登录日志
	db.Create(loginLog)
	// 更新最后登录时间
	account.LastLogin = h.clock.Now()
	db.Model(&account).Update("last_login", account.LastLogin)

	// 生成JWT令牌
	token, err := util.GenerateToken(account.ID, h.auth.JWTSecret, h.auth.TokenTTL)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "令牌生成失败",
		})
	}

	return c.JSON(fiber.Map{
		"token": token,
		"user":  accountView(&account),
	})
}

// HandleValidateToken 验证token的有效性
func (h *Handler) HandleValidateToken(c *fiber.Ctx) error {
	type TokenInput struct {
		Token string `json:"token"`
	}

	input := new(TokenInput)
	if err := c.BodyParser(input); err != nil || input.Token == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "未提供token",
			"valid": false,
		})
	}

	accountID, err := util.ValidateToken(input.Token, h.auth.JWTSecret)
	if err != nil {
		return c.JSON(fiber.Map{
			"valid": false,
			"error": "无效的token",
		})
	}

	var account model.Account
	if err := h.db.WithContext(c.UserContext()).First(&account, accountID).Error; err != nil || !account.Active {
		return c.JSON(fiber.Map{
			"valid": false,
			"error": "账户不存在或已被禁用",
		})
	}

	return c.JSON(fiber.Map{
		"valid": true,
		"user": fiber.Map{
			"id":       account.ID,
			"username": account.Username,
			"email":    account.Email,
			"role":     account.Role,
		},
	})
}

func (h *Handler) HandleAccountInfo(c *fiber.Ctx) error {
	return c.JSON(accountView(middleware.Account(c)))
}

func (h *Handler) HandleChangePassword(c *fiber.Ctx) error {
	type ChangePasswordInput struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}

	input := new(ChangePasswordInput)
	if err := c.BodyParser(input); err != nil {
		return badRequest(c, "无效的输入数据")
	}
	if len(input.NewPassword) < 6 {
		return badRequest(c, "新密码至少 6 位")
	}

	account := middleware.Account(c)

	// 验证当前密码
	if err := bcrypt.CompareHashAndPassword([]byte(account.Password), []byte(input.CurrentPassword)); err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "当前密码错误",
		})
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(input.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "密码加密失败",
		})
	}

	err = h.db.WithContext(c.UserContext()).Model(account).Updates(map[string]any{
		"password":   string(hashedPassword),
		"updated_at": h.clock.Now(),
	}).Error
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "密码更新失败",
		})
	}

	return c.JSON(fiber.Map{
		"message": "密码更新成功",
	})
}

func (h *Handler) HandleLoginLogs(c *fiber.Ctx) error {
	page, pageSize := pagination(c)

	var logs []model.LoginLog
	var total int64

	db := h.db.WithContext(c.UserContext()).
		Model(&model.LoginLog{}).
		Where("account_id = ?", middleware.AccountID(c)).
		Session(&gorm.Session{})

	if err := db.Count(&total).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "获取登录日志总数失败",
		})
	}

	offset := (page - 1) * pageSize
	if err := db.Order("created_at DESC").Offset(offset).Limit(pageSize).Find(&logs).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "获取登录日志失败",
		})
	}

	return c.JSON(fiber.Map{
		"logs":  logs,
		"total": total,
		"page":  page,
		"size":  pageSize,
	})
}

// HandleSearchAccounts 管理员按关键词、角色、状态查询账户
func (h *Handler) HandleSearchAccounts(c *fiber.Ctx) error {
	query := new(AccountSearchQuery)
	if err := c.QueryParser(query); err != nil {
		return badRequest(c, "无效的查询参数")
	}

	if query.Page < 1 {
		query.Page = 1
	}
	if query.PageSize < 1 {
		query.PageSize = 10
	}
	if query.PageSize > 100 {
		query.PageSize = 100
	}

	db := h.db.WithContext(c.UserContext()).Model(&model.Account{})

	if query.Keyword != "" {
		db = db.Where("username LIKE ? OR email LIKE ?",
			"%"+query.Keyword+"%", "%"+query.Keyword+"%")
	}
	if query.Role != "" {
		db = db.Where("role = ?", query.Role)
	}
	if query.Active != "" {
		active, err := strconv.ParseBool(query.Active)
		if err != nil {
			return badRequest(c, "active 必须为 true 或 false")
		}
		db = db.Where("active = ?", active)
	}
	db = db.Session(&gorm.Session{})

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "获取用户总数失败",
		})
	}

	var accounts []model.Account
	offset := (query.Page - 1) * query.PageSize
	if err := db.Order("id ASC").Offset(offset).Limit(query.PageSize).Find(&accounts).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "获取用户列表失败",
		})
	}

	users := make([]fiber.Map, 0, len(accounts))
	for i := range accounts {
		users = append(users, accountView(&accounts[i]))
	}

	return c.JSON(fiber.Map{
		"users": users,
		"total": total,
		"page":  query.Page,
		"size":  query.PageSize,
	})
}

// HandleUpdateAccount 管理员修改账户的启用状态、角色和公司
func (h *Handler) HandleUpdateAccount(c *fiber.Ctx) error {
	type UpdateAccountInput struct {
		Active  *bool  `json:"active"`
		Role    string `json:"role"`
		Company string `json:"company"`
	}

	input := new(UpdateAccountInput)
	if err := c.BodyParser(input); err != nil {
		return badRequest(c, "无效的输入数据")
	}

	accountID, err := strconv.Atoi(c.Params("id"))
	if err != nil || accountID <= 0 {
		return badRequest(c, "无效的用户ID")
	}
	if input.Role != "" && input.Role != model.RoleAdmin && input.Role != model.RoleUser {
		return badRequest(c, "无效的角色")
	}
	if uint(accountID) == middleware.AccountID(c) && input.Active != nil && !*input.Active {
		return badRequest(c, "不能禁用自己的账户")
	}

	db := h.db.WithContext(c.UserContext())

	var account model.Account
	if err := db.First(&account, accountID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "用户不存在",
		})
	}

	updates := map[string]any{"updated_at": h.clock.Now()}
	if input.Active != nil {
		updates["active"] = *input.Active
	}
	if input.Role != "" {
		updates["role"] = input.Role
	}
	if input.Company != "" {
		updates["company"] = input.Company
	}

	if err := db.Model(&account).Updates(updates).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "更新用户信息失败",
		})
	}
	if err := db.First(&account, accountID).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "获取用户信息失败",
		})
	}

	return c.JSON(accountView(&account))
}
