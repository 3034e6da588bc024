package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"entitlement-server/internal/config"
	"entitlement-server/internal/model"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDB 打开数据库、自动迁移并确保管理员账户存在。
func InitDB(cfg config.Config, log zerolog.Logger) (*gorm.DB, error) {
	dialector, err := dialect(cfg.Database)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("数据库连接失败: %w", err)
	}

	if cfg.Database.Driver == "sqlite" {
		// SQLite 同一时刻只允许一个写者，单连接避免 database is locked
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(model.All()...); err != nil {
		return nil, fmt.Errorf("数据库迁移失败: %w", err)
	}

	created, err := EnsureAdmin(db, cfg.Auth.AdminUsername, cfg.Auth.AdminPassword)
	if err != nil {
		return nil, err
	}
	if created {
		log.Info().Str("username", cfg.Auth.AdminUsername).Msg("已创建默认管理员账户")
	}

	return db, nil
}

func dialect(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "postgres":
		return postgres.Open(cfg.DSN), nil
	case "sqlite", "":
		dsn := cfg.DSN
		if !strings.HasPrefix(dsn, "file:") && !strings.Contains(dsn, ":memory:") {
			if dir := filepath.Dir(dsn); dir != "." {
				if err := os.MkdirAll(dir, 0755); err != nil {
					return nil, fmt.Errorf("创建数据目录失败: %w", err)
				}
			}
			if !strings.Contains(dsn, "?") {
				dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
			}
		}
		return sqlite.Open(dsn), nil
	}
	return nil, fmt.Errorf("不支持的数据库驱动 %q", cfg.Driver)
}

// EnsureAdmin 在管理员账户不存在时创建它，返回是否新建。
func EnsureAdmin(db *gorm.DB, username, password string) (bool, error) {
	var adminCount int64
	if err := db.Model(&model.Account{}).Where("username = ?", username).Count(&adminCount).Error; err != nil {
		return false, fmt.Errorf("查询管理员账户失败: %w", err)
	}
	if adminCount > 0 {
		return false, nil
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return false, fmt.Errorf("生成密码哈希失败: %w", err)
	}

	admin := &model.Account{
		Username:  username,
		Password:  string(hashedPassword),
		Email:     username + "@example.com",
		Role:      model.RoleAdmin,
		Active:    true,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := db.Create(admin).Error; err != nil {
		return false, fmt.Errorf("创建管理员账户失败: %w", err)
	}
	return true, nil
}
