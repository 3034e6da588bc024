package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DevicePolicySingle = "single"
	DevicePolicyQuota  = "quota"
)

type Config struct {
	Env       string          `mapstructure:"env"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Device    DeviceConfig    `mapstructure:"device"`
	Feature   FeatureConfig   `mapstructure:"feature"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Log       LogConfig       `mapstructure:"log"`
	Sheets    SheetsConfig    `mapstructure:"sheets"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Driver       string        `mapstructure:"driver"` // sqlite, postgres
	DSN          string        `mapstructure:"dsn"`
	StoreTimeout time.Duration `mapstructure:"store_timeout"`
}

type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret"`
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
	AdminUsername string        `mapstructure:"admin_username"`
	AdminPassword string        `mapstructure:"admin_password"`
}

type DeviceConfig struct {
	Policy   string        `mapstructure:"policy"`
	Cooldown time.Duration `mapstructure:"cooldown"`
}

type FeatureConfig struct {
	FreshnessWindow time.Duration `mapstructure:"freshness_window"`
	AbuseWindow     time.Duration `mapstructure:"abuse_window"`
	AbuseLimit      int           `mapstructure:"abuse_limit"`
	// Permissions 覆盖默认的功能权限表，启动时加载后不再变化。
	Permissions map[string]string `mapstructure:"permissions"`
}

type RateLimitConfig struct {
	Max    int           `mapstructure:"max"`
	Window time.Duration `mapstructure:"window"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, console
}

type SheetsConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Credentials   string `mapstructure:"credentials"`
	SpreadsheetID string `mapstructure:"spreadsheet_id"`
	SheetName     string `mapstructure:"sheet_name"`
}

func (c *Config) IsDev() bool {
	return c.Env == "" || c.Env == "development"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")

	v.SetDefault("server.addr", ":3000")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "data/entitlement.db")
	v.SetDefault("database.store_timeout", 5*time.Second)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 7*24*time.Hour)
	v.SetDefault("auth.admin_username", "admin")
	v.SetDefault("auth.admin_password", "admin")

	v.SetDefault("device.policy", DevicePolicySingle)
	v.SetDefault("device.cooldown", 10*time.Minute)

	v.SetDefault("feature.freshness_window", 60*time.Second)
	v.SetDefault("feature.abuse_window", 60*time.Second)
	v.SetDefault("feature.abuse_limit", 20)
	v.SetDefault("feature.permissions", map[string]string{})

	v.SetDefault("ratelimit.max", 100)
	v.SetDefault("ratelimit.window", 15*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("sheets.enabled", false)
	v.SetDefault("sheets.credentials", "")
	v.SetDefault("sheets.spreadsheet_id", "")
	v.SetDefault("sheets.sheet_name", "Entitlements")
}

// Load 先读取 .env（不存在则忽略），再按 默认值 < 配置文件 < 环境变量 的顺序合并。
// 环境变量名为键名大写并把 "." 换成 "_"，例如 DEVICE_COOLDOWN=5m。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("读取 .env 失败: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validTiers = map[string]bool{"free": true, "basic": true, "premium": true, "enterprise": true}

func (c *Config) Validate() error {
	switch c.Device.Policy {
	case DevicePolicySingle, DevicePolicyQuota:
	default:
		return fmt.Errorf("未知的设备策略 %q", c.Device.Policy)
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("不支持的数据库驱动 %q", c.Database.Driver)
	}
	if c.Device.Cooldown <= 0 {
		return errors.New("device.cooldown 必须大于 0")
	}
	if c.Feature.FreshnessWindow <= 0 || c.Feature.AbuseWindow <= 0 {
		return errors.New("feature 时间窗口必须大于 0")
	}
	if c.Feature.AbuseLimit <= 0 {
		return errors.New("feature.abuse_limit 必须大于 0")
	}
	if c.Database.StoreTimeout <= 0 {
		return errors.New("database.store_timeout 必须大于 0")
	}
	for feature, tier := range c.Feature.Permissions {
		if !validTiers[tier] {
			return fmt.Errorf("功能 %s 的等级 %q 无效", feature, tier)
		}
	}
	if c.Auth.JWTSecret == "" {
		if !c.IsDev() {
			return errors.New("生产环境必须设置 AUTH_JWT_SECRET")
		}
		c.Auth.JWTSecret = "dev-secret"
	}
	return nil
}
