package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"entitlement-server/internal/abuse"
	"entitlement-server/internal/config"
	"entitlement-server/internal/database"
	"entitlement-server/internal/device"
	"entitlement-server/internal/entitlement"
	"entitlement-server/internal/feature"
	"entitlement-server/internal/handler"
	"entitlement-server/internal/logging"
	"entitlement-server/internal/metrics"
	"entitlement-server/internal/middleware"
	"entitlement-server/internal/service"

	"github.com/coder/quartz"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	sweepInterval   = time.Minute
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New(logging.Config{}).Fatal().Err(err).Msg("加载配置失败")
	}

	log := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("服务异常退出")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 初始化数据库
	db, err := database.InitDB(*cfg, log)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	clock := quartz.NewReal()
	oplog := service.NewOperationLog(db, clock, log)

	validator := entitlement.NewValidator(entitlement.NewGormStore(db, cfg.Database.StoreTimeout), clock, log, m)
	validator.SetAuditor(oplog)

	policy, err := device.ParsePolicy(cfg.Device.Policy)
	if err != nil {
		return err
	}
	devices := device.NewManager(device.NewGormStore(db, cfg.Database.StoreTimeout), clock, policy, cfg.Device.Cooldown, log, m)
	devices.SetAuditor(oplog)

	table, err := feature.NewTable(cfg.Feature.Permissions)
	if err != nil {
		return err
	}
	detector := abuse.NewDetector(clock, cfg.Feature.AbuseWindow, cfg.Feature.AbuseLimit, log, m)
	gate := feature.NewGate(table, validator, detector, clock, cfg.Feature.FreshnessWindow, m)

	sheets, err := service.NewSheetSyncService(ctx, cfg.Sheets, log)
	if err != nil {
		return err
	}

	h := handler.New(handler.Deps{
		DB:        db,
		Auth:      cfg.Auth,
		Clock:     clock,
		Validator: validator,
		Devices:   devices,
		Gate:      gate,
		Detector:  detector,
		OpLog:     oplog,
		Sheets:    sheets,
		Log:       log,
	})

	app := fiber.New(fiber.Config{
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	// 中间件
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.RequestLogger(log))
	app.Use(cors.New())
	app.Use("/api", limiter.New(limiter.Config{
		Max:        cfg.RateLimit.Max,
		Expiration: cfg.RateLimit.Window,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "请求过于频繁，请稍后再试",
			})
		},
	}))

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	h.Register(app)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", cfg.Server.Addr).Str("policy", string(policy)).Msg("服务已启动")
		return app.Listen(cfg.Server.Addr)
	})

	sweeper := detector.RunSweeper(ctx, sweepInterval)
	g.Go(func() error {
		if err := sweeper.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("正在关闭服务")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info().Msg("服务已关闭")
	return nil
}
