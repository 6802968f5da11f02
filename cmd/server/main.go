package main // service entry point

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/pressly/goose/v3"

	"github.com/iliyamo/library-seat-settlement/internal/config"
	"github.com/iliyamo/library-seat-settlement/internal/database"
	"github.com/iliyamo/library-seat-settlement/internal/fanout"
	"github.com/iliyamo/library-seat-settlement/internal/gateway"
	"github.com/iliyamo/library-seat-settlement/internal/handler"
	"github.com/iliyamo/library-seat-settlement/internal/mirror"
	"github.com/iliyamo/library-seat-settlement/internal/queue"
	"github.com/iliyamo/library-seat-settlement/internal/repository"
	"github.com/iliyamo/library-seat-settlement/internal/router"
	"github.com/iliyamo/library-seat-settlement/internal/settlement"
	"github.com/iliyamo/library-seat-settlement/internal/sweeper"
)

func main() {
	// .env is a developer convenience; in production the variables come
	// from the environment and the file is simply absent.
	_ = godotenv.Load()
	cfg := config.Load()

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.Env)}))
	slog.SetDefault(log)

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Error("database connect failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := goose.SetDialect("mysql"); err != nil {
		log.Error("goose dialect", "err", err)
		os.Exit(1)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		log.Error("migrations failed", "err", err)
		os.Exit(1)
	}
	log.Info("migrations applied")

	rdb := config.NewRedisClient() // nil when Redis is absent; caching and rate limits degrade

	seatRepo := repository.NewSeatRepo(db, cfg.SeatCount)
	paymentRepo := repository.NewPaymentRepo(db)
	memberRepo := repository.NewMemberRepo(db)

	gw := gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewayKeyID, cfg.GatewayKeySecret, cfg.WebhookSecret)

	hub := fanout.NewHub()
	notifier := fanout.NewDispatcher(hub, rdb, log)

	engine := settlement.NewEngine(seatRepo, paymentRepo, memberRepo, gw, notifier, cfg.Currency, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var mirrorWriter sweeper.MirrorWriter
	if cfg.MirrorPath != "" {
		mirrorWriter = mirror.NewWriter(cfg.MirrorPath)
	}
	sw := sweeper.New(seatRepo, memberRepo, paymentRepo, mirrorWriter, notifier, log,
		time.Duration(cfg.SweepIntervalSec)*time.Second, cfg.StaleAttemptDays)
	go sw.Run(ctx)

	go func() {
		if err := queue.StartAuditConsumer(); err != nil {
			log.Error("audit consumer stopped", "err", err)
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())

	h := router.Handlers{
		Payments: handler.NewPaymentHandler(engine),
		Webhook:  handler.NewWebhookHandler(engine, gw),
		Seats: handler.NewSeatHandler(seatRepo, memberRepo, notifier, rdb,
			time.Duration(cfg.SeatCacheTTLSec)*time.Second),
		Members: handler.NewMemberHandler(memberRepo),
		Admin:   handler.NewAdminHandler(engine, paymentRepo, seatRepo, memberRepo, notifier),
		Hub:     hub,
	}
	router.Register(e, &cfg, rdb, h)

	go func() {
		addr := ":" + cfg.Port
		log.Info("listening", "addr", addr, "env", cfg.Env, "seats", cfg.SeatCount)
		if err := e.Start(addr); err != nil {
			log.Info("http server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", "err", err)
	}
	log.Info("graceful shutdown complete")
}

// logLevel maps the environment to a log verbosity: debug everywhere
// except prod.
func logLevel(env string) slog.Level {
	if env == "prod" || env == "production" {
		return slog.LevelInfo
	}
	return slog.LevelDebug
}
