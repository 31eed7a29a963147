package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"stocktrader/internal/advisor"
	"stocktrader/internal/config"
	cronrunner "stocktrader/internal/cron"
	"stocktrader/internal/db"
	"stocktrader/internal/decision"
	"stocktrader/internal/handler"
	"stocktrader/internal/ledger"
	"stocktrader/internal/logger"
	"stocktrader/internal/marketdata"
	gormrepository "stocktrader/internal/repository/gorm"
	"stocktrader/internal/risk"
	"stocktrader/internal/screener"
	"stocktrader/internal/service"
)

func main() {
	cfgPath := flag.String("config", defaultConfigPath(), "path to config file")
	restart := flag.Bool("restart", false, "wipe trading state and start fresh")
	flag.Parse()

	envOnly := false
	if envOnlyRaw := os.Getenv("TRADER_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(*cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if *restart {
		logger.Warn("restart requested, wiping trading state")
		if err := db.Reset(dbConn); err != nil {
			logger.Fatal("state reset failed", zap.Error(err))
		}
	} else if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	store := gormrepository.New(dbConn.Gorm)
	book := ledger.New(store, logger)
	riskManager := risk.New(cfg.Risk, logger)
	marketClock := marketdata.NewMarketClock(cfg.MarketData)
	quotes := marketdata.NewYahooProvider(cfg.MarketData, logger)
	screen := screener.New(quotes, cfg.Screener, logger)
	adv := advisor.NewClient(cfg.Advisor, logger)

	executor := service.NewExecutor(book, store, quotes, riskManager, cfg.Trading, logger)
	engine := decision.NewEngine(store, adv, executor, marketClock, book,
		cfg.Trading, cfg.Risk, cfg.Review, logger)
	orchestrator := service.NewOrchestrator(store, book, screen, adv, engine,
		quotes, riskManager, marketClock, cfg.Trading, logger)

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm}
	healthHandler.Register(router)
	portfolioHandler := &handler.PortfolioHandler{Ledger: book, Repo: store}
	portfolioHandler.Register(router)
	decisionHandler := &handler.DecisionHandler{Repo: store, Engine: engine}
	decisionHandler.Register(router)
	tradeHandler := &handler.TradeHandler{Repo: store}
	tradeHandler.Register(router)

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := orchestrator.RunStartup(ctx); err != nil {
		logger.Fatal("startup pass failed", zap.Error(err))
	}

	cronRunner := cronrunner.New(logger, ctx)
	if cfg.Cron.Enabled {
		_, err = cronRunner.Add(cfg.Cron.PortfolioSnapshot, func(ctx context.Context) {
			if err := book.Snapshot(ctx); err != nil {
				logger.Warn("portfolio snapshot failed", zap.Error(err))
			}
		})
		if err != nil {
			logger.Warn("cron register portfolio snapshot failed", zap.Error(err))
		}

		_, err = cronRunner.Add(cfg.Cron.ReviewTimeout, func(ctx context.Context) {
			timedOut, err := engine.TimeoutStaleReviews(ctx)
			if err != nil {
				logger.Warn("review timeout sweep failed", zap.Error(err))
				return
			}
			if timedOut > 0 {
				logger.Info("review timeout sweep done", zap.Int("timed_out", timedOut))
			}
		})
		if err != nil {
			logger.Warn("cron register review timeout failed", zap.Error(err))
		}

		cronRunner.Start()
		defer cronRunner.Stop()
	}

	go orchestrator.Run(ctx)

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", zap.Error(err))
	}
}

func defaultConfigPath() string {
	if path := os.Getenv("TRADER_CONFIG"); path != "" {
		return path
	}
	return "config/config.yaml"
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
