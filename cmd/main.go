package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/chrisraro/Giya-sub000/internal/attribution"
	"github.com/chrisraro/Giya-sub000/internal/config"
	"github.com/chrisraro/Giya-sub000/internal/handler"
	"github.com/chrisraro/Giya-sub000/internal/matching"
	"github.com/chrisraro/Giya-sub000/internal/ocr"
	"github.com/chrisraro/Giya-sub000/internal/repository"
	"github.com/chrisraro/Giya-sub000/internal/scheduler"
	"github.com/chrisraro/Giya-sub000/internal/service"
	"github.com/chrisraro/Giya-sub000/internal/storage"
	"github.com/chrisraro/Giya-sub000/pkg/logger"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}

	db, err := initDatabase(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database:", err)
	}
	defer closeDatabase(db)

	receiptRepo := repository.NewReceiptRepository(db)
	businessRepo := repository.NewBusinessRepository(db)
	customerRepo := repository.NewCustomerRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)

	matcher := matching.New(matcherConfig(cfg.Matching))
	ocrClient := ocr.NewClient(&cfg.OCR)
	imageStore := storage.NewLocalStore(&cfg.Storage)
	tracker := attribution.NewClient(&cfg.Attribution)

	processor := service.NewProcessor(
		receiptRepo, businessRepo, customerRepo, ledgerRepo,
		ocrClient, matcher, imageStore, tracker,
		time.Duration(cfg.OCR.Timeout)*time.Second,
	)

	if cfg.Reconciliation.Enabled {
		reconciler := service.NewReconciler(receiptRepo, customerRepo, ledgerRepo,
			time.Duration(cfg.Reconciliation.StaleAfterMinutes)*time.Minute)
		reconcileScheduler := scheduler.NewReconcileScheduler(reconciler, cfg.Reconciliation.Cron)
		if err := reconcileScheduler.Start(); err != nil {
			logger.Fatal("Failed to start scheduler:", err)
		}
		defer reconcileScheduler.Stop()
	}

	router := chi.NewRouter()
	receiptHandler := handler.NewReceiptHandler(processor, receiptRepo)
	receiptHandler.Routes(router)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("Server starting on port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed:", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error:", err)
	}

	logger.Info("Server stopped")
}

func initDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN()), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)

	return db, nil
}

func closeDatabase(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		logger.Error("Failed to get database instance:", err)
		return
	}
	sqlDB.Close()
}

func matcherConfig(cfg config.MatchingConfig) matching.Config {
	mc := matching.DefaultConfig()
	if cfg.MinWordLength > 0 {
		mc.MinWordLength = cfg.MinWordLength
	}
	if cfg.MinCompactLength > 0 {
		mc.MinCompactLength = cfg.MinCompactLength
	}
	if cfg.PartialWordWeight > 0 {
		mc.PartialWordWeight = cfg.PartialWordWeight
	}
	if cfg.WordRatioThreshold > 0 {
		mc.WordRatioThreshold = cfg.WordRatioThreshold
	}
	if cfg.SimilarityThreshold > 0 {
		mc.SimilarityThreshold = cfg.SimilarityThreshold
	}
	if len(cfg.BrandTokens) > 0 {
		mc.BrandTokens = cfg.BrandTokens
	}
	return mc
}
