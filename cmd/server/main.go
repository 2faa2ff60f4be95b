package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/3Eeeecho/go-cloudvault/internal/config"
	"github.com/3Eeeecho/go-cloudvault/internal/pkg/logger"
	"go.uber.org/zap"
)

// @title           go-cloudvault API
// @version         1.0
// @description     Resumable chunked upload service with asynchronous assembly, validation and remote relay.
// @BasePath        /api/v1
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger.InitLogger(cfg.Log.OutputPath, cfg.Log.ErrorPath, cfg.Log.Level)
	defer logger.Sync()

	server, err := NewServer(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize server", zap.Error(err))
	}

	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal("Server exited with error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutdown signal received")
	server.Shutdown()
}
