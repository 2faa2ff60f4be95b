package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/3Eeeecho/go-cloudvault/internal/config"
	"github.com/3Eeeecho/go-cloudvault/internal/pkg/cache"
	"github.com/3Eeeecho/go-cloudvault/internal/pkg/logger"
	"github.com/3Eeeecho/go-cloudvault/internal/pkg/mq"
	"github.com/3Eeeecho/go-cloudvault/internal/pkg/mq/worker"
	"github.com/3Eeeecho/go-cloudvault/internal/pkg/storage"
	"github.com/3Eeeecho/go-cloudvault/internal/repositories"
	"github.com/3Eeeecho/go-cloudvault/internal/router"
	"github.com/3Eeeecho/go-cloudvault/internal/services/uploader"
	"github.com/3Eeeecho/go-cloudvault/internal/setup"
	"go.uber.org/zap"
)

// Server holds every wired dependency of the process.
type Server struct {
	cfg      *config.Config
	http     *http.Server
	mqClient *mq.RabbitMQClient
	workers  *worker.Manager
	stop     context.CancelFunc
}

// NewServer builds the full dependency graph: storage, database, cache,
// queue, repositories, services, workers and the HTTP router.
func NewServer(cfg *config.Config) (*Server, error) {
	db, err := setup.InitMySQL(&cfg.MySQL)
	if err != nil {
		return nil, err
	}

	redisClient, err := setup.InitRedis(&cfg.Redis)
	if err != nil {
		return nil, err
	}
	redisCache := cache.NewRedisCache(redisClient)

	esClient, err := setup.InitElasticsearch(&cfg.Elasticsearch)
	if err != nil {
		return nil, err
	}

	local, err := storage.NewLocalService(cfg.Storage.LocalBasePath)
	if err != nil {
		return nil, err
	}
	var remote storage.Service
	if cfg.Upload.RelayEnabled {
		remote, err = storage.NewRemoteService(cfg)
		if err != nil {
			return nil, err
		}
	}

	mqClient, err := mq.NewRabbitMQClient(cfg.RabbitMQ.URL)
	if err != nil {
		return nil, err
	}

	sessionRepo := repositories.NewUploadSessionRepository(db, redisCache)
	fileRepo := repositories.NewFileRepository(db)
	logRepo := repositories.NewProcessingLogRepository(db, esClient)

	security := uploader.NewFileSecurityService(cfg.Upload.BlockedExtensions, cfg.Upload.MaxUploadSize)
	thumbs := uploader.NewThumbnailService()
	sessions := uploader.NewSessionService(sessionRepo, local, mqClient, redisCache, security, &cfg.Upload)

	workers := worker.NewManager(
		mqClient,
		worker.NewAssembleWorker(sessionRepo, local, mqClient),
		worker.NewValidateWorker(sessionRepo, fileRepo, logRepo, security, thumbs, local, mqClient, &cfg.Upload),
		worker.NewRelayWorker(fileRepo, sessionRepo, logRepo, local, remote, mqClient, cfg),
		worker.NewThumbnailWorker(fileRepo, logRepo, thumbs, local, remote, mqClient),
		worker.NewSweeper(sessionRepo, local, &cfg.Upload),
	)

	engine := router.SetupRouter(sessions, cfg)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: engine,
	}

	return &Server{
		cfg:      cfg,
		http:     httpServer,
		mqClient: mqClient,
		workers:  workers,
	}, nil
}

// Start launches the workers and the HTTP listener.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.stop = cancel

	if err := s.workers.Start(ctx); err != nil {
		cancel()
		return err
	}

	logger.Info("HTTP server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		cancel()
		return err
	}
	return nil
}

// Shutdown drains the HTTP server and stops the background workers.
func (s *Server) Shutdown() {
	if s.stop != nil {
		s.stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}

	s.mqClient.Close()
	logger.Info("Server stopped")
}
