package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"

	"github.com/matchpoint-app/matchpoint/config"
	"github.com/matchpoint-app/matchpoint/db"
	"github.com/matchpoint-app/matchpoint/handlers"
	"github.com/matchpoint-app/matchpoint/live"
	"github.com/matchpoint-app/matchpoint/repositories"
	api "github.com/matchpoint-app/matchpoint/routes"
	"github.com/matchpoint-app/matchpoint/scheduler"
	"github.com/matchpoint-app/matchpoint/services"
	"github.com/matchpoint-app/matchpoint/storage"
)

const (
	reminderInterval = 15 * time.Minute
	unfilledInterval = time.Hour
)

func main() {
	// Настройка логгера
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("configuration loaded", slog.Int("port", cfg.ServerPort))

	// Подключение к базе данных
	dbConn, err := db.Connect(cfg.DatabaseURL, 5*time.Second)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Error("failed to close database connection", slog.Any("error", err))
		} else {
			logger.Info("database connection closed")
		}
	}()
	logger.Info("database connection established")

	// Инициализация загрузчика файлов (Cloudflare R2)
	var uploader storage.FileUploader
	if cfg.StorageEnabled() {
		uploader, err = storage.NewCloudflareR2Uploader(storage.CloudflareR2UploaderConfig{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			PublicBaseURL:   cfg.R2PublicBaseURL,
		})
		if err != nil {
			logger.Error("failed to initialize Cloudflare R2 uploader", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("Cloudflare R2 uploader initialized")
	} else {
		logger.Warn("R2 storage not configured, avatar uploads disabled")
	}

	// Инициализация WebSocket Hub
	wsHub := live.NewHub(logger)
	go wsHub.Run()
	logger.Info("WebSocket Hub started")

	// Инициализация репозиториев
	playerRepo := repositories.NewPostgresPlayerRepository(dbConn)
	matchRepo := repositories.NewPostgresMatchRepository(dbConn)
	registrationRepo := repositories.NewPostgresRegistrationRepository(dbConn)
	logger.Info("Repositories initialized")

	// Инициализация сервисов
	var mailer services.EmailSender
	if cfg.EmailEnabled() {
		mailer = services.NewSMTPEmailService(cfg)
		logger.Info("SMTP mailer initialized", slog.String("host", cfg.SMTPHost))
	} else {
		logger.Warn("SMTP not configured, email notifications disabled")
	}

	notificationService := services.NewNotificationService(
		playerRepo,
		matchRepo,
		registrationRepo,
		mailer,
		logger,
	)
	matchService := services.NewMatchService(
		dbConn,
		matchRepo,
		registrationRepo,
		notificationService,
		wsHub,
		uploader,
		logger,
	)
	playerService := services.NewPlayerService(playerRepo, uploader)
	logger.Info("Services initialized")

	// Запуск планировщика напоминаний
	sched := scheduler.New(logger)
	sched.Add("match-reminders", reminderInterval, func(ctx context.Context) error {
		if err := notificationService.SendMatchReminders(ctx, repositories.ReminderWindow24h); err != nil {
			return err
		}
		return notificationService.SendMatchReminders(ctx, repositories.ReminderWindow1h)
	})
	sched.Add("unfilled-matches", unfilledInterval, notificationService.SendUnfilledMatchNotifications)

	// Инициализация обработчиков HTTP
	authHandler := handlers.NewAuthHandler(playerService)
	playerHandler := handlers.NewPlayerHandler(playerService, matchService)
	matchHandler := handlers.NewMatchHandler(matchService)
	emailHandler := handlers.NewEmailHandler(notificationService)
	webSocketHandler := handlers.NewWebSocketHandler(wsHub, logger)
	logger.Info("HTTP handlers initialized")

	// Настройка маршрутизатора
	router := chi.NewRouter()
	api.SetupRoutes(
		router,
		dbConn,
		authHandler,
		playerHandler,
		matchHandler,
		emailHandler,
		webSocketHandler,
	)
	logger.Info("Routes configured")

	// Настройка и запуск HTTP-сервера
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("address", server.Addr))
		serverErrors <- server.ListenAndServe()
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		} else {
			logger.Info("server stopped gracefully")
		}
	case sig := <-quit:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancelShutdown()

		sched.Stop()
		logger.Info("scheduler stopped")

		logger.Info("shutting down server", slog.Duration("timeout", 15*time.Second))
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", slog.Any("error", err))
			if closeErr := server.Close(); closeErr != nil {
				logger.Error("failed to force close server", slog.Any("error", closeErr))
			}
			os.Exit(1)
		} else {
			logger.Info("server shutdown complete")
		}
	}
	logger.Info("application exited")
}
