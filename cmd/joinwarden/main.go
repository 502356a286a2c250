// Точка входа joinwarden — бот модерации заявок на вступление в Telegram-чат.
// Загружает конфигурацию, подключается к PostgreSQL, применяет миграции,
// создаёт Telegram-клиент, сервисный слой и HTTP handlers, запускает
// фоновый sweeper (напоминания + таймауты) и HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/bigkaa/joinwarden/internal/api/handlers"
	"github.com/bigkaa/joinwarden/internal/api/middleware"
	"github.com/bigkaa/joinwarden/internal/config"
	"github.com/bigkaa/joinwarden/internal/database"
	"github.com/bigkaa/joinwarden/internal/messages"
	"github.com/bigkaa/joinwarden/internal/repository"
	"github.com/bigkaa/joinwarden/internal/server"
	"github.com/bigkaa/joinwarden/internal/service"
	"github.com/bigkaa/joinwarden/internal/telegram"
)

// Базовый URL Telegram Bot API.
const telegramAPIURL = "https://api.telegram.org"

// Допуск на рассинхронизацию часов при валидации JWT.
const jwtLeeway = 30 * time.Second

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("joinwarden запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("language", cfg.Language),
	)

	if cfg.ModChatID == 0 {
		logger.Warn("JW_MOD_CHAT_ID не задан, уведомления модераторам отключены")
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 5. Telegram Bot API клиент + проверка токена
	botClient := telegram.New(telegramAPIURL, cfg.BotToken, nil, logger)
	if err := botClient.CheckToken(ctx); err != nil {
		logger.Error("Ошибка проверки токена бота", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Токен бота проверен")

	// 6. Каталог сообщений
	bundle := messages.NewBundle(logger)
	if err := bundle.LoadFromEmbedFS(); err != nil {
		logger.Error("Ошибка загрузки каталогов сообщений", slog.String("error", err.Error()))
		os.Exit(1)
	}
	catalog := messages.NewCatalog(bundle, cfg.Language)

	// 7. Repositories
	requestRepo := repository.NewRequestRepository(pool)
	eventRepo := repository.NewEventRepository(pool)

	// 8. Сервисный слой
	settings := service.Settings{
		ModChatID:                cfg.ModChatID,
		AdminUserID:              cfg.AdminUserID,
		RequestExpiry:            cfg.RequestExpiry,
		ReminderInterval:         cfg.ReminderInterval,
		SpamBanAttempts:          cfg.SpamBanAttempts,
		SpamWarningAttemptsStart: cfg.SpamWarningAttemptsStart,
		MaxMessageLength:         cfg.MaxMessageLength,
	}

	engine := service.NewEngine(requestRepo, eventRepo, botClient, catalog, settings, logger)
	sweeper := service.NewSweeper(requestRepo, eventRepo, botClient, catalog, settings, cfg.SweepInterval, logger)
	admin := service.NewCommandProcessor(requestRepo, engine, sweeper, botClient, catalog, settings, logger)
	dispatcher := service.NewDispatcher(engine, admin)

	// 9. HTTP handlers
	webhookHandler := handlers.NewWebhookHandler(dispatcher, cfg.UpdateCacheSize, logger)
	pgChecker := database.NewReadinessChecker(pool)
	healthHandler := handlers.NewHealthHandler(pgChecker)
	requestsHandler := handlers.NewRequestsHandler(requestRepo, logger)

	// 10. JWT middleware для operator API
	// Пустой JW_JWT_JWKS_URL — operator API отключён целиком.
	var jwtAuth *middleware.JWTAuth
	if cfg.JWTJWKSURL != "" {
		jwtAuth, err = middleware.NewJWTAuth(ctx, cfg.JWTJWKSURL, cfg.JWTIssuer, jwtLeeway, logger)
		if err != nil {
			logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("Operator API включён",
			slog.String("jwks_url", cfg.JWTJWKSURL),
			slog.String("issuer", cfg.JWTIssuer),
		)
	} else {
		logger.Info("Operator API отключён (JW_JWT_JWKS_URL не задан)")
	}

	// 11. Запуск фонового sweeper
	sweeper.Start(ctx)

	// 12. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, webhookHandler, healthHandler, requestsHandler, jwtAuth)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 13. Graceful shutdown фоновых задач
	logger.Info("Останавливаем фоновые задачи...")
	sweeper.Stop()

	logger.Info("joinwarden остановлен")
}
