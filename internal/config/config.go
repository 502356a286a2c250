// Пакет config — загрузка и валидация конфигурации joinwarden
// из переменных окружения (с поддержкой .env для разработки).
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/bigkaa/joinwarden/internal/messages"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации joinwarden.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера (webhook + health + operator API)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- PostgreSQL ---

	// Хост PostgreSQL
	DBHost string
	// Порт PostgreSQL
	DBPort int
	// Имя базы данных
	DBName string
	// Имя пользователя PostgreSQL
	DBUser string
	// Пароль пользователя PostgreSQL
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- Telegram ---

	// Токен бота Telegram
	BotToken string
	// User ID администратора бота (единственный, кому доступны команды)
	AdminUserID int64
	// Chat ID чата модераторов (0 — уведомления модераторам отключены)
	ModChatID int64
	// Язык сообщений бота (ru, en)
	Language string

	// --- Политики жизненного цикла заявок ---

	// Срок действия заявки с момента подачи
	RequestExpiry time.Duration
	// Минимальный интервал между напоминаниями одному заявителю
	ReminderInterval time.Duration
	// Номер попытки, на которой заявитель банится за спам
	SpamBanAttempts int
	// Номер попытки, начиная с которой заявитель получает предупреждение
	SpamWarningAttemptsStart int
	// Максимальная длина текста ответа на анкету (символов)
	MaxMessageLength int

	// --- Фоновая обработка ---

	// Интервал запуска sweeper (напоминания + таймауты)
	SweepInterval time.Duration
	// Размер LRU-кэша дедупликации update_id
	UpdateCacheSize int

	// --- Operator API (опционально) ---

	// URL JWKS endpoint для валидации JWT operator API.
	// Пустая строка — operator API отключён.
	JWTJWKSURL string
	// Ожидаемый issuer JWT (проверяется, если задан)
	JWTIssuer string

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
// .env файл, если он есть, загружается первым (удобство разработки).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	var err error

	// --- Сервер ---

	// JW_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("JW_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("JW_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("JW_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// JW_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("JW_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("JW_LOG_LEVEL: %w", err)
	}

	// JW_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("JW_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("JW_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- PostgreSQL ---

	// JW_DB_HOST — обязательный
	cfg.DBHost, err = getEnvRequired("JW_DB_HOST")
	if err != nil {
		return nil, err
	}

	// JW_DB_PORT — порт PostgreSQL (по умолчанию 5432)
	cfg.DBPort, err = getEnvInt("JW_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("JW_DB_PORT: %w", err)
	}

	// JW_DB_NAME — обязательный
	cfg.DBName, err = getEnvRequired("JW_DB_NAME")
	if err != nil {
		return nil, err
	}

	// JW_DB_USER — обязательный
	cfg.DBUser, err = getEnvRequired("JW_DB_USER")
	if err != nil {
		return nil, err
	}

	// JW_DB_PASSWORD — обязательный
	cfg.DBPassword, err = getEnvRequired("JW_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	// JW_DB_SSL_MODE — режим SSL (по умолчанию disable)
	cfg.DBSSLMode = getEnvDefault("JW_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("JW_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- Telegram ---

	// JW_BOT_TOKEN — обязательный
	cfg.BotToken, err = getEnvRequired("JW_BOT_TOKEN")
	if err != nil {
		return nil, err
	}

	// JW_ADMIN_USER_ID — обязательный
	cfg.AdminUserID, err = getEnvInt64Required("JW_ADMIN_USER_ID")
	if err != nil {
		return nil, err
	}

	// JW_MOD_CHAT_ID — chat модераторов (по умолчанию 0 — отключено)
	cfg.ModChatID, err = getEnvInt64("JW_MOD_CHAT_ID", 0)
	if err != nil {
		return nil, fmt.Errorf("JW_MOD_CHAT_ID: %w", err)
	}

	// JW_LANGUAGE — язык сообщений (по умолчанию ru).
	// Региональные теги сводятся к базовому языку каталога: ru-RU → ru.
	cfg.Language, err = messages.ResolveLanguage(getEnvDefault("JW_LANGUAGE", "ru"))
	if err != nil {
		return nil, fmt.Errorf("JW_LANGUAGE: %w", err)
	}

	// --- Политики жизненного цикла ---

	// JW_REQUEST_EXPIRY_DAYS — срок действия заявки в днях (по умолчанию 7)
	expiryDays, err := getEnvInt("JW_REQUEST_EXPIRY_DAYS", 7)
	if err != nil {
		return nil, fmt.Errorf("JW_REQUEST_EXPIRY_DAYS: %w", err)
	}
	if expiryDays < 1 {
		return nil, fmt.Errorf("JW_REQUEST_EXPIRY_DAYS: значение %d должно быть >= 1", expiryDays)
	}
	cfg.RequestExpiry = time.Duration(expiryDays) * 24 * time.Hour

	// JW_REMINDER_INTERVAL_HOURS — интервал напоминаний в часах (по умолчанию 24)
	reminderHours, err := getEnvInt("JW_REMINDER_INTERVAL_HOURS", 24)
	if err != nil {
		return nil, fmt.Errorf("JW_REMINDER_INTERVAL_HOURS: %w", err)
	}
	if reminderHours < 1 {
		return nil, fmt.Errorf("JW_REMINDER_INTERVAL_HOURS: значение %d должно быть >= 1", reminderHours)
	}
	cfg.ReminderInterval = time.Duration(reminderHours) * time.Hour

	// JW_SPAM_BAN_ATTEMPTS — попытка, на которой выдаётся бан (по умолчанию 5)
	cfg.SpamBanAttempts, err = getEnvInt("JW_SPAM_BAN_ATTEMPTS", 5)
	if err != nil {
		return nil, fmt.Errorf("JW_SPAM_BAN_ATTEMPTS: %w", err)
	}
	if cfg.SpamBanAttempts < 2 {
		return nil, fmt.Errorf("JW_SPAM_BAN_ATTEMPTS: значение %d должно быть >= 2", cfg.SpamBanAttempts)
	}

	// JW_SPAM_WARNING_ATTEMPTS_START — попытка, с которой идут предупреждения (по умолчанию 3)
	cfg.SpamWarningAttemptsStart, err = getEnvInt("JW_SPAM_WARNING_ATTEMPTS_START", 3)
	if err != nil {
		return nil, fmt.Errorf("JW_SPAM_WARNING_ATTEMPTS_START: %w", err)
	}
	if cfg.SpamWarningAttemptsStart > cfg.SpamBanAttempts {
		return nil, fmt.Errorf("JW_SPAM_WARNING_ATTEMPTS_START: значение %d больше порога бана %d",
			cfg.SpamWarningAttemptsStart, cfg.SpamBanAttempts)
	}

	// JW_MAX_MESSAGE_LENGTH — максимальная длина ответа (по умолчанию 2000)
	cfg.MaxMessageLength, err = getEnvInt("JW_MAX_MESSAGE_LENGTH", 2000)
	if err != nil {
		return nil, fmt.Errorf("JW_MAX_MESSAGE_LENGTH: %w", err)
	}
	if cfg.MaxMessageLength < 1 {
		return nil, fmt.Errorf("JW_MAX_MESSAGE_LENGTH: значение %d должно быть >= 1", cfg.MaxMessageLength)
	}

	// --- Фоновая обработка ---

	// JW_SWEEP_INTERVAL — интервал запуска sweeper (по умолчанию 1h)
	cfg.SweepInterval, err = getEnvDuration("JW_SWEEP_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("JW_SWEEP_INTERVAL: %w", err)
	}

	// JW_UPDATE_CACHE_SIZE — размер кэша дедупликации updates (по умолчанию 4096)
	cfg.UpdateCacheSize, err = getEnvInt("JW_UPDATE_CACHE_SIZE", 4096)
	if err != nil {
		return nil, fmt.Errorf("JW_UPDATE_CACHE_SIZE: %w", err)
	}
	if cfg.UpdateCacheSize < 1 {
		return nil, fmt.Errorf("JW_UPDATE_CACHE_SIZE: значение %d должно быть >= 1", cfg.UpdateCacheSize)
	}

	// --- Operator API ---

	// JW_JWT_JWKS_URL — JWKS endpoint (пусто — operator API отключён)
	cfg.JWTJWKSURL = getEnvDefault("JW_JWT_JWKS_URL", "")

	// JW_JWT_ISSUER — ожидаемый issuer (опционально)
	cfg.JWTIssuer = getEnvDefault("JW_JWT_ISSUER", "")

	// --- Graceful shutdown ---

	// JW_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("JW_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("JW_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 из переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64Required возвращает обязательное int64 значение переменной окружения.
func getEnvInt64Required(key string) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return 0, fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: некорректное целое число: %q", key, val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
