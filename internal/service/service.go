// Пакет service — бизнес-логика joinwarden: жизненный цикл заявок,
// периодическая обработка напоминаний и таймаутов, команды администратора.
// Слой не знает о транспорте (webhook) и хранилище (pgx) напрямую —
// работает через интерфейсы repository и BotAPI.
package service

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// ErrNoLiveRequest возвращается, когда у пользователя нет живых
// (pending или answered) заявок.
var ErrNoLiveRequest = errors.New("нет живых заявок")

// BotAPI — операции Telegram Bot API, используемые сервисным слоем.
// Реализуется telegram.Client; в тестах подменяется фейком.
type BotAPI interface {
	// SendMessage отправляет текстовое сообщение в чат.
	// parseMode — "" (plain text) или "Markdown".
	SendMessage(ctx context.Context, chatID string, text, parseMode string) error
	// DeclineJoinRequest отклоняет заявку пользователя на вступление.
	DeclineJoinRequest(ctx context.Context, chatID string, userID int64) error
	// BanChatMember банит пользователя в чате.
	BanChatMember(ctx context.Context, chatID string, userID int64) error
}

// Settings — параметры политики обработки заявок.
// Передаются явно при создании сервисов, а не читаются из глобального
// состояния: это позволяет тестировать разные пороги рядом.
type Settings struct {
	// ModChatID — чат модераторов (0 — уведомления модераторам отключены).
	ModChatID int64
	// AdminUserID — единственный пользователь, которому доступны команды.
	AdminUserID int64
	// RequestExpiry — срок жизни заявки с момента подачи.
	RequestExpiry time.Duration
	// ReminderInterval — минимальный интервал между напоминаниями.
	ReminderInterval time.Duration
	// SpamBanAttempts — N-я подача заявки от одной пары (user, chat) банит.
	SpamBanAttempts int
	// SpamWarningAttemptsStart — с какой попытки слать предупреждение.
	SpamWarningAttemptsStart int
	// MaxMessageLength — ограничение длины входящего текста.
	MaxMessageLength int
}

// ModChat возвращает chat_id чата модераторов в строковом виде Bot API.
func (s Settings) ModChat() string {
	return strconv.FormatInt(s.ModChatID, 10)
}

// ExpiryDays — срок жизни заявки в целых днях (для текстов анкеты).
func (s Settings) ExpiryDays() int {
	return int(s.RequestExpiry / (24 * time.Hour))
}

// userChat возвращает chat_id личной переписки с пользователем.
func userChat(userID int64) string {
	return strconv.FormatInt(userID, 10)
}
