// webhook.go — приём обновлений Telegram Bot API.
// POST /webhook: декодирование Update, дедупликация по update_id
// (Telegram повторяет доставку, пока не получит 200), передача в Dispatcher.
// Ответ всегда 200 OK: ошибки обработки логируются, но не возвращаются
// Telegram, иначе обновление будет доставляться бесконечно.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/bigkaa/joinwarden/internal/telegram"
)

// UpdateDispatcher — маршрутизация обновления в бизнес-логику.
// Реализуется service.Dispatcher.
type UpdateDispatcher interface {
	Dispatch(ctx context.Context, upd *telegram.Update) error
}

// updateCacheTTL — срок хранения update_id в кэше дедупликации.
// Telegram прекращает повторы задолго до часа.
const updateCacheTTL = time.Hour

// WebhookHandler — обработчик webhook Telegram.
type WebhookHandler struct {
	dispatcher UpdateDispatcher
	seen       *expirable.LRU[int64, struct{}]
	logger     *slog.Logger
}

// NewWebhookHandler создаёт обработчик webhook.
// cacheSize — ёмкость кэша дедупликации update_id.
func NewWebhookHandler(dispatcher UpdateDispatcher, cacheSize int, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		dispatcher: dispatcher,
		seen:       expirable.NewLRU[int64, struct{}](cacheSize, nil, updateCacheTTL),
		logger:     logger.With(slog.String("component", "webhook")),
	}
}

// HandleUpdate — POST /webhook.
func (h *WebhookHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	logger := h.logger.With(slog.String("trace_id", uuid.NewString()))

	var upd telegram.Update
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		logger.Warn("невалидное тело webhook", slog.Any("error", err))
		w.WriteHeader(http.StatusOK)
		return
	}

	if _, dup := h.seen.Get(upd.UpdateID); dup {
		logger.Debug("повторная доставка обновления", slog.Int64("update_id", upd.UpdateID))
		w.WriteHeader(http.StatusOK)
		return
	}
	h.seen.Add(upd.UpdateID, struct{}{})

	if err := h.dispatcher.Dispatch(r.Context(), &upd); err != nil {
		logger.Error("ошибка обработки обновления",
			slog.Int64("update_id", upd.UpdateID),
			slog.Any("error", err),
		)
	}

	w.WriteHeader(http.StatusOK)
}
