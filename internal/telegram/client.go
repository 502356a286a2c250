// client.go — HTTP-клиент Telegram Bot API.
// Бот использует четыре метода: sendMessage, declineChatJoinRequest,
// banChatMember и getMe (проверка токена при старте).
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики вызовов Bot API.
var (
	apiCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jw_telegram_api_calls_total",
		Help: "Количество вызовов Telegram Bot API",
	}, []string{"method", "outcome"}) // outcome: ok, api_error, transport_error
)

// Client — HTTP-клиент Telegram Bot API.
type Client struct {
	baseURL    string // https://api.telegram.org/bot<token>
	httpClient *http.Client
	logger     *slog.Logger
}

// New создаёт клиент Bot API.
// apiURL — базовый URL API (обычно https://api.telegram.org); token — токен бота.
// httpClient может быть nil — тогда используется клиент с таймаутом 30s.
func New(apiURL, token string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    fmt.Sprintf("%s/bot%s", apiURL, token),
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "telegram_client")),
	}
}

// call выполняет POST <baseURL>/<method> с JSON-телом.
// ok=false в ответе превращается в *APIError; сбой HTTP — обычная ошибка.
func (c *Client) call(ctx context.Context, method string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("сериализация запроса %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("создание запроса %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		apiCallsTotal.WithLabelValues(method, "transport_error").Inc()
		return fmt.Errorf("вызов %s: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		apiCallsTotal.WithLabelValues(method, "transport_error").Inc()
		return fmt.Errorf("чтение ответа %s: %w", method, err)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(data, &apiResp); err != nil {
		apiCallsTotal.WithLabelValues(method, "transport_error").Inc()
		return fmt.Errorf("декодирование ответа %s: %w", method, err)
	}

	if !apiResp.OK {
		apiCallsTotal.WithLabelValues(method, "api_error").Inc()
		c.logger.Warn("Telegram API вернул ошибку",
			slog.String("method", method),
			slog.Int("code", apiResp.ErrorCode),
			slog.String("description", apiResp.Description),
		)
		return &APIError{Code: apiResp.ErrorCode, Description: apiResp.Description}
	}

	apiCallsTotal.WithLabelValues(method, "ok").Inc()
	return nil
}

// SendMessage отправляет текстовое сообщение в чат.
// parseMode — "" (plain text) или "Markdown" (legacy markdown).
func (c *Client) SendMessage(ctx context.Context, chatID string, text, parseMode string) error {
	payload := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	if parseMode != "" {
		payload["parse_mode"] = parseMode
	}
	return c.call(ctx, "sendMessage", payload)
}

// DeclineJoinRequest отклоняет заявку пользователя на вступление в чат.
func (c *Client) DeclineJoinRequest(ctx context.Context, chatID string, userID int64) error {
	return c.call(ctx, "declineChatJoinRequest", map[string]any{
		"chat_id": chatID,
		"user_id": userID,
	})
}

// BanChatMember банит пользователя в чате.
func (c *Client) BanChatMember(ctx context.Context, chatID string, userID int64) error {
	return c.call(ctx, "banChatMember", map[string]any{
		"chat_id": chatID,
		"user_id": userID,
	})
}

// CheckToken проверяет валидность токена бота через getMe.
// Вызывается один раз при старте приложения.
func (c *Client) CheckToken(ctx context.Context) error {
	return c.call(ctx, "getMe", map[string]any{})
}
