// requests.go — read-only API оператора.
// GET /api/v1/requests?status=&limit= — список заявок по статусу
// GET /api/v1/stats — количество заявок по статусам
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/bigkaa/joinwarden/internal/domain/model"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// RequestReader — операции чтения заявок, нужные API.
// Реализуется repository.RequestRepository.
type RequestReader interface {
	ListByStatus(ctx context.Context, status model.RequestStatus, limit int) ([]*model.Request, error)
	CountsByStatus(ctx context.Context) (map[model.RequestStatus]int, error)
}

// RequestsHandler — обработчик read-only API заявок.
type RequestsHandler struct {
	requests RequestReader
	logger   *slog.Logger
}

// NewRequestsHandler создаёт обработчик API заявок.
func NewRequestsHandler(requests RequestReader, logger *slog.Logger) *RequestsHandler {
	return &RequestsHandler{
		requests: requests,
		logger:   logger.With(slog.String("component", "api_requests")),
	}
}

// requestItem — заявка в ответе API.
type requestItem struct {
	ID             int64   `json:"id"`
	ChatID         string  `json:"chat_id"`
	UserID         int64   `json:"user_id"`
	Username       *string `json:"username,omitempty"`
	DisplayName    *string `json:"display_name,omitempty"`
	RequestDate    string  `json:"request_date"`
	ExpiresAt      string  `json:"expires_at"`
	Status         string  `json:"status"`
	HasAnswer      bool    `json:"has_answer"`
	AnswerDate     *string `json:"answer_date,omitempty"`
	ConfirmedDate  *string `json:"confirmed_date,omitempty"`
	LastReminderTS *string `json:"last_reminder_ts,omitempty"`
}

// listResponse — ответ GET /api/v1/requests.
type listResponse struct {
	Requests []requestItem `json:"requests"`
	Count    int           `json:"count"`
}

// validStatuses — допустимые значения параметра status.
var validStatuses = map[string]model.RequestStatus{
	string(model.StatusPending):              model.StatusPending,
	string(model.StatusAnswered):             model.StatusAnswered,
	string(model.StatusConfirmed):            model.StatusConfirmed,
	string(model.StatusSuperseded):           model.StatusSuperseded,
	string(model.StatusBanned):               model.StatusBanned,
	string(model.StatusRejected):             model.StatusRejected,
	string(model.StatusTimedOut):             model.StatusTimedOut,
	string(model.StatusUserMissingOrBanned):  model.StatusUserMissingOrBanned,
	string(model.StatusRequestNoLongerValid): model.StatusRequestNoLongerValid,
}

// ListRequests — GET /api/v1/requests?status=pending&limit=50.
func (h *RequestsHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	statusParam := r.URL.Query().Get("status")
	if statusParam == "" {
		statusParam = string(model.StatusPending)
	}
	status, ok := validStatuses[statusParam]
	if !ok {
		badRequest(w, "неизвестный статус: "+statusParam)
		return
	}

	limit := defaultListLimit
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		parsed, err := strconv.Atoi(limitParam)
		if err != nil || parsed < 1 || parsed > maxListLimit {
			badRequest(w, "limit должен быть числом от 1 до "+strconv.Itoa(maxListLimit))
			return
		}
		limit = parsed
	}

	rows, err := h.requests.ListByStatus(r.Context(), status, limit)
	if err != nil {
		h.logger.Error("ошибка выборки заявок", slog.Any("error", err))
		internalError(w)
		return
	}

	resp := listResponse{Requests: make([]requestItem, 0, len(rows)), Count: len(rows)}
	for _, row := range rows {
		resp.Requests = append(resp.Requests, toRequestItem(row))
	}
	writeJSON(w, http.StatusOK, resp)
}

// statsResponse — ответ GET /api/v1/stats.
type statsResponse struct {
	Counts    map[string]int `json:"counts"`
	Timestamp string         `json:"timestamp"`
}

// GetStats — GET /api/v1/stats.
func (h *RequestsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.requests.CountsByStatus(r.Context())
	if err != nil {
		h.logger.Error("ошибка подсчёта заявок", slog.Any("error", err))
		internalError(w)
		return
	}

	resp := statsResponse{
		Counts:    make(map[string]int, len(counts)),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	for status, count := range counts {
		resp.Counts[string(status)] = count
	}
	writeJSON(w, http.StatusOK, resp)
}

func toRequestItem(r *model.Request) requestItem {
	item := requestItem{
		ID:          r.ID,
		ChatID:      r.ChatID,
		UserID:      r.UserID,
		Username:    r.Username,
		DisplayName: r.DisplayName,
		RequestDate: r.RequestDate.UTC().Format(time.RFC3339),
		ExpiresAt:   r.ExpiresAt.UTC().Format(time.RFC3339),
		Status:      string(r.Status),
		HasAnswer:   r.AnswerText != nil,
	}
	item.AnswerDate = formatTimePtr(r.AnswerDate)
	item.ConfirmedDate = formatTimePtr(r.ConfirmedDate)
	item.LastReminderTS = formatTimePtr(r.LastReminderTS)
	return item
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": message})
}

func internalError(w http.ResponseWriter) {
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "внутренняя ошибка"})
}
