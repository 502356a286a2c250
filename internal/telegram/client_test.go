package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
)

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// setupMockAPI создаёт mock HTTP-сервер Bot API и клиент к нему.
// handler обрабатывает все запросы к /bot<token>/<method>.
func setupMockAPI(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return New(server.URL, "123:test-token", server.Client(), testLogger())
}

func TestClient_SendMessageOK(t *testing.T) {
	var gotPath string
	var gotPayload map[string]any

	client := setupMockAPI(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Fatalf("декодирование тела запроса: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": map[string]any{}})
	})

	if err := client.SendMessage(context.Background(), "42", "привет", "Markdown"); err != nil {
		t.Fatalf("SendMessage() ошибка: %v", err)
	}

	if gotPath != "/bot123:test-token/sendMessage" {
		t.Errorf("путь запроса = %q", gotPath)
	}
	if gotPayload["chat_id"] != "42" {
		t.Errorf("chat_id = %v, ожидается 42", gotPayload["chat_id"])
	}
	if gotPayload["text"] != "привет" {
		t.Errorf("text = %v", gotPayload["text"])
	}
	if gotPayload["parse_mode"] != "Markdown" {
		t.Errorf("parse_mode = %v, ожидается Markdown", gotPayload["parse_mode"])
	}
}

func TestClient_PlainTextWithoutParseMode(t *testing.T) {
	var gotPayload map[string]any

	client := setupMockAPI(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotPayload)
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	})

	if err := client.SendMessage(context.Background(), "42", "plain", ""); err != nil {
		t.Fatalf("SendMessage() ошибка: %v", err)
	}
	if _, exists := gotPayload["parse_mode"]; exists {
		t.Error("parse_mode не должен отправляться для plain text")
	}
}

func TestClient_APIError(t *testing.T) {
	client := setupMockAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"ok":          false,
			"error_code":  400,
			"description": "Bad Request: HIDE_REQUESTER_MISSING",
		})
	})

	err := client.DeclineJoinRequest(context.Background(), "-100123", 42)
	if err == nil {
		t.Fatal("DeclineJoinRequest() не вернул ошибку")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("ошибка %v не является *APIError", err)
	}
	if apiErr.Code != 400 {
		t.Errorf("Code = %d, ожидается 400", apiErr.Code)
	}
	if apiErr.Description != "Bad Request: HIDE_REQUESTER_MISSING" {
		t.Errorf("Description = %q", apiErr.Description)
	}
}

func TestClient_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	client := New(server.URL, "123:test", server.Client(), testLogger())
	server.Close() // соединение будет отклонено

	err := client.BanChatMember(context.Background(), "-100123", 42)
	if err == nil {
		t.Fatal("BanChatMember() не вернул ошибку при недоступном сервере")
	}
	if IsAPIError(err) {
		t.Errorf("транспортная ошибка классифицирована как ошибка платформы: %v", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorKind
	}{
		{
			name:     "USER_ID_INVALID",
			err:      &APIError{Code: 400, Description: "Bad Request: USER_ID_INVALID"},
			expected: KindUserInvalid,
		},
		{
			name:     "деактивированный аккаунт",
			err:      &APIError{Code: 403, Description: "Forbidden: user is deactivated"},
			expected: KindUserInvalid,
		},
		{
			name:     "отсутствующая заявка",
			err:      &APIError{Code: 400, Description: "Bad Request: HIDE_REQUESTER_MISSING"},
			expected: KindRequesterMissing,
		},
		{
			name:     "прочая ошибка платформы",
			err:      &APIError{Code: 429, Description: "Too Many Requests: retry after 30"},
			expected: KindUnrecognized,
		},
		{
			name:     "транспортная ошибка",
			err:      errors.New("connection refused"),
			expected: KindUnrecognized,
		},
		{
			name:     "завёрнутая ошибка платформы",
			err:      errors.Join(errors.New("вызов declineChatJoinRequest"), &APIError{Code: 400, Description: "USER_ID_INVALID"}),
			expected: KindUserInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if kind := Classify(tt.err); kind != tt.expected {
				t.Errorf("Classify() = %v, ожидается %v", kind, tt.expected)
			}
		})
	}
}

func TestEscapeMarkdownLegacy(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "пустая строка", input: "", expected: ""},
		{name: "без спецсимволов", input: "обычный текст", expected: "обычный текст"},
		{name: "звёздочки", input: "a*b*c", expected: "a\\*b\\*c"},
		{name: "подчёркивания", input: "user_name", expected: "user\\_name"},
		{name: "backtick и скобка", input: "`code` [link", expected: "\\`code\\` \\[link"},
		{name: "закрывающая скобка не экранируется", input: "a]b", expected: "a]b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EscapeMarkdownLegacy(tt.input); got != tt.expected {
				t.Errorf("EscapeMarkdownLegacy(%q) = %q, ожидается %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestUserFullName(t *testing.T) {
	tests := []struct {
		name     string
		user     User
		expected string
	}{
		{name: "имя и фамилия", user: User{FirstName: "Иван", LastName: "Петров"}, expected: "Иван Петров"},
		{name: "только имя", user: User{FirstName: "Иван"}, expected: "Иван"},
		{name: "только фамилия", user: User{LastName: "Петров"}, expected: "Петров"},
		{name: "пусто", user: User{}, expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.user.FullName(); got != tt.expected {
				t.Errorf("FullName() = %q, ожидается %q", got, tt.expected)
			}
		})
	}
}
