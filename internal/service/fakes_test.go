package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bigkaa/joinwarden/internal/domain/model"
	"github.com/bigkaa/joinwarden/internal/repository"
)

// fakeRequestRepo — in-memory реализация RequestRepository для unit-тестов
// сервисного слоя. Интеграционные тесты настоящего репозитория живут
// в пакете repository.
type fakeRequestRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   []*model.Request
}

func newFakeRequestRepo() *fakeRequestRepo {
	return &fakeRequestRepo{nextID: 1}
}

func (f *fakeRequestRepo) byID(id int64) *model.Request {
	for _, r := range f.rows {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (f *fakeRequestRepo) Insert(_ context.Context, req *model.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	req.ID = f.nextID
	f.nextID++
	f.rows = append(f.rows, req)
	return nil
}

func (f *fakeRequestRepo) GetByID(_ context.Context, id int64) (*model.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r := f.byID(id); r != nil {
		return r, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeRequestRepo) CountAttempts(_ context.Context, userID int64, chatID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, r := range f.rows {
		if r.UserID == userID && r.ChatID == chatID {
			count++
		}
	}
	return count, nil
}

func (f *fakeRequestRepo) FindLatestLive(_ context.Context, userID int64) (*model.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *model.Request
	for _, r := range f.rows {
		if r.UserID != userID || !r.Status.IsLive() {
			continue
		}
		if latest == nil || r.RequestDate.After(latest.RequestDate) {
			latest = r
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	return latest, nil
}

func (f *fakeRequestRepo) ListLiveByUser(_ context.Context, userID int64) ([]*model.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Request
	for _, r := range f.rows {
		if r.UserID == userID && r.Status.IsLive() {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRequestRepo) SupersedeLive(_ context.Context, userID int64, chatID string) (int64, error) {
	return f.transitionLive(userID, chatID, model.StatusSuperseded), nil
}

func (f *fakeRequestRepo) BanLive(_ context.Context, userID int64, chatID string) (int64, error) {
	return f.transitionLive(userID, chatID, model.StatusBanned), nil
}

func (f *fakeRequestRepo) transitionLive(userID int64, chatID string, to model.RequestStatus) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, r := range f.rows {
		if r.UserID == userID && r.ChatID == chatID && r.Status.IsLive() {
			r.Status = to
			n++
		}
	}
	return n
}

func (f *fakeRequestRepo) UpdateStatus(_ context.Context, id int64, status model.RequestStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.byID(id)
	if r == nil {
		return repository.ErrNotFound
	}
	r.Status = status
	return nil
}

func (f *fakeRequestRepo) SetAnswer(_ context.Context, id int64, text string, answerDate time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.byID(id)
	if r == nil {
		return repository.ErrNotFound
	}
	r.AnswerText = &text
	r.AnswerDate = &answerDate
	r.Status = model.StatusAnswered
	return nil
}

func (f *fakeRequestRepo) ClearAnswer(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.byID(id)
	if r == nil {
		return repository.ErrNotFound
	}
	r.AnswerText = nil
	r.AnswerDate = nil
	r.Status = model.StatusPending
	return nil
}

func (f *fakeRequestRepo) Confirm(_ context.Context, id int64, confirmedDate time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.byID(id)
	if r == nil {
		return repository.ErrNotFound
	}
	r.Status = model.StatusConfirmed
	r.ConfirmedDate = &confirmedDate
	return nil
}

func (f *fakeRequestRepo) SetLastReminder(_ context.Context, id int64, ts time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.byID(id)
	if r == nil {
		return repository.ErrNotFound
	}
	r.LastReminderTS = &ts
	return nil
}

func (f *fakeRequestRepo) ListDueReminders(_ context.Context, requestedBefore, remindedBefore time.Time) ([]*model.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Request
	for _, r := range f.rows {
		if r.Status != model.StatusPending {
			continue
		}
		if r.RequestDate.After(requestedBefore) {
			continue
		}
		if r.LastReminderTS != nil && r.LastReminderTS.After(remindedBefore) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeRequestRepo) ListExpired(_ context.Context, now time.Time) ([]*model.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Request
	for _, r := range f.rows {
		if r.Status.IsLive() && !r.ExpiresAt.After(now) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRequestRepo) HasNewerLive(_ context.Context, userID int64, chatID string, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if r.UserID == userID && r.ChatID == chatID && r.Status.IsLive() && r.ID > id {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRequestRepo) CountByStatus(_ context.Context, status model.RequestStatus) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, r := range f.rows {
		if r.Status == status {
			count++
		}
	}
	return count, nil
}

func (f *fakeRequestRepo) CountsByStatus(_ context.Context) (map[model.RequestStatus]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[model.RequestStatus]int)
	for _, r := range f.rows {
		out[r.Status]++
	}
	return out, nil
}

func (f *fakeRequestRepo) ListByStatus(_ context.Context, status model.RequestStatus, limit int) ([]*model.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Request
	for _, r := range f.rows {
		if r.Status == status {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RequestDate.After(out[j].RequestDate)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRequestRepo) SupersedeDuplicates(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	maxID := make(map[string]int64)
	for _, r := range f.rows {
		if r.Status != model.StatusPending {
			continue
		}
		key := fmt.Sprintf("%d/%s", r.UserID, r.ChatID)
		if r.ID > maxID[key] {
			maxID[key] = r.ID
		}
	}
	var n int64
	for _, r := range f.rows {
		if r.Status != model.StatusPending {
			continue
		}
		key := fmt.Sprintf("%d/%s", r.UserID, r.ChatID)
		if r.ID != maxID[key] {
			r.Status = model.StatusSuperseded
			n++
		}
	}
	return n, nil
}

// fakeEventRepo — in-memory журнал событий.
type fakeEventRepo struct {
	mu     sync.Mutex
	events []*model.Event
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{}
}

func (f *fakeEventRepo) Append(_ context.Context, e *model.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e.ID = int64(len(f.events) + 1)
	f.events = append(f.events, e)
	return nil
}

func (f *fakeEventRepo) ListByUser(_ context.Context, userID int64, limit int) ([]*model.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Event
	for i := len(f.events) - 1; i >= 0 && len(out) < limit; i-- {
		if f.events[i].UserID == userID {
			out = append(out, f.events[i])
		}
	}
	return out, nil
}

// types возвращает типы событий в порядке записи.
func (f *fakeEventRepo) types() []model.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.EventType, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

// botCall — записанный вызов Bot API.
type botCall struct {
	method    string // sendMessage, declineChatJoinRequest, banChatMember
	chatID    string
	userID    int64
	text      string
	parseMode string
}

// fakeBot — BotAPI, записывающий вызовы. Ошибки отклонения заявок
// программируются через declineErr (по chat_id).
type fakeBot struct {
	mu         sync.Mutex
	calls      []botCall
	declineErr map[string]error
	sendErr    error
}

func newFakeBot() *fakeBot {
	return &fakeBot{declineErr: make(map[string]error)}
}

func (f *fakeBot) SendMessage(_ context.Context, chatID string, text, parseMode string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, botCall{method: "sendMessage", chatID: chatID, text: text, parseMode: parseMode})
	return f.sendErr
}

func (f *fakeBot) DeclineJoinRequest(_ context.Context, chatID string, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, botCall{method: "declineChatJoinRequest", chatID: chatID, userID: userID})
	return f.declineErr[chatID]
}

func (f *fakeBot) BanChatMember(_ context.Context, chatID string, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, botCall{method: "banChatMember", chatID: chatID, userID: userID})
	return nil
}

// sentTo возвращает тексты сообщений, отправленных в указанный чат.
func (f *fakeBot) sentTo(chatID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if c.method == "sendMessage" && c.chatID == chatID {
			out = append(out, c.text)
		}
	}
	return out
}

// methodCalls возвращает вызовы указанного метода.
func (f *fakeBot) methodCalls(method string) []botCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []botCall
	for _, c := range f.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}
