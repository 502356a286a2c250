package repository

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/joinwarden/internal/config"
	"github.com/bigkaa/joinwarden/internal/database"
	"github.com/bigkaa/joinwarden/internal/domain/model"
)

// setupTestDB запускает PostgreSQL контейнер, применяет миграции.
// Возвращает pgxpool.Pool; очистка через t.Cleanup.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("joinwarden_test"),
		postgres.WithUsername("joinwarden"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	// Настраиваем env для config.Load()
	t.Setenv("JW_DB_HOST", host)
	t.Setenv("JW_DB_PORT", port.Port())
	t.Setenv("JW_DB_NAME", "joinwarden_test")
	t.Setenv("JW_DB_USER", "joinwarden")
	t.Setenv("JW_DB_PASSWORD", "test-password")
	t.Setenv("JW_DB_SSL_MODE", "disable")
	t.Setenv("JW_BOT_TOKEN", "123:test")
	t.Setenv("JW_ADMIN_USER_ID", "1")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Ошибка миграций: %v", err)
	}

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	return pool
}

// insertRequest создаёт заявку с заданными параметрами.
func insertRequest(t *testing.T, repo RequestRepository, userID int64, chatID string, status model.RequestStatus, requestDate time.Time, expiry time.Duration) *model.Request {
	t.Helper()

	req := &model.Request{
		ChatID:      chatID,
		UserID:      userID,
		RequestDate: requestDate,
		ExpiresAt:   requestDate.Add(expiry),
		Status:      status,
	}
	if err := repo.Insert(context.Background(), req); err != nil {
		t.Fatalf("Insert() ошибка: %v", err)
	}
	return req
}

func TestRequestRepository_InsertAndGet(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewRequestRepository(pool)

	now := time.Now().UTC().Truncate(time.Second)
	username := "applicant"
	display := "Test Applicant"
	req := &model.Request{
		ChatID:      "-100123",
		UserID:      101,
		Username:    &username,
		DisplayName: &display,
		RequestDate: now,
		ExpiresAt:   now.Add(7 * 24 * time.Hour),
		Status:      model.StatusPending,
	}

	if err := repo.Insert(ctx, req); err != nil {
		t.Fatalf("Insert() ошибка: %v", err)
	}
	if req.ID == 0 {
		t.Fatal("Insert() не заполнил ID")
	}

	got, err := repo.GetByID(ctx, req.ID)
	if err != nil {
		t.Fatalf("GetByID() ошибка: %v", err)
	}
	if got.Status != model.StatusPending {
		t.Errorf("Status = %q, ожидается pending", got.Status)
	}
	if got.Username == nil || *got.Username != "applicant" {
		t.Errorf("Username = %v, ожидается applicant", got.Username)
	}
	if got.AnswerText != nil {
		t.Errorf("AnswerText = %v, ожидается nil", got.AnswerText)
	}

	if _, err := repo.GetByID(ctx, 999999); err != ErrNotFound {
		t.Errorf("GetByID(несуществующий) = %v, ожидается ErrNotFound", err)
	}
}

func TestRequestRepository_CountAttempts(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewRequestRepository(pool)

	now := time.Now().UTC()
	// Попытки считаются по всем статусам, включая терминальные
	insertRequest(t, repo, 201, "-100", model.StatusSuperseded, now.Add(-72*time.Hour), time.Hour)
	insertRequest(t, repo, 201, "-100", model.StatusBanned, now.Add(-48*time.Hour), time.Hour)
	insertRequest(t, repo, 201, "-100", model.StatusPending, now, 24*time.Hour)
	// Другая пара — не учитывается
	insertRequest(t, repo, 201, "-200", model.StatusPending, now, 24*time.Hour)
	insertRequest(t, repo, 202, "-100", model.StatusPending, now, 24*time.Hour)

	count, err := repo.CountAttempts(ctx, 201, "-100")
	if err != nil {
		t.Fatalf("CountAttempts() ошибка: %v", err)
	}
	if count != 3 {
		t.Errorf("CountAttempts() = %d, ожидается 3", count)
	}
}

func TestRequestRepository_FindLatestLive(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewRequestRepository(pool)

	now := time.Now().UTC()

	if _, err := repo.FindLatestLive(ctx, 301); err != ErrNotFound {
		t.Fatalf("FindLatestLive(без заявок) = %v, ожидается ErrNotFound", err)
	}

	insertRequest(t, repo, 301, "-100", model.StatusTimedOut, now.Add(-time.Hour), time.Hour)
	old := insertRequest(t, repo, 301, "-100", model.StatusAnswered, now.Add(-30*time.Minute), 24*time.Hour)
	fresh := insertRequest(t, repo, 301, "-200", model.StatusPending, now, 24*time.Hour)

	got, err := repo.FindLatestLive(ctx, 301)
	if err != nil {
		t.Fatalf("FindLatestLive() ошибка: %v", err)
	}
	if got.ID != fresh.ID {
		t.Errorf("FindLatestLive() id = %d, ожидается %d (самая свежая живая)", got.ID, fresh.ID)
	}
	_ = old
}

func TestRequestRepository_AnswerLifecycle(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewRequestRepository(pool)

	now := time.Now().UTC().Truncate(time.Second)
	req := insertRequest(t, repo, 401, "-100", model.StatusPending, now, 24*time.Hour)

	// Ответ: pending → answered
	if err := repo.SetAnswer(ctx, req.ID, "мой ответ", now); err != nil {
		t.Fatalf("SetAnswer() ошибка: %v", err)
	}
	got, _ := repo.GetByID(ctx, req.ID)
	if got.Status != model.StatusAnswered {
		t.Errorf("Status = %q, ожидается answered", got.Status)
	}
	if got.AnswerText == nil || *got.AnswerText != "мой ответ" {
		t.Errorf("AnswerText = %v, ожидается записанный текст", got.AnswerText)
	}
	if got.AnswerDate == nil {
		t.Error("AnswerDate не установлен")
	}

	// Rewrite: answered → pending, ответ стёрт
	if err := repo.ClearAnswer(ctx, req.ID); err != nil {
		t.Fatalf("ClearAnswer() ошибка: %v", err)
	}
	got, _ = repo.GetByID(ctx, req.ID)
	if got.Status != model.StatusPending {
		t.Errorf("Status после rewrite = %q, ожидается pending", got.Status)
	}
	if got.AnswerText != nil || got.AnswerDate != nil {
		t.Error("ответ не стёрт после ClearAnswer")
	}

	// Подтверждение: answered → confirmed
	if err := repo.SetAnswer(ctx, req.ID, "финальный ответ", now); err != nil {
		t.Fatalf("SetAnswer() ошибка: %v", err)
	}
	if err := repo.Confirm(ctx, req.ID, now); err != nil {
		t.Fatalf("Confirm() ошибка: %v", err)
	}
	got, _ = repo.GetByID(ctx, req.ID)
	if got.Status != model.StatusConfirmed {
		t.Errorf("Status = %q, ожидается confirmed", got.Status)
	}
	if got.ConfirmedDate == nil {
		t.Error("ConfirmedDate не установлен")
	}
}

func TestRequestRepository_SupersedeAndBanLive(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewRequestRepository(pool)

	now := time.Now().UTC()
	p := insertRequest(t, repo, 501, "-100", model.StatusPending, now.Add(-time.Hour), 24*time.Hour)
	a := insertRequest(t, repo, 501, "-100", model.StatusAnswered, now, 24*time.Hour)
	terminal := insertRequest(t, repo, 501, "-100", model.StatusTimedOut, now.Add(-48*time.Hour), time.Hour)

	n, err := repo.SupersedeLive(ctx, 501, "-100")
	if err != nil {
		t.Fatalf("SupersedeLive() ошибка: %v", err)
	}
	if n != 2 {
		t.Errorf("SupersedeLive() затронуло %d строк, ожидается 2", n)
	}
	for _, id := range []int64{p.ID, a.ID} {
		got, _ := repo.GetByID(ctx, id)
		if got.Status != model.StatusSuperseded {
			t.Errorf("заявка %d: статус %q, ожидается superseded", id, got.Status)
		}
	}
	got, _ := repo.GetByID(ctx, terminal.ID)
	if got.Status != model.StatusTimedOut {
		t.Errorf("терминальная заявка изменена: %q", got.Status)
	}

	// BanLive над свежими живыми заявками
	b1 := insertRequest(t, repo, 502, "-100", model.StatusPending, now, 24*time.Hour)
	b2 := insertRequest(t, repo, 502, "-100", model.StatusAnswered, now, 24*time.Hour)
	n, err = repo.BanLive(ctx, 502, "-100")
	if err != nil {
		t.Fatalf("BanLive() ошибка: %v", err)
	}
	if n != 2 {
		t.Errorf("BanLive() затронуло %d строк, ожидается 2", n)
	}
	for _, id := range []int64{b1.ID, b2.ID} {
		got, _ := repo.GetByID(ctx, id)
		if got.Status != model.StatusBanned {
			t.Errorf("заявка %d: статус %q, ожидается banned", id, got.Status)
		}
	}
}

func TestRequestRepository_DueSelections(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewRequestRepository(pool)

	now := time.Now().UTC().Truncate(time.Second)
	dayAgo := now.Add(-24 * time.Hour)

	// Кандидат на напоминание: подана 25h назад, напоминаний не было
	due := insertRequest(t, repo, 601, "-100", model.StatusPending, now.Add(-25*time.Hour), 7*24*time.Hour)
	// Недавно напомнили — не кандидат
	recent := insertRequest(t, repo, 602, "-100", model.StatusPending, now.Add(-25*time.Hour), 7*24*time.Hour)
	if err := repo.SetLastReminder(ctx, recent.ID, now.Add(-10*time.Hour)); err != nil {
		t.Fatalf("SetLastReminder() ошибка: %v", err)
	}
	// Напоминали давно — снова кандидат
	stale := insertRequest(t, repo, 603, "-100", model.StatusPending, now.Add(-72*time.Hour), 7*24*time.Hour)
	if err := repo.SetLastReminder(ctx, stale.ID, now.Add(-25*time.Hour)); err != nil {
		t.Fatalf("SetLastReminder() ошибка: %v", err)
	}
	// Слишком свежая — не кандидат
	insertRequest(t, repo, 604, "-100", model.StatusPending, now.Add(-time.Hour), 7*24*time.Hour)
	// answered — напоминания только для pending
	insertRequest(t, repo, 605, "-100", model.StatusAnswered, now.Add(-25*time.Hour), 7*24*time.Hour)

	reminders, err := repo.ListDueReminders(ctx, dayAgo, dayAgo)
	if err != nil {
		t.Fatalf("ListDueReminders() ошибка: %v", err)
	}
	ids := map[int64]bool{}
	for _, r := range reminders {
		ids[r.ID] = true
	}
	if len(reminders) != 2 || !ids[due.ID] || !ids[stale.ID] {
		t.Errorf("ListDueReminders() вернул %d заявок (%v), ожидаются id %d и %d",
			len(reminders), ids, due.ID, stale.ID)
	}

	// Просроченные: живые с expires_at <= now
	expired := insertRequest(t, repo, 606, "-100", model.StatusAnswered, now.Add(-8*24*time.Hour), 7*24*time.Hour)
	insertRequest(t, repo, 607, "-100", model.StatusTimedOut, now.Add(-8*24*time.Hour), 7*24*time.Hour)

	expiredRows, err := repo.ListExpired(ctx, now)
	if err != nil {
		t.Fatalf("ListExpired() ошибка: %v", err)
	}
	found := false
	for _, r := range expiredRows {
		if r.ID == expired.ID {
			found = true
		}
		if r.Status != model.StatusPending && r.Status != model.StatusAnswered {
			t.Errorf("ListExpired() вернул неживую заявку %d (%s)", r.ID, r.Status)
		}
	}
	if !found {
		t.Errorf("ListExpired() не вернул просроченную заявку %d", expired.ID)
	}
}

func TestRequestRepository_HasNewerLive(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewRequestRepository(pool)

	now := time.Now().UTC()
	oldReq := insertRequest(t, repo, 701, "-100", model.StatusPending, now.Add(-48*time.Hour), 24*time.Hour)

	newer, err := repo.HasNewerLive(ctx, 701, "-100", oldReq.ID)
	if err != nil {
		t.Fatalf("HasNewerLive() ошибка: %v", err)
	}
	if newer {
		t.Error("HasNewerLive() = true без более новой заявки")
	}

	insertRequest(t, repo, 701, "-100", model.StatusPending, now, 24*time.Hour)

	newer, err = repo.HasNewerLive(ctx, 701, "-100", oldReq.ID)
	if err != nil {
		t.Fatalf("HasNewerLive() ошибка: %v", err)
	}
	if !newer {
		t.Error("HasNewerLive() = false при наличии более новой живой заявки")
	}
}

func TestRequestRepository_SupersedeDuplicates(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewRequestRepository(pool)

	now := time.Now().UTC()
	d1 := insertRequest(t, repo, 801, "-100", model.StatusPending, now.Add(-2*time.Hour), 24*time.Hour)
	d2 := insertRequest(t, repo, 801, "-100", model.StatusPending, now.Add(-time.Hour), 24*time.Hour)
	keep := insertRequest(t, repo, 801, "-100", model.StatusPending, now, 24*time.Hour)
	other := insertRequest(t, repo, 802, "-100", model.StatusPending, now, 24*time.Hour)

	n, err := repo.SupersedeDuplicates(ctx)
	if err != nil {
		t.Fatalf("SupersedeDuplicates() ошибка: %v", err)
	}
	if n != 2 {
		t.Errorf("SupersedeDuplicates() затронуло %d строк, ожидается 2", n)
	}

	for _, id := range []int64{d1.ID, d2.ID} {
		got, _ := repo.GetByID(ctx, id)
		if got.Status != model.StatusSuperseded {
			t.Errorf("дубликат %d: статус %q, ожидается superseded", id, got.Status)
		}
	}
	for _, id := range []int64{keep.ID, other.ID} {
		got, _ := repo.GetByID(ctx, id)
		if got.Status != model.StatusPending {
			t.Errorf("заявка %d: статус %q, ожидается pending", id, got.Status)
		}
	}
}

func TestEventRepository_AppendAndList(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewEventRepository(pool)

	reqID := int64(42)
	e1 := &model.Event{
		RequestID: &reqID,
		UserID:    901,
		Type:      model.EventSubmitted,
		TS:        time.Now().UTC(),
		Data:      map[string]any{"chat_id": "-100123"},
	}
	if err := repo.Append(ctx, e1); err != nil {
		t.Fatalf("Append() ошибка: %v", err)
	}
	if e1.ID == 0 {
		t.Fatal("Append() не заполнил ID")
	}

	// Событие без привязки к заявке (бан без живой строки)
	e2 := &model.Event{
		UserID: 901,
		Type:   model.EventBannedSpam,
		TS:     time.Now().UTC(),
		Data:   map[string]any{"attempts": 5},
	}
	if err := repo.Append(ctx, e2); err != nil {
		t.Fatalf("Append() без request_id ошибка: %v", err)
	}

	events, err := repo.ListByUser(ctx, 901, 10)
	if err != nil {
		t.Fatalf("ListByUser() ошибка: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("ListByUser() вернул %d событий, ожидается 2", len(events))
	}
	// Свежие первыми
	if events[0].Type != model.EventBannedSpam {
		t.Errorf("события не отсортированы: первым %q, ожидается banned_spam", events[0].Type)
	}
	if events[0].RequestID != nil {
		t.Errorf("RequestID = %v, ожидается nil", events[0].RequestID)
	}
	if events[1].RequestID == nil || *events[1].RequestID != 42 {
		t.Errorf("RequestID = %v, ожидается 42", events[1].RequestID)
	}
}
