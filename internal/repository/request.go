package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/joinwarden/internal/domain/model"
)

// requestColumns — список колонок таблицы requests для SELECT.
const requestColumns = `id, chat_id, user_id, username, display_name,
	request_date, expires_at, status, answer_text, answer_date,
	confirmed_date, last_reminder_ts`

// RequestRepository — доступ к таблице requests.
// Живые заявки (pending, answered) — единственные, над которыми
// совершаются дальнейшие переходы; терминальные строки хранятся вечно
// для аудита и подсчёта попыток.
type RequestRepository interface {
	// Insert создаёт новую заявку и заполняет её ID.
	Insert(ctx context.Context, r *model.Request) error
	// GetByID возвращает заявку по id.
	GetByID(ctx context.Context, id int64) (*model.Request, error)
	// CountAttempts возвращает общее число исторических заявок пары
	// (user, chat) во всех статусах — счётчик попыток для антиспама.
	CountAttempts(ctx context.Context, userID int64, chatID string) (int, error)
	// FindLatestLive возвращает самую свежую живую заявку пользователя
	// (по времени подачи, по всем чатам) или ErrNotFound.
	FindLatestLive(ctx context.Context, userID int64) (*model.Request, error)
	// ListLiveByUser возвращает все живые заявки пользователя по всем чатам.
	ListLiveByUser(ctx context.Context, userID int64) ([]*model.Request, error)
	// SupersedeLive переводит живые заявки пары (user, chat) в superseded.
	// Возвращает число затронутых строк.
	SupersedeLive(ctx context.Context, userID int64, chatID string) (int64, error)
	// BanLive переводит живые заявки пары (user, chat) в banned.
	BanLive(ctx context.Context, userID int64, chatID string) (int64, error)
	// UpdateStatus выставляет статус заявки.
	UpdateStatus(ctx context.Context, id int64, status model.RequestStatus) error
	// SetAnswer записывает ответ на анкету и переводит заявку в answered.
	SetAnswer(ctx context.Context, id int64, text string, answerDate time.Time) error
	// ClearAnswer стирает ответ и возвращает заявку в pending (rewrite).
	ClearAnswer(ctx context.Context, id int64) error
	// Confirm переводит заявку в confirmed и ставит confirmed_date.
	Confirm(ctx context.Context, id int64, confirmedDate time.Time) error
	// SetLastReminder фиксирует момент отправленного напоминания.
	SetLastReminder(ctx context.Context, id int64, ts time.Time) error
	// ListDueReminders возвращает pending-заявки, поданные не позже
	// requestedBefore, которым напоминание либо не отправлялось,
	// либо отправлялось не позже remindedBefore.
	ListDueReminders(ctx context.Context, requestedBefore, remindedBefore time.Time) ([]*model.Request, error)
	// ListExpired возвращает живые заявки с истёкшим сроком.
	ListExpired(ctx context.Context, now time.Time) ([]*model.Request, error)
	// HasNewerLive сообщает, есть ли у пары (user, chat) живая заявка
	// с id больше указанного (заявитель подал повторно).
	HasNewerLive(ctx context.Context, userID int64, chatID string, id int64) (bool, error)
	// CountByStatus возвращает число заявок в указанном статусе.
	CountByStatus(ctx context.Context, status model.RequestStatus) (int, error)
	// CountsByStatus возвращает число заявок по каждому статусу.
	CountsByStatus(ctx context.Context) (map[model.RequestStatus]int, error)
	// ListByStatus возвращает заявки в статусе, свежие первыми, не более limit.
	ListByStatus(ctx context.Context, status model.RequestStatus, limit int) ([]*model.Request, error)
	// SupersedeDuplicates оставляет в каждой группе (user, chat) только
	// pending-заявку с максимальным id, остальные переводит в superseded.
	// Возвращает число затронутых строк.
	SupersedeDuplicates(ctx context.Context) (int64, error)
}

// requestRepo — реализация RequestRepository.
type requestRepo struct {
	db DBTX
}

// NewRequestRepository создаёт репозиторий заявок.
func NewRequestRepository(db DBTX) RequestRepository {
	return &requestRepo{db: db}
}

func (r *requestRepo) Insert(ctx context.Context, req *model.Request) error {
	query := `
		INSERT INTO requests (chat_id, user_id, username, display_name,
			request_date, expires_at, status, answer_text, answer_date,
			confirmed_date, last_reminder_ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	err := r.db.QueryRow(ctx, query,
		req.ChatID, req.UserID, req.Username, req.DisplayName,
		req.RequestDate, req.ExpiresAt, req.Status, req.AnswerText,
		req.AnswerDate, req.ConfirmedDate, req.LastReminderTS,
	).Scan(&req.ID)
	if err != nil {
		return fmt.Errorf("ошибка создания заявки: %w", err)
	}
	return nil
}

func (r *requestRepo) GetByID(ctx context.Context, id int64) (*model.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id = $1`

	req, err := scanRequest(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения заявки: %w", err)
	}
	return req, nil
}

func (r *requestRepo) CountAttempts(ctx context.Context, userID int64, chatID string) (int, error) {
	query := `SELECT COUNT(*) FROM requests WHERE user_id = $1 AND chat_id = $2`

	var count int
	if err := r.db.QueryRow(ctx, query, userID, chatID).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта попыток: %w", err)
	}
	return count, nil
}

func (r *requestRepo) FindLatestLive(ctx context.Context, userID int64) (*model.Request, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM requests
		WHERE user_id = $1 AND status = ANY($2)
		ORDER BY request_date DESC
		LIMIT 1`

	req, err := scanRequest(r.db.QueryRow(ctx, query, userID, model.LiveStatuses()))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка поиска живой заявки: %w", err)
	}
	return req, nil
}

func (r *requestRepo) ListLiveByUser(ctx context.Context, userID int64) ([]*model.Request, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM requests
		WHERE user_id = $1 AND status = ANY($2)
		ORDER BY id`

	rows, err := r.db.Query(ctx, query, userID, model.LiveStatuses())
	if err != nil {
		return nil, fmt.Errorf("ошибка получения живых заявок: %w", err)
	}
	defer rows.Close()

	return scanRequests(rows)
}

func (r *requestRepo) SupersedeLive(ctx context.Context, userID int64, chatID string) (int64, error) {
	query := `
		UPDATE requests SET status = $1
		WHERE user_id = $2 AND chat_id = $3 AND status = ANY($4)`

	tag, err := r.db.Exec(ctx, query, model.StatusSuperseded, userID, chatID, model.LiveStatuses())
	if err != nil {
		return 0, fmt.Errorf("ошибка вытеснения живых заявок: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *requestRepo) BanLive(ctx context.Context, userID int64, chatID string) (int64, error) {
	query := `
		UPDATE requests SET status = $1
		WHERE user_id = $2 AND chat_id = $3 AND status = ANY($4)`

	tag, err := r.db.Exec(ctx, query, model.StatusBanned, userID, chatID, model.LiveStatuses())
	if err != nil {
		return 0, fmt.Errorf("ошибка бана живых заявок: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *requestRepo) UpdateStatus(ctx context.Context, id int64, status model.RequestStatus) error {
	tag, err := r.db.Exec(ctx, `UPDATE requests SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("ошибка обновления статуса: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *requestRepo) SetAnswer(ctx context.Context, id int64, text string, answerDate time.Time) error {
	query := `
		UPDATE requests
		SET answer_text = $1, answer_date = $2, status = $3
		WHERE id = $4`

	tag, err := r.db.Exec(ctx, query, text, answerDate, model.StatusAnswered, id)
	if err != nil {
		return fmt.Errorf("ошибка записи ответа: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *requestRepo) ClearAnswer(ctx context.Context, id int64) error {
	query := `
		UPDATE requests
		SET answer_text = NULL, answer_date = NULL, status = $1
		WHERE id = $2`

	tag, err := r.db.Exec(ctx, query, model.StatusPending, id)
	if err != nil {
		return fmt.Errorf("ошибка очистки ответа: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *requestRepo) Confirm(ctx context.Context, id int64, confirmedDate time.Time) error {
	query := `
		UPDATE requests
		SET status = $1, confirmed_date = $2
		WHERE id = $3`

	tag, err := r.db.Exec(ctx, query, model.StatusConfirmed, confirmedDate, id)
	if err != nil {
		return fmt.Errorf("ошибка подтверждения заявки: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *requestRepo) SetLastReminder(ctx context.Context, id int64, ts time.Time) error {
	tag, err := r.db.Exec(ctx, `UPDATE requests SET last_reminder_ts = $1 WHERE id = $2`, ts, id)
	if err != nil {
		return fmt.Errorf("ошибка фиксации напоминания: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *requestRepo) ListDueReminders(ctx context.Context, requestedBefore, remindedBefore time.Time) ([]*model.Request, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM requests
		WHERE status = $1
		  AND request_date <= $2
		  AND (last_reminder_ts IS NULL OR last_reminder_ts <= $3)
		ORDER BY id`

	rows, err := r.db.Query(ctx, query, model.StatusPending, requestedBefore, remindedBefore)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки заявок для напоминаний: %w", err)
	}
	defer rows.Close()

	return scanRequests(rows)
}

func (r *requestRepo) ListExpired(ctx context.Context, now time.Time) ([]*model.Request, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM requests
		WHERE expires_at <= $1 AND status = ANY($2)
		ORDER BY id`

	rows, err := r.db.Query(ctx, query, now, model.LiveStatuses())
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки просроченных заявок: %w", err)
	}
	defer rows.Close()

	return scanRequests(rows)
}

func (r *requestRepo) HasNewerLive(ctx context.Context, userID int64, chatID string, id int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM requests
			WHERE user_id = $1 AND chat_id = $2 AND status = ANY($3) AND id > $4
		)`

	var exists bool
	if err := r.db.QueryRow(ctx, query, userID, chatID, model.LiveStatuses(), id).Scan(&exists); err != nil {
		return false, fmt.Errorf("ошибка поиска более новой заявки: %w", err)
	}
	return exists, nil
}

func (r *requestRepo) CountByStatus(ctx context.Context, status model.RequestStatus) (int, error) {
	var count int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM requests WHERE status = $1`, status).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта заявок: %w", err)
	}
	return count, nil
}

func (r *requestRepo) CountsByStatus(ctx context.Context) (map[model.RequestStatus]int, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM requests GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчёта заявок по статусам: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.RequestStatus]int)
	for rows.Next() {
		var status model.RequestStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("ошибка чтения счётчика статусов: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка обхода счётчиков статусов: %w", err)
	}
	return counts, nil
}

func (r *requestRepo) ListByStatus(ctx context.Context, status model.RequestStatus, limit int) ([]*model.Request, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM requests
		WHERE status = $1
		ORDER BY request_date DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения заявок по статусу: %w", err)
	}
	defer rows.Close()

	return scanRequests(rows)
}

func (r *requestRepo) SupersedeDuplicates(ctx context.Context) (int64, error) {
	// В каждой группе (user_id, chat_id) выживает pending-заявка
	// с максимальным id; страховка для путей, не вытеснивших при подаче.
	query := `
		UPDATE requests
		SET status = $1
		WHERE status = $2
		  AND id NOT IN (
			SELECT MAX(id)
			FROM requests
			WHERE status = $2
			GROUP BY user_id, chat_id
		  )`

	tag, err := r.db.Exec(ctx, query, model.StatusSuperseded, model.StatusPending)
	if err != nil {
		return 0, fmt.Errorf("ошибка очистки дубликатов: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanRequest читает одну заявку из pgx.Row.
func scanRequest(row pgx.Row) (*model.Request, error) {
	req := &model.Request{}
	err := row.Scan(
		&req.ID, &req.ChatID, &req.UserID, &req.Username, &req.DisplayName,
		&req.RequestDate, &req.ExpiresAt, &req.Status, &req.AnswerText,
		&req.AnswerDate, &req.ConfirmedDate, &req.LastReminderTS,
	)
	if err != nil {
		return nil, err
	}
	return req, nil
}

// scanRequests читает все заявки из pgx.Rows.
func scanRequests(rows pgx.Rows) ([]*model.Request, error) {
	var result []*model.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения заявки: %w", err)
		}
		result = append(result, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка обхода заявок: %w", err)
	}
	return result, nil
}
