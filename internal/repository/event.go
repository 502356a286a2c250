package repository

import (
	"context"
	"fmt"

	"github.com/bigkaa/joinwarden/internal/domain/model"
)

// EventRepository — append-only журнал аудита.
// События не изменяются и не удаляются.
type EventRepository interface {
	// Append добавляет запись в журнал и заполняет её ID.
	Append(ctx context.Context, e *model.Event) error
	// ListByUser возвращает события пользователя, свежие первыми, не более limit.
	ListByUser(ctx context.Context, userID int64, limit int) ([]*model.Event, error)
}

// eventRepo — реализация EventRepository.
type eventRepo struct {
	db DBTX
}

// NewEventRepository создаёт репозиторий журнала событий.
func NewEventRepository(db DBTX) EventRepository {
	return &eventRepo{db: db}
}

func (r *eventRepo) Append(ctx context.Context, e *model.Event) error {
	query := `
		INSERT INTO events (request_id, user_id, event_type, event_ts, data)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	data := e.Data
	if data == nil {
		data = map[string]any{}
	}

	err := r.db.QueryRow(ctx, query, e.RequestID, e.UserID, e.Type, e.TS, data).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("ошибка записи события: %w", err)
	}
	return nil
}

func (r *eventRepo) ListByUser(ctx context.Context, userID int64, limit int) ([]*model.Event, error) {
	query := `
		SELECT id, request_id, user_id, event_type, event_ts, data
		FROM events
		WHERE user_id = $1
		ORDER BY id DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения событий: %w", err)
	}
	defer rows.Close()

	var result []*model.Event
	for rows.Next() {
		e := &model.Event{}
		if err := rows.Scan(&e.ID, &e.RequestID, &e.UserID, &e.Type, &e.TS, &e.Data); err != nil {
			return nil, fmt.Errorf("ошибка чтения события: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка обхода событий: %w", err)
	}
	return result, nil
}
