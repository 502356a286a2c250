// sweeper.go — сервис периодической обработки заявок по расписанию.
//
// Sweeper запускает фоновую горутину с ticker (JW_SWEEP_INTERVAL),
// которая выполняет один проход Run:
//  1. Напоминания: pending-заявки старше суток без свежего напоминания
//  2. Таймауты: живые заявки с истёкшим expires_at — отклонение в Telegram
//  3. Чистка дубликатов: лишние pending-строки одной пары (user, chat)
//
// Prometheus-метрики:
//   - jw_sweep_duration_seconds — длительность прохода
//   - jw_sweep_reminders_total — отправленные напоминания
//   - jw_sweep_timeouts_total — обработанные таймауты
//   - jw_sweep_errors_total — ошибки прохода
package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/joinwarden/internal/domain/model"
	"github.com/bigkaa/joinwarden/internal/messages"
	"github.com/bigkaa/joinwarden/internal/repository"
	"github.com/bigkaa/joinwarden/internal/telegram"
)

// Prometheus-метрики прохода.
var (
	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "jw_sweep_duration_seconds",
		Help:    "Длительность одного прохода обработки заявок",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})
	sweepRemindersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jw_sweep_reminders_total",
		Help: "Количество отправленных напоминаний",
	})
	sweepTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jw_sweep_timeouts_total",
		Help: "Количество заявок, обработанных по таймауту",
	})
	sweepErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jw_sweep_errors_total",
		Help: "Количество ошибок при проходе обработки заявок",
	})
)

// SweepStats — сводка одного прохода.
type SweepStats struct {
	// RemindersSent — отправлено напоминаний.
	RemindersSent int `json:"reminders_sent"`
	// TimeoutsProcessed — заявок переведено в терминальный статус по сроку.
	TimeoutsProcessed int `json:"timeouts_processed"`
	// Errors — ошибки прохода для оператора.
	Errors []string `json:"errors,omitempty"`
}

// Sweeper — фоновый сервис напоминаний и таймаутов.
type Sweeper struct {
	requests repository.RequestRepository
	events   repository.EventRepository
	bot      BotAPI
	catalog  *messages.Catalog
	settings Settings
	interval time.Duration
	logger   *slog.Logger

	// now подменяется в тестах.
	now func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper создаёт Sweeper. interval — период запуска фонового прохода.
func NewSweeper(
	requests repository.RequestRepository,
	events repository.EventRepository,
	bot BotAPI,
	catalog *messages.Catalog,
	settings Settings,
	interval time.Duration,
	logger *slog.Logger,
) *Sweeper {
	return &Sweeper{
		requests: requests,
		events:   events,
		bot:      bot,
		catalog:  catalog,
		settings: settings,
		interval: interval,
		logger:   logger.With(slog.String("component", "sweeper")),
		now:      time.Now,
	}
}

// Start запускает фоновую горутину с периодическим проходом.
// Вызывается один раз при старте приложения.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		s.logger.Info("Периодическая обработка заявок запущена",
			slog.String("interval", s.interval.String()),
		)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Периодическая обработка заявок остановлена")
				return
			case <-ticker.C:
				stats, err := s.Run(ctx)
				if err != nil {
					s.logger.Error("Ошибка прохода обработки заявок", slog.String("error", err.Error()))
					continue
				}
				s.logger.Info("Проход обработки заявок завершён",
					slog.Int("reminders_sent", stats.RemindersSent),
					slog.Int("timeouts_processed", stats.TimeoutsProcessed),
					slog.Int("errors", len(stats.Errors)),
				)
			}
		}
	}()
}

// Stop останавливает фоновую горутину и ждёт завершения текущего прохода.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

// Run выполняет один полный проход: напоминания, таймауты, чистка дубликатов.
// Ошибка одной строки не прерывает обработку остальных — она попадает
// в Stats.Errors, а строка остаётся нетронутой до следующего прохода.
func (s *Sweeper) Run(ctx context.Context) (*SweepStats, error) {
	started := s.now()
	defer func() {
		sweepDuration.Observe(time.Since(started).Seconds())
	}()

	stats := &SweepStats{}

	if err := s.remindPass(ctx, stats); err != nil {
		return nil, err
	}
	if err := s.timeoutPass(ctx, stats); err != nil {
		return nil, err
	}

	// Страховка от путей, не вытеснивших старую заявку при подаче новой.
	if n, err := s.requests.SupersedeDuplicates(ctx); err != nil {
		return nil, fmt.Errorf("чистка дубликатов: %w", err)
	} else if n > 0 {
		s.logger.Warn("вытеснены дубликаты pending-заявок", slog.Int64("count", n))
	}

	sweepErrorsTotal.Add(float64(len(stats.Errors)))
	return stats, nil
}

// remindPass отправляет напоминания pending-заявкам старше суток,
// не напоминавшимся последние сутки.
func (s *Sweeper) remindPass(ctx context.Context, stats *SweepStats) error {
	now := s.now()
	cutoff := now.Add(-s.settings.ReminderInterval)

	rows, err := s.requests.ListDueReminders(ctx, cutoff, cutoff)
	if err != nil {
		return fmt.Errorf("выборка заявок для напоминаний: %w", err)
	}

	for _, r := range rows {
		daysLeft := int(math.Ceil(r.ExpiresAt.Sub(now).Hours() / 24))
		if daysLeft <= 0 {
			// Срок уже вышел — заявку обработает проход таймаутов.
			continue
		}

		if err := s.bot.SendMessage(ctx, userChat(r.UserID), s.catalog.DailyReminder(daysLeft), ""); err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("Reminder for %d: %v", r.UserID, err))
			continue
		}

		if err := s.requests.SetLastReminder(ctx, r.ID, now); err != nil {
			return fmt.Errorf("отметка напоминания request_id=%d: %w", r.ID, err)
		}
		s.appendEvent(ctx, &model.Event{
			RequestID: &r.ID,
			UserID:    r.UserID,
			Type:      model.EventReminderSent,
			TS:        now,
			Data:      map[string]any{"days_left": daysLeft},
		})
		stats.RemindersSent++
		sweepRemindersTotal.Inc()
	}
	return nil
}

// timeoutPass отклоняет живые заявки с истёкшим сроком.
// Переход в терминальный статус выполняется только когда Telegram
// подтвердил отклонение либо подтвердил, что заявки/аккаунта уже нет:
// строка не должна быть молча брошена из-за временной ошибки.
func (s *Sweeper) timeoutPass(ctx context.Context, stats *SweepStats) error {
	now := s.now()

	rows, err := s.requests.ListExpired(ctx, now)
	if err != nil {
		return fmt.Errorf("выборка просроченных заявок: %w", err)
	}

	for _, r := range rows {
		newer, err := s.requests.HasNewerLive(ctx, r.UserID, r.ChatID, r.ID)
		if err != nil {
			return fmt.Errorf("проверка более новой заявки request_id=%d: %w", r.ID, err)
		}
		if newer {
			// Заявитель подался заново: старая строка вытесняется,
			// новая будет обработана по своему собственному сроку.
			if err := s.requests.UpdateStatus(ctx, r.ID, model.StatusSuperseded); err != nil {
				return fmt.Errorf("вытеснение просроченной заявки request_id=%d: %w", r.ID, err)
			}
			continue
		}

		declineErr := s.bot.DeclineJoinRequest(ctx, r.ChatID, r.UserID)
		if declineErr != nil && !telegram.IsAPIError(declineErr) {
			// Транспортная ошибка: строку не трогаем, повтор на следующем проходе.
			stats.Errors = append(stats.Errors, fmt.Sprintf("Net error for %d: %v", r.UserID, declineErr))
			continue
		}
		if declineErr != nil {
			if done, err := s.resolveDeclineError(ctx, r, declineErr, now, stats); err != nil {
				return err
			} else if done {
				stats.TimeoutsProcessed++
				sweepTimeoutsTotal.Inc()
			}
			continue
		}

		if err := s.requests.UpdateStatus(ctx, r.ID, model.StatusTimedOut); err != nil {
			return fmt.Errorf("перевод в timed_out request_id=%d: %w", r.ID, err)
		}
		s.appendEvent(ctx, &model.Event{
			RequestID: &r.ID,
			UserID:    r.UserID,
			Type:      model.EventAutoRejected,
			TS:        now,
			Data:      map[string]any{"reason": "timeout"},
		})
		stats.TimeoutsProcessed++
		sweepTimeoutsTotal.Inc()

		s.notify(ctx, userChat(r.UserID), s.catalog.TimeoutUser(), "")
		if s.settings.ModChatID != 0 {
			modText := s.catalog.ModAutoReject(r.ID, telegram.EscapeMarkdownLegacy(requestUserLabel(r)), r.UserID)
			s.notify(ctx, s.settings.ModChat(), modText, "Markdown")
		}
	}
	return nil
}

// resolveDeclineError разбирает ошибку платформы при отклонении.
// Распознанные коды переводят строку в соответствующий терминальный статус
// (done=true); нераспознанные оставляют строку на повтор.
func (s *Sweeper) resolveDeclineError(ctx context.Context, r *model.Request, declineErr error, now time.Time, stats *SweepStats) (bool, error) {
	switch telegram.Classify(declineErr) {
	case telegram.KindUserInvalid:
		if err := s.requests.UpdateStatus(ctx, r.ID, model.StatusUserMissingOrBanned); err != nil {
			return false, fmt.Errorf("перевод в user_missing_or_banned request_id=%d: %w", r.ID, err)
		}
		s.appendEvent(ctx, &model.Event{
			RequestID: &r.ID,
			UserID:    r.UserID,
			Type:      model.EventAutoRejectedInvalid,
			TS:        now,
			Data:      map[string]any{"reason": "api_error_invalid", "error": declineErr.Error()},
		})
		stats.Errors = append(stats.Errors, fmt.Sprintf("User %d invalid (USER_ID_INVALID/deactivated), marked 'user_missing_or_banned'.", r.UserID))
		return true, nil

	case telegram.KindRequesterMissing:
		if err := s.requests.UpdateStatus(ctx, r.ID, model.StatusRequestNoLongerValid); err != nil {
			return false, fmt.Errorf("перевод в request_no_longer_valid request_id=%d: %w", r.ID, err)
		}
		s.appendEvent(ctx, &model.Event{
			RequestID: &r.ID,
			UserID:    r.UserID,
			Type:      model.EventAutoRejectedMissing,
			TS:        now,
			Data:      map[string]any{"reason": "api_error_missing", "error": declineErr.Error()},
		})
		stats.Errors = append(stats.Errors, fmt.Sprintf("User %d missing request (HIDE_REQUESTER_MISSING), marked 'request_no_longer_valid'.", r.UserID))
		return true, nil

	default:
		stats.Errors = append(stats.Errors, fmt.Sprintf("API Error for %d: %v", r.UserID, declineErr))
		return false, nil
	}
}

func (s *Sweeper) notify(ctx context.Context, chatID, text, parseMode string) {
	if err := s.bot.SendMessage(ctx, chatID, text, parseMode); err != nil {
		s.logger.Warn("сообщение не доставлено",
			slog.String("chat_id", chatID),
			slog.Any("error", err),
		)
	}
}

func (s *Sweeper) appendEvent(ctx context.Context, ev *model.Event) {
	if err := s.events.Append(ctx, ev); err != nil {
		s.logger.Error("событие аудита не записано",
			slog.String("event_type", string(ev.Type)),
			slog.Int64("user_id", ev.UserID),
			slog.Any("error", err),
		)
	}
}
