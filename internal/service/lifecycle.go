package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/joinwarden/internal/domain/model"
	"github.com/bigkaa/joinwarden/internal/messages"
	"github.com/bigkaa/joinwarden/internal/repository"
	"github.com/bigkaa/joinwarden/internal/telegram"
)

var (
	requestsSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jw_requests_submitted_total",
		Help: "Количество принятых заявок на вступление.",
	})
	spamBansTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jw_spam_bans_total",
		Help: "Количество банов за спам заявками.",
	})
	answersConfirmedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jw_answers_confirmed_total",
		Help: "Количество подтверждённых и переданных модераторам анкет.",
	})
)

// Engine — ядро жизненного цикла заявок: подача, анкета, подтверждение,
// ручное отклонение, вступление в группу.
type Engine struct {
	requests repository.RequestRepository
	events   repository.EventRepository
	bot      BotAPI
	catalog  *messages.Catalog
	settings Settings
	logger   *slog.Logger

	// now подменяется в тестах.
	now func() time.Time
}

// NewEngine создаёт Engine.
func NewEngine(
	requests repository.RequestRepository,
	events repository.EventRepository,
	bot BotAPI,
	catalog *messages.Catalog,
	settings Settings,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		requests: requests,
		events:   events,
		bot:      bot,
		catalog:  catalog,
		settings: settings,
		logger:   logger.With(slog.String("component", "lifecycle")),
		now:      time.Now,
	}
}

// Submit обрабатывает новую заявку на вступление в чат.
// Порядок: подсчёт исторических попыток → бан за спам либо вытеснение
// старой живой заявки и вставка новой → анкета в личку → предупреждение
// при приближении к порогу бана.
func (e *Engine) Submit(ctx context.Context, jr *telegram.ChatJoinRequest) error {
	user := jr.From
	chatID := strconv.FormatInt(jr.Chat.ID, 10)
	now := e.now()

	// Попытки считаются по всем статусам, включая терминальные:
	// счётчик никогда не сбрасывается, повторение само по себе — сигнал спама.
	attempts, err := e.requests.CountAttempts(ctx, user.ID, chatID)
	if err != nil {
		return fmt.Errorf("подсчёт попыток user_id=%d: %w", user.ID, err)
	}

	if attempts >= e.settings.SpamBanAttempts-1 {
		return e.banForSpam(ctx, &user, chatID, attempts)
	}

	if _, err := e.requests.SupersedeLive(ctx, user.ID, chatID); err != nil {
		return fmt.Errorf("вытеснение живых заявок user_id=%d: %w", user.ID, err)
	}

	req := &model.Request{
		ChatID:      chatID,
		UserID:      user.ID,
		RequestDate: now,
		ExpiresAt:   now.Add(e.settings.RequestExpiry),
		Status:      model.StatusPending,
	}
	if user.Username != "" {
		req.Username = &user.Username
	}
	if name := user.FullName(); name != "" {
		req.DisplayName = &name
	}
	if err := e.requests.Insert(ctx, req); err != nil {
		return fmt.Errorf("вставка заявки user_id=%d: %w", user.ID, err)
	}
	requestsSubmittedTotal.Inc()

	e.appendEvent(ctx, &model.Event{
		RequestID: &req.ID,
		UserID:    user.ID,
		Type:      model.EventSubmitted,
		TS:        now,
		Data:      map[string]any{"chat_id": chatID, "chat_title": jr.Chat.Title},
	})

	e.logger.Info("заявка принята",
		slog.Int64("request_id", req.ID),
		slog.Int64("user_id", user.ID),
		slog.String("chat_id", chatID),
		slog.Int("attempt", attempts+1),
	)

	questions := e.catalog.Questions(telegram.EscapeMarkdownLegacy(jr.Chat.Title), e.settings.ExpiryDays())
	e.notify(ctx, userChat(user.ID), questions, "Markdown")

	if attempts >= e.settings.SpamWarningAttemptsStart-1 {
		e.notify(ctx, userChat(user.ID), e.catalog.SpamWarning(attempts+1), "")
	}
	return nil
}

// banForSpam выполняет процедуру бана: действия в Telegram best-effort,
// затем перевод живых строк в banned и событие аудита.
func (e *Engine) banForSpam(ctx context.Context, user *telegram.User, chatID string, attempts int) error {
	if err := e.bot.BanChatMember(ctx, chatID, user.ID); err != nil {
		e.logger.Warn("бан в Telegram не выполнен", slog.Int64("user_id", user.ID), slog.Any("error", err))
	}
	if err := e.bot.DeclineJoinRequest(ctx, chatID, user.ID); err != nil {
		e.logger.Warn("отклонение заявки при бане не выполнено", slog.Int64("user_id", user.ID), slog.Any("error", err))
	}
	e.notify(ctx, userChat(user.ID), e.catalog.Banned(), "")

	if _, err := e.requests.BanLive(ctx, user.ID, chatID); err != nil {
		return fmt.Errorf("перевод заявок в banned user_id=%d: %w", user.ID, err)
	}
	spamBansTotal.Inc()

	e.appendEvent(ctx, &model.Event{
		UserID: user.ID,
		Type:   model.EventBannedSpam,
		TS:     e.now(),
		Data:   map[string]any{"attempts": attempts + 1},
	})

	e.logger.Warn("пользователь забанен за спам заявками",
		slog.Int64("user_id", user.ID),
		slog.String("chat_id", chatID),
		slog.Int("attempts", attempts+1),
	)

	if e.settings.ModChatID != 0 {
		text := e.catalog.ModSpamBan(
			telegram.EscapeMarkdownLegacy(user.FirstName),
			user.ID,
			telegram.EscapeMarkdownLegacy(user.Username),
			attempts+1,
		)
		e.notify(ctx, e.settings.ModChat(), text, "Markdown")
	}
	return nil
}

// ReceiveAnswer обрабатывает личное сообщение заявителя: первый текст
// становится ответом на анкету, следующий — подтверждением или переписыванием.
// Ветвление определяется наличием answer_text, а не только статусом строки.
func (e *Engine) ReceiveAnswer(ctx context.Context, userID int64, text string) error {
	text = truncate(text, e.settings.MaxMessageLength)
	now := e.now()

	req, err := e.requests.FindLatestLive(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			e.notify(ctx, userChat(userID), e.catalog.NoPendingRequest(), "")
			return nil
		}
		return fmt.Errorf("поиск живой заявки user_id=%d: %w", userID, err)
	}

	if req.AnswerText == nil {
		if err := e.requests.SetAnswer(ctx, req.ID, text, now); err != nil {
			return fmt.Errorf("сохранение ответа request_id=%d: %w", req.ID, err)
		}
		e.appendEvent(ctx, &model.Event{
			RequestID: &req.ID,
			UserID:    userID,
			Type:      model.EventAnswered,
			TS:        now,
			Data:      map[string]any{"answer": text},
		})
		e.notify(ctx, userChat(userID), e.catalog.Confirmation(telegram.EscapeMarkdownLegacy(text)), "Markdown")
		return nil
	}

	if req.Status != model.StatusAnswered {
		return nil
	}

	if messages.IsAffirmative(text) {
		return e.confirm(ctx, req, now)
	}
	return e.requestRewrite(ctx, req, now)
}

func (e *Engine) confirm(ctx context.Context, req *model.Request, now time.Time) error {
	if err := e.requests.Confirm(ctx, req.ID, now); err != nil {
		return fmt.Errorf("подтверждение заявки request_id=%d: %w", req.ID, err)
	}
	answersConfirmedTotal.Inc()

	e.appendEvent(ctx, &model.Event{
		RequestID: &req.ID,
		UserID:    req.UserID,
		Type:      model.EventConfirmed,
		TS:        now,
	})

	e.logger.Info("анкета подтверждена",
		slog.Int64("request_id", req.ID),
		slog.Int64("user_id", req.UserID),
	)

	profileLink := fmt.Sprintf("tg://user?id=%d", req.UserID)
	modText := e.catalog.ModNewRequest(
		telegram.EscapeMarkdownLegacy(requestUserLabel(req)),
		telegram.EscapeMarkdownLegacy(strValue(req.DisplayName)),
		req.UserID,
		profileLink,
		telegram.EscapeMarkdownLegacy(strValue(req.AnswerText)),
		telegram.EscapeMarkdownLegacy(req.ChatID),
		req.RequestDate.UTC().Format(time.RFC3339),
		req.ExpiresAt.UTC().Format(time.RFC3339),
	)
	e.notify(ctx, e.settings.ModChat(), modText, "Markdown")
	e.notify(ctx, userChat(req.UserID), e.catalog.SentToModerators(), "")
	return nil
}

func (e *Engine) requestRewrite(ctx context.Context, req *model.Request, now time.Time) error {
	if err := e.requests.ClearAnswer(ctx, req.ID); err != nil {
		return fmt.Errorf("сброс ответа request_id=%d: %w", req.ID, err)
	}
	e.appendEvent(ctx, &model.Event{
		RequestID: &req.ID,
		UserID:    req.UserID,
		Type:      model.EventRewriteRequested,
		TS:        now,
	})
	e.notify(ctx, userChat(req.UserID), e.catalog.RewriteRequested(), "")
	return nil
}

// RejectOutcome — сводка ручного отклонения заявок пользователя.
type RejectOutcome struct {
	// Rejected — количество успешно отклонённых заявок.
	Rejected int
	// Failed — количество заявок, оставшихся без изменения из-за ошибок.
	Failed int
	// Errors — сообщения об ошибках для администратора.
	Errors []string
}

// ManualReject отклоняет все живые заявки пользователя по всем чатам.
// Возвращает ErrNoLiveRequest, если живых заявок нет.
// Транспортная или нераспознанная ошибка платформы оставляет строку
// без изменений; HIDE_REQUESTER_MISSING считается успешным отклонением.
func (e *Engine) ManualReject(ctx context.Context, targetUserID int64) (*RejectOutcome, error) {
	rows, err := e.requests.ListLiveByUser(ctx, targetUserID)
	if err != nil {
		return nil, fmt.Errorf("поиск живых заявок user_id=%d: %w", targetUserID, err)
	}
	if len(rows) == 0 {
		return nil, ErrNoLiveRequest
	}

	outcome := &RejectOutcome{}
	for _, r := range rows {
		err := e.bot.DeclineJoinRequest(ctx, r.ChatID, r.UserID)
		if err != nil && !telegram.IsAPIError(err) {
			outcome.Failed++
			outcome.Errors = append(outcome.Errors, fmt.Sprintf("Pending status kept. Net error: %v", err))
			continue
		}
		if err != nil {
			kind := telegram.Classify(err)
			if kind != telegram.KindRequesterMissing {
				outcome.Failed++
				outcome.Errors = append(outcome.Errors, fmt.Sprintf("API Error: %v", err))
				continue
			}
			// Заявки уже нет в Telegram — считаем отклонённой.
			if err := e.rejectRow(ctx, r, model.EventAdminRejectedMissing, map[string]any{
				"admin_id": e.settings.AdminUserID,
				"note":     "request was missing in TG",
			}); err != nil {
				return nil, err
			}
			outcome.Rejected++
			continue
		}

		if err := e.rejectRow(ctx, r, model.EventAdminRejected, map[string]any{
			"admin_id": e.settings.AdminUserID,
		}); err != nil {
			return nil, err
		}
		outcome.Rejected++
	}
	return outcome, nil
}

func (e *Engine) rejectRow(ctx context.Context, r *model.Request, eventType model.EventType, data map[string]any) error {
	if err := e.requests.UpdateStatus(ctx, r.ID, model.StatusRejected); err != nil {
		return fmt.Errorf("перевод в rejected request_id=%d: %w", r.ID, err)
	}
	e.appendEvent(ctx, &model.Event{
		RequestID: &r.ID,
		UserID:    r.UserID,
		Type:      eventType,
		TS:        e.now(),
		Data:      data,
	})
	return nil
}

// HandleChatMember обрабатывает изменение статуса участника: новый member
// получает приветствие, модераторы — уведомление о вступлении.
func (e *Engine) HandleChatMember(ctx context.Context, cm *telegram.ChatMemberUpdated) error {
	if cm.NewChatMember.Status != "member" {
		return nil
	}
	user := cm.NewChatMember.User
	if user.IsBot {
		return nil
	}

	e.appendEvent(ctx, &model.Event{
		UserID: user.ID,
		Type:   model.EventMemberJoined,
		TS:     e.now(),
		Data:   map[string]any{"chat_id": strconv.FormatInt(cm.Chat.ID, 10), "added_by": cm.From.ID},
	})

	title := telegram.EscapeMarkdownLegacy(cm.Chat.Title)
	e.notify(ctx, userChat(user.ID), e.catalog.Welcome(title), "Markdown")

	if e.settings.ModChatID != 0 {
		text := e.catalog.ModUserAdded(
			telegram.EscapeMarkdownLegacy(user.FullName()),
			userRef(&user),
			telegram.EscapeMarkdownLegacy(cm.From.FullName()),
			userRef(&cm.From),
			title,
		)
		e.notify(ctx, e.settings.ModChat(), text, "Markdown")
	}
	return nil
}

// notify отправляет сообщение best-effort: ошибка логируется, но не
// прерывает уже выполненные переходы состояния.
func (e *Engine) notify(ctx context.Context, chatID, text, parseMode string) {
	if err := e.bot.SendMessage(ctx, chatID, text, parseMode); err != nil {
		e.logger.Warn("сообщение не доставлено",
			slog.String("chat_id", chatID),
			slog.Any("error", err),
		)
	}
}

// appendEvent пишет событие аудита; сбой журнала не откатывает переход.
func (e *Engine) appendEvent(ctx context.Context, ev *model.Event) {
	if err := e.events.Append(ctx, ev); err != nil {
		e.logger.Error("событие аудита не записано",
			slog.String("event_type", string(ev.Type)),
			slog.Int64("user_id", ev.UserID),
			slog.Any("error", err),
		)
	}
}

// requestUserLabel — отображаемая метка пользователя: @username либо имя.
func requestUserLabel(r *model.Request) string {
	if r.Username != nil && *r.Username != "" {
		return "@" + *r.Username
	}
	return strValue(r.DisplayName)
}

// userRef — ссылка на пользователя для уведомлений: @username либо ID.
func userRef(u *telegram.User) string {
	if u.Username != "" {
		return "@" + telegram.EscapeMarkdownLegacy(u.Username)
	}
	return fmt.Sprintf("ID:%d", u.ID)
}

func strValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// truncate обрезает текст до limit символов после trim.
func truncate(text string, limit int) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
