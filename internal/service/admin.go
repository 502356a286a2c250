package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bigkaa/joinwarden/internal/domain/model"
	"github.com/bigkaa/joinwarden/internal/messages"
	"github.com/bigkaa/joinwarden/internal/repository"
	"github.com/bigkaa/joinwarden/internal/telegram"
)

// CommandProcessor — обработчик команд администратора.
// Команды принимаются только от настроенного администратора в личной
// переписке; обработка синхронная, ответ отправляется в тот же чат.
type CommandProcessor struct {
	requests repository.RequestRepository
	engine   *Engine
	sweeper  *Sweeper
	bot      BotAPI
	catalog  *messages.Catalog
	settings Settings
	logger   *slog.Logger
}

// NewCommandProcessor создаёт CommandProcessor.
func NewCommandProcessor(
	requests repository.RequestRepository,
	engine *Engine,
	sweeper *Sweeper,
	bot BotAPI,
	catalog *messages.Catalog,
	settings Settings,
	logger *slog.Logger,
) *CommandProcessor {
	return &CommandProcessor{
		requests: requests,
		engine:   engine,
		sweeper:  sweeper,
		bot:      bot,
		catalog:  catalog,
		settings: settings,
		logger:   logger.With(slog.String("component", "admin")),
	}
}

// Handle разбирает и выполняет команду администратора.
// chatID — чат, в который отправляется ответ (личная переписка с админом).
func (p *CommandProcessor) Handle(ctx context.Context, chatID string, text string) error {
	command, args, _ := strings.Cut(strings.TrimSpace(text), " ")

	p.logger.Info("команда администратора", slog.String("command", command))

	switch command {
	case "/status":
		return p.status(ctx, chatID)
	case "/pending":
		return p.pending(ctx, chatID)
	case "/config":
		return p.reply(ctx, chatID, p.catalog.AdminConfig(p.settings.ModChatID, p.settings.AdminUserID))
	case "/help":
		return p.reply(ctx, chatID, p.catalog.AdminHelp())
	case "/cleanup":
		return p.cleanup(ctx, chatID)
	case "/force_cron":
		return p.forceSweep(ctx, chatID)
	case "/reject":
		return p.reject(ctx, chatID, args)
	default:
		return p.reply(ctx, chatID, p.catalog.AdminUnknown())
	}
}

func (p *CommandProcessor) status(ctx context.Context, chatID string) error {
	count, err := p.requests.CountByStatus(ctx, model.StatusPending)
	if err != nil {
		return err
	}
	return p.reply(ctx, chatID, p.catalog.AdminStatus(count))
}

func (p *CommandProcessor) pending(ctx context.Context, chatID string) error {
	rows, err := p.requests.ListByStatus(ctx, model.StatusPending, 50)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return p.reply(ctx, chatID, p.catalog.AdminEmptyPending())
	}

	lines := make([]string, 0, len(rows))
	for _, r := range rows {
		lines = append(lines, p.catalog.PendingLine(
			r.ID,
			r.UserID,
			requestUserLabel(r),
			r.RequestDate.UTC().Format(time.RFC3339),
			r.AnswerText != nil,
		))
	}
	return p.reply(ctx, chatID, strings.Join(lines, "\n"))
}

func (p *CommandProcessor) cleanup(ctx context.Context, chatID string) error {
	if _, err := p.requests.SupersedeDuplicates(ctx); err != nil {
		return err
	}
	return p.reply(ctx, chatID, p.catalog.AdminCleanupDone())
}

func (p *CommandProcessor) forceSweep(ctx context.Context, chatID string) error {
	stats, err := p.sweeper.Run(ctx)
	if err != nil {
		return err
	}
	return p.reply(ctx, chatID, p.catalog.AdminForceCron(stats.RemindersSent, stats.TimeoutsProcessed, stats.Errors))
}

func (p *CommandProcessor) reject(ctx context.Context, chatID, args string) error {
	targetID, err := strconv.ParseInt(strings.TrimSpace(args), 10, 64)
	if err != nil {
		return p.reply(ctx, chatID, p.catalog.AdminRejectUsage())
	}

	outcome, err := p.engine.ManualReject(ctx, targetID)
	if err != nil {
		if errors.Is(err, ErrNoLiveRequest) {
			return p.reply(ctx, chatID, p.catalog.AdminRejectNotFound(targetID))
		}
		return err
	}
	return p.reply(ctx, chatID, p.catalog.AdminRejectResult(targetID, outcome.Rejected, outcome.Failed, outcome.Errors))
}

func (p *CommandProcessor) reply(ctx context.Context, chatID, text string) error {
	return p.bot.SendMessage(ctx, chatID, text, "")
}

// IsAdminCommand сообщает, адресовано ли сообщение обработчику команд:
// личная переписка, настроенный администратор, текст начинается с "/".
func (p *CommandProcessor) IsAdminCommand(msg *telegram.Message) bool {
	return msg.Chat.Type == "private" &&
		msg.From != nil &&
		msg.From.ID == p.settings.AdminUserID &&
		strings.HasPrefix(strings.TrimSpace(msg.Text), "/")
}
