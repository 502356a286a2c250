package service

import (
	"context"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/joinwarden/internal/telegram"
)

var updatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "jw_updates_total",
	Help: "Количество обработанных обновлений Telegram по типу",
}, []string{"kind"}) // kind: join_request, chat_member, message, ignored

// Dispatcher маршрутизирует входящее обновление Telegram:
// заявка на вступление → Engine.Submit, изменение участника →
// Engine.HandleChatMember, сообщение → команды администратора либо
// ответ заявителя на анкету.
type Dispatcher struct {
	engine *Engine
	admin  *CommandProcessor
}

// NewDispatcher создаёт Dispatcher.
func NewDispatcher(engine *Engine, admin *CommandProcessor) *Dispatcher {
	return &Dispatcher{engine: engine, admin: admin}
}

// Dispatch обрабатывает одно обновление. Каждое обновление — независимая
// единица работы: без блокировок и без транзакций между обновлениями.
func (d *Dispatcher) Dispatch(ctx context.Context, upd *telegram.Update) error {
	switch {
	case upd.ChatJoinRequest != nil:
		updatesTotal.WithLabelValues("join_request").Inc()
		return d.engine.Submit(ctx, upd.ChatJoinRequest)
	case upd.ChatMember != nil:
		updatesTotal.WithLabelValues("chat_member").Inc()
		return d.engine.HandleChatMember(ctx, upd.ChatMember)
	case upd.Message != nil:
		updatesTotal.WithLabelValues("message").Inc()
		return d.dispatchMessage(ctx, upd.Message)
	default:
		// Типы обновлений, на которые бот не подписан, игнорируются.
		updatesTotal.WithLabelValues("ignored").Inc()
		return nil
	}
}

func (d *Dispatcher) dispatchMessage(ctx context.Context, msg *telegram.Message) error {
	if d.admin.IsAdminCommand(msg) {
		return d.admin.Handle(ctx, userChat(msg.Chat.ID), msg.Text)
	}

	// Анкета заполняется только в личной переписке.
	if msg.Chat.Type != "private" {
		return nil
	}
	if msg.From == nil || msg.From.IsBot {
		return nil
	}
	// Команды от обычных пользователей не обрабатываются.
	if strings.HasPrefix(strings.TrimSpace(msg.Text), "/") {
		return nil
	}

	return d.engine.ReceiveAnswer(ctx, msg.From.ID, msg.Text)
}
