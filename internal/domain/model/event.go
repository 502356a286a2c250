package model

import "time"

// EventType — тег события аудита, именующий переход состояния.
type EventType string

const (
	// EventSubmitted — заявка подана.
	EventSubmitted EventType = "submitted"
	// EventAnswered — получен ответ на анкету.
	EventAnswered EventType = "answered"
	// EventConfirmed — ответ подтверждён заявителем.
	EventConfirmed EventType = "confirmed"
	// EventRewriteRequested — заявитель переписывает ответ.
	EventRewriteRequested EventType = "rewrite_requested"
	// EventReminderSent — отправлено напоминание.
	EventReminderSent EventType = "reminder_sent"
	// EventBannedSpam — заявитель забанен за спам заявками.
	EventBannedSpam EventType = "banned_spam"
	// EventAdminRejected — заявка отклонена администратором.
	EventAdminRejected EventType = "admin_rejected"
	// EventAdminRejectedMissing — отклонение администратором: заявки уже не было в Telegram.
	EventAdminRejectedMissing EventType = "admin_rejected_missing"
	// EventAutoRejected — заявка отклонена по таймауту.
	EventAutoRejected EventType = "auto_rejected"
	// EventAutoRejectedInvalid — таймаут: аккаунт заявителя недействителен.
	EventAutoRejectedInvalid EventType = "auto_rejected_invalid"
	// EventAutoRejectedMissing — таймаут: заявки уже не было в Telegram.
	EventAutoRejectedMissing EventType = "auto_rejected_missing"
	// EventMemberJoined — заявитель принят и вступил в чат.
	EventMemberJoined EventType = "member_joined"
)

// Event — запись append-only журнала аудита. События никогда не изменяются
// и не удаляются; один логический переход порождает ровно одну запись.
type Event struct {
	// ID — идентификатор записи.
	ID int64
	// RequestID — заявка, к которой относится событие.
	// nil для событий без живой заявки (например, бан без новой строки).
	RequestID *int64
	// UserID — заявитель.
	UserID int64
	// Type — тип события.
	Type EventType
	// TS — момент события.
	TS time.Time
	// Data — структурированные данные, специфичные для типа события.
	Data map[string]any
}
