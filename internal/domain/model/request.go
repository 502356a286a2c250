// Пакет model — доменные типы joinwarden: заявки на вступление и события аудита.
package model

import "time"

// RequestStatus — статус заявки на вступление.
type RequestStatus string

const (
	// StatusPending — заявка подана, ответ на анкету не получен.
	StatusPending RequestStatus = "pending"
	// StatusAnswered — ответ получен, ожидается подтверждение заявителя.
	StatusAnswered RequestStatus = "answered"
	// StatusConfirmed — ответ подтверждён и передан модераторам.
	StatusConfirmed RequestStatus = "confirmed"
	// StatusSuperseded — заявка вытеснена более новой от той же пары (user, chat).
	StatusSuperseded RequestStatus = "superseded"
	// StatusBanned — заявитель забанен за спам заявками.
	StatusBanned RequestStatus = "banned"
	// StatusRejected — заявка отклонена администратором вручную.
	StatusRejected RequestStatus = "rejected"
	// StatusTimedOut — заявка отклонена автоматически по истечении срока.
	StatusTimedOut RequestStatus = "timed_out"
	// StatusUserMissingOrBanned — аккаунт заявителя недействителен или деактивирован.
	StatusUserMissingOrBanned RequestStatus = "user_missing_or_banned"
	// StatusRequestNoLongerValid — заявка больше не существует на стороне Telegram.
	StatusRequestNoLongerValid RequestStatus = "request_no_longer_valid"
)

// IsLive сообщает, является ли статус «живым»: только живые заявки
// участвуют в дальнейших переходах (ответ заявителя, sweeper).
func (s RequestStatus) IsLive() bool {
	return s == StatusPending || s == StatusAnswered
}

// LiveStatuses — список живых статусов (для SQL-запросов).
func LiveStatuses() []string {
	return []string{string(StatusPending), string(StatusAnswered)}
}

// Request — одна строка на каждую поданную заявку на вступление.
// Пара (UserID, ChatID) не уникальна: исторические строки накапливаются
// и служат счётчиком попыток для антиспама. Инвариант: на пару — не более
// одной живой строки одновременно.
type Request struct {
	// ID — монотонный идентификатор, присваивается при создании.
	ID int64
	// ChatID — идентификатор чата, в который подана заявка.
	ChatID string
	// UserID — идентификатор заявителя.
	UserID int64
	// Username — username заявителя на момент подачи (может отсутствовать).
	Username *string
	// DisplayName — отображаемое имя заявителя на момент подачи.
	DisplayName *string
	// RequestDate — момент подачи заявки.
	RequestDate time.Time
	// ExpiresAt — момент истечения срока (RequestDate + срок из конфигурации).
	ExpiresAt time.Time
	// Status — текущий статус заявки.
	Status RequestStatus
	// AnswerText — текст ответа на анкету (nil до получения ответа).
	AnswerText *string
	// AnswerDate — момент получения ответа.
	AnswerDate *time.Time
	// ConfirmedDate — момент подтверждения ответа заявителем.
	ConfirmedDate *time.Time
	// LastReminderTS — момент последнего отправленного напоминания.
	LastReminderTS *time.Time
}
