// apierror.go — классификация ошибок Telegram Bot API.
//
// Ядро различает два рода сбоев: транспортные (HTTP-запрос не выполнился,
// обычная ошибка Go) и ошибки платформы (запрос дошёл, Telegram ответил
// ok=false — *APIError). Ошибки платформы сопоставляются с закрытым
// набором известных кодов; всё нераспознанное трактуется как generic.
package telegram

import (
	"errors"
	"fmt"
	"strings"
)

// APIError — ошибка, о которой сообщил сам Telegram (ok=false в ответе).
type APIError struct {
	// Code — error_code из ответа API.
	Code int
	// Description — текстовое описание ошибки от Telegram.
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram API: %d %s", e.Code, e.Description)
}

// ErrorKind — распознанный род ошибки платформы.
type ErrorKind int

const (
	// KindUnrecognized — ошибка не входит в закрытый набор известных;
	// вызывающий оставляет заявку нетронутой для повтора.
	KindUnrecognized ErrorKind = iota
	// KindUserInvalid — аккаунт заявителя недействителен или деактивирован.
	KindUserInvalid
	// KindRequesterMissing — заявка на вступление больше не существует в Telegram.
	KindRequesterMissing
)

// recognizedPatterns — закрытый набор известных подстрок описаний ошибок
// Bot API и соответствующие им роды. Порядок не важен: подстроки не пересекаются.
var recognizedPatterns = []struct {
	kind   ErrorKind
	substr string
}{
	{KindUserInvalid, "USER_ID_INVALID"},
	{KindUserInvalid, "user is deactivated"},
	{KindRequesterMissing, "HIDE_REQUESTER_MISSING"},
}

// Classify сопоставляет ошибку с закрытым набором известных ошибок платформы.
// Транспортные ошибки (не *APIError) всегда дают KindUnrecognized.
func Classify(err error) ErrorKind {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return KindUnrecognized
	}
	for _, p := range recognizedPatterns {
		if strings.Contains(apiErr.Description, p.substr) {
			return p.kind
		}
	}
	return KindUnrecognized
}

// IsAPIError сообщает, является ли ошибка ошибкой платформы
// (в отличие от транспортной).
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}
