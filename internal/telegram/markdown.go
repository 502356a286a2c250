// markdown.go — экранирование legacy Markdown для исходящих сообщений.
// Пользовательский текст (имена, ответы на анкету) вставляется в сообщения
// с parse_mode=Markdown и обязан быть экранирован.
package telegram

import "strings"

// legacyMarkdownReplacer экранирует спецсимволы legacy Markdown: * _ ` [
var legacyMarkdownReplacer = strings.NewReplacer(
	"*", "\\*",
	"_", "\\_",
	"`", "\\`",
	"[", "\\[",
)

// EscapeMarkdownLegacy экранирует спецсимволы legacy Markdown в тексте.
func EscapeMarkdownLegacy(text string) string {
	if text == "" {
		return ""
	}
	return legacyMarkdownReplacer.Replace(text)
}
