// Пакет messages — тексты бота на поддерживаемых языках.
// Каталоги переводов хранятся в locales/*.json (плоский формат key → строка)
// и встраиваются в бинарник через go:embed. Язык бота фиксируется конфигом,
// поэтому в отличие от UI-интернационализации язык не извлекается из запроса.
// Поддерживаемые языки: Русский (ru), English (en).
package messages

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/text/language"
)

// Поддерживаемые языки
var (
	// SupportedLanguages — список поддерживаемых тегов языков.
	// Русский первым: это язык по умолчанию и язык fallback-каталога.
	SupportedLanguages = []language.Tag{
		language.Russian,
		language.English,
	}

	// matcher — языковой matcher для разбора настроенного тега.
	matcher = language.NewMatcher(SupportedLanguages)
)

// ResolveLanguage сопоставляет языковой тег с поддерживаемым каталогом:
// "ru-RU" → "ru", "en-US" → "en". Нераспознанный или неподдерживаемый
// тег — ошибка, конфигурация с таким языком отклоняется при загрузке.
func ResolveLanguage(tag string) (string, error) {
	parsed, err := language.Parse(tag)
	if err != nil {
		return "", fmt.Errorf("некорректный языковой тег %q: %w", tag, err)
	}
	_, idx, conf := matcher.Match(parsed)
	if conf == language.No {
		return "", fmt.Errorf("язык %q не поддерживается, доступные: ru, en", tag)
	}
	base, _ := SupportedLanguages[idx].Base()
	return base.String(), nil
}

// Bundle — хранилище переводов для всех языков.
// Загружается один раз при старте приложения.
type Bundle struct {
	mu       sync.RWMutex
	catalogs map[string]map[string]string // lang → key → translation
	logger   *slog.Logger
}

// NewBundle создаёт пустой Bundle.
func NewBundle(logger *slog.Logger) *Bundle {
	return &Bundle{
		catalogs: make(map[string]map[string]string),
		logger:   logger,
	}
}

// LoadMessages загружает JSON-каталог переводов для указанного языка.
// JSON формат: {"key": "translation", ...} (плоский).
func (b *Bundle) LoadMessages(lang string, data []byte) error {
	var msgs map[string]string
	if err := json.Unmarshal(data, &msgs); err != nil {
		return fmt.Errorf("messages: ошибка парсинга каталога %s: %w", lang, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.catalogs[lang] = msgs

	if b.logger != nil {
		b.logger.Info("каталог переводов загружен",
			slog.String("lang", lang),
			slog.Int("keys", len(msgs)),
		)
	}
	return nil
}

// LoadFromEmbedFS загружает все каталоги переводов из встроенной файловой системы.
// Ожидаемые файлы: locales/ru.json, locales/en.json.
func (b *Bundle) LoadFromEmbedFS() error {
	for _, lang := range []string{"ru", "en"} {
		path := fmt.Sprintf("locales/%s.json", lang)
		data, err := LocaleFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("messages: не удалось прочитать %s: %w", path, err)
		}
		if err := b.LoadMessages(lang, data); err != nil {
			return err
		}
	}
	return nil
}

// Translate возвращает перевод по ключу для указанного языка.
// Если ключ не найден — возвращает ключ как есть (для отладки).
func (b *Bundle) Translate(lang, key string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if catalog, ok := b.catalogs[lang]; ok {
		if msg, ok := catalog[key]; ok {
			return msg
		}
	}

	// Fallback на русский (основной язык каталога)
	if lang != "ru" {
		if catalog, ok := b.catalogs["ru"]; ok {
			if msg, ok := catalog[key]; ok {
				return msg
			}
		}
	}

	return key
}

// Translatef возвращает перевод по ключу с подстановкой аргументов (fmt.Sprintf).
// Формат-строка загружается из JSON-каталога во время выполнения,
// поэтому go vet не может проверить соответствие аргументов.
func (b *Bundle) Translatef(lang, key string, args ...any) string {
	template := b.Translate(lang, key)
	if len(args) == 0 {
		return template
	}
	return formatFunc(template, args...)
}

// formatFunc — ссылка на fmt.Sprintf через переменную для обхода go vet printf-анализатора.
// Формат-строки загружаются из JSON-каталогов во время выполнения,
// поэтому статическая проверка невозможна.
//
//nolint:govet // обход go vet printf-анализатора
var formatFunc = fmt.Sprintf

// affirmativePattern распознаёт утвердительный ответ пользователя:
// "да" или "yes" (без учёта регистра) с возможной пунктуацией в конце.
// Хвост ограничен классами пунктуации и символов: \W здесь не годится,
// он пропускает кириллицу и пробелы после "да".
var affirmativePattern = regexp.MustCompile(`(?i)^(да|yes)[\p{P}\p{S}]*$`)

// IsAffirmative сообщает, является ли текст утвердительным ответом.
func IsAffirmative(text string) bool {
	return affirmativePattern.MatchString(strings.TrimSpace(text))
}

// Catalog — типизированный доступ к текстам бота для фиксированного языка.
// Сервисный слой работает с Catalog, а не с сырыми ключами каталога.
type Catalog struct {
	bundle *Bundle
	lang   string
}

// NewCatalog создаёт Catalog поверх bundle для указанного языка.
func NewCatalog(bundle *Bundle, lang string) *Catalog {
	return &Catalog{bundle: bundle, lang: lang}
}

// Lang возвращает язык каталога.
func (c *Catalog) Lang() string {
	return c.lang
}

func (c *Catalog) t(key string) string {
	return c.bundle.Translate(c.lang, key)
}

func (c *Catalog) tf(key string, args ...any) string {
	return c.bundle.Translatef(c.lang, key, args...)
}

// Questions — анкета, отправляемая пользователю после подачи заявки.
// expiryDays — срок на заполнение в днях (из конфига).
func (c *Catalog) Questions(chatTitle string, expiryDays int) string {
	if chatTitle == "" {
		chatTitle = c.t("group_fallback")
	}
	return c.tf("questions", chatTitle, expiryDays)
}

// SpamWarning — предупреждение о подозрительном поведении.
// attempt — номер текущей попытки подачи заявки.
func (c *Catalog) SpamWarning(attempt int) string {
	return c.tf("spam_warning", attempt)
}

// Banned — уведомление пользователю о бане за спам заявками.
func (c *Catalog) Banned() string {
	return c.t("banned")
}

// Confirmation — запрос подтверждения перед отправкой ответа модераторам.
func (c *Catalog) Confirmation(answerText string) string {
	return c.tf("confirmation", answerText)
}

// SentToModerators — подтверждение передачи ответа модераторам.
func (c *Catalog) SentToModerators() string {
	return c.t("sent_to_moderators")
}

// RewriteRequested — просьба написать ответ заново.
func (c *Catalog) RewriteRequested() string {
	return c.t("rewrite_requested")
}

// NoPendingRequest — у пользователя нет активной заявки.
func (c *Catalog) NoPendingRequest() string {
	return c.t("no_pending_request")
}

// DailyReminder — ежедневное напоминание с количеством оставшихся дней.
func (c *Catalog) DailyReminder(daysLeft int) string {
	return c.tf("daily_reminder", daysLeft, c.dayWord(daysLeft))
}

// dayWord выбирает форму слова "день" по количеству.
func (c *Catalog) dayWord(days int) string {
	switch {
	case days == 1:
		return c.t("day_one")
	case days > 1 && days < 5:
		return c.t("day_few")
	default:
		return c.t("day_many")
	}
}

// TimeoutUser — уведомление пользователю об авто-отказе по сроку.
func (c *Catalog) TimeoutUser() string {
	return c.t("timeout_user")
}

// Welcome — приветствие нового участника группы.
func (c *Catalog) Welcome(groupTitle string) string {
	if groupTitle == "" {
		groupTitle = c.t("community_fallback")
	}
	return c.tf("welcome", groupTitle)
}

// --- Сообщения администратору ---

// AdminStatus — количество активных заявок.
func (c *Catalog) AdminStatus(count int) string {
	return c.tf("admin_status", count)
}

// AdminConfig — текущие значения конфига бота.
func (c *Catalog) AdminConfig(modChatID, adminUserID int64) string {
	return c.tf("admin_config", modChatID, adminUserID)
}

// AdminHelp — справка по командам.
func (c *Catalog) AdminHelp() string {
	return c.t("admin_help")
}

// AdminUnknown — ответ на нераспознанную команду.
func (c *Catalog) AdminUnknown() string {
	return c.t("admin_unknown")
}

// AdminEmptyPending — список ожидающих заявок пуст.
func (c *Catalog) AdminEmptyPending() string {
	return c.t("admin_empty_pending")
}

// AdminCleanupDone — подтверждение удаления дубликатов.
func (c *Catalog) AdminCleanupDone() string {
	return c.t("admin_cleanup_done")
}

// AdminForceCron — сводка ручного запуска задач по расписанию.
func (c *Catalog) AdminForceCron(reminders, timeouts int, errs []string) string {
	msg := c.tf("admin_force_cron", reminders, timeouts)
	if len(errs) > 0 {
		msg += c.tf("admin_errors", strings.Join(errs, "\n"))
	}
	return msg
}

// AdminRejectUsage — подсказка по синтаксису /reject.
func (c *Catalog) AdminRejectUsage() string {
	return c.t("admin_reject_usage")
}

// AdminRejectNotFound — у пользователя нет активных заявок для отклонения.
func (c *Catalog) AdminRejectNotFound(userID int64) string {
	return c.tf("admin_reject_not_found", userID)
}

// AdminRejectResult — сводка ручного отклонения заявок пользователя.
func (c *Catalog) AdminRejectResult(userID int64, rejected, failed int, errs []string) string {
	msg := c.tf("admin_reject_result", rejected, userID)
	if failed > 0 {
		msg += c.tf("admin_reject_failed", failed)
		if len(errs) > 0 {
			msg += c.tf("admin_errors", strings.Join(errs, "\n"))
		}
	}
	return msg
}

// PendingLine — строка списка /pending для одной заявки.
func (c *Catalog) PendingLine(id, userID int64, userLabel, submittedAt string, hasAnswer bool) string {
	answer := c.t("answer_no")
	if hasAnswer {
		answer = c.t("answer_yes")
	}
	return c.tf("pending_line", id, userID, userLabel, submittedAt, answer)
}

// --- Сообщения модераторам ---

// ModNewRequest — карточка подтверждённой заявки для чата модераторов.
func (c *Catalog) ModNewRequest(userLabel, displayName string, userID int64, profileLink, answerText, chatID, requestDate, expiresAt string) string {
	return c.tf("mod_new_request", userLabel, displayName, userID, profileLink, answerText, chatID, requestDate, expiresAt)
}

// ModAutoReject — уведомление модераторов об авто-отказе по сроку.
func (c *Catalog) ModAutoReject(requestID int64, userLabel string, userID int64) string {
	return c.tf("mod_auto_reject", requestID, userLabel, userID)
}

// ModUserAdded — уведомление о добавлении участника в группу.
func (c *Catalog) ModUserAdded(who, whoRef, addedBy, addedByRef, groupTitle string) string {
	return c.tf("mod_user_added", who, whoRef, addedBy, addedByRef, groupTitle)
}

// ModSpamBan — уведомление модераторов о бане за спам заявками.
func (c *Catalog) ModSpamBan(firstName string, userID int64, username string, attempts int) string {
	if username == "" {
		username = c.t("username_none")
	} else {
		username = "@" + username
	}
	return c.tf("mod_spam_ban", firstName, userID, username, attempts)
}
