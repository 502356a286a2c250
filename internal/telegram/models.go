// models.go — типы Telegram Bot API, используемые joinwarden.
// Только поля, которые реально читает бот; остальное игнорируется при декодировании.
package telegram

// Update — входящее обновление от Telegram (webhook payload).
type Update struct {
	// UpdateID — монотонный идентификатор обновления.
	UpdateID int64 `json:"update_id"`
	// Message — входящее сообщение (DM заявителя или команда администратора).
	Message *Message `json:"message,omitempty"`
	// ChatJoinRequest — заявка на вступление в чат.
	ChatJoinRequest *ChatJoinRequest `json:"chat_join_request,omitempty"`
	// ChatMember — изменение статуса участника чата.
	ChatMember *ChatMemberUpdated `json:"chat_member,omitempty"`
}

// User — пользователь Telegram.
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

// Chat — чат Telegram.
type Chat struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title,omitempty"`
}

// Message — сообщение.
type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from,omitempty"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text,omitempty"`
}

// ChatJoinRequest — заявка на вступление.
type ChatJoinRequest struct {
	Chat Chat  `json:"chat"`
	From User  `json:"from"`
	Date int64 `json:"date"`
}

// ChatMemberUpdated — изменение статуса участника.
type ChatMemberUpdated struct {
	Chat          Chat       `json:"chat"`
	From          User       `json:"from"`
	Date          int64      `json:"date"`
	NewChatMember ChatMember `json:"new_chat_member"`
}

// ChatMember — участник чата с его статусом.
type ChatMember struct {
	Status string `json:"status"`
	User   User   `json:"user"`
}

// apiResponse — конверт ответа Bot API.
type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

// FullName собирает отображаемое имя пользователя из first/last name.
func (u *User) FullName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	if u.FirstName == "" {
		return u.LastName
	}
	return u.FirstName + " " + u.LastName
}
