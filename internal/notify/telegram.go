package notify

import (
	"context"
	"fmt"
	"strings"
)

const telegramAPI = "https://api.telegram.org"

// TelegramSender posts to one chat through the Bot API's sendMessage call.
type TelegramSender struct {
	apiBase string
	token   string
	chatID  string
	poster  *poster
}

// NewTelegramSender creates a TelegramSender for a bot token and chat ID.
// Bot API limits a chat to about one message per second.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		apiBase: telegramAPI,
		token:   token,
		chatID:  chatID,
		poster:  newPoster("telegram", 1),
	}
}

// WithAPIBase points the sender at another Bot API host.
func (t *TelegramSender) WithAPIBase(base string) *TelegramSender {
	t.apiBase = strings.TrimRight(base, "/")
	return t
}

type telegramMessage struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

// Send renders the title bold above the message.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	return t.poster.post(ctx, fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.token), telegramMessage{
		ChatID:                t.chatID,
		Text:                  "*" + title + "*\n" + message,
		ParseMode:             "Markdown",
		DisableWebPagePreview: true,
	})
}

func (t *TelegramSender) Name() string { return "telegram" }
