// Package dispatch sends keyword notifications over Telegram and classifies
// delivery failures.
package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"keyword_bot/internal/model"
)

// postURLTemplate builds the link target from a post's source ID.
const postURLTemplate = "https://www.nodeseek.com/post-%d-1"

// Result is the outcome of a single dispatch attempt.
type Result struct {
	Success      bool
	ErrorCode    int
	ErrorMessage string
}

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Dispatcher sends formatted notifications to chats.
type Dispatcher struct {
	api telegramAPI
	log *slog.Logger
}

// New creates a Dispatcher using the given bot API.
func New(api *tgbotapi.BotAPI, log *slog.Logger) *Dispatcher {
	return &Dispatcher{api: api, log: log}
}

// NewWithAPI creates a Dispatcher with a custom API implementation (useful
// for testing).
func NewWithAPI(api telegramAPI, log *slog.Logger) *Dispatcher {
	return &Dispatcher{api: api, log: log}
}

// Send delivers text to the given chat as a Markdown message and classifies
// the outcome. Send never returns an error; failures are reported in the
// Result for the caller to record and, where warranted, act on.
func (d *Dispatcher) Send(chatID int64, text string) Result {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true

	if _, err := d.api.Send(msg); err != nil {
		code, message := errorDetails(err)
		d.log.Debug("send failed", "chat_id", chatID, "code", code, "error", message)
		return Result{ErrorCode: code, ErrorMessage: message}
	}
	return Result{Success: true}
}

func errorDetails(err error) (int, string) {
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) {
		return tgErr.Code, tgErr.Message
	}
	return 0, err.Error()
}

// unreachablePhrases mark the chat/bot relationship as broken.
var unreachablePhrases = []string{
	"bot was blocked by the user",
	"user is deactivated",
	"chat not found",
	"bot can't initiate conversation",
	"forbidden",
}

// IsRecipientUnreachable reports whether a dispatch failure indicates the
// recipient can no longer be reached at all, as opposed to a transient
// delivery problem. Unreachable recipients are deactivated.
func IsRecipientUnreachable(errorCode int, errorMessage string) bool {
	if errorCode == 403 {
		return true
	}
	lower := strings.ToLower(errorMessage)
	for _, phrase := range unreachablePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// FormatNotification builds the push message: a notice line with the matched
// keyword texts followed by a Markdown link to the post. Square brackets in
// the title are replaced with full-width equivalents so they cannot break
// the link markup.
func FormatNotification(keywordTexts []string, post model.Post) string {
	title := strings.NewReplacer("[", "［", "]", "］").Replace(post.Title)

	var b strings.Builder
	fmt.Fprintf(&b, "🔔 关键词提醒: %s\n\n", strings.Join(keywordTexts, " "))
	fmt.Fprintf(&b, "[%s]("+postURLTemplate+")", title, post.PID)
	return b.String()
}
