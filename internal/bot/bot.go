// Package bot implements the Telegram command dialogue for managing keyword
// subscriptions.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"keyword_bot/internal/config"
	"keyword_bot/internal/lifecycle"
	"keyword_bot/internal/model"
	"keyword_bot/internal/storage"
	"keyword_bot/internal/subscription"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Bot is the Telegram bot that handles user commands.
type Bot struct {
	api       telegramAPI
	botAPI    *tgbotapi.BotAPI
	store     storage.Storage
	cfg       *config.Config
	subs      *subscription.Service
	lifecycle *lifecycle.Manager
	log       *slog.Logger
}

// New creates a Bot with the given Telegram token and config.
func New(token string, store storage.Storage, cfg *config.Config, subs *subscription.Service, lc *lifecycle.Manager, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return &Bot{api: api, botAPI: api, store: store, cfg: cfg, subs: subs, lifecycle: lc, log: log}, nil
}

// API returns the underlying Telegram API for sharing with the dispatcher.
// Nil for bots built over a custom telegramAPI implementation.
func (b *Bot) API() *tgbotapi.BotAPI {
	return b.botAPI
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil || !update.Message.IsCommand() {
		return
	}
	if update.Message.From == nil || !b.cfg.IsUserAllowed(update.Message.From.ID) {
		b.reply(update.Message.Chat.ID, "您没有权限使用此机器人。")
		return
	}
	b.handleCommand(ctx, update.Message)
}

func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	user, err := b.ensureUser(ctx, chatID, msg.From)
	if err != nil {
		b.log.Error("register user", "chat_id", chatID, "error", err)
		b.reply(chatID, "服务暂时不可用，请稍后再试。")
		return
	}

	switch cmd {
	case "start":
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case "add":
		b.handleAdd(ctx, user, args)
	case "list":
		b.handleList(ctx, user)
	case "del":
		b.handleDel(ctx, user, args)
	default:
		b.reply(chatID, "未知命令，使用 /help 查看帮助")
	}
}

// ensureUser registers or refreshes the sender. Any interaction from a
// deactivated user reactivates them, restoring their subscription counts.
func (b *Bot) ensureUser(ctx context.Context, chatID int64, from *tgbotapi.User) (*model.User, error) {
	user := &model.User{ChatID: chatID}
	if from != nil {
		user.Username = from.UserName
		user.FirstName = from.FirstName
		user.LastName = from.LastName
	}
	if err := b.store.UpsertUser(ctx, user); err != nil {
		return nil, err
	}

	if !user.IsActive {
		if _, err := b.lifecycle.Reactivate(ctx, chatID); err != nil {
			return nil, err
		}
		user.IsActive = true
	}
	return user, nil
}
