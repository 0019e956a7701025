package bot

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/go-cmp/cmp"

	"keyword_bot/internal/config"
	"keyword_bot/internal/keyword"
	"keyword_bot/internal/lifecycle"
	"keyword_bot/internal/model"
	"keyword_bot/internal/storage"
	"keyword_bot/internal/subscription"
)

// --- mocks ---

type sentMsg struct {
	ChatID int64
	Text   string
}

type mockAPI struct {
	mu   sync.Mutex
	sent []sentMsg
}

func (m *mockAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		m.mu.Lock()
		m.sent = append(m.sent, sentMsg{ChatID: msg.ChatID, Text: msg.Text})
		m.mu.Unlock()
	}
	return tgbotapi.Message{}, nil
}

func (m *mockAPI) GetUpdatesChan(_ tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(tgbotapi.UpdatesChannel)
}

func (m *mockAPI) StopReceivingUpdates() {}

func (m *mockAPI) lastText() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return ""
	}
	return m.sent[len(m.sent)-1].Text
}

func (m *mockAPI) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}

// --- helpers ---

func newTestBot(t *testing.T) (*Bot, *mockAPI, *storage.SQLite) {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := keyword.NewRegistry(store, log)

	api := &mockAPI{}
	b := &Bot{
		api:       api,
		store:     store,
		cfg:       &config.Config{},
		subs:      subscription.NewService(store, registry, log),
		lifecycle: lifecycle.NewManager(store, registry, log),
		log:       log,
	}
	return b, api, store
}

func seedUser(t *testing.T, store *storage.SQLite, chatID int64) *model.User {
	t.Helper()
	u := &model.User{ChatID: chatID, Username: "tester"}
	if err := store.UpsertUser(context.Background(), u); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

func requireContains(t *testing.T, got, want string) {
	t.Helper()
	if !strings.Contains(got, want) {
		t.Errorf("reply missing %q, got:\n%s", want, got)
	}
}

// --- handler tests ---

func TestHandleStart(t *testing.T) {
	b, api, _ := newTestBot(t)
	b.handleStart(100)
	requireContains(t, api.lastText(), "欢迎使用关键词监控机器人")
}

func TestHandleHelp(t *testing.T) {
	b, api, _ := newTestBot(t)
	b.handleHelp(100)
	requireContains(t, api.lastText(), "/add")
	requireContains(t, api.lastText(), "/del")
}

func TestHandleAdd(t *testing.T) {
	ctx := context.Background()

	t.Run("empty args", func(t *testing.T) {
		b, api, store := newTestBot(t)
		user := seedUser(t, store, 100)
		b.handleAdd(ctx, user, "")
		requireContains(t, api.lastText(), "用法: /add")
	})

	t.Run("too many keywords", func(t *testing.T) {
		b, api, store := newTestBot(t)
		user := seedUser(t, store, 100)
		b.handleAdd(ctx, user, "a b c d")
		requireContains(t, api.lastText(), "用法: /add")
	})

	t.Run("success", func(t *testing.T) {
		b, api, store := newTestBot(t)
		user := seedUser(t, store, 100)
		b.handleAdd(ctx, user, "出 ovh 0.97")
		requireContains(t, api.lastText(), "订阅成功")
		requireContains(t, api.lastText(), "出 ovh 0.97")

		rules, _ := b.subs.List(ctx, user.ID)
		if diff := cmp.Diff(1, len(rules)); diff != "" {
			t.Errorf("rule count (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]string{"出", "ovh", "0.97"}, rules[0].Keywords); diff != "" {
			t.Errorf("keywords (-want +got):\n%s", diff)
		}
	})

	t.Run("rule limit", func(t *testing.T) {
		b, api, store := newTestBot(t)
		user := seedUser(t, store, 100)
		for _, kw := range []string{"甲骨文", "ovh", "斯巴达", "搬瓦工", "腾讯云"} {
			b.handleAdd(ctx, user, kw)
		}
		b.handleAdd(ctx, user, "独服")
		requireContains(t, api.lastText(), "每人最多订阅 5 条规则")
	})
}

func TestHandleList(t *testing.T) {
	ctx := context.Background()

	t.Run("empty", func(t *testing.T) {
		b, api, store := newTestBot(t)
		user := seedUser(t, store, 100)
		b.handleList(ctx, user)
		requireContains(t, api.lastText(), "还没有订阅任何关键词")
	})

	t.Run("with rules", func(t *testing.T) {
		b, api, store := newTestBot(t)
		user := seedUser(t, store, 100)
		b.handleAdd(ctx, user, "ovh 0.97")
		b.handleAdd(ctx, user, "甲骨文")

		b.handleList(ctx, user)
		reply := api.lastText()
		requireContains(t, reply, "序号: 1")
		requireContains(t, reply, "ovh 0.97")
		requireContains(t, reply, "序号: 2")
		requireContains(t, reply, "甲骨文")
	})
}

func TestHandleDel(t *testing.T) {
	ctx := context.Background()

	t.Run("bad args", func(t *testing.T) {
		b, api, store := newTestBot(t)
		user := seedUser(t, store, 100)
		b.handleDel(ctx, user, "abc")
		requireContains(t, api.lastText(), "用法: /del")
	})

	t.Run("not found", func(t *testing.T) {
		b, api, store := newTestBot(t)
		user := seedUser(t, store, 100)
		b.handleDel(ctx, user, "3")
		requireContains(t, api.lastText(), "没有找到序号为 3 的订阅")
	})

	t.Run("success", func(t *testing.T) {
		b, api, store := newTestBot(t)
		user := seedUser(t, store, 100)
		b.handleAdd(ctx, user, "ovh")
		b.handleDel(ctx, user, "1")
		requireContains(t, api.lastText(), "已删除序号为 1 的订阅")

		rules, _ := b.subs.List(ctx, user.ID)
		if diff := cmp.Diff(0, len(rules)); diff != "" {
			t.Errorf("rules should be empty (-want +got):\n%s", diff)
		}
	})
}

func TestEnsureUser(t *testing.T) {
	ctx := context.Background()

	t.Run("registers new sender", func(t *testing.T) {
		b, _, store := newTestBot(t)
		from := &tgbotapi.User{UserName: "alice", FirstName: "Alice"}
		user, err := b.ensureUser(ctx, 100, from)
		if err != nil {
			t.Fatalf("ensure user: %v", err)
		}
		if !user.IsActive {
			t.Error("new user not active")
		}

		got, err := store.GetUserByChatID(ctx, 100)
		if err != nil {
			t.Fatalf("get user: %v", err)
		}
		if diff := cmp.Diff("alice", got.Username); diff != "" {
			t.Errorf("username (-want +got):\n%s", diff)
		}
	})

	t.Run("reactivates deactivated sender", func(t *testing.T) {
		b, _, store := newTestBot(t)
		user := seedUser(t, store, 100)
		sub, err := b.subs.Subscribe(ctx, user.ID, []string{"ovh"})
		if err != nil {
			t.Fatalf("subscribe: %v", err)
		}
		if _, err := b.lifecycle.Deactivate(ctx, 100); err != nil {
			t.Fatalf("deactivate: %v", err)
		}

		got, err := b.ensureUser(ctx, 100, nil)
		if err != nil {
			t.Fatalf("ensure user: %v", err)
		}
		if !got.IsActive {
			t.Error("user still inactive after interaction")
		}

		active, _ := store.ListUserSubscriptions(ctx, user.ID, true)
		if diff := cmp.Diff(1, len(active)); diff != "" {
			t.Errorf("active rules (-want +got):\n%s", diff)
		}
		kws, _ := store.GetKeywords(ctx, sub.KeywordIDs())
		if diff := cmp.Diff(1, kws[0].SubNum); diff != "" {
			t.Errorf("sub_num (-want +got):\n%s", diff)
		}
	})
}

func TestHandleCommand(t *testing.T) {
	ctx := context.Background()

	makeMsg := func(cmd, args string) *tgbotapi.Message {
		text := "/" + cmd
		if args != "" {
			text += " " + args
		}
		return &tgbotapi.Message{
			Chat: &tgbotapi.Chat{ID: 100},
			From: &tgbotapi.User{UserName: "tester"},
			Text: text,
			Entities: []tgbotapi.MessageEntity{
				{Type: "bot_command", Offset: 0, Length: len("/" + cmd)},
			},
		}
	}

	t.Run("dispatches known commands", func(t *testing.T) {
		b, api, _ := newTestBot(t)

		cmds := []struct {
			cmd      string
			contains string
		}{
			{"start", "欢迎"},
			{"help", "/add"},
			{"unknown_cmd", "未知命令"},
		}

		for _, tc := range cmds {
			api.reset()
			b.handleCommand(ctx, makeMsg(tc.cmd, ""))
			requireContains(t, api.lastText(), tc.contains)
		}
	})

	t.Run("dispatches add then list", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleCommand(ctx, makeMsg("add", "ovh 0.97"))
		requireContains(t, api.lastText(), "订阅成功")

		api.reset()
		b.handleCommand(ctx, makeMsg("list", ""))
		requireContains(t, api.lastText(), "ovh 0.97")
	})
}

func TestHandleUpdateAccessGate(t *testing.T) {
	ctx := context.Background()

	makeUpdate := func(fromID int64) tgbotapi.Update {
		return tgbotapi.Update{
			Message: &tgbotapi.Message{
				Chat: &tgbotapi.Chat{ID: 100},
				From: &tgbotapi.User{ID: fromID, UserName: "tester"},
				Text: "/start",
				Entities: []tgbotapi.MessageEntity{
					{Type: "bot_command", Offset: 0, Length: len("/start")},
				},
			},
		}
	}

	t.Run("empty allow list permits everyone", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleUpdate(ctx, makeUpdate(42))
		requireContains(t, api.lastText(), "欢迎")
	})

	t.Run("listed user passes", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.cfg.AllowedUsers = []int64{42}
		b.handleUpdate(ctx, makeUpdate(42))
		requireContains(t, api.lastText(), "欢迎")
	})

	t.Run("unlisted user denied", func(t *testing.T) {
		b, api, store := newTestBot(t)
		b.cfg.AllowedUsers = []int64{42}
		b.handleUpdate(ctx, makeUpdate(99))
		requireContains(t, api.lastText(), "没有权限")

		// Denied senders are not registered.
		if _, err := store.GetUserByChatID(ctx, 100); err == nil {
			t.Error("denied sender was registered")
		}
	})

	t.Run("non-command ignored", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleUpdate(ctx, tgbotapi.Update{Message: &tgbotapi.Message{
			Chat: &tgbotapi.Chat{ID: 100},
			From: &tgbotapi.User{ID: 42},
			Text: "hello",
		}})
		if got := api.lastText(); got != "" {
			t.Errorf("expected no reply, got %q", got)
		}
	})
}
