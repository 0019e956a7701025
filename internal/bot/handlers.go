package bot

import (
	"context"
	"errors"
	"fmt"

	"keyword_bot/internal/model"
	"keyword_bot/internal/subscription"
)

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, "欢迎使用关键词监控机器人！\n\n使用 /help 查看帮助")
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `📖 使用帮助

/start - 开始使用机器人
/add <关键词> - 添加订阅，多个关键词用空格分隔
/list - 查看我的关键词订阅
/del <序号> - 删除指定订阅
/help - 显示此帮助

💡 示例：
添加单个关键词 /add ovh
添加多个关键词 /add 出 ovh 0.97
多个关键词同时出现在帖子中才会推送

⚠️ 单个关键词不能包含空格，每人最多订阅 5 条规则`)
}

func (b *Bot) handleAdd(ctx context.Context, user *model.User, args string) {
	keywords, err := ParseKeywords(args)
	if err != nil {
		b.reply(user.ChatID, fmt.Sprintf("%v\n\n用法: /add <关键词> [关键词] [关键词]", err))
		return
	}

	sub, err := b.subs.Subscribe(ctx, user.ID, keywords)
	if errors.Is(err, subscription.ErrTooManyRules) {
		b.reply(user.ChatID, fmt.Sprintf("每人最多订阅 %d 条规则，请先用 /del 删除不需要的订阅。", model.MaxActiveSubscriptions))
		return
	}
	if err != nil {
		b.log.Error("subscribe", "user_id", user.ID, "error", err)
		b.reply(user.ChatID, "订阅失败，请稍后再试。")
		return
	}

	b.log.Info("subscription added", "user_id", user.ID, "sub_id", sub.ID)
	b.reply(user.ChatID, fmt.Sprintf("✅ 订阅成功！关键词: %s\n\n使用 /list 查看所有订阅", joinKeywords(keywords)))
}

func (b *Bot) handleList(ctx context.Context, user *model.User) {
	rules, err := b.subs.List(ctx, user.ID)
	if err != nil {
		b.log.Error("list rules", "user_id", user.ID, "error", err)
		b.reply(user.ChatID, "查询失败，请稍后再试。")
		return
	}
	b.reply(user.ChatID, FormatRuleList(rules))
}

func (b *Bot) handleDel(ctx context.Context, user *model.User, args string) {
	index, err := ParseIndexArg(args)
	if err != nil {
		b.reply(user.ChatID, "用法: /del <序号>\n\n序号见 /list")
		return
	}

	ok, err := b.subs.Delete(ctx, user.ID, index)
	if err != nil {
		b.log.Error("delete rule", "user_id", user.ID, "index", index, "error", err)
		b.reply(user.ChatID, "删除失败，请稍后再试。")
		return
	}
	if !ok {
		b.reply(user.ChatID, fmt.Sprintf("没有找到序号为 %d 的订阅，使用 /list 查看序号。", index))
		return
	}
	b.reply(user.ChatID, fmt.Sprintf("✅ 已删除序号为 %d 的订阅", index))
}
