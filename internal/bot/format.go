package bot

import (
	"fmt"
	"strings"

	"keyword_bot/internal/subscription"
)

// FormatRuleList formats a user's subscription rules for display.
func FormatRuleList(rules []subscription.Rule) string {
	if len(rules) == 0 {
		return "您还没有订阅任何关键词。\n\n使用 /add 来添加关键词订阅。"
	}

	var b strings.Builder
	b.WriteString("📋 您的关键词订阅列表：\n\n")
	for _, r := range rules {
		fmt.Fprintf(&b, "🔹 序号: %d\n   关键词: %s\n\n", r.Index, joinKeywords(r.Keywords))
	}
	b.WriteString("💡 使用 /del <序号> 删除订阅")
	return b.String()
}

func joinKeywords(keywords []string) string {
	return strings.Join(keywords, " ")
}
