package bot

import (
	"fmt"
	"strconv"
	"strings"

	"keyword_bot/internal/model"
)

// ParseKeywords splits /add arguments into 1–3 keywords.
func ParseKeywords(args string) ([]string, error) {
	keywords := strings.Fields(args)
	if len(keywords) == 0 {
		return nil, fmt.Errorf("请提供至少一个关键词")
	}
	if len(keywords) > model.MaxKeywordsPerSubscription {
		return nil, fmt.Errorf("每条规则最多 %d 个关键词", model.MaxKeywordsPerSubscription)
	}
	return keywords, nil
}

// ParseIndexArg extracts a 1-based list position from a command argument.
func ParseIndexArg(args string) (int, error) {
	s := strings.TrimSpace(args)
	if s == "" {
		return 0, fmt.Errorf("序号不能为空")
	}
	index, err := strconv.Atoi(strings.Fields(s)[0])
	if err != nil || index < 1 {
		return 0, fmt.Errorf("无效的序号 %q", s)
	}
	return index, nil
}
