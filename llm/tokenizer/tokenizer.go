package tokenizer

import (
	"strings"
)

// Counter 统计文本的 token 数
type Counter interface {
	CountTokens(text string) (int, error)
	Name() string
}

// Message 轻量消息结构，避免依赖 llm 包
type Message struct {
	Role    string
	Content string
}

// 每条消息的固定开销（角色标记、分隔符）与对话结束开销
const (
	perMessageOverhead = 4
	conversationEnd    = 3
)

// CountMessages 统计一组消息的 token 总数，含每条消息的开销
func CountMessages(c Counter, messages []Message) (int, error) {
	total := conversationEnd
	for _, m := range messages {
		n, err := c.CountTokens(m.Role + "\n" + m.Content)
		if err != nil {
			return 0, err
		}
		total += n + perMessageOverhead
	}
	return total, nil
}

// ForModel 返回模型对应的计数器：OpenAI 家族用 tiktoken，其余用估算器
func ForModel(model string) Counter {
	if _, ok := encodingFor(model); ok {
		return NewTiktokenCounter(model)
	}
	return NewEstimator()
}

func encodingFor(model string) (string, bool) {
	model = strings.ToLower(model)
	if enc, ok := modelEncodings[model]; ok {
		return enc, true
	}
	// 最长前缀优先，gpt-4o-mini-2024 命中 gpt-4o 而不是 gpt-4
	best, bestLen := "", 0
	for prefix, enc := range modelEncodings {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			best, bestLen = enc, len(prefix)
		}
	}
	return best, bestLen > 0
}
