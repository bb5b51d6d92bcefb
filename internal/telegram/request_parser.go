package telegram

import (
	"errors"
	"fmt"
	"strings"

	"forward_bot/internal/telegram/forward"
)

// errNotARequest 文本不像转发请求，交给其他逻辑处理
var errNotARequest = errors.New("not a forward request")

// parseForwardRequest 解析用户发送的请求文本
//
//	https://t.me/c/3586558422/1641      起始链接
//	https://t.me/c/3586558422/26787     结束链接
//	-1003586558422                      目标群 ID
//	'old word' 'new word'               可选，逐行一条替换规则
func parseForwardRequest(text string) (forward.RawRequest, error) {
	lines := make([]string, 0, 4)
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) < 3 || !strings.Contains(lines[0], "t.me") {
		return forward.RawRequest{}, errNotARequest
	}

	raw := forward.RawRequest{
		StartLink: lines[0],
		EndLink:   lines[1],
		Target:    lines[2],
	}
	for i, line := range lines[3:] {
		find, replace, err := parseReplacementLine(line)
		if err != nil {
			return forward.RawRequest{}, fmt.Errorf("line %d: %w", i+4, err)
		}
		if err := raw.Replacements.Set(find, replace); err != nil {
			return forward.RawRequest{}, fmt.Errorf("line %d: %w", i+4, err)
		}
	}
	return raw, nil
}

// parseReplacementLine 'find' 'replace'，按单引号切分
func parseReplacementLine(line string) (string, string, error) {
	parts := strings.Split(line, "'")
	if len(parts) < 5 {
		return "", "", fmt.Errorf("malformed replacement %q, expected 'find' 'replace'", line)
	}
	return parts[1], parts[3], nil
}
