package forward

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	topicNamePrefix  = "📌 topic: "
	maxTopicNameRune = 128
)

var topicMarker = regexp.MustCompile(`(?i)topic:\s*(.+)`)

// ExtractTopicLabel 从正文/说明的第一行提取 "Topic: xxx" 标记
func ExtractTopicLabel(text string) (string, bool) {
	if text == "" {
		return "", false
	}
	firstLine, _, _ := strings.Cut(text, "\n")
	m := topicMarker.FindStringSubmatch(firstLine)
	if m == nil {
		return "", false
	}
	label := strings.TrimSpace(m[1])
	if label == "" {
		return "", false
	}
	return label, true
}

// FormatTopicName 生成话题名称，超长按 rune 截断
func FormatTopicName(label string) string {
	name := topicNamePrefix + label
	if utf8.RuneCountInString(name) <= maxTopicNameRune {
		return name
	}
	runes := []rune(name)
	return string(runes[:maxTopicNameRune])
}

// truncateRunes 按字符数截断（Telegram 的长度限制按字符计）
func truncateRunes(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}

// looksLikeHTML 文本包含尖括号时用 HTML 解析模式发送
func looksLikeHTML(s string) bool {
	return strings.ContainsAny(s, "<>")
}
