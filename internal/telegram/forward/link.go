package forward

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// internalChatOffset 私有频道/超级群链接中的内部 ID 转换为 Bot API chat_id 的偏移
const internalChatOffset int64 = -1000000000000

// Locator 消息定位结果
// ChatID 为 0 时表示链接使用的是公开用户名，需要通过 Alias 再解析
type Locator struct {
	ChatID int64
	Alias  string
	Seq    int
}

// Resolved 是否已经拿到数字 chat_id
func (l Locator) Resolved() bool {
	return l.ChatID != 0
}

// ResolveLink 解析消息链接
//
//	https://t.me/c/1234567890/55  -> ChatID=-1001234567890, Seq=55
//	https://t.me/somechannel/55   -> Alias=somechannel, Seq=55
//
// 话题内的私有链接（/c/<id>/<thread>/<seq>）以最后一段作为消息序号。
func ResolveLink(link string) (Locator, error) {
	raw := strings.TrimSpace(link)
	if raw == "" {
		return Locator{}, fmt.Errorf("%w: empty link", ErrMalformedLink)
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Locator{}, fmt.Errorf("%w: %v", ErrMalformedLink, err)
	}

	parts := make([]string, 0, 4)
	for _, p := range strings.Split(u.Path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) < 2 {
		return Locator{}, fmt.Errorf("%w: %q has fewer than two path segments", ErrMalformedLink, link)
	}

	seq, err := parseSeq(parts[len(parts)-1])
	if err != nil {
		return Locator{}, fmt.Errorf("%w: %q: %v", ErrMalformedLink, link, err)
	}

	if parts[0] == "c" {
		if len(parts) < 3 {
			return Locator{}, fmt.Errorf("%w: %q is missing the chat segment", ErrMalformedLink, link)
		}
		internalID, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || internalID <= 0 {
			return Locator{}, fmt.Errorf("%w: %q has a non-numeric chat id", ErrMalformedLink, link)
		}
		return Locator{ChatID: internalChatOffset - internalID, Seq: seq}, nil
	}

	return Locator{Alias: parts[0], Seq: seq}, nil
}

func parseSeq(s string) (int, error) {
	seq, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("message id %q is not an integer", s)
	}
	if seq <= 0 {
		return 0, fmt.Errorf("message id must be positive, got %d", seq)
	}
	return seq, nil
}
