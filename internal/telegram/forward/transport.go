package forward

import "context"

// 目标会话中 Bot 的成员身份
const (
	MemberCreator       = "creator"
	MemberAdministrator = "administrator"
	MemberMember        = "member"
	MemberLeft          = "left"
	MemberKicked        = "kicked"
)

// Message 转发/读取到的消息摘要
type Message struct {
	ID       int
	Text     string
	Caption  string
	HasMedia bool
}

// Body 文本消息取正文，媒体消息取说明
func (m *Message) Body() string {
	if m == nil {
		return ""
	}
	if m.HasMedia {
		return m.Caption
	}
	return m.Text
}

// ForwardParams 原样转发
type ForwardParams struct {
	ChatID     int64
	ThreadID   int
	FromChatID int64
	MessageID  int
}

// CopyParams 复制消息；Caption 为 nil 时保留原说明
type CopyParams struct {
	ChatID     int64
	ThreadID   int
	FromChatID int64
	MessageID  int
	Caption    *string
	HTML       bool
}

// SendParams 发送新文本消息
type SendParams struct {
	ChatID   int64
	ThreadID int
	Text     string
	HTML     bool
}

// Transport 引擎依赖的远端调用能力
// 所有发送类调用都应静默发送（不通知成员）
type Transport interface {
	ForwardMessage(ctx context.Context, params ForwardParams) (*Message, error)
	CopyMessage(ctx context.Context, params CopyParams) (int, error)
	SendMessage(ctx context.Context, params SendParams) (int, error)
	CreateTopic(ctx context.Context, chatID int64, name string) (int, error)
	PinMessage(ctx context.Context, chatID int64, messageID int) error
	GetChatMembership(ctx context.Context, chatID int64) (string, error)
	ResolveChat(ctx context.Context, alias string) (int64, error)
}
