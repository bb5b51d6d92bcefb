package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"forward_bot/internal/telegram/forward"

	"github.com/go-telegram/bot"
	botModels "github.com/go-telegram/bot/models"
)

// botTransport 基于 go-telegram/bot 的转发引擎传输层
// 所有调用先经过令牌桶限速，发送类调用一律静默
type botTransport struct {
	api     *bot.Bot
	botID   int64
	limiter *forward.RateLimiter
}

func newBotTransport(api *bot.Bot, token string, limiter *forward.RateLimiter) (*botTransport, error) {
	botID, err := botIDFromToken(token)
	if err != nil {
		return nil, err
	}
	return &botTransport{api: api, botID: botID, limiter: limiter}, nil
}

// botIDFromToken token 形如 "<bot_id>:<secret>"
func botIDFromToken(token string) (int64, error) {
	prefix, _, ok := strings.Cut(token, ":")
	if !ok {
		return 0, fmt.Errorf("malformed bot token")
	}
	id, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("malformed bot token id %q", prefix)
	}
	return id, nil
}

func (t *botTransport) wait(ctx context.Context) error {
	if t.limiter == nil {
		return nil
	}
	return t.limiter.Wait(ctx)
}

func (t *botTransport) ForwardMessage(ctx context.Context, params forward.ForwardParams) (*forward.Message, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	msg, err := t.api.ForwardMessage(ctx, &bot.ForwardMessageParams{
		ChatID:              params.ChatID,
		MessageThreadID:     params.ThreadID,
		FromChatID:          params.FromChatID,
		MessageID:           params.MessageID,
		DisableNotification: true,
	})
	if err != nil {
		return nil, err
	}
	return toForwardMessage(msg), nil
}

func (t *botTransport) CopyMessage(ctx context.Context, params forward.CopyParams) (int, error) {
	if err := t.wait(ctx); err != nil {
		return 0, err
	}
	req := &bot.CopyMessageParams{
		ChatID:              params.ChatID,
		MessageThreadID:     params.ThreadID,
		FromChatID:          params.FromChatID,
		MessageID:           params.MessageID,
		DisableNotification: true,
	}
	if params.Caption != nil {
		req.Caption = *params.Caption
	}
	if params.HTML {
		req.ParseMode = botModels.ParseModeHTML
	}
	id, err := t.api.CopyMessage(ctx, req)
	if err != nil {
		return 0, err
	}
	return id.ID, nil
}

func (t *botTransport) SendMessage(ctx context.Context, params forward.SendParams) (int, error) {
	if err := t.wait(ctx); err != nil {
		return 0, err
	}
	req := &bot.SendMessageParams{
		ChatID:              params.ChatID,
		MessageThreadID:     params.ThreadID,
		Text:                params.Text,
		DisableNotification: true,
	}
	if params.HTML {
		req.ParseMode = botModels.ParseModeHTML
	}
	msg, err := t.api.SendMessage(ctx, req)
	if err != nil {
		return 0, err
	}
	return msg.ID, nil
}

func (t *botTransport) CreateTopic(ctx context.Context, chatID int64, name string) (int, error) {
	if err := t.wait(ctx); err != nil {
		return 0, err
	}
	topic, err := t.api.CreateForumTopic(ctx, &bot.CreateForumTopicParams{
		ChatID: chatID,
		Name:   name,
	})
	if err != nil {
		return 0, err
	}
	return topic.MessageThreadID, nil
}

func (t *botTransport) PinMessage(ctx context.Context, chatID int64, messageID int) error {
	if err := t.wait(ctx); err != nil {
		return err
	}
	_, err := t.api.PinChatMessage(ctx, &bot.PinChatMessageParams{
		ChatID:              chatID,
		MessageID:           messageID,
		DisableNotification: true,
	})
	return err
}

func (t *botTransport) GetChatMembership(ctx context.Context, chatID int64) (string, error) {
	if err := t.wait(ctx); err != nil {
		return "", err
	}
	member, err := t.api.GetChatMember(ctx, &bot.GetChatMemberParams{
		ChatID: chatID,
		UserID: t.botID,
	})
	if err != nil {
		return "", err
	}
	return string(member.Type), nil
}

func (t *botTransport) ResolveChat(ctx context.Context, alias string) (int64, error) {
	if err := t.wait(ctx); err != nil {
		return 0, err
	}
	chat, err := t.api.GetChat(ctx, &bot.GetChatParams{ChatID: alias})
	if err != nil {
		return 0, err
	}
	return chat.ID, nil
}

func toForwardMessage(msg *botModels.Message) *forward.Message {
	if msg == nil {
		return nil
	}
	return &forward.Message{
		ID:       msg.ID,
		Text:     msg.Text,
		Caption:  msg.Caption,
		HasMedia: hasMedia(msg),
	}
}

// hasMedia 贴纸等不算媒体，按原样转发
func hasMedia(msg *botModels.Message) bool {
	return len(msg.Photo) > 0 ||
		msg.Video != nil ||
		msg.Document != nil ||
		msg.Audio != nil ||
		msg.Animation != nil ||
		msg.Voice != nil
}
