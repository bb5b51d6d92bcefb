package telegram

import (
	"context"
	"errors"
	"strings"

	"github.com/go-telegram/bot"
	botModels "github.com/go-telegram/bot/models"

	"forward_bot/internal/logger"
)

// sendMessage 发送 HTML 消息，返回消息 ID（失败返回 0）
func (b *Bot) sendMessage(ctx context.Context, chatID int64, text string, replyTo ...int) int {
	return b.sendMessageWithMarkup(ctx, chatID, text, nil, replyTo...)
}

func (b *Bot) sendMessageWithMarkup(ctx context.Context, chatID int64, text string, markup botModels.ReplyMarkup, replyTo ...int) int {
	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: botModels.ParseModeHTML,
	}
	if markup != nil {
		params.ReplyMarkup = markup
	}

	if len(replyTo) > 0 && replyTo[0] > 0 {
		params.ReplyParameters = &botModels.ReplyParameters{
			MessageID: replyTo[0],
		}
	}

	msg, err := b.bot.SendMessage(ctx, params)
	if err != nil {
		logger.L().Errorf("Failed to send message to chat %d: %v", chatID, err)
		return 0
	}
	return msg.ID
}

// sendErrorMessage 发送错误消息
func (b *Bot) sendErrorMessage(ctx context.Context, chatID int64, message string, replyTo ...int) {
	b.sendMessage(ctx, chatID, "❌ "+message, replyTo...)
}

// sendSuccessMessage 发送成功消息
func (b *Bot) sendSuccessMessage(ctx context.Context, chatID int64, message string, replyTo ...int) {
	b.sendMessage(ctx, chatID, "✅ "+message, replyTo...)
}

// editMessage 编辑已发送的 HTML 消息，内容未变化的报错忽略
func (b *Bot) editMessage(ctx context.Context, chatID int64, messageID int, text string, markup botModels.ReplyMarkup) error {
	params := &bot.EditMessageTextParams{
		ChatID:    chatID,
		MessageID: messageID,
		Text:      text,
		ParseMode: botModels.ParseModeHTML,
	}
	if markup != nil {
		params.ReplyMarkup = markup
	}
	_, err := b.bot.EditMessageText(ctx, params)
	if err != nil && isMessageNotModified(err) {
		return nil
	}
	return err
}

func isMessageNotModified(err error) bool {
	return errors.Is(err, bot.ErrorBadRequest) && strings.Contains(err.Error(), "message is not modified")
}
