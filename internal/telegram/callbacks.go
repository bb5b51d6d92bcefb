package telegram

import (
	"context"
	"errors"
	"strings"

	"github.com/go-telegram/bot"
	botModels "github.com/go-telegram/bot/models"

	"forward_bot/internal/logger"
	"forward_bot/internal/telegram/forward"
)

// 回调数据前缀，总长度受 Telegram 64 字节限制
const (
	callbackCancelJob     = "cancel_job:"
	callbackCancelConfirm = "cancel_confirm:"
	callbackCancelAbort   = "cancel_abort:"
)

// handleCancelJobCallback 点击“取消任务”，先切换为二次确认按钮
func (b *Bot) handleCancelJobCallback(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	query := update.CallbackQuery
	if query == nil {
		return
	}
	jobID := strings.TrimPrefix(query.Data, callbackCancelJob)

	keyboard := &botModels.InlineKeyboardMarkup{
		InlineKeyboard: [][]botModels.InlineKeyboardButton{
			{
				{Text: "✅ 确认取消", CallbackData: callbackCancelConfirm + jobID},
				{Text: "↩️ 继续转发", CallbackData: callbackCancelAbort + jobID},
			},
		},
	}

	b.answerCallback(ctx, botInstance, query.ID, "⚠️ 确认取消该任务？已转发的消息不会撤回", true)
	b.editCallbackMarkup(ctx, botInstance, query, keyboard)

	logger.WithJob(jobID, query.From.ID).Info("Cancel confirmation requested")
}

// handleCancelConfirmCallback 确认取消
func (b *Bot) handleCancelConfirmCallback(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	query := update.CallbackQuery
	if query == nil {
		return
	}
	jobID := strings.TrimPrefix(query.Data, callbackCancelConfirm)

	text := "🛑 已请求取消，当前消息处理完后停止"
	if err := b.forwardService.Cancel(jobID, query.From.ID); err != nil {
		if errors.Is(err, forward.ErrJobNotFound) {
			text = "任务已结束或不属于你"
		} else {
			text = "取消失败，请稍后重试"
			logger.WithJob(jobID, query.From.ID).Errorf("Failed to cancel job: %v", err)
		}
	}

	b.answerCallback(ctx, botInstance, query.ID, text, false)
	b.editCallbackMarkup(ctx, botInstance, query, &botModels.InlineKeyboardMarkup{
		InlineKeyboard: [][]botModels.InlineKeyboardButton{
			{{Text: "🛑 取消中", CallbackData: "noop"}},
		},
	})
}

// handleCancelAbortCallback 放弃取消，恢复原按钮
func (b *Bot) handleCancelAbortCallback(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	query := update.CallbackQuery
	if query == nil {
		return
	}
	jobID := strings.TrimPrefix(query.Data, callbackCancelAbort)

	b.answerCallback(ctx, botInstance, query.ID, "任务继续进行", false)
	b.editCallbackMarkup(ctx, botInstance, query, cancelJobKeyboard(jobID))
}

// handleNoopCallback 占位按钮
func (b *Bot) handleNoopCallback(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	if update.CallbackQuery == nil {
		return
	}
	b.answerCallback(ctx, botInstance, update.CallbackQuery.ID, "", false)
}

func (b *Bot) answerCallback(ctx context.Context, botInstance *bot.Bot, queryID, text string, alert bool) {
	_, err := botInstance.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: queryID,
		Text:            text,
		ShowAlert:       alert,
	})
	if err != nil {
		logger.L().Errorf("Failed to answer callback query: %v", err)
	}
}

func (b *Bot) editCallbackMarkup(ctx context.Context, botInstance *bot.Bot, query *botModels.CallbackQuery, markup botModels.ReplyMarkup) {
	if query.Message.Message == nil {
		return
	}
	_, err := botInstance.EditMessageReplyMarkup(ctx, &bot.EditMessageReplyMarkupParams{
		ChatID:      query.Message.Message.Chat.ID,
		MessageID:   query.Message.Message.ID,
		ReplyMarkup: markup,
	})
	if err != nil && !isMessageNotModified(err) {
		logger.L().Errorf("Failed to edit message markup: %v", err)
	}
}
