package telegram

import (
	"context"

	"forward_bot/internal/logger"

	"github.com/go-telegram/bot"
	botModels "github.com/go-telegram/bot/models"
)

// RequirePrivate 中间件：只处理私聊消息，群内命令直接忽略
func (b *Bot) RequirePrivate(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
		if update.Message == nil || update.Message.From == nil {
			return
		}
		if update.Message.Chat.Type != botModels.ChatTypePrivate {
			return
		}
		next(ctx, botInstance, update)
	}
}

// RequireAuthorized 中间件：需要转发权限（Authorized 或 Owner）
func (b *Bot) RequireAuthorized(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
		if update.Message == nil || update.Message.From == nil {
			return
		}

		if !b.userService.IsAuthorized(ctx, update.Message.From.ID) {
			logger.L().Warnf("Unauthorized user %d attempted to use forward command", update.Message.From.ID)
			b.sendErrorMessage(ctx, update.Message.Chat.ID, "你没有使用此 Bot 的权限，请联系管理员开通")
			return
		}

		next(ctx, botInstance, update)
	}
}

// RequireOwner 中间件：仅允许 Owner 执行
func (b *Bot) RequireOwner(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
		if update.Message == nil || update.Message.From == nil {
			return
		}

		if !b.userService.IsOwner(ctx, update.Message.From.ID) {
			logger.L().Warnf("Non-owner user %d attempted to use owner command", update.Message.From.ID)
			b.sendErrorMessage(ctx, update.Message.Chat.ID, "此命令仅限 Bot Owner 使用")
			return
		}

		next(ctx, botInstance, update)
	}
}
