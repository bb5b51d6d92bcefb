package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"

	"forward_bot/internal/logger"
	"forward_bot/internal/telegram/forward"
	"forward_bot/internal/telegram/models"
	"forward_bot/internal/telegram/service"

	"github.com/go-telegram/bot"
	botModels "github.com/go-telegram/bot/models"
)

const recentStatisticsLimit = 5

// registerHandlers 注册所有命令处理器（异步执行）
func (b *Bot) registerHandlers() {
	// 公共命令
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypeExact,
		b.asyncHandler(b.RequirePrivate(b.handleStart)))
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/help", bot.MatchTypeExact,
		b.asyncHandler(b.RequirePrivate(b.handleHelp)))
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/ping", bot.MatchTypeExact,
		b.asyncHandler(b.RequirePrivate(b.handlePing)))

	// 转发命令（Authorized+）
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/forward", bot.MatchTypeExact,
		b.asyncHandler(b.RequirePrivate(b.RequireAuthorized(b.handleForward))))
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/cancel", bot.MatchTypePrefix,
		b.asyncHandler(b.RequirePrivate(b.RequireAuthorized(b.handleCancel))))
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/status", bot.MatchTypePrefix,
		b.asyncHandler(b.RequirePrivate(b.RequireAuthorized(b.handleStatus))))
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/stats", bot.MatchTypeExact,
		b.asyncHandler(b.RequirePrivate(b.RequireAuthorized(b.handleStats))))

	// 授权管理（仅 Owner）
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/adduser", bot.MatchTypePrefix,
		b.asyncHandler(b.RequirePrivate(b.RequireOwner(b.handleAddUser))))
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/removeuser", bot.MatchTypePrefix,
		b.asyncHandler(b.RequirePrivate(b.RequireOwner(b.handleRemoveUser))))
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/listusers", bot.MatchTypeExact,
		b.asyncHandler(b.RequirePrivate(b.RequireOwner(b.handleListUsers))))

	// 进度消息上的取消按钮
	b.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, callbackCancelJob, bot.MatchTypePrefix,
		b.handleCancelJobCallback)
	b.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, callbackCancelConfirm, bot.MatchTypePrefix,
		b.handleCancelConfirmCallback)
	b.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, callbackCancelAbort, bot.MatchTypePrefix,
		b.handleCancelAbortCallback)
	b.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, "noop", bot.MatchTypeExact,
		b.handleNoopCallback)

	logger.L().Debug("All handlers registered with async execution")
}

const usageText = `<b>请求格式</b>（每行一项）：
<code>https://t.me/c/3586558422/1641</code>  起始消息链接
<code>https://t.me/c/3586558422/26787</code> 结束消息链接
<code>-1003586558422</code>                  目标群 ID
<code>'旧文本' '新文本'</code>                 可选，每行一条替换规则

发送请求后，回复该消息 /forward 开始转发。`

// handleStart 处理 /start 命令
func (b *Bot) handleStart(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	from := update.Message.From

	userInfo := &service.TelegramUserInfo{
		TelegramID: from.ID,
		Username:   from.Username,
		FirstName:  from.FirstName,
	}
	if err := b.userService.RegisterUser(ctx, userInfo); err != nil {
		logger.L().Warnf("Failed to register user %d: %v", from.ID, err)
	}

	welcomeText := fmt.Sprintf(
		"👋 你好, %s!\n\n这是一个频道消息区间转发 Bot。\n\n%s\n\n"+
			"可用命令:\n/forward - 开始转发（回复请求消息）\n/cancel [任务ID] - 取消任务或清除待确认请求\n"+
			"/status [任务ID] - 查看任务状态\n/stats - 最近的转发统计\n/help - 详细说明",
		html.EscapeString(from.FirstName), usageText,
	)
	if !b.userService.IsAuthorized(ctx, from.ID) {
		welcomeText += fmt.Sprintf("\n\n⚠️ 你尚未获得授权，请将你的 ID <code>%d</code> 发给管理员。", from.ID)
	}

	b.sendMessage(ctx, update.Message.Chat.ID, welcomeText)
}

// handleHelp 处理 /help 命令
func (b *Bot) handleHelp(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	helpText := "📖 <b>使用说明</b>\n\n" + usageText + "\n\n" +
		"<b>注意事项</b>\n" +
		"• Bot 需要是目标群管理员\n" +
		"• 说明首行包含 \"Topic: 名称\" 的消息会进入同名话题（目标群需开启话题）\n" +
		fmt.Sprintf("• 单次最多 %d 条消息\n", b.maxMessages) +
		"• 失败的消息会被跳过并计入失败数\n" +
		"• 取消后当前消息处理完才会停止，已转发的消息不会撤回"

	b.sendMessage(ctx, update.Message.Chat.ID, helpText)
}

// handlePing 处理 /ping 命令
func (b *Bot) handlePing(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	b.sendMessage(ctx, update.Message.Chat.ID, b.buildPingMessage(ctx))
}

// handleDefault 非命令私聊文本：尝试解析为转发请求
func (b *Bot) handleDefault(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat.Type != botModels.ChatTypePrivate {
		return
	}
	if msg.Text == "" || strings.HasPrefix(msg.Text, "/") {
		return
	}

	raw, err := parseForwardRequest(msg.Text)
	if errors.Is(err, errNotARequest) {
		return
	}
	if !b.userService.IsAuthorized(ctx, msg.From.ID) {
		b.sendErrorMessage(ctx, msg.Chat.ID, "你没有使用此 Bot 的权限，请联系管理员开通")
		return
	}
	if err != nil {
		b.sendErrorMessage(ctx, msg.Chat.ID, fmt.Sprintf("格式错误: %s\n使用 /help 查看正确格式", html.EscapeString(err.Error())), msg.ID)
		return
	}

	b.pending.Set(msg.From.ID, msg.ID, raw)

	b.sendMessage(ctx, msg.Chat.ID, formatRequestReceived(raw, b.directCopy), msg.ID)
}

// formatRequestReceived 请求确认消息；directCopy 时提示替换与话题不会生效
func formatRequestReceived(raw forward.RawRequest, directCopy bool) string {
	var sb strings.Builder
	sb.WriteString("✅ <b>已收到转发请求</b>\n\n")
	fmt.Fprintf(&sb, "起始: <code>%s</code>\n", html.EscapeString(raw.StartLink))
	fmt.Fprintf(&sb, "结束: <code>%s</code>\n", html.EscapeString(raw.EndLink))
	fmt.Fprintf(&sb, "目标: <code>%s</code>\n", html.EscapeString(raw.Target))
	fmt.Fprintf(&sb, "替换规则: %d 条\n", len(raw.Replacements))
	if directCopy {
		sb.WriteString("\n⚠️ 未配置中转频道，消息将原样复制：替换规则和 Topic 分组不会生效\n")
	}
	sb.WriteString("\n回复本条请求消息 /forward 开始转发，/cancel 放弃。")
	return sb.String()
}

// handleForward 处理 /forward 命令（必须回复请求消息）
func (b *Bot) handleForward(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	msg := update.Message
	userID := msg.From.ID

	if msg.ReplyToMessage == nil {
		b.sendErrorMessage(ctx, msg.Chat.ID, "请回复你的转发请求消息并发送 /forward")
		return
	}

	pending, ok := b.pending.Get(userID)
	if !ok {
		b.sendErrorMessage(ctx, msg.Chat.ID, "没有待确认的转发请求，请先发送请求内容")
		return
	}
	if msg.ReplyToMessage.ID != pending.messageID {
		b.sendErrorMessage(ctx, msg.Chat.ID, "请回复你最近一次发送的转发请求消息")
		return
	}

	req, err := b.forwardService.NewRequest(ctx, pending.raw)
	if err != nil {
		logger.L().Infof("Rejected forward request from user %d: %v", userID, err)
		b.sendErrorMessage(ctx, msg.Chat.ID, describeRequestError(err), pending.messageID)
		return
	}

	statusID := b.sendMessage(ctx, msg.Chat.ID, "🔄 正在启动转发任务...", pending.messageID)
	reporter := newChatReporter(b, msg.Chat.ID, statusID)

	job, err := b.forwardService.Submit(ctx, userID, req, reporter)
	if err != nil {
		text := "启动任务失败，请稍后重试"
		if errors.Is(err, forward.ErrTooManyJobs) {
			text = fmt.Sprintf("你同时运行的任务已达上限 (%d)，请等待或 /cancel 后再试", b.maxJobsPerUser)
		} else {
			logger.L().Errorf("Failed to submit forward job for user %d: %v", userID, err)
		}
		if statusID != 0 {
			_ = b.editMessage(ctx, msg.Chat.ID, statusID, "❌ "+text, nil)
		} else {
			b.sendErrorMessage(ctx, msg.Chat.ID, text)
		}
		return
	}

	b.pending.Delete(userID)
	logger.WithJob(job.ID, userID).Infof("Forward job submitted: %d messages from %d to %d",
		job.Total, job.Request.SourceChatID, job.Request.TargetChatID)

	if statusID != 0 {
		text := fmt.Sprintf("🔄 <b>转发任务已启动</b>\n\n区间: %d-%d（共 %d 条）\n任务: <code>%s</code>",
			job.Request.StartSeq, job.Request.EndSeq, job.Total, html.EscapeString(job.ID))
		if err := b.editMessage(ctx, msg.Chat.ID, statusID, text, cancelJobKeyboard(job.ID)); err != nil {
			logger.WithJob(job.ID, userID).Debugf("Failed to update status message: %v", err)
		}
	}
}

// describeRequestError 将校验错误转换为用户提示
func describeRequestError(err error) string {
	switch {
	case errors.Is(err, forward.ErrMalformedLink):
		return "消息链接无效，应为 https://t.me/c/<频道ID>/<消息ID> 或 https://t.me/<用户名>/<消息ID>"
	case errors.Is(err, forward.ErrUnresolvedChat):
		return "无法解析来源频道，请确认 Bot 已加入该频道"
	case errors.Is(err, forward.ErrChatMismatch):
		return "起始链接和结束链接必须来自同一个频道"
	case errors.Is(err, forward.ErrRangeTooLarge):
		return "消息区间过大：" + html.EscapeString(err.Error())
	case errors.Is(err, forward.ErrInvalidTarget):
		return "目标群 ID 无效，应为数字，例如 -1003586558422"
	case errors.Is(err, forward.ErrEmptyFind):
		return "替换规则的查找文本不能为空"
	default:
		return "请求无效：" + html.EscapeString(err.Error())
	}
}

// handleCancel 处理 /cancel [任务ID]
func (b *Bot) handleCancel(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	msg := update.Message
	userID := msg.From.ID

	if parts := strings.Fields(msg.Text); len(parts) >= 2 {
		jobID := parts[1]
		if err := b.forwardService.Cancel(jobID, userID); err != nil {
			b.sendErrorMessage(ctx, msg.Chat.ID, "未找到你正在运行的该任务")
			return
		}
		b.sendMessage(ctx, msg.Chat.ID, fmt.Sprintf("🛑 已请求取消任务 <code>%s</code>", html.EscapeString(jobID)))
		return
	}

	if n := b.forwardService.CancelAll(userID); n > 0 {
		b.sendMessage(ctx, msg.Chat.ID, fmt.Sprintf("🛑 已请求取消 %d 个任务，当前消息处理完后停止", n))
		return
	}
	if b.pending.Delete(userID) {
		b.sendMessage(ctx, msg.Chat.ID, "🗑️ 已清除待确认的转发请求")
		return
	}
	b.sendMessage(ctx, msg.Chat.ID, "ℹ️ 没有进行中的任务或待确认的请求")
}

// handleStatus 处理 /status [任务ID]
func (b *Bot) handleStatus(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	msg := update.Message
	userID := msg.From.ID

	if parts := strings.Fields(msg.Text); len(parts) >= 2 {
		job, err := b.forwardService.Status(ctx, parts[1])
		if err != nil || (job.UserID != userID && !b.userService.IsOwner(ctx, userID)) {
			if err != nil && !errors.Is(err, forward.ErrJobNotFound) {
				logger.L().Errorf("Failed to load job %s: %v", parts[1], err)
			}
			b.sendErrorMessage(ctx, msg.Chat.ID, "未找到该任务")
			return
		}
		b.sendMessage(ctx, msg.Chat.ID, formatJobStatus(job))
		return
	}

	jobs, err := b.forwardService.ActiveStatuses(ctx, userID)
	if err != nil {
		logger.L().Errorf("Failed to list active jobs for user %d: %v", userID, err)
		b.sendErrorMessage(ctx, msg.Chat.ID, "查询任务失败，请稍后重试")
		return
	}
	if len(jobs) == 0 {
		b.sendMessage(ctx, msg.Chat.ID, "ℹ️ 当前没有进行中的任务")
		return
	}

	parts := make([]string, 0, len(jobs))
	for _, job := range jobs {
		parts = append(parts, formatJobStatus(job))
	}
	b.sendMessage(ctx, msg.Chat.ID, strings.Join(parts, "\n\n"))
}

func formatJobStatus(job *models.ForwardJob) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s <code>%s</code> %s\n", statusEmoji(job.Status), html.EscapeString(job.ID), job.Status)
	fmt.Fprintf(&sb, "区间: %d-%d → <code>%d</code>\n", job.Request.StartSeq, job.Request.EndSeq, job.Request.TargetChatID)
	fmt.Fprintf(&sb, "进度: %d/%d (%.1f%%) 成功 %d 失败 %d", job.Processed(), job.Total, job.Progress, job.Successful, job.Failed)
	if job.Error != "" {
		fmt.Fprintf(&sb, "\n原因: %s", html.EscapeString(job.Error))
	}
	return sb.String()
}

// handleStats 处理 /stats 命令
func (b *Bot) handleStats(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	msg := update.Message

	stats, err := b.forwardService.RecentStatistics(ctx, msg.From.ID, recentStatisticsLimit)
	if err != nil {
		logger.L().Errorf("Failed to load statistics for user %d: %v", msg.From.ID, err)
		b.sendErrorMessage(ctx, msg.Chat.ID, "查询统计失败，请稍后重试")
		return
	}
	b.sendMessage(ctx, msg.Chat.ID, formatStatistics(stats))
}

func formatStatistics(stats []*models.JobStatistic) string {
	if len(stats) == 0 {
		return "📊 暂无转发统计"
	}

	var sb strings.Builder
	sb.WriteString("📊 <b>最近的转发统计</b>\n\n")

	var totalSuccess, totalFailed int
	for _, stat := range stats {
		fmt.Fprintf(&sb, "• %s %s\n", stat.Timestamp.Format("2006-01-02 15:04"), statusEmoji(stat.Status))
		fmt.Fprintf(&sb, "  消息: %d✅ / %d❌\n", stat.Successful, stat.Failed)
		fmt.Fprintf(&sb, "  目标: <code>%d</code>\n", stat.TargetChatID)
		fmt.Fprintf(&sb, "  区间: %s\n\n", stat.MessageRange)
		totalSuccess += stat.Successful
		totalFailed += stat.Failed
	}
	fmt.Fprintf(&sb, "<b>合计:</b> %d✅ / %d❌", totalSuccess, totalFailed)
	return sb.String()
}

// parseUserIDArg 解析命令中的用户 ID 参数
func parseUserIDArg(text string) (int64, bool) {
	parts := strings.Fields(text)
	if len(parts) < 2 {
		return 0, false
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// handleAddUser 处理 /adduser <user_id>
func (b *Bot) handleAddUser(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	msg := update.Message
	targetID, ok := parseUserIDArg(msg.Text)
	if !ok {
		b.sendErrorMessage(ctx, msg.Chat.ID, "用法: /adduser <user_id>\n例如: /adduser 123456789")
		return
	}

	if err := b.userService.Authorize(ctx, targetID, msg.From.ID); err != nil {
		b.sendErrorMessage(ctx, msg.Chat.ID, userServiceErrorText(err))
		return
	}
	b.sendSuccessMessage(ctx, msg.Chat.ID, fmt.Sprintf("已授权用户 %d 使用转发功能", targetID))
}

// handleRemoveUser 处理 /removeuser <user_id>
func (b *Bot) handleRemoveUser(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	msg := update.Message
	targetID, ok := parseUserIDArg(msg.Text)
	if !ok {
		b.sendErrorMessage(ctx, msg.Chat.ID, "用法: /removeuser <user_id>\n例如: /removeuser 123456789")
		return
	}

	if err := b.userService.Revoke(ctx, targetID, msg.From.ID); err != nil {
		b.sendErrorMessage(ctx, msg.Chat.ID, userServiceErrorText(err))
		return
	}
	if n := b.forwardService.CancelAll(targetID); n > 0 {
		logger.L().Infof("Cancelled %d jobs of revoked user %d", n, targetID)
	}
	b.sendSuccessMessage(ctx, msg.Chat.ID, fmt.Sprintf("已撤销用户 %d 的转发权限", targetID))
}

func userServiceErrorText(err error) string {
	for _, known := range []error{
		service.ErrNotOwner,
		service.ErrCannotChangeOwner,
		service.ErrAlreadyAuthorized,
		service.ErrNotAuthorized,
		service.ErrInvalidUserID,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	logger.L().Errorf("User service error: %v", err)
	return "操作失败，请稍后重试"
}

// handleListUsers 处理 /listusers
func (b *Bot) handleListUsers(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	msg := update.Message

	users, err := b.userService.ListAuthorized(ctx)
	if err != nil {
		logger.L().Errorf("Failed to list users: %v", err)
		b.sendErrorMessage(ctx, msg.Chat.ID, "获取用户列表失败")
		return
	}
	b.sendMessage(ctx, msg.Chat.ID, formatUserList(users))
}

func formatUserList(users []*models.User) string {
	if len(users) == 0 {
		return "👥 暂无授权用户"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "👥 <b>授权用户</b> (%d)\n\n", len(users))
	for _, u := range users {
		role := "授权用户"
		if u.IsOwner() {
			role = "Owner"
		}
		name := u.FirstName
		if u.Username != "" {
			name = "@" + u.Username
		}
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(&sb, "• <code>%d</code> %s (%s)\n", u.TelegramID, html.EscapeString(name), role)
	}
	return strings.TrimRight(sb.String(), "\n")
}
