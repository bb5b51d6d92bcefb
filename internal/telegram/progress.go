package telegram

import (
	"context"
	"fmt"
	"html"
	"strings"
	"sync"

	botModels "github.com/go-telegram/bot/models"

	"forward_bot/internal/logger"
	"forward_bot/internal/telegram/forward"
	"forward_bot/internal/telegram/models"
)

// chatReporter 把任务进度写回发起人的私聊
// 进度刷新编辑同一条状态消息，结束时另发一条汇总以便通知用户
type chatReporter struct {
	bot             *Bot
	chatID          int64
	statusMessageID int

	mu       sync.Mutex
	finished bool
}

func newChatReporter(b *Bot, chatID int64, statusMessageID int) *chatReporter {
	return &chatReporter{bot: b, chatID: chatID, statusMessageID: statusMessageID}
}

func (r *chatReporter) Progress(ctx context.Context, snap forward.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished || r.statusMessageID == 0 {
		return
	}
	if err := r.bot.editMessage(ctx, r.chatID, r.statusMessageID, formatProgressText(snap), cancelJobKeyboard(snap.JobID)); err != nil {
		logger.WithJob(snap.JobID, snap.UserID).Warnf("Failed to update progress message: %v", err)
	}
}

func (r *chatReporter) Finished(ctx context.Context, snap forward.Snapshot) {
	r.mu.Lock()
	r.finished = true
	r.mu.Unlock()

	if r.statusMessageID != 0 {
		if err := r.bot.editMessage(ctx, r.chatID, r.statusMessageID, formatProgressText(snap), nil); err != nil {
			logger.WithJob(snap.JobID, snap.UserID).Debugf("Failed to finalize progress message: %v", err)
		}
	}
	r.bot.sendMessage(ctx, r.chatID, formatFinalText(snap), r.statusMessageID)
}

func cancelJobKeyboard(jobID string) botModels.ReplyMarkup {
	return &botModels.InlineKeyboardMarkup{
		InlineKeyboard: [][]botModels.InlineKeyboardButton{
			{{Text: "🛑 取消任务", CallbackData: callbackCancelJob + jobID}},
		},
	}
}

// formatProgressText 进度消息
func formatProgressText(snap forward.Snapshot) string {
	var sb strings.Builder
	if snap.Status.IsTerminal() {
		fmt.Fprintf(&sb, "📋 <b>任务已结束</b> %s\n\n", statusEmoji(snap.Status))
	} else {
		fmt.Fprintf(&sb, "🔄 <b>转发进行中</b> %s\n\n", statusEmoji(snap.Status))
	}
	fmt.Fprintf(&sb, "进度: %d/%d (%.1f%%)\n", snap.Processed(), snap.Total, snap.Percent())
	fmt.Fprintf(&sb, "成功: %d ✅ 失败: %d ❌\n", snap.Successful, snap.Failed)
	if snap.CurrentSeq > 0 {
		fmt.Fprintf(&sb, "当前消息: #%d\n", snap.CurrentSeq)
	}
	fmt.Fprintf(&sb, "速度: %.1f 条/分钟\n", snap.MessagesPerMinute())
	fmt.Fprintf(&sb, "已用时: %s\n", formatDuration(snap.Elapsed))
	fmt.Fprintf(&sb, "任务: <code>%s</code>", html.EscapeString(snap.JobID))
	return sb.String()
}

// formatFinalText 任务结束汇总，所有终态都会发送
func formatFinalText(snap forward.Snapshot) string {
	var sb strings.Builder
	switch snap.Status {
	case models.JobStatusCompleted:
		sb.WriteString("✅ <b>转发完成</b>\n\n")
	case models.JobStatusCancelled:
		sb.WriteString("🛑 <b>转发已取消</b>\n\n")
	default:
		sb.WriteString("❌ <b>转发失败</b>\n\n")
	}
	fmt.Fprintf(&sb, "区间: %d-%d（共 %d 条）\n", snap.StartSeq, snap.EndSeq, snap.Total)
	fmt.Fprintf(&sb, "已处理: %d (%.1f%%)\n", snap.Processed(), snap.Percent())
	fmt.Fprintf(&sb, "成功: %d ✅ 失败: %d ❌\n", snap.Successful, snap.Failed)
	if snap.ReplacementsApplied > 0 {
		fmt.Fprintf(&sb, "文本替换: %d 次\n", snap.ReplacementsApplied)
	}
	if snap.TopicsCreated > 0 || snap.MessagesPinned > 0 {
		fmt.Fprintf(&sb, "新建话题: %d 置顶: %d\n", snap.TopicsCreated, snap.MessagesPinned)
	}
	fmt.Fprintf(&sb, "速度: %.1f 条/分钟\n", snap.MessagesPerMinute())
	fmt.Fprintf(&sb, "耗时: %s\n", formatDuration(snap.Elapsed))
	if snap.Error != "" {
		fmt.Fprintf(&sb, "原因: %s\n", html.EscapeString(snap.Error))
	}
	fmt.Fprintf(&sb, "任务: <code>%s</code>", html.EscapeString(snap.JobID))
	return sb.String()
}

func statusEmoji(status models.ForwardJobStatus) string {
	switch status {
	case models.JobStatusPending:
		return "⏳"
	case models.JobStatusProcessing:
		return "▶️"
	case models.JobStatusCompleted:
		return "✅"
	case models.JobStatusCancelled:
		return "🛑"
	default:
		return "❌"
	}
}
