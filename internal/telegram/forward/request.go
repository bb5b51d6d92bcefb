package forward

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"forward_bot/internal/telegram/models"
)

// ForwardRequest 校验通过的转发请求，构造后不可修改
type ForwardRequest struct {
	sourceChatID int64
	startSeq     int
	endSeq       int
	targetChatID int64
	replacements Replacements
}

// NewForwardRequest 构造请求：起止颠倒时自动交换，并检查区间上限
func NewForwardRequest(sourceChatID int64, startSeq, endSeq int, targetChatID int64, replacements Replacements, maxMessages int) (ForwardRequest, error) {
	if sourceChatID == 0 {
		return ForwardRequest{}, fmt.Errorf("%w: source chat is empty", ErrUnresolvedChat)
	}
	if targetChatID == 0 {
		return ForwardRequest{}, ErrInvalidTarget
	}
	if startSeq <= 0 || endSeq <= 0 {
		return ForwardRequest{}, fmt.Errorf("%w: message ids must be positive", ErrMalformedLink)
	}
	if startSeq > endSeq {
		startSeq, endSeq = endSeq, startSeq
	}
	if total := endSeq - startSeq + 1; maxMessages > 0 && total > maxMessages {
		return ForwardRequest{}, fmt.Errorf("%w: %d > %d", ErrRangeTooLarge, total, maxMessages)
	}

	pairs := make(Replacements, 0, len(replacements))
	for _, p := range replacements {
		if err := pairs.Set(p.Find, p.Replace); err != nil {
			return ForwardRequest{}, err
		}
	}

	return ForwardRequest{
		sourceChatID: sourceChatID,
		startSeq:     startSeq,
		endSeq:       endSeq,
		targetChatID: targetChatID,
		replacements: pairs,
	}, nil
}

func (r ForwardRequest) SourceChatID() int64 { return r.sourceChatID }
func (r ForwardRequest) StartSeq() int       { return r.startSeq }
func (r ForwardRequest) EndSeq() int         { return r.endSeq }
func (r ForwardRequest) TargetChatID() int64 { return r.targetChatID }

// Replacements 返回副本
func (r ForwardRequest) Replacements() Replacements { return r.replacements.Clone() }

// Total 区间内的消息数
func (r ForwardRequest) Total() int { return r.endSeq - r.startSeq + 1 }

// Record 转为存储结构
func (r ForwardRequest) Record() models.ForwardRequestRecord {
	pairs := make([]models.ReplacementPair, 0, len(r.replacements))
	for _, p := range r.replacements {
		pairs = append(pairs, models.ReplacementPair{Find: p.Find, Replace: p.Replace})
	}
	return models.ForwardRequestRecord{
		SourceChatID: r.sourceChatID,
		StartSeq:     r.startSeq,
		EndSeq:       r.endSeq,
		TargetChatID: r.targetChatID,
		Replacements: pairs,
	}
}

// RawRequest 前端解析出的原始请求
type RawRequest struct {
	StartLink    string
	EndLink      string
	Target       string
	Replacements Replacements
}

// NewRequest 解析链接（必要时通过远端解析公开用户名）并生成请求
func (s *Service) NewRequest(ctx context.Context, raw RawRequest) (ForwardRequest, error) {
	start, err := ResolveLink(raw.StartLink)
	if err != nil {
		return ForwardRequest{}, fmt.Errorf("start link: %w", err)
	}
	end, err := ResolveLink(raw.EndLink)
	if err != nil {
		return ForwardRequest{}, fmt.Errorf("end link: %w", err)
	}

	startChat, err := s.resolveChat(ctx, start)
	if err != nil {
		return ForwardRequest{}, err
	}
	endChat, err := s.resolveChat(ctx, end)
	if err != nil {
		return ForwardRequest{}, err
	}
	if startChat != endChat {
		return ForwardRequest{}, fmt.Errorf("%w: %d != %d", ErrChatMismatch, startChat, endChat)
	}

	target, err := strconv.ParseInt(strings.TrimSpace(raw.Target), 10, 64)
	if err != nil || target == 0 {
		return ForwardRequest{}, fmt.Errorf("%w: %q", ErrInvalidTarget, raw.Target)
	}

	return NewForwardRequest(startChat, start.Seq, end.Seq, target, raw.Replacements, s.cfg.MaxMessages)
}

func (s *Service) resolveChat(ctx context.Context, loc Locator) (int64, error) {
	if loc.Resolved() {
		return loc.ChatID, nil
	}
	chatID, err := s.transport.ResolveChat(ctx, "@"+loc.Alias)
	if err != nil {
		return 0, fmt.Errorf("%w: @%s: %v", ErrUnresolvedChat, loc.Alias, err)
	}
	if chatID == 0 {
		return 0, fmt.Errorf("%w: @%s", ErrUnresolvedChat, loc.Alias)
	}
	return chatID, nil
}
