package forward

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"forward_bot/internal/logger"
	"forward_bot/internal/telegram/models"
	"forward_bot/internal/telegram/repository"
	"forward_bot/internal/tracing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const interruptedReason = "interrupted by restart"

// Config 引擎配置
type Config struct {
	LogChannelID     int64         // 中转频道，0 表示直接复制到目标
	MaxMessages      int           // 单个任务最大消息数
	MaxRetries       int           // 单次远端调用失败后的最大重试次数
	ProgressEvery    int           // 每处理 K 条刷新一次进度
	ProgressInterval time.Duration // 或距上次刷新超过 T
	CaptionLimit     int
	TextLimit        int
}

// DefaultConfig 默认引擎配置
func DefaultConfig() Config {
	return Config{
		MaxMessages:      5000,
		MaxRetries:       3,
		ProgressEvery:    20,
		ProgressInterval: 10 * time.Second,
		CaptionLimit:     1024,
		TextLimit:        4096,
	}
}

// Stores 引擎使用的持久化存储
type Stores struct {
	Jobs   repository.ForwardJobRepository
	Stats  repository.JobStatisticRepository
	Topics repository.TopicRepository
	Pins   repository.PinRepository
}

// Service 转发任务引擎
type Service struct {
	cfg        Config
	transport  Transport
	jobs       repository.ForwardJobRepository
	stats      repository.JobStatisticRepository
	topics     *TopicRegistry
	pins       *PinRegistry
	controller *Controller
	registry   *JobRegistry

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	wg sync.WaitGroup
}

// Option 引擎可选项
type Option func(*Service)

// WithSleeper 替换等待实现（测试中不真正睡眠）
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Service) {
		s.sleep = fn
	}
}

// WithClock 替换时钟
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		s.now = fn
	}
}

// NewService 创建转发引擎
func NewService(cfg Config, transport Transport, stores Stores, controller *Controller, registry *JobRegistry, opts ...Option) *Service {
	def := DefaultConfig()
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = def.ProgressEvery
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = def.ProgressInterval
	}
	if cfg.CaptionLimit <= 0 {
		cfg.CaptionLimit = def.CaptionLimit
	}
	if cfg.TextLimit <= 0 {
		cfg.TextLimit = def.TextLimit
	}

	s := &Service{
		cfg:        cfg,
		transport:  transport,
		jobs:       stores.Jobs,
		stats:      stores.Stats,
		topics:     NewTopicRegistry(stores.Topics, transport),
		pins:       NewPinRegistry(stores.Pins, transport),
		controller: controller,
		registry:   registry,
		sleep:      sleepContext,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Snapshot 任务进度快照，交给前端展示
type Snapshot struct {
	JobID               string
	UserID              int64
	Status              models.ForwardJobStatus
	Total               int
	StartSeq            int
	EndSeq              int
	CurrentSeq          int
	Successful          int
	Failed              int
	ReplacementsApplied int
	TopicsCreated       int
	MessagesPinned      int
	StartedAt           time.Time
	Elapsed             time.Duration
	Error               string
}

// Processed 已处理数量
func (s Snapshot) Processed() int {
	return s.Successful + s.Failed
}

// Percent 进度百分比
func (s Snapshot) Percent() float64 {
	if s.Total <= 0 {
		return 0
	}
	return float64(s.Processed()) * 100 / float64(s.Total)
}

// MessagesPerMinute 处理速度
func (s Snapshot) MessagesPerMinute() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Processed()) / s.Elapsed.Minutes()
}

// ProgressReporter 进度输出（例如编辑聊天里的状态消息）
type ProgressReporter interface {
	Progress(ctx context.Context, snap Snapshot)
	Finished(ctx context.Context, snap Snapshot)
}

type noopReporter struct{}

func (noopReporter) Progress(context.Context, Snapshot) {}
func (noopReporter) Finished(context.Context, Snapshot) {}

// jobState 只由执行任务的 goroutine 修改
type jobState struct {
	job          *models.ForwardJob
	req          ForwardRequest
	replacements Replacements
	targetChatID int64
	reporter     ProgressReporter
	log          *logrus.Entry

	currentSeq          int
	successful          int
	failed              int
	replacementsApplied int
	topicsCreated       int
	messagesPinned      int
	errText             string

	// 本任务新建、还未置顶的话题
	unpinned map[int]struct{}
}

func (st *jobState) processed() int {
	return st.successful + st.failed
}

func (st *jobState) progress() models.JobProgress {
	pct := 0.0
	if total := st.req.Total(); total > 0 {
		pct = float64(st.processed()) * 100 / float64(total)
	}
	return models.JobProgress{
		Progress:   pct,
		CurrentSeq: st.currentSeq,
		Successful: st.successful,
		Failed:     st.failed,
	}
}

func (s *Service) snapshot(st *jobState, status models.ForwardJobStatus) Snapshot {
	return Snapshot{
		JobID:               st.job.ID,
		UserID:              st.job.UserID,
		Status:              status,
		Total:               st.req.Total(),
		StartSeq:            st.req.StartSeq(),
		EndSeq:              st.req.EndSeq(),
		CurrentSeq:          st.currentSeq,
		Successful:          st.successful,
		Failed:              st.failed,
		ReplacementsApplied: st.replacementsApplied,
		TopicsCreated:       st.topicsCreated,
		MessagesPinned:      st.messagesPinned,
		StartedAt:           st.job.StartedAt,
		Elapsed:             s.now().Sub(st.job.StartedAt),
		Error:               st.errText,
	}
}

// Submit 登记并异步启动一个转发任务
// ctx 是任务的父 context，取消它会让任务在下一条消息前停止
func (s *Service) Submit(ctx context.Context, userID int64, req ForwardRequest, reporter ProgressReporter) (*models.ForwardJob, error) {
	if reporter == nil {
		reporter = noopReporter{}
	}

	now := s.now()
	jobID := fmt.Sprintf("%d_%d_%s", userID, now.Unix(), uuid.NewString()[:8])

	runCtx, err := s.registry.Start(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}

	job := &models.ForwardJob{
		ID:        jobID,
		UserID:    userID,
		Status:    models.JobStatusPending,
		Request:   req.Record(),
		Total:     req.Total(),
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := s.jobs.Create(context.WithoutCancel(ctx), job); err != nil {
		s.registry.Finish(jobID)
		return nil, fmt.Errorf("failed to register forward job: %w", err)
	}

	st := &jobState{
		job:          job,
		req:          req,
		replacements: req.Replacements(),
		targetChatID: req.TargetChatID(),
		reporter:     reporter,
		log:          logger.WithJob(jobID, userID),
		unpinned:     make(map[int]struct{}),
	}

	st.log.Infof("Forward job registered: source=%d range=%d-%d target=%d replacements=%d",
		req.SourceChatID(), req.StartSeq(), req.EndSeq(), req.TargetChatID(), len(st.replacements))

	s.wg.Add(1)
	go s.run(runCtx, st)

	snapshot := *job
	return &snapshot, nil
}

func (s *Service) run(ctx context.Context, st *jobState) {
	defer s.wg.Done()
	defer s.registry.Finish(st.job.ID)

	ctx, span := tracing.StartSpan(ctx, "forward.job",
		attribute.String("job_id", st.job.ID),
		attribute.Int64("user_id", st.job.UserID),
		attribute.Int64("source_chat", st.req.SourceChatID()),
		attribute.Int64("target_chat", st.req.TargetChatID()),
		attribute.Int("total", st.req.Total()),
	)
	defer span.End()

	status, err := s.safeExecute(ctx, st)
	if err != nil {
		st.errText = err.Error()
		tracing.RecordError(ctx, err)
	}
	tracing.AddAttributes(ctx,
		attribute.String("status", string(status)),
		attribute.Int("successful", st.successful),
		attribute.Int("failed", st.failed),
	)
	s.finalize(context.WithoutCancel(ctx), st, status)
}

// safeExecute 任务边界：panic 与意外错误都转为 failed，不影响其他任务
func (s *Service) safeExecute(ctx context.Context, st *jobState) (status models.ForwardJobStatus, err error) {
	defer func() {
		if r := recover(); r != nil {
			st.log.Errorf("Forward job panicked: %v\n%s", r, debug.Stack())
			status = models.JobStatusFailed
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.execute(ctx, st)
}

func (s *Service) execute(ctx context.Context, st *jobState) (models.ForwardJobStatus, error) {
	// 远端调用不随取消中断，正在发送的消息总能完成
	callCtx := context.WithoutCancel(ctx)

	if err := s.jobs.MarkProcessing(callCtx, st.job.ID); err != nil {
		return models.JobStatusFailed, fmt.Errorf("failed to start forward job: %w", err)
	}
	st.log.Info("Forward job started")

	s.checkTargetMembership(callCtx, st)

	lastFlush := s.now()
	batchFailed := 0
	start, end := st.req.StartSeq(), st.req.EndSeq()

	for seq := start; seq <= end; seq++ {
		if ctx.Err() != nil {
			if !cancelledByUser(ctx) {
				st.errText = "interrupted by shutdown"
			}
			st.log.Infof("Forward job cancelled at seq %d", seq)
			return models.JobStatusCancelled, nil
		}

		if s.processMessage(ctx, st, seq) {
			st.successful++
		} else {
			st.failed++
			batchFailed++
		}
		st.currentSeq = seq

		processed := st.processed()
		if processed%s.cfg.ProgressEvery == 0 || s.now().Sub(lastFlush) >= s.cfg.ProgressInterval {
			s.flushProgress(callCtx, st)
			lastFlush = s.now()
		}

		if seq == end {
			break
		}

		if cooldown, ok := s.controller.BatchCooldown(processed, batchFailed); ok {
			st.log.Infof("Batch cooldown %v after %d messages (%d failed in batch)", cooldown, processed, batchFailed)
			batchFailed = 0
			_ = s.sleep(ctx, cooldown)
			continue
		}
		_ = s.sleep(ctx, s.controller.NextDelay())
	}

	return models.JobStatusCompleted, nil
}

func (s *Service) checkTargetMembership(ctx context.Context, st *jobState) {
	status, err := s.transport.GetChatMembership(ctx, st.targetChatID)
	if err != nil {
		st.log.Warnf("Failed to check bot membership in target %d: %v", st.targetChatID, err)
		return
	}
	switch status {
	case MemberAdministrator, MemberCreator:
	case MemberLeft, MemberKicked:
		st.log.Warnf("Bot is %q in target %d, deliveries will fail", status, st.targetChatID)
	case MemberMember:
		st.log.Warnf("Bot is not an admin in target %d, topic creation and pinning may fail", st.targetChatID)
	default:
		st.log.Warnf("Bot is %q in target %d, topic creation and pinning may fail", status, st.targetChatID)
	}
}

// processMessage 处理单条消息，返回是否成功送达目标
// ctx 可被取消，只用于重试等待；远端调用使用 callCtx
func (s *Service) processMessage(ctx context.Context, st *jobState, seq int) bool {
	ctx, span := tracing.StartSpan(ctx, "forward.message", attribute.Int("seq", seq))
	defer span.End()
	callCtx := context.WithoutCancel(ctx)

	source := st.req.SourceChatID()

	if s.cfg.LogChannelID == 0 {
		err := s.withRetry(ctx, st, seq, "copy", true, func() error {
			_, err := s.transport.CopyMessage(callCtx, CopyParams{
				ChatID:     st.targetChatID,
				FromChatID: source,
				MessageID:  seq,
			})
			return err
		})
		if err != nil {
			st.log.WithField("seq", seq).Warnf("Failed to copy message: %v", err)
			return false
		}
		st.log.WithField("seq", seq).Debug("Message copied")
		return true
	}

	var msg *Message
	err := s.withRetry(ctx, st, seq, "fetch", false, func() error {
		m, err := s.transport.ForwardMessage(callCtx, ForwardParams{
			ChatID:     s.cfg.LogChannelID,
			FromChatID: source,
			MessageID:  seq,
		})
		msg = m
		return err
	})
	if err != nil || msg == nil {
		st.log.WithField("seq", seq).Warnf("Source message unavailable: %v", err)
		return false
	}

	body := msg.Body()

	threadID := 0
	if label, ok := ExtractTopicLabel(body); ok {
		if id, created, ok := s.topics.Resolve(callCtx, st.targetChatID, label); ok {
			threadID = id
			if created {
				st.topicsCreated++
				st.unpinned[id] = struct{}{}
			}
		}
	}

	text := body
	if text != "" && len(st.replacements) > 0 {
		var n int
		text, n = ApplyReplacements(text, st.replacements)
		st.replacementsApplied += n
	}

	var sentID int
	err = s.withRetry(ctx, st, seq, "dispatch", true, func() error {
		var err error
		sentID, err = s.dispatch(callCtx, st.targetChatID, threadID, msg, text)
		return err
	})
	if err != nil {
		st.log.WithField("seq", seq).Warnf("Failed to deliver message: %v", err)
		return false
	}

	if _, first := st.unpinned[threadID]; first && threadID != 0 && sentID > 0 {
		delete(st.unpinned, threadID)
		if s.pins.EnsurePinned(callCtx, st.targetChatID, threadID, sentID) {
			st.messagesPinned++
		}
	}

	st.log.WithFields(logrus.Fields{"seq": seq, "thread": threadID}).Debug("Message delivered")
	return true
}

// dispatch 媒体带新说明复制；纯文本作为新消息发送；其余原样转发
func (s *Service) dispatch(ctx context.Context, target int64, threadID int, msg *Message, text string) (int, error) {
	switch {
	case msg.HasMedia:
		params := CopyParams{
			ChatID:     target,
			ThreadID:   threadID,
			FromChatID: s.cfg.LogChannelID,
			MessageID:  msg.ID,
		}
		if text != "" {
			caption := truncateRunes(text, s.cfg.CaptionLimit)
			params.Caption = &caption
			params.HTML = looksLikeHTML(caption)
		}
		return s.transport.CopyMessage(ctx, params)

	case text != "":
		text = truncateRunes(text, s.cfg.TextLimit)
		return s.transport.SendMessage(ctx, SendParams{
			ChatID:   target,
			ThreadID: threadID,
			Text:     text,
			HTML:     looksLikeHTML(text),
		})

	default:
		m, err := s.transport.ForwardMessage(ctx, ForwardParams{
			ChatID:     target,
			ThreadID:   threadID,
			FromChatID: s.cfg.LogChannelID,
			MessageID:  msg.ID,
		})
		if err != nil || m == nil {
			return 0, err
		}
		return m.ID, nil
	}
}

// withRetry 对同一次远端调用做有限次重试
// toTarget 表示调用发往目标群，目标群升级迁移时切换到新 chat_id
func (s *Service) withRetry(ctx context.Context, st *jobState, seq int, op string, toTarget bool, call func() error) error {
	for attempt := 1; ; attempt++ {
		err := call()
		if err == nil {
			s.controller.OnSuccess()
			return nil
		}
		s.controller.OnFailure()

		if toTarget {
			if newID, ok := migrateToChatIDFromError(err); ok && newID != st.targetChatID {
				st.log.Warnf("Target chat %d migrated to %d", st.targetChatID, newID)
				st.targetChatID = newID
				continue
			}
		}

		if !shouldRetryForward(err) || attempt > s.cfg.MaxRetries {
			tracing.RecordError(ctx, err, attribute.String("op", op))
			return err
		}

		if ctx.Err() != nil {
			return err
		}
		delay := s.controller.RetryDelay(err, attempt, int64(seq))
		st.log.WithField("seq", seq).Warnf("%s attempt %d failed: %v, retrying in %v", op, attempt, err, delay)
		if s.sleep(ctx, delay) != nil {
			return err
		}
	}
}

func (s *Service) flushProgress(ctx context.Context, st *jobState) {
	if err := s.jobs.UpdateProgress(ctx, st.job.ID, st.progress()); err != nil {
		st.log.Warnf("Failed to update job progress: %v", err)
	}
	st.reporter.Progress(ctx, s.snapshot(st, models.JobStatusProcessing))
}

func (s *Service) finalize(ctx context.Context, st *jobState, status models.ForwardJobStatus) {
	endedAt := s.now()

	if err := s.jobs.Finish(ctx, st.job.ID, status, st.progress(), st.errText, endedAt); err != nil {
		st.log.Errorf("Failed to persist final job status %s: %v", status, err)
	}

	snap := s.snapshot(st, status)
	if status == models.JobStatusCompleted || status == models.JobStatusCancelled {
		stat := &models.JobStatistic{
			JobID:               st.job.ID,
			UserID:              st.job.UserID,
			Status:              status,
			SourceChatID:        st.req.SourceChatID(),
			TargetChatID:        st.targetChatID,
			MessageRange:        fmt.Sprintf("%d-%d", st.req.StartSeq(), st.req.EndSeq()),
			TotalMessages:       st.req.Total(),
			Successful:          st.successful,
			Failed:              st.failed,
			ReplacementsCount:   len(st.replacements),
			ReplacementsApplied: st.replacementsApplied,
			TopicsCreated:       st.topicsCreated,
			MessagesPinned:      st.messagesPinned,
			DurationSeconds:     snap.Elapsed.Seconds(),
			MessagesPerMinute:   snap.MessagesPerMinute(),
			StartedAt:           st.job.StartedAt,
			EndedAt:             endedAt,
		}
		if err := s.stats.Insert(ctx, stat); err != nil {
			st.log.Warnf("Failed to save job statistic: %v", err)
		}
	}

	st.reporter.Finished(ctx, snap)

	entry := st.log.WithFields(logrus.Fields{
		"status":     status,
		"successful": st.successful,
		"failed":     st.failed,
		"duration":   snap.Elapsed.Round(time.Second),
	})
	if status == models.JobStatusFailed {
		entry.Errorf("Forward job failed: %s", st.errText)
		return
	}
	entry.Info("Forward job finished")
}

// Status 查询任务状态
func (s *Service) Status(ctx context.Context, jobID string) (*models.ForwardJob, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return nil, err
	}
	return job, nil
}

// ActiveStatuses 用户未结束的任务
func (s *Service) ActiveStatuses(ctx context.Context, userID int64) ([]*models.ForwardJob, error) {
	return s.jobs.ListActiveByUser(ctx, userID)
}

// ActiveJobs 本进程中用户正在运行的任务 ID
func (s *Service) ActiveJobs(userID int64) []string {
	return s.registry.Active(userID)
}

// Cancel 取消用户的指定任务
func (s *Service) Cancel(jobID string, userID int64) error {
	return s.registry.Cancel(jobID, userID)
}

// RunningCount 本进程中运行中的任务总数
func (s *Service) RunningCount() int {
	return s.registry.Count()
}

// CancelAll 取消用户全部任务
func (s *Service) CancelAll(userID int64) int {
	return s.registry.CancelAll(userID)
}

// RecoverInterrupted 进程重启后把遗留的活跃任务标记为失败
func (s *Service) RecoverInterrupted(ctx context.Context) (int64, error) {
	n, err := s.jobs.MarkInterrupted(ctx, interruptedReason, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.L().Warnf("Marked %d interrupted forward jobs as failed", n)
	}
	return n, nil
}

// RecentStatistics 用户最近的任务统计
func (s *Service) RecentStatistics(ctx context.Context, userID int64, limit int64) ([]*models.JobStatistic, error) {
	return s.stats.ListRecentByUser(ctx, userID, limit)
}

// Wait 等待所有运行中的任务退出
func (s *Service) Wait() {
	s.wg.Wait()
}
