package forward

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"forward_bot/internal/telegram/models"

	"github.com/go-telegram/bot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testUser   int64 = 42
	testSource int64 = -1001111
	testTarget int64 = -1002222
	testLog    int64 = -1009999
)

type engineHarness struct {
	svc       *Service
	transport *fakeTransport
	jobs      *memJobStore
	stats     *memStatStore
	sleeper   *fakeSleeper
}

func newEngineHarness(t *testing.T, cfg Config, maxPerUser int, opts ...Option) *engineHarness {
	t.Helper()
	h := &engineHarness{
		transport: newFakeTransport(),
		jobs:      newMemJobStore(),
		stats:     &memStatStore{},
		sleeper:   &fakeSleeper{},
	}
	h.svc = NewService(cfg, h.transport, Stores{
		Jobs:   h.jobs,
		Stats:  h.stats,
		Topics: newMemTopicStore(),
		Pins:   newMemPinStore(),
	}, NewController(DefaultControllerConfig(), fixedJitter(0)), NewJobRegistry(maxPerUser), append([]Option{WithSleeper(h.sleeper.Sleep)}, opts...)...)
	return h
}

func mustRequest(t *testing.T, start, end int, reps Replacements) ForwardRequest {
	t.Helper()
	req, err := NewForwardRequest(testSource, start, end, testTarget, reps, 5000)
	require.NoError(t, err)
	return req
}

func (h *engineHarness) run(t *testing.T, req ForwardRequest) (*models.ForwardJob, *recordingReporter) {
	t.Helper()
	reporter := newRecordingReporter()
	job, err := h.svc.Submit(context.Background(), testUser, req, reporter)
	require.NoError(t, err)
	h.svc.Wait()
	select {
	case <-reporter.done:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not report completion")
	}
	return job, reporter
}

func messageIDs(calls []fakeCall) []int {
	ids := make([]int, 0, len(calls))
	for _, c := range calls {
		ids = append(ids, c.MessageID)
	}
	return ids
}

func TestServiceCompletesRange(t *testing.T) {
	h := newEngineHarness(t, DefaultConfig(), 3)

	job, reporter := h.run(t, mustRequest(t, 1, 5, nil))

	stored := h.jobs.get(job.ID)
	assert.Equal(t, models.JobStatusCompleted, stored.Status)
	assert.Equal(t, 5, stored.Successful)
	assert.Equal(t, 0, stored.Failed)
	assert.Equal(t, 5, stored.CurrentSeq)
	assert.Equal(t, 100.0, stored.Progress)
	require.NotNil(t, stored.EndedAt)

	copies := h.transport.callsOf("copy")
	assert.Equal(t, []int{1, 2, 3, 4, 5}, messageIDs(copies))
	for _, c := range copies {
		assert.Equal(t, testTarget, c.ChatID)
		assert.Equal(t, testSource, c.FromChatID)
		assert.Nil(t, c.Caption, "direct mode copies verbatim")
	}

	// 最后一条之后不再等待
	assert.Len(t, h.sleeper.all(), 4)

	stats := h.stats.all()
	require.Len(t, stats, 1)
	assert.Equal(t, models.JobStatusCompleted, stats[0].Status)
	assert.Equal(t, "1-5", stats[0].MessageRange)
	assert.Equal(t, 5, stats[0].Successful)

	require.NotNil(t, reporter.final)
	assert.Equal(t, models.JobStatusCompleted, reporter.final.Status)
	assert.Equal(t, 5, reporter.final.Processed())
	assert.Len(t, h.transport.callsOf("membership"), 1)
}

func TestServiceCancellationScenario(t *testing.T) {
	h := newEngineHarness(t, DefaultConfig(), 3)
	h.transport.hook = func(call fakeCall) error {
		if call.Op == "copy" && call.MessageID == 150 {
			h.svc.CancelAll(testUser)
		}
		return nil
	}

	job, reporter := h.run(t, mustRequest(t, 100, 200, nil))

	stored := h.jobs.get(job.ID)
	assert.Equal(t, models.JobStatusCancelled, stored.Status)
	assert.Equal(t, 51, stored.Successful+stored.Failed)
	assert.Equal(t, 150, stored.CurrentSeq)
	assert.Empty(t, stored.Error)

	for _, c := range h.transport.callsOf("copy") {
		assert.Less(t, c.MessageID, 151, "message %d dispatched after cancellation", c.MessageID)
	}

	stats := h.stats.all()
	require.Len(t, stats, 1)
	assert.Equal(t, models.JobStatusCancelled, stats[0].Status)
	assert.Equal(t, 51, stats[0].Successful+stats[0].Failed)

	assert.Equal(t, models.JobStatusCancelled, reporter.final.Status)
	assert.Empty(t, h.svc.ActiveJobs(testUser))
}

func TestServiceRateLimitScenario(t *testing.T) {
	h := newEngineHarness(t, DefaultConfig(), 3)
	var once sync.Once
	h.transport.hook = func(call fakeCall) error {
		var err error
		if call.Op == "copy" && call.MessageID == 10 {
			once.Do(func() {
				err = &bot.TooManyRequestsError{Message: "too many requests", RetryAfter: 5}
			})
		}
		return err
	}

	job, _ := h.run(t, mustRequest(t, 1, 20, nil))

	want := []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20}
	assert.Equal(t, want, messageIDs(h.transport.callsOf("copy")))

	var longest time.Duration
	for _, d := range h.sleeper.all() {
		if d > longest {
			longest = d
		}
	}
	assert.GreaterOrEqual(t, longest, 5*time.Second)

	stored := h.jobs.get(job.ID)
	assert.Equal(t, models.JobStatusCompleted, stored.Status)
	assert.Equal(t, 20, stored.Successful)
	assert.Equal(t, 0, stored.Failed)
}

func TestServiceCancelDuringRateLimitWait(t *testing.T) {
	h := newEngineHarness(t, DefaultConfig(), 3)
	h.transport.hook = func(call fakeCall) error {
		if call.Op == "copy" && call.MessageID == 2 {
			h.svc.CancelAll(testUser)
			return &bot.TooManyRequestsError{Message: "too many requests", RetryAfter: 300}
		}
		return nil
	}

	job, reporter := h.run(t, mustRequest(t, 1, 5, nil))

	assert.Equal(t, []int{1, 2}, messageIDs(h.transport.callsOf("copy")))
	for _, d := range h.sleeper.all() {
		assert.Less(t, d, time.Minute, "retry wait must not run after cancellation")
	}

	stored := h.jobs.get(job.ID)
	assert.Equal(t, models.JobStatusCancelled, stored.Status)
	assert.Equal(t, 1, stored.Successful)
	assert.Equal(t, 1, stored.Failed)
	assert.Equal(t, 2, stored.CurrentSeq)
	assert.Empty(t, stored.Error)
	assert.Equal(t, models.JobStatusCancelled, reporter.final.Status)
}

func TestServiceShutdownInterruptsRetryWait(t *testing.T) {
	h := newEngineHarness(t, DefaultConfig(), 3)
	h.svc.sleep = sleepContext
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.transport.hook = func(call fakeCall) error {
		if call.Op == "copy" && call.MessageID == 1 {
			cancel()
			return &bot.TooManyRequestsError{Message: "too many requests", RetryAfter: 300}
		}
		return nil
	}

	reporter := newRecordingReporter()
	job, err := h.svc.Submit(ctx, testUser, mustRequest(t, 1, 3, nil), reporter)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		h.svc.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not stop after shutdown")
	}

	assert.Equal(t, []int{1}, messageIDs(h.transport.callsOf("copy")))
	stored := h.jobs.get(job.ID)
	assert.Equal(t, models.JobStatusCancelled, stored.Status)
	assert.Equal(t, "interrupted by shutdown", stored.Error)
}

func TestServiceRunsWithoutAdminRights(t *testing.T) {
	for _, membership := range []string{MemberMember, MemberLeft, MemberKicked} {
		t.Run(membership, func(t *testing.T) {
			h := newEngineHarness(t, DefaultConfig(), 3)
			h.transport.membership = membership

			job, _ := h.run(t, mustRequest(t, 1, 2, nil))

			assert.Equal(t, models.JobStatusCompleted, h.jobs.get(job.ID).Status)
			assert.Len(t, h.transport.callsOf("copy"), 2)
		})
	}
}

func TestServicePermanentErrorNotRetried(t *testing.T) {
	h := newEngineHarness(t, DefaultConfig(), 3)
	h.transport.hook = func(call fakeCall) error {
		if call.Op == "copy" && call.MessageID == 3 {
			return fmt.Errorf("%w, message to copy not found", bot.ErrorBadRequest)
		}
		return nil
	}

	job, _ := h.run(t, mustRequest(t, 1, 5, nil))

	assert.Equal(t, []int{1, 2, 3, 4, 5}, messageIDs(h.transport.callsOf("copy")))
	stored := h.jobs.get(job.ID)
	assert.Equal(t, models.JobStatusCompleted, stored.Status)
	assert.Equal(t, 4, stored.Successful)
	assert.Equal(t, 1, stored.Failed)
}

func TestServiceTransientErrorExhaustsRetries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetries = 2
	h := newEngineHarness(t, cfg, 3)
	h.transport.hook = func(call fakeCall) error {
		if call.Op == "copy" && call.MessageID == 2 {
			return errors.New("connection reset by peer")
		}
		return nil
	}

	job, _ := h.run(t, mustRequest(t, 1, 3, nil))

	assert.Equal(t, []int{1, 2, 2, 2, 3}, messageIDs(h.transport.callsOf("copy")))
	stored := h.jobs.get(job.ID)
	assert.Equal(t, 2, stored.Successful)
	assert.Equal(t, 1, stored.Failed)
}

func TestServiceLogChannelRouting(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogChannelID = testLog
	h := newEngineHarness(t, cfg, 3)
	h.transport.messages[1] = &Message{Text: "Topic: News\nhello foo"}
	h.transport.messages[2] = &Message{HasMedia: true, Caption: "Topic: News\ncaption foo <b>x</b>"}
	h.transport.messages[3] = &Message{}
	h.transport.messages[4] = &Message{Text: "plain foo"}

	reps := Replacements{{Find: "foo", Replace: "bar"}}
	job, reporter := h.run(t, mustRequest(t, 1, 4, reps))

	topics := h.transport.callsOf("create_topic")
	require.Len(t, topics, 1)
	thread := h.transport.topics["📌 topic: News"]
	require.NotZero(t, thread)

	sends := h.transport.callsOf("send")
	require.Len(t, sends, 2)
	assert.Equal(t, "Topic: News\nhello bar", sends[0].Text)
	assert.Equal(t, thread, sends[0].ThreadID)
	assert.Equal(t, testTarget, sends[0].ChatID)
	assert.False(t, sends[0].HTML)
	assert.Equal(t, "plain bar", sends[1].Text)
	assert.Zero(t, sends[1].ThreadID)

	copies := h.transport.callsOf("copy")
	require.Len(t, copies, 1)
	require.NotNil(t, copies[0].Caption)
	assert.Equal(t, "Topic: News\ncaption bar <b>x</b>", *copies[0].Caption)
	assert.True(t, copies[0].HTML)
	assert.Equal(t, thread, copies[0].ThreadID)
	assert.Equal(t, testLog, copies[0].FromChatID)

	forwards := h.transport.callsOf("forward")
	require.Len(t, forwards, 5)
	for _, f := range forwards[:3] {
		assert.Equal(t, testLog, f.ChatID)
		assert.Equal(t, testSource, f.FromChatID)
	}
	verbatim := forwards[3]
	assert.Equal(t, testTarget, verbatim.ChatID)
	assert.Equal(t, testLog, verbatim.FromChatID)

	pins := h.transport.callsOf("pin")
	require.Len(t, pins, 1, "only the first message in the new topic is pinned")

	stats := h.stats.all()
	require.Len(t, stats, 1)
	assert.Equal(t, 1, stats[0].TopicsCreated)
	assert.Equal(t, 1, stats[0].MessagesPinned)
	assert.Equal(t, 3, stats[0].ReplacementsApplied)
	assert.Equal(t, 1, stats[0].ReplacementsCount)

	assert.Equal(t, 4, h.jobs.get(job.ID).Successful)
	assert.Equal(t, 1, reporter.final.TopicsCreated)
}

func TestServicePinSkipsMissingMessageID(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogChannelID = testLog
	h := newEngineHarness(t, cfg, 3)
	h.transport.forwardNoResultTo = testTarget
	h.transport.messages[1] = &Message{Text: "Topic: News"}
	h.transport.messages[2] = &Message{Text: "Topic: News\nsecond"}

	reps := Replacements{{Find: "Topic: News", Replace: ""}}
	job, _ := h.run(t, mustRequest(t, 1, 2, reps))

	require.Len(t, h.transport.callsOf("create_topic"), 1)
	sends := h.transport.callsOf("send")
	require.Len(t, sends, 1)

	pins := h.transport.callsOf("pin")
	require.Len(t, pins, 1)
	assert.NotZero(t, pins[0].MessageID, "a delivery without a message id is never pinned")
	assert.Equal(t, 2, h.jobs.get(job.ID).Successful)
}

func TestServiceCaptionTruncated(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogChannelID = testLog
	cfg.CaptionLimit = 10
	h := newEngineHarness(t, cfg, 3)
	h.transport.messages[1] = &Message{HasMedia: true, Caption: "0123456789abcdef"}

	h.run(t, mustRequest(t, 1, 1, nil))

	copies := h.transport.callsOf("copy")
	require.Len(t, copies, 1)
	assert.Equal(t, "0123456789", *copies[0].Caption)
}

func TestServiceTopicFailureFallsBackToDefaultStream(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogChannelID = testLog
	h := newEngineHarness(t, cfg, 3)
	h.transport.messages[1] = &Message{Text: "Topic: News\nbody"}
	h.transport.hook = func(call fakeCall) error {
		if call.Op == "create_topic" {
			return fmt.Errorf("%w, not enough rights", bot.ErrorBadRequest)
		}
		return nil
	}

	job, _ := h.run(t, mustRequest(t, 1, 1, nil))

	sends := h.transport.callsOf("send")
	require.Len(t, sends, 1)
	assert.Zero(t, sends[0].ThreadID)
	assert.Empty(t, h.transport.callsOf("pin"))
	assert.Equal(t, 1, h.jobs.get(job.ID).Successful)
}

func TestServiceTargetMigration(t *testing.T) {
	h := newEngineHarness(t, DefaultConfig(), 3)
	const migrated int64 = -1003333
	h.transport.hook = func(call fakeCall) error {
		if call.Op == "copy" && call.ChatID == testTarget {
			return &bot.MigrateError{Message: "group upgraded", MigrateToChatID: int(migrated)}
		}
		return nil
	}

	job, _ := h.run(t, mustRequest(t, 1, 3, nil))

	copies := h.transport.callsOf("copy")
	require.Len(t, copies, 4)
	assert.Equal(t, testTarget, copies[0].ChatID)
	for _, c := range copies[1:] {
		assert.Equal(t, migrated, c.ChatID)
	}
	assert.Equal(t, 3, h.jobs.get(job.ID).Successful)
	assert.Equal(t, migrated, h.stats.all()[0].TargetChatID)
}

func TestServicePanicFailsJob(t *testing.T) {
	h := newEngineHarness(t, DefaultConfig(), 3)
	h.transport.hook = func(call fakeCall) error {
		if call.Op == "copy" && call.MessageID == 2 {
			panic("unexpected state")
		}
		return nil
	}

	job, reporter := h.run(t, mustRequest(t, 1, 3, nil))

	stored := h.jobs.get(job.ID)
	assert.Equal(t, models.JobStatusFailed, stored.Status)
	assert.Contains(t, stored.Error, "panic")
	assert.Empty(t, h.stats.all(), "failed jobs do not record statistics")
	assert.Equal(t, models.JobStatusFailed, reporter.final.Status)
	assert.Empty(t, h.svc.ActiveJobs(testUser))
}

func TestServiceConcurrencyCap(t *testing.T) {
	h := newEngineHarness(t, DefaultConfig(), 1)
	release := make(chan struct{})
	h.transport.hook = func(call fakeCall) error {
		if call.Op == "copy" && call.MessageID == 1 {
			<-release
		}
		return nil
	}

	first, err := h.svc.Submit(context.Background(), testUser, mustRequest(t, 1, 2, nil), nil)
	require.NoError(t, err)

	_, err = h.svc.Submit(context.Background(), testUser, mustRequest(t, 1, 2, nil), nil)
	assert.ErrorIs(t, err, ErrTooManyJobs)

	active, err := h.svc.ActiveStatuses(context.Background(), testUser)
	require.NoError(t, err)
	require.Len(t, active, 1, "rejected submission must not create a job record")
	assert.Equal(t, first.ID, active[0].ID)

	close(release)
	h.svc.Wait()
	assert.Equal(t, models.JobStatusCompleted, h.jobs.get(first.ID).Status)
}

func TestServiceProgressFlushing(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h := newEngineHarness(t, DefaultConfig(), 3, WithClock(func() time.Time { return fixed }))

	_, reporter := h.run(t, mustRequest(t, 1, 45, nil))

	require.Len(t, reporter.progress, 2)
	assert.Equal(t, 20, reporter.progress[0].Processed())
	assert.Equal(t, 40, reporter.progress[1].Processed())
	assert.InDelta(t, 44.44, reporter.progress[0].Percent(), 0.01)
	assert.Equal(t, 45, reporter.final.Processed())
	assert.Equal(t, 2, h.jobs.updates)
}

func TestServiceBatchCooldown(t *testing.T) {
	h := newEngineHarness(t, DefaultConfig(), 3)

	h.run(t, mustRequest(t, 1, 60, nil))

	cooldowns := 0
	for _, d := range h.sleeper.all() {
		if d == 5*time.Second {
			cooldowns++
		}
	}
	assert.Equal(t, 1, cooldowns)
	assert.Len(t, h.sleeper.all(), 59)
}

func TestServiceStatusAndRecovery(t *testing.T) {
	h := newEngineHarness(t, DefaultConfig(), 3)
	ctx := context.Background()

	_, err := h.svc.Status(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	job, _ := h.run(t, mustRequest(t, 1, 2, nil))
	got, err := h.svc.Status(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)

	require.NoError(t, h.jobs.Create(ctx, &models.ForwardJob{ID: "stale", UserID: testUser, Status: models.JobStatusProcessing}))
	n, err := h.svc.RecoverInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	stale := h.jobs.get("stale")
	assert.Equal(t, models.JobStatusFailed, stale.Status)
	assert.Equal(t, interruptedReason, stale.Error)

	recent, err := h.svc.RecentStatistics(ctx, testUser, 5)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestServiceCancelUnknownJob(t *testing.T) {
	h := newEngineHarness(t, DefaultConfig(), 3)
	assert.ErrorIs(t, h.svc.Cancel("nope", testUser), ErrJobNotFound)
	assert.Equal(t, 0, h.svc.CancelAll(testUser))
}
