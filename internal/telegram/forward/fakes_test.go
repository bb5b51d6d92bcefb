package forward

import (
	"context"
	"fmt"
	"sync"
	"time"

	"forward_bot/internal/telegram/models"
	"forward_bot/internal/telegram/repository"
)

// fakeCall 记录一次远端调用
type fakeCall struct {
	Op         string
	ChatID     int64
	ThreadID   int
	FromChatID int64
	MessageID  int
	Text       string
	Caption    *string
	HTML       bool
}

type fakeTransport struct {
	mu       sync.Mutex
	calls    []fakeCall
	nextID   int
	messages map[int]*Message // 源消息，按序号
	topics   map[string]int
	aliases  map[string]int64

	membership string
	pinErr     error

	// 发往该会话的转发不返回消息
	forwardNoResultTo int64

	// hook 返回非 nil 时该次调用失败
	hook func(call fakeCall) error

	createTopicDelay time.Duration
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		nextID:     1000,
		messages:   make(map[int]*Message),
		topics:     make(map[string]int),
		aliases:    make(map[string]int64),
		membership: MemberAdministrator,
	}
}

func (f *fakeTransport) record(call fakeCall) error {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	hook := f.hook
	f.mu.Unlock()
	if hook != nil {
		return hook(call)
	}
	return nil
}

func (f *fakeTransport) newID() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return f.nextID
}

func (f *fakeTransport) ForwardMessage(ctx context.Context, p ForwardParams) (*Message, error) {
	if err := f.record(fakeCall{Op: "forward", ChatID: p.ChatID, ThreadID: p.ThreadID, FromChatID: p.FromChatID, MessageID: p.MessageID}); err != nil {
		return nil, err
	}
	if f.forwardNoResultTo != 0 && p.ChatID == f.forwardNoResultTo {
		return nil, nil
	}
	f.mu.Lock()
	src, ok := f.messages[p.MessageID]
	f.mu.Unlock()

	msg := &Message{ID: f.newID()}
	if ok {
		msg.Text = src.Text
		msg.Caption = src.Caption
		msg.HasMedia = src.HasMedia
	}
	return msg, nil
}

func (f *fakeTransport) CopyMessage(ctx context.Context, p CopyParams) (int, error) {
	if err := f.record(fakeCall{Op: "copy", ChatID: p.ChatID, ThreadID: p.ThreadID, FromChatID: p.FromChatID, MessageID: p.MessageID, Caption: p.Caption, HTML: p.HTML}); err != nil {
		return 0, err
	}
	return f.newID(), nil
}

func (f *fakeTransport) SendMessage(ctx context.Context, p SendParams) (int, error) {
	if err := f.record(fakeCall{Op: "send", ChatID: p.ChatID, ThreadID: p.ThreadID, Text: p.Text, HTML: p.HTML}); err != nil {
		return 0, err
	}
	return f.newID(), nil
}

func (f *fakeTransport) CreateTopic(ctx context.Context, chatID int64, name string) (int, error) {
	if f.createTopicDelay > 0 {
		time.Sleep(f.createTopicDelay)
	}
	if err := f.record(fakeCall{Op: "create_topic", ChatID: chatID, Text: name}); err != nil {
		return 0, err
	}
	id := f.newID()
	f.mu.Lock()
	f.topics[name] = id
	f.mu.Unlock()
	return id, nil
}

func (f *fakeTransport) PinMessage(ctx context.Context, chatID int64, messageID int) error {
	if err := f.record(fakeCall{Op: "pin", ChatID: chatID, MessageID: messageID}); err != nil {
		return err
	}
	return f.pinErr
}

func (f *fakeTransport) GetChatMembership(ctx context.Context, chatID int64) (string, error) {
	if err := f.record(fakeCall{Op: "membership", ChatID: chatID}); err != nil {
		return "", err
	}
	return f.membership, nil
}

func (f *fakeTransport) ResolveChat(ctx context.Context, alias string) (int64, error) {
	if err := f.record(fakeCall{Op: "resolve", Text: alias}); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.aliases[alias]
	if !ok {
		return 0, fmt.Errorf("chat %s not found", alias)
	}
	return id, nil
}

// callsOf 返回指定类型的调用
func (f *fakeTransport) callsOf(op string) []fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fakeCall
	for _, c := range f.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

type memJobStore struct {
	mu      sync.Mutex
	jobs    map[string]*models.ForwardJob
	updates int
}

func newMemJobStore() *memJobStore {
	return &memJobStore{jobs: make(map[string]*models.ForwardJob)}
}

func (m *memJobStore) Create(ctx context.Context, job *models.ForwardJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return repository.ErrDuplicate
	}
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memJobStore) MarkProcessing(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || job.Status != models.JobStatusPending {
		return repository.ErrNotFound
	}
	job.Status = models.JobStatusProcessing
	return nil
}

func (m *memJobStore) UpdateProgress(ctx context.Context, jobID string, progress models.JobProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || job.Status.IsTerminal() {
		return nil
	}
	job.JobProgress = progress
	m.updates++
	return nil
}

func (m *memJobStore) Finish(ctx context.Context, jobID string, status models.ForwardJobStatus, progress models.JobProgress, errText string, endedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || job.Status.IsTerminal() {
		return repository.ErrNotFound
	}
	job.Status = status
	job.JobProgress = progress
	job.Error = errText
	job.EndedAt = &endedAt
	return nil
}

func (m *memJobStore) GetByID(ctx context.Context, jobID string) (*models.ForwardJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *memJobStore) ListActiveByUser(ctx context.Context, userID int64) ([]*models.ForwardJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ForwardJob
	for _, job := range m.jobs {
		if job.UserID == userID && !job.Status.IsTerminal() {
			cp := *job
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memJobStore) MarkInterrupted(ctx context.Context, reason string, endedAt time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, job := range m.jobs {
		if !job.Status.IsTerminal() {
			job.Status = models.JobStatusFailed
			job.Error = reason
			job.EndedAt = &endedAt
			n++
		}
	}
	return n, nil
}

func (m *memJobStore) EnsureIndexes(ctx context.Context) error { return nil }

func (m *memJobStore) get(jobID string) models.ForwardJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.jobs[jobID]
}

type memStatStore struct {
	mu    sync.Mutex
	stats []*models.JobStatistic
}

func (m *memStatStore) Insert(ctx context.Context, stat *models.JobStatistic) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats = append(m.stats, stat)
	return nil
}

func (m *memStatStore) ListRecentByUser(ctx context.Context, userID int64, limit int64) ([]*models.JobStatistic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.JobStatistic
	for i := len(m.stats) - 1; i >= 0 && int64(len(out)) < limit; i-- {
		if m.stats[i].UserID == userID {
			out = append(out, m.stats[i])
		}
	}
	return out, nil
}

func (m *memStatStore) EnsureIndexes(ctx context.Context) error { return nil }

func (m *memStatStore) all() []*models.JobStatistic {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.JobStatistic(nil), m.stats...)
}

type memTopicStore struct {
	mu      sync.Mutex
	entries map[string]*models.TopicEntry
	findErr error
}

func newMemTopicStore() *memTopicStore {
	return &memTopicStore{entries: make(map[string]*models.TopicEntry)}
}

func topicStoreKey(chatID int64, label string) string {
	return fmt.Sprintf("%d|%s", chatID, label)
}

func (m *memTopicStore) Find(ctx context.Context, chatID int64, label string) (*models.TopicEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, false, m.findErr
	}
	entry, ok := m.entries[topicStoreKey(chatID, label)]
	return entry, ok, nil
}

func (m *memTopicStore) Create(ctx context.Context, entry *models.TopicEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := topicStoreKey(entry.ChatID, entry.Label)
	if _, ok := m.entries[key]; ok {
		return repository.ErrDuplicate
	}
	cp := *entry
	m.entries[key] = &cp
	return nil
}

func (m *memTopicStore) EnsureIndexes(ctx context.Context) error { return nil }

type memPinStore struct {
	mu      sync.Mutex
	records map[pinKey]*models.PinRecord
}

func newMemPinStore() *memPinStore {
	return &memPinStore{records: make(map[pinKey]*models.PinRecord)}
}

func (m *memPinStore) Find(ctx context.Context, chatID int64, threadID int) (*models.PinRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[pinKey{chatID: chatID, threadID: threadID}]
	return rec, ok, nil
}

func (m *memPinStore) Create(ctx context.Context, record *models.PinRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pinKey{chatID: record.ChatID, threadID: record.ThreadID}
	if _, ok := m.records[key]; ok {
		return repository.ErrDuplicate
	}
	cp := *record
	m.records[key] = &cp
	return nil
}

func (m *memPinStore) EnsureIndexes(ctx context.Context) error { return nil }

// fakeSleeper 只记录等待时长
type fakeSleeper struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (f *fakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	f.mu.Lock()
	f.sleeps = append(f.sleeps, d)
	f.mu.Unlock()
	return ctx.Err()
}

func (f *fakeSleeper) all() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.sleeps...)
}

// recordingReporter 记录进度回调
type recordingReporter struct {
	mu       sync.Mutex
	progress []Snapshot
	final    *Snapshot
	done     chan struct{}
}

func newRecordingReporter() *recordingReporter {
	return &recordingReporter{done: make(chan struct{})}
}

func (r *recordingReporter) Progress(ctx context.Context, snap Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, snap)
}

func (r *recordingReporter) Finished(ctx context.Context, snap Snapshot) {
	r.mu.Lock()
	r.final = &snap
	r.mu.Unlock()
	close(r.done)
}
