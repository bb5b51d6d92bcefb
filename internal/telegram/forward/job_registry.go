package forward

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// errJobCancelled 用户主动取消时写入 context 的 cause
var errJobCancelled = errors.New("forward job cancelled by user")

type activeJob struct {
	userID int64
	cancel context.CancelCauseFunc
}

// JobRegistry 活跃任务表：job_id -> 取消句柄，并按用户限制并发数
type JobRegistry struct {
	maxPerUser int

	mu     sync.Mutex
	jobs   map[string]*activeJob
	byUser map[int64]map[string]struct{}
}

// NewJobRegistry 创建任务表，maxPerUser <= 0 表示不限制
func NewJobRegistry(maxPerUser int) *JobRegistry {
	return &JobRegistry{
		maxPerUser: maxPerUser,
		jobs:       make(map[string]*activeJob),
		byUser:     make(map[int64]map[string]struct{}),
	}
}

// Start 占用一个并发名额，返回任务运行使用的 context
func (r *JobRegistry) Start(parent context.Context, userID int64, jobID string) (context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[jobID]; exists {
		return nil, fmt.Errorf("forward job %s already running", jobID)
	}
	if r.maxPerUser > 0 && len(r.byUser[userID]) >= r.maxPerUser {
		return nil, fmt.Errorf("%w: user %d already has %d", ErrTooManyJobs, userID, len(r.byUser[userID]))
	}

	ctx, cancel := context.WithCancelCause(parent)
	r.jobs[jobID] = &activeJob{userID: userID, cancel: cancel}
	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[string]struct{})
	}
	r.byUser[userID][jobID] = struct{}{}
	return ctx, nil
}

// Finish 释放名额
func (r *JobRegistry) Finish(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return
	}
	job.cancel(nil)
	delete(r.jobs, jobID)
	if set := r.byUser[job.userID]; set != nil {
		delete(set, jobID)
		if len(set) == 0 {
			delete(r.byUser, job.userID)
		}
	}
}

// Cancel 取消指定任务；userID 不为 0 时要求任务属于该用户
func (r *JobRegistry) Cancel(jobID string, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok || (userID != 0 && job.userID != userID) {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	job.cancel(errJobCancelled)
	return nil
}

// CancelAll 取消用户的所有任务，返回取消数量
func (r *JobRegistry) CancelAll(userID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for jobID := range r.byUser[userID] {
		r.jobs[jobID].cancel(errJobCancelled)
		count++
	}
	return count
}

// Active 用户当前活跃的任务 ID（按字典序）
func (r *JobRegistry) Active(userID int64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.byUser[userID]))
	for jobID := range r.byUser[userID] {
		ids = append(ids, jobID)
	}
	sort.Strings(ids)
	return ids
}

// Count 全部活跃任务数
func (r *JobRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// cancelledByUser 判断 context 是否因为用户取消而结束
func cancelledByUser(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), errJobCancelled)
}
