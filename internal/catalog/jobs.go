// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const DefaultJobRetention = 30 * time.Minute

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

func (s JobStatus) Finished() bool {
	return s == JobCompleted || s == JobFailed
}

// JobSnapshot is the externally visible state of a prefetch job.
type JobSnapshot struct {
	JobID            string     `json:"jobId"`
	Status           JobStatus  `json:"status"`
	TotalMatches     int        `json:"totalMatches"`
	AvailableMatches int        `json:"availableMatches"`
	TotalRecords     int        `json:"totalRecords"`
	Complete         bool       `json:"complete"`
	Truncated        bool       `json:"truncated"`
	CreatedAt        time.Time  `json:"createdAt"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
	Error            string     `json:"error,omitempty"`
}

type job struct {
	mu sync.Mutex

	id          string
	key         prefetchKey
	status      JobStatus
	total       int
	available   int
	records     int
	complete    bool
	truncated   bool
	err         string
	createdAt   time.Time
	completedAt time.Time
}

func (j *job) snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	snap := JobSnapshot{
		JobID:            j.id,
		Status:           j.status,
		TotalMatches:     j.total,
		AvailableMatches: j.available,
		TotalRecords:     j.records,
		Complete:         j.complete,
		Truncated:        j.truncated,
		CreatedAt:        j.createdAt,
		Error:            j.err,
	}
	if !j.completedAt.IsZero() {
		completedAt := j.completedAt
		snap.CompletedAt = &completedAt
	}
	return snap
}

func (j *job) setStatus(status JobStatus) {
	j.mu.Lock()
	j.status = status
	j.mu.Unlock()
}

// jobRunner performs the full scan for a key and stores the result.
type jobRunner func(ctx context.Context) (*prefetchEntry, error)

// jobManager keeps at most one live job per key. Finished jobs leave the
// in-flight index immediately and stay visible by id for the retention window.
type jobManager struct {
	mu       sync.Mutex
	active   map[string]*job
	byKey    map[prefetchKey]*job
	finished *ttlcache.Cache[string, JobSnapshot]
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    zerolog.Logger

	onStart  func()
	onFinish func(JobStatus)
}

func newJobManager(retention time.Duration, logger zerolog.Logger) *jobManager {
	if retention <= 0 {
		retention = DefaultJobRetention
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &jobManager{
		active:   make(map[string]*job),
		byKey:    make(map[prefetchKey]*job),
		finished: ttlcache.New(ttlcache.Options[string, JobSnapshot]{}.SetDefaultTTL(retention)),
		ctx:      ctx,
		cancel:   cancel,
		log:      logger,
	}
}

// ensure returns the live job for key, starting run on a new job if none exists.
func (m *jobManager) ensure(key prefetchKey, run jobRunner) (JobSnapshot, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return JobSnapshot{}, ErrClosed
	}
	if existing, ok := m.byKey[key]; ok {
		m.mu.Unlock()
		return existing.snapshot(), nil
	}

	j := &job{
		id:        uuid.NewString(),
		key:       key,
		status:    JobPending,
		createdAt: time.Now().UTC(),
	}
	m.active[j.id] = j
	m.byKey[key] = j
	m.wg.Add(1)
	m.mu.Unlock()

	if m.onStart != nil {
		m.onStart()
	}

	go m.execute(j, run)

	return j.snapshot(), nil
}

func (m *jobManager) execute(j *job, run jobRunner) {
	defer m.wg.Done()

	j.setStatus(JobRunning)
	logger := m.log.With().Str("job", j.id).Logger()
	logger.Debug().
		Str("library", j.key.Scope.LibraryID).
		Strs("include", j.key.Filters.RequiredTags()).
		Strs("exclude", j.key.Filters.ForbiddenTags()).
		Msg("prefetch job started")

	entry, err := run(m.ctx)

	if err != nil {
		logger.Error().Err(err).Msg("prefetch job failed")
	} else {
		logger.Debug().Int("matches", entry.totalMatches).Bool("truncated", entry.truncated).Msg("prefetch job completed")
	}

	// publish the final state and leave the in-flight index in one step
	m.mu.Lock()
	j.mu.Lock()
	j.completedAt = time.Now().UTC()
	if err != nil {
		j.status = JobFailed
		j.err = err.Error()
	} else {
		j.status = JobCompleted
		j.total = entry.totalMatches
		j.available = len(entry.matches)
		j.records = entry.totalRecords
		j.complete = entry.complete
		j.truncated = entry.truncated
	}
	status := j.status
	j.mu.Unlock()

	delete(m.active, j.id)
	if m.byKey[j.key] == j {
		delete(m.byKey, j.key)
	}
	if !m.closed {
		m.finished.Set(j.id, j.snapshot(), ttlcache.DefaultTTL)
	}
	m.mu.Unlock()

	if m.onFinish != nil {
		m.onFinish(status)
	}
}

func (m *jobManager) status(id string) (JobSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if j, ok := m.active[id]; ok {
		return j.snapshot(), nil
	}
	if m.closed {
		return JobSnapshot{}, ErrJobNotFound
	}
	if snap, ok := m.finished.Get(id); ok {
		return snap, nil
	}
	return JobSnapshot{}, ErrJobNotFound
}

func (m *jobManager) running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// close cancels running jobs and waits for them to return.
func (m *jobManager) close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	m.finished.Close()
}
