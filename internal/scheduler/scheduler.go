// Package scheduler triggers recurring backtest runs on cron schedules,
// typically a nightly re-run of each registered strategy over fresh data.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"qback/internal/logger"
)

// Job is one scheduled unit of work
type Job func(ctx context.Context) error

// Scheduler wraps a cron runner with per-job logging and overlap protection
type Scheduler struct {
	cron *cron.Cron
	log  logger.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
	busy    map[string]*int32
}

// New creates a stopped scheduler
func New(log logger.Logger) *Scheduler {
	if log == nil {
		log = logger.Default()
	}
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		log:     log,
		entries: make(map[string]cron.EntryID),
		busy:    make(map[string]*int32),
	}
}

// Add registers a named job on a cron spec. A firing that overlaps a still
// running instance of the same job is skipped, not queued.
func (s *Scheduler) Add(name, spec string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var running int32
	s.busy[name] = &running

	id, err := s.cron.AddFunc(spec, func() {
		s.mu.Lock()
		flag := s.busy[name]
		s.mu.Unlock()
		if flag == nil || !atomic.CompareAndSwapInt32(flag, 0, 1) {
			s.log.Warn("scheduled job still running, skipping fire", "job", name)
			return
		}
		defer atomic.StoreInt32(flag, 0)

		started := time.Now()
		s.log.Info("scheduled job started", "job", name)
		if err := job(context.Background()); err != nil {
			s.log.Error("scheduled job failed", "job", name, "error", err,
				"duration", time.Since(started))
			return
		}
		s.log.Info("scheduled job finished", "job", name, "duration", time.Since(started))
	})
	if err != nil {
		return err
	}
	s.entries[name] = id
	return nil
}

// Remove unregisters a named job
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[name]; ok {
		s.cron.Remove(id)
		delete(s.entries, name)
		delete(s.busy, name)
	}
}

// Start begins firing schedules
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for running jobs to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
