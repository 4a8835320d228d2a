package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"divflow/config"
	"divflow/logger"
	"divflow/syncer"
)

// Runner triggers one sync run.
type Runner interface {
	Run(ctx context.Context) (*syncer.Result, error)
}

// Scheduler invokes the sync on a cron schedule. A tick that fires while the
// previous run is still active is skipped; the watermark makes the next tick
// pick up whatever the skipped one would have covered.
type Scheduler struct {
	config  *config.Config
	runner  Runner
	cron    *cron.Cron
	log     *logger.Log
	mu      sync.Mutex
	running bool
}

func New(cfg *config.Config, runner Runner) *Scheduler {
	return &Scheduler{
		config: cfg,
		runner: runner,
		cron:   cron.New(),
		log:    logger.GetLogger(),
	}
}

// Start registers the sync job and begins the cron loop.
func (s *Scheduler) Start() error {
	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	if _, err := s.cron.AddFunc(s.config.Sync.Schedule, s.runOnce); err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}
	s.cron.Start()
	s.running = true

	s.log.WithComponent("scheduler").WithFields(logger.Fields{
		"schedule": s.config.Sync.Schedule,
	}).Info("scheduler started")
	return nil
}

// Stop halts the cron loop and waits for an in-flight job to finish.
func (s *Scheduler) Stop() {
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.log.WithComponent("scheduler").Info("scheduler stopped")
}

func (s *Scheduler) runOnce() {
	log := s.log.WithComponent("scheduler")
	if !s.mu.TryLock() {
		log.Warn("previous sync still running, skipping tick")
		return
	}
	defer s.mu.Unlock()

	result, err := s.runner.Run(context.Background())
	if err != nil {
		entry := log.WithError(err)
		if result != nil {
			entry = entry.WithFields(logger.Fields{"run_id": result.RunID})
		}
		entry.Error("scheduled sync failed")
		return
	}
	log.WithFields(logger.Fields{
		"run_id":     result.RunID,
		"up_to_date": result.UpToDate,
		"written":    result.Written,
		"rejected":   result.Rejected,
	}).Info("scheduled sync finished")
}
