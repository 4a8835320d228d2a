package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"divflow/config"
	"divflow/syncer"
)

type countingRunner struct {
	runs  int32
	block chan struct{}
}

func (r *countingRunner) Run(ctx context.Context) (*syncer.Result, error) {
	atomic.AddInt32(&r.runs, 1)
	if r.block != nil {
		<-r.block
	}
	return &syncer.Result{RunID: "test", State: syncer.StateComplete}, nil
}

func testConfig() *config.Config {
	return &config.Config{Sync: config.SyncConfig{Schedule: "0 6 * * *"}}
}

func TestStartStop(t *testing.T) {
	s := New(testConfig(), &countingRunner{})

	require.NoError(t, s.Start())
	assert.Error(t, s.Start(), "second start must be refused")
	s.Stop()
	s.Stop() // stopping twice is a no-op
}

func TestStartRejectsBadSchedule(t *testing.T) {
	cfg := &config.Config{Sync: config.SyncConfig{Schedule: "not a schedule"}}
	s := New(cfg, &countingRunner{})
	assert.Error(t, s.Start())
}

func TestRunOnceInvokesRunner(t *testing.T) {
	runner := &countingRunner{}
	s := New(testConfig(), runner)

	s.runOnce()
	assert.Equal(t, int32(1), atomic.LoadInt32(&runner.runs))
}

type failingRunner struct{}

func (failingRunner) Run(ctx context.Context) (*syncer.Result, error) {
	return nil, errors.New("watermark scan failed")
}

func TestRunOnceSurvivesNilResult(t *testing.T) {
	s := New(testConfig(), failingRunner{})
	s.runOnce()
}

func TestRunOnceSkipsWhileRunning(t *testing.T) {
	runner := &countingRunner{block: make(chan struct{})}
	s := New(testConfig(), runner)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.runOnce()
	}()

	for atomic.LoadInt32(&runner.runs) == 0 {
		time.Sleep(time.Millisecond)
	}
	s.runOnce()
	assert.Equal(t, int32(1), atomic.LoadInt32(&runner.runs), "overlapping tick is skipped")

	close(runner.block)
	<-done
}
