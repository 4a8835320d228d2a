package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"divflow/config"
	"divflow/logger"
	"divflow/models"
	"divflow/validate"
)

// State identifies how far a sync run progressed.
type State string

const (
	StateIdle               State = "idle"
	StateComputingWatermark State = "computing_watermark"
	StateFetching           State = "fetching"
	StateComplete           State = "complete"
)

// Store is the persistence contract the orchestrator drives.
type Store interface {
	Watermark(ctx context.Context, start, end time.Time) (time.Time, error)
	Upsert(ctx context.Context, a models.Announcement) error
}

// Feed is the paginated announcement source.
type Feed interface {
	Stream(ctx context.Context, windowStart time.Time) <-chan models.RawEntry
}

// Result describes one sync run.
type Result struct {
	RunID      string  `json:"run_id"`
	State      State   `json:"state"`
	UpToDate   bool    `json:"up_to_date"`
	Fetched    int     `json:"fetched"`
	Written    int     `json:"written"`
	Rejected   int     `json:"rejected"`
	Watermark  string  `json:"watermark"`
	WindowEnd  string  `json:"window_end"`
	DurationMs float64 `json:"duration_ms"`
}

// Syncer drives one incremental ingestion pass: watermark, fetch, validate,
// upsert, stop at the window boundary. Single-threaded by design; concurrent
// runs must be serialized by the caller.
type Syncer struct {
	config    *config.Config
	store     Store
	feed      Feed
	validator *validate.Validator
	log       *logger.Log
	now       func() time.Time
}

func New(cfg *config.Config, store Store, feed Feed) *Syncer {
	return &Syncer{
		config:    cfg,
		store:     store,
		feed:      feed,
		validator: validate.New(),
		log:       logger.GetLogger(),
		now:       time.Now,
	}
}

// Run executes one sync over the window [now, now+horizon]. Validation
// failures are skipped and counted; a store failure aborts the run. A feed
// stream that ends early is indistinguishable from a short window here:
// writes already committed stay committed and the next run resumes from the
// persisted watermark.
func (s *Syncer) Run(ctx context.Context) (*Result, error) {
	started := time.Now()
	result := &Result{RunID: uuid.NewString(), State: StateIdle}
	log := s.log.WithComponent("syncer").WithFields(logger.Fields{"run_id": result.RunID})

	now := s.now()
	windowEnd := now.Add(s.config.Sync.Horizon())
	result.WindowEnd = models.FormatDate(windowEnd)

	result.State = StateComputingWatermark
	watermark, err := s.store.Watermark(ctx, now, windowEnd)
	if err != nil {
		result.DurationMs = durationMs(started)
		return result, fmt.Errorf("compute watermark: %w", err)
	}
	result.Watermark = models.FormatDate(watermark)

	log.WithFields(logger.Fields{
		"watermark":  result.Watermark,
		"window_end": result.WindowEnd,
	}).Info("starting sync")

	endDay := models.Day(windowEnd)
	if !models.Day(watermark).Before(endDay.Add(24 * time.Hour)) {
		result.State = StateComplete
		result.UpToDate = true
		result.DurationMs = durationMs(started)
		log.Info("window already covered, nothing to sync")
		return result, nil
	}

	result.State = StateFetching
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for raw := range s.feed.Stream(streamCtx, watermark) {
		// The feed ascends by ex-dividend date, so the first entry past the
		// window end marks the boundary. It is not counted as fetched; only
		// entries that enter validation are.
		if d, err := models.ParseDate(raw.ExDividendDate); err == nil && d.After(endDay) {
			log.WithFields(logger.Fields{"ex_dividend_date": raw.ExDividendDate}).Info("window boundary reached")
			cancel()
			break
		}
		result.Fetched++

		ann, err := s.validator.Validate(raw, now)
		if err != nil {
			result.Rejected++
			logger.IncrementRecordsRejected(1)
			log.WithError(err).WithFields(logger.Fields{"ticker": raw.Ticker}).Warn("rejected feed entry")
			continue
		}

		if err := s.store.Upsert(ctx, ann); err != nil {
			result.DurationMs = durationMs(started)
			return result, err
		}
		result.Written++
		logger.IncrementRecordsWritten(1)
	}

	result.State = StateComplete
	result.DurationMs = durationMs(started)
	log.WithFields(logger.Fields{
		"fetched":     result.Fetched,
		"written":     result.Written,
		"rejected":    result.Rejected,
		"duration_ms": result.DurationMs,
	}).Info("sync complete")

	s.log.LogMetric("syncer", "records_written", result.Written, "counter", logger.Fields{"run_id": result.RunID})
	s.log.LogMetric("syncer", "records_rejected", result.Rejected, "counter", logger.Fields{"run_id": result.RunID})
	logger.LogPerformanceEntry(log, "syncer", "sync", time.Since(started), logger.Fields{"written": result.Written})
	return result, nil
}

func durationMs(started time.Time) float64 {
	return float64(time.Since(started).Nanoseconds()) / 1e6
}
