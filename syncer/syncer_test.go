package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"divflow/config"
	"divflow/logger"
	"divflow/models"
)

type fakeStore struct {
	watermark    time.Time
	watermarkErr error
	upserts      []models.Announcement
	upsertErr    error
	gotStart     time.Time
	gotEnd       time.Time
}

func (f *fakeStore) Watermark(ctx context.Context, start, end time.Time) (time.Time, error) {
	f.gotStart, f.gotEnd = start, end
	if f.watermarkErr != nil {
		return time.Time{}, f.watermarkErr
	}
	if f.watermark.IsZero() {
		return start, nil
	}
	return f.watermark, nil
}

func (f *fakeStore) Upsert(ctx context.Context, a models.Announcement) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserts = append(f.upserts, a)
	return nil
}

type fakeFeed struct {
	entries        []models.RawEntry
	called         bool
	gotWindowStart time.Time
	delivered      int
}

func (f *fakeFeed) Stream(ctx context.Context, windowStart time.Time) <-chan models.RawEntry {
	f.called = true
	f.gotWindowStart = windowStart
	ch := make(chan models.RawEntry)
	go func() {
		defer close(ch)
		for _, e := range f.entries {
			select {
			case ch <- e:
				f.delivered++
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

func entry(ticker, exDate string) models.RawEntry {
	return models.RawEntry{
		Ticker:         ticker,
		ExDividendDate: exDate,
		PayDate:        "2024-04-01",
		CashAmount:     json.Number("0.50"),
		Currency:       "USD",
	}
}

var now = time.Date(2024, 3, 8, 12, 0, 0, 0, time.UTC)

func newTestSyncer(store *fakeStore, feed *fakeFeed) *Syncer {
	cfg := &config.Config{Sync: config.SyncConfig{HorizonWeeks: 1}}
	s := New(cfg, store, feed)
	s.now = func() time.Time { return now }
	return s
}

func TestRunBoundaryStop(t *testing.T) {
	// Window end is 2024-03-15. The feed ascends 03-02, 03-10, 03-20; only
	// the first two fall inside the window.
	store := &fakeStore{watermark: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	feed := &fakeFeed{entries: []models.RawEntry{
		entry("AAA", "2024-03-02"),
		entry("BBB", "2024-03-10"),
		entry("CCC", "2024-03-20"),
	}}

	result, err := newTestSyncer(store, feed).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateComplete, result.State)
	assert.False(t, result.UpToDate)
	require.Len(t, store.upserts, 2)
	assert.Equal(t, "AAA", store.upserts[0].Symbol)
	assert.Equal(t, "BBB", store.upserts[1].Symbol)
	assert.Equal(t, 2, result.Written)
	assert.Equal(t, 2, result.Fetched, "the boundary entry is not counted as fetched")
	assert.Equal(t, store.watermark, feed.gotWindowStart, "fetch resumes from the watermark")
	assert.Equal(t, "2024-03-15", result.WindowEnd)
}

func TestRunBoundaryStopCancelsStream(t *testing.T) {
	store := &fakeStore{watermark: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	feed := &fakeFeed{entries: []models.RawEntry{
		entry("AAA", "2024-03-02"),
		entry("CCC", "2024-03-20"),
		entry("DDD", "2024-03-21"),
		entry("EEE", "2024-03-22"),
	}}

	result, err := newTestSyncer(store, feed).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Written)
	assert.LessOrEqual(t, feed.delivered, 3, "entries past the boundary are not drained")
}

func TestRunAlreadyUpToDate(t *testing.T) {
	// Watermark already one day past the window end.
	store := &fakeStore{watermark: time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC)}
	feed := &fakeFeed{}

	result, err := newTestSyncer(store, feed).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, result.UpToDate)
	assert.Equal(t, StateComplete, result.State)
	assert.False(t, feed.called, "no fetch when the window is covered")
}

func TestRunWatermarkInsideWindowStillSyncs(t *testing.T) {
	store := &fakeStore{watermark: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)}
	feed := &fakeFeed{}

	result, err := newTestSyncer(store, feed).Run(context.Background())
	require.NoError(t, err)

	assert.False(t, result.UpToDate)
	assert.True(t, feed.called)
}

func TestRunSkipsRejectedEntries(t *testing.T) {
	store := &fakeStore{watermark: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	missingPayDate := entry("BAD", "2024-03-05")
	missingPayDate.PayDate = ""
	feed := &fakeFeed{entries: []models.RawEntry{
		missingPayDate,
		entry("GOOD", "2024-03-06"),
	}}

	result, err := newTestSyncer(store, feed).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Rejected)
	assert.Equal(t, 1, result.Written)
	require.Len(t, store.upserts, 1)
	assert.Equal(t, "GOOD", store.upserts[0].Symbol)
}

func TestRunShortStreamCompletes(t *testing.T) {
	// A stream that ends early (feed-side failure) looks like a short
	// window; the run still completes so the next one can resume.
	store := &fakeStore{watermark: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	feed := &fakeFeed{entries: []models.RawEntry{entry("AAA", "2024-03-02")}}

	result, err := newTestSyncer(store, feed).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateComplete, result.State)
	assert.Equal(t, 1, result.Written)
}

func TestRunStoreErrorAborts(t *testing.T) {
	store := &fakeStore{
		watermark: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		upsertErr: errors.New("table unavailable"),
	}
	feed := &fakeFeed{entries: []models.RawEntry{entry("AAA", "2024-03-02")}}

	result, err := newTestSyncer(store, feed).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFetching, result.State)
	assert.Equal(t, 0, result.Written)
}

func TestRunWatermarkErrorAborts(t *testing.T) {
	store := &fakeStore{watermarkErr: errors.New("scan failed")}
	feed := &fakeFeed{}

	result, err := newTestSyncer(store, feed).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateComputingWatermark, result.State)
	assert.False(t, feed.called)
}

func TestRunEmitsRunMetrics(t *testing.T) {
	var buf bytes.Buffer
	log := logger.GetLogger()
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stdout)

	store := &fakeStore{watermark: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	missingPayDate := entry("BAD", "2024-03-05")
	missingPayDate.PayDate = ""
	feed := &fakeFeed{entries: []models.RawEntry{
		entry("AAA", "2024-03-02"),
		missingPayDate,
	}}

	_, err := newTestSyncer(store, feed).Run(context.Background())
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"metric":"records_written"`)
	assert.Contains(t, out, `"metric":"records_rejected"`)
	assert.Contains(t, out, "performance metric")
}

func TestRunWindowBounds(t *testing.T) {
	store := &fakeStore{}
	feed := &fakeFeed{}

	_, err := newTestSyncer(store, feed).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, now, store.gotStart)
	assert.Equal(t, now.Add(7*24*time.Hour), store.gotEnd)
}
