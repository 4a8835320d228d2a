package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"divflow/config"
	"divflow/models"
	"divflow/syncer"
)

type fakeReadStore struct {
	announcements []models.Announcement
	err           error
	gotStart      time.Time
	gotEnd        time.Time
}

func (f *fakeReadStore) ScanRange(ctx context.Context, start, end time.Time) ([]models.Announcement, error) {
	f.gotStart, f.gotEnd = start, end
	return f.announcements, f.err
}

type fakeRunner struct {
	result  *syncer.Result
	err     error
	block   chan struct{}
	started chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context) (*syncer.Result, error) {
	if f.started != nil {
		close(f.started)
	}
	if f.block != nil {
		<-f.block
	}
	if f.result == nil {
		f.result = &syncer.Result{RunID: "test-run", State: syncer.StateComplete}
	}
	return f.result, f.err
}

func testServer(store ReadStore, runner SyncRunner) *Server {
	cfg := &config.Config{}
	cfg.Divflow.Name = "divflow"
	cfg.Divflow.Version = "1.0.0"
	return New(cfg, store, runner)
}

func doRequest(s *Server, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	s := testServer(&fakeReadStore{}, &fakeRunner{})

	rec := doRequest(s, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "divflow", body["service"])
}

func TestGetDividends(t *testing.T) {
	exDate := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	store := &fakeReadStore{announcements: []models.Announcement{{
		Symbol:         "AAPL",
		ExDividendDate: exDate,
		RecordDate:     exDate,
		PayDate:        exDate.Add(14 * 24 * time.Hour),
		DeclaredDate:   exDate.Add(-30 * 24 * time.Hour),
		CashAmount:     decimal.RequireFromString("0.24"),
		Currency:       "USD",
	}}}
	s := testServer(store, &fakeRunner{})

	rec := doRequest(s, http.MethodGet, "/api/v1/dividends?start=2024-03-01&end=2024-03-31")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Items []models.WireAnnouncement `json:"items"`
		Count int                       `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	require.Len(t, body.Items, 1)
	assert.Equal(t, "AAPL", body.Items[0].Symbol)
	assert.Equal(t, "2024-03-10", body.Items[0].ExDividendDate)
	assert.Equal(t, "0.24", body.Items[0].CashAmount)

	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), store.gotStart)
	assert.Equal(t, time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC), store.gotEnd)
}

func TestGetDividendsEmptyRange(t *testing.T) {
	s := testServer(&fakeReadStore{}, &fakeRunner{})

	rec := doRequest(s, http.MethodGet, "/api/v1/dividends?start=2024-03-01&end=2024-03-31")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(0), body["count"])
	assert.NotNil(t, body["items"], "empty result is an empty list, not null")
}

func TestGetDividendsBadRequests(t *testing.T) {
	s := testServer(&fakeReadStore{}, &fakeRunner{})

	cases := []struct {
		name   string
		target string
	}{
		{"missing start", "/api/v1/dividends?end=2024-03-31"},
		{"missing end", "/api/v1/dividends?start=2024-03-01"},
		{"bad start", "/api/v1/dividends?start=yesterday&end=2024-03-31"},
		{"bad end", "/api/v1/dividends?start=2024-03-01&end=someday"},
		{"inverted range", "/api/v1/dividends?start=2024-03-31&end=2024-03-01"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(s, http.MethodGet, tc.target)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestGetDividendsStoreError(t *testing.T) {
	s := testServer(&fakeReadStore{err: errors.New("table unavailable")}, &fakeRunner{})

	rec := doRequest(s, http.MethodGet, "/api/v1/dividends?start=2024-03-01&end=2024-03-31")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestTriggerSync(t *testing.T) {
	runner := &fakeRunner{result: &syncer.Result{
		RunID:   "run-1",
		State:   syncer.StateComplete,
		Written: 5,
	}}
	s := testServer(&fakeReadStore{}, runner)

	rec := doRequest(s, http.MethodPost, "/api/v1/sync")
	require.Equal(t, http.StatusOK, rec.Code)

	var result syncer.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "run-1", result.RunID)
	assert.Equal(t, 5, result.Written)
}

func TestTriggerSyncBusy(t *testing.T) {
	runner := &fakeRunner{
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	s := testServer(&fakeReadStore{}, runner)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		doRequest(s, http.MethodPost, "/api/v1/sync")
	}()
	<-runner.started

	rec := doRequest(s, http.MethodPost, "/api/v1/sync")
	assert.Equal(t, http.StatusConflict, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "sync already running", body["error"])

	close(runner.block)
	wg.Wait()
}

func TestTriggerSyncError(t *testing.T) {
	runner := &fakeRunner{
		result: &syncer.Result{RunID: "run-2", State: syncer.StateFetching},
		err:    errors.New("store write failed"),
	}
	s := testServer(&fakeReadStore{}, runner)

	rec := doRequest(s, http.MethodPost, "/api/v1/sync")
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var body struct {
		Error  string        `json:"error"`
		Result syncer.Result `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "store write failed", body.Error)
	assert.Equal(t, "run-2", body.Result.RunID)
}

type nilResultRunner struct{}

func (nilResultRunner) Run(ctx context.Context) (*syncer.Result, error) {
	return nil, errors.New("feed unavailable")
}

func TestTriggerSyncErrorNilResult(t *testing.T) {
	s := testServer(&fakeReadStore{}, nilResultRunner{})

	rec := doRequest(s, http.MethodPost, "/api/v1/sync")
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "feed unavailable", body["error"])
}

func TestMethodNotAllowed(t *testing.T) {
	s := testServer(&fakeReadStore{}, &fakeRunner{})

	rec := doRequest(s, http.MethodGet, "/api/v1/sync")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
