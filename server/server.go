package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"divflow/config"
	"divflow/logger"
	"divflow/models"
	"divflow/syncer"
)

// ReadStore is the slice of the store the read endpoint needs.
type ReadStore interface {
	ScanRange(ctx context.Context, start, end time.Time) ([]models.Announcement, error)
}

// SyncRunner triggers one orchestrator run.
type SyncRunner interface {
	Run(ctx context.Context) (*syncer.Result, error)
}

// Server exposes the read endpoint and the sync trigger. Sync requests are
// serialized; a second request while one is active is refused.
type Server struct {
	config *config.Config
	store  ReadStore
	runner SyncRunner
	mux    *http.ServeMux
	log    *logger.Log
	syncMu sync.Mutex
}

func New(cfg *config.Config, store ReadStore, runner SyncRunner) *Server {
	s := &Server{
		config: cfg,
		store:  store,
		runner: runner,
		mux:    http.NewServeMux(),
		log:    logger.GetLogger(),
	}
	s.routes()
	return s
}

// Handler exposes the route table, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe runs the HTTP server until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpSrv := &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	s.log.WithComponent("server").WithFields(logger.Fields{"addr": addr}).Info("http server listening")
	if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
