// Package health exposes the bot's readiness report and Prometheus metrics
// over HTTP.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"tg_group_guard_bot/internal/logging"
)

const (
	mongoPingTimeout  = 2 * time.Second
	readHeaderTimeout = 2 * time.Second

	statusOK       = "ok"
	statusDegraded = "degraded"
	statusError    = "error"
	statusPolling  = "polling"
	statusStopped  = "stopped"
)

// MongoChecker pings the database that holds groups, features and members.
type MongoChecker interface {
	Ping(ctx context.Context) error
}

// PollingStatus reports the state of the Telegram update loop.
type PollingStatus interface {
	Polling() bool
	LastUpdate() time.Time
}

// SweepCounter reports how many kickall sweeps are in flight.
type SweepCounter interface {
	ActiveSweeps() int
}

// Checks are the components the report covers. Nil components are reported
// as errors, except Sweeps which is informational.
type Checks struct {
	Mongo    MongoChecker
	Telegram PollingStatus
	Sweeps   SweepCounter
}

// Server hosts the health endpoints and owns the underlying HTTP server.
type Server struct {
	server *http.Server
	logger *logrus.Entry
	checks Checks
}

type report struct {
	Status       string     `json:"status"`
	Mongo        string     `json:"mongo"`
	Telegram     string     `json:"telegram"`
	LastUpdateAt *time.Time `json:"last_update_at,omitempty"`
	ActiveSweeps int        `json:"active_sweeps"`
}

// NewServer constructs a server that exposes GET /healthz and GET /metrics on
// the provided port. /healthz answers 503 while the bot cannot moderate.
func NewServer(port int, checks Checks, logger *logrus.Entry) *Server {
	if logger == nil {
		logger = logging.Logger()
	}

	srv := &Server{
		logger: logger,
		checks: checks,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return srv
}

// ListenAndServe starts the health server and blocks until shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.WithFields(logging.Fields{
		"event": "health_listen",
		"addr":  s.server.Addr,
	}).Info("starting health server")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health server listen: %w", err)
	}

	s.logger.WithField("event", "health_stopped").Info("health server stopped")
	return nil
}

// Shutdown gracefully stops the health server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}

	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := s.collect(r.Context())

	code := http.StatusOK
	if resp.Status != statusOK {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.WithField("event", "health_write_error").WithError(err).Error("failed to encode health response")
	}
}

func (s *Server) collect(ctx context.Context) report {
	resp := report{
		Status:   statusOK,
		Mongo:    s.mongoStatus(ctx),
		Telegram: statusError,
	}

	if tg := s.checks.Telegram; tg != nil {
		if tg.Polling() {
			resp.Telegram = statusPolling
		} else {
			resp.Telegram = statusStopped
		}
		if last := tg.LastUpdate(); !last.IsZero() {
			resp.LastUpdateAt = &last
		}
	} else {
		s.logger.WithField("event", "health_telegram_missing").Warn("telegram status is not configured for health endpoint")
	}

	if s.checks.Sweeps != nil {
		resp.ActiveSweeps = s.checks.Sweeps.ActiveSweeps()
	}

	if resp.Mongo != statusOK || resp.Telegram != statusPolling {
		resp.Status = statusDegraded
	}

	return resp
}

func (s *Server) mongoStatus(ctx context.Context) string {
	if s.checks.Mongo == nil {
		s.logger.WithField("event", "health_mongo_missing").Warn("mongo checker is not configured for health endpoint")
		return statusError
	}

	pingCtx, cancel := context.WithTimeout(ctx, mongoPingTimeout)
	defer cancel()

	if err := s.checks.Mongo.Ping(pingCtx); err != nil {
		s.logger.WithField("event", "health_mongo_error").WithError(err).Warn("mongo ping failed during health check")
		return statusError
	}

	return statusOK
}
