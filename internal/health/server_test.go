package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

type stubMongoChecker struct {
	err error
}

func (s stubMongoChecker) Ping(context.Context) error {
	return s.err
}

type stubPolling struct {
	polling bool
	last    time.Time
}

func (s stubPolling) Polling() bool         { return s.polling }
func (s stubPolling) LastUpdate() time.Time { return s.last }

type stubSweeps int

func (s stubSweeps) ActiveSweeps() int { return int(s) }

func serveHealth(t *testing.T, checks Checks) (*httptest.ResponseRecorder, report) {
	t.Helper()

	logger, _ := logtest.NewNullLogger()
	server := NewServer(0, checks, logrus.NewEntry(logger))

	rr := httptest.NewRecorder()
	server.server.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected content-type application/json, got %s", ct)
	}

	var resp report
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode health body %q: %v", rr.Body.String(), err)
	}
	return rr, resp
}

func TestHealthHandlerOK(t *testing.T) {
	last := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rr, resp := serveHealth(t, Checks{
		Mongo:    stubMongoChecker{},
		Telegram: stubPolling{polling: true, last: last},
		Sweeps:   stubSweeps(2),
	})

	if rr.Code != http.StatusOK {
		t.Fatalf("expected HTTP 200, got %d", rr.Code)
	}
	if resp.Status != statusOK || resp.Mongo != statusOK || resp.Telegram != statusPolling {
		t.Fatalf("unexpected report %+v", resp)
	}
	if resp.LastUpdateAt == nil || !resp.LastUpdateAt.Equal(last) {
		t.Fatalf("expected last update %v, got %v", last, resp.LastUpdateAt)
	}
	if resp.ActiveSweeps != 2 {
		t.Fatalf("expected 2 active sweeps, got %d", resp.ActiveSweeps)
	}
}

func TestHealthHandlerOmitsLastUpdateBeforeFirstUpdate(t *testing.T) {
	rr, _ := serveHealth(t, Checks{Mongo: stubMongoChecker{}, Telegram: stubPolling{polling: true}})

	if strings.Contains(rr.Body.String(), "last_update_at") {
		t.Fatalf("expected no last_update_at, got %s", rr.Body.String())
	}
}

func TestHealthHandlerDegraded(t *testing.T) {
	tests := []struct {
		name     string
		checks   Checks
		mongo    string
		telegram string
	}{
		{
			name:     "mongo down",
			checks:   Checks{Mongo: stubMongoChecker{err: errors.New("mongo down")}, Telegram: stubPolling{polling: true}},
			mongo:    statusError,
			telegram: statusPolling,
		},
		{
			name:     "polling stopped",
			checks:   Checks{Mongo: stubMongoChecker{}, Telegram: stubPolling{}},
			mongo:    statusOK,
			telegram: statusStopped,
		},
		{
			name:     "nothing configured",
			checks:   Checks{},
			mongo:    statusError,
			telegram: statusError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, resp := serveHealth(t, tt.checks)

			if rr.Code != http.StatusServiceUnavailable {
				t.Fatalf("expected HTTP 503, got %d", rr.Code)
			}
			if resp.Status != statusDegraded || resp.Mongo != tt.mongo || resp.Telegram != tt.telegram {
				t.Fatalf("unexpected report %+v", resp)
			}
		})
	}
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	server := NewServer(0, Checks{Mongo: stubMongoChecker{}}, logrus.NewEntry(logger))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()

	server.server.Handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected HTTP 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "go_goroutines") {
		t.Fatalf("expected default Go collector metrics in body")
	}
}
