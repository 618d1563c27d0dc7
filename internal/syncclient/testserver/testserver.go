// Package testserver is a test-only fake sync server: a chi-routed
// POST /sync + HEAD /health pair used by syncengine and netdetect tests
// in place of hand-rolled http.ServeMux routing.
package testserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"

	"github.com/driftsync/syncore/internal/syncclient"
)

// Server is an in-process fake implementing the sync protocol's wire
// shape. ResponderFunc lets a test script per-batch outcomes; Healthy
// toggles the /health probe's response.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	responder   func(syncclient.BatchRequest) syncclient.BatchResponse
	requestLog  []syncclient.BatchRequest
	healthy     int32
}

// New starts a fake server. responder computes the response for each
// POST /sync call; pass nil for a responder that accepts every
// transaction unconditionally.
func New(responder func(syncclient.BatchRequest) syncclient.BatchResponse) *Server {
	s := &Server{responder: responder, healthy: 1}

	r := chi.NewRouter()
	r.Post("/sync", s.handleSync)
	r.Head("/health", s.handleHealth)

	s.Server = httptest.NewServer(r)
	return s
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncclient.BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.requestLog = append(s.requestLog, req)
	responder := s.responder
	s.mu.Unlock()

	var resp syncclient.BatchResponse
	if responder != nil {
		resp = responder(req)
	} else {
		resp = acceptAll(req)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if atomic.LoadInt32(&s.healthy) == 1 {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
}

// NewWithStatus starts a fake server whose /sync endpoint always returns
// the given HTTP status code with no body, for exercising transport-error
// classification.
func NewWithStatus(status int) *Server {
	s := &Server{healthy: 1}
	r := chi.NewRouter()
	r.Post("/sync", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})
	r.Head("/health", s.handleHealth)
	s.Server = httptest.NewServer(r)
	return s
}

// SetHealthy toggles the /health probe's response for subsequent requests.
func (s *Server) SetHealthy(healthy bool) {
	v := int32(0)
	if healthy {
		v = 1
	}
	atomic.StoreInt32(&s.healthy, v)
}

// Requests returns every batch request received so far, in arrival order.
func (s *Server) Requests() []syncclient.BatchRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]syncclient.BatchRequest, len(s.requestLog))
	copy(out, s.requestLog)
	return out
}

func acceptAll(req syncclient.BatchRequest) syncclient.BatchResponse {
	resp := syncclient.BatchResponse{}
	for _, tx := range req.Transactions {
		resp.Synced = append(resp.Synced, syncclient.SyncedOutcome{
			TransactionID:       tx.TransactionID(),
			ServerTransactionID: "srv-" + tx.TransactionID(),
		})
	}
	return resp
}
