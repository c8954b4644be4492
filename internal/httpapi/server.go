package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/BrandonDHaskell/lotgate/internal/lotgate/types"
	"github.com/BrandonDHaskell/lotgate/internal/lotgate/wire"
	"github.com/BrandonDHaskell/lotgate/internal/operator"
)

// Dashboard is the snapshot source; *service.Monitor implements it.
type Dashboard interface {
	Current(ctx context.Context) (types.Snapshot, error)
	Subscribe(ctx context.Context) (string, <-chan types.Snapshot, func(), error)
}

// IncidentLister reads the operator journal; *operator.Journal implements it.
type IncidentLister interface {
	Recent(n int) ([]operator.Incident, error)
}

type Dependencies struct {
	Logger    *zap.Logger
	Addr      string
	Dashboard Dashboard
	Incidents IncidentLister

	// RateLimit is requests per second per client; zero disables limiting.
	RateLimit float64
	Burst     int
}

type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
	mux        *http.ServeMux
	dashboard  Dashboard
	incidents  IncidentLister
	limiter    *clientLimiter
}

const defaultIncidentLimit = 50

func NewServer(d Dependencies) *Server {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	mux := http.NewServeMux()

	s := &Server{
		logger:    d.Logger,
		mux:       mux,
		dashboard: d.Dashboard,
		incidents: d.Incidents,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /v1/snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /v1/stream", s.handleStream)
	mux.HandleFunc("GET /v1/incidents", s.handleIncidents)

	var handler http.Handler = mux
	if d.RateLimit > 0 {
		s.limiter = newClientLimiter(d.RateLimit, d.Burst)
		handler = s.limiter.middleware(handler)
	}
	handler = loggingMiddleware(d.Logger, handler)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.stop()
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.dashboard.Current(r.Context())
	if err != nil {
		s.logger.Error("snapshot failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "storage_unavailable", "ledger unavailable")
		return
	}

	if wantsProtobuf(r) {
		st, err := wire.SnapshotToStruct(snap)
		if err != nil {
			s.logger.Error("snapshot encode failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
			return
		}
		writeProto(w, http.StatusOK, st)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleStream pushes snapshots as server-sent events: the current one at
// once, then one per ledger change, until the client goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "response cannot be streamed")
		return
	}

	id, updates, unsubscribe, err := s.dashboard.Subscribe(r.Context())
	if err != nil {
		s.logger.Error("subscribe failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "storage_unavailable", "ledger unavailable")
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.logger.Debug("stream opened", zap.String("subscriber", id))
	for snap := range updates {
		data, err := json.Marshal(snap)
		if err != nil {
			s.logger.Error("stream encode failed", zap.Error(err))
			return
		}
		if _, err := fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", data); err != nil {
			return
		}
		flusher.Flush()
	}
	s.logger.Debug("stream closed", zap.String("subscriber", id))
}

func (s *Server) handleIncidents(w http.ResponseWriter, r *http.Request) {
	if s.incidents == nil {
		writeError(w, http.StatusNotFound, "no_journal", operator.ErrNoJournal.Error())
		return
	}

	limit := defaultIncidentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	list, err := s.incidents.Recent(limit)
	if err != nil {
		s.logger.Error("incident list failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"incidents": list})
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: code, Message: msg})
}
