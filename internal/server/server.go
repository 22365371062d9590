package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"rewardrails/internal/config"
	"rewardrails/internal/escrow"
	"rewardrails/internal/hmacauth"
	"rewardrails/internal/settlement"
)

// Settler is what the HTTP adapter needs from the orchestrator.
type Settler interface {
	Open(ctx context.Context, req settlement.OpenRequest) (settlement.Result, error)
	Settle(ctx context.Context, req settlement.Request) (settlement.Result, error)
	Approve(ctx context.Context, id escrow.ID, caller string, amount uint64) (settlement.Result, error)
	Cancel(ctx context.Context, id escrow.ID, caller string) (settlement.Result, error)
	SettleAll(ctx context.Context, reqs []settlement.Request) []settlement.Result
	Lookup(ctx context.Context, id escrow.ID) (escrow.Record, error)
	DeadLetterDepth() int
}

type pinger interface {
	Ping(context.Context) error
}

// Deps are the optional collaborators of a Server. Ledger and Journal are
// probed for a Ping method and reported by the health endpoint.
type Deps struct {
	Registry *prometheus.Registry
	Logger   zerolog.Logger
	Ledger   any
	Journal  any
}

type Server struct {
	cfg         *config.AppConfig
	settler     Settler
	hmac        *hmacauth.Verifier
	httpServer  *http.Server
	metrics     *metricsRegistry
	log         zerolog.Logger
	dbHealthFn  func(context.Context) error
	rpcHealthFn func(context.Context) error
}

func NewServer(cfg *config.AppConfig, settler Settler, deps Deps) *Server {
	hmacVerifier := &hmacauth.Verifier{
		Keys:    cfg.Service.HMACSecrets,
		MaxSkew: cfg.Service.HMACClockSkew,
		MaxBody: int64(cfg.Service.MaxRequestBodyKB) << 10,
	}

	reg := deps.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	metrics := newMetricsRegistry(reg)

	s := &Server{
		cfg:     cfg,
		settler: settler,
		hmac:    hmacVerifier,
		metrics: metrics,
		log:     deps.Logger.With().Str("component", "http").Logger(),
	}

	if checker, ok := deps.Journal.(pinger); ok {
		s.dbHealthFn = checker.Ping
	}
	if checker, ok := deps.Ledger.(pinger); ok {
		s.rpcHealthFn = checker.Ping
	}

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

// Handler is the full route table with request ids and access logging.
func (s *Server) Handler() http.Handler {
	signed := func(h http.HandlerFunc) http.Handler { return s.hmac.Middleware(h) }

	mux := http.NewServeMux()
	mux.Handle("POST /api/v1/escrows", signed(s.handleOpen))
	mux.HandleFunc("GET /api/v1/escrows/{id}", s.handleLookup)
	mux.Handle("POST /api/v1/settlements", signed(s.handleSettle))
	mux.Handle("POST /api/v1/settlements/batch", signed(s.handleSettleBatch))
	mux.Handle("GET /api/v1/metrics", s.metrics.handler())
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)

	return requestIDMiddleware(s.accessLog(mux))
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("API listening")
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overallHealthy := true

	rpcInfo := struct {
		Connected bool    `json:"connected"`
		LatencyMs float64 `json:"latency_ms"`
		Error     string  `json:"error,omitempty"`
	}{}

	if s.rpcHealthFn != nil {
		start := time.Now()
		rpcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.rpcHealthFn(rpcCtx); err != nil {
			rpcInfo.Connected = false
			rpcInfo.Error = err.Error()
			overallHealthy = false
		} else {
			rpcInfo.Connected = true
			rpcInfo.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		}
	} else {
		rpcInfo.Connected = true
		rpcInfo.LatencyMs = 0
	}

	dbInfo := struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
	}{Connected: true}

	if s.dbHealthFn != nil {
		dbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.dbHealthFn(dbCtx); err != nil {
			dbInfo.Connected = false
			dbInfo.Error = err.Error()
			overallHealthy = false
		}
	}

	queueDepth := s.settler.DeadLetterDepth()

	status := "healthy"
	if !overallHealthy {
		status = "degraded"
	}

	resp := struct {
		Status     string `json:"status"`
		Network    string `json:"network"`
		RPC        any    `json:"rpc"`
		Database   any    `json:"database"`
		QueueDepth int    `json:"queue_depth"`
	}{
		Status:     status,
		Network:    s.cfg.Network.ID,
		RPC:        rpcInfo,
		Database:   dbInfo,
		QueueDepth: queueDepth,
	}

	code := http.StatusOK
	if !overallHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

const headerRequestID = "X-Request-Id"

type ctxKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(headerRequestID, id)
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		s.metrics.observeRequest(route, rec.code)
		s.log.Debug().
			Str("request_id", requestID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.code).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
