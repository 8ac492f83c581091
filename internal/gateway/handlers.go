package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"taengine/internal/indengine"
	"taengine/internal/indicator"
	"taengine/internal/metrics"
	"taengine/internal/model"
	"taengine/internal/resample"
	"taengine/internal/series"
	redisstore "taengine/internal/store/redis"
)

const maxBodyBytes = 32 << 20

var (
	errMixedTimes     = errors.New("gateway: bar times must be set on every bar or none")
	errUnorderedTimes = errors.New("gateway: bar times must be strictly increasing")
)

// BarSource loads stored bars for requests that name a symbol but carry no
// bars. *sqlite.Reader implements it.
type BarSource interface {
	ReadBars(ctx context.Context, symbol string, from, to time.Time) (*model.BarSeries, error)
}

// Published reads what the Redis sink published. *redis.Reader implements
// it.
type Published interface {
	Latest(ctx context.Context, symbol string) (map[string]redisstore.LatestEntry, error)
	Recent(ctx context.Context, symbol, node string, count int64) ([]*series.Snapshot, error)
}

const (
	defaultHistory = 20
	maxHistory     = 1000
)

// Server serves the evaluation API.
type Server struct {
	svc       *indengine.Service
	bars      BarSource
	published Published
	prom      *metrics.Metrics
	latency   *LatencyTracker
	clients   atomic.Int64

	upgrader websocket.Upgrader
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithPublished enables /v1/latest and /v1/history.
func WithPublished(p Published) ServerOption {
	return func(s *Server) { s.published = p }
}

// NewServer creates the API server. bars and m may be nil.
func NewServer(svc *indengine.Service, bars BarSource, m *metrics.Metrics, opts ...ServerOption) *Server {
	srv := &Server{
		svc:     svc,
		bars:    bars,
		prom:    m,
		latency: NewLatencyTracker(10000),
		upgrader: websocket.Upgrader{
			CheckOrigin:       func(r *http.Request) bool { return true },
			EnableCompression: true,
		},
	}
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// Routes returns the HTTP handler with every route registered.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/evaluate", s.rest("evaluate", http.MethodPost, s.handleEvaluate))
	mux.HandleFunc("/v1/validate", s.rest("validate", http.MethodPost, s.handleValidate))
	mux.HandleFunc("/v1/indicators", s.rest("indicators", http.MethodGet, s.handleIndicators))
	mux.HandleFunc("/v1/stats", s.rest("stats", http.MethodGet, s.handleStats))
	mux.HandleFunc("/v1/latest", s.rest("latest", http.MethodGet, s.handleLatest))
	mux.HandleFunc("/v1/history", s.rest("history", http.MethodGet, s.handleHistory))
	mux.HandleFunc("/v1/stream", s.handleStream)
	return mux
}

// rest wraps a JSON handler with CORS, method checking and request counting.
func (s *Server) rest(route, method string, h func(*http.Request) (any, int)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		var (
			body any
			code int
		)
		if r.Method != method {
			body, code = ErrorResponse{Error: "method not allowed"}, http.StatusMethodNotAllowed
		} else {
			body, code = h(r)
		}
		if s.prom != nil {
			s.prom.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(body)
	}
}

func errorBody(err error) (any, int) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, indengine.ErrInvalidRequest),
		errors.Is(err, model.ErrLengthMismatch),
		errors.Is(err, model.ErrNonFinite),
		errors.Is(err, errMixedTimes),
		errors.Is(err, errUnorderedTimes):
		code = http.StatusBadRequest
	case errors.Is(err, indengine.ErrTooManyBars):
		code = http.StatusRequestEntityTooLarge
	}
	return ErrorResponse{Error: err.Error()}, code
}

func decodeRequest(r *http.Request) (EvaluateRequest, error) {
	var req EvaluateRequest
	if err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		return req, fmt.Errorf("%w: invalid JSON: %v", indengine.ErrInvalidRequest, err)
	}
	return req, nil
}

// toServiceRequest resolves request bars, loading stored bars when needed.
func (s *Server) toServiceRequest(ctx context.Context, req EvaluateRequest) (indengine.Request, error) {
	out := indengine.Request{
		Symbol:              req.Symbol,
		Plan:                req.Plan,
		Input:               req.Input,
		Policy:              req.Policy,
		VolatilityThreshold: req.VolatilityThreshold,
	}
	bars, err := toSeries(req.Bars)
	if err != nil {
		return out, err
	}
	if bars == nil {
		if req.Symbol == "" || s.bars == nil {
			return out, fmt.Errorf("%w: bars required", indengine.ErrInvalidRequest)
		}
		bars, err = s.bars.ReadBars(ctx, req.Symbol, req.From, req.To)
		if err != nil {
			return out, err
		}
		if bars.Len() == 0 {
			return out, fmt.Errorf("%w: no stored bars for %q", indengine.ErrInvalidRequest, req.Symbol)
		}
	}
	if out.Benchmark, err = toSeries(req.Benchmark); err != nil {
		return out, err
	}
	if req.Timeframe != "" {
		if bars, err = resampleBars(bars, req.Timeframe); err != nil {
			return out, err
		}
		if out.Benchmark != nil {
			if out.Benchmark, err = resampleBars(out.Benchmark, req.Timeframe); err != nil {
				return out, err
			}
		}
	}
	out.Bars = bars
	return out, nil
}

func resampleBars(bars *model.BarSeries, timeframe string) (*model.BarSeries, error) {
	tf, err := resample.ParseTimeframe(timeframe)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", indengine.ErrInvalidRequest, err)
	}
	out, err := resample.Bars(bars, tf)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", indengine.ErrInvalidRequest, err)
	}
	return out, nil
}

func (s *Server) evaluate(ctx context.Context, req EvaluateRequest) (*indengine.Evaluation, error) {
	sreq, err := s.toServiceRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	ev, err := s.svc.Evaluate(ctx, sreq)
	if err == nil {
		s.latency.Observe(time.Since(start))
	}
	return ev, err
}

func (s *Server) handleEvaluate(r *http.Request) (any, int) {
	req, err := decodeRequest(r)
	if err != nil {
		return errorBody(err)
	}
	ev, err := s.evaluate(r.Context(), req)
	if err != nil {
		slog.Warn("evaluate failed", slog.String("error", err.Error()))
		return errorBody(err)
	}
	return EvaluateResponse{
		RunID:      ev.RunID,
		Symbol:     ev.Symbol,
		Bars:       ev.Bars,
		Order:      ev.Order,
		Indicators: ev.Indicators,
		Nodes:      ev.Snapshots(),
	}, http.StatusOK
}

func (s *Server) handleValidate(r *http.Request) (any, int) {
	req, err := decodeRequest(r)
	if err != nil {
		return errorBody(err)
	}
	order, err := s.svc.Validate(indengine.Request{
		Plan:                req.Plan,
		Input:               req.Input,
		Policy:              req.Policy,
		VolatilityThreshold: req.VolatilityThreshold,
	})
	if err != nil {
		return errorBody(err)
	}
	return ValidateResponse{Order: order}, http.StatusOK
}

func (s *Server) handleIndicators(*http.Request) (any, int) {
	return map[string][]string{"types": indicator.Types()}, http.StatusOK
}

func (s *Server) handleStats(*http.Request) (any, int) {
	p50, p95, p99 := s.latency.Percentiles()
	return StatsResponse{
		Evaluations: s.latency.Total(),
		P50Ms:       p50,
		P95Ms:       p95,
		P99Ms:       p99,
		Clients:     int(s.clients.Load()),
	}, http.StatusOK
}

func (s *Server) handleLatest(r *http.Request) (any, int) {
	if s.published == nil {
		return ErrorResponse{Error: "publishing disabled"}, http.StatusServiceUnavailable
	}
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		return ErrorResponse{Error: "symbol required"}, http.StatusBadRequest
	}
	latest, err := s.published.Latest(r.Context(), symbol)
	if err != nil {
		return errorBody(err)
	}
	return LatestResponse{Symbol: symbol, Nodes: latest}, http.StatusOK
}

func (s *Server) handleHistory(r *http.Request) (any, int) {
	if s.published == nil {
		return ErrorResponse{Error: "publishing disabled"}, http.StatusServiceUnavailable
	}
	q := r.URL.Query()
	symbol, node := q.Get("symbol"), q.Get("node")
	if symbol == "" || node == "" {
		return ErrorResponse{Error: "symbol and node required"}, http.StatusBadRequest
	}
	count := int64(defaultHistory)
	if c := q.Get("count"); c != "" {
		n, err := strconv.ParseInt(c, 10, 64)
		if err != nil || n <= 0 {
			return ErrorResponse{Error: "count must be a positive integer"}, http.StatusBadRequest
		}
		count = min(n, maxHistory)
	}
	snaps, err := s.published.Recent(r.Context(), symbol, node, count)
	if err != nil {
		return errorBody(err)
	}
	if snaps == nil {
		snaps = []*series.Snapshot{}
	}
	return HistoryResponse{Symbol: symbol, Node: node, Snapshots: snaps}, http.StatusOK
}
