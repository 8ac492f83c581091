// Package indengine runs evaluation requests: it resolves the plan into a
// composition graph, evaluates it over the request's bars and hands the
// results to the configured sinks (SQLite, Redis).
package indengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"taengine/internal/graph"
	"taengine/internal/indicator"
	"taengine/internal/logger"
	"taengine/internal/metrics"
	"taengine/internal/model"
	"taengine/internal/rolling"
	"taengine/internal/series"
)

var (
	// ErrInvalidRequest wraps every error caused by the request itself
	// (plan syntax, unknown nodes, cycles, missing or misaligned bars).
	ErrInvalidRequest = errors.New("indengine: invalid request")

	// ErrTooManyBars is returned when a request exceeds Config.MaxBars.
	ErrTooManyBars = errors.New("indengine: too many bars")
)

// Request is one evaluation. Empty fields use the service defaults.
type Request struct {
	Symbol              string
	Bars                *model.BarSeries
	Benchmark           *model.BarSeries
	Plan                string
	Input               string  // input selector name
	Policy              string  // rolling window policy name
	VolatilityThreshold float64 // > 0 overrides the default
}

// Evaluation is the outcome of one request.
type Evaluation struct {
	RunID      string
	Symbol     string
	CreatedAt  time.Time
	Bars       int
	Times      []time.Time
	Order      []string
	Indicators map[string]string // node name -> indicator name
	Results    graph.Results
}

// Snapshots returns one snapshot per node in evaluation order.
func (ev *Evaluation) Snapshots() []series.Snapshot {
	out := make([]series.Snapshot, 0, len(ev.Order))
	for _, name := range ev.Order {
		snap := ev.Results[name].Snapshot()
		snap.RunID, snap.Node, snap.Symbol, snap.CreatedAt = ev.RunID, name, ev.Symbol, ev.CreatedAt
		out = append(out, snap)
	}
	return out
}

// Frame returns bar i of every node.
func (ev *Evaluation) Frame(i int) map[string]series.Frame {
	out := make(map[string]series.Frame, len(ev.Results))
	for name, r := range ev.Results {
		out[name] = r.At(i)
	}
	return out
}

// Sink receives every successful evaluation.
type Sink interface {
	Name() string
	Save(ctx context.Context, ev *Evaluation) error
}

// Service is the top-level orchestrator of evaluations. It is safe for
// concurrent use.
type Service struct {
	cfg    Config
	sinks  []Sink
	prom   *metrics.Metrics
	health *metrics.HealthStatus
	log    *slog.Logger

	// built graphs keyed by plan text and options; graphs are immutable
	graphs *graphCache
}

// Option configures a Service.
type Option func(*Service)

// WithSinks adds result sinks.
func WithSinks(sinks ...Sink) Option {
	return func(s *Service) { s.sinks = append(s.sinks, sinks...) }
}

// WithMetrics records evaluations on m and h. Either may be nil.
func WithMetrics(m *metrics.Metrics, h *metrics.HealthStatus) Option {
	return func(s *Service) { s.prom, s.health = m, h }
}

// WithLogger replaces slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// New creates a Service with the given defaults.
func New(cfg Config, opts ...Option) *Service {
	svc := &Service{cfg: cfg, log: slog.Default(), graphs: newGraphCache(cfg.GraphCacheSize)}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

type graphKey struct {
	plan      string
	input     model.InputSelector
	policy    rolling.Policy
	threshold float64
}

type plannedGraph struct {
	g          *graph.Graph
	indicators map[string]string
}

// resolve turns request overrides into a (cached) graph.
func (s *Service) resolve(req Request) (*plannedGraph, error) {
	key := graphKey{
		plan:      s.cfg.Plan,
		input:     s.cfg.Input,
		policy:    s.cfg.Options.Policy,
		threshold: s.cfg.Options.VolatilityThreshold,
	}
	if req.Plan != "" {
		key.plan = req.Plan
	}
	if req.Input != "" {
		sel, err := model.ParseInputSelector(req.Input)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		key.input = sel
	}
	if req.Policy != "" {
		p, err := rolling.ParsePolicy(req.Policy)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		key.policy = p
	}
	if req.VolatilityThreshold > 0 {
		key.threshold = req.VolatilityThreshold
	}

	if pg, ok := s.graphs.get(key); ok {
		return pg, nil
	}
	plan, err := indicator.ParsePlan(key.plan, indicator.Options{Policy: key.policy, VolatilityThreshold: key.threshold})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	g, err := graph.FromPlan(plan, key.input)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	pg := &plannedGraph{g: g, indicators: make(map[string]string, len(plan))}
	for _, e := range plan {
		pg.indicators[e.Name] = e.Indicator.Name()
	}
	return s.graphs.add(key, pg), nil
}

// Validate checks the request's plan without evaluating it.
func (s *Service) Validate(req Request) ([]string, error) {
	pg, err := s.resolve(req)
	if err != nil {
		return nil, err
	}
	return pg.g.Order(), nil
}

// Evaluate runs one request and hands the result to every sink. Sink
// failures are logged and counted but do not fail the evaluation.
func (s *Service) Evaluate(ctx context.Context, req Request) (*Evaluation, error) {
	if req.Bars == nil {
		return nil, fmt.Errorf("%w: no bars", ErrInvalidRequest)
	}
	if s.cfg.MaxBars > 0 && req.Bars.Len() > s.cfg.MaxBars {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyBars, req.Bars.Len(), s.cfg.MaxBars)
	}
	pg, err := s.resolve(req)
	if err != nil {
		return nil, err
	}

	runID := logger.NewRunID()
	ctx = logger.WithRunID(ctx, runID)

	evalOpts := []graph.Option{graph.WithParallelism(s.cfg.Parallelism), graph.WithLogger(s.log)}
	if req.Benchmark != nil {
		evalOpts = append(evalOpts, graph.WithBenchmark(req.Benchmark))
	}
	if s.prom != nil {
		evalOpts = append(evalOpts, graph.WithObserver(s.prom))
	}

	start := time.Now()
	results, err := pg.g.Evaluate(ctx, req.Bars, evalOpts...)
	elapsed := time.Since(start)
	if s.prom != nil {
		s.prom.ObserveEvaluation(req.Bars.Len(), elapsed, results, err)
	}
	if err != nil {
		s.log.Warn("evaluation failed", append(logger.LogWithRun(ctx), slog.String("error", err.Error()))...)
		if isClientError(err) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		return nil, err
	}

	ev := &Evaluation{
		RunID:      runID,
		Symbol:     req.Symbol,
		CreatedAt:  time.Now().UTC(),
		Bars:       req.Bars.Len(),
		Times:      req.Bars.Times(),
		Order:      pg.g.Order(),
		Indicators: pg.indicators,
		Results:    results,
	}
	s.log.Info("evaluation complete", append(logger.LogWithRun(ctx),
		slog.String("symbol", req.Symbol),
		slog.Int("bars", ev.Bars),
		slog.Int("nodes", len(ev.Order)),
		slog.Duration("elapsed", elapsed),
	)...)
	if s.health != nil && len(ev.Order) > 0 {
		s.health.RecordEvaluation(ev.CreatedAt, results[ev.Order[len(ev.Order)-1]].LastSignal())
	}

	for _, sink := range s.sinks {
		if err := sink.Save(ctx, ev); err != nil {
			s.log.Error("sink failed", append(logger.LogWithRun(ctx),
				slog.String("sink", sink.Name()),
				slog.String("error", err.Error()),
			)...)
			if s.prom != nil {
				s.prom.PublishErrors.WithLabelValues(sink.Name()).Inc()
			}
		}
	}
	return ev, nil
}

func isClientError(err error) bool {
	for _, target := range []error{
		graph.ErrNoBars,
		indicator.ErrMissingBars,
		indicator.ErrMissingBenchmark,
		model.ErrLengthMismatch,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
