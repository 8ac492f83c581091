// Package graph composes indicators into a directed acyclic graph where a
// node reads either a price view of the bars or the primary output of
// another node.
//
// A Graph is built once (names, dependencies and cycles are checked by
// Build) and can then be evaluated any number of times, concurrently, over
// different bar series.
package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"taengine/internal/indicator"
	"taengine/internal/model"
	"taengine/internal/series"
)

var (
	ErrDuplicateNode = errors.New("graph: duplicate node")
	ErrUnknownNode   = errors.New("graph: unknown node")
	ErrCycle         = errors.New("graph: cycle")
	ErrInvalidNode   = errors.New("graph: invalid node")
	ErrNoBars        = errors.New("graph: bar series required")
)

// Source is where a node reads its primary input from: a price view of the
// bars, or the primary output of the node named Node.
type Source struct {
	Selector model.InputSelector
	Node     string
}

// FromSelector reads the given price view.
func FromSelector(sel model.InputSelector) Source { return Source{Selector: sel} }

// FromNode reads the primary output of the named node.
func FromNode(name string) Source { return Source{Node: name} }

// ParseSource resolves plan text: "" is def, a selector name is that price
// view, anything else is a node name.
func ParseSource(s string, def model.InputSelector) Source {
	s = strings.TrimSpace(s)
	if s == "" {
		return FromSelector(def)
	}
	if sel, err := model.ParseInputSelector(s); err == nil {
		return FromSelector(sel)
	}
	return FromNode(s)
}

// IsNode reports whether the source is another node.
func (s Source) IsNode() bool { return s.Node != "" }

func (s Source) String() string {
	if s.IsNode() {
		return s.Node
	}
	return s.Selector.String()
}

type node struct {
	name string
	ind  indicator.Indicator
	src  Source
}

// Builder collects nodes. The first Add error is kept and returned by Build.
type Builder struct {
	nodes []node
	index map[string]int
	err   error
}

func NewBuilder() *Builder {
	return &Builder{index: make(map[string]int)}
}

// Add registers a node. Names must be unique and must not collide with an
// input selector name, so that plan sources stay unambiguous.
func (b *Builder) Add(name string, ind indicator.Indicator, src Source) *Builder {
	if b.err != nil {
		return b
	}
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		b.err = fmt.Errorf("%w: empty name", ErrInvalidNode)
		return b
	case ind == nil:
		b.err = fmt.Errorf("%w: %q has no indicator", ErrInvalidNode, name)
		return b
	case !src.IsNode() && !src.Selector.Valid():
		b.err = fmt.Errorf("%w: %q reads invalid selector %d", ErrInvalidNode, name, int(src.Selector))
		return b
	}
	if _, err := model.ParseInputSelector(name); err == nil {
		b.err = fmt.Errorf("%w: %q is an input selector name", ErrInvalidNode, name)
		return b
	}
	if _, ok := b.index[name]; ok {
		b.err = fmt.Errorf("%w: %q", ErrDuplicateNode, name)
		return b
	}
	b.index[name] = len(b.nodes)
	b.nodes = append(b.nodes, node{name: name, ind: ind, src: src})
	return b
}

// Build checks dependencies and sorts the nodes into levels (Kahn's
// algorithm). Nodes of one level only depend on earlier levels. Within a
// level nodes keep insertion order.
func (b *Builder) Build() (*Graph, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.nodes) == 0 {
		return nil, fmt.Errorf("%w: empty graph", ErrInvalidNode)
	}

	indegree := make([]int, len(b.nodes))
	children := make([][]int, len(b.nodes))
	for i, n := range b.nodes {
		if !n.src.IsNode() {
			continue
		}
		dep, ok := b.index[n.src.Node]
		if !ok {
			return nil, fmt.Errorf("%w: %q reads %q", ErrUnknownNode, n.name, n.src.Node)
		}
		indegree[i]++
		children[dep] = append(children[dep], i)
	}

	var level []int
	for i := range b.nodes {
		if indegree[i] == 0 {
			level = append(level, i)
		}
	}

	g := &Graph{nodes: make(map[string]node, len(b.nodes))}
	seen := 0
	for len(level) > 0 {
		names := make([]string, len(level))
		var next []int
		for j, i := range level {
			names[j] = b.nodes[i].name
			for _, c := range children[i] {
				indegree[c]--
				if indegree[c] == 0 {
					next = append(next, c)
				}
			}
		}
		seen += len(level)
		g.levels = append(g.levels, names)
		g.order = append(g.order, names...)
		level = sortIndexes(next)
	}
	if seen != len(b.nodes) {
		var stuck []string
		for i, d := range indegree {
			if d > 0 {
				stuck = append(stuck, b.nodes[i].name)
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrCycle, strings.Join(stuck, ", "))
	}
	for _, n := range b.nodes {
		g.nodes[n.name] = n
	}
	return g, nil
}

// sortIndexes restores insertion order of a level.
func sortIndexes(xs []int) []int {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j] < xs[j-1]; j-- {
			xs[j], xs[j-1] = xs[j-1], xs[j]
		}
	}
	return xs
}

// FromPlan builds a graph from parsed plan entries. Entries without a source
// read def.
func FromPlan(plan []indicator.PlanEntry, def model.InputSelector) (*Graph, error) {
	b := NewBuilder()
	for _, e := range plan {
		b.Add(e.Name, e.Indicator, ParseSource(e.Source, def))
	}
	return b.Build()
}

// Observer is notified after every node evaluation.
type Observer interface {
	NodeEvaluated(node, indicatorName string, d time.Duration, err error)
}

// Graph is an immutable, sorted indicator graph.
type Graph struct {
	nodes  map[string]node
	levels [][]string
	order  []string
}

// Order returns the evaluation order.
func (g *Graph) Order() []string {
	return append([]string(nil), g.order...)
}

// Levels returns the nodes grouped by dependency depth.
func (g *Graph) Levels() [][]string {
	out := make([][]string, len(g.levels))
	for i, l := range g.levels {
		out[i] = append([]string(nil), l...)
	}
	return out
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.order) }

// Source returns the input of the named node.
func (g *Graph) Source(name string) (Source, bool) {
	n, ok := g.nodes[name]
	return n.src, ok
}

// Indicator returns the indicator of the named node.
func (g *Graph) Indicator(name string) (indicator.Indicator, bool) {
	n, ok := g.nodes[name]
	return n.ind, ok
}

// Results maps node names to their evaluation.
type Results map[string]*series.Result

type evalOptions struct {
	benchmark *model.BarSeries
	observer  Observer
	logger    *slog.Logger
	limit     int
}

// Option configures one evaluation.
type Option func(*evalOptions)

// WithBenchmark supplies the benchmark series for relative indicators.
func WithBenchmark(b *model.BarSeries) Option {
	return func(o *evalOptions) { o.benchmark = b }
}

// WithObserver reports node timings to obs.
func WithObserver(obs Observer) Option {
	return func(o *evalOptions) { o.observer = obs }
}

// WithLogger replaces slog.Default for node timing logs.
func WithLogger(l *slog.Logger) Option {
	return func(o *evalOptions) { o.logger = l }
}

// WithParallelism caps concurrently evaluated nodes of one level. n <= 0
// means GOMAXPROCS.
func WithParallelism(n int) Option {
	return func(o *evalOptions) { o.limit = n }
}

// Evaluate runs every node over bars, level by level. Nodes of one level run
// concurrently; each receives its own Input. The first node error cancels
// the evaluation.
func (g *Graph) Evaluate(ctx context.Context, bars *model.BarSeries, opts ...Option) (Results, error) {
	if bars == nil {
		return nil, ErrNoBars
	}
	o := evalOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.limit <= 0 {
		o.limit = runtime.GOMAXPROCS(0)
	}

	results := make(Results, len(g.order))
	for _, level := range g.levels {
		// Inputs are resolved from earlier levels before any goroutine of this
		// level starts; each goroutine writes only its own slot.
		inputs := make([]indicator.Input, len(level))
		for i, name := range level {
			n := g.nodes[name]
			in := indicator.Input{Bars: bars, Benchmark: o.benchmark}
			if n.src.IsNode() {
				in.Series = results[n.src.Node].PrimarySeries()
			} else {
				in.Series = series.Computed{Name: n.src.Selector.String(), Values: bars.Select(n.src.Selector)}
			}
			inputs[i] = in
		}
		out := make([]*series.Result, len(level))

		eg, egCtx := errgroup.WithContext(ctx)
		eg.SetLimit(o.limit)
		for i, name := range level {
			i, n := i, g.nodes[name]
			eg.Go(func() error {
				if err := egCtx.Err(); err != nil {
					return err
				}
				start := time.Now()
				res, err := n.ind.Evaluate(inputs[i])
				elapsed := time.Since(start)
				if o.observer != nil {
					o.observer.NodeEvaluated(n.name, n.ind.Name(), elapsed, err)
				}
				if err != nil {
					return fmt.Errorf("node %q (%s): %w", n.name, n.ind.Name(), err)
				}
				o.logger.Debug("graph node evaluated",
					slog.String("node", n.name),
					slog.String("indicator", n.ind.Name()),
					slog.String("source", n.src.String()),
					slog.Int("bars", bars.Len()),
					slog.Duration("elapsed", elapsed),
				)
				out[i] = res
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return nil, err
		}
		for i, name := range level {
			results[name] = out[i]
		}
	}
	return results, nil
}
