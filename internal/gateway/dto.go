package gateway

import (
	"time"

	"taengine/internal/model"
	"taengine/internal/series"
	redisstore "taengine/internal/store/redis"
)

// BarIn is one request bar. Time is optional but must be given for every
// bar or none.
type BarIn struct {
	Time   *time.Time `json:"time,omitempty"`
	Open   float64    `json:"open"`
	High   float64    `json:"high"`
	Low    float64    `json:"low"`
	Close  float64    `json:"close"`
	Volume float64    `json:"volume"`
}

// EvaluateRequest is the body of POST /v1/evaluate and the message a stream
// client sends to start an evaluation.
type EvaluateRequest struct {
	Symbol              string  `json:"symbol,omitempty"`
	Plan                string  `json:"plan,omitempty"`
	Input               string  `json:"input,omitempty"`
	Policy              string  `json:"policy,omitempty"`
	VolatilityThreshold float64 `json:"volatility_threshold,omitempty"`
	Timeframe           string  `json:"timeframe,omitempty"` // resample before evaluating, e.g. "5m"
	Bars                []BarIn `json:"bars,omitempty"`
	Benchmark           []BarIn `json:"benchmark,omitempty"`

	// From and To bound the stored bars loaded when Bars is empty.
	From time.Time `json:"from,omitempty"`
	To   time.Time `json:"to,omitempty"`
}

// EvaluateResponse returns every node snapshot of one run.
type EvaluateResponse struct {
	RunID      string            `json:"run_id"`
	Symbol     string            `json:"symbol,omitempty"`
	Bars       int               `json:"bars"`
	Order      []string          `json:"order"`
	Indicators map[string]string `json:"indicators"`
	Nodes      []series.Snapshot `json:"nodes"`
}

// ValidateResponse is the body of a successful POST /v1/validate.
type ValidateResponse struct {
	Order []string `json:"order"`
}

// StreamMessage is one websocket message from the server.
type StreamMessage struct {
	Type   string                  `json:"type"` // "start", "frame", "done", "error", "pong"
	ReqID  string                  `json:"req_id,omitempty"`
	RunID  string                  `json:"run_id,omitempty"`
	Index  int                     `json:"index,omitempty"`
	Time   *time.Time              `json:"time,omitempty"`
	Nodes  map[string]series.Frame `json:"nodes,omitempty"`
	Order  []string                `json:"order,omitempty"`
	Bars   int                     `json:"bars,omitempty"`
	Error  string                  `json:"error,omitempty"`
	Ping   int64                   `json:"ping,omitempty"`
	Server int64                   `json:"server_ts,omitempty"`
}

// StreamRequest is one websocket message from the client.
type StreamRequest struct {
	Type  string `json:"type"` // "evaluate" or "ping"
	ReqID string `json:"req_id,omitempty"`
	Ping  int64  `json:"ping,omitempty"`
	EvaluateRequest
}

// LatestResponse is the body of GET /v1/latest: the last published signal
// of every node of symbol.
type LatestResponse struct {
	Symbol string                            `json:"symbol"`
	Nodes  map[string]redisstore.LatestEntry `json:"nodes"`
}

// HistoryResponse is the body of GET /v1/history, newest snapshot first.
type HistoryResponse struct {
	Symbol    string             `json:"symbol"`
	Node      string             `json:"node"`
	Snapshots []*series.Snapshot `json:"snapshots"`
}

// ErrorResponse is the body of every non-2xx REST response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatsResponse is the body of GET /v1/stats.
type StatsResponse struct {
	Evaluations int     `json:"evaluations"`
	P50Ms       float64 `json:"p50_ms"`
	P95Ms       float64 `json:"p95_ms"`
	P99Ms       float64 `json:"p99_ms"`
	Clients     int     `json:"ws_clients"`
}

func toSeries(in []BarIn) (*model.BarSeries, error) {
	if len(in) == 0 {
		return nil, nil
	}
	bars := make([]model.Bar, len(in))
	var times []time.Time
	if in[0].Time != nil {
		times = make([]time.Time, len(in))
	}
	for i, b := range in {
		bars[i] = model.Bar{Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume}
		if (b.Time != nil) != (times != nil) {
			return nil, errMixedTimes
		}
		if times != nil {
			times[i] = *b.Time
			if i > 0 && !times[i].After(times[i-1]) {
				return nil, errUnorderedTimes
			}
		}
	}
	s, err := model.FromBars(bars)
	if err != nil {
		return nil, err
	}
	if times != nil {
		return s.WithTimes(times)
	}
	return s, nil
}
