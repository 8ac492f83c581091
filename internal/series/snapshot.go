package series

import (
	"encoding/json"
	"fmt"
	"time"

	"taengine/internal/signal"
)

// SnapshotVersion is bumped when the snapshot layout changes.
const SnapshotVersion = 1

// Snapshot is the serialized form of a Result, as stored in SQLite,
// published to Redis and returned over HTTP.
type Snapshot struct {
	Version    int                `json:"version"`
	RunID      string             `json:"run_id,omitempty"`
	Node       string             `json:"node,omitempty"`
	Symbol     string             `json:"symbol,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	Bars       int                `json:"bars"`
	Primary    string             `json:"primary"`
	Outputs    []Computed         `json:"outputs"`
	Signals    []signal.Signal    `json:"signals"`
	Last       map[string]float64 `json:"last"`
	LastSignal signal.Signal      `json:"last_signal"`
}

// Snapshot captures r. The caller fills RunID, Node and Symbol.
func (r *Result) Snapshot() Snapshot {
	return Snapshot{
		Version:    SnapshotVersion,
		CreatedAt:  time.Now().UTC(),
		Bars:       r.Len(),
		Primary:    r.Primary,
		Outputs:    r.Outputs,
		Signals:    r.Signals,
		Last:       r.Last(),
		LastSignal: r.LastSignal(),
	}
}

// Result rebuilds a Result from the snapshot, re-checking every invariant.
func (s Snapshot) Result() (*Result, error) {
	if s.Version != SnapshotVersion {
		return nil, fmt.Errorf("series: unsupported snapshot version %d", s.Version)
	}
	agg := NewAggregator(s.Bars)
	for _, o := range s.Outputs {
		agg.Add(o.Name, o.Values)
	}
	return agg.SetPrimary(s.Primary).SetSignals(s.Signals).Build()
}

// MarshalSnapshot encodes r as snapshot JSON.
func MarshalSnapshot(r *Result, runID, node string) ([]byte, error) {
	snap := r.Snapshot()
	snap.RunID, snap.Node = runID, node
	return json.Marshal(snap)
}

// UnmarshalSnapshot decodes snapshot JSON back into a Result.
func UnmarshalSnapshot(data []byte) (*Snapshot, *Result, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, nil, fmt.Errorf("series: decode snapshot: %w", err)
	}
	res, err := snap.Result()
	if err != nil {
		return nil, nil, err
	}
	return &snap, res, nil
}
