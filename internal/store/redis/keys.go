package redis

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"taengine/internal/series"
	"taengine/internal/signal"
)

const keyPrefix = "ta"

// StreamKey is the stream holding every published snapshot of symbol/node.
func StreamKey(symbol, node string) string {
	return keyPrefix + ":run:" + keyPart(symbol) + ":" + node
}

// LatestKey is the hash mapping node name to its latest signal entry.
func LatestKey(symbol string) string {
	return keyPrefix + ":latest:" + keyPart(symbol)
}

// ChannelKey is the pubsub channel announcing new snapshots of symbol.
func ChannelKey(symbol string) string {
	return "pub:" + keyPrefix + ":" + keyPart(symbol)
}

// keyPart keeps ':' (the key separator) out of user-supplied names.
func keyPart(s string) string {
	if s == "" {
		return "_"
	}
	return strings.ReplaceAll(s, ":", "_")
}

// Record is one node result to publish.
type Record struct {
	RunID     string
	Node      string
	Symbol    string
	Indicator string
	Result    *series.Result
}

// LatestEntry is the latest-signal hash value of one node.
type LatestEntry struct {
	RunID     string             `json:"run_id"`
	Node      string             `json:"node"`
	Indicator string             `json:"indicator,omitempty"`
	Signal    signal.Signal      `json:"signal"`
	Last      map[string]float64 `json:"last"`
	Bars      int                `json:"bars"`
	At        time.Time          `json:"at"`
}

// payload holds the encoded forms of one record.
type payload struct {
	snapshot string
	latest   string
}

func encode(rec Record, now time.Time) (payload, error) {
	if rec.Result == nil {
		return payload{}, fmt.Errorf("redis: record %s has no result", rec.Node)
	}
	snap := rec.Result.Snapshot()
	snap.RunID, snap.Node, snap.Symbol = rec.RunID, rec.Node, rec.Symbol
	snap.CreatedAt = now
	sb, err := json.Marshal(snap)
	if err != nil {
		return payload{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	lb, err := json.Marshal(LatestEntry{
		RunID:     rec.RunID,
		Node:      rec.Node,
		Indicator: rec.Indicator,
		Signal:    snap.LastSignal,
		Last:      snap.Last,
		Bars:      snap.Bars,
		At:        now,
	})
	if err != nil {
		return payload{}, fmt.Errorf("marshal latest: %w", err)
	}
	return payload{snapshot: string(sb), latest: string(lb)}, nil
}

// DecodeLatest parses a latest-signal hash value.
func DecodeLatest(data string) (LatestEntry, error) {
	var e LatestEntry
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return LatestEntry{}, fmt.Errorf("decode latest: %w", err)
	}
	return e, nil
}
