package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taengine/internal/indengine"
	"taengine/internal/metrics"
	"taengine/internal/model"
)

func testBarsIn(n int, withTimes bool) []BarIn {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make([]BarIn, n)
	for i := range out {
		c := 20 + 2*math.Sin(float64(i)/4)
		out[i] = BarIn{Open: c, High: c + 0.5, Low: c - 0.5, Close: c, Volume: 10}
		if withTimes {
			ts := start.Add(time.Duration(i) * time.Minute)
			out[i].Time = &ts
		}
	}
	return out
}

type fakeBars struct {
	series *model.BarSeries
	symbol string
}

func (f *fakeBars) ReadBars(_ context.Context, symbol string, _, _ time.Time) (*model.BarSeries, error) {
	f.symbol = symbol
	if f.series == nil {
		return model.FromBars(nil)
	}
	return f.series, nil
}

func newTestServer(t *testing.T, bars BarSource) (*Server, *httptest.Server) {
	t.Helper()
	svc := indengine.New(indengine.Config{
		Plan:    "fast=EMA:5,slow=SMA:3<-fast,rsi=RSI:14",
		Input:   model.Close,
		MaxBars: 500,
	})
	srv := NewServer(svc, bars, metrics.NewMetrics())
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return srv, ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestEvaluate_OK(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp := postJSON(t, ts.URL+"/v1/evaluate", EvaluateRequest{Symbol: "ACME", Bars: testBarsIn(30, true)})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	var out EvaluateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.NotEmpty(t, out.RunID)
	assert.Equal(t, 30, out.Bars)
	assert.Equal(t, []string{"fast", "rsi", "slow"}, out.Order)
	require.Len(t, out.Nodes, 3)
	for _, n := range out.Nodes {
		assert.Equal(t, 30, n.Bars, n.Node)
		assert.Len(t, n.Signals, 30, n.Node)
	}
	assert.Equal(t, "RSI_14", out.Indicators["rsi"])
}

func TestEvaluate_PlanOverride(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp := postJSON(t, ts.URL+"/v1/evaluate", EvaluateRequest{Plan: "m=MACD,bb=BB:10<-m", Bars: testBarsIn(60, false)})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out EvaluateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, []string{"m", "bb"}, out.Order)
}

func TestEvaluate_Errors(t *testing.T) {
	_, ts := newTestServer(t, nil)

	tests := []struct {
		name string
		body any
		code int
	}{
		{"no bars", EvaluateRequest{Symbol: "ACME"}, http.StatusBadRequest},
		{"bad plan", EvaluateRequest{Plan: "x=NOPE:3", Bars: testBarsIn(10, false)}, http.StatusBadRequest},
		{"cycle", EvaluateRequest{Plan: "a=EMA:3<-b,b=EMA:3<-a", Bars: testBarsIn(10, false)}, http.StatusBadRequest},
		{"bad input", EvaluateRequest{Input: "vwap", Bars: testBarsIn(10, false)}, http.StatusBadRequest},
		{"too many bars", EvaluateRequest{Bars: testBarsIn(501, false)}, http.StatusRequestEntityTooLarge},
		{"missing benchmark", EvaluateRequest{Plan: "RS:5", Bars: testBarsIn(10, false)}, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/v1/evaluate", tc.body)
			assert.Equal(t, tc.code, resp.StatusCode)
			var out ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
			assert.NotEmpty(t, out.Error)
		})
	}

	mixed := testBarsIn(5, true)
	mixed[3].Time = nil
	resp := postJSON(t, ts.URL+"/v1/evaluate", EvaluateRequest{Bars: mixed})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	unordered := testBarsIn(3, true)
	back := unordered[0].Time.Add(10 * time.Second)
	unordered[1].Time, unordered[2].Time = unordered[2].Time, &back
	resp = postJSON(t, ts.URL+"/v1/evaluate", EvaluateRequest{Bars: unordered, Timeframe: "5m"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var unorderedErr ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&unorderedErr))
	assert.Contains(t, unorderedErr.Error, "strictly increasing")

	resp, err := http.Post(ts.URL+"/v1/evaluate", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/v1/evaluate")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestEvaluate_StoredBars(t *testing.T) {
	stored, err := model.FromBars([]model.Bar{
		{Open: 1, High: 2, Low: 0.5, Close: 1.5},
		{Open: 1.5, High: 2.5, Low: 1, Close: 2},
		{Open: 2, High: 3, Low: 1.5, Close: 2.5},
	})
	require.NoError(t, err)
	src := &fakeBars{series: stored}
	_, ts := newTestServer(t, src)

	resp := postJSON(t, ts.URL+"/v1/evaluate", EvaluateRequest{Symbol: "ACME", Plan: "EMA:2"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ACME", src.symbol)
	var out EvaluateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, 3, out.Bars)

	src.series = nil
	resp = postJSON(t, ts.URL+"/v1/evaluate", EvaluateRequest{Symbol: "NONE"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestValidateIndicatorsStats(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp := postJSON(t, ts.URL+"/v1/validate", EvaluateRequest{Plan: "a=EMA:3,b=SMA:2<-a"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var v ValidateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	assert.Equal(t, []string{"a", "b"}, v.Order)

	resp = postJSON(t, ts.URL+"/v1/validate", EvaluateRequest{Plan: "a=EMA:3<-missing"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	r, err := http.Get(ts.URL + "/v1/indicators")
	require.NoError(t, err)
	defer r.Body.Close()
	var types map[string][]string
	require.NoError(t, json.NewDecoder(r.Body).Decode(&types))
	assert.Contains(t, types["types"], "MACD")

	postJSON(t, ts.URL+"/v1/evaluate", EvaluateRequest{Bars: testBarsIn(20, false)})
	r2, err := http.Get(ts.URL + "/v1/stats")
	require.NoError(t, err)
	defer r2.Body.Close()
	var stats StatsResponse
	require.NoError(t, json.NewDecoder(r2.Body).Decode(&stats))
	assert.Equal(t, 1, stats.Evaluations)
	assert.GreaterOrEqual(t, stats.P99Ms, stats.P50Ms)
}

func dialStream(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readMsg(t *testing.T, conn *websocket.Conn) StreamMessage {
	t.Helper()
	var msg StreamMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestStream_Evaluate(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	conn := dialStream(t, ts)

	require.NoError(t, conn.WriteJSON(StreamRequest{Type: "ping", ReqID: "p", Ping: 7}))
	pong := readMsg(t, conn)
	assert.Equal(t, "pong", pong.Type)
	assert.Equal(t, int64(7), pong.Ping)
	assert.Eventually(t, func() bool { return srv.clients.Load() == 1 }, time.Second, 10*time.Millisecond)

	bars := testBarsIn(12, true)
	require.NoError(t, conn.WriteJSON(StreamRequest{
		Type:            "evaluate",
		ReqID:           "r1",
		EvaluateRequest: EvaluateRequest{Plan: "fast=EMA:3,slow=SMA:2<-fast", Bars: bars},
	}))

	start := readMsg(t, conn)
	require.Equal(t, "start", start.Type, start.Error)
	assert.Equal(t, "r1", start.ReqID)
	assert.Equal(t, []string{"fast", "slow"}, start.Order)
	assert.Equal(t, 12, start.Bars)

	for i := 0; i < 12; i++ {
		f := readMsg(t, conn)
		require.Equal(t, "frame", f.Type)
		assert.Equal(t, i, f.Index)
		require.NotNil(t, f.Time)
		assert.True(t, bars[i].Time.Equal(*f.Time))
		require.Contains(t, f.Nodes, "fast")
		require.Contains(t, f.Nodes, "slow")
		assert.Equal(t, i, f.Nodes["fast"].Index)
	}

	done := readMsg(t, conn)
	assert.Equal(t, "done", done.Type)
	assert.Equal(t, start.RunID, done.RunID)
}

func TestStream_Errors(t *testing.T) {
	_, ts := newTestServer(t, nil)
	conn := dialStream(t, ts)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	assert.Equal(t, "error", readMsg(t, conn).Type)

	require.NoError(t, conn.WriteJSON(StreamRequest{Type: "subscribe"}))
	assert.Equal(t, "error", readMsg(t, conn).Type)

	require.NoError(t, conn.WriteJSON(StreamRequest{
		Type:            "evaluate",
		ReqID:           "bad",
		EvaluateRequest: EvaluateRequest{Plan: "x=NOPE", Bars: testBarsIn(5, false)},
	}))
	msg := readMsg(t, conn)
	assert.Equal(t, "error", msg.Type)
	assert.Equal(t, "bad", msg.ReqID)
	assert.Contains(t, msg.Error, "invalid request")
}

func TestEvaluate_Timeframe(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp := postJSON(t, ts.URL+"/v1/evaluate", EvaluateRequest{Plan: "EMA:2", Timeframe: "5m", Bars: testBarsIn(30, true)})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out EvaluateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, 6, out.Bars)

	resp = postJSON(t, ts.URL+"/v1/evaluate", EvaluateRequest{Plan: "EMA:2", Timeframe: "5m", Bars: testBarsIn(30, false)})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/v1/evaluate", EvaluateRequest{Plan: "EMA:2", Timeframe: "soon", Bars: testBarsIn(30, true)})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
