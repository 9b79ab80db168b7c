package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keywedge/internal/decode"
	"keywedge/internal/decode/gs1"
	"keywedge/internal/device"
	"keywedge/internal/health"
	"keywedge/internal/metrics"
	"keywedge/internal/scanner"
	"keywedge/internal/schemavalidation"
	"keywedge/internal/store"
)

func newTestAPI(t *testing.T) (*api, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	dec := gs1.NewDecoder("<sep>")
	c, err := scanner.New(scanner.DefaultConfig(), scanner.WithDecoder(dec))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	m := metrics.NewScannerMetrics(metrics.NewRegistry("kwtest", ""))
	return &api{
		history:    st,
		classifier: c,
		decoder:    dec,
		metrics:    m,
		registry:   m.Registry(),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, st
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(body)))
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func seed(t *testing.T, st *store.Store) {
	t.Helper()
	dec := gs1.NewDecoder("<sep>")
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, r := range []struct {
		id, raw  string
		strategy scanner.Strategy
	}{
		{"a", "0100681599063722<sep>10ABC", scanner.StrategySuffix},
		{"b", "HELLO", scanner.StrategyGap},
		{"c", "0100681599063722<sep>10XYZ", scanner.StrategyGap},
	} {
		require.NoError(t, st.Insert(context.Background(), &scanner.Result{
			ID:       r.id,
			Parsed:   dec.Decode(r.raw),
			Scanned:  r.raw,
			Strategy: r.strategy,
			At:       base.Add(time.Duration(i) * time.Minute),
		}))
	}
}

func TestHealth(t *testing.T) {
	a, _ := newTestAPI(t)
	h := a.routes()

	rec := do(t, h, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[healthResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, scanner.StrategyGap, resp.Strategy)
	assert.Nil(t, resp.Device)

	a.device = func() *device.Status {
		return &device.Status{Device: device.Info{Path: "/dev/input/event5"}, Err: errors.New("unplugged")}
	}
	resp = decodeBody[healthResponse](t, do(t, h, http.MethodGet, "/healthz", ""))
	assert.Equal(t, "degraded", resp.Status)
	require.NotNil(t, resp.Device)
	assert.Equal(t, "/dev/input/event5", resp.Device.Path)
	assert.Equal(t, "unplugged", resp.Device.Error)
}

func TestReadiness(t *testing.T) {
	a, st := newTestAPI(t)
	var status *device.Status
	a.checker = health.NewChecker(time.Second)
	a.checker.Register("store", true, health.Ping(st.DB().PingContext))
	a.checker.Register("device", false, deviceCheck(func() *device.Status { return status }))
	a.checker.SetReady(true)
	h := a.routes()

	rec := do(t, h, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	report := decodeBody[health.Report](t, rec)
	assert.Equal(t, health.StatusDegraded, report.Status, "device not reported yet")
	assert.Equal(t, health.StatusHealthy, report.Components["store"].Status)

	status = &device.Status{Attached: true, Device: device.Info{Path: "/dev/input/event5", Name: "Scanner"}}
	report = decodeBody[health.Report](t, do(t, h, http.MethodGet, "/readyz", ""))
	assert.Equal(t, health.StatusHealthy, report.Status)
	assert.Equal(t, "Scanner", report.Components["device"].Message)

	st.Close()
	rec = do(t, h, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDecodeEndpoint(t *testing.T) {
	a, _ := newTestAPI(t)
	h := a.routes()

	rec := do(t, h, http.MethodPost, "/decode", "4000136896GDM<sep>0100681599063722<sep>3010")
	require.Equal(t, http.StatusOK, rec.Code)
	p := decodeBody[decode.Payload](t, rec)
	require.True(t, p.IsStructured())
	assert.Equal(t, "(400)0136896GDM(01)00681599063722(30)10", p.Structured.GS1)

	rec = do(t, h, http.MethodPost, "/decode", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodPost, "/decode", strings.Repeat("9", maxBody+1))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScansEndpoints(t *testing.T) {
	a, st := newTestAPI(t)
	seed(t, st)
	h := a.routes()

	rec := do(t, h, http.MethodGet, "/scans", "")
	require.NoError(t, schemavalidation.ValidateScanEvents(rec.Body.Bytes()))
	all := decodeBody[[]scanner.Result](t, rec)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID, "newest first")

	gap := decodeBody[[]scanner.Result](t, do(t, h, http.MethodGet, "/scans?strategy=gap&structured=true", ""))
	require.Len(t, gap, 1)
	assert.Equal(t, "c", gap[0].ID)

	since := decodeBody[[]scanner.Result](t, do(t, h, http.MethodGet, "/scans?since=2024-03-01T12:01:00Z&limit=1", ""))
	require.Len(t, since, 1)

	found := decodeBody[[]scanner.Result](t, do(t, h, http.MethodGet, "/scans?ai=10&value=ABC", ""))
	require.Len(t, found, 1)
	assert.Equal(t, "a", found[0].ID)

	none := do(t, h, http.MethodGet, "/scans?ai=10&value=NOPE", "")
	assert.JSONEq(t, "[]", none.Body.String())

	rec = do(t, h, http.MethodGet, "/scans/a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	one := decodeBody[scanner.Result](t, rec)
	assert.Equal(t, scanner.StrategySuffix, one.Strategy)
	v, ok := one.Parsed.Structured.Get("10")
	assert.True(t, ok)
	assert.Equal(t, "ABC", v)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/scans/missing", "").Code)

	stats := decodeBody[store.Stats](t, do(t, h, http.MethodGet, "/scans/stats", ""))
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(2), stats.Structured)
	assert.Equal(t, int64(2), stats.ByStrategy[scanner.StrategyGap])
}

func TestScansBadParameters(t *testing.T) {
	a, _ := newTestAPI(t)
	h := a.routes()
	for _, target := range []string{
		"/scans?limit=-1",
		"/scans?limit=many",
		"/scans?since=yesterday",
		"/scans?strategy=laser",
		"/scans?structured=maybe",
	} {
		assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, target, "").Code, target)
	}
}

func TestHistoryDisabled(t *testing.T) {
	a, _ := newTestAPI(t)
	a.history = nil
	h := a.routes()

	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/scans", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/scans/a", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	a, _ := newTestAPI(t)
	a.metrics.ScansTotal.Inc()

	rec := do(t, a.routes(), http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "kwtest_scans_total 1")

	a.registry = nil
	assert.Equal(t, http.StatusNotFound, do(t, a.routes(), http.MethodGet, "/metrics", "").Code)
}

func TestSimulateRejectsEmpty(t *testing.T) {
	a, _ := newTestAPI(t)
	h := a.routes()
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/simulate", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/simulate?flush=later", "0101").Code)
}

func TestSimulateStreamsScan(t *testing.T) {
	a, _ := newTestAPI(t)
	srv := httptest.NewServer(a.routes())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/scans/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	post, err := http.Post(srv.URL+"/simulate?flush=true", "text/plain",
		strings.NewReader("0100681599063722<sep>10ABC"))
	require.NoError(t, err)
	post.Body.Close()
	require.Equal(t, http.StatusAccepted, post.StatusCode)

	lines := bufio.NewScanner(resp.Body)
	var data string
	for lines.Scan() {
		if rest, ok := strings.CutPrefix(lines.Text(), "data: "); ok {
			data = rest
			break
		}
	}
	require.NotEmpty(t, data, "no scan event received")

	require.NoError(t, schemavalidation.ValidateScanEvents([]byte(data)))
	var res scanner.Result
	require.NoError(t, json.Unmarshal([]byte(data), &res))
	assert.Equal(t, "0100681599063722<sep>10ABC", res.Scanned)
	require.True(t, res.Parsed.IsStructured())
	assert.Equal(t, "(01)00681599063722(10)ABC", res.Parsed.Structured.GS1)
}

func TestWebSocketStream(t *testing.T) {
	a, _ := newTestAPI(t)
	srv := httptest.NewServer(a.routes())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/scans/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	// Simulate once the subscription is live.
	require.Eventually(t, func() bool { return a.metrics.Subscribers.Value() == 1 }, 2*time.Second, 5*time.Millisecond)

	post, err := http.Post(srv.URL+"/simulate?flush=true", "text/plain", strings.NewReader("HELLO"))
	require.NoError(t, err)
	post.Body.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var res scanner.Result
	require.NoError(t, conn.ReadJSON(&res))
	assert.Equal(t, "HELLO", res.Scanned)
	assert.Equal(t, "HELLO", res.Parsed.Linear)
	assert.False(t, res.Parsed.IsStructured())

	a.classifier.Close()
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestSwapDecoder(t *testing.T) {
	s := newSwapDecoder(decode.Basic{})
	assert.Nil(t, s.Decode(""))
	assert.False(t, s.Decode("0100681599063722").IsStructured())

	s.Set(gs1.NewDecoder())
	assert.True(t, s.Decode("0100681599063722").IsStructured())
}
