package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"QuadExplore/internal/metrics"
	"QuadExplore/internal/model"
	"QuadExplore/internal/recorder"
)

type fakeRuntime struct {
	health  model.HealthReport
	snap    model.Snapshot
	pushed  []model.OperatorCommand
	pushErr error
}

func (f *fakeRuntime) Health() model.HealthReport { return f.health }
func (f *fakeRuntime) Snapshot() model.Snapshot { return f.snap }
func (f *fakeRuntime) PushOperator(c model.OperatorCommand) error {
	if f.pushErr != nil {
		return f.pushErr
	}
	f.pushed = append(f.pushed, c)
	return nil
}

func serve(t *testing.T, a *App, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestHealth(t *testing.T) {
	rt := &fakeRuntime{health: model.HealthReport{Overall: model.HealthDegraded, Threads: []model.ThreadHealth{{Name: "mapping", State: "stopped"}}}}
	a := NewApp(rt, nil, nil, nil)

	res := serve(t, a, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, res.Code)
	var h model.HealthReport
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &h))
	assert.Equal(t, model.HealthDegraded, h.Overall)
	assert.Equal(t, "mapping", h.Threads[0].Name)

	rt.health.Overall = model.HealthStopped
	assert.Equal(t, http.StatusServiceUnavailable, serve(t, a, http.MethodGet, "/api/health", "").Code)
}

func TestState(t *testing.T) {
	rt := &fakeRuntime{snap: model.Snapshot{ControlsClock: 42, Override: true}}
	res := serve(t, NewApp(rt, nil, nil, nil), http.MethodGet, "/api/state", "")
	require.Equal(t, http.StatusOK, res.Code)
	var s model.Snapshot
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &s))
	assert.Equal(t, uint64(42), s.ControlsClock)
	assert.True(t, s.Override)
}

func TestLatest(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, serve(t, NewApp(&fakeRuntime{}, nil, nil, nil), http.MethodGet, "/api/latest", "").Code)

	rec, err := recorder.Open(filepath.Join(t.TempDir(), "rec.db"))
	require.NoError(t, err)
	defer rec.Close()
	a := NewApp(&fakeRuntime{}, rec, nil, nil)
	assert.Equal(t, http.StatusNotFound, serve(t, a, http.MethodGet, "/api/latest", "").Code)

	require.NoError(t, rec.Record(recorder.BucketTelemetry, map[string]int{"seq": 7}))
	res := serve(t, a, http.MethodGet, "/api/latest", "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.JSONEq(t, `{"seq":7}`, res.Body.String())
	assert.NotEmpty(t, res.Header().Get("X-Recorded-At"))
}

func TestTeleop(t *testing.T) {
	rt := &fakeRuntime{}
	a := NewApp(rt, nil, nil, nil)

	res := serve(t, a, http.MethodPost, "/api/teleop", `{"active":true,"vx":0.5}`)
	assert.Equal(t, http.StatusAccepted, res.Code)
	require.Len(t, rt.pushed, 1)
	assert.True(t, rt.pushed[0].Active)
	assert.Equal(t, 0.5, rt.pushed[0].VX)
	assert.False(t, rt.pushed[0].Time.IsZero())

	assert.Equal(t, http.StatusBadRequest, serve(t, a, http.MethodPost, "/api/teleop", `{"active":`).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, serve(t, a, http.MethodGet, "/api/teleop", "").Code)

	rt.pushErr = errors.New("teleop source is not link")
	assert.Equal(t, http.StatusConflict, serve(t, a, http.MethodPost, "/api/teleop", `{"active":false}`).Code)
}

func TestMetricsRoute(t *testing.T) {
	reg := metrics.New()
	reg.Override(true)
	res := serve(t, NewApp(&fakeRuntime{}, nil, reg.Handler(), nil), http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), "quadexplore_override_active 1")
}

func TestStartWithEmptyAddrIsNoop(t *testing.T) {
	assert.NoError(t, NewApp(&fakeRuntime{}, nil, nil, nil).Start(""))
}

func TestStartAfterStopReturns(t *testing.T) {
	a := NewApp(&fakeRuntime{}, nil, nil, nil)
	a.Stop(context.Background())

	done := make(chan error, 1)
	go func() { done <- a.Start("127.0.0.1:0") }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Start kept serving after Stop")
	}
}
