package profiler

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushprof/agent-go/profiler/common"
	"github.com/pushprof/agent-go/profiler/sampler"
	"github.com/pushprof/agent-go/profiler/session"
)

type ingested struct {
	name, from, until, body string
}

type ingestServer struct {
	*httptest.Server
	mu   sync.Mutex
	reqs []ingested
}

func newIngestServer() *ingestServer {
	s := &ingestServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		q := r.URL.Query()
		s.mu.Lock()
		s.reqs = append(s.reqs, ingested{q.Get("name"), q.Get("from"), q.Get("until"), string(b)})
		s.mu.Unlock()
	}))
	return s
}

func (s *ingestServer) received() []ingested {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ingested(nil), s.reqs...)
}

type counters struct {
	mu sync.Mutex
	m  map[string]float64
}

func (c *counters) EmitCounter(name string, v float64, _ map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m == nil {
		c.m = map[string]float64{}
	}
	c.m[name] += v
	return nil
}
func (c *counters) EmitTimer(string, float64, map[string]string) error { return nil }
func (c *counters) EmitGauge(string, float64, map[string]string) error { return nil }

func (c *counters) get(name string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m[name]
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(DefaultConfig("", "app"))
	assert.True(t, errors.Is(err, common.ErrInvalidConfig))

	_, err = New(DefaultConfig("http://127.0.0.1:4040", ""))
	assert.True(t, errors.Is(err, common.ErrInvalidConfig))

	cfg := DefaultConfig("http://127.0.0.1:4040", "app")
	cfg.ProfileTypes = []common.ProfileType{"goroutine"}
	_, err = New(cfg)
	assert.True(t, errors.Is(err, common.ErrInvalidConfig))
}

func TestStart_AutoStartAndStop(t *testing.T) {
	srv := newIngestServer()
	defer srv.Close()

	m := &counters{}
	cfg := DefaultConfig(srv.URL, "fibonacci-go-push")
	cfg.Interval = time.Hour
	p, err := Start(cfg, WithCapability(sampler.ManualCapability{}), WithMetrics(m), WithTags(map[string]string{"env": "bench"}))
	require.NoError(t, err)

	assert.Equal(t, session.StateRunning, p.State(common.ProfileTypeCPU))
	assert.Equal(t, session.StateRunning, p.State(common.ProfileTypeHeap))
	assert.True(t, errors.Is(p.StartProfiling(common.ProfileTypeCPU), common.ErrAlreadyRunning))

	p.Capture(common.ProfileTypeCPU, []string{"a", "b"}, 8)
	p.Capture(common.ProfileTypeCPU, []string{"c"}, 2)

	require.NoError(t, p.Stop())
	require.NoError(t, p.Stop())
	assert.Equal(t, session.StateIdle, p.State(common.ProfileTypeCPU))
	assert.Equal(t, session.StateIdle, p.State(common.ProfileTypeHeap))

	reqs := srv.received()
	require.Len(t, reqs, 1)
	assert.Equal(t, "fibonacci-go-push{env=bench}", reqs[0].name)
	assert.Equal(t, "a;b 8\nc 2\n", reqs[0].body)
	assert.LessOrEqual(t, reqs[0].from, reqs[0].until)
	assert.Equal(t, float64(1), m.get("upload.success"))
}

func TestStartProfiling_Manual(t *testing.T) {
	srv := newIngestServer()
	defer srv.Close()

	cfg := DefaultConfig(srv.URL, "fibonacci-go-heap-push")
	cfg.AutoStart = false
	p, err := Start(cfg, WithCapability(sampler.ManualCapability{}))
	require.NoError(t, err)
	assert.Equal(t, session.StateIdle, p.State(common.ProfileTypeHeap))

	require.NoError(t, p.StartProfiling(common.ProfileTypeHeap))
	p.Capture(common.ProfileTypeHeap, []string{"main", "alloc"}, 4096)
	p.Capture(common.ProfileTypeCPU, []string{"main"}, 1) // cpu is not running
	require.NoError(t, p.StopProfiling(common.ProfileTypeHeap))
	require.NoError(t, p.StopProfiling(common.ProfileTypeHeap))

	reqs := srv.received()
	require.Len(t, reqs, 1)
	assert.Equal(t, "main;alloc 4096\n", reqs[0].body)

	err = p.StartProfiling("block")
	assert.True(t, errors.Is(err, common.ErrInvalidConfig))
	assert.NoError(t, p.Stop())
}

func TestStop_ReportsDeliveryFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown app", http.StatusBadRequest)
	}))
	defer srv.Close()

	cfg := DefaultConfig(srv.URL, "app")
	cfg.ProfileTypes = []common.ProfileType{common.ProfileTypeCPU}
	p, err := Start(cfg, WithCapability(sampler.ManualCapability{}))
	require.NoError(t, err)
	p.Capture(common.ProfileTypeCPU, []string{"main"}, 1)

	// a rejected upload is logged, it does not fail the shutdown
	assert.NoError(t, p.Stop())
	assert.NoError(t, p.Err(common.ProfileTypeCPU))
}
