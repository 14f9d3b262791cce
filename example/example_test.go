package example

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/pushprof/agent-go/internal/ingest"
	"github.com/pushprof/agent-go/metrics"
	"github.com/pushprof/agent-go/profiler"
	"github.com/pushprof/agent-go/profiler/common"
	"github.com/pushprof/agent-go/profiler/logger"
)

func TestMetrics_WithNewClient(t *testing.T) {
	client := metrics.NewClient(metrics.WithPrefix("your metric common prefix"))
	client.Start()

	//without tags
	_ = client.EmitCounter("example_counter_metric", 1, nil)
	_ = client.EmitTimer("example_timer_metric", 1000, nil)
	_ = client.EmitGauge("example_gauge_metric", 100, nil)

	//with tags
	tags := map[string]string{
		"tagKey": "tagValue",
	}
	_ = client.EmitCounter("example_counter_metric", 1, tags)
	_ = client.EmitTimer("example_timer_metric", 1000, tags)
	_ = client.EmitGauge("example_gauge_metric", 100, tags)

	client.Close()
}

func TestProfiler_PushToIngester(t *testing.T) {
	store := ingest.NewMemoryStore()
	srv := httptest.NewServer(ingest.NewServer(store, ingest.ModeFast, 0, logrus.New()).Handler())
	defer srv.Close()

	log := logger.NewLogrus(logrus.New(), logrus.Fields{"example": t.Name()})
	cfg := profiler.DefaultConfig(srv.URL, "fibonacci-go-cpu-push")
	cfg.ProfileTypes = []common.ProfileType{common.ProfileTypeCPU}
	cfg.Interval = time.Second

	p, err := profiler.Start(cfg, profiler.WithLogger(log), profiler.WithGzip(true))
	require.NoError(t, err)

	deadline := time.Now().Add(1500 * time.Millisecond)
	for time.Now().Before(deadline) {
		fib(25)
	}
	require.NoError(t, p.Stop())
}

func fib(n int) int {
	if n < 2 {
		return n
	}
	return fib(n-1) + fib(n-2)
}
