// Package res_monitor samples the resource usage of the profiled process and
// reports it as agent gauges.
package res_monitor

import (
	"runtime"
	"sync"
	"time"

	"github.com/pushprof/agent-go/metrics"
	"github.com/pushprof/agent-go/profiler/logger"
)

const (
	compareCount            = 5
	reserveCount            = 12
	resourceCheckPeriodTime = 10 * time.Second
)

// Snapshot holds the latest values. Ratios are decimals, not percents. Deltas
// compare the current value with the average of the previous compareCount
// checks and stay 0 until reserveCount checks have been made.
type Snapshot struct {
	CPURatio     float64
	MemRatio     float64
	GoroutineNum float64

	CPURatioDelta     float64
	MemRatioDelta     float64
	GoroutineNumDelta float64
}

type Option func(*Monitor)

func WithPeriod(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.period = d
		}
	}
}

func WithMetrics(e metrics.Emitter) Option {
	return func(m *Monitor) {
		if e != nil {
			m.metrics = e
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

type Monitor struct {
	cpu        func() float64
	mem        func() float64
	goroutines func() float64

	period  time.Duration
	metrics metrics.Emitter
	logger  logger.Logger

	l        sync.RWMutex
	cnt      int
	current  Snapshot
	previous [3][reserveCount]float64 // cpu, mem, goroutines; newest first

	closeChan chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewMonitor(opts ...Option) *Monitor {
	cpuMonitor, memMonitor := NewCPUMonitor(), NewMemMonitor()
	m := &Monitor{
		cpu:        cpuMonitor.GetCPURatio,
		mem:        memMonitor.GetMemRatio,
		goroutines: func() float64 { return float64(runtime.NumGoroutine()) },
		period:     resourceCheckPeriodTime,
		metrics:    metrics.NoopEmitter{},
		logger:     &logger.NoopLogger{},
		closeChan:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (r *Monitor) Start() {
	r.update()
	r.wg.Add(1)
	go func() {
		tc := time.NewTicker(r.period)
		defer func() {
			tc.Stop()
			r.wg.Done()
		}()
		for {
			select {
			case <-tc.C:
				r.update()
			case <-r.closeChan:
				return
			}
		}
	}()
}

func (r *Monitor) Stop() {
	r.closeOnce.Do(func() { close(r.closeChan) })
	r.wg.Wait()
}

func (r *Monitor) Snapshot() Snapshot {
	r.l.RLock()
	defer r.l.RUnlock()
	return r.current
}

func (r *Monitor) update() {
	cur := [3]float64{r.cpu(), r.mem(), r.goroutines()}

	r.l.Lock()
	r.cnt++
	s := Snapshot{CPURatio: cur[0], MemRatio: cur[1], GoroutineNum: cur[2]}
	if r.cnt > reserveCount { // cold start
		s.CPURatioDelta = calDelta(cur[0], r.previous[0][:compareCount])
		s.MemRatioDelta = calDelta(cur[1], r.previous[1][:compareCount])
		s.GoroutineNumDelta = calDelta(cur[2], r.previous[2][:compareCount])
	}
	for i := range r.previous {
		copy(r.previous[i][1:], r.previous[i][:reserveCount-1])
		r.previous[i][0] = cur[i]
	}
	r.current = s
	r.l.Unlock()

	_ = r.metrics.EmitGauge("process.cpu_ratio", s.CPURatio, nil)
	_ = r.metrics.EmitGauge("process.mem_ratio", s.MemRatio, nil)
	_ = r.metrics.EmitGauge("process.goroutines", s.GoroutineNum, nil)
	r.logger.Debug("[Monitor.update] snapshot=%+v", s)
}

func avg(fs []float64) float64 {
	if len(fs) == 0 {
		return 0
	}
	sum := float64(0)
	for _, pre := range fs {
		sum += pre
	}
	return sum / float64(len(fs))
}

func calDelta(cur float64, preList []float64) float64 {
	preAvg := avg(preList)
	if preAvg == 0 { // collection failed
		return 0
	}
	return (cur - preAvg) / preAvg
}
