package metrics

import (
	"sync/atomic"

	"github.com/pushprof/agent-go/profiler/logger"
)

// reportEvery is how many flush ticks pass between two stats reports.
const reportEvery = 10

// clientStats counts what the client had to drop.
type clientStats struct {
	bufferFull  int64
	dialError   int64
	writeError  int64
	formatError int64
}

// drain returns the non-zero counters by name and resets them.
func (s *clientStats) drain() map[string]int64 {
	out := make(map[string]int64)
	for name, v := range map[string]*int64{
		"metric buffer full": &s.bufferFull,
		"sender dial error":  &s.dialError,
		"sender write error": &s.writeError,
		"format error":       &s.formatError,
	} {
		if n := atomic.SwapInt64(v, 0); n != 0 {
			out[name] = n
		}
	}
	return out
}

func (s *clientStats) report(l logger.Logger) {
	for name, n := range s.drain() {
		l.Error("[metrics] %s triggered %d times", name, n)
	}
}
