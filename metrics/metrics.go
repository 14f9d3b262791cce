// Package metrics emits agent self-telemetry (counters, timers and gauges) as
// binary datagrams over a unix socket.
package metrics

import (
	"time"

	"github.com/pushprof/agent-go/profiler/logger"
)

const (
	asyncChannelSize     = 64
	asyncWorkerNumber    = 1
	batchSize            = 64
	maxPacketSize        = 8192
	defaultFlushInterval = time.Second

	EnvAddress = "PUSHPROF_METRICS_SOCK"
)

// Emitter is what the agent components report to.
type Emitter interface {
	EmitCounter(name string, value float64, tags map[string]string) error
	EmitTimer(name string, value float64, tags map[string]string) error
	EmitGauge(name string, value float64, tags map[string]string) error
}

type NoopEmitter struct{}

func (NoopEmitter) EmitCounter(string, float64, map[string]string) error { return nil }
func (NoopEmitter) EmitTimer(string, float64, map[string]string) error   { return nil }
func (NoopEmitter) EmitGauge(string, float64, map[string]string) error   { return nil }

type Config struct {
	prefix        string
	address       string
	flushInterval time.Duration
	commonTags    map[string]string
	logger        logger.Logger
}

type ClientOption func(config *Config)

func WithPrefix(prefix string) ClientOption {
	return func(config *Config) {
		config.prefix = prefix
	}
}

func WithAddress(address string) ClientOption {
	return func(config *Config) {
		config.address = address
	}
}

func WithFlushInterval(d time.Duration) ClientOption {
	return func(config *Config) {
		if d > 0 {
			config.flushInterval = d
		}
	}
}

// WithCommonTags adds tags to every emitted item. Tags given at emit time win.
func WithCommonTags(tags map[string]string) ClientOption {
	return func(config *Config) {
		config.commonTags = tags
	}
}

func WithLogger(l logger.Logger) ClientOption {
	return func(config *Config) {
		config.logger = l
	}
}
