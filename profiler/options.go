package profiler

import (
	"time"

	"github.com/pushprof/agent-go/metrics"
	"github.com/pushprof/agent-go/profiler/logger"
	"github.com/pushprof/agent-go/profiler/sampler"
	"github.com/pushprof/agent-go/profiler/uploader"
	"github.com/pushprof/agent-go/profiler/utils"
)

const (
	defaultUploadTimeout   = 10 * time.Second
	defaultShutdownTimeout = 5 * time.Second
)

type options struct {
	logger          logger.Logger
	uploadTimeout   time.Duration
	shutdownTimeout time.Duration
	retry           uploader.RetryPolicy
	gzip            bool
	authToken       string
	tags            map[string]string
	metrics         metrics.Emitter
	capability      sampler.Capability
	clock           utils.Clock
}

type Option func(*options)

func newDefaultOptions() *options {
	return &options{
		logger:          &logger.NoopLogger{},
		uploadTimeout:   defaultUploadTimeout,
		shutdownTimeout: defaultShutdownTimeout,
		retry:           uploader.DefaultRetryPolicy(),
		clock:           utils.RealClock{},
	}
}

// WithLogger set logger used in profiler
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithUploadTimeout bounds a single upload request.
func WithUploadTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.uploadTimeout = d
		}
	}
}

// WithShutdownTimeout bounds how long Stop waits for the final upload of each session.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.shutdownTimeout = d
		}
	}
}

func WithRetryPolicy(p uploader.RetryPolicy) Option {
	return func(o *options) {
		o.retry = p
	}
}

// WithGzip compresses request bodies.
func WithGzip(enabled bool) Option {
	return func(o *options) {
		o.gzip = enabled
	}
}

// WithAuthToken is sent as a bearer token with every upload.
func WithAuthToken(token string) Option {
	return func(o *options) {
		o.authToken = token
	}
}

// WithTags are appended to the application name as app{k=v,...}.
func WithTags(tags map[string]string) Option {
	return func(o *options) {
		o.tags = tags
	}
}

// WithMetrics reports agent self-telemetry to e and enables the resource monitor.
// It takes precedence over Config.MetricsAddress.
func WithMetrics(e metrics.Emitter) Option {
	return func(o *options) {
		o.metrics = e
	}
}

// WithCapability replaces the Go runtime as the source of samples.
func WithCapability(c sampler.Capability) Option {
	return func(o *options) {
		o.capability = c
	}
}

func WithClock(c utils.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}
