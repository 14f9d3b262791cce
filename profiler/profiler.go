// Package profiler is the entry point of the agent: it owns one session per
// ProfileType and pushes their profiles to the ingestion server.
package profiler

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pushprof/agent-go/metrics"
	"github.com/pushprof/agent-go/profiler/common"
	"github.com/pushprof/agent-go/profiler/logger"
	"github.com/pushprof/agent-go/profiler/res_monitor"
	"github.com/pushprof/agent-go/profiler/sampler"
	"github.com/pushprof/agent-go/profiler/session"
	"github.com/pushprof/agent-go/profiler/uploader"
	"github.com/pushprof/agent-go/profiler/utils"
)

const metricsPrefix = "pushprof"

type Config struct {
	ServerAddress string
	AppName       string
	// ProfileTypes are started by Start when AutoStart is set. Others can still
	// be started with StartProfiling.
	ProfileTypes []common.ProfileType
	Interval     time.Duration
	SampleRate   int // Hz
	AutoStart    bool
	// MetricsAddress is a unix datagram socket receiving self-telemetry. Empty
	// disables it.
	MetricsAddress string
}

// DefaultConfig profiles cpu and heap every 10s and starts on Start.
func DefaultConfig(serverAddress, appName string) Config {
	return Config{
		ServerAddress: serverAddress,
		AppName:       appName,
		ProfileTypes:  append([]common.ProfileType(nil), common.AllProfileTypes...),
		Interval:      session.DefaultInterval,
		SampleRate:    session.DefaultSampleRate,
		AutoStart:     true,
	}
}

type Profiler struct {
	cfg    Config
	logger logger.Logger

	sampler  *sampler.Sampler
	sessions map[common.ProfileType]*session.Controller

	metrics     metrics.Emitter
	ownsMetrics *metrics.Client
	resMonitor  *res_monitor.Monitor

	signalOnce sync.Once
	stopOnce   sync.Once
	stopErr    error
}

// New validates cfg and prepares a session for every supported ProfileType
// without starting any of them. Self-telemetry starts right away; Stop
// releases it.
func New(cfg Config, opts ...Option) (*Profiler, error) {
	o := newDefaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if cfg.Interval == 0 {
		cfg.Interval = session.DefaultInterval
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = session.DefaultSampleRate
	}
	for _, pt := range cfg.ProfileTypes {
		if _, ok := common.FromString(pt.ToString()); !ok {
			return nil, common.NewError(common.CodeInvalidConfig, fmt.Sprintf("unknown profile type %q", pt))
		}
	}

	base := session.Config{
		AppName:       cfg.AppName,
		ServerAddress: cfg.ServerAddress,
		ProfileType:   common.ProfileTypeCPU,
		Interval:      cfg.Interval,
		SampleRate:    cfg.SampleRate,
	}
	if err := base.Validate(); err != nil {
		return nil, err
	}

	p := &Profiler{
		cfg:      cfg,
		logger:   o.logger,
		sessions: make(map[common.ProfileType]*session.Controller, len(common.AllProfileTypes)),
		metrics:  o.metrics,
	}
	if p.metrics == nil && cfg.MetricsAddress != "" {
		p.ownsMetrics = newMetricsClient(cfg, o.logger)
		p.metrics = p.ownsMetrics
		p.ownsMetrics.Start()
	}
	if p.metrics != nil {
		p.resMonitor = res_monitor.NewMonitor(res_monitor.WithMetrics(p.metrics), res_monitor.WithLogger(o.logger))
		p.resMonitor.Start()
	} else {
		p.metrics = metrics.NoopEmitter{}
	}

	capability := o.capability
	if capability == nil {
		capability = sampler.NewRuntimeCapability()
	}
	s := sampler.New(capability, o.clock, o.logger)
	p.sampler = s
	up := uploader.New(uploader.Config{
		Timeout:   o.uploadTimeout,
		Gzip:      o.gzip,
		AuthToken: o.authToken,
		Retry:     o.retry,
		Clock:     o.clock,
		Metrics:   p.metrics,
		Logger:    o.logger,
	})
	for _, pt := range common.AllProfileTypes {
		sc := base
		sc.ProfileType = pt
		sc.Tags = o.tags
		sc.ShutdownTimeout = o.shutdownTimeout
		p.sessions[pt] = session.NewController(sc, s, up, o.clock, o.logger, p.metrics)
	}

	o.logger.Info("[NewProfiler] init profiler success. config=%+v, runtime=%v", cfg, RuntimeInfo())
	return p, nil
}

// newMetricsClient sends self-telemetry to cfg.MetricsAddress, tagged with the
// app and the instance.
func newMetricsClient(cfg Config, l logger.Logger) *metrics.Client {
	return metrics.NewClient(
		metrics.WithAddress(cfg.MetricsAddress),
		metrics.WithPrefix(metricsPrefix),
		metrics.WithCommonTags(map[string]string{
			"app":      cfg.AppName,
			"host":     utils.GetHostname(),
			"instance": utils.GetInstanceID(),
		}),
		metrics.WithLogger(l),
	)
}

// Start creates a Profiler and, when cfg.AutoStart is set, starts every
// configured ProfileType.
func Start(cfg Config, opts ...Option) (*Profiler, error) {
	p, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	if !cfg.AutoStart {
		return p, nil
	}
	for _, pt := range cfg.ProfileTypes {
		if err := p.StartProfiling(pt); err != nil {
			_ = p.Stop()
			return nil, err
		}
	}
	return p, nil
}

func (p *Profiler) session(pt common.ProfileType) (*session.Controller, error) {
	c, ok := p.sessions[pt]
	if !ok {
		return nil, common.NewError(common.CodeInvalidConfig, fmt.Sprintf("unknown profile type %q", pt))
	}
	return c, nil
}

// StartProfiling starts the session of pt. It fails with ErrAlreadyRunning when
// the session is running.
func (p *Profiler) StartProfiling(pt common.ProfileType) error {
	c, err := p.session(pt)
	if err != nil {
		return err
	}
	return c.Start()
}

// StopProfiling stops the session of pt after its final upload. No-op when idle.
func (p *Profiler) StopProfiling(pt common.ProfileType) error {
	c, err := p.session(pt)
	if err != nil {
		return err
	}
	return c.Stop(context.Background())
}

// Capture records one sample of pt taken by the host. It is dropped when the
// session of pt is not running.
func (p *Profiler) Capture(pt common.ProfileType, stack []string, value int64) {
	p.sampler.Capture(pt, stack, value)
}

// State returns the session state of pt.
func (p *Profiler) State(pt common.ProfileType) session.State {
	if c, ok := p.sessions[pt]; ok {
		return c.State()
	}
	return session.StateIdle
}

// Err returns the error that ended the last run of pt, if any.
func (p *Profiler) Err(pt common.ProfileType) error {
	if c, ok := p.sessions[pt]; ok {
		return c.Err()
	}
	return nil
}

// Stop stops every session concurrently, each bounded by its shutdown timeout,
// then the self-telemetry. Only the first call does the work.
func (p *Profiler) Stop() error {
	p.stopOnce.Do(func() {
		p.logger.Info("Stopping profiler...")
		g := errgroup.Group{}
		for pt, c := range p.sessions {
			pt, c := pt, c
			g.Go(func() error {
				if err := c.Stop(context.Background()); err != nil {
					return fmt.Errorf("stop %s: %w", pt, err)
				}
				return nil
			})
		}
		p.stopErr = g.Wait()
		if p.resMonitor != nil {
			p.resMonitor.Stop()
		}
		if p.ownsMetrics != nil {
			p.ownsMetrics.Close()
		}
		p.logger.Info("profiler stopped")
	})
	return p.stopErr
}

// HandleSignals stops the profiler on SIGINT or SIGTERM, then restores the
// default handling and re-raises the signal so the process exits as it would
// have without the profiler.
func (p *Profiler) HandleSignals() {
	p.signalOnce.Do(func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			sig := <-ch
			p.logger.Info("[Profiler.HandleSignals] received %s, flushing sessions", sig)
			if err := p.Stop(); err != nil {
				p.logger.Error("[Profiler.HandleSignals] final flush failed. err=%v", err)
			}
			signal.Stop(ch)
			signal.Reset(sig)
			if proc, err := os.FindProcess(os.Getpid()); err == nil {
				_ = proc.Signal(sig)
			}
		}()
	})
}
