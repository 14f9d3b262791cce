// Package session runs the profiling lifecycle of a single ProfileType.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pushprof/agent-go/metrics"
	"github.com/pushprof/agent-go/profiler/aggregator"
	"github.com/pushprof/agent-go/profiler/common"
	"github.com/pushprof/agent-go/profiler/logger"
	"github.com/pushprof/agent-go/profiler/sampler"
	"github.com/pushprof/agent-go/profiler/uploader"
	"github.com/pushprof/agent-go/profiler/utils"
)

const (
	DefaultInterval        = 10 * time.Second
	DefaultSampleRate      = 100
	DefaultShutdownTimeout = 5 * time.Second
)

type Config struct {
	AppName         string
	ServerAddress   string
	ProfileType     common.ProfileType
	Interval        time.Duration
	SampleRate      int // Hz
	Tags            map[string]string
	ShutdownTimeout time.Duration // bounds the final upload on Stop
}

// Validate reports the first problem of c as ErrInvalidConfig.
func (c Config) Validate() error {
	if c.ServerAddress == "" {
		return common.NewError(common.CodeInvalidConfig, "server address is empty")
	}
	u, err := url.Parse(c.ServerAddress)
	if err != nil {
		return common.WrapError(common.CodeInvalidConfig, "server address", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return common.NewError(common.CodeInvalidConfig, fmt.Sprintf("server address %q must be an absolute url", c.ServerAddress))
	}
	if c.AppName == "" {
		return common.NewError(common.CodeInvalidConfig, "app name is empty")
	}
	if _, ok := common.FromString(c.ProfileType.ToString()); !ok {
		return common.NewError(common.CodeInvalidConfig, fmt.Sprintf("unknown profile type %q", c.ProfileType))
	}
	if c.Interval <= 0 {
		return common.NewError(common.CodeInvalidConfig, fmt.Sprintf("interval must be positive, got %s", c.Interval))
	}
	if c.SampleRate < 0 {
		return common.NewError(common.CodeInvalidConfig, fmt.Sprintf("sample rate must not be negative, got %d", c.SampleRate))
	}
	return nil
}

// Stats counts windows of the current and previous runs.
type Stats struct {
	Flushed   int64 // windows handed to the uploader
	Skipped   int64 // empty windows that were not uploaded
	Delivered int64
	Failed    int64
	Dropped   int64 // final windows not submitted because the previous upload outlived the shutdown timeout
}

// run holds what lives from one Start to the matching Stop.
type run struct {
	session *common.Session
	agg     *aggregator.Aggregator
	lane    *uploader.Lane
	cancel  context.CancelFunc
	done    chan struct{}
}

// Controller drives Sampler -> Aggregator -> Uploader for one ProfileType.
type Controller struct {
	cfg      Config
	sampler  *sampler.Sampler
	delivery uploader.Delivery
	clock    utils.Clock
	logger   logger.Logger
	metrics  metrics.Emitter

	state atomicState

	mu  sync.Mutex // serializes Start and Stop
	cur *run

	errMu sync.Mutex
	err   error

	flushed, skipped, delivered, failed, dropped int64
}

func NewController(cfg Config, s *sampler.Sampler, d uploader.Delivery, clock utils.Clock, l logger.Logger, m metrics.Emitter) *Controller {
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if clock == nil {
		clock = utils.RealClock{}
	}
	if l == nil {
		l = &logger.NoopLogger{}
	}
	if m == nil {
		m = metrics.NoopEmitter{}
	}
	if s == nil {
		s = sampler.New(nil, clock, l)
	}
	return &Controller{
		cfg:      cfg,
		sampler:  s,
		delivery: d,
		clock:    clock,
		logger:   l,
		metrics:  m,
	}
}

func (c *Controller) ProfileType() common.ProfileType {
	return c.cfg.ProfileType
}

func (c *Controller) State() State {
	return c.state.load()
}

// Err returns the error that ended the last run, nil if it was stopped normally.
func (c *Controller) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Controller) Stats() Stats {
	return Stats{
		Flushed:   atomic.LoadInt64(&c.flushed),
		Skipped:   atomic.LoadInt64(&c.skipped),
		Delivered: atomic.LoadInt64(&c.delivered),
		Failed:    atomic.LoadInt64(&c.failed),
		Dropped:   atomic.LoadInt64(&c.dropped),
	}
}

// Session returns the session of the current run, nil when Idle.
func (c *Controller) Session() *common.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return nil
	}
	return c.cur.session
}

// Start begins sampling and the periodic flush. It fails with ErrAlreadyRunning
// when a run is active and leaves that run untouched.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cur != nil {
		return common.WrapError(common.CodeAlreadyRunning, "session start", fmt.Errorf("%s is %s", c.cfg.ProfileType, c.State()))
	}
	if err := c.cfg.Validate(); err != nil {
		return err
	}
	if c.delivery == nil {
		return common.NewError(common.CodeInvalidConfig, "no delivery configured")
	}

	s := &common.Session{
		ID:            utils.NewRandID(),
		AppName:       c.cfg.AppName,
		ServerAddress: c.cfg.ServerAddress,
		ProfileType:   c.cfg.ProfileType,
		Interval:      c.cfg.Interval,
		SampleRate:    c.cfg.SampleRate,
		StartedAt:     c.clock.Now(),
		Tags:          c.cfg.Tags,
	}
	agg := aggregator.New(s.ProfileType, c.clock)
	if err := c.sampler.Start(s.ProfileType, int64(time.Second/time.Microsecond)/int64(s.SampleRate), agg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		session: s,
		agg:     agg,
		lane:    uploader.NewLane(context.Background(), c.delivery, c.onResult),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	c.cur = r
	c.setErr(nil)
	c.state.store(StateRunning)

	go c.loop(ctx, r, c.clock.NewTicker(s.Interval))
	c.logger.Info("[Session.Start] %s started. app=%s, session=%s, interval=%s", s.ProfileType, s.AppName, s.ID, s.Interval)
	return nil
}

func (c *Controller) loop(ctx context.Context, r *run, ticker utils.Ticker) {
	defer close(r.done)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C():
			if err := c.flush(ctx, r); err != nil {
				if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
					return
				}
				c.logger.Error("[Session.loop] %s sampling failed, stopping session. err=%v", r.session.ProfileType, err)
				c.setErr(err)
				go c.stopRun(context.Background(), r)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// flush closes the open window and hands it to the lane. The slot is taken
// before the window is closed, so a slow upload keeps samples in the aggregator
// instead of queueing windows. It returns ctx.Err() when ctx ends first.
func (c *Controller) flush(ctx context.Context, r *run) error {
	if err := r.lane.Acquire(ctx); err != nil {
		return err
	}
	if err := c.sampler.Poll(r.session.ProfileType); err != nil {
		r.lane.Release()
		return err
	}
	c.submit(r, r.agg.Flush())
	return nil
}

// submit uploads p on the lane slot held by the caller.
func (c *Controller) submit(r *run, p *common.Profile) {
	if p.Empty() {
		atomic.AddInt64(&c.skipped, 1)
		r.lane.Release()
		return
	}
	atomic.AddInt64(&c.flushed, 1)
	r.lane.Submit(&common.UploadTask{
		UploadID: utils.NewRandID(),
		Profile:  p,
		Session:  r.session,
	})
}

func (c *Controller) onResult(task *common.UploadTask, err error) {
	if err == nil {
		atomic.AddInt64(&c.delivered, 1)
		return
	}
	atomic.AddInt64(&c.failed, 1)
	c.logger.Error("[Session.onResult] window [%d, %d) of %s lost. code=%s, err=%v",
		task.Profile.Start.Unix(), task.Profile.End.Unix(), task.Profile.Type, common.ErrorCode(err), err)
}

// Stop ends the run: the timer is cancelled, buffered samples are drained into
// a final window, and Stop waits for it to be delivered for at most
// ShutdownTimeout. Stop on an Idle controller is a no-op.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	r := c.cur
	c.mu.Unlock()
	if r == nil {
		return nil
	}
	return c.stopRun(ctx, r)
}

func (c *Controller) stopRun(ctx context.Context, r *run) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur != r {
		return nil // already stopped
	}
	c.state.store(StateStopping)
	defer func() {
		c.cur = nil
		c.state.store(StateIdle)
	}()

	pt := r.session.ProfileType
	r.cancel()
	<-r.done

	samples, stopErr := c.sampler.Stop(pt)
	for _, s := range samples {
		r.agg.Ingest(s)
	}
	if stopErr != nil {
		c.logger.Error("[Session.Stop] %s: draining sampler failed. err=%v", pt, stopErr)
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.ShutdownTimeout)
	defer cancel()
	var err error
	if err = r.lane.Acquire(waitCtx); err != nil {
		atomic.AddInt64(&c.dropped, 1)
		c.logger.Error("[Session.Stop] %s: previous upload still running, final window dropped. err=%v", pt, err)
	} else {
		c.submit(r, r.agg.Flush())
		err = r.lane.Wait(waitCtx)
	}
	if err != nil {
		_ = c.metrics.EmitCounter("session.upload_abandoned", 1, map[string]string{"type": pt.ToString()})
		c.logger.Error("[Session.Stop] %s: upload abandoned after %s. err=%v", pt, c.cfg.ShutdownTimeout, err)
		err = common.WrapError(common.CodeDeliveryFailed, "final upload of "+pt.ToString(), err)
	}
	r.lane.Abandon()
	c.logger.Info("[Session.Stop] %s stopped. session=%s", pt, r.session.ID)
	return err
}

func (c *Controller) setErr(err error) {
	c.errMu.Lock()
	c.err = err
	c.errMu.Unlock()
}
