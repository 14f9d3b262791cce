// Package sampler captures samples through a host Capability and pushes them
// into an aggregator intake.
package sampler

import (
	"fmt"
	"sync"

	"github.com/pushprof/agent-go/profiler/aggregator"
	"github.com/pushprof/agent-go/profiler/common"
	"github.com/pushprof/agent-go/profiler/logger"
	"github.com/pushprof/agent-go/profiler/utils"
)

type active struct {
	intake aggregator.Intake
	rate   int
}

// Sampler allows at most one active capture per ProfileType.
type Sampler struct {
	capability Capability
	clock      utils.Clock
	logger     logger.Logger

	mu     sync.RWMutex
	active map[common.ProfileType]*active
}

func New(c Capability, clock utils.Clock, l logger.Logger) *Sampler {
	if c == nil {
		c = NewRuntimeCapability()
	}
	if clock == nil {
		clock = utils.RealClock{}
	}
	if l == nil {
		l = &logger.NoopLogger{}
	}
	return &Sampler{
		capability: c,
		clock:      clock,
		logger:     l,
		active:     make(map[common.ProfileType]*active),
	}
}

// RateFromInterval converts a sampling interval into samples per second.
func RateFromInterval(intervalMicros int64) int {
	if intervalMicros <= 0 {
		return 0
	}
	rate := int(1000000 / intervalMicros)
	if rate < 1 {
		rate = 1
	}
	return rate
}

// Start begins capturing pt, one sample every intervalMicros, into intake.
func (s *Sampler) Start(pt common.ProfileType, intervalMicros int64, intake aggregator.Intake) error {
	if intake == nil {
		return common.WrapError(common.CodeInvalidConfig, "sampler intake", fmt.Errorf("nil intake for %s", pt))
	}
	if intervalMicros <= 0 {
		return common.WrapError(common.CodeInvalidConfig, "sampler interval", fmt.Errorf("interval %dus", intervalMicros))
	}
	if !s.capability.Supports(pt) {
		return common.WrapError(common.CodeCaptureUnavailable, "sampler start", fmt.Errorf("%s not supported by host runtime", pt))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[pt]; ok {
		return common.ErrAlreadyRunning
	}
	rate := RateFromInterval(intervalMicros)
	if err := s.capability.Begin(pt, rate); err != nil {
		return err
	}
	s.active[pt] = &active{intake: intake, rate: rate}
	s.logger.Info("[Sampler.Start] capturing %s at %d Hz", pt, rate)
	return nil
}

// Stop halts capturing pt and returns the samples still buffered by the
// capability. They are not pushed to the intake.
func (s *Sampler) Stop(pt common.ProfileType) ([]common.Sample, error) {
	s.mu.Lock()
	_, ok := s.active[pt]
	delete(s.active, pt)
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	samples, err := s.capability.End(pt)
	s.logger.Info("[Sampler.Stop] stopped %s. buffered=%d", pt, len(samples))
	return s.stamp(samples), err
}

// Capture records one sample inline and pushes it into the intake. It is a
// no-op when pt is not active.
func (s *Sampler) Capture(pt common.ProfileType, stack []string, value int64) {
	s.mu.RLock()
	a, ok := s.active[pt]
	s.mu.RUnlock()
	if !ok {
		return
	}
	a.intake.Ingest(common.Sample{Stack: stack, Value: value, Timestamp: s.clock.Now()})
}

// Poll drains samples buffered by the capability into the intake.
func (s *Sampler) Poll(pt common.ProfileType) error {
	s.mu.RLock()
	a, ok := s.active[pt]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	samples, err := s.capability.Collect(pt)
	if err != nil {
		return fmt.Errorf("collect %s: %w", pt, err)
	}
	for _, sample := range s.stamp(samples) {
		a.intake.Ingest(sample)
	}
	return nil
}

// Rate returns the sampling rate of pt in Hz, 0 when not active.
func (s *Sampler) Rate(pt common.ProfileType) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.active[pt]; ok {
		return a.rate
	}
	return 0
}

func (s *Sampler) Active(pt common.ProfileType) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.active[pt]
	return ok
}

func (s *Sampler) stamp(samples []common.Sample) []common.Sample {
	if len(samples) == 0 {
		return samples
	}
	now := s.clock.Now()
	out := make([]common.Sample, len(samples))
	for i, sample := range samples {
		if sample.Timestamp.IsZero() {
			sample.Timestamp = now
		}
		out[i] = sample
	}
	return out
}
