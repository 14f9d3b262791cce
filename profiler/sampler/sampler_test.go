package sampler

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushprof/agent-go/profiler/common"
	"github.com/pushprof/agent-go/profiler/internal/testutil"
)

type recordIntake struct {
	mu      sync.Mutex
	samples []common.Sample
}

func (r *recordIntake) Ingest(s common.Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, s)
}

func (r *recordIntake) all() []common.Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]common.Sample(nil), r.samples...)
}

type cannedCapability struct {
	supported  common.ProfileType
	collect    []common.Sample
	end        []common.Sample
	collectErr error
	begun      int
}

func (c *cannedCapability) Supports(pt common.ProfileType) bool { return pt == c.supported }

func (c *cannedCapability) Begin(common.ProfileType, int) error {
	c.begun++
	return nil
}

func (c *cannedCapability) Collect(common.ProfileType) ([]common.Sample, error) {
	out := c.collect
	c.collect = nil
	return out, c.collectErr
}

func (c *cannedCapability) End(common.ProfileType) ([]common.Sample, error) {
	return c.end, nil
}

var t0 = time.Unix(1700000000, 0)

func TestSampler_StartUnsupported(t *testing.T) {
	s := New(&cannedCapability{supported: common.ProfileTypeCPU}, nil, nil)
	err := s.Start(common.ProfileTypeHeap, 10000, &recordIntake{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrCaptureUnavailable))
	assert.False(t, s.Active(common.ProfileTypeHeap))
}

func TestSampler_StartTwice(t *testing.T) {
	c := &cannedCapability{supported: common.ProfileTypeCPU}
	s := New(c, nil, nil)
	require.NoError(t, s.Start(common.ProfileTypeCPU, 10000, &recordIntake{}))
	err := s.Start(common.ProfileTypeCPU, 10000, &recordIntake{})
	assert.True(t, errors.Is(err, common.ErrAlreadyRunning))
	assert.Equal(t, 1, c.begun)
	assert.Equal(t, 100, s.Rate(common.ProfileTypeCPU))
}

func TestSampler_StartInvalid(t *testing.T) {
	s := New(ManualCapability{}, nil, nil)
	assert.True(t, errors.Is(s.Start(common.ProfileTypeCPU, 0, &recordIntake{}), common.ErrInvalidConfig))
	assert.True(t, errors.Is(s.Start(common.ProfileTypeCPU, 100, nil), common.ErrInvalidConfig))
}

func TestSampler_CapturePushesToIntake(t *testing.T) {
	clock := testutil.NewFakeClock(t0)
	intake := &recordIntake{}
	s := New(ManualCapability{}, clock, nil)

	s.Capture(common.ProfileTypeCPU, []string{"ignored"}, 1) // not started yet
	require.NoError(t, s.Start(common.ProfileTypeCPU, 10000, intake))
	s.Capture(common.ProfileTypeCPU, []string{"main", "fib"}, 3)

	got := intake.all()
	require.Len(t, got, 1)
	assert.Equal(t, []string{"main", "fib"}, got[0].Stack)
	assert.Equal(t, int64(3), got[0].Value)
	assert.Equal(t, t0, got[0].Timestamp)
}

func TestSampler_PollAndStop(t *testing.T) {
	clock := testutil.NewFakeClock(t0)
	c := &cannedCapability{
		supported: common.ProfileTypeHeap,
		collect:   []common.Sample{{Stack: []string{"main", "alloc"}, Value: 512}},
		end:       []common.Sample{{Stack: []string{"main", "tail"}, Value: 64}},
	}
	intake := &recordIntake{}
	s := New(c, clock, nil)
	require.NoError(t, s.Start(common.ProfileTypeHeap, 10000, intake))

	require.NoError(t, s.Poll(common.ProfileTypeHeap))
	got := intake.all()
	require.Len(t, got, 1)
	assert.Equal(t, t0, got[0].Timestamp)

	buffered, err := s.Stop(common.ProfileTypeHeap)
	require.NoError(t, err)
	require.Len(t, buffered, 1)
	assert.Equal(t, int64(64), buffered[0].Value)
	assert.Len(t, intake.all(), 1, "stop does not push")
	assert.False(t, s.Active(common.ProfileTypeHeap))

	// idle
	buffered, err = s.Stop(common.ProfileTypeHeap)
	assert.NoError(t, err)
	assert.Nil(t, buffered)
	assert.NoError(t, s.Poll(common.ProfileTypeHeap))
}

func TestSampler_PollError(t *testing.T) {
	c := &cannedCapability{supported: common.ProfileTypeCPU, collectErr: errors.New("broken")}
	s := New(c, nil, nil)
	require.NoError(t, s.Start(common.ProfileTypeCPU, 10000, &recordIntake{}))
	assert.Error(t, s.Poll(common.ProfileTypeCPU))
}

func TestRateFromInterval(t *testing.T) {
	assert.Equal(t, 100, RateFromInterval(10000))
	assert.Equal(t, 1000, RateFromInterval(1000))
	assert.Equal(t, 1, RateFromInterval(5000000))
	assert.Equal(t, 0, RateFromInterval(0))
}
