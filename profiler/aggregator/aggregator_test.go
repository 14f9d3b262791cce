package aggregator

import (
	"bytes"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushprof/agent-go/profiler/common"
	"github.com/pushprof/agent-go/profiler/internal/testutil"
)

var t0 = time.Unix(1700000000, 0)

func sample(clock *testutil.FakeClock, value int64, stack ...string) common.Sample {
	return common.Sample{Stack: stack, Value: value, Timestamp: clock.Now()}
}

func TestAggregator_FlushSumsIdenticalStacks(t *testing.T) {
	clock := testutil.NewFakeClock(t0)
	a := New(common.ProfileTypeCPU, clock)

	clock.Advance(time.Second)
	a.Ingest(sample(clock, 5, "a", "b"))
	a.Ingest(sample(clock, 3, "a", "b"))
	a.Ingest(sample(clock, 2, "c"))
	clock.Advance(time.Second)

	p := a.Flush()
	require.NotNil(t, p)
	assert.Equal(t, map[string]int64{"a;b": 8, "c": 2}, p.Stacks)
	assert.Equal(t, int64(3), p.SampleCount)
	assert.Equal(t, int64(10), p.Total())
	assert.Equal(t, common.ProfileTypeCPU, p.Type)
	assert.Equal(t, t0, p.Start)
	assert.Equal(t, t0.Add(2*time.Second), p.End)
}

func TestAggregator_EmptyFlush(t *testing.T) {
	clock := testutil.NewFakeClock(t0)
	a := New(common.ProfileTypeHeap, clock)
	clock.Advance(10 * time.Second)

	p := a.Flush()
	require.NotNil(t, p)
	assert.True(t, p.Empty())
	assert.NotNil(t, p.Stacks)
	assert.Equal(t, t0, p.Start)
	assert.Equal(t, t0.Add(10*time.Second), p.End)

	buf := &bytes.Buffer{}
	require.NoError(t, p.WriteFolded(buf))
	assert.Empty(t, buf.String())
}

func TestAggregator_ExactlyOnceAcrossFlushes(t *testing.T) {
	clock := testutil.NewFakeClock(t0)
	a := New(common.ProfileTypeCPU, clock)

	a.Ingest(sample(clock, 1, "main", "fib"))
	clock.Advance(time.Second)
	first := a.Flush()

	a.Ingest(sample(clock, 4, "main", "fib"))
	clock.Advance(time.Second)
	second := a.Flush()

	assert.Equal(t, int64(1), first.Stacks["main;fib"])
	assert.Equal(t, int64(4), second.Stacks["main;fib"])
	assert.Equal(t, first.End, second.Start, "windows are contiguous")

	// the first profile is not touched by later ingestion
	a.Ingest(sample(clock, 100, "main", "fib"))
	assert.Equal(t, int64(1), first.Stacks["main;fib"])
}

func TestAggregator_TimestampsInsideWindow(t *testing.T) {
	clock := testutil.NewFakeClock(t0)
	a := New(common.ProfileTypeCPU, clock)

	// captured at the exact flush instant
	clock.Advance(time.Second)
	a.Ingest(sample(clock, 1, "x"))
	p := a.Flush()
	assert.True(t, p.End.After(t0.Add(time.Second)))

	// captured before the open window started
	late := common.Sample{Stack: []string{"y"}, Value: 2, Timestamp: t0}
	a.Ingest(late)
	clock.Advance(time.Second)
	next := a.Flush()
	assert.Equal(t, int64(2), next.Stacks["y"])
	assert.Equal(t, p.End, next.Start)
	assert.True(t, next.End.After(next.Start))
}

func TestAggregator_IgnoresEmptyAndNonPositive(t *testing.T) {
	a := New(common.ProfileTypeCPU, testutil.NewFakeClock(t0))
	a.Ingest(common.Sample{Value: 3})
	a.Ingest(common.Sample{Stack: []string{"a"}, Value: 0})
	a.Ingest(common.Sample{Stack: []string{"a"}, Value: -1})
	assert.True(t, a.Flush().Empty())
}

func TestAggregator_DeterministicSerialization(t *testing.T) {
	samples := []common.Sample{
		{Stack: []string{"main", "run", "fib"}, Value: 7},
		{Stack: []string{"main", "gc"}, Value: 1},
		{Stack: []string{"main", "run"}, Value: 2},
		{Stack: []string{"main", "run", "fib"}, Value: 3},
		{Stack: []string{"a;b", "c\nd"}, Value: 1},
	}
	render := func(order []int) string {
		a := New(common.ProfileTypeCPU, testutil.NewFakeClock(t0))
		for _, i := range order {
			a.Ingest(samples[i])
		}
		buf := &bytes.Buffer{}
		require.NoError(t, a.Flush().WriteFolded(buf))
		return buf.String()
	}

	want := "a:b;c d 1\nmain;gc 1\nmain;run 2\nmain;run;fib 10\n"
	assert.Equal(t, want, render([]int{0, 1, 2, 3, 4}))

	r := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		assert.Equal(t, want, render(r.Perm(len(samples))))
	}
}

func TestAggregator_ConcurrentIngestAndFlush(t *testing.T) {
	a := New(common.ProfileTypeCPU, nil)
	const writers, perWriter = 8, 2000

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				a.Ingest(common.Sample{Stack: []string{"main", "work"}, Value: 1, Timestamp: time.Now()})
			}
		}()
	}

	var total int64
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for {
		select {
		case <-done:
			total += a.Flush().Total()
			assert.Equal(t, int64(writers*perWriter), total)
			return
		default:
			total += a.Flush().Total()
		}
	}
}

func TestFold(t *testing.T) {
	assert.Equal(t, "a;b;c", Fold([]string{"a", "b", "c"}))
	assert.Equal(t, "single", Fold([]string{"single"}))
	assert.Equal(t, "pkg.(*T).M:x;y", Fold([]string{"pkg.(*T).M;x", "y"}))
}
