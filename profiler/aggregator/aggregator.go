// Package aggregator folds samples of one ProfileType into per-window profiles.
package aggregator

import (
	"strings"
	"sync"
	"time"

	"github.com/pushprof/agent-go/profiler/common"
	"github.com/pushprof/agent-go/profiler/utils"
)

// Intake is the push side of the aggregator as seen by the sampler.
type Intake interface {
	Ingest(common.Sample)
}

var frameReplacer = strings.NewReplacer(";", ":", "\n", " ", "\r", " ")

// Aggregator owns the mapping of the open window. Ingest and Flush serialize
// on one mutex, so a sample is always counted in exactly one window.
type Aggregator struct {
	profileType common.ProfileType
	clock       utils.Clock

	mu          sync.Mutex
	start       time.Time
	last        time.Time // latest sample timestamp accepted in the open window
	stacks      map[string]int64
	sampleCount int64
}

func New(pt common.ProfileType, clock utils.Clock) *Aggregator {
	if clock == nil {
		clock = utils.RealClock{}
	}
	return &Aggregator{
		profileType: pt,
		clock:       clock,
		start:       clock.Now(),
		stacks:      make(map[string]int64),
	}
}

// Ingest adds the sample's value to its folded stack. Empty stacks and
// non-positive values carry nothing and are dropped.
func (a *Aggregator) Ingest(s common.Sample) {
	if len(s.Stack) == 0 || s.Value <= 0 {
		return
	}
	key := Fold(s.Stack)

	a.mu.Lock()
	defer a.mu.Unlock()

	ts := s.Timestamp
	if ts.IsZero() || ts.Before(a.start) {
		// captured before the previous window was handed off
		ts = a.start
	}
	if ts.After(a.last) {
		a.last = ts
	}
	a.stacks[key] += s.Value
	a.sampleCount++
}

// Flush closes the open window and returns it. An empty window is still a
// valid profile. The next window starts where this one ended.
func (a *Aggregator) Flush() *common.Profile {
	fresh := make(map[string]int64, 0)

	a.mu.Lock()
	defer a.mu.Unlock()

	end := a.clock.Now()
	if !a.last.IsZero() && !a.last.Before(end) {
		end = a.last.Add(time.Nanosecond)
	}
	if !end.After(a.start) {
		end = a.start.Add(time.Nanosecond)
	}
	p := &common.Profile{
		Type:        a.profileType,
		Start:       a.start,
		End:         end,
		Stacks:      a.stacks,
		SampleCount: a.sampleCount,
	}
	a.stacks = fresh
	a.sampleCount = 0
	a.start = end
	a.last = time.Time{}
	return p
}

// WindowStart returns the start of the open window.
func (a *Aggregator) WindowStart() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.start
}

// Fold joins frames root first with ';'. Separator and line breaks inside a
// frame name are replaced so a folded line always parses back.
func Fold(stack []string) string {
	var b strings.Builder
	for i, f := range stack {
		if i > 0 {
			b.WriteByte(';')
		}
		if strings.ContainsAny(f, ";\n\r") {
			f = frameReplacer.Replace(f)
		}
		b.WriteString(f)
	}
	return b.String()
}
