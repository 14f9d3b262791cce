package sampler

import (
	"bytes"
	"errors"
	"fmt"
	"runtime"
	"runtime/pprof"
	"sync"

	"github.com/google/pprof/profile"

	"github.com/pushprof/agent-go/profiler/common"
)

const defaultCPURate = 100 // runtime/pprof default

var ErrorUnknownProfile = errors.New("unknown profile")

// RuntimeCapability samples the Go runtime. CPU samples come from the runtime
// CPU profiler, restarted on every Collect; heap samples are the growth of
// alloc_space between two collections.
type RuntimeCapability struct {
	mu sync.Mutex

	cpuBuf     *bytes.Buffer
	cpuRunning bool
	cpuRate    int

	heapPrevious *profile.Profile
	heapRunning  bool
}

func NewRuntimeCapability() *RuntimeCapability {
	return &RuntimeCapability{}
}

func (c *RuntimeCapability) Supports(pt common.ProfileType) bool {
	switch pt {
	case common.ProfileTypeCPU:
		return true
	case common.ProfileTypeHeap:
		return pprof.Lookup(pt.ToString()) != nil
	}
	return false
}

func (c *RuntimeCapability) Begin(pt common.ProfileType, rate int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch pt {
	case common.ProfileTypeCPU:
		if c.cpuRunning {
			return common.ErrAlreadyRunning
		}
		c.cpuRate = rate
		if err := c.startCPU(); err != nil {
			return common.WrapError(common.CodeCaptureUnavailable, "start cpu profile", err)
		}
		return nil
	case common.ProfileTypeHeap:
		if c.heapRunning {
			return common.ErrAlreadyRunning
		}
		base, err := lookupProfile(pt.ToString())
		if err != nil {
			return common.WrapError(common.CodeCaptureUnavailable, "read heap profile", err)
		}
		c.heapPrevious = base
		c.heapRunning = true
		return nil
	}
	return common.WrapError(common.CodeCaptureUnavailable, fmt.Sprintf("profile type %q", pt), ErrorUnknownProfile)
}

func (c *RuntimeCapability) Collect(pt common.ProfileType) ([]common.Sample, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch pt {
	case common.ProfileTypeCPU:
		return c.collectCPU(true)
	case common.ProfileTypeHeap:
		return c.collectHeap()
	}
	return nil, ErrorUnknownProfile
}

func (c *RuntimeCapability) End(pt common.ProfileType) ([]common.Sample, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch pt {
	case common.ProfileTypeCPU:
		return c.collectCPU(false)
	case common.ProfileTypeHeap:
		samples, err := c.collectHeap()
		c.heapRunning = false
		c.heapPrevious = nil
		return samples, err
	}
	return nil, ErrorUnknownProfile
}

// collectCPU stops the running CPU profile, optionally starting the next one
// right away, and converts what was recorded.
func (c *RuntimeCapability) collectCPU(restart bool) ([]common.Sample, error) {
	if !c.cpuRunning {
		return nil, nil
	}
	pprof.StopCPUProfile()
	c.cpuRunning = false
	data := c.cpuBuf.Bytes()
	c.cpuBuf = nil

	if restart {
		if err := c.startCPU(); err != nil {
			return nil, common.WrapError(common.CodeCaptureUnavailable, "restart cpu profile", err)
		}
	}

	if len(data) == 0 {
		return nil, nil
	}
	p, err := profile.ParseData(data)
	if err != nil {
		return nil, err
	}
	return toSamples(p, "samples", "count"), nil
}

// startCPU starts a CPU profile at c.cpuRate. StopCPUProfile resets the
// runtime rate, so it is set again before every start. The runtime prints a
// warning about it to stderr, which is expected.
func (c *RuntimeCapability) startCPU() error {
	if c.cpuRate > 0 && c.cpuRate != defaultCPURate {
		runtime.SetCPUProfileRate(c.cpuRate)
	}
	buf := bytes.NewBuffer(nil)
	if err := pprof.StartCPUProfile(buf); err != nil {
		return err
	}
	c.cpuBuf = buf
	c.cpuRunning = true
	return nil
}

func (c *RuntimeCapability) collectHeap() ([]common.Sample, error) {
	if !c.heapRunning {
		return nil, nil
	}
	cur, err := lookupProfile(common.ProfileTypeHeap.ToString())
	if err != nil {
		return nil, err
	}
	pre := c.heapPrevious
	c.heapPrevious = cur

	delta, err := calculateDelta(pre, cur)
	if err != nil || delta == nil {
		return nil, err
	}
	return toSamples(delta, "alloc_space", "bytes"), nil
}

func lookupProfile(name string) (*profile.Profile, error) {
	p := pprof.Lookup(name)
	if p == nil {
		return nil, ErrorUnknownProfile
	}
	buf := bytes.NewBuffer(nil)
	if err := p.WriteTo(buf, 0); err != nil {
		return nil, err
	}
	return profile.ParseData(buf.Bytes())
}

// calculateDelta returns cur - pre. profile.Merge computes cur + pre*ratio, so
// scaling pre by -1 leaves the growth between the two.
func calculateDelta(pre, cur *profile.Profile) (*profile.Profile, error) {
	if pre == nil || cur == nil {
		return cur, nil
	}
	pre = pre.Copy()
	ratios := make([]float64, len(pre.SampleType))
	for i := range ratios {
		ratios[i] = -1
	}
	if err := pre.ScaleN(ratios); err != nil {
		return nil, err
	}
	delta, err := profile.Merge([]*profile.Profile{pre, cur})
	if err != nil {
		return nil, err
	}
	delta.TimeNanos = cur.TimeNanos
	delta.DurationNanos = cur.TimeNanos - pre.TimeNanos
	return delta, nil
}

// toSamples converts a pprof profile into root-first samples, taking the
// value of the sample type named typ/unit. Positive values only. Timestamps are
// left for the Sampler to stamp.
func toSamples(p *profile.Profile, typ, unit string) []common.Sample {
	idx := -1
	for i, st := range p.SampleType {
		if st.Type == typ && st.Unit == unit {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	samples := make([]common.Sample, 0, len(p.Sample))
	for _, s := range p.Sample {
		if idx >= len(s.Value) || s.Value[idx] <= 0 {
			continue
		}
		stack := make([]string, 0, len(s.Location))
		// locations are leaf first; lines of one location are inlined callee first
		for i := len(s.Location) - 1; i >= 0; i-- {
			loc := s.Location[i]
			if len(loc.Line) == 0 {
				stack = append(stack, fmt.Sprintf("0x%x", loc.Address))
				continue
			}
			for j := len(loc.Line) - 1; j >= 0; j-- {
				if fn := loc.Line[j].Function; fn != nil {
					stack = append(stack, fn.Name)
				}
			}
		}
		if len(stack) == 0 {
			continue
		}
		samples = append(samples, common.Sample{Stack: stack, Value: s.Value[idx]})
	}
	return samples
}
