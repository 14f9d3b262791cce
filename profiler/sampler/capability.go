package sampler

import (
	"github.com/pushprof/agent-go/profiler/common"
)

// Capability is the stack-sampling primitive provided by the host runtime.
// Implementations must be safe for use by one goroutine per ProfileType.
type Capability interface {
	Supports(pt common.ProfileType) bool
	// Begin starts capturing pt at rate samples per second. Rate is only a hint
	// for types that are not periodically sampled.
	Begin(pt common.ProfileType, rate int) error
	// Collect returns samples buffered since Begin or the previous Collect.
	Collect(pt common.ProfileType) ([]common.Sample, error)
	// End stops capturing and returns what is still buffered.
	End(pt common.ProfileType) ([]common.Sample, error)
}

// ManualCapability buffers nothing: every sample is pushed by the host through
// Sampler.Capture.
type ManualCapability struct{}

func (ManualCapability) Supports(common.ProfileType) bool { return true }

func (ManualCapability) Begin(common.ProfileType, int) error { return nil }

func (ManualCapability) Collect(common.ProfileType) ([]common.Sample, error) { return nil, nil }

func (ManualCapability) End(common.ProfileType) ([]common.Sample, error) { return nil, nil }
