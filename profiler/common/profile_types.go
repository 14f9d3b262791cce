package common

type ProfileType string

const (
	ProfileTypeCPU  ProfileType = "cpu" // identical to the names used by runtime/pprof
	ProfileTypeHeap ProfileType = "heap"
)

var validProfileTypes = map[ProfileType]struct{}{
	ProfileTypeCPU: {}, ProfileTypeHeap: {},
}

// AllProfileTypes is the default set profiled when none is configured.
var AllProfileTypes = []ProfileType{ProfileTypeCPU, ProfileTypeHeap}

func (pt ProfileType) ToString() string {
	return string(pt)
}

// Units is the unit of sample values reported for pt.
func (pt ProfileType) Units() string {
	if pt == ProfileTypeHeap {
		return "bytes"
	}
	return "samples"
}

// AggregationType tells the server how to merge windows. Both types carry
// per-window deltas so they are summed.
func (pt ProfileType) AggregationType() string {
	return "sum"
}

func FromString(s string) (ProfileType, bool) {
	pt := ProfileType(s)
	if _, ok := validProfileTypes[pt]; ok {
		return pt, true
	}
	return "", false
}
