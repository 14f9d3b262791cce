package res_monitor

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"
)

const defaultHz = 100

type CPUMonitor struct {
	cpuLimit float64
	hz       float64 // clock ticks per second
	time     time.Time
	tick     int64
}

func NewCPUMonitor() *CPUMonitor {
	tick, t := getTicks(os.Getpid())
	return &CPUMonitor{
		cpuLimit: GetCPULimit(),
		hz:       float64(getHz()),
		tick:     tick,
		time:     t,
	}
}

// GetCPURatio returns the share of the cpu limit used since the previous call.
func (m *CPUMonitor) GetCPURatio() float64 {
	newTick, newTime := getTicks(os.Getpid())
	return m.ratio(newTick, newTime)
}

func (m *CPUMonitor) ratio(newTick int64, newTime time.Time) float64 {
	et := newTime.Sub(m.time).Seconds()
	ticks := newTick - m.tick

	m.tick = newTick
	m.time = newTime

	if ticks <= 0 || et <= 0 || m.cpuLimit <= 0 {
		return 0
	}
	ticksAllCPUCore := m.cpuLimit * m.hz * et
	return math.Min(float64(ticks)/ticksAllCPUCore, 1)
}

// getTicks returns utime+stime (children included) of pid in clock ticks.
func getTicks(pid int) (int64, time.Time) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0, time.Time{}
	}
	return parseStatTicks(data), time.Now()
}

func parseStatTicks(data []byte) int64 {
	// the command name may contain spaces, fields are counted after it
	if i := bytes.LastIndexByte(data, ')'); i >= 0 {
		data = data[i+1:]
	}
	s := bytes.Fields(data)
	if len(s) < 15 {
		return 0
	}
	var sum int64
	for _, f := range s[11:15] {
		v, _ := strconv.ParseInt(string(f), 10, 64)
		sum += v
	}
	return sum
}

// GetCPULimit returns the cores the process can use: the cgroup quota when one
// is set, capped by GOMAXPROCS.
func GetCPULimit() float64 {
	limit := float64(runtime.NumCPU())
	if q := cpuQuota(cgroupRoot); q > 0 {
		limit = q
	}
	return math.Min(limit, float64(runtime.GOMAXPROCS(0)))
}

func getHz() int64 {
	clkTck, err := exec.Command("getconf", "CLK_TCK").Output()
	if err != nil {
		return defaultHz
	}
	if hz, err := strconv.ParseInt(strings.TrimSpace(string(clkTck)), 10, 64); err == nil && hz != 0 {
		return hz
	}
	return defaultHz
}
