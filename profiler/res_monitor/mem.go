package res_monitor

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"strconv"
)

var pageSize = int64(os.Getpagesize())

const hostMeminfo = "/proc/meminfo"

type MemMonitor struct {
	memLimit int64
	memRss   int64
}

func NewMemMonitor() *MemMonitor {
	return &MemMonitor{memLimit: getMemLimit()}
}

// GetMemRatio returns rss over the memory limit.
func (m *MemMonitor) GetMemRatio() float64 {
	m.memRss = getRss(os.Getpid())
	if m.memLimit <= 0 || m.memRss <= 0 {
		return 0
	}
	return math.Min(float64(m.memRss)/float64(m.memLimit), 1)
}

func getRss(pid int) int64 {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/statm", pid))
	if err != nil {
		return 0
	}
	s := bytes.Fields(data)
	if len(s) < 2 {
		return 0
	}
	res, err := strconv.ParseInt(string(s[1]), 10, 64)
	if err != nil {
		return 0
	}
	return res * pageSize
}

func getMemLimit() int64 {
	host := parseMemTotal(readFile(hostMeminfo))
	if limit := memLimit(cgroupRoot); limit > 0 && (host == 0 || limit < host) {
		return limit
	}
	return host
}

// parseMemTotal returns MemTotal of a /proc/meminfo dump in bytes.
func parseMemTotal(data []byte) int64 {
	idx := bytes.Index(data, []byte("MemTotal"))
	if idx < 0 {
		return 0
	}
	fields := bytes.Fields(data[idx:])
	if len(fields) < 2 {
		return 0
	}
	kb, err := strconv.ParseInt(string(fields[1]), 10, 64)
	if err != nil {
		return 0
	}
	return kb * 1024
}

func readFile(path string) []byte {
	data, _ := os.ReadFile(path)
	return data
}
