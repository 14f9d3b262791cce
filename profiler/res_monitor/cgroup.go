package res_monitor

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// cgroup v1 and v2 layouts are both probed, v2 first.
const (
	cgroupRoot = "/sys/fs/cgroup"

	cpuV2File          = "cpu.max"
	cpuV1Dir           = "cpu,cpuacct"
	cpuCFSPeriodUsFile = "cpu.cfs_period_us"
	cpuCFSQuotaUsFile  = "cpu.cfs_quota_us"

	memV2File = "memory.max"
	memV1Dir  = "memory"
	memV1File = "memory.limit_in_bytes"
)

// cpuQuota returns the cpu cores granted by the cgroup under root, 0 if unlimited.
func cpuQuota(root string) float64 {
	if line := readFirstLine(filepath.Join(root, cpuV2File)); line != "" {
		fields := strings.Fields(line)
		if len(fields) != 2 || fields[0] == "max" {
			return 0
		}
		quota, err1 := strconv.ParseFloat(fields[0], 64)
		period, err2 := strconv.ParseFloat(fields[1], 64)
		if err1 != nil || err2 != nil || quota <= 0 || period <= 0 {
			return 0
		}
		return quota / period
	}

	period, err := strconv.ParseInt(readFirstLine(filepath.Join(root, cpuV1Dir, cpuCFSPeriodUsFile)), 10, 64)
	if err != nil || period <= 0 {
		return 0
	}
	quota, err := strconv.ParseInt(readFirstLine(filepath.Join(root, cpuV1Dir, cpuCFSQuotaUsFile)), 10, 64)
	if err != nil || quota <= 0 { // -1 means unlimited
		return 0
	}
	return float64(quota) / float64(period)
}

// memLimit returns the memory limit in bytes of the cgroup under root, 0 if unlimited.
func memLimit(root string) int64 {
	if line := readFirstLine(filepath.Join(root, memV2File)); line != "" {
		if line == "max" {
			return 0
		}
		v, err := strconv.ParseInt(line, 10, 64)
		if err != nil || v <= 0 {
			return 0
		}
		return v
	}
	v, err := strconv.ParseInt(readFirstLine(filepath.Join(root, memV1Dir, memV1File)), 10, 64)
	if err != nil || v <= 0 {
		return 0
	}
	return v
}

func readFirstLine(path string) string {
	file, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text())
	}
	return ""
}
