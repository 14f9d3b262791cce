package profiler

import (
	"os"
	"runtime"
	"strconv"

	"github.com/pushprof/agent-go/profiler/res_monitor"
	"github.com/pushprof/agent-go/profiler/uploader"
	"github.com/pushprof/agent-go/profiler/utils"
)

// RuntimeInfo describes the profiled process. It is logged on start.
func RuntimeInfo() map[string]string {
	return map[string]string{
		"go_os":       runtime.GOOS,
		"go_arch":     runtime.GOARCH,
		"go_version":  runtime.Version(),
		"compiler":    runtime.Compiler,
		"cpu_num":     strconv.Itoa(runtime.NumCPU()),
		"cpu_limit":   strconv.FormatFloat(res_monitor.GetCPULimit(), 'f', 2, 64),
		"sdk_version": uploader.Version,
		"host":        utils.GetHostname(),
		"instance_id": utils.GetInstanceID(),
		"pid":         strconv.Itoa(os.Getpid()),
	}
}
