// Command fibonacci is the benchmark workload: it computes fib(n) recursively,
// profiled and pushed to an ingester when PUSHPROF_BENCHMARK_ENABLE_PROFILING
// is set.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pushprof/agent-go/profiler"
	"github.com/pushprof/agent-go/profiler/common"
	"github.com/pushprof/agent-go/profiler/config"
	"github.com/pushprof/agent-go/profiler/logger"
)

const EnvEnableProfiling = "PUSHPROF_BENCHMARK_ENABLE_PROFILING"

var (
	n        int64
	server   string
	app      string
	types    string
	heapFlow bool
	cfgPath  string
)

var rootCmd = &cobra.Command{
	Use:   "fibonacci",
	Short: "Recursive fibonacci workload for agent benchmarks",
	Long: `fibonacci computes fib(--n) and prints it.

Profiling is enabled only when ` + EnvEnableProfiling + ` is not empty. --types
selects what is profiled ("all" for cpu and heap, or a comma separated list).
With --heap-flow the heap session is started and stopped around the workload
instead of being started with the profiler.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	flags := rootCmd.Flags()
	flags.Int64Var(&n, "n", 48, "fibonacci index")
	flags.StringVar(&server, "server", "http://ingester:4040", "ingestion server")
	flags.StringVar(&app, "app", "", "application name, fibonacci-go-<types>-push when empty")
	flags.StringVar(&types, "types", "all", `"all" or a comma separated list of cpu, heap`)
	flags.BoolVar(&heapFlow, "heap-flow", false, "start and stop heap profiling manually")
	flags.StringVar(&cfgPath, "config", "", "agent config file; replaces --server, --app and --types")
}

func fib(n int64) int64 {
	if n < 2 {
		return n
	}
	return fib(n-1) + fib(n-2)
}

func work() {
	fmt.Println(fib(n))
}

func parseTypes(s string) ([]common.ProfileType, error) {
	if s == "" || s == "all" {
		return append([]common.ProfileType(nil), common.AllProfileTypes...), nil
	}
	var out []common.ProfileType
	for _, name := range strings.Split(s, ",") {
		pt, ok := common.FromString(strings.TrimSpace(name))
		if !ok {
			return nil, fmt.Errorf("unknown profile type %q", name)
		}
		out = append(out, pt)
	}
	return out, nil
}

func run(cmd *cobra.Command, args []string) error {
	if os.Getenv(EnvEnableProfiling) == "" {
		work()
		return nil
	}

	p, log, err := startProfiler()
	if err != nil {
		return err
	}
	p.HandleSignals()

	if heapFlow {
		if err := p.StartProfiling(common.ProfileTypeHeap); err != nil {
			_ = p.Stop()
			return err
		}
	}
	work()
	if heapFlow {
		if err := p.StopProfiling(common.ProfileTypeHeap); err != nil {
			log.Error("stop heap profiling: %v", err)
		}
	}
	return p.Stop()
}

func startProfiler() (*profiler.Profiler, logger.Logger, error) {
	if cfgPath != "" {
		c, err := config.Load(cfgPath)
		if err != nil {
			return nil, nil, err
		}
		log := c.NewLogger()
		p, err := profiler.Start(fromFile(c, heapFlow), c.ProfilerOptions(log)...)
		return p, log, err
	}

	pts, err := parseTypes(types)
	if err != nil {
		return nil, nil, err
	}
	if app == "" {
		app = "fibonacci-go-" + types + "-push"
	}
	log := logger.NewLogrus(logrus.StandardLogger(), logrus.Fields{"app": app})

	cfg := profiler.DefaultConfig(server, app)
	cfg.ProfileTypes = pts
	if heapFlow {
		cfg.ProfileTypes = withoutHeap(pts)
	}
	p, err := profiler.Start(cfg, profiler.WithLogger(log))
	return p, log, err
}

// fromFile is the profiler config of c. With heapFlow, heap is left to the
// manual start/stop around the workload.
func fromFile(c *config.Config, heapFlow bool) profiler.Config {
	cfg := c.ProfilerConfig()
	if heapFlow {
		cfg.ProfileTypes = withoutHeap(cfg.ProfileTypes)
	}
	return cfg
}
