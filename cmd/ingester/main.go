// Command ingester is a stand-in ingestion server for agent benchmarks. It
// answers /ingest immediately (fast) or after a delay (slow) and keeps what it
// received for inspection at /windows.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pushprof/agent-go/internal/ingest"
)

var v = viper.New()

var rootCmd = &cobra.Command{
	Use:   "ingester",
	Short: "Benchmark ingestion server for pushprof agents",
	Long: `ingester accepts folded profiles on POST /ingest and lists the received
windows on GET /windows?name=<app>.

The mode is taken from --mode or ` + ingest.EnvMode + `:
  fast  answer 200 right away (default)
  slow  answer 200 after --slow-delay`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	flags := rootCmd.Flags()
	flags.String("addr", ingest.DefaultAddr, "listen address")
	flags.String("mode", ingest.ModeFast, "fast or slow")
	flags.Duration("slow-delay", ingest.DefaultSlowDelay, "response delay in slow mode")
	flags.String("store", ingest.StoreMemory, "memory, sqlite or mysql")
	flags.String("dsn", "", "sqlite file or mysql dsn")
	flags.String("log-level", "info", "log level")
	_ = v.BindPFlags(flags)
	_ = v.BindEnv("mode", ingest.EnvMode)
	v.SetEnvPrefix("PUSHPROF_INGESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

func run(cmd *cobra.Command, args []string) error {
	log := logrus.New()
	if level, err := logrus.ParseLevel(v.GetString("log-level")); err == nil {
		log.SetLevel(level)
	}
	if log.GetLevel() < logrus.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	mode := v.GetString("mode")
	if mode != ingest.ModeFast && mode != ingest.ModeSlow {
		return fmt.Errorf("unknown mode %q", mode)
	}
	store, err := ingest.NewStore(v.GetString("store"), v.GetString("dsn"))
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := ingest.NewServer(store, mode, v.GetDuration("slow-delay"), log)
	return srv.Run(ctx, v.GetString("addr"))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
