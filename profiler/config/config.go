// Package config loads the agent configuration from YAML and PUSHPROF_*
// environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/pushprof/agent-go/profiler"
	"github.com/pushprof/agent-go/profiler/common"
	"github.com/pushprof/agent-go/profiler/logger"
)

const EnvPrefix = "PUSHPROF"

type Config struct {
	ServerAddress string `mapstructure:"server_address"`
	AppName       string `mapstructure:"app_name"`
	// ProfileType is used when ProfileTypes is empty.
	ProfileType     string            `mapstructure:"profile_type"`
	ProfileTypes    []string          `mapstructure:"profile_types"`
	IntervalSeconds int               `mapstructure:"interval_seconds"`
	AutoStart       bool              `mapstructure:"auto_start"`
	SampleRate      int               `mapstructure:"sample_rate"`
	UploadTimeout   time.Duration     `mapstructure:"upload_timeout"`
	ShutdownTimeout time.Duration     `mapstructure:"shutdown_timeout"`
	AuthToken       string            `mapstructure:"auth_token"`
	Tags            map[string]string `mapstructure:"tags"`
	Gzip            bool              `mapstructure:"gzip"`
	MetricsAddress  string            `mapstructure:"metrics_address"`
	LogLevel        string            `mapstructure:"log_level"`
}

// Load reads configPath, or config.yaml from the usual locations when it is
// empty. A missing file is not an error: defaults and environment apply.
func Load(configPath string) (*Config, error) {
	v := newViper()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("pushprof")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/pushprof")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return unmarshal(v)
}

// LoadFromReader loads configuration from content of the given type.
func LoadFromReader(configType string, content []byte) (*Config, error) {
	v := newViper()
	v.SetConfigType(configType)
	if err := v.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return unmarshal(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults also registers every key, which lets AutomaticEnv see them on Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server_address", "")
	v.SetDefault("app_name", "")
	v.SetDefault("profile_type", common.ProfileTypeCPU.ToString())
	v.SetDefault("profile_types", []string{})
	v.SetDefault("interval_seconds", 10)
	v.SetDefault("auto_start", true)
	v.SetDefault("sample_rate", 100)
	v.SetDefault("upload_timeout", "10s")
	v.SetDefault("shutdown_timeout", "5s")
	v.SetDefault("auth_token", "")
	v.SetDefault("gzip", false)
	v.SetDefault("metrics_address", "")
	v.SetDefault("log_level", "info")
}

// Validate reports the first invalid option as ErrInvalidConfig.
func (c *Config) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return common.NewError(common.CodeInvalidConfig, fmt.Sprintf(format, args...))
	}
	if c.ServerAddress == "" {
		return invalid("server_address is required")
	}
	if c.AppName == "" {
		return invalid("app_name is required")
	}
	if c.IntervalSeconds <= 0 {
		return invalid("interval_seconds must be positive, got %d", c.IntervalSeconds)
	}
	if c.SampleRate < 0 {
		return invalid("sample_rate must not be negative, got %d", c.SampleRate)
	}
	if _, err := c.Types(); err != nil {
		return err
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return invalid("log_level: %v", err)
	}
	return nil
}

// Types returns profile_types, or profile_type when the list is empty.
func (c *Config) Types() ([]common.ProfileType, error) {
	names := c.ProfileTypes
	if len(names) == 0 {
		names = []string{c.ProfileType}
	}
	out := make([]common.ProfileType, 0, len(names))
	for _, name := range names {
		pt, ok := common.FromString(strings.ToLower(strings.TrimSpace(name)))
		if !ok {
			return nil, common.NewError(common.CodeInvalidConfig, fmt.Sprintf("unknown profile type %q", name))
		}
		out = append(out, pt)
	}
	return out, nil
}

func (c *Config) ProfilerConfig() profiler.Config {
	types, _ := c.Types()
	return profiler.Config{
		ServerAddress:  c.ServerAddress,
		AppName:        c.AppName,
		ProfileTypes:   types,
		Interval:       time.Duration(c.IntervalSeconds) * time.Second,
		SampleRate:     c.SampleRate,
		AutoStart:      c.AutoStart,
		MetricsAddress: c.MetricsAddress,
	}
}

// ProfilerOptions turns the transport options into profiler options, logging
// through l.
func (c *Config) ProfilerOptions(l logger.Logger) []profiler.Option {
	return []profiler.Option{
		profiler.WithLogger(l),
		profiler.WithUploadTimeout(c.UploadTimeout),
		profiler.WithShutdownTimeout(c.ShutdownTimeout),
		profiler.WithGzip(c.Gzip),
		profiler.WithAuthToken(c.AuthToken),
		profiler.WithTags(c.Tags),
	}
}

// NewLogger returns a logrus logger at log_level tagged with the app name.
func (c *Config) NewLogger() logger.Logger {
	l := logrus.New()
	if level, err := logrus.ParseLevel(c.LogLevel); err == nil {
		l.SetLevel(level)
	}
	return logger.NewLogrus(l, logrus.Fields{"app": c.AppName, "component": "pushprof"})
}
