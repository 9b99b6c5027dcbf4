package config

import (
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/telemetryd/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultComponentID     = "host_cpu"
	DefaultBaseTopic       = "telemetryd/components"
	DefaultSampleInterval  = 2 * time.Second
	DefaultStopGrace       = 2 * time.Second
	DefaultLogLevel        = "info"
	DefaultMetricInterval  = 2.0
	DefaultMetricThreshold = 2.0
	DefaultHTTPAddr        = "127.0.0.1:8089"

	defaultEnvPrefix  = "TELEMETRYD"
	defaultConfigName = "telemetryd"
	defaultConfigDir  = "/etc"
)

type Config struct {
	ComponentID     string        `mapstructure:"component_id"`
	BaseTopic       string        `mapstructure:"base_topic"`
	SampleInterval  time.Duration `mapstructure:"sample_interval"`
	StopGrace       time.Duration `mapstructure:"stop_grace"`
	LogLevel        string        `mapstructure:"log_level"`
	MetricInterval  float64       `mapstructure:"metric_interval"`
	MetricThreshold float64       `mapstructure:"metric_threshold"`
	GPU             bool          `mapstructure:"gpu"`
	GPUIndex        int           `mapstructure:"gpu_index"`
	HTTPAddr        string        `mapstructure:"http_addr"`
	RetainedDB      string        `mapstructure:"retained_db"`
	OTelEndpoint    string        `mapstructure:"otel_endpoint"`
	OTelInsecure    bool          `mapstructure:"otel_insecure"`
	PIDDir          string        `mapstructure:"pid_dir"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("component_id", DefaultComponentID)
	v.SetDefault("base_topic", DefaultBaseTopic)
	v.SetDefault("sample_interval", DefaultSampleInterval)
	v.SetDefault("stop_grace", DefaultStopGrace)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("metric_interval", DefaultMetricInterval)
	v.SetDefault("metric_threshold", DefaultMetricThreshold)
	v.SetDefault("gpu", false)
	v.SetDefault("gpu_index", 0)
	v.SetDefault("http_addr", DefaultHTTPAddr)
	v.SetDefault("retained_db", "")
	v.SetDefault("otel_endpoint", "")
	v.SetDefault("otel_insecure", false)
	v.SetDefault("pid_dir", "")
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("telemetryd", pflag.ContinueOnError)
	fs.String("config", "", "Path to the configuration file")
	fs.String("component-id", DefaultComponentID, "Component identifier used in the topic namespace")
	fs.String("base-topic", DefaultBaseTopic, "Topic namespace owned by the host")
	fs.Duration("sample-interval", DefaultSampleInterval, "Period between samples")
	fs.Duration("stop-grace", DefaultStopGrace, "Time to wait for the sampling loop on stop")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	fs.Float64("metric-interval", DefaultMetricInterval, "Default per-metric heartbeat interval in seconds")
	fs.Float64("metric-threshold", DefaultMetricThreshold, "Default per-metric change threshold in percent")
	fs.Bool("gpu", false, "Sample NVIDIA GPU metrics through NVML")
	fs.Int("gpu-index", 0, "NVML index of the GPU to sample")
	fs.String("http-addr", DefaultHTTPAddr, "Listen address for the local command/stream API; empty disables it")
	fs.String("retained-db", "", "SQLite file used to keep retained messages across restarts")
	fs.String("otel-endpoint", "", "OTLP/HTTP endpoint for self-metrics; empty disables export")
	fs.Bool("otel-insecure", false, "Use plain HTTP for the OTLP endpoint")
	fs.String("pid-dir", "", "Directory for the pid file; defaults to the OS temp dir")

	return fs
}

// Load reads configuration from defaults, the config file, the
// environment and command line flags, in increasing precedence.
func Load(opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := &options{
		envPrefix: defaultEnvPrefix,
		args:      os.Args[1:],
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidArgument, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	fs := newFlagSet()
	if err := fs.Parse(o.args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" || bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
	})
	if bindErr != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, bindErr)
	}

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	path := o.configPath
	if flagPath, _ := fs.GetString("config"); flagPath != "" {
		path = flagPath
	}
	if path == "" {
		path = os.Getenv(o.envPrefix + "_CONFIG")
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	} else {
		v.SetConfigName(defaultConfigName)
		v.SetConfigType("toml")
		v.AddConfigPath(defaultConfigDir)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, errFactory.Wrap(errors.ErrReadConfig, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks value ranges that the loader cannot express.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if strings.TrimSpace(c.ComponentID) == "" {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "component_id must not be empty")
	}
	if strings.Contains(c.ComponentID, "/") {
		return errFactory.WithData(errors.ErrInvalidConfig, "component_id must not contain '/'")
	}
	if c.SampleInterval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.SampleInterval)
	}
	if c.StopGrace <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.StopGrace)
	}
	if c.MetricInterval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.MetricInterval)
	}
	if c.MetricThreshold < 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "metric_threshold must be >= 0")
	}
	if c.GPUIndex < 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "gpu_index must be >= 0")
	}
	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	return nil
}
