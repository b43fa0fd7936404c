// Package config loads anrmon options from defaults, a YAML file, the
// environment (ANRMON_*) and command-line flags, in increasing precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. ANRMON_TIMEOUT=2s.
const EnvPrefix = "ANRMON"

// Options is the full anrmon configuration.
type Options struct {
	Enabled       bool          `mapstructure:"enabled"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Strategy      string        `mapstructure:"strategy"`
	DataDir       string        `mapstructure:"data_dir"`
	MaxEvents     int           `mapstructure:"max_events"`
	LogFile       string        `mapstructure:"log_file"`
	Debug         bool          `mapstructure:"debug"`
	FrameInterval time.Duration `mapstructure:"frame_interval"`
}

// Default returns the default options.
func Default() *Options {
	return &Options{
		Enabled:       true,
		Timeout:       5 * time.Second,
		Strategy:      "threaded",
		DataDir:       "~/.anrmon",
		MaxEvents:     30,
		LogFile:       "",
		Debug:         false,
		FrameInterval: 16 * time.Millisecond,
	}
}

// flagKeys maps config keys to the flag names the CLI registers for them.
var flagKeys = map[string]string{
	"enabled":        "enabled",
	"timeout":        "timeout",
	"strategy":       "strategy",
	"data_dir":       "data-dir",
	"max_events":     "max-events",
	"log_file":       "log-file",
	"debug":          "debug",
	"frame_interval": "frame-interval",
}

// New returns a viper instance with defaults and environment overrides wired.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// SetDefaults registers every option's default on v.
func SetDefaults(v *viper.Viper) {
	defaults := Default()
	v.SetDefault("enabled", defaults.Enabled)
	v.SetDefault("timeout", defaults.Timeout)
	v.SetDefault("strategy", defaults.Strategy)
	v.SetDefault("data_dir", defaults.DataDir)
	v.SetDefault("max_events", defaults.MaxEvents)
	v.SetDefault("log_file", defaults.LogFile)
	v.SetDefault("debug", defaults.Debug)
	v.SetDefault("frame_interval", defaults.FrameInterval)
}

// ReadFile merges the YAML file at path into v. An empty path is a no-op.
func ReadFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return nil
}

// BindFlags binds whichever option flags exist in flags to v.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for key, name := range flagKeys {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", name, err)
		}
	}
	return nil
}

// Load reads the options from v and validates them.
func Load(v *viper.Viper) (*Options, error) {
	var opts Options
	if err := v.Unmarshal(&opts); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if errs := opts.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &opts, nil
}
