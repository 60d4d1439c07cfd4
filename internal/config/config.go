// Package config provides configuration management for bwrecord.
// It uses Viper to load settings from a config file and environment variables;
// the result is built once at process start and passed around by value.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Counter sources.
const (
	SourceSysfs  = "sysfs"
	SourcePsutil = "psutil"
)

// Store drivers.
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

// ErrInvalid is wrapped by every validation failure returned from Validate.
var ErrInvalid = errors.New("invalid config")

// Config holds all runtime configuration for bwrecord.
type Config struct {
	// ── Sampling ─────────────────────────────────────────────────────────────
	// Interfaces are summed in order; at least one is required.
	Interfaces    []string `mapstructure:"interfaces"`
	CounterSource string   `mapstructure:"counter_source"` // "sysfs" or "psutil"
	SysfsRoot     string   `mapstructure:"sysfs_root"`

	SampleSeconds    float64 `mapstructure:"sample_seconds"`
	ToleranceSeconds float64 `mapstructure:"tolerance_seconds"`
	MaxAttempts      int     `mapstructure:"max_attempts"`

	// ── Records ──────────────────────────────────────────────────────────────
	StoreDriver     string `mapstructure:"store_driver"` // "file" or "sqlite"
	RecordFileUp    string `mapstructure:"record_file_up"`
	RecordFileDn    string `mapstructure:"record_file_dn"`
	RecordFileTotal string `mapstructure:"record_file_total"`
	DBPath          string `mapstructure:"db_path"` // used when store_driver = sqlite

	// ── Site log ─────────────────────────────────────────────────────────────
	LogFile       string `mapstructure:"log_file"`
	LogLineEnding string `mapstructure:"log_line_ending"`

	Debug bool `mapstructure:"debug"`
}

// Load reads config from path, or from config.yaml in ".", /etc/bwrecord or
// ~/.bwrecord when path is empty, and falls back to the glftpd defaults.
// Environment variables with prefix BWREC_ override file values.
func Load(path string) (Config, error) {
	v := viper.New()

	v.SetDefault("interfaces", []string{"eth0"})
	v.SetDefault("counter_source", SourceSysfs)
	v.SetDefault("sysfs_root", "/sys/class/net")

	v.SetDefault("sample_seconds", 2.0)
	v.SetDefault("tolerance_seconds", 0.01)
	v.SetDefault("max_attempts", 3)

	v.SetDefault("store_driver", StoreFile)
	v.SetDefault("record_file_up", "/mnt/glftpd/ftp-data/misc/gl_bw_up.stat")
	v.SetDefault("record_file_dn", "/mnt/glftpd/ftp-data/misc/gl_bw_dn.stat")
	v.SetDefault("record_file_total", "/mnt/glftpd/ftp-data/misc/gl_bw_to.stat")
	v.SetDefault("db_path", "bwrecord.db")

	v.SetDefault("log_file", "/mnt/glftpd/ftp-data/logs/glftpd.log")
	v.SetDefault("log_line_ending", "\r\n")

	v.SetDefault("debug", false)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/bwrecord")
		v.AddConfigPath("$HOME/.bwrecord")
		if err := v.ReadInConfig(); err != nil {
			// config file is optional; ignore "not found" errors
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix("BWREC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// Validate reports the first setting that would make the daemon misbehave.
func (c Config) Validate() error {
	if len(c.Interfaces) == 0 {
		return fmt.Errorf("%w: at least one interface is required", ErrInvalid)
	}
	for i, name := range c.Interfaces {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%w: interface #%d is blank", ErrInvalid, i+1)
		}
	}

	switch c.CounterSource {
	case SourceSysfs:
		if c.SysfsRoot == "" {
			return fmt.Errorf("%w: sysfs_root is empty", ErrInvalid)
		}
	case SourcePsutil:
	default:
		return fmt.Errorf("%w: unsupported counter_source %q (use 'sysfs' or 'psutil')", ErrInvalid, c.CounterSource)
	}

	if c.SampleSeconds <= 0 {
		return fmt.Errorf("%w: sample_seconds must be positive", ErrInvalid)
	}
	if c.ToleranceSeconds < 0 || c.ToleranceSeconds >= c.SampleSeconds {
		return fmt.Errorf("%w: tolerance_seconds must be in [0, sample_seconds)", ErrInvalid)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("%w: max_attempts must be at least 1", ErrInvalid)
	}

	switch c.StoreDriver {
	case StoreFile:
		if c.RecordFileUp == "" || c.RecordFileDn == "" || c.RecordFileTotal == "" {
			return fmt.Errorf("%w: record_file_up, record_file_dn and record_file_total are required", ErrInvalid)
		}
	case StoreSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("%w: db_path is empty", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unsupported store_driver %q (use 'file' or 'sqlite')", ErrInvalid, c.StoreDriver)
	}

	if c.LogFile == "" {
		return fmt.Errorf("%w: log_file is empty", ErrInvalid)
	}
	return nil
}

// SampleDuration is the target length of one measurement window.
func (c Config) SampleDuration() time.Duration {
	return seconds(c.SampleSeconds)
}

// Tolerance is the allowed deviation of the real window from SampleDuration.
func (c Config) Tolerance() time.Duration {
	return seconds(c.ToleranceSeconds)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
