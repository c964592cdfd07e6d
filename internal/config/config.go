// Package config loads the SDK's TOML configuration file.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/loykin/datacat/internal/logger"
	"github.com/spf13/viper"
)

// Config is the top-level TOML structure.
type Config struct {
	Product   string          `toml:"product" mapstructure:"product"`
	Version   string          `toml:"version" mapstructure:"version"`
	ServerURL string          `toml:"server_url" mapstructure:"server_url"`
	UseDaemon bool            `toml:"use_daemon" mapstructure:"use_daemon"`
	Daemon    DaemonConfig    `toml:"daemon" mapstructure:"daemon"`
	Queue     QueueConfig     `toml:"queue" mapstructure:"queue"`
	Heartbeat HeartbeatConfig `toml:"heartbeat" mapstructure:"heartbeat"`
	Log       logger.Config   `toml:"log" mapstructure:"log"`
}

type DaemonConfig struct {
	// Port is a literal port or "auto".
	Port             string        `toml:"port" mapstructure:"port"`
	Binary           string        `toml:"binary" mapstructure:"binary"`
	BatchInterval    time.Duration `toml:"batch_interval" mapstructure:"batch_interval"`
	MaxBatchSize     int           `toml:"max_batch_size" mapstructure:"max_batch_size"`
	HeartbeatTimeout time.Duration `toml:"heartbeat_timeout" mapstructure:"heartbeat_timeout"`
	ReadyTimeout     time.Duration `toml:"ready_timeout" mapstructure:"ready_timeout"`
	ConfigDir        string        `toml:"config_dir" mapstructure:"config_dir"`
}

type QueueConfig struct {
	Size       int    `toml:"size" mapstructure:"size"`
	DropOnFull bool   `toml:"drop_on_full" mapstructure:"drop_on_full"`
	SpoolPath  string `toml:"spool_path" mapstructure:"spool_path"`
}

type HeartbeatConfig struct {
	Timeout  time.Duration `toml:"timeout" mapstructure:"timeout"`
	Interval time.Duration `toml:"interval" mapstructure:"interval"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		ServerURL: "http://localhost:8080",
		UseDaemon: true,
		Daemon: DaemonConfig{
			Port:             "auto",
			BatchInterval:    5 * time.Second,
			MaxBatchSize:     100,
			HeartbeatTimeout: 60 * time.Second,
			ReadyTimeout:     5 * time.Second,
			ConfigDir:        ".",
		},
		Queue: QueueConfig{
			Size:       1000,
			DropOnFull: true,
		},
		Heartbeat: HeartbeatConfig{
			Timeout:  60 * time.Second,
			Interval: 5 * time.Second,
		},
		Log: logger.Config{Level: "info"},
	}
}

// envKeys are the settings overridable through the environment. Each is
// bound explicitly because viper only surfaces automatic env values for
// keys the config file already contains.
var envKeys = []string{
	"product", "version", "server_url", "use_daemon",
	"daemon.port", "daemon.binary", "daemon.batch_interval",
	"daemon.max_batch_size", "daemon.heartbeat_timeout",
	"daemon.ready_timeout", "daemon.config_dir",
	"queue.size", "queue.drop_on_full", "queue.spool_path",
	"heartbeat.timeout", "heartbeat.interval",
	"log.level",
}

// Load reads a TOML file over the defaults. Environment variables with the
// DATACAT_ prefix override file values (DATACAT_SERVER_URL,
// DATACAT_DAEMON_PORT, ...), whether or not the file sets the key.
func Load(path string) (Config, error) {
	cfg := Default()
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.SetEnvPrefix("datacat")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values the SDK cannot run with.
func (c Config) Validate() error {
	if c.ServerURL == "" && !c.UseDaemon {
		return fmt.Errorf("server_url is required when use_daemon is false")
	}
	if p := c.Daemon.Port; p != "" && p != "auto" {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 || n > 65535 {
			return fmt.Errorf("daemon.port must be \"auto\" or a port number, got %q", p)
		}
	}
	if c.Queue.Size < 0 {
		return fmt.Errorf("queue.size must not be negative")
	}
	if c.Daemon.MaxBatchSize < 0 {
		return fmt.Errorf("daemon.max_batch_size must not be negative")
	}
	if c.Heartbeat.Timeout < 0 || c.Heartbeat.Interval < 0 {
		return fmt.Errorf("heartbeat timeout and interval must not be negative")
	}
	return nil
}
