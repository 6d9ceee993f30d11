package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Tools     ToolsConfig     `mapstructure:"tools"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Migration MigrationConfig `mapstructure:"migration"`
	Tasks     TasksConfig     `mapstructure:"tasks"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type LoggerConfig struct {
	Level string `mapstructure:"level"`
	Path  string `mapstructure:"path"`
}

type ToolsConfig struct {
	Zfs     string        `mapstructure:"zfs"`
	Vmctl   string        `mapstructure:"vmctl"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type WorkerConfig struct {
	Path string `mapstructure:"path"`
}

type MigrationConfig struct {
	// OverrideMarkerPath must exist on the host before a snapshot cleanup is
	// allowed to substitute one workload uuid for another.
	OverrideMarkerPath string `mapstructure:"override_marker_path"`
	Zpool              string `mapstructure:"zpool"`
}

type TasksConfig struct {
	// Retention is how long a completed task stays visible to the
	// progress endpoint before the registry drops it.
	Retention time.Duration `mapstructure:"retention"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 5309)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.path", "")
	v.SetDefault("tools.zfs", "/sbin/zfs")
	v.SetDefault("tools.vmctl", "/usr/sbin/vmctl")
	v.SetDefault("tools.timeout", 5*time.Minute)
	v.SetDefault("worker.path", "/usr/lib/zoneops/migrate-worker")
	v.SetDefault("migration.override_marker_path", "/var/lib/zoneops/.allow-uuid-override")
	v.SetDefault("migration.zpool", "zones")
	v.SetDefault("tasks.retention", 10*time.Minute)
}

// Load reads the agent configuration. An empty path loads defaults plus
// environment overrides only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ZONEOPS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Tools.Zfs == "" {
		return fmt.Errorf("tools.zfs is required")
	}
	if c.Tools.Vmctl == "" {
		return fmt.Errorf("tools.vmctl is required")
	}
	if c.Worker.Path == "" {
		return fmt.Errorf("worker.path is required")
	}
	if c.Tools.Timeout <= 0 {
		return fmt.Errorf("tools.timeout must be positive")
	}
	return nil
}
