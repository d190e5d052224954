// Package config loads the control service configuration from a TOML file
// with GAMECTL_ environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
	"time"

	"github.com/loykin/gamectl/internal/env"
	"github.com/loykin/gamectl/internal/logger"
	"github.com/loykin/gamectl/internal/process"
	"github.com/loykin/gamectl/internal/rcon"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. GAMECTL_RCON_PASSWORD.
const EnvPrefix = "GAMECTL"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Game      GameConfig      `mapstructure:"game"`
	RCON      rcon.Config     `mapstructure:"rcon"`
	Todos     TodosConfig     `mapstructure:"todos"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type ServerConfig struct {
	Listen          string        `mapstructure:"listen"`
	BasePath        string        `mapstructure:"base_path"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type GameConfig struct {
	StartScript  string            `mapstructure:"start_script"`
	WorkDir      string            `mapstructure:"workdir"`
	PIDFile      string            `mapstructure:"pid_file"`
	LogFile      string            `mapstructure:"log_file"`
	ProcessMatch string            `mapstructure:"process_match"`
	StopCommand  string            `mapstructure:"stop_command"`
	StopTimeout  time.Duration     `mapstructure:"stop_timeout"`
	RestartWait  time.Duration     `mapstructure:"restart_wait"`
	KillGrace    time.Duration     `mapstructure:"kill_grace"`
	KillSignal   string            `mapstructure:"kill_signal"`
	Env          []string          `mapstructure:"env"`
	EnvFiles     []string          `mapstructure:"env_files"`
	UseOSEnv     bool              `mapstructure:"use_os_env"`
	Output       logger.FileConfig `mapstructure:"output"`
}

type TodosConfig struct {
	File  string `mapstructure:"file"`
	Watch bool   `mapstructure:"watch"`
}

type TelemetryConfig struct {
	LogLines   int  `mapstructure:"log_lines"`
	FollowLogs bool `mapstructure:"follow_logs"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
	NoColor    bool   `mapstructure:"no_color"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", ":8000")
	v.SetDefault("server.base_path", "")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 90*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("game.start_script", "./start.sh")
	v.SetDefault("game.workdir", "")
	v.SetDefault("game.pid_file", "server.pid")
	v.SetDefault("game.log_file", "logs/latest.log")
	v.SetDefault("game.process_match", "java")
	v.SetDefault("game.stop_command", "stop")
	v.SetDefault("game.stop_timeout", 30*time.Second)
	v.SetDefault("game.restart_wait", 10*time.Second)
	v.SetDefault("game.kill_grace", time.Second)
	v.SetDefault("game.kill_signal", "SIGKILL")
	v.SetDefault("game.env", []string{})
	v.SetDefault("game.env_files", []string{})
	v.SetDefault("game.use_os_env", true)
	v.SetDefault("game.output.dir", "")
	v.SetDefault("game.output.stdout", "")
	v.SetDefault("game.output.stderr", "")
	v.SetDefault("game.output.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("game.output.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("game.output.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("game.output.compress", false)

	v.SetDefault("rcon.host", "127.0.0.1")
	v.SetDefault("rcon.port", 25575)
	v.SetDefault("rcon.password", "")
	v.SetDefault("rcon.timeout", rcon.DefaultTimeout)

	v.SetDefault("todos.file", "todos.json")
	v.SetDefault("todos.watch", false)

	v.SetDefault("telemetry.log_lines", 30)
	v.SetDefault("telemetry.follow_logs", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)
	v.SetDefault("log.no_color", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Default returns the built-in configuration with environment overrides
// applied.
func Default() (*Config, error) { return Load("") }

// Load reads path (TOML) when non-empty, applies GAMECTL_* environment
// overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}
	if strings.TrimSpace(c.Server.Listen) == "" {
		bad("server.listen is required")
	}
	if c.Server.ShutdownTimeout <= 0 {
		bad("server.shutdown_timeout must be positive")
	}
	if strings.TrimSpace(c.Game.StartScript) == "" {
		bad("game.start_script is required")
	}
	if strings.TrimSpace(c.Game.PIDFile) == "" {
		bad("game.pid_file is required")
	}
	if c.Game.StopTimeout <= 0 {
		bad("game.stop_timeout must be positive")
	}
	if c.Game.RestartWait <= 0 {
		bad("game.restart_wait must be positive")
	}
	if c.Game.KillGrace <= 0 {
		bad("game.kill_grace must be positive")
	}
	if _, err := process.ParseSignal(c.Game.KillSignal); err != nil {
		bad("game.kill_signal: %w", err)
	}
	if c.RCON.Port <= 0 || c.RCON.Port > 65535 {
		bad("rcon.port %d out of range", c.RCON.Port)
	}
	if c.RCON.Timeout <= 0 {
		bad("rcon.timeout must be positive")
	}
	if strings.TrimSpace(c.Todos.File) == "" {
		bad("todos.file is required")
	}
	if c.Telemetry.LogLines <= 0 {
		bad("telemetry.log_lines must be positive")
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		bad("log.format %q must be text or json", c.Log.Format)
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		bad("metrics.path must start with /")
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid config: %w", errors.Join(errs...))
}

// ProcessSpec builds the spawn description of the game server. The
// environment is composed as OS env (when use_os_env), then env_files in
// order, then the env list.
func (c *Config) ProcessSpec() (process.Spec, error) {
	spec := process.Spec{
		Name:    "game",
		Command: c.Game.StartScript,
		WorkDir: c.Game.WorkDir,
		PIDFile: c.Game.PIDFile,
		Match:   c.Game.ProcessMatch,
		Output:  c.Game.Output,
	}
	e := env.New()
	if c.Game.UseOSEnv {
		e = e.FromOS()
	}
	for _, f := range c.Game.EnvFiles {
		var err error
		if e, err = e.WithFile(f); err != nil {
			return process.Spec{}, fmt.Errorf("game.env_files: %w", err)
		}
	}
	spec.Env = e.WithPairs(c.Game.Env).Merge(nil)
	return spec, nil
}

// KillSignal returns the parsed game.kill_signal.
func (c *Config) KillSignal() syscall.Signal {
	sig, err := process.ParseSignal(c.Game.KillSignal)
	if err != nil {
		return syscall.SIGKILL
	}
	return sig
}

// LoggerConfig maps [log] and [game.output] to the logger package.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:      c.Log.Level,
		Format:     c.Log.Format,
		Path:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
		Compress:   c.Log.Compress,
		NoColor:    c.Log.NoColor,
		File:       c.Game.Output,
	}
}
