package config

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Application struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
		Author  string `yaml:"author"`
	} `yaml:"application"`

	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Database []Database `yaml:"database"`

	Catalog struct {
		Path string `yaml:"path"`
	} `yaml:"catalog"`

	Sessions struct {
		Max         int    `yaml:"max"`
		IdleTimeout string `yaml:"idle_timeout"`
		AbsTimeout  string `yaml:"abs_timeout"`
	} `yaml:"sessions"`

	Log Log `yaml:"log"`
}

type Database struct {
	Name     string `yaml:"name"`
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	Schema   string `yaml:"schema"`
	Path     string `yaml:"path"` // sqlite file, ":memory:" when empty
	Default  bool   `yaml:"default"`
}

type Log struct {
	Level    string `yaml:"level"`
	JSON     bool   `yaml:"json"`
	File     string `yaml:"file"`
	Rotation struct {
		MaxSize    int  `yaml:"max_size"`
		MaxBackups int  `yaml:"max_backups"`
		MaxAge     int  `yaml:"max_age"`
		Compress   bool `yaml:"compress"`
	} `yaml:"rotation"`
}

// Load reads path, expanding environment variables after loading .env.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // .env is optional

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a YAML config with environment variables expanded.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	return &cfg, nil
}

// DefaultDatabase is the entry marked default, else the first one.
func (c *Config) DefaultDatabase() (Database, error) {
	for _, d := range c.Database {
		if d.Default {
			return d, nil
		}
	}
	if len(c.Database) > 0 {
		return c.Database[0], nil
	}
	return Database{}, fmt.Errorf("no database configured")
}

// DriverName is "postgres" unless the entry asks for sqlite.
func (d Database) DriverName() string {
	if d.Driver == "" {
		return "postgres"
	}
	return strings.ToLower(d.Driver)
}

// DSN builds the connection string for the entry's driver.
func (d Database) DSN() string {
	if d.DriverName() == "sqlite" {
		if d.Path == "" {
			return ":memory:"
		}
		return d.Path
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		d.Host, d.Port, d.User, quoteDSN(d.Password), d.Database)
	if d.Schema != "" {
		dsn += fmt.Sprintf(" search_path=%s,public", d.Schema)
	}
	return dsn
}

func quoteDSN(s string) string {
	if s != "" && !strings.ContainsAny(s, ` '\`) {
		return s
	}
	s = strings.ReplaceAll(s, `\`, `\\`)
	return "'" + strings.ReplaceAll(s, `'`, `\'`) + "'"
}

// Redacted is the DSN with the password hidden, for logging.
func (d Database) Redacted() string {
	if d.DriverName() == "sqlite" {
		return d.DSN()
	}
	u := url.URL{Scheme: "postgres", Host: d.Host + ":" + d.Port, Path: d.Database}
	if d.User != "" {
		u.User = url.UserPassword(d.User, "xxxxx")
	}
	return u.String()
}

// SessionTimeouts parses the session durations, defaulting to 15m idle and
// 2h absolute.
func (c *Config) SessionTimeouts() (idle, abs time.Duration, err error) {
	idle, abs = 15*time.Minute, 2*time.Hour
	if s := c.Sessions.IdleTimeout; s != "" {
		if idle, err = time.ParseDuration(s); err != nil {
			return 0, 0, fmt.Errorf("invalid sessions.idle_timeout: %w", err)
		}
	}
	if s := c.Sessions.AbsTimeout; s != "" {
		if abs, err = time.ParseDuration(s); err != nil {
			return 0, 0, fmt.Errorf("invalid sessions.abs_timeout: %w", err)
		}
	}
	return idle, abs, nil
}

// NewLogger builds the process logger. Output goes to stdout and, when a
// file is configured, to a rotating log file.
func NewLogger(cfg Log) *slog.Logger {
	return slog.New(newHandler(cfg, writer(cfg, os.Stdout)))
}

func writer(cfg Log, stdout io.Writer) io.Writer {
	if cfg.File == "" {
		return stdout
	}
	return io.MultiWriter(stdout, &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.Rotation.MaxSize,
		MaxBackups: cfg.Rotation.MaxBackups,
		MaxAge:     cfg.Rotation.MaxAge,
		Compress:   cfg.Rotation.Compress,
	})
}

func newHandler(cfg Log, w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	if cfg.JSON {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// ParseLevel maps debug, info, warn and error onto slog levels, defaulting
// to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
