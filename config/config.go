package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultPath = "config/config.yaml"

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
	// DevLogin enables POST /api/login, which issues a token for any name.
	DevLogin bool `yaml:"dev_login"`
}

type DatabaseConfig struct {
	// URL selects the Postgres store; empty keeps messages in memory.
	URL string `yaml:"url"`
}

type ChatConfig struct {
	Rooms               []string `yaml:"rooms"`
	DefaultRoom         string   `yaml:"default_room"`
	MaxMessageLength    int      `yaml:"max_message_length"`
	ReactionMaxAttempts int      `yaml:"reaction_max_attempts"`
}

type WebsocketConfig struct {
	PingInterval time.Duration `yaml:"ping_interval"`
	SendBuffer   int           `yaml:"send_buffer"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Database  DatabaseConfig  `yaml:"database"`
	Chat      ChatConfig      `yaml:"chat"`
	Websocket WebsocketConfig `yaml:"websocket"`
	Log       LogConfig       `yaml:"log"`
}

// Load reads the YAML file at path, applies defaults and environment
// overrides, then validates the result. A missing file is not an error when
// the environment supplies the required values.
func Load(path string) (*Config, error) {
	var cfg Config
	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		if err := decode(f, &cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	cfg.applyDefaults()
	cfg.applyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}
	if len(c.Chat.Rooms) == 0 {
		c.Chat.Rooms = []string{"General", "Development", "Random"}
	}
	if c.Chat.MaxMessageLength <= 0 {
		c.Chat.MaxMessageLength = 2000
	}
	if c.Chat.ReactionMaxAttempts <= 0 {
		c.Chat.ReactionMaxAttempts = 10
	}
	if c.Websocket.PingInterval <= 0 {
		c.Websocket.PingInterval = 10 * time.Second
	}
	if c.Websocket.SendBuffer <= 0 {
		c.Websocket.SendBuffer = 255
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("ROOMCHAT_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := getenv("ROOMCHAT_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := getenv("ROOMCHAT_DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := getenv("ROOMCHAT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if len(c.Chat.Rooms) == 0 {
		errs = append(errs, errors.New("chat.rooms must not be empty"))
	}
	for _, room := range c.Chat.Rooms {
		if strings.TrimSpace(room) == "" {
			errs = append(errs, errors.New("chat.rooms must not contain blank names"))
			break
		}
	}
	if c.Chat.DefaultRoom != "" && !slices.Contains(c.Chat.Rooms, c.Chat.DefaultRoom) {
		errs = append(errs, fmt.Errorf("chat.default_room %q is not in chat.rooms", c.Chat.DefaultRoom))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}
	return errors.Join(errs...)
}

func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// NewLogger builds the process logger described by the log section.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := l.SlogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
