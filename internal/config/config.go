package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/ledzpl/tcpchat/internal/chat"
)

const envPrefix = "TCPCHAT_"

// Config holds the server configuration.
type Config struct {
	Host string
	Port int

	// ReadChunk bounds one read from a client connection and MaxMessage one
	// relay unit in line framing. MaxClients of 0 means unlimited.
	ReadChunk  int
	Framing    string
	MaxMessage int
	MaxClients int
	Echo       bool

	IdleTimeout  time.Duration
	WriteTimeout time.Duration

	WSAddr      string
	MetricsAddr string
	RedisAddr   string
	RedisStream string

	LogLevel  string
	LogFormat string
}

// Default returns the configuration used when no flag or environment variable is set.
func Default() Config {
	return Config{
		Host:         "127.0.0.1",
		Port:         55610,
		ReadChunk:    1024,
		Framing:      chat.FramingRaw,
		MaxMessage:   4096,
		Echo:         true,
		WriteTimeout: 10 * time.Second,
		RedisStream:  "tcpchat:relay",
		LogLevel:     "info",
		LogFormat:    "console",
	}
}

// Load parses args on top of defaults taken from TCPCHAT_* variables looked up with
// getenv. The result is validated.
func Load(name string, args []string, getenv func(string) string, output io.Writer) (*Config, error) {
	cfg := Default()
	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	if output != nil {
		fs.SetOutput(output)
	}
	fs.StringVar(&cfg.Host, "host", cfg.Host, "Listen host")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "Listen port")
	fs.IntVar(&cfg.ReadChunk, "read-chunk", cfg.ReadChunk, "Maximum bytes taken from a client per read")
	fs.StringVar(&cfg.Framing, "framing", cfg.Framing, "Inbound framing: raw relays each read as is, line relays newline-terminated lines")
	fs.IntVar(&cfg.MaxMessage, "max-message", cfg.MaxMessage, "Maximum line length in line framing")
	fs.IntVar(&cfg.MaxClients, "max-clients", cfg.MaxClients, "Maximum connected clients (0 = unlimited)")
	fs.BoolVar(&cfg.Echo, "echo", cfg.Echo, "Relay payloads back to their sender")
	fs.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "Disconnect clients idle this long (0 = never)")
	fs.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "Deadline for a single write to a client (0 = none)")
	fs.StringVar(&cfg.WSAddr, "ws-addr", cfg.WSAddr, "WebSocket listen address (empty = disabled)")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Metrics and health HTTP address (empty = disabled)")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address for multi-node relay (empty = disabled)")
	fs.StringVar(&cfg.RedisStream, "redis-stream", cfg.RedisStream, "Redis stream carrying relayed payloads")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: console or json")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("config: unexpected arguments %q", fs.Args())
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Addr is the TCP listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if err := chat.ValidateFraming(c.Framing); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	switch {
	case c.Port < 0 || c.Port > 65535:
		return fmt.Errorf("config: port %d out of range", c.Port)
	case c.ReadChunk <= 0:
		return fmt.Errorf("config: read-chunk must be positive, got %d", c.ReadChunk)
	case c.MaxMessage <= 0:
		return fmt.Errorf("config: max-message must be positive, got %d", c.MaxMessage)
	case c.MaxClients < 0:
		return fmt.Errorf("config: max-clients must not be negative, got %d", c.MaxClients)
	case c.IdleTimeout < 0:
		return errors.New("config: idle-timeout must not be negative")
	case c.WriteTimeout < 0:
		return errors.New("config: write-timeout must not be negative")
	case c.RedisAddr != "" && c.RedisStream == "":
		return errors.New("config: redis-stream required when redis-addr is set")
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if getenv == nil {
		return nil
	}
	lookup := func(key string) (string, bool) {
		v := getenv(envPrefix + key)
		return v, v != ""
	}

	strs := map[string]*string{
		"HOST":         &c.Host,
		"FRAMING":      &c.Framing,
		"WS_ADDR":      &c.WSAddr,
		"METRICS_ADDR": &c.MetricsAddr,
		"REDIS_ADDR":   &c.RedisAddr,
		"REDIS_STREAM": &c.RedisStream,
		"LOG_LEVEL":    &c.LogLevel,
		"LOG_FORMAT":   &c.LogFormat,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"PORT":        &c.Port,
		"READ_CHUNK":  &c.ReadChunk,
		"MAX_MESSAGE": &c.MaxMessage,
		"MAX_CLIENTS": &c.MaxClients,
	}
	for key, dst := range ints {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s%s: %w", envPrefix, key, err)
		}
		*dst = n
	}

	durations := map[string]*time.Duration{
		"IDLE_TIMEOUT":  &c.IdleTimeout,
		"WRITE_TIMEOUT": &c.WriteTimeout,
	}
	for key, dst := range durations {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: %s%s: %w", envPrefix, key, err)
		}
		*dst = d
	}

	if v, ok := lookup("ECHO"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: %sECHO: %w", envPrefix, err)
		}
		c.Echo = b
	}
	return nil
}
