package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vauchi-app/core/pkg/attest"
)

type Config struct {
	Server    Server    `toml:"server"`
	Storage   Storage   `toml:"storage"`
	RateLimit RateLimit `toml:"rate_limit"`
}

type Server struct {
	Address  string           `toml:"address"`
	Identity attest.Algorithm `toml:"identity"`
}

type Storage struct {
	Path     string     `toml:"path"`
	LogLevel slog.Level `toml:"log_level"`
	InMemory bool       `toml:"in_memory"`

	// EnvelopeTTL bounds how long an unacked envelope is retained in a
	// mailbox before the broker is free to discard it, per spec.md §4.6.
	EnvelopeTTL time.Duration `toml:"envelope_ttl"`
	// NonceTTL bounds how long an issued Open nonce remains valid.
	NonceTTL time.Duration `toml:"nonce_ttl"`

	MaxMessageSize int    `toml:"max_message_size"`
	MaxMailboxSize uint64 `toml:"max_mailbox_size"`
}

type RateLimit struct {
	Enabled    bool          `toml:"enabled"`
	TimeWindow time.Duration `toml:"time_window"`
	Quota      uint64        `toml:"quota"`
}

func New(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading file: %w", err)
	}
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return cfg, fmt.Errorf("unmarshal: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return cfg, fmt.Errorf("unknown config keys: %v", undecoded)
	}
	return cfg, nil
}
