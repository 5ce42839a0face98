package config

import (
	"flag"
	"fmt"
)

// Constants for default values.
const (
	// HashChunkSize and TransferChunkSize are fixed for a session and
	// MUST be identical on both peers: there is no wire negotiation of
	// these sizes, so changing a default here breaks interop with an
	// unmodified peer.
	HashChunkSize     = 5 * 1024 * 1024 // 5 MiB
	TransferChunkSize = 5 * 1024 * 1024 // 5 MiB

	DefaultPort = 14605

	HashLogSuffix = ".hashlog"
)

// Mode is the verb a client session issues.
type Mode string

const (
	ModeGet Mode = "get"
	ModePut Mode = "put"
	// ModeLs is accepted by the flag parser for compatibility with
	// wrapper scripts around the original tool, but was never actually
	// implemented there either; Validate rejects it explicitly instead
	// of silently doing nothing.
	ModeLs Mode = "ls"
)

// Config holds all configuration parameters for the application. A
// non-empty Address puts the process in client (dialer) mode; an empty
// Address runs the long-lived listener.
type Config struct {
	Address string // remote address; empty => server mode
	Port    int
	File    string // target file path; directories are rejected
	Key     string // pre-shared secret, compared in plaintext
	Mode    Mode   // get / put, client mode only
	HashLog bool   // persist/replay the per-file hash log
}

// IsServer reports whether this configuration runs the listener.
func (c *Config) IsServer() bool {
	return c.Address == ""
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}

	if c.IsServer() {
		return nil
	}

	switch c.Mode {
	case ModeGet, ModePut:
	case ModeLs:
		return fmt.Errorf("mode %q is not implemented", ModeLs)
	default:
		return fmt.Errorf("mode must be %q or %q, got %q", ModeGet, ModePut, c.Mode)
	}

	return nil
}

// ParseFlags parses command line arguments and returns a Config. Flag
// names and defaults mirror the original tool's CLI surface so existing
// invocation scripts keep working.
func ParseFlags() (*Config, error) {
	address := flag.String("a", "", "Remote address, works as server when not specified")
	port := flag.Int("p", DefaultPort, "Port for connect or listen to")
	file := flag.String("f", "", "Path to target file")
	key := flag.String("k", "", "Secret key")
	mode := flag.String("m", string(ModeGet), "get / put / ls")
	hashLog := flag.Bool("hashlog", false, "Write hash to log")

	flag.Parse()

	cfg := &Config{
		Address: *address,
		Port:    *port,
		File:    *file,
		Key:     *key,
		Mode:    Mode(*mode),
		HashLog: *hashLog,
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// String returns a string representation of the config for logging.
func (c *Config) String() string {
	role := "server"
	if !c.IsServer() {
		role = fmt.Sprintf("client(%s)", c.Mode)
	}

	return fmt.Sprintf("Config{Role: %s, Port: %d, HashLog: %v}", role, c.Port, c.HashLog)
}
