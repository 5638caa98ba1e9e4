// Package config handles raspeval configuration.
//
// Configuration is loaded with overlay semantics:
//
//  1. Start with built-in defaults (embedded from default.toml)
//  2. Overlay with config file values (if the file exists)
//  3. CLI flags and environment variables override at runtime
//
// The TOML decoder only sets fields present in the file, leaving
// unspecified fields at their default values. A config file that
// exists but is invalid is an error.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

//go:embed default.toml
var defaultConfigTOML string

// DefaultConfigPath is the default path to the config file.
const DefaultConfigPath = "/data/local/tmp/raspeval/raspeval.toml"

// Config is the top-level raspeval configuration.
type Config struct {
	Logging LoggingConfig `toml:"logging"`
	Runtime RuntimeConfig `toml:"runtime"`
	Probes  ProbesConfig  `toml:"probes"`
}

// LoggingConfig controls logging behaviour.
type LoggingConfig struct {
	// Level is the log spec (e.g., "info" or "info,pltpatch=debug").
	Level string `toml:"level"`
	// Format is "text" or "json".
	Format string `toml:"format"`
	// Components is an alternative way to give per-component levels.
	Components map[string]string `toml:"components"`
}

// ToSpec converts the LoggingConfig to a log spec string. Level wins
// over Components when both are set.
func (c *LoggingConfig) ToSpec() string {
	if c.Level != "" {
		return c.Level
	}
	if len(c.Components) == 0 {
		return ""
	}

	names := make([]string, 0, len(c.Components))
	for name := range c.Components {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := []string{"info"}
	for _, name := range names {
		parts = append(parts, name+"="+c.Components[name])
	}
	return strings.Join(parts, ",")
}

// RuntimeConfig locates on-device state.
type RuntimeConfig struct {
	Base string `toml:"base"`
}

// ProbesConfig tunes the probes and the default catalog parameters.
type ProbesConfig struct {
	Signatures    []string      `toml:"signatures"`
	WriteSentinel uint8         `toml:"write_sentinel"`
	Defaults      ProbeDefaults `toml:"defaults"`
}

// ProbeDefaults are the parameters used by catalog cases when the
// caller supplies none.
type ProbeDefaults struct {
	WriteAddress string `toml:"write_address"`
	Library      string `toml:"library"`
	Symbol       string `toml:"symbol"`
}

// DefaultConfig returns the configuration embedded in default.toml.
func DefaultConfig() Config {
	var cfg Config
	if _, err := toml.Decode(defaultConfigTOML, &cfg); err != nil {
		// default.toml is embedded at build time; this is a minimal
		// fallback that mirrors it.
		return Config{
			Logging: LoggingConfig{Level: "info", Format: "text"},
			Runtime: RuntimeConfig{Base: DefaultRuntimeBase},
			Probes: ProbesConfig{
				Signatures:    []string{"frida", "xposed"},
				WriteSentinel: 0x90,
				Defaults:      ProbeDefaults{WriteAddress: "0x0", Library: "libc.so", Symbol: "open"},
			},
		}
	}
	return cfg
}

// Load reads configuration from path with overlay semantics. A missing
// file yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if _, err := NewRuntimeDirs(c.Runtime.Base); err != nil {
		return fmt.Errorf("runtime.base: %w", err)
	}
	if len(c.Probes.Signatures) == 0 {
		return fmt.Errorf("probes.signatures cannot be empty")
	}
	for _, sig := range c.Probes.Signatures {
		if strings.TrimSpace(sig) == "" {
			return fmt.Errorf("probes.signatures contains an empty entry")
		}
	}
	if _, err := ParseAddress(c.Probes.Defaults.WriteAddress); err != nil {
		return fmt.Errorf("probes.defaults.write_address: %w", err)
	}
	return nil
}

// RuntimeDirs returns the runtime layout for the configured base.
func (c *Config) RuntimeDirs() (RuntimeDirs, error) {
	return NewRuntimeDirs(c.Runtime.Base)
}

// NormalisedSignatures returns the signatures trimmed and lowercased.
func (c *ProbesConfig) NormalisedSignatures() []string {
	out := make([]string, 0, len(c.Signatures))
	for _, sig := range c.Signatures {
		out = append(out, strings.ToLower(strings.TrimSpace(sig)))
	}
	return out
}

// ParseAddress parses a decimal or 0x-prefixed hexadecimal address.
func ParseAddress(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("address cannot be empty")
	}
	var (
		v   uint64
		err error
	)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err = strconv.ParseUint(s[2:], 16, 64)
	} else {
		v, err = strconv.ParseUint(s, 10, 64)
	}
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return v, nil
}
