// Package config loads the relay's YAML configuration file and merges it with
// command line settings.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mojo333/mdns-tunnel/internal/link"
	"github.com/mojo333/mdns-tunnel/internal/mdns"
)

// ErrNoDomains is returned when neither the file nor the flags name a domain.
var ErrNoDomains = errors.New("no domains configured")

// Config is the relay configuration. Fields missing from the file keep their
// Default values.
type Config struct {
	Domains      []string `yaml:"domains"`
	Match        string   `yaml:"match"`
	CapturePort  uint16   `yaml:"capture_port"`
	Promiscuous  bool     `yaml:"promiscuous"`
	EchoWindow   Duration `yaml:"echo_window"`
	WriteTimeout Duration `yaml:"write_timeout"`
}

// Duration is a time.Duration read from YAML either as a Go duration string
// ("2s", "500ms") or as a bare integer number of seconds.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode && value.ShortTag() == "!!int" {
		var secs int64
		if err := value.Decode(&secs); err != nil {
			return err
		}
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Match:       mdns.MatchExact.String(),
		CapturePort: link.DefaultFilterPort,
		Promiscuous: true,
		EchoWindow:  Duration(link.DefaultEchoWindow),
	}
}

// Load reads the file at path. An empty path yields Default.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a YAML document over Default. Unknown keys are rejected.
func Parse(b []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, err
	}
	cfg.Match = strings.ToLower(strings.TrimSpace(cfg.Match))
	return cfg, nil
}

// AddDomains appends domains after the configured ones. Blank entries are
// skipped and duplicates removed, keeping the first occurrence.
func (c *Config) AddDomains(domains ...string) {
	all := append(c.Domains, domains...)
	seen := make(map[string]struct{}, len(all))
	out := make([]string, 0, len(all))
	for _, d := range all {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	c.Domains = out
}

// Validate checks the merged configuration.
func (c *Config) Validate() error {
	c.AddDomains()
	if len(c.Domains) == 0 {
		return ErrNoDomains
	}
	if _, err := c.MatchPolicy(); err != nil {
		return err
	}
	if c.EchoWindow < 0 {
		return fmt.Errorf("echo_window must not be negative")
	}
	if c.WriteTimeout < 0 {
		return fmt.Errorf("write_timeout must not be negative")
	}
	return nil
}

// MatchPolicy parses the match setting.
func (c *Config) MatchPolicy() (mdns.MatchPolicy, error) {
	return mdns.ParseMatchPolicy(c.Match)
}

// LinkOptions returns the endpoint options described by the configuration.
func (c *Config) LinkOptions() link.Options {
	opts := link.DefaultOptions()
	opts.Promiscuous = c.Promiscuous
	opts.FilterPort = c.CapturePort
	return opts
}
