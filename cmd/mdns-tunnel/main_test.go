package main

import (
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestParseArgs(t *testing.T) {
	o, err := parseArgs([]string{
		"client", "-addr", "relay.example:5000", "-interface", "eth0",
		"-domain", "_googlecast._tcp.local", "-domain", "_airplay._tcp.local",
		"-retry", "5s", "-match", "canonical", "-verbose",
	}, io.Discard)
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if o.role != "client" || o.addr != "relay.example:5000" || o.iface != "eth0" {
		t.Errorf("unexpected options %+v", o)
	}
	if want := (stringSlice{"_googlecast._tcp.local", "_airplay._tcp.local"}); !reflect.DeepEqual(o.domains, want) {
		t.Errorf("domains = %v, want %v", o.domains, want)
	}
	if o.retry != 5*time.Second || o.match != "canonical" || !o.verbose {
		t.Errorf("unexpected options %+v", o)
	}
}

func TestParseArgsErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no role", nil},
		{"unknown role", []string{"relay", "-addr", ":1", "-interface", "eth0"}},
		{"missing addr", []string{"server", "-interface", "eth0"}},
		{"missing interface", []string{"server", "-addr", ":5000"}},
		{"unknown flag", []string{"server", "-addr", ":5000", "-interface", "eth0", "-aes", "key"}},
		{"stray argument", []string{"server", "-addr", ":5000", "-interface", "eth0", "eth1"}},
		{"retry on server", []string{"server", "-addr", ":5000", "-interface", "eth0", "-retry", "1s"}},
		{"allow on client", []string{"client", "-addr", "h:5000", "-interface", "eth0", "-allow", "10.0.0.1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseArgs(tt.args, io.Discard); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestStringSlice(t *testing.T) {
	var s stringSlice
	s.Set("a")
	s.Set("b")
	if s.String() != "a, b" {
		t.Errorf("String() = %q", s.String())
	}
}

func TestLoadConfigMergesFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tunnel.yaml")
	doc := "domains:\n  - _googlecast._tcp.local\nmatch: exact\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	o := &options{
		configPath: path,
		domains:    stringSlice{"_googlecast._tcp.local", "_spotify-connect._tcp.local"},
		match:      "Canonical",
	}
	cfg, err := loadConfig(o)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	want := []string{"_googlecast._tcp.local", "_spotify-connect._tcp.local"}
	if !reflect.DeepEqual(cfg.Domains, want) {
		t.Errorf("Domains = %v, want %v", cfg.Domains, want)
	}
	if cfg.Match != "canonical" {
		t.Errorf("Match = %q, want flag override", cfg.Match)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := loadConfig(&options{}); err == nil {
		t.Error("empty domain set accepted")
	}
	if _, err := loadConfig(&options{domains: stringSlice{"a.local"}, match: "glob"}); err == nil {
		t.Error("bad match policy accepted")
	}
	if _, err := loadConfig(&options{configPath: filepath.Join(t.TempDir(), "none.yaml")}); err == nil {
		t.Error("missing config file accepted")
	}
}

func TestRunStartupFailures(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"bad args", []string{"server"}},
		{"no domains", []string{"server", "-addr", "127.0.0.1:0", "-interface", "lo", "-foreground"}},
		{"bad allow entry", []string{"server", "-addr", "127.0.0.1:0", "-interface", "lo", "-foreground", "-domain", "a.local", "-allow", "not-an-ip"}},
		{"missing interface", []string{"server", "-addr", "127.0.0.1:0", "-interface", "nonexistent0", "-foreground", "-domain", "a.local"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := run(tt.args); code != 1 {
				t.Errorf("run() = %d, want 1", code)
			}
		})
	}
}
