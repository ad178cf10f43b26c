package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Address != "localhost:1883" {
		t.Fatalf("expected default broker, got %s", cfg.Bus.Address)
	}
	if cfg.TTS.DefaultVoice != "Marlene" {
		t.Fatalf("expected default voice Marlene, got %s", cfg.TTS.DefaultVoice)
	}
}

func TestLoadMissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")
	if _, err := Load(missing, false); err == nil {
		t.Fatal("expected error for missing config file")
	}
	if _, err := Load(missing, true); err != nil {
		t.Fatalf("expected missing file to be tolerated: %v", err)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hermes-tts.yaml")
	data := `
bus:
  address: "broker:1884"
tts:
  mode: mock
  default_voice: Hans
  voices:
    en: Joanna
cache:
  directory: /var/cache/tts
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Address != "broker:1884" {
		t.Fatalf("expected address override, got %s", cfg.Bus.Address)
	}
	if cfg.TTS.Mode != "mock" || cfg.TTS.DefaultVoice != "Hans" {
		t.Fatalf("unexpected tts config: %+v", cfg.TTS)
	}
	if cfg.TTS.Voices["en"] != "Joanna" {
		t.Fatalf("expected voice map entry, got %v", cfg.TTS.Voices)
	}
	if cfg.Cache.Directory != "/var/cache/tts" {
		t.Fatalf("expected cache directory override")
	}
	if cfg.Converter.Mode != "exec" {
		t.Fatalf("expected untouched defaults to survive, got %s", cfg.Converter.Mode)
	}
}

func TestSnipsConfig(t *testing.T) {
	dir := t.TempDir()
	snips := filepath.Join(dir, "snips.toml")
	data := `
[snips-common]
mqtt = "raspi.local:1885"
mqtt_username = "snips"
mqtt_password = "hunter2"
`
	if err := os.WriteFile(snips, []byte(data), 0o644); err != nil {
		t.Fatalf("write snips config: %v", err)
	}
	t.Setenv("HERMES_TTS_BUS_SNIPS_CONFIG", snips)

	cfg, err := Load("", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Address != "raspi.local:1885" {
		t.Fatalf("expected address from snips.toml, got %s", cfg.Bus.Address)
	}
	if cfg.Bus.Username != "snips" || cfg.Bus.Password != "hunter2" {
		t.Fatalf("expected credentials from snips.toml")
	}
}

func TestSnipsConfigMissing(t *testing.T) {
	t.Setenv("HERMES_TTS_BUS_SNIPS_CONFIG", filepath.Join(t.TempDir(), "snips.toml"))
	if _, err := Load("", false); err == nil {
		t.Fatal("expected error when snips config is missing")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HERMES_TTS_BUS_TRANSPORT", "nats")
	t.Setenv("HERMES_TTS_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("HERMES_TTS_BUS_USERNAME", "alice")
	t.Setenv("HERMES_TTS_BUS_PASSWORD", "secret")
	t.Setenv("HERMES_TTS_BUS_TLS_INSECURE", "true")
	t.Setenv("HERMES_TTS_BUS_CONNECT_TIMEOUT_MS", "1500")
	t.Setenv("HERMES_TTS_EVENT_STORE_RETENTION_MODE", "ephemeral")
	t.Setenv("HERMES_TTS_TTS_MODE", "exec")
	t.Setenv("HERMES_TTS_TTS_COMMAND", "say-it --mp3")
	t.Setenv("HERMES_TTS_TTS_TIMEOUT_MS", "2500")
	t.Setenv("HERMES_TTS_CONVERTER_MODE", "native")

	cfg, err := Load("", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Transport != "nats" {
		t.Fatalf("expected transport override")
	}
	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 1500 {
		t.Fatalf("expected timeout 1500, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.EventStore.RetentionMode != "ephemeral" {
		t.Fatalf("expected event store retention mode override")
	}
	if cfg.TTS.Mode != "exec" || cfg.TTS.Command != "say-it --mp3" || cfg.TTS.TimeoutMS != 2500 {
		t.Fatalf("unexpected tts overrides: %+v", cfg.TTS)
	}
	if cfg.Converter.Mode != "native" {
		t.Fatalf("expected converter mode override")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"bad address":         func(c *Config) { c.Bus.Address = "no-port" },
		"unknown transport":   func(c *Config) { c.Bus.Transport = "amqp" },
		"embedded with mqtt":  func(c *Config) { c.Bus.Embedded = true },
		"converter template":  func(c *Config) { c.Converter.Command = "mpg123 -w out.wav" },
		"exec without cmd":    func(c *Config) { c.TTS.Mode = "exec" },
		"empty default voice": func(c *Config) { c.TTS.DefaultVoice = "" },
		"bad log format":      func(c *Config) { c.Telemetry.LogFormat = "xml" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			if err := validate(cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
