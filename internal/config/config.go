package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	LogFormat    string `yaml:"log_format"` // json, console
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bind    string `yaml:"bind"`
	Port    int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Cache       CacheConfig      `yaml:"cache"`
	Converter   ConverterConfig  `yaml:"converter"`
	TTS         TTSConfig        `yaml:"tts"`
}

// BusConfig selects the transport. Address is the MQTT broker host:port;
// Servers are only used by the nats transport.
type BusConfig struct {
	Transport      string   `yaml:"transport"` // mqtt, nats
	Address        string   `yaml:"address"`
	SnipsConfig    string   `yaml:"snips_config"`
	ClientID       string   `yaml:"client_id"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	MQTTPort       int      `yaml:"mqtt_port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"` // ephemeral, persistent
	RetentionDays int    `yaml:"retention_days"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type CacheConfig struct {
	Directory string `yaml:"directory"`
}

type ConverterConfig struct {
	Mode    string `yaml:"mode"` // exec, native
	Command string `yaml:"command"`
}

type TTSConfig struct {
	Mode         string            `yaml:"mode"` // polly, exec, mock
	Command      string            `yaml:"command"`
	DefaultVoice string            `yaml:"default_voice"`
	Voices       map[string]string `yaml:"voices"` // lang -> voice
	Region       string            `yaml:"region"`
	Engine       string            `yaml:"engine"`
	SampleRate   string            `yaml:"sample_rate"`
	TimeoutMS    int               `yaml:"timeout_ms"`
}

// snipsFile is the subset of /etc/snips.toml shared by every Snips component.
type snipsFile struct {
	Common struct {
		MQTT         string `toml:"mqtt"`
		MQTTUsername string `toml:"mqtt_username"`
		MQTTPassword string `toml:"mqtt_password"`
	} `toml:"snips-common"`
}

func Default() Config {
	return Config{
		RuntimeName: "hermes-tts",
		Environment: "development",
		HTTP: HTTPConfig{
			Enabled: true,
			Bind:    "127.0.0.1",
			Port:    8089,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			LogFormat:    "json",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Transport:      "mqtt",
			Address:        "localhost:1883",
			ClientID:       "hermes-tts",
			Embedded:       false,
			Port:           4222,
			MQTTPort:       1883,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 5000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/hermes-tts.db",
			RetentionMode: "persistent",
			RetentionDays: 7,
		},
		Cache: CacheConfig{
			Directory: "/tmp/tts",
		},
		Converter: ConverterConfig{
			Mode:    "exec",
			Command: "/usr/bin/mpg123 -q -w {output} {input}",
		},
		TTS: TTSConfig{
			Mode:         "polly",
			DefaultVoice: "Marlene",
			Engine:       "standard",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path, the
// Snips TOML file named by bus.snips_config and HERMES_TTS_* variables, in
// that order. A missing file is an error unless allowMissing is set.
func Load(path string, allowMissing bool) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse config file: %w", err)
			}
		case os.IsNotExist(err) && allowMissing:
		case os.IsNotExist(err):
			return cfg, fmt.Errorf("config file not found: %w", err)
		default:
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	overrideString(&cfg.Bus.SnipsConfig, "HERMES_TTS_BUS_SNIPS_CONFIG")
	if cfg.Bus.SnipsConfig != "" {
		if err := applySnipsConfig(&cfg, cfg.Bus.SnipsConfig); err != nil {
			return cfg, err
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applySnipsConfig(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read snips config: %w", err)
	}
	var sf snipsFile
	if err := toml.Unmarshal(data, &sf); err != nil {
		return fmt.Errorf("failed to parse snips config: %w", err)
	}
	if sf.Common.MQTT != "" {
		cfg.Bus.Address = sf.Common.MQTT
	}
	if sf.Common.MQTTUsername != "" {
		cfg.Bus.Username = sf.Common.MQTTUsername
	}
	if sf.Common.MQTTPassword != "" {
		cfg.Bus.Password = sf.Common.MQTTPassword
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "HERMES_TTS_RUNTIME_NAME")
	overrideString(&cfg.Environment, "HERMES_TTS_ENVIRONMENT")
	overrideBool(&cfg.HTTP.Enabled, "HERMES_TTS_HTTP_ENABLED")
	overrideString(&cfg.HTTP.Bind, "HERMES_TTS_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "HERMES_TTS_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "HERMES_TTS_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.LogFormat, "HERMES_TTS_TELEMETRY_LOG_FORMAT")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "HERMES_TTS_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "HERMES_TTS_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Bus.Transport, "HERMES_TTS_BUS_TRANSPORT")
	overrideString(&cfg.Bus.Address, "HERMES_TTS_BUS_ADDRESS")
	overrideString(&cfg.Bus.ClientID, "HERMES_TTS_BUS_CLIENT_ID")
	overrideBool(&cfg.Bus.Embedded, "HERMES_TTS_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "HERMES_TTS_BUS_PORT")
	overrideInt(&cfg.Bus.MQTTPort, "HERMES_TTS_BUS_MQTT_PORT")
	overrideString(&cfg.Bus.StoreDir, "HERMES_TTS_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "HERMES_TTS_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "HERMES_TTS_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "HERMES_TTS_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "HERMES_TTS_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "HERMES_TTS_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "HERMES_TTS_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "HERMES_TTS_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "HERMES_TTS_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "HERMES_TTS_EVENT_STORE_RETENTION_DAYS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "HERMES_TTS_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Cache.Directory, "HERMES_TTS_CACHE_DIRECTORY")
	overrideString(&cfg.Converter.Mode, "HERMES_TTS_CONVERTER_MODE")
	overrideString(&cfg.Converter.Command, "HERMES_TTS_CONVERTER_COMMAND")
	overrideString(&cfg.TTS.Mode, "HERMES_TTS_TTS_MODE")
	overrideString(&cfg.TTS.Command, "HERMES_TTS_TTS_COMMAND")
	overrideString(&cfg.TTS.DefaultVoice, "HERMES_TTS_TTS_DEFAULT_VOICE")
	overrideString(&cfg.TTS.Region, "HERMES_TTS_TTS_REGION")
	overrideString(&cfg.TTS.Engine, "HERMES_TTS_TTS_ENGINE")
	overrideString(&cfg.TTS.SampleRate, "HERMES_TTS_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.TimeoutMS, "HERMES_TTS_TTS_TIMEOUT_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Enabled && (cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535) {
		return errors.New("http.port must be between 1 and 65535")
	}
	switch cfg.Telemetry.LogFormat {
	case "json", "console":
	default:
		return errors.New("telemetry.log_format must be one of json|console")
	}
	switch cfg.Bus.Transport {
	case "mqtt":
		if _, port, err := net.SplitHostPort(cfg.Bus.Address); err != nil {
			return fmt.Errorf("bus.address must be host:port: %w", err)
		} else if p, err := strconv.Atoi(port); err != nil || p <= 0 || p > 65535 {
			return errors.New("bus.address port must be between 1 and 65535")
		}
		if cfg.Bus.Embedded {
			return errors.New("bus.embedded requires transport=nats")
		}
	case "nats":
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
			if cfg.Bus.MQTTPort < 0 || cfg.Bus.MQTTPort > 65535 {
				return errors.New("bus.mqtt_port must be between 0 and 65535")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	default:
		return errors.New("bus.transport must be one of mqtt|nats")
	}
	if cfg.Bus.ConnectTimeout <= 0 {
		return errors.New("bus.connect_timeout_ms must be positive")
	}
	if cfg.Bus.ClientID == "" {
		return errors.New("bus.client_id must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral":
	case "persistent":
		if cfg.EventStore.Path == "" {
			return errors.New("event_store.path must not be empty")
		}
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Cache.Directory == "" {
		return errors.New("cache.directory must not be empty")
	}
	switch cfg.Converter.Mode {
	case "native":
	case "exec":
		if !strings.Contains(cfg.Converter.Command, "{input}") || !strings.Contains(cfg.Converter.Command, "{output}") {
			return errors.New("converter.command must reference {input} and {output}")
		}
	default:
		return errors.New("converter.mode must be one of exec|native")
	}
	switch cfg.TTS.Mode {
	case "polly", "mock":
	case "exec":
		if cfg.TTS.Command == "" {
			return errors.New("tts.command must be set when mode=exec")
		}
	default:
		return errors.New("tts.mode must be one of polly|exec|mock")
	}
	if cfg.TTS.DefaultVoice == "" {
		return errors.New("tts.default_voice must not be empty")
	}
	if cfg.TTS.TimeoutMS < 0 {
		return errors.New("tts.timeout_ms must be >= 0")
	}
	return nil
}
