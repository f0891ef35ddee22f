package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Node        NodeConfig      `yaml:"node"`
	Journal     JournalConfig   `yaml:"journal"`
	Transport   TransportConfig `yaml:"transport"`
	Edit        EditConfig      `yaml:"edit"`
	Filters     FiltersConfig   `yaml:"filters"`
	Dictation   DictationConfig `yaml:"dictation"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type NodeConfig struct {
	ID                string `yaml:"id"`
	Role              string `yaml:"role"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int    `yaml:"heartbeat_timeout_ms"`
}

type JournalConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// TransportConfig selects how recognition events reach the engine.
// Mode "exec" spawns a recognizer CLI and frames its line-oriented stdout;
// mode "deepgram" opens a streaming WebSocket session and relays PCM frames
// from the bus.
type TransportConfig struct {
	Mode       string `yaml:"mode"`
	Command    string `yaml:"command"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	Language   string `yaml:"language"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
}

type EditConfig struct {
	Mode        string  `yaml:"mode"` // mock, ollama, openai, exec
	Endpoint    string  `yaml:"endpoint"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Command     string  `yaml:"command"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	TimeoutMS   int     `yaml:"timeout_ms"`
}

type FiltersConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Directory string `yaml:"directory"`
}

type DictationConfig struct {
	SessionID         string `yaml:"session_id"`
	TrailingSeparator string `yaml:"trailing_separator"`
}

func Default() Config {
	return Config{
		RuntimeName: "voxed-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Node: NodeConfig{
			ID:                "voxed-node-1",
			Role:              "engine",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
		},
		Journal: JournalConfig{
			Path:          "./data/voxed-journal.db",
			RetentionMode: "ephemeral",
			RetentionDays: 7,
			MaxSessions:   1000,
		},
		Transport: TransportConfig{
			Mode:       "exec",
			Command:    "voxed-recognizer --live",
			Model:      "nova-3",
			Language:   "en",
			SampleRate: 16000,
			Channels:   1,
		},
		Edit: EditConfig{
			Mode:        "mock",
			Endpoint:    "http://localhost:11434",
			Model:       "llama3.2:latest",
			MaxTokens:   512,
			Temperature: 0.2,
			TimeoutMS:   30000,
		},
		Filters: FiltersConfig{
			Enabled:   false,
			Directory: "./filters",
		},
		Dictation: DictationConfig{
			SessionID:         "default",
			TrailingSeparator: " ",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "VOXED_RUNTIME_NAME")
	overrideString(&cfg.Environment, "VOXED_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VOXED_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VOXED_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VOXED_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VOXED_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VOXED_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "VOXED_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "VOXED_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VOXED_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "VOXED_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VOXED_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VOXED_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VOXED_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VOXED_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VOXED_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Node.ID, "VOXED_NODE_ID")
	overrideString(&cfg.Node.Role, "VOXED_NODE_ROLE")
	overrideInt(&cfg.Node.HeartbeatInterval, "VOXED_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "VOXED_NODE_HEARTBEAT_TIMEOUT_MS")
	overrideString(&cfg.Journal.Path, "VOXED_JOURNAL_PATH")
	overrideString(&cfg.Journal.RetentionMode, "VOXED_JOURNAL_RETENTION_MODE")
	overrideInt(&cfg.Journal.RetentionDays, "VOXED_JOURNAL_RETENTION_DAYS")
	overrideInt(&cfg.Journal.MaxSessions, "VOXED_JOURNAL_MAX_SESSIONS")
	overrideBool(&cfg.Journal.VacuumOnStart, "VOXED_JOURNAL_VACUUM_ON_START")
	overrideString(&cfg.Transport.Mode, "VOXED_TRANSPORT_MODE")
	overrideString(&cfg.Transport.Command, "VOXED_TRANSPORT_COMMAND")
	overrideString(&cfg.Transport.APIKey, "VOXED_TRANSPORT_API_KEY")
	overrideString(&cfg.Transport.Model, "VOXED_TRANSPORT_MODEL")
	overrideString(&cfg.Transport.Language, "VOXED_TRANSPORT_LANGUAGE")
	overrideInt(&cfg.Transport.SampleRate, "VOXED_TRANSPORT_SAMPLE_RATE")
	overrideInt(&cfg.Transport.Channels, "VOXED_TRANSPORT_CHANNELS")
	overrideString(&cfg.Edit.Mode, "VOXED_EDIT_MODE")
	overrideString(&cfg.Edit.Endpoint, "VOXED_EDIT_ENDPOINT")
	overrideString(&cfg.Edit.APIKey, "VOXED_EDIT_API_KEY")
	overrideString(&cfg.Edit.Model, "VOXED_EDIT_MODEL")
	overrideString(&cfg.Edit.Command, "VOXED_EDIT_COMMAND")
	overrideInt(&cfg.Edit.MaxTokens, "VOXED_EDIT_MAX_TOKENS")
	overrideFloat(&cfg.Edit.Temperature, "VOXED_EDIT_TEMPERATURE")
	overrideInt(&cfg.Edit.TimeoutMS, "VOXED_EDIT_TIMEOUT_MS")
	overrideBool(&cfg.Filters.Enabled, "VOXED_FILTERS_ENABLED")
	overrideString(&cfg.Filters.Directory, "VOXED_FILTERS_DIRECTORY")
	overrideString(&cfg.Dictation.SessionID, "VOXED_DICTATION_SESSION_ID")
	overrideString(&cfg.Dictation.TrailingSeparator, "VOXED_DICTATION_TRAILING_SEPARATOR")
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

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Node.ID == "" {
		return errors.New("node.id must not be empty")
	}
	if cfg.Node.HeartbeatInterval <= 0 {
		return errors.New("node.heartbeat_interval_ms must be positive")
	}
	if cfg.Node.HeartbeatTimeout <= cfg.Node.HeartbeatInterval {
		return errors.New("node.heartbeat_timeout_ms must be greater than heartbeat interval")
	}
	if cfg.Journal.Path == "" {
		return errors.New("journal.path must not be empty")
	}
	switch cfg.Journal.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("journal.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.Journal.RetentionDays < 0 {
		return errors.New("journal.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	switch cfg.Transport.Mode {
	case "exec":
		if cfg.Transport.Command == "" {
			return errors.New("transport.command must be set when mode=exec")
		}
	case "deepgram":
		if cfg.Transport.APIKey == "" {
			return errors.New("transport.api_key must be set when mode=deepgram")
		}
		if cfg.Transport.SampleRate <= 0 {
			return errors.New("transport.sample_rate must be positive")
		}
		if cfg.Transport.Channels <= 0 {
			return errors.New("transport.channels must be positive")
		}
	default:
		return errors.New("transport.mode must be one of exec|deepgram")
	}
	switch cfg.Edit.Mode {
	case "mock", "ollama", "openai", "exec":
	default:
		return errors.New("edit.mode must be one of mock|ollama|openai|exec")
	}
	if cfg.Edit.Mode == "ollama" && cfg.Edit.Endpoint == "" {
		return errors.New("edit.endpoint must be set when mode=ollama")
	}
	if cfg.Edit.Mode == "openai" && cfg.Edit.APIKey == "" {
		return errors.New("edit.api_key must be set when mode=openai")
	}
	if cfg.Edit.Mode == "exec" && cfg.Edit.Command == "" {
		return errors.New("edit.command must be set when mode=exec")
	}
	if cfg.Edit.MaxTokens < 0 {
		return errors.New("edit.max_tokens must be >= 0")
	}
	if cfg.Edit.TimeoutMS <= 0 {
		return errors.New("edit.timeout_ms must be positive")
	}
	if cfg.Filters.Enabled && cfg.Filters.Directory == "" {
		return errors.New("filters.directory must not be empty when filters are enabled")
	}
	if cfg.Dictation.SessionID == "" {
		return errors.New("dictation.session_id must not be empty")
	}
	return nil
}
