package config

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`
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
	Backend     BackendConfig   `yaml:"backend"`
	History     HistoryConfig   `yaml:"history"`
	Situation   SituationConfig `yaml:"situation"`
	Listen      ListenConfig    `yaml:"listen"`
	Capture     CaptureConfig   `yaml:"capture"`
	Speak       SpeakConfig     `yaml:"speak"`
	Suggest     SuggestConfig   `yaml:"suggest"`
	Session     SessionConfig   `yaml:"session"`
	Gateway     GatewayConfig   `yaml:"gateway"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type NodeConfig struct {
	ID                string           `yaml:"id"`
	Role              string           `yaml:"role"`
	HeartbeatInterval int              `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int              `yaml:"heartbeat_timeout_ms"`
	Capabilities      []NodeCapability `yaml:"capabilities"`
}

type NodeCapability struct {
	Name       string            `yaml:"name"`
	Tier       string            `yaml:"tier"`
	Attributes map[string]string `yaml:"attributes"`
}

type BackendConfig struct {
	Enabled   bool   `yaml:"enabled"`
	BaseURL   string `yaml:"base_url"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type HistoryConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxEntries    int    `yaml:"max_entries"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type SituationConfig struct {
	Enabled          bool           `yaml:"enabled"`
	SampleIntervalMS int            `yaml:"sample_interval_ms"`
	PushUpdates      bool           `yaml:"push_updates"`
	WorkHourStart    int            `yaml:"work_hour_start"`
	WorkHourEnd      int            `yaml:"work_hour_end"`
	WorkPlaces       []string       `yaml:"work_places"`
	Location         LocationConfig `yaml:"location"`
	Geocoder         GeocoderConfig `yaml:"geocoder"`
}

type LocationConfig struct {
	Source    string  `yaml:"source"` // static, exec, none
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
	Command   string  `yaml:"command"`
}

type GeocoderConfig struct {
	URL       string `yaml:"url"`
	UserAgent string `yaml:"user_agent"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type ListenConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Mode           string `yaml:"mode"` // mock, exec, none
	Command        string `yaml:"command"`
	Language       string `yaml:"language"`
	SampleRate     int    `yaml:"sample_rate"`
	Channels       int    `yaml:"channels"`
	PublishInterim bool   `yaml:"publish_interim"`
}

type CaptureConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Mode          string `yaml:"mode"` // mock, exec
	Command       string `yaml:"command"`
	Device        string `yaml:"device"`
	SampleRate    int    `yaml:"sample_rate"`
	Channels      int    `yaml:"channels"`
	MaxDurationMS int    `yaml:"max_duration_ms"`
}

type SpeakConfig struct {
	Enabled    bool        `yaml:"enabled"`
	Mode       string      `yaml:"mode"`   // mock, exec, backend, none
	Player     string      `yaml:"player"` // beep, none
	Command    string      `yaml:"command"`
	OutputHook string      `yaml:"output_hook"`
	Voice      VoiceConfig `yaml:"voice"`
}

type VoiceConfig struct {
	Gender string  `yaml:"gender"`
	Pitch  float64 `yaml:"pitch"`
	Rate   float64 `yaml:"rate"`
}

type SuggestConfig struct {
	Source     string `yaml:"source"` // phrasebook, backend
	PacksDir   string `yaml:"packs_dir"`
	MaxResults int    `yaml:"max_results"`
}

type SessionConfig struct {
	HistoryCap int `yaml:"history_cap"`
}

type GatewayConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Path           string   `yaml:"path"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

func Default() Config {
	return Config{
		RuntimeName: "parlo-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			LogFormat:      "json",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Node: NodeConfig{
			ID:                "parlo-node-1",
			Role:              "runtime",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
		},
		Backend: BackendConfig{
			Enabled:   false,
			BaseURL:   "http://localhost:5000",
			TimeoutMS: 10000,
		},
		History: HistoryConfig{
			Path:          "./data/parlo-history.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxEntries:    10000,
		},
		Situation: SituationConfig{
			Enabled:          true,
			SampleIntervalMS: 60000,
			PushUpdates:      true,
			WorkHourStart:    9,
			WorkHourEnd:      18,
			Location: LocationConfig{
				Source: "none",
			},
			Geocoder: GeocoderConfig{
				URL:       "https://nominatim.openstreetmap.org/reverse",
				UserAgent: "parlo-core",
				TimeoutMS: 5000,
			},
		},
		Listen: ListenConfig{
			Enabled:        true,
			Mode:           "mock",
			SampleRate:     16000,
			Channels:       1,
			PublishInterim: true,
		},
		// capture stays off until a backend is configured; its takes are
		// useless without the transcription endpoint
		Capture: CaptureConfig{
			Enabled:       false,
			Mode:          "mock",
			SampleRate:    16000,
			Channels:      1,
			MaxDurationMS: 30000,
		},
		Speak: SpeakConfig{
			Enabled: true,
			Mode:    "mock",
			Player:  "none",
			Voice: VoiceConfig{
				Gender: "female",
				Pitch:  1.0,
				Rate:   1.0,
			},
		},
		Suggest: SuggestConfig{
			Source:     "phrasebook",
			MaxResults: 0,
		},
		Session: SessionConfig{
			HistoryCap: 10,
		},
		Gateway: GatewayConfig{
			Enabled: true,
			Path:    "/ws",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := ioutil.ReadFile(path)
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
	overrideString(&cfg.RuntimeName, "PARLO_RUNTIME_NAME")
	overrideString(&cfg.Environment, "PARLO_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "PARLO_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "PARLO_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "PARLO_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.LogFormat, "PARLO_TELEMETRY_LOG_FORMAT")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "PARLO_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "PARLO_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "PARLO_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "PARLO_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "PARLO_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "PARLO_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "PARLO_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "PARLO_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "PARLO_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "PARLO_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "PARLO_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "PARLO_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Node.ID, "PARLO_NODE_ID")
	overrideString(&cfg.Node.Role, "PARLO_NODE_ROLE")
	overrideInt(&cfg.Node.HeartbeatInterval, "PARLO_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "PARLO_NODE_HEARTBEAT_TIMEOUT_MS")
	overrideBool(&cfg.Backend.Enabled, "PARLO_BACKEND_ENABLED")
	overrideString(&cfg.Backend.BaseURL, "PARLO_BACKEND_BASE_URL")
	overrideInt(&cfg.Backend.TimeoutMS, "PARLO_BACKEND_TIMEOUT_MS")
	overrideString(&cfg.History.Path, "PARLO_HISTORY_PATH")
	overrideString(&cfg.History.RetentionMode, "PARLO_HISTORY_RETENTION_MODE")
	overrideInt(&cfg.History.RetentionDays, "PARLO_HISTORY_RETENTION_DAYS")
	overrideInt(&cfg.History.MaxEntries, "PARLO_HISTORY_MAX_ENTRIES")
	overrideBool(&cfg.History.VacuumOnStart, "PARLO_HISTORY_VACUUM_ON_START")
	overrideBool(&cfg.Situation.Enabled, "PARLO_SITUATION_ENABLED")
	overrideInt(&cfg.Situation.SampleIntervalMS, "PARLO_SITUATION_SAMPLE_INTERVAL_MS")
	overrideBool(&cfg.Situation.PushUpdates, "PARLO_SITUATION_PUSH_UPDATES")
	overrideInt(&cfg.Situation.WorkHourStart, "PARLO_SITUATION_WORK_HOUR_START")
	overrideInt(&cfg.Situation.WorkHourEnd, "PARLO_SITUATION_WORK_HOUR_END")
	overrideStringSlice(&cfg.Situation.WorkPlaces, "PARLO_SITUATION_WORK_PLACES")
	overrideString(&cfg.Situation.Location.Source, "PARLO_SITUATION_LOCATION_SOURCE")
	overrideFloat(&cfg.Situation.Location.Latitude, "PARLO_SITUATION_LOCATION_LATITUDE")
	overrideFloat(&cfg.Situation.Location.Longitude, "PARLO_SITUATION_LOCATION_LONGITUDE")
	overrideString(&cfg.Situation.Location.Command, "PARLO_SITUATION_LOCATION_COMMAND")
	overrideString(&cfg.Situation.Geocoder.URL, "PARLO_SITUATION_GEOCODER_URL")
	overrideString(&cfg.Situation.Geocoder.UserAgent, "PARLO_SITUATION_GEOCODER_USER_AGENT")
	overrideInt(&cfg.Situation.Geocoder.TimeoutMS, "PARLO_SITUATION_GEOCODER_TIMEOUT_MS")
	overrideBool(&cfg.Listen.Enabled, "PARLO_LISTEN_ENABLED")
	overrideString(&cfg.Listen.Mode, "PARLO_LISTEN_MODE")
	overrideString(&cfg.Listen.Command, "PARLO_LISTEN_COMMAND")
	overrideString(&cfg.Listen.Language, "PARLO_LISTEN_LANGUAGE")
	overrideInt(&cfg.Listen.SampleRate, "PARLO_LISTEN_SAMPLE_RATE")
	overrideInt(&cfg.Listen.Channels, "PARLO_LISTEN_CHANNELS")
	overrideBool(&cfg.Listen.PublishInterim, "PARLO_LISTEN_PUBLISH_INTERIM")
	overrideBool(&cfg.Capture.Enabled, "PARLO_CAPTURE_ENABLED")
	overrideString(&cfg.Capture.Mode, "PARLO_CAPTURE_MODE")
	overrideString(&cfg.Capture.Command, "PARLO_CAPTURE_COMMAND")
	overrideString(&cfg.Capture.Device, "PARLO_CAPTURE_DEVICE")
	overrideInt(&cfg.Capture.SampleRate, "PARLO_CAPTURE_SAMPLE_RATE")
	overrideInt(&cfg.Capture.Channels, "PARLO_CAPTURE_CHANNELS")
	overrideInt(&cfg.Capture.MaxDurationMS, "PARLO_CAPTURE_MAX_DURATION_MS")
	overrideBool(&cfg.Speak.Enabled, "PARLO_SPEAK_ENABLED")
	overrideString(&cfg.Speak.Mode, "PARLO_SPEAK_MODE")
	overrideString(&cfg.Speak.Player, "PARLO_SPEAK_PLAYER")
	overrideString(&cfg.Speak.Command, "PARLO_SPEAK_COMMAND")
	overrideString(&cfg.Speak.OutputHook, "PARLO_SPEAK_OUTPUT_HOOK")
	overrideString(&cfg.Speak.Voice.Gender, "PARLO_SPEAK_VOICE_GENDER")
	overrideFloat(&cfg.Speak.Voice.Pitch, "PARLO_SPEAK_VOICE_PITCH")
	overrideFloat(&cfg.Speak.Voice.Rate, "PARLO_SPEAK_VOICE_RATE")
	overrideString(&cfg.Suggest.Source, "PARLO_SUGGEST_SOURCE")
	overrideString(&cfg.Suggest.PacksDir, "PARLO_SUGGEST_PACKS_DIR")
	overrideInt(&cfg.Suggest.MaxResults, "PARLO_SUGGEST_MAX_RESULTS")
	overrideInt(&cfg.Session.HistoryCap, "PARLO_SESSION_HISTORY_CAP")
	overrideBool(&cfg.Gateway.Enabled, "PARLO_GATEWAY_ENABLED")
	overrideString(&cfg.Gateway.Path, "PARLO_GATEWAY_PATH")
	overrideStringSlice(&cfg.Gateway.AllowedOrigins, "PARLO_GATEWAY_ALLOWED_ORIGINS")
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
	switch cfg.Telemetry.LogFormat {
	case "json", "text":
	default:
		return errors.New("telemetry.log_format must be one of json|text")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port == 0 || cfg.Bus.Port > 65535 || cfg.Bus.Port < -1 {
			return errors.New("bus.port must be -1 (random) or between 1 and 65535 when embedded mode is enabled")
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
	if cfg.Backend.Enabled {
		if cfg.Backend.BaseURL == "" {
			return errors.New("backend.base_url must not be empty when backend is enabled")
		}
		if cfg.Backend.TimeoutMS <= 0 {
			return errors.New("backend.timeout_ms must be positive")
		}
	}
	if cfg.History.Path == "" {
		return errors.New("history.path must not be empty")
	}
	switch cfg.History.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("history.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.History.RetentionDays < 0 {
		return errors.New("history.retention_days must be >= 0")
	}
	if cfg.Situation.Enabled {
		if cfg.Situation.SampleIntervalMS <= 0 {
			return errors.New("situation.sample_interval_ms must be positive")
		}
		switch cfg.Situation.Location.Source {
		case "static", "exec", "none":
		default:
			return errors.New("situation.location.source must be one of static|exec|none")
		}
		if cfg.Situation.Location.Source == "exec" && cfg.Situation.Location.Command == "" {
			return errors.New("situation.location.command must be set when source=exec")
		}
		if cfg.Situation.Location.Source != "none" {
			if cfg.Situation.Geocoder.URL == "" {
				return errors.New("situation.geocoder.url must not be empty when a location source is configured")
			}
			if cfg.Situation.Geocoder.TimeoutMS <= 0 {
				return errors.New("situation.geocoder.timeout_ms must be positive")
			}
		}
		if cfg.Situation.WorkHourStart < 0 || cfg.Situation.WorkHourStart > 23 ||
			cfg.Situation.WorkHourEnd < 0 || cfg.Situation.WorkHourEnd > 24 {
			return errors.New("situation work hours must be within the day")
		}
	}
	if cfg.Listen.Enabled {
		switch cfg.Listen.Mode {
		case "mock", "exec", "none":
		default:
			return errors.New("listen.mode must be one of mock|exec|none")
		}
		if cfg.Listen.Mode == "exec" && cfg.Listen.Command == "" {
			return errors.New("listen.command must be set when mode=exec")
		}
		if cfg.Listen.SampleRate <= 0 {
			return errors.New("listen.sample_rate must be positive")
		}
		if cfg.Listen.Channels <= 0 {
			return errors.New("listen.channels must be positive")
		}
	}
	if cfg.Capture.Enabled {
		switch cfg.Capture.Mode {
		case "mock", "exec":
		default:
			return errors.New("capture.mode must be one of mock|exec")
		}
		if cfg.Capture.Mode == "exec" && cfg.Capture.Command == "" {
			return errors.New("capture.command must be set when mode=exec")
		}
		if cfg.Capture.SampleRate <= 0 {
			return errors.New("capture.sample_rate must be positive")
		}
		if cfg.Capture.Channels <= 0 {
			return errors.New("capture.channels must be positive")
		}
		if cfg.Capture.MaxDurationMS <= 0 {
			return errors.New("capture.max_duration_ms must be positive")
		}
		if !cfg.Backend.Enabled {
			return errors.New("capture requires backend.enabled for transcription")
		}
	}
	if cfg.Speak.Enabled {
		switch cfg.Speak.Mode {
		case "mock", "exec", "backend", "none":
		default:
			return errors.New("speak.mode must be one of mock|exec|backend|none")
		}
		if cfg.Speak.Mode == "exec" && cfg.Speak.Command == "" {
			return errors.New("speak.command must be set when mode=exec")
		}
		if cfg.Speak.Mode == "backend" && !cfg.Backend.Enabled {
			return errors.New("speak.mode=backend requires backend.enabled")
		}
		switch cfg.Speak.Player {
		case "beep", "none":
		default:
			return errors.New("speak.player must be one of beep|none")
		}
		switch cfg.Speak.Voice.Gender {
		case "male", "female":
		default:
			return errors.New("speak.voice.gender must be one of male|female")
		}
	}
	switch cfg.Suggest.Source {
	case "phrasebook", "backend":
	default:
		return errors.New("suggest.source must be one of phrasebook|backend")
	}
	if cfg.Suggest.Source == "backend" && !cfg.Backend.Enabled {
		return errors.New("suggest.source=backend requires backend.enabled")
	}
	if cfg.Suggest.MaxResults < 0 {
		return errors.New("suggest.max_results must be >= 0")
	}
	if cfg.Session.HistoryCap <= 0 {
		return errors.New("session.history_cap must be positive")
	}
	if cfg.Gateway.Enabled && cfg.Gateway.Path == "" {
		return errors.New("gateway.path must not be empty when the gateway is enabled")
	}
	return nil
}
