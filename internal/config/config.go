package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for RelayBot. It is loaded fresh per
// process start and treated as immutable afterwards; settings changes replace
// the file wholesale.
type Config struct {
	General   GeneralConfig   `json:"general"`
	Gateway   GatewayConfig   `json:"gateway"`
	Routing   RoutingConfig   `json:"routing"`
	Store     StoreConfig     `json:"store"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Intent    IntentConfig    `json:"intent"`
	Metrics   MetricsConfig   `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel     string `json:"logLevel"`
	SystemPrompt string `json:"systemPrompt,omitempty"`
}

// GatewayConfig selects and configures the outbound messaging transport and
// the inbound webhook surface.
type GatewayConfig struct {
	Transport    string         `json:"transport"` // "whatsapp" | "telegram"
	Host         string         `json:"host"`
	Port         int            `json:"port"`
	ChunkLimit   int            `json:"chunkLimit"`   // transport size ceiling per message
	ChunkDelayMs int            `json:"chunkDelayMs"` // delay between ordered chunks
	WhatsApp     WhatsAppConfig `json:"whatsapp"`
	Telegram     TelegramConfig `json:"telegram,omitempty"`
}

type WhatsAppConfig struct {
	AppSecret     string `json:"appSecret,omitempty"`
	VerifyToken   string `json:"verifyToken,omitempty"`
	AccessToken   string `json:"accessToken,omitempty"`
	PhoneNumberID string `json:"phoneNumberId,omitempty"`
	WebhookPath   string `json:"webhookPath,omitempty"`
	APIBase       string `json:"apiBase,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token,omitempty"`
}

// EndpointConfig names one provider/model/credential triple.
type EndpointConfig struct {
	Provider string `json:"provider"` // "openai" | "anthropic" | "gemini"
	Model    string `json:"model"`
	APIKey   string `json:"apiKey,omitempty"`
	APIBase  string `json:"apiBase,omitempty"`
}

// RoutingConfig is the primary/fallback provider pair plus the per-call
// timeout. Replaced wholesale on settings change, never mutated in place.
type RoutingConfig struct {
	Primary        EndpointConfig  `json:"primary"`
	Fallback       *EndpointConfig `json:"fallback,omitempty"`
	TimeoutSeconds int             `json:"timeoutSeconds"`
}

type StoreConfig struct {
	DBPath        string `json:"dbPath"`
	HistoryWindow int    `json:"historyWindow"` // conversation turns sent to the provider
}

type SchedulerConfig struct {
	Token     string `json:"token,omitempty"`    // bearer secret for the trigger endpoint
	BatchSize int    `json:"batchSize"`          // max rows claimed per invocation
	CronExpr  string `json:"cronExpr,omitempty"` // optional in-process trigger
}

type IntentConfig struct {
	RulesPath string `json:"rulesPath,omitempty"` // optional YAML keyword override
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.relaybot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".relaybot"
	}
	return filepath.Join(home, ".relaybot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// ErrConfigMissing wraps a Load against a path with no config file, so
// callers can tell "run init first" apart from a broken file.
var ErrConfigMissing = errors.New("config file not found")

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w at %s (run init)", ErrConfigMissing, path)
		}
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)
	cfg.Intent.RulesPath = ExpandPath(cfg.Intent.RulesPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values. Missing credentials for
// the selected transport or provider abort the process before any side
// effect.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.Gateway.Transport {
	case "whatsapp", "telegram":
		// valid
	default:
		errs = append(errs, "gateway.transport must be one of: whatsapp, telegram")
	}

	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		errs = append(errs, "gateway.port must be between 0 and 65535")
	}
	if cfg.Gateway.ChunkLimit < 32 {
		errs = append(errs, "gateway.chunkLimit must be >= 32")
	}
	if cfg.Gateway.ChunkDelayMs < 0 {
		errs = append(errs, "gateway.chunkDelayMs must be >= 0")
	}

	if err := validateEndpoint("routing.primary", cfg.Routing.Primary); err != "" {
		errs = append(errs, err)
	}
	if cfg.Routing.Fallback != nil {
		if err := validateEndpoint("routing.fallback", *cfg.Routing.Fallback); err != "" {
			errs = append(errs, err)
		}
	}
	if cfg.Routing.TimeoutSeconds < 15 || cfg.Routing.TimeoutSeconds > 30 {
		errs = append(errs, "routing.timeoutSeconds must be between 15 and 30")
	}

	if cfg.Store.HistoryWindow < 1 {
		errs = append(errs, "store.historyWindow must be >= 1")
	}
	if cfg.Scheduler.BatchSize < 1 {
		errs = append(errs, "scheduler.batchSize must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validateEndpoint(path string, ep EndpointConfig) string {
	switch ep.Provider {
	case "openai", "anthropic", "gemini":
		// valid
	default:
		return path + ".provider must be one of: openai, anthropic, gemini"
	}
	if ep.Model == "" {
		return path + ".model is required"
	}
	return ""
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
