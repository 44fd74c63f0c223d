// Package cortexconfig loads the proxy and CLI's runtime configuration:
// a flat struct of environment variables with defaults, optionally
// overlaid by a YAML file named by CORTEX_CONFIG_FILE.
package cortexconfig

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// PlannerMode selects how the proxy obtains a plan for a chat request.
type PlannerMode string

const (
	PlannerModeFallback  PlannerMode = "fallback"
	PlannerModeOpenAI    PlannerMode = "openai"
	PlannerModeByoHeader PlannerMode = "byo_header"
)

// Config is the proxy and CLI's resolved runtime configuration.
type Config struct {
	Home string `yaml:"home,omitempty"`

	Brain string `yaml:"brain,omitempty"`

	BrainSecretEnvVar string `yaml:"brain_secret_env_var,omitempty"`

	RMVMEndpoint    string `yaml:"rmvm_endpoint,omitempty"`
	RMVMTLSCAFile   string `yaml:"rmvm_tls_ca_file,omitempty"`

	PlannerMode            PlannerMode   `yaml:"planner_mode,omitempty"`
	PlannerBaseURL         string        `yaml:"planner_base_url,omitempty"`
	PlannerAPIKey          string        `yaml:"planner_api_key,omitempty"`
	PlannerModel           string        `yaml:"planner_model,omitempty"`
	PlannerTimeoutSeconds  int           `yaml:"planner_timeout_seconds,omitempty"`

	AuditExportDSN string `yaml:"audit_export_dsn,omitempty"`

	RateLimitRedisURL string  `yaml:"rate_limit_redis_url,omitempty"`
	RateLimitRPS      float64 `yaml:"rate_limit_rps,omitempty"`
	RateLimitBurst    int     `yaml:"rate_limit_burst,omitempty"`

	ListenAddr string `yaml:"listen_addr,omitempty"`
}

// PlannerTimeout returns PlannerTimeoutSeconds as a time.Duration.
func (c Config) PlannerTimeout() time.Duration {
	return time.Duration(c.PlannerTimeoutSeconds) * time.Second
}

// Load resolves configuration from environment variables with built-in
// defaults, then applies a YAML overlay from CORTEX_CONFIG_FILE when
// set. Overlay values win over environment and defaults.
func Load() (Config, error) {
	cfg := Config{
		Home:                  defaultHome(),
		BrainSecretEnvVar:     envOr("CORTEX_BRAIN_SECRET_ENV", "CORTEX_BRAIN_SECRET"),
		Brain:                 os.Getenv("CORTEX_BRAIN"),
		RMVMEndpoint:          envOr("CORTEX_RMVM_ENDPOINT", "localhost:7443"),
		RMVMTLSCAFile:         os.Getenv("CORTEX_RMVM_TLS_CA_FILE"),
		PlannerMode:           PlannerMode(envOr("CORTEX_PLANNER_MODE", string(PlannerModeFallback))),
		PlannerBaseURL:        envOr("CORTEX_PLANNER_BASE_URL", "https://api.openai.com/v1"),
		PlannerAPIKey:         envOr("CORTEX_PLANNER_API_KEY", os.Getenv("OPENAI_API_KEY")),
		PlannerModel:          envOr("CORTEX_PLANNER_MODEL", "gpt-4o-mini"),
		PlannerTimeoutSeconds: envIntOr("CORTEX_PLANNER_TIMEOUT_SECONDS", 10),
		AuditExportDSN:        os.Getenv("CORTEX_AUDIT_EXPORT_DSN"),
		RateLimitRedisURL:     os.Getenv("CORTEX_RATE_LIMIT_REDIS_URL"),
		RateLimitRPS:          envFloatOr("CORTEX_RATE_LIMIT_RPS", 5),
		RateLimitBurst:        envIntOr("CORTEX_RATE_LIMIT_BURST", 10),
		ListenAddr:            envOr("CORTEX_LISTEN_ADDR", ":8080"),
	}

	if overlayPath := os.Getenv("CORTEX_CONFIG_FILE"); overlayPath != "" {
		if err := applyOverlay(&cfg, overlayPath); err != nil {
			return Config{}, err
		}
	}

	return cfg, nil
}

func applyOverlay(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cortexconfig: read overlay %s: %w", path, err)
	}
	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("cortexconfig: parse overlay %s: %w", path, err)
	}
	mergeNonZero(cfg, overlay)
	return nil
}

// mergeNonZero overwrites dst's fields with any non-empty overlay value,
// leaving environment/default values in place where the overlay is
// silent.
func mergeNonZero(dst *Config, overlay Config) {
	if overlay.Home != "" {
		dst.Home = overlay.Home
	}
	if overlay.Brain != "" {
		dst.Brain = overlay.Brain
	}
	if overlay.BrainSecretEnvVar != "" {
		dst.BrainSecretEnvVar = overlay.BrainSecretEnvVar
	}
	if overlay.RMVMEndpoint != "" {
		dst.RMVMEndpoint = overlay.RMVMEndpoint
	}
	if overlay.RMVMTLSCAFile != "" {
		dst.RMVMTLSCAFile = overlay.RMVMTLSCAFile
	}
	if overlay.PlannerMode != "" {
		dst.PlannerMode = overlay.PlannerMode
	}
	if overlay.PlannerBaseURL != "" {
		dst.PlannerBaseURL = overlay.PlannerBaseURL
	}
	if overlay.PlannerAPIKey != "" {
		dst.PlannerAPIKey = overlay.PlannerAPIKey
	}
	if overlay.PlannerModel != "" {
		dst.PlannerModel = overlay.PlannerModel
	}
	if overlay.PlannerTimeoutSeconds != 0 {
		dst.PlannerTimeoutSeconds = overlay.PlannerTimeoutSeconds
	}
	if overlay.AuditExportDSN != "" {
		dst.AuditExportDSN = overlay.AuditExportDSN
	}
	if overlay.RateLimitRedisURL != "" {
		dst.RateLimitRedisURL = overlay.RateLimitRedisURL
	}
	if overlay.RateLimitRPS != 0 {
		dst.RateLimitRPS = overlay.RateLimitRPS
	}
	if overlay.RateLimitBurst != 0 {
		dst.RateLimitBurst = overlay.RateLimitBurst
	}
	if overlay.ListenAddr != "" {
		dst.ListenAddr = overlay.ListenAddr
	}
}

func defaultHome() string {
	if home := os.Getenv("CORTEX_HOME"); home != "" {
		return home
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return dir + "/cortex"
	}
	return ".cortex"
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloatOr(key string, fallback float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
