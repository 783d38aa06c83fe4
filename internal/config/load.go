package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable read by Load.
const EnvPrefix = "CARSYNC"

// defaults lists every configuration key with its default value. Viper only
// maps environment variables onto keys it already knows about, so keys without a
// meaningful default are registered with their zero value.
var defaults = map[string]any{
	"server.port":      8080,
	"server.log_level": "info",

	"database.url": "",

	"broker.driver":            "amqp",
	"broker.url":               "",
	"broker.exchange":          "carsync.tasks",
	"broker.prefetch":          4,
	"broker.diagnosis_workers": 2,
	"broker.sync_workers":      2,
	"broker.delay_ttl_ms":      15000,
	"broker.max_retry":         3,

	"ai.visual_url":           "",
	"ai.audio_url":            "",
	"ai.anomaly_url":          "",
	"ai.comprehensive_url":    "",
	"ai.service_token_secret": "",
	"ai.evidence_mode":        "url",
	"ai.evidence_dir":         "",

	"http.connect_timeout_seconds":   5,
	"http.inference_timeout_seconds": 60,
	"http.token_timeout_seconds":     15,
	"http.status_timeout_seconds":    15,
	"http.data_timeout_seconds":      30,
	"http.max_attempts":              3,
	"http.base_delay_ms":             500,
	"http.token_margin_seconds":      60,

	"providers.hyundai.client_id":     "",
	"providers.hyundai.client_secret": "",
	"providers.hyundai.redirect_uri":  "",
	"providers.hyundai.token_uri":     "",
	"providers.hyundai.api_base_url":  "",
	"providers.kia.client_id":         "",
	"providers.kia.client_secret":     "",
	"providers.kia.redirect_uri":      "",
	"providers.kia.token_uri":         "",
	"providers.kia.api_base_url":      "",

	"security.encryption_key": "",

	"schedule.sweep_cron":            "*/5 * * * *",
	"schedule.resync_cron":           "0 */6 * * *",
	"schedule.stuck_session_minutes": 30,

	"llm.gemini_api_key": "",
	"llm.model_name":     "gemini-2.0-flash",
	"llm.max_retries":    2,
}

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom behaves like Load but reads the given config file when path is
// non-empty instead of searching the working directory for config.yaml.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}
