package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database" validate:"required"`
	Broker    BrokerConfig    `mapstructure:"broker" validate:"required"`
	AI        AIConfig        `mapstructure:"ai" validate:"required"`
	HTTP      HTTPConfig      `mapstructure:"http" validate:"required"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Security  SecurityConfig  `mapstructure:"security" validate:"required"`
	Schedule  ScheduleConfig  `mapstructure:"schedule" validate:"required"`
	LLM       LLMConfig       `mapstructure:"llm"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
}

// BrokerConfig describes the task queue broker and consumer concurrency.
type BrokerConfig struct {
	// Driver selects the broker implementation: "amqp" for RabbitMQ or
	// "memory" for a single-process broker.
	Driver string `mapstructure:"driver" validate:"required,oneof=amqp memory"`
	URL    string `mapstructure:"url" validate:"required_if=Driver amqp"`

	Exchange         string `mapstructure:"exchange" validate:"required"`
	Prefetch         int    `mapstructure:"prefetch" validate:"gte=1"`
	DiagnosisWorkers int    `mapstructure:"diagnosis_workers" validate:"gte=1"`
	SyncWorkers      int    `mapstructure:"sync_workers" validate:"gte=1"`

	// DelayTTLMillis is the message TTL of the cloud sync delay queue.
	DelayTTLMillis int `mapstructure:"delay_ttl_ms" validate:"gte=1"`

	// MaxRetry is the number of delay cycles after which a sync request is dropped.
	MaxRetry int `mapstructure:"max_retry" validate:"gte=1"`
}

// AIConfig contains the AI diagnosis server endpoints.
type AIConfig struct {
	VisualURL          string `mapstructure:"visual_url" validate:"required,url"`
	AudioURL           string `mapstructure:"audio_url" validate:"required,url"`
	AnomalyURL         string `mapstructure:"anomaly_url" validate:"required,url"`
	ComprehensiveURL   string `mapstructure:"comprehensive_url" validate:"required,url"`
	ServiceTokenSecret string `mapstructure:"service_token_secret" validate:"omitempty,min=32"`

	// EvidenceMode is "url" when evidence refs are fetchable URLs, or
	// "multipart" when they name files staged under EvidenceDir.
	EvidenceMode string `mapstructure:"evidence_mode" validate:"required,oneof=url multipart"`
	EvidenceDir  string `mapstructure:"evidence_dir" validate:"required_if=EvidenceMode multipart"`
}

// HTTPConfig tunes outbound call timeouts and the immediate retry policy.
type HTTPConfig struct {
	ConnectTimeoutSeconds   int `mapstructure:"connect_timeout_seconds" validate:"gte=1,lte=5"`
	InferenceTimeoutSeconds int `mapstructure:"inference_timeout_seconds" validate:"gte=15,lte=60"`
	TokenTimeoutSeconds     int `mapstructure:"token_timeout_seconds" validate:"gte=1,lte=60"`
	StatusTimeoutSeconds    int `mapstructure:"status_timeout_seconds" validate:"gte=1,lte=60"`
	DataTimeoutSeconds      int `mapstructure:"data_timeout_seconds" validate:"gte=1,lte=60"`
	MaxAttempts             int `mapstructure:"max_attempts" validate:"gte=1,lte=5"`
	BaseDelayMillis         int `mapstructure:"base_delay_ms" validate:"gte=1"`
	TokenMarginSeconds      int `mapstructure:"token_margin_seconds" validate:"gte=0"`
}

// ProviderConfig contains OAuth and API settings for a single cloud provider.
type ProviderConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURI  string `mapstructure:"redirect_uri" validate:"omitempty,url"`
	TokenURI     string `mapstructure:"token_uri" validate:"omitempty,url"`
	APIBaseURL   string `mapstructure:"api_base_url" validate:"omitempty,url"`
}

// Enabled reports whether enough settings are present to talk to the provider.
func (p ProviderConfig) Enabled() bool {
	return p.ClientID != "" && p.TokenURI != "" && p.APIBaseURL != ""
}

// ProvidersConfig groups per-provider settings.
type ProvidersConfig struct {
	Hyundai ProviderConfig `mapstructure:"hyundai"`
	Kia     ProviderConfig `mapstructure:"kia"`
}

// SecurityConfig holds key material for sealing tokens and VINs at rest.
type SecurityConfig struct {
	// EncryptionKey is a 32-byte key encoded as 64 hex characters.
	EncryptionKey string `mapstructure:"encryption_key" validate:"required,len=64,hexadecimal"`
}

// ScheduleConfig contains cron expressions for background maintenance jobs.
type ScheduleConfig struct {
	SweepCron           string `mapstructure:"sweep_cron" validate:"required"`
	ResyncCron          string `mapstructure:"resync_cron" validate:"required"`
	StuckSessionMinutes int    `mapstructure:"stuck_session_minutes" validate:"gte=1"`
}

// LLMConfig contains settings for the optional report narrator.
type LLMConfig struct {
	GeminiAPIKey string `mapstructure:"gemini_api_key"`
	ModelName    string `mapstructure:"model_name" validate:"required_with=GeminiAPIKey"`
	MaxRetries   int    `mapstructure:"max_retries" validate:"gte=0,lte=5"`
}
