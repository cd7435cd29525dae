package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all agent configuration, loaded from a YAML file with
// environment variable overrides.
type Config struct {
	Env         string `yaml:"env" env:"APP_ENV" env-default:"local"`
	StoragePath string `yaml:"storage_path" env:"STORAGE_PATH" env-default:"focus-tracker.db"`

	Log struct {
		Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
		Format string `yaml:"format" env:"LOG_FORMAT" env-default:"console"`
	} `yaml:"log"`

	Student struct {
		ID        string `yaml:"id" env:"STUDENT_ID"`
		UserAgent string `yaml:"user_agent" env:"STUDENT_USER_AGENT"`
	} `yaml:"student"`

	Backend struct {
		BaseURL string `yaml:"base_url" env:"BACKEND_BASE_URL" env-default:"http://localhost:8080"`
		APIKey  string `yaml:"api_key" env:"BACKEND_API_KEY"`
		Timeout int    `yaml:"timeout" env:"BACKEND_TIMEOUT" env-default:"10"` // seconds
	} `yaml:"backend"`

	Tracking struct {
		WarningThresholdMs    int `yaml:"warning_threshold_ms" env-default:"30000"`
		IdleThresholdMs       int `yaml:"idle_threshold_ms" env-default:"60000"`
		CheckIntervalMs       int `yaml:"check_interval_ms" env-default:"1000"`
		PointerThrottleMs     int `yaml:"pointer_throttle_ms" env-default:"500"`
		ScrollThrottleMs      int `yaml:"scroll_throttle_ms" env-default:"300"`
		FocusDwellMs          int `yaml:"focus_dwell_ms" env-default:"2000"`
		BlurGraceMs           int `yaml:"blur_grace_ms" env-default:"500"`
		MinAwayMs             int `yaml:"min_away_ms" env-default:"1000"`
		SyncInterval          int `yaml:"sync_interval" env-default:"30"` // seconds
		BatchSize             int `yaml:"batch_size" env-default:"20"`
		BatchFlushInterval    int `yaml:"batch_flush_interval" env-default:"15"` // seconds
		QueueRetryInterval    int `yaml:"queue_retry_interval" env-default:"60"` // seconds
	} `yaml:"tracking"`

	Ledger struct {
		PenaltyAmount        int `yaml:"penalty_amount" env-default:"-5"`
		RewardAmount         int `yaml:"reward_amount" env-default:"10"`
		RewardMinActiveSecs  int `yaml:"reward_min_active_secs" env-default:"600"`
		SweepInterval        int `yaml:"sweep_interval" env-default:"3600"` // seconds
		SweepInitialDelayMs  int `yaml:"sweep_initial_delay_ms" env-default:"500"`
	} `yaml:"ledger"`

	Server struct {
		Enabled bool `yaml:"enabled" env:"SERVER_ENABLED" env-default:"true"`
		Port    int  `yaml:"port" env:"SERVER_PORT" env-default:"8921"`
	} `yaml:"server"`
}

// LoadConfig loads configuration from the given YAML file path.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return &cfg, nil
}
