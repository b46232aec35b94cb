package startup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable. The bare names (MEDIA_DIR,
// PORT, ...) are accepted as well.
const EnvPrefix = "MEDIAREF"

// Settings is the raw, file-shaped configuration. Durations stay strings so
// a generated file reads "30m" rather than nanoseconds.
type Settings struct {
	MediaDir    string `mapstructure:"media_dir" yaml:"media_dir"`
	DatabaseDir string `mapstructure:"database_dir" yaml:"database_dir"`

	Port           string `mapstructure:"port" yaml:"port"`
	MetricsPort    string `mapstructure:"metrics_port" yaml:"metrics_port"`
	MetricsEnabled bool   `mapstructure:"metrics_enabled" yaml:"metrics_enabled"`

	IndexInterval string `mapstructure:"index_interval" yaml:"index_interval"`
	SyncInterval  string `mapstructure:"sync_interval" yaml:"sync_interval"`
	TickInterval  string `mapstructure:"tick_interval" yaml:"tick_interval"`
	LeaseTTL      string `mapstructure:"lease_ttl" yaml:"lease_ttl"`
	Freshness     string `mapstructure:"freshness" yaml:"freshness"`
	ChunkSize     int    `mapstructure:"chunk_size" yaml:"chunk_size"`
	Fingerprint   bool   `mapstructure:"fingerprint" yaml:"fingerprint"`

	DuplicateThreshold int `mapstructure:"duplicate_threshold" yaml:"duplicate_threshold"`
	QuickSample        int `mapstructure:"quick_sample" yaml:"quick_sample"`
	DeepChunk          int `mapstructure:"deep_chunk" yaml:"deep_chunk"`

	UploadPrefix string   `mapstructure:"upload_prefix" yaml:"upload_prefix"`
	BaseURLs     []string `mapstructure:"base_urls" yaml:"base_urls"`

	APIToken     string `mapstructure:"api_token" yaml:"api_token,omitempty"`
	APITokenHash string `mapstructure:"api_token_hash" yaml:"api_token_hash"`

	MemoryLimit int64   `mapstructure:"memory_limit" yaml:"memory_limit"`
	MemoryRatio float64 `mapstructure:"memory_ratio" yaml:"memory_ratio"`

	LogLevel        string `mapstructure:"log_level" yaml:"log_level"`
	LogFile         string `mapstructure:"log_file" yaml:"log_file"`
	LogMaxSizeMB    int    `mapstructure:"log_max_size_mb" yaml:"log_max_size_mb"`
	LogMaxBackups   int    `mapstructure:"log_max_backups" yaml:"log_max_backups"`
	LogMaxAgeDays   int    `mapstructure:"log_max_age_days" yaml:"log_max_age_days"`
	LogCompress     bool   `mapstructure:"log_compress" yaml:"log_compress"`
	LogHealthChecks bool   `mapstructure:"log_health_checks" yaml:"log_health_checks"`
}

// DefaultSettings returns the built-in defaults.
func DefaultSettings() Settings {
	return Settings{
		MediaDir:           "/media",
		DatabaseDir:        "/database",
		Port:               "8080",
		MetricsPort:        "9090",
		MetricsEnabled:     true,
		IndexInterval:      "30m",
		SyncInterval:       "5m",
		TickInterval:       "5s",
		LeaseTTL:           "2m",
		Freshness:          "24h",
		ChunkSize:          25,
		Fingerprint:        false,
		DuplicateThreshold: 10,
		QuickSample:        200,
		DeepChunk:          250,
		UploadPrefix:       "/uploads/",
		BaseURLs:           []string{},
		MemoryRatio:        0.85,
		LogLevel:           "info",
		LogMaxSizeMB:       100,
		LogMaxBackups:      5,
		LogMaxAgeDays:      30,
		LogCompress:        true,
		LogHealthChecks:    true,
	}
}

// YAML renders the settings as a config file.
func (s Settings) YAML() ([]byte, error) {
	return yaml.Marshal(s)
}

var envFiles = []string{".env", ".env.local"}

// configPaths are searched for mediaref.yaml when no file is named.
var configPaths = []string{".", "./config", "/etc/mediaref", "$HOME/.mediaref"}

// NewViper builds a viper instance with defaults, environment bindings and
// the optional config file. configFile may be empty; MEDIAREF_CONFIG names
// one too.
func NewViper(configFile string) (*viper.Viper, error) {
	if configFile == "" {
		configFile = os.Getenv(EnvPrefix + "_CONFIG")
	}

	for _, f := range envFiles {
		// Missing .env files are normal.
		_ = godotenv.Load(f)
	}

	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
		dir := filepath.Dir(configFile)
		for _, f := range envFiles {
			_ = godotenv.Load(filepath.Join(dir, f))
		}
	} else {
		v.SetConfigName("mediaref")
		v.SetConfigType("yaml")
		for _, p := range configPaths {
			v.AddConfigPath(p)
		}
	}

	if err := setDefaults(v, DefaultSettings()); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return v, nil
}

// setDefaults registers every settings key with its default and binds it
// to MEDIAREF_<KEY> and the bare <KEY>, in that order of precedence.
func setDefaults(v *viper.Viper, s Settings) error {
	raw, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	var defaults map[string]any
	if err := yaml.Unmarshal(raw, &defaults); err != nil {
		return err
	}
	// api_token is omitted from the rendering when empty.
	if _, ok := defaults["api_token"]; !ok {
		defaults["api_token"] = ""
	}

	for key, value := range defaults {
		v.SetDefault(key, value)
		env := strings.ToUpper(key)
		if err := v.BindEnv(key, EnvPrefix+"_"+env, env); err != nil {
			return err
		}
	}
	return nil
}

// ReadSettings resolves the settings from v.
func ReadSettings(v *viper.Viper) (Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return s, fmt.Errorf("invalid configuration: %w", err)
	}
	return s, nil
}
