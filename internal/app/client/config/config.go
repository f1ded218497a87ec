package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	appconfig "fieldsync/internal/config"
)

const (
	defaultAPIURL       = "http://localhost:8080"
	defaultEnv          = appconfig.EnvLocal
	defaultConfigDir    = ".fieldsync"
	defaultLeaseBackend = LeaseSQLite
)

// Бэкенды аренды синхронизации
const (
	LeaseSQLite = "sqlite"
	LeaseRedis  = "redis"
	LeaseNone   = "none"
)

type Config struct {
	Env                  string        `mapstructure:"app_env"`
	APIURL               string        `mapstructure:"api_url"`
	ConfigDir            string        `mapstructure:"config_dir"`
	TokenPath            string        `mapstructure:"token_path"`
	DataPath             string        `mapstructure:"data_path"`
	MaxRetries           int           `mapstructure:"sync_max_retries"`
	RetryDelay           time.Duration `mapstructure:"sync_retry_delay"`
	FetchTimeout         time.Duration `mapstructure:"fetch_timeout"`
	ResyncDelay          time.Duration `mapstructure:"resync_delay"`
	ConnectivityInterval time.Duration `mapstructure:"connectivity_interval"`
	LeaseBackend         string        `mapstructure:"lease_backend"`
	LeaseTTL             time.Duration `mapstructure:"lease_ttl"`
	RedisURL             string        `mapstructure:"redis_url"`
}

// MustLoad загружает конфигурацию клиента, паникует при ошибке
func MustLoad(configFile string) *Config {
	cfg, err := Load(configFile)
	if err != nil {
		panic(fmt.Sprintf("Ошибка конфигурации: %v", err))
	}
	return cfg
}

// Load читает .env, переменные окружения и необязательный YAML файл.
// Переменные окружения имеют приоритет над файлом.
func Load(configFile string) (*Config, error) {
	if _, err := appconfig.LoadEnvFile(".env", "../.env"); err != nil {
		fmt.Printf("Ошибка загрузки .env файла: %v\n", err)
	}

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("APP_ENV", defaultEnv)
	v.SetDefault("API_URL", defaultAPIURL)
	v.SetDefault("CONFIG_DIR", defaultConfigDir)
	v.SetDefault("SYNC_MAX_RETRIES", 3)
	v.SetDefault("SYNC_RETRY_DELAY", time.Second)
	v.SetDefault("FETCH_TIMEOUT", 8*time.Second)
	v.SetDefault("RESYNC_DELAY", 500*time.Millisecond)
	v.SetDefault("CONNECTIVITY_INTERVAL", 15*time.Second)
	v.SetDefault("LEASE_BACKEND", defaultLeaseBackend)
	v.SetDefault("LEASE_TTL", 2*time.Minute)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}

	// Получаем домашнюю директорию пользователя
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	configDir := v.GetString("CONFIG_DIR")
	if configDir == defaultConfigDir {
		configDir = filepath.Join(homeDir, configDir)
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}

	tokenPath := v.GetString("TOKEN_PATH")
	if tokenPath == "" {
		tokenPath = filepath.Join(configDir, "token")
	}
	dataPath := v.GetString("DATA_PATH")
	if dataPath == "" {
		dataPath = filepath.Join(configDir, "fieldsync.db")
	}

	cfg := &Config{
		Env:                  appconfig.NormalizeEnv(v.GetString("APP_ENV")),
		APIURL:               strings.TrimRight(v.GetString("API_URL"), "/"),
		ConfigDir:            configDir,
		TokenPath:            tokenPath,
		DataPath:             dataPath,
		MaxRetries:           v.GetInt("SYNC_MAX_RETRIES"),
		RetryDelay:           v.GetDuration("SYNC_RETRY_DELAY"),
		FetchTimeout:         v.GetDuration("FETCH_TIMEOUT"),
		ResyncDelay:          v.GetDuration("RESYNC_DELAY"),
		ConnectivityInterval: v.GetDuration("CONNECTIVITY_INTERVAL"),
		LeaseBackend:         strings.ToLower(v.GetString("LEASE_BACKEND")),
		LeaseTTL:             v.GetDuration("LEASE_TTL"),
		RedisURL:             v.GetString("REDIS_URL"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("api_url не может быть пустым")
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("sync_max_retries должен быть не меньше 1")
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("fetch_timeout должен быть положительным")
	}
	switch c.LeaseBackend {
	case LeaseSQLite, LeaseNone:
	case LeaseRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("redis_url обязателен для lease_backend=redis")
		}
	default:
		return fmt.Errorf("неизвестный lease_backend %q", c.LeaseBackend)
	}
	return nil
}

// IsProd проверяет, prod ли окружение
func (c *Config) IsProd() bool {
	return c.Env == appconfig.EnvProd
}

// IsLocal проверяет, local ли окружение
func (c *Config) IsLocal() bool {
	return c.Env == appconfig.EnvLocal
}
