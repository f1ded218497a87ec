package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	appconfig "fieldsync/internal/config"
)

const (
	defaultRunAddress = ":8080"
	defaultMigrations = "migrations"
)

type Config struct {
	Env    string
	DB     db
	Server server
}

type db struct {
	DatabaseURI string
	Migrations  string
}

type server struct {
	RunAddress string
	// TokenHash bcrypt-хеш API токена, пустой отключает проверку
	TokenHash string
}

// MustLoad загружает конфигурацию сервера, паникует при ошибке
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("Ошибка конфигурации: %v", err))
	}
	return cfg
}

func Load() (*Config, error) {
	if _, err := appconfig.LoadEnvFile(".env", "../../.env"); err != nil {
		fmt.Printf("Ошибка загрузки .env файла: %v\n", err)
	}

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("RUN_ADDRESS", defaultRunAddress)
	v.SetDefault("MIGRATIONS_PATH", defaultMigrations)

	cfg := &Config{
		Env: appconfig.NormalizeEnv(v.GetString("APP_ENV")),
		DB: db{
			DatabaseURI: v.GetString("DATABASE_URI"),
			Migrations:  v.GetString("MIGRATIONS_PATH"),
		},
		Server: server{
			RunAddress: v.GetString("RUN_ADDRESS"),
			TokenHash:  strings.TrimSpace(v.GetString("API_TOKEN_HASH")),
		},
	}

	if cfg.Server.RunAddress == "" {
		return nil, fmt.Errorf("run_address не может быть пустым")
	}
	if cfg.DB.DatabaseURI != "" && cfg.DB.Migrations == "" {
		return nil, fmt.Errorf("migrations_path обязателен вместе с database_uri")
	}

	return cfg, nil
}

// InMemory сервер без базы данных
func (c *Config) InMemory() bool {
	return c.DB.DatabaseURI == ""
}

// AuthEnabled требуется ли Bearer токен
func (c *Config) AuthEnabled() bool {
	return c.Server.TokenHash != ""
}
