package config

import (
	"os"

	"github.com/joho/godotenv"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

// LoadEnvFile подгружает первый найденный .env файл из списка путей.
// Отсутствие файлов не является ошибкой: значения берутся из окружения.
func LoadEnvFile(paths ...string) (string, error) {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return p, err
		}
		return p, nil
	}
	return "", nil
}

// NormalizeEnv приводит неизвестное окружение к local
func NormalizeEnv(env string) string {
	switch env {
	case EnvDev, EnvProd:
		return env
	default:
		return EnvLocal
	}
}
