// config предоставляет структуру конфигурации сервиса и функции
// загрузки из файла/переменных окружения с предсказуемым приоритетом.
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"golang.org/x/crypto/bcrypt"
)

// MinJWTSecretLen — рекомендованная минимальная длина секрета подписи.
// Секрет короче не запрещён, но при старте пишется предупреждение.
const MinJWTSecretLen = 32

// maxBcryptCost — верхняя граница стоимости bcrypt; значения выше делают
// аутентификацию неприемлемо дорогой.
const maxBcryptCost = 15

// Config — корневая конфигурация сервиса.
// Источники значений (по убыванию приоритета):
//  1. явный путь через флаг --config;
//  2. путь в переменной окружения CONFIG_PATH;
//  3. файл local.yaml из рабочей директории;
//  4. переменные окружения (cleanenv).
type Config struct {
	Env      string         `yaml:"env" env:"ENV" env-default:"local"`
	HTTP     HTTPConfig     `yaml:"http"`
	Auth     AuthConfig     `yaml:"auth"`
	DB       DBConfig       `yaml:"db"`
	Redis    RedisConfig    `yaml:"redis"`
	Provider ProviderConfig `yaml:"provider"`
	Timeouts TimeoutConfig  `yaml:"timeouts"`
}

// TimeoutConfig — таймауты сервиса.
type TimeoutConfig struct {
	Service time.Duration `yaml:"service" env:"SERVICE_TIMEOUT" env-default:"5s"`
}

// HTTPConfig — сетевые настройки HTTP-сервера.
type HTTPConfig struct {
	Host string `yaml:"host" env:"HTTP_HOST" env-default:"0.0.0.0"`
	Port string `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
}

// Addr возвращает адрес в формате host:port.
func (h HTTPConfig) Addr() string {
	return net.JoinHostPort(h.Host, h.Port)
}

// AuthConfig содержит параметры выпуска и валидации токенов
// и политики локальных паролей.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET" env-required:"true"`
	// AccessTokenTTL — срок жизни access-токена (минуты-часы).
	AccessTokenTTL time.Duration `yaml:"access_token_ttl" env:"ACCESS_TOKEN_TTL" env-default:"15m"`
	// RefreshTokenTTL — срок жизни refresh-токена; по умолчанию 30 суток.
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl" env:"REFRESH_TOKEN_TTL" env-default:"720h"`
	// MinPasswordLen — минимальная длина локального пароля.
	MinPasswordLen int `yaml:"min_password_len" env:"MIN_PASSWORD_LEN" env-default:"8"`
	// BcryptCost — стоимость хэширования; приводится к безопасному
	// диапазону методом Cost().
	BcryptCost int      `yaml:"bcrypt_cost" env:"BCRYPT_COST" env-default:"10"`
	Issuer     string   `yaml:"issuer"   env:"ISSUER" env-default:"wallet-auth"`
	Audience   []string `yaml:"audience" env:"AUDIENCE" env-default:"wallet-api"`
}

// Cost возвращает стоимость bcrypt, зажатую в [bcrypt.MinCost, maxBcryptCost].
func (a AuthConfig) Cost() int {
	c := a.BcryptCost
	if c < bcrypt.MinCost {
		return bcrypt.DefaultCost
	}
	if c > maxBcryptCost {
		return maxBcryptCost
	}

	return c
}

// DBConfig — настройки подключения к базе данных.
type DBConfig struct {
	MongoURL string `yaml:"mongo_url" env:"MONGO_URL" env-required:"true"`
}

// RedisConfig — настройки опционального кэша refresh-токенов.
// Пустой URL означает "кэш выключен".
type RedisConfig struct {
	RedisURL string `yaml:"redis_url" env:"REDIS_URL"`
}

// ProviderConfig — настройки моста к legacy-провайдеру идентичности.
type ProviderConfig struct {
	// BaseURL — базовый адрес оракула верификации токенов провайдера.
	BaseURL string `yaml:"base_url" env:"PROVIDER_BASE_URL" env-required:"true"`
	// Timeout — жёсткая граница времени на сетевой вызов провайдера;
	// по таймауту верификация считается неуспешной.
	Timeout time.Duration `yaml:"timeout" env:"PROVIDER_TIMEOUT" env-default:"5s"`
}

// MustLoad — обёртка над Load с panic при ошибке.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}

// Load загружает конфигурацию по приоритету:
// 1) явный путь; 2) CONFIG_PATH; 3) ./local.yaml; 4) ENV.
// ВАЖНО: после чтения файла накладываем ENV-переменные поверх значений из YAML.
func Load(path string) (*Config, error) {
	var cfg Config

	// чтение файла + overlay ENV.
	tryRead := func(p string) (*Config, error) {
		if p == "" {
			return nil, fmt.Errorf("empty config path")
		}

		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("config file %q stat failed: %w", p, err)
		}

		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}

		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to overlay env: %w", err)
		}

		return &cfg, nil
	}

	// 1) Явный путь.
	if path != "" {
		return tryRead(path)
	}

	// 2) CONFIG_PATH.
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		return tryRead(envPath)
	}

	// 3) ./local.yaml.
	if _, err := os.Stat("local.yaml"); err == nil {
		return tryRead("local.yaml")
	}

	// 4) Только ENV.
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config not found: provide --config, CONFIG_PATH, local.yaml or env vars: %w", err)
	}

	return &cfg, nil
}
