package config

import "os"

// Config holds server configuration.
type Config struct {
	Port         string
	LogLevel     string
	DatabasePath string
	RedisURL     string
	Admin        string
	VaultAccount string
	JWTSecret    string
	OTLPEndpoint string
}

// Load loads configuration from environment variables.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "commitd.db"
	}

	admin := os.Getenv("ADMIN_PRINCIPAL")
	if admin == "" {
		admin = "admin"
	}

	vault := os.Getenv("VAULT_ACCOUNT")
	if vault == "" {
		vault = "vault"
	}

	return &Config{
		Port:         port,
		LogLevel:     logLevel,
		DatabasePath: dbPath,
		RedisURL:     os.Getenv("REDIS_URL"),
		Admin:        admin,
		VaultAccount: vault,
		JWTSecret:    os.Getenv("JWT_SECRET"),
		OTLPEndpoint: os.Getenv("OTLP_ENDPOINT"),
	}
}
