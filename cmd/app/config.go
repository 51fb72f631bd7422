package main

import (
	"os"

	"github.com/joho/godotenv"
)

type config struct {
	NetworksDir string
	TorSocks    string
	AdminKey    string
	Host        string
	Port        string
	LogLevel    string
}

func loadConfig() config {
	// a missing .env is fine; real environment variables always win
	_ = godotenv.Load()

	return config{
		NetworksDir: getEnv("NETWORKS_DIR", "configs/networks"),
		TorSocks:    getEnv("TOR_SOCKS5", "127.0.0.1:9050"),
		AdminKey:    getEnv("ADMIN_API_KEY", ""),
		Host:        getEnv("SERVER_HOST", "0.0.0.0"),
		Port:        getEnv("SERVER_PORT", "8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
