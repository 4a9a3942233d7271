package main

import (
	"os"
)

// StoreConfig is the store server configuration, sourced from the
// environment (optionally via a .env file).
type StoreConfig struct {
	Port         string
	DatabaseURL  string
	NATSURL      string
	EventSubject string
}

func loadStoreConfig() StoreConfig {
	return StoreConfig{
		Port:         getEnv("PORT", "8080"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		NATSURL:      getEnv("NATS_URL", ""),
		EventSubject: getEnv("EVENT_SUBJECT", "lockstep.sessions"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
