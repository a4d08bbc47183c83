package config

import (
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const (
	DefaultAddress    = "ws://localhost:8080/bus"
	DefaultListenAddr = ":8080"
)

// Config holds all configuration for the application.
type Config struct {
	Process Process

	ListenAddr   string
	NATSSubject  string
	RedisChannel string

	GossipListen    []string
	GossipBootstrap []string
	GossipMDNS      bool
}

// New loads configuration from a .env file, if any, and environment variables.
func New() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, relying on environment variables")
	}

	cfg := &Config{
		Process: Process{
			ProcessName: os.Getenv("BACKPLANE_PROCESS_NAME"),
			Address:     getenv("BACKPLANE_ADDRESS", DefaultAddress),
			Topics:      splitList(os.Getenv("BACKPLANE_TOPICS")),
		},
		ListenAddr:      getenv("BACKPLANE_LISTEN_ADDR", DefaultListenAddr),
		NATSSubject:     os.Getenv("BACKPLANE_NATS_SUBJECT"),
		RedisChannel:    os.Getenv("BACKPLANE_REDIS_CHANNEL"),
		GossipListen:    splitList(os.Getenv("BACKPLANE_GOSSIP_LISTEN")),
		GossipBootstrap: splitList(os.Getenv("BACKPLANE_GOSSIP_BOOTSTRAP")),
		GossipMDNS:      os.Getenv("BACKPLANE_GOSSIP_MDNS") == "true",
	}

	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// splitList splits a comma separated value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
