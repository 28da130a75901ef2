package realtime

import (
	"os"
	"strings"
	"time"
)

type Config struct {
	NatsURL         string
	TenantID        string
	Addr            string
	ShutdownTimeout time.Duration
}

// LoadConfig reads the relay settings from the environment. The NATS and
// tenant keys are shared with the API so both sides agree on subjects.
func LoadConfig() Config {
	return Config{
		NatsURL:         envOr("NATS_URL", "nats://localhost:4222"),
		TenantID:        envOr("TENANT_ID", "default"),
		Addr:            listenAddr(envOr("REALTIME_PORT", "8081")),
		ShutdownTimeout: durationOr("REALTIME_SHUTDOWN_TIMEOUT", 5*time.Second),
	}
}

// listenAddr accepts a bare port ("8081") or a host:port pair.
func listenAddr(port string) string {
	if strings.Contains(port, ":") {
		return port
	}
	return ":" + port
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
