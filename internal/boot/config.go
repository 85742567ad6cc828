// Package boot loads process configuration from the environment.
package boot

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	ServerURL            string        `env:"FUN_CHAT_SERVER_URL,default=ws://localhost:4000"`
	ListenAddress        string        `env:"FUN_CHAT_LISTEN_ADDR,default=:4000"`
	ReconnectDelay       time.Duration `env:"FUN_CHAT_RECONNECT_DELAY,default=3s"`
	MaxReconnectAttempts int           `env:"FUN_CHAT_RECONNECT_ATTEMPTS,default=5"`
	LogLevel             string        `env:"FUN_CHAT_LOG_LEVEL,default=info"`
}

func Load(ctx context.Context) (Config, error) {
	config := Config{}
	if err := envconfig.Process(ctx, &config); err != nil {
		return Config{}, fmt.Errorf("parsing env vars: %w", err)
	}
	return config, nil
}
