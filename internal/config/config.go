// Package config loads the client and server configuration from the
// environment, with optional .env support.
package config

import (
	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Config holds the runtime settings of the terminal client.
type Config struct {
	// ServerURL is the chat server WebSocket endpoint.
	ServerURL string `env:"CHAT_SERVER_URL,default=ws://localhost:8080"`
	// Transport selects the WebSocket client: "ws" (nhooyr) or "gws" (gobwas).
	Transport string `env:"CHAT_TRANSPORT,default=ws"`
	// LogLevel is a logrus level name.
	LogLevel string `env:"CHAT_LOG_LEVEL,default=info"`
	// BroadcastConfirm makes the engine confirm own posts via the user-posted
	// broadcast instead of a distinct posted reply.
	BroadcastConfirm bool `env:"CHAT_BROADCAST_CONFIRM,default=false"`
	// ListenAddr is where the reference server listens.
	ListenAddr string `env:"CHAT_LISTEN_ADDR,default=:8080"`
}

// Load reads a .env file if present, then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "load config from environment failed")
	}
	return cfg, nil
}
