package docker

import (
	"time"
)

// Config holds the configuration for the Docker runtime.
type Config struct {
	// Host overrides DOCKER_HOST when set.
	Host string
	// PullImages pulls missing language images at startup.
	PullImages bool
	// PullTimeout bounds each image pull.
	PullTimeout time.Duration
}

// DefaultConfig provides sensible defaults.
func DefaultConfig() Config {
	return Config{
		PullImages:  true,
		PullTimeout: 5 * time.Minute,
	}
}
