package config

import "time"

// SyncerConfig configures cross-node synchronization of specification
// changes over Redis pub/sub. Disabled by default; a single node does not
// need it.
type SyncerConfig struct {
	Enabled        bool          `envconfig:"ENABLED" default:"false"`
	Channel        string        `envconfig:"CHANNEL" default:"norns:spec-events"`
	MaxRetries     int           `envconfig:"MAX_RETRIES" default:"3" validate:"min=0"`
	BaseRetryDelay time.Duration `envconfig:"BASE_RETRY_DELAY" default:"1s"`
}
