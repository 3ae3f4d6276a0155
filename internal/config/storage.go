package config

import (
	"fmt"
	"net/url"
	"time"
)

// StorageConfig selects and configures the persistence backend behind the
// in-memory registry. "memory" keeps nothing across restarts, "file" writes
// JSON documents to a directory, "postgres" stores JSONB rows.
type StorageConfig struct {
	Backend string `envconfig:"BACKEND" default:"memory" validate:"oneof=memory file postgres"`

	// File backend
	Dir string `envconfig:"DIR" default:"./data/specs"`

	// Postgres backend; either a full URL or individual components.
	URL      string `envconfig:"URL"`
	Host     string `envconfig:"HOST"`
	Port     string `envconfig:"PORT"`
	Name     string `envconfig:"NAME"`
	User     string `envconfig:"USER"`
	Password string `envconfig:"PASSWORD"`
	SSLMode  string `envconfig:"SSL_MODE" default:"prefer" validate:"oneof=disable allow prefer require verify-ca verify-full"`

	ConnectTimeout time.Duration `envconfig:"CONNECT_TIMEOUT" default:"5s"`
}

// ConnectionString builds a PostgreSQL connection string. If URL is provided
// it wins; otherwise the string is assembled from components.
func (c *StorageConfig) ConnectionString() string {
	if c.URL != "" {
		return c.URL
	}

	params := url.Values{}
	params.Add("sslmode", c.SSLMode)

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// Validate checks the storage configuration for the selected backend.
func (c *StorageConfig) Validate(environment string) error {
	switch c.Backend {
	case "memory":
		return nil

	case "file":
		if c.Dir == "" {
			return fmt.Errorf("storage dir cannot be empty with the file backend")
		}
		return nil

	case "postgres":
		if c.URL != "" {
			if _, err := parseAndValidateURL(c.URL, []string{"postgres", "postgresql"}); err != nil {
				return fmt.Errorf("invalid storage URL: %w", err)
			}
			return nil
		}
		if err := validateHost(c.Host, "storage"); err != nil {
			return err
		}
		if err := validatePort(c.Port, "storage"); err != nil {
			return err
		}
		if c.Name == "" {
			return fmt.Errorf("storage database name cannot be empty")
		}
		if c.User == "" {
			return fmt.Errorf("storage database user cannot be empty")
		}
		if environment == EnvironmentProduction && c.Password == "" {
			return fmt.Errorf("storage database password is required in production environment")
		}
		return nil

	default:
		return fmt.Errorf("unknown storage backend %q", c.Backend)
	}
}
