// Package config loads client configuration from the environment.
// Variables use the UNIHEALTH_ prefix (e.g. UNIHEALTH_STORE_URL).
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds everything a session needs to reach the store and tune the
// sync layer. Zero values are resolved to usable defaults by ResolveDefaults.
type Config struct {
	// StoreURL is the base URL of the hosted tree store (or the local
	// emulator).
	StoreURL string `envconfig:"STORE_URL" default:"http://localhost:9325"`

	// StoreToken is sent as a bearer token on every store request when set.
	StoreToken string `envconfig:"STORE_TOKEN" default:""`

	// HTTPTimeout bounds a single store round-trip.
	HTTPTimeout time.Duration `envconfig:"HTTP_TIMEOUT" default:"15s"`

	// FanoutLimit bounds concurrent receipt writes in a mark-thread-seen
	// batch.
	FanoutLimit int `envconfig:"FANOUT_LIMIT" default:"8"`

	// GraceWindow is how long a locally mutated notification field wins
	// over an incoming authoritative snapshot.
	GraceWindow time.Duration `envconfig:"GRACE_WINDOW" default:"2s"`

	// JournalPath overrides the location of the pending-mutation journal.
	// Empty selects the per-user default under the home directory.
	JournalPath string `envconfig:"JOURNAL_PATH" default:""`

	// Background op queue sizing.
	QueueShards int `envconfig:"QUEUE_SHARDS" default:"4"`
	QueueSize   int `envconfig:"QUEUE_SIZE" default:"256"`
}

// Load reads the configuration from the environment and validates it.
func Load() (Config, error) {
	var c Config
	if err := envconfig.Process("unihealth", &c); err != nil {
		return Config{}, err
	}
	if err := c.ResolveDefaults(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// ResolveDefaults validates the configuration and fills derived defaults.
func (c *Config) ResolveDefaults() error {
	if c.StoreURL == "" {
		return fmt.Errorf("store URL must not be empty")
	}
	c.ResolveTuning()
	return nil
}

// ResolveTuning fills derived defaults for the tuning knobs. It does not
// require a store URL; sessions built on an injected backend never need one.
func (c *Config) ResolveTuning() {
	if c.FanoutLimit <= 0 {
		c.FanoutLimit = 8
	}
	if c.GraceWindow <= 0 {
		c.GraceWindow = 2 * time.Second
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 15 * time.Second
	}
	if c.QueueShards <= 0 {
		c.QueueShards = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
}
