package client

import "github.com/m3loqt/unihealth-app-sub008/internal/config"

// Config aliases the session configuration so callers outside this module
// can construct one without importing internal packages.
type Config = config.Config

// LoadConfig reads the configuration from UNIHEALTH_* environment variables
// and validates it.
func LoadConfig() (Config, error) { return config.Load() }
