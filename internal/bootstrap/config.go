package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"copytrader/internal/config"
)

// Config is an alias for the project's main configuration struct
type Config = config.Config

// LoadConfig delegates to the project's config loader. A missing file at
// path gives the defaults.
func LoadConfig(path string) (*Config, error) {
	var cfg *Config
	if path == "" {
		cfg = config.DefaultConfig()
	} else {
		loaded, err := config.LoadConfig(path)
		switch {
		case err == nil:
			cfg = loaded
		case errors.Is(err, os.ErrNotExist):
			cfg = config.DefaultConfig()
		default:
			return nil, err
		}
	}

	// Pre-flight Checks
	if err := checkPreFlight(cfg, path); err != nil {
		return nil, fmt.Errorf("pre-flight checks failed: %w", err)
	}

	return cfg, nil
}

// checkPreFlight performs environment checks beyond schema validation
func checkPreFlight(cfg *Config, path string) error {
	// A config file holding exchange keys must not be readable by others
	if path != "" && cfg.Exchange.APIKey != "" {
		info, err := os.Stat(path)
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		if err == nil {
			// Allow 0600 (rw-------) or 0400 (r--------)
			mode := info.Mode().Perm()
			if mode&0077 != 0 {
				return fmt.Errorf("insecure permissions on %s: %04o (should be 0600)", path, mode)
			}
		}
	}

	dir := filepath.Dir(cfg.Storage.DBPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("database directory %s: %w", dir, err)
	}
	return nil
}
