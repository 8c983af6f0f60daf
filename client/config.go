package client

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config is the client's small persisted record, used to resume a session
// across restarts without another browser round trip.
type Config struct {
	State    string `json:"state"`
	ServerID int64  `json:"server_id"`
}

// LoadConfig reads the config file. A missing file is not an error: it
// just means a fresh start.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Config{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// Save writes the config file, creating it if needed.
func (c *Config) Save(path string) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}
	return nil
}
