package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

type ConsoleConfig struct {
	// StateStreamURL must be a WebSocket endpoint of poold, e.g. ws://127.0.0.1:8645/ws.
	StateStreamURL string `yaml:"state_stream_url"`
	Pool           string `yaml:"pool"`
	LogFile        string `yaml:"log_file"`
}

// LoadConfig reads a configuration file from the given path and unmarshals it
// into a ConsoleConfig struct.
func LoadConfig(path string) (*ConsoleConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := ConsoleConfig{LogFile: "console.log"}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *ConsoleConfig) Validate() error {
	if c.StateStreamURL == "" {
		return errors.New("state_stream_url is required")
	}
	if !common.IsHexAddress(c.Pool) {
		return fmt.Errorf("invalid pool address %q", c.Pool)
	}
	return nil
}

// PoolAddress is the watched pool.
func (c *ConsoleConfig) PoolAddress() common.Address {
	return common.HexToAddress(c.Pool)
}
