// Package config loads the poold pool file and builds the pools it
// describes.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/Iwinswap/iwinswap-solvency-pool-go/pkg/chains/mantle"
	"github.com/Iwinswap/iwinswap-solvency-pool-go/pkg/wad"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration. Numeric pool values are decimal strings
// so that YAML never rounds them.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`
	// LogFile receives JSON logs. Empty logs to stderr.
	LogFile string `yaml:"log_file"`
	// Admin exposes the poolAdmin namespace used by indexers.
	Admin bool `yaml:"admin"`
	// OracleMaxAge is how old a price may be before it is refused. Zero
	// accepts any age.
	OracleMaxAge time.Duration `yaml:"oracle_max_age"`
	// Presets names built-in deployments to load, see mantle.Names.
	Presets []string      `yaml:"presets"`
	Tokens  []TokenConfig `yaml:"tokens"`
	Pools   []PoolConfig  `yaml:"pools"`
}

// TokenConfig declares a token not covered by a preset.
type TokenConfig struct {
	Address  string `yaml:"address"`
	Symbol   string `yaml:"symbol"`
	Decimals uint8  `yaml:"decimals"`
}

// PoolConfig declares a pool. Rates are decimal fractions.
type PoolConfig struct {
	Name           string        `yaml:"name"`
	Address        string        `yaml:"address"`
	Group          string        `yaml:"group"`
	RThreshold     string        `yaml:"r_threshold"`
	HaircutRate    string        `yaml:"haircut_rate"`
	RetentionRatio string        `yaml:"retention_ratio"`
	OraclePriced   bool          `yaml:"oracle_priced"`
	Assets         []AssetConfig `yaml:"assets"`
}

// AssetConfig seeds one ledger. Token is a symbol or address. Supply
// defaults to Liability; Group defaults to the pool's group.
type AssetConfig struct {
	Token     string `yaml:"token"`
	Group     string `yaml:"group"`
	Cash      string `yaml:"cash"`
	Liability string `yaml:"liability"`
	Supply    string `yaml:"supply"`
	MaxSupply string `yaml:"max_supply"`
	Price     string `yaml:"price"`
}

// LoadConfig reads a configuration file from the given path and unmarshals it
// into a Config struct. Unknown keys are rejected.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks the static shape of the configuration. Token references
// and ledger consistency are checked by Build.
func (c *Config) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen_addr is required"))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.OracleMaxAge < 0 {
		errs = append(errs, errors.New("oracle_max_age must not be negative"))
	}
	if len(c.Presets) == 0 && len(c.Pools) == 0 {
		errs = append(errs, errors.New("at least one preset or pool is required"))
	}
	for _, name := range c.Presets {
		if _, ok := mantle.Lookup(name); !ok {
			errs = append(errs, fmt.Errorf("unknown preset %q (have %s)", name, strings.Join(mantle.Names(), ", ")))
		}
	}
	for i, t := range c.Tokens {
		if !common.IsHexAddress(t.Address) {
			errs = append(errs, fmt.Errorf("tokens[%d]: invalid address %q", i, t.Address))
		}
		if t.Decimals > wad.Decimals {
			errs = append(errs, fmt.Errorf("tokens[%d]: decimals %d above %d", i, t.Decimals, wad.Decimals))
		}
	}
	for i, p := range c.Pools {
		if err := p.validate(); err != nil {
			errs = append(errs, fmt.Errorf("pools[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func (p *PoolConfig) validate() error {
	if !common.IsHexAddress(p.Address) {
		return fmt.Errorf("invalid address %q", p.Address)
	}
	if !common.IsHexAddress(p.Group) {
		return fmt.Errorf("invalid group %q", p.Group)
	}
	for _, f := range []struct{ name, value string }{
		{"r_threshold", p.RThreshold},
		{"haircut_rate", p.HaircutRate},
		{"retention_ratio", p.RetentionRatio},
	} {
		if _, err := wad.Parse(f.value); err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
	}
	if len(p.Assets) == 0 {
		return errors.New("at least one asset is required")
	}
	for i, a := range p.Assets {
		if a.Token == "" {
			return fmt.Errorf("assets[%d]: token is required", i)
		}
		if a.Group != "" && !common.IsHexAddress(a.Group) {
			return fmt.Errorf("assets[%d]: invalid group %q", i, a.Group)
		}
		if p.OraclePriced && a.Price == "" {
			return fmt.Errorf("assets[%d]: oracle-priced pools need a price", i)
		}
	}
	return nil
}

// ParseLevel maps a log_level value onto a slog level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log_level %q", s)
}
