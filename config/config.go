package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"vouchernet/crypto"
)

// Config holds the daemon settings. Missing fields fall back to the defaults
// written by createDefault.
type Config struct {
	RPCAddress     string `toml:"RPCAddress"`
	GatewayAddress string `toml:"GatewayAddress"`
	DataDir        string `toml:"DataDir"`
	NetworkName    string `toml:"NetworkName"`

	// Owner is the bech32 address of the protocol pool account. It receives
	// slashed deposit shares and is the only caller allowed to pause modules
	// or arm disaster mode.
	Owner string `toml:"Owner"`

	ComplainPeriodSeconds    int64 `toml:"ComplainPeriodSeconds"`
	CancelFaultPeriodSeconds int64 `toml:"CancelFaultPeriodSeconds"`
}

const (
	defaultRPCAddress     = ":8080"
	defaultGatewayAddress = ":8081"
	defaultDataDir        = "./vouchernet-data"
	defaultNetworkName    = "vouchernet-local"
)

// Load reads the configuration from path, creating a default file first if
// none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = defaultRPCAddress
	}
	if strings.TrimSpace(c.GatewayAddress) == "" {
		c.GatewayAddress = defaultGatewayAddress
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = defaultDataDir
	}
	if strings.TrimSpace(c.NetworkName) == "" {
		c.NetworkName = defaultNetworkName
	}
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	if c.ComplainPeriodSeconds < 0 {
		return fmt.Errorf("config: ComplainPeriodSeconds must not be negative")
	}
	if c.CancelFaultPeriodSeconds < 0 {
		return fmt.Errorf("config: CancelFaultPeriodSeconds must not be negative")
	}
	if strings.TrimSpace(c.Owner) != "" {
		if _, err := crypto.DecodeAddress(c.Owner); err != nil {
			return fmt.Errorf("config: invalid Owner address: %w", err)
		}
	}
	return nil
}

// OwnerAddress decodes the configured pool owner, or returns the zero address
// when unset.
func (c *Config) OwnerAddress() ([20]byte, error) {
	if strings.TrimSpace(c.Owner) == "" {
		return [20]byte{}, nil
	}
	addr, err := crypto.DecodeAddress(c.Owner)
	if err != nil {
		return [20]byte{}, err
	}
	return addr.Array(), nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:     defaultRPCAddress,
		GatewayAddress: defaultGatewayAddress,
		DataDir:        defaultDataDir,
		NetworkName:    defaultNetworkName,
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
