// Package config loads the module's TOML configuration. Signing key material
// is never stored in the file; it is referenced by environment variable name.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

// Config is the top-level configuration for the CLI and the claims gateway.
type Config struct {
	Ledger   LedgerConfig  `toml:"ledger"`
	Programs Programs      `toml:"programs"`
	Tokens   []TokenConfig `toml:"tokens"`
	Client   ClientConfig  `toml:"client"`
	Gateway  GatewayConfig `toml:"gateway"`
}

// LedgerConfig points at the JSON-RPC endpoint and bounds its use.
type LedgerConfig struct {
	Endpoint              string  `toml:"Endpoint"`
	PrivateKeyEnv         string  `toml:"PrivateKeyEnv"`
	RequestsPerSecond     float64 `toml:"RequestsPerSecond"`
	Burst                 int     `toml:"Burst"`
	ConfirmTimeoutSeconds int     `toml:"ConfirmTimeoutSeconds"`
}

// Programs holds the escrow program addresses.
type Programs struct {
	ProtectedTransfer string `toml:"ProtectedTransfer"`
	DropPool          string `toml:"DropPool"`
}

// TokenConfig declares one supported token.
type TokenConfig struct {
	Symbol   string `toml:"Symbol"`
	Address  string `toml:"Address"`
	Decimals uint8  `toml:"Decimals"`
}

// ClientConfig tunes the local orchestration layer.
type ClientConfig struct {
	LinkOrigin         string `toml:"LinkOrigin"`
	CacheTTLSeconds    int    `toml:"CacheTTLSeconds"`
	OperationStorePath string `toml:"OperationStorePath"`
}

// GatewayConfig configures the optional HTTP facade.
type GatewayConfig struct {
	ListenAddress string `toml:"ListenAddress"`
	JWTSecretEnv  string `toml:"JWTSecretEnv"`
	Environment   string `toml:"Environment"`
	LogFile       string `toml:"LogFile"`
}

const defaultConfig = `[ledger]
Endpoint = "http://127.0.0.1:8545"
PrivateKeyEnv = "VAULTLINK_KEY"
RequestsPerSecond = 10.0
Burst = 5
ConfirmTimeoutSeconds = 60

[programs]
ProtectedTransfer = ""
DropPool = ""

[client]
LinkOrigin = "http://localhost:3000"
CacheTTLSeconds = 30
OperationStorePath = "vaultlink-ops.db"

[gateway]
ListenAddress = ":8081"
JWTSecretEnv = "VAULTLINK_JWT_SECRET"
Environment = "dev"

[[tokens]]
Symbol = "USDC"
Address = "0x0000000000000000000000000000000000000000"
Decimals = 6
`

// Load reads the configuration from path, creating a commented default file
// when none exists yet.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := createDefault(path); err != nil {
			return nil, err
		}
	}
	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	for _, undecoded := range meta.Undecoded() {
		if undecoded[0] == "ledger" && len(undecoded) == 2 && undecoded[1] == "PrivateKey" {
			return nil, fmt.Errorf("config %s embeds a private key; move it to the environment and set PrivateKeyEnv", path)
		}
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func createDefault(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(defaultConfig), 0o600); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Ledger.PrivateKeyEnv) == "" {
		c.Ledger.PrivateKeyEnv = "VAULTLINK_KEY"
	}
	if c.Ledger.ConfirmTimeoutSeconds <= 0 {
		c.Ledger.ConfirmTimeoutSeconds = 60
	}
	if c.Client.CacheTTLSeconds <= 0 {
		c.Client.CacheTTLSeconds = 30
	}
	if strings.TrimSpace(c.Client.LinkOrigin) == "" {
		c.Client.LinkOrigin = "http://localhost:3000"
	}
	if strings.TrimSpace(c.Gateway.ListenAddress) == "" {
		c.Gateway.ListenAddress = ":8081"
	}
}

// Validate checks addresses and token declarations.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Ledger.Endpoint) == "" {
		return fmt.Errorf("ledger endpoint required")
	}
	for _, field := range []struct{ name, value string }{
		{"programs.ProtectedTransfer", c.Programs.ProtectedTransfer},
		{"programs.DropPool", c.Programs.DropPool},
	} {
		if strings.TrimSpace(field.value) == "" {
			continue // filled in per deployment; the CLI refuses to run without it
		}
		if !common.IsHexAddress(field.value) {
			return fmt.Errorf("%s: invalid address %q", field.name, field.value)
		}
	}
	seen := make(map[string]struct{}, len(c.Tokens))
	for _, tok := range c.Tokens {
		symbol := strings.ToUpper(strings.TrimSpace(tok.Symbol))
		if symbol == "" {
			return fmt.Errorf("token symbol required")
		}
		if _, dup := seen[symbol]; dup {
			return fmt.Errorf("duplicate token symbol %s", symbol)
		}
		seen[symbol] = struct{}{}
		if !common.IsHexAddress(tok.Address) {
			return fmt.Errorf("token %s: invalid address %q", symbol, tok.Address)
		}
	}
	return nil
}

// PrivateKey resolves the signing key from the configured environment
// variable; empty when unset, which yields a read-only client.
func (c *Config) PrivateKey() string {
	return strings.TrimSpace(os.Getenv(c.Ledger.PrivateKeyEnv))
}
