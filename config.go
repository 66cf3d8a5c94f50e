package tokenledger

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dohalee/token-ledger/common"
	"github.com/dohalee/token-ledger/fungible"
	"github.com/dohalee/token-ledger/nonfungible"
)

// Config carries the deployment-fixed parameters of a ledger instance.
// Amounts are base-10 strings since they exceed the range YAML integers
// travel well in.
type Config struct {
	// ContractAccount is the account the contract itself occupies; it is
	// the only account allowed to invoke the resolution entry points.
	ContractAccount string `yaml:"contractAccount"`

	// OwnerAccount receives the entire initial supply and is the only
	// account allowed to mint tokens.
	OwnerAccount string `yaml:"ownerAccount"`

	// TotalSupply is minted to OwnerAccount once, at first construction.
	TotalSupply string `yaml:"totalSupply"`

	// CostPerByte prices one byte of occupied storage.
	CostPerByte string `yaml:"costPerByte"`

	// MaxApprovals bounds the approval table of a single token. The oldest
	// grant is evicted when a new one would exceed it.
	MaxApprovals int `yaml:"maxApprovals"`

	// MaxAccountStorageBytes bounds the storage escrow an account can hold:
	// the escrow ceiling is CostPerByte times this value.
	MaxAccountStorageBytes uint64 `yaml:"maxAccountStorageBytes"`

	Fungible    fungible.Metadata    `yaml:"fungible"`
	NonFungible nonfungible.Metadata `yaml:"nonFungible"`
}

// DefaultConfig returns a Config with the defaults every deployment starts
// from; the loaded file overrides them field by field.
func DefaultConfig() Config {
	return Config{
		CostPerByte:            "10000000000000000000",
		MaxApprovals:           32,
		MaxAccountStorageBytes: 4096,
		Fungible:               fungible.Metadata{Spec: fungible.MetadataSpec},
		NonFungible:            nonfungible.Metadata{Spec: nonfungible.MetadataSpec},
	}
}

// LoadConfig reads a YAML deployment config from path on top of the
// defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %q: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the config invariants New relies on.
func (c Config) Validate() error {
	if _, err := common.ParseAccountID(c.ContractAccount); err != nil {
		return fmt.Errorf("contract account: %w", err)
	}
	if _, err := common.ParseAccountID(c.OwnerAccount); err != nil {
		return fmt.Errorf("owner account: %w", err)
	}
	if _, err := common.ParseAmount(c.TotalSupply); err != nil {
		return fmt.Errorf("total supply: %w", err)
	}
	cost, err := common.ParseAmount(c.CostPerByte)
	if err != nil {
		return fmt.Errorf("cost per byte: %w", err)
	}
	if cost.IsZero() {
		return fmt.Errorf("%w: zero cost per byte", common.ErrInvalidAmount)
	}
	if c.MaxApprovals <= 0 {
		return fmt.Errorf("%w: non-positive approval bound", common.ErrInvalidMetadata)
	}
	if c.MaxAccountStorageBytes == 0 {
		return fmt.Errorf("%w: zero account storage bound", common.ErrInvalidMetadata)
	}
	if err := c.Fungible.Validate(); err != nil {
		return fmt.Errorf("fungible metadata: %w", err)
	}
	if err := c.NonFungible.Validate(); err != nil {
		return fmt.Errorf("non-fungible metadata: %w", err)
	}
	return nil
}
