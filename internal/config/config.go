package config

import (
	"bytes"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	FileName = "dao.yml"

	TokenModeLedger = "ledger"
	TokenModeERC20  = "erc20"

	RoleChairperson  = "chairperson"
	RoleConfigurator = "configurator"
)

// Config models dao.yml.
type Config struct {
	DAO struct {
		Chairperson string `yaml:"chairperson" validate:"required,eth_addr"`
		Custody     string `yaml:"custody" validate:"required,eth_addr"`
	} `yaml:"dao"`
	Voting struct {
		Duration         time.Duration `yaml:"duration" validate:"gt=0"`
		MinQuorumPercent uint64        `yaml:"min_quorum_percent" validate:"lte=100"`
		ReferenceSupply  string        `yaml:"reference_supply" validate:"omitempty,numeric"`
	} `yaml:"voting"`
	Token struct {
		Mode    string `yaml:"mode" validate:"required,oneof=ledger erc20"`
		Address string `yaml:"address" validate:"required,eth_addr"`
	} `yaml:"token"`
	Chain ChainConfig `yaml:"chain"`
	RBAC  struct {
		Roles map[string]RBACRole `yaml:"roles" validate:"dive"`
	} `yaml:"rbac"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty" validate:"dive"`
}

// ChainConfig points the erc20 mode at a JSON-RPC node.
type ChainConfig struct {
	RPCURL         string        `yaml:"rpc_url,omitempty" validate:"omitempty,url"`
	KeyEnv         string        `yaml:"key_env,omitempty"`
	ReceiptTimeout time.Duration `yaml:"receipt_timeout,omitempty"`
}

type RBACRole struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions" validate:"dive,required"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" validate:"required,url"`
	Events         []string `yaml:"events,omitempty"`
	Secret         string   `yaml:"secret,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" validate:"gte=0"`
}

var validate = validator.New()

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create it with dao init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Token.Mode == TokenModeERC20 {
		if strings.TrimSpace(c.Chain.RPCURL) == "" {
			return fmt.Errorf("config.chain.rpc_url is required for token mode erc20")
		}
		if strings.TrimSpace(c.Chain.KeyEnv) == "" {
			return fmt.Errorf("config.chain.key_env is required for token mode erc20")
		}
	}
	if len(c.RBAC.Roles) > 0 {
		if _, ok := c.RBAC.Roles[RoleChairperson]; !ok {
			return fmt.Errorf("config.rbac.roles must include %s", RoleChairperson)
		}
		for roleID := range c.RBAC.Roles {
			if strings.TrimSpace(roleID) == "" {
				return fmt.Errorf("config.rbac.roles contains empty role id")
			}
		}
	}
	return nil
}

// ReferenceSupplyInt parses voting.reference_supply; empty means zero.
func (c *Config) ReferenceSupplyInt() *big.Int {
	v, ok := new(big.Int).SetString(strings.TrimSpace(c.Voting.ReferenceSupply), 10)
	if !ok {
		return new(big.Int)
	}
	return v
}

func (c *Config) ChairpersonAddress() common.Address { return common.HexToAddress(c.DAO.Chairperson) }
func (c *Config) CustodyAddress() common.Address     { return common.HexToAddress(c.DAO.Custody) }
func (c *Config) TokenAddress() common.Address       { return common.HexToAddress(c.Token.Address) }

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault(chairperson common.Address) string {
	return fmt.Sprintf(defaultTemplate, chairperson.Hex())
}

// Default returns the default Config with the given chairperson.
func Default(chairperson common.Address) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(chairperson))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// ToYAML renders the config back to YAML.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

const defaultTemplate = `dao:
  chairperson: "%s"
  custody: "0x000000000000000000000000000000000000dA0A"

voting:
  duration: 168h
  min_quorum_percent: 40
  reference_supply: "0"

token:
  mode: ledger
  address: "0x0000000000000000000000000000000000007031"

rbac:
  roles:
    chairperson:
      description: "Creates proposals and manages roles"
      permissions: [proposal.create, dao.configure, rbac.manage]
    configurator:
      description: "Tunes voting duration and quorum"
      permissions: [dao.configure]
    proposer:
      description: "Creates proposals"
      permissions: [proposal.create]
`
