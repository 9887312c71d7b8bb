package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models gigledger.yml.
type Config struct {
	Service struct {
		Name string `yaml:"name"`
		Env  string `yaml:"env"`
	} `yaml:"service"`
	Store struct {
		// File is relative to the workspace unless absolute.
		File        string        `yaml:"file"`
		BusyTimeout time.Duration `yaml:"busy_timeout"`
	} `yaml:"store"`
	Server struct {
		Addr              string   `yaml:"addr"`
		BasePath          string   `yaml:"base_path"`
		AllowedOrigins    []string `yaml:"allowed_origins"`
		RequestsPerMinute float64  `yaml:"requests_per_minute"`
		Burst             int      `yaml:"burst"`
	} `yaml:"server"`
	Ledger struct {
		Network        string `yaml:"network"`
		RPCURL         string `yaml:"rpc_url"`
		IndexerURL     string `yaml:"indexer_url"`
		OperatorID     string `yaml:"operator_id"`
		NodeAccountID  string `yaml:"node_account_id"`
		NativeCurrency string `yaml:"native_currency"`
		Decimals       int32  `yaml:"decimals"`
		PageLimit      int    `yaml:"page_limit"`
	} `yaml:"ledger"`
	Channels struct {
		Profile string `yaml:"profile"`
		Gig     string `yaml:"gig"`
		Message string `yaml:"message"`
	} `yaml:"channels"`
	Escrow struct {
		ArbiterAccountID string `yaml:"arbiter_account_id"`
		BytecodePath     string `yaml:"bytecode_path"`
		ChunkSize        int    `yaml:"chunk_size"`
		CreateGas        uint64 `yaml:"create_gas"`
		CallGas          uint64 `yaml:"call_gas"`
	} `yaml:"escrow"`
	Resolver struct {
		Attempts int           `yaml:"attempts"`
		Interval time.Duration `yaml:"interval"`
	} `yaml:"resolver"`
	Sync struct {
		Interval  time.Duration `yaml:"interval"`
		OnStartup bool          `yaml:"on_startup"`
	} `yaml:"sync"`
	Rewards map[string]RewardTier `yaml:"rewards"`
	Mail    struct {
		Enabled  bool   `yaml:"enabled"`
		SMTPHost string `yaml:"smtp_host"`
		SMTPPort int    `yaml:"smtp_port"`
		Username string `yaml:"username"`
		From     string `yaml:"from"`
	} `yaml:"mail"`
}

// RewardTier is a claimable badge gated on accumulated XP.
type RewardTier struct {
	Name        string `yaml:"name" json:"name"`
	Threshold   int64  `yaml:"threshold" json:"threshold"`
	Description string `yaml:"description" json:"description,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with gl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Ledger.OperatorID == "" {
		return fmt.Errorf("config.ledger.operator_id is required")
	}
	if !isAccountID(c.Ledger.OperatorID) {
		return fmt.Errorf("config.ledger.operator_id %q is not a shard.realm.num id", c.Ledger.OperatorID)
	}
	if c.Ledger.Decimals < 0 || c.Ledger.Decimals > 18 {
		return fmt.Errorf("config.ledger.decimals must be between 0 and 18")
	}
	if c.Channels.Profile == "" || c.Channels.Gig == "" || c.Channels.Message == "" {
		return fmt.Errorf("config.channels.profile, gig and message are required")
	}
	if c.Escrow.ArbiterAccountID == "" {
		return fmt.Errorf("config.escrow.arbiter_account_id is required")
	}
	if !isAccountID(c.Escrow.ArbiterAccountID) {
		return fmt.Errorf("config.escrow.arbiter_account_id %q is not a shard.realm.num id", c.Escrow.ArbiterAccountID)
	}
	if c.Escrow.ChunkSize <= 0 {
		return fmt.Errorf("config.escrow.chunk_size must be positive")
	}
	if c.Resolver.Attempts <= 0 {
		return fmt.Errorf("config.resolver.attempts must be positive")
	}
	if c.Resolver.Interval < 0 {
		return fmt.Errorf("config.resolver.interval must not be negative")
	}
	for id, tier := range c.Rewards {
		if id == "" {
			return fmt.Errorf("config.rewards contains empty reward id")
		}
		if tier.Threshold <= 0 {
			return fmt.Errorf("reward %s threshold must be positive", id)
		}
	}
	if c.Mail.Enabled && (c.Mail.SMTPHost == "" || c.Mail.From == "") {
		return fmt.Errorf("config.mail.smtp_host and from are required when mail is enabled")
	}
	return nil
}

// RewardIDs returns the configured reward ids ordered by threshold.
func (c *Config) RewardIDs() []string {
	ids := make([]string, 0, len(c.Rewards))
	for id := range c.Rewards {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := c.Rewards[ids[i]], c.Rewards[ids[j]]
		if a.Threshold == b.Threshold {
			return ids[i] < ids[j]
		}
		return a.Threshold < b.Threshold
	})
	return ids
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "gigledger.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Values absent
// from data keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

func isAccountID(id string) bool {
	parts := strings.Split(id, ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
		for _, r := range p {
			if r < '0' || r > '9' {
				return false
			}
		}
	}
	return true
}

const defaultTemplate = `service:
  name: gigledger
  env: development

store:
  file: .gigledger/gigledger.db
  busy_timeout: 5s

server:
  addr: 127.0.0.1:8080
  base_path: /api
  allowed_origins: ["*"]
  requests_per_minute: 600
  burst: 60

ledger:
  network: testnet
  rpc_url: http://127.0.0.1:50211/rpc
  indexer_url: http://127.0.0.1:5551
  operator_id: 0.0.2
  node_account_id: 0.0.3
  native_currency: HBAR
  decimals: 8
  page_limit: 100

channels:
  profile: 0.0.1001
  gig: 0.0.1002
  message: 0.0.1003

escrow:
  arbiter_account_id: 0.0.2
  bytecode_path: contracts/Escrow.bin
  chunk_size: 4096
  create_gas: 1500000
  call_gas: 300000

resolver:
  attempts: 5
  interval: 2s

sync:
  interval: 5m
  on_startup: true

rewards:
  bronze:
    name: Bronze
    threshold: 100
    description: "First completed gigs"
  silver:
    name: Silver
    threshold: 500
  gold:
    name: Gold
    threshold: 1000

mail:
  enabled: false
  smtp_port: 587
`
