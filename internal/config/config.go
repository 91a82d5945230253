package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config holds the configuration settings for the application.
type Config struct {
	Server      *ServerConfig      `yaml:"server"`
	LogLevel    string             `yaml:"log_level"`
	Store       *StoreConfig       `yaml:"store"`
	BadgerDB    *BadgerDBConfig    `yaml:"badger_db"`
	DB          *DBConfig          `yaml:"db"`
	WalletStore *WalletStoreConfig `yaml:"wallet_store"`
	Ledger      *LedgerConfig      `yaml:"ledger"`
	RateLimit   *RateLimitConfig   `yaml:"rate_limit"`
}

// ServerConfig holds the configuration settings for the HTTP server.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StoreConfig selects the key-value backend that holds the chain.
type StoreConfig struct {
	Backend        string `yaml:"backend"` // badger | cosmos
	BlockCacheSize int    `yaml:"block_cache_size"`
}

// BadgerDBConfig holds the configuration settings for BadgerDB.
type BadgerDBConfig struct {
	Directory      string        `yaml:"directory"`
	InMemory       bool          `yaml:"in_memory"`
	GCInterval     time.Duration `yaml:"gc_interval"`
	GCDiscardRatio float64       `yaml:"gc_discard_ratio"`
	OpenAttempts   uint          `yaml:"open_attempts"`
}

// DBConfig configures a cosmos-db backend.
type DBConfig struct {
	Name   string `yaml:"name"`
	Dir    string `yaml:"dir"`
	DBType string `yaml:"db_type"` // goleveldb | memdb
}

type WalletStoreConfig struct {
	Backend    string `yaml:"backend"` // kv | sqlite
	Path       string `yaml:"path"`
	Passphrase string `yaml:"passphrase"`
}

type LedgerConfig struct {
	GenesisReward uint64        `yaml:"genesis_reward"`
	Decimals      int32         `yaml:"decimals"`
	SendTimeout   time.Duration `yaml:"send_timeout"`
}

// RateLimitConfig allows MaxRequests sends per address in any Window.
// MaxRequests <= 0 turns limiting off.
type RateLimitConfig struct {
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
}

const (
	BackendBadger = "badger"
	BackendCosmos = "cosmos"

	WalletBackendKV     = "kv"
	WalletBackendSQLite = "sqlite"
)

// LoadConfig reads and parses the configuration file.
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(config); err != nil {
		return nil, err
	}

	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", configPath, err)
	}
	return config, nil
}

// Default returns a configuration that runs entirely from ./data.
func Default() *Config {
	config := &Config{}
	config.SetDefaults()
	return config
}

// SetDefaults fills every section and field left empty.
func (c *Config) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Server == nil {
		c.Server = &ServerConfig{}
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}

	if c.Store == nil {
		c.Store = &StoreConfig{}
	}
	if c.Store.Backend == "" {
		c.Store.Backend = BackendBadger
	}
	if c.Store.BlockCacheSize <= 0 {
		c.Store.BlockCacheSize = 1024
	}

	if c.BadgerDB == nil {
		c.BadgerDB = &BadgerDBConfig{}
	}
	if c.BadgerDB.Directory == "" && !c.BadgerDB.InMemory {
		c.BadgerDB.Directory = "./data/chain"
	}
	if c.BadgerDB.GCInterval == 0 {
		c.BadgerDB.GCInterval = defaultGCInterval
	}
	if c.BadgerDB.GCDiscardRatio == 0 {
		c.BadgerDB.GCDiscardRatio = defaultGCDiscardRatio
	}
	if c.BadgerDB.OpenAttempts == 0 {
		c.BadgerDB.OpenAttempts = 5
	}

	if c.DB == nil {
		c.DB = &DBConfig{}
	}
	if c.DB.Name == "" {
		c.DB.Name = "chain"
	}
	if c.DB.Dir == "" {
		c.DB.Dir = "./data"
	}
	if c.DB.DBType == "" {
		c.DB.DBType = "goleveldb"
	}

	if c.WalletStore == nil {
		c.WalletStore = &WalletStoreConfig{}
	}
	if c.WalletStore.Backend == "" {
		c.WalletStore.Backend = WalletBackendKV
	}
	if c.WalletStore.Path == "" {
		c.WalletStore.Path = "./data/wallets"
		if c.WalletStore.Backend == WalletBackendSQLite {
			c.WalletStore.Path = "./data/wallets.db"
		}
	}

	if c.Ledger == nil {
		c.Ledger = &LedgerConfig{}
	}
	if c.Ledger.GenesisReward == 0 {
		c.Ledger.GenesisReward = 100
	}
	if c.Ledger.SendTimeout == 0 {
		c.Ledger.SendTimeout = 10 * time.Second
	}

	if c.RateLimit == nil {
		c.RateLimit = &RateLimitConfig{MaxRequests: 5, Window: time.Minute}
	}
	if c.RateLimit.MaxRequests > 0 && c.RateLimit.Window == 0 {
		c.RateLimit.Window = time.Minute
	}
}

const (
	defaultGCInterval     = 30 * time.Minute
	defaultGCDiscardRatio = 0.1
)

// Validate rejects settings the ledger cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendBadger, BackendCosmos:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	switch c.WalletStore.Backend {
	case WalletBackendKV, WalletBackendSQLite:
	default:
		return fmt.Errorf("unknown wallet store backend %q", c.WalletStore.Backend)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.BadgerDB.GCDiscardRatio <= 0 || c.BadgerDB.GCDiscardRatio >= 1 {
		return fmt.Errorf("badger gc_discard_ratio must be in (0, 1), got %v", c.BadgerDB.GCDiscardRatio)
	}
	if c.RateLimit.MaxRequests > 0 && c.RateLimit.Window < 0 {
		return fmt.Errorf("rate limit window must be positive, got %s", c.RateLimit.Window)
	}
	if c.Ledger.Decimals < 0 || c.Ledger.Decimals > 18 {
		return fmt.Errorf("ledger decimals must be between 0 and 18, got %d", c.Ledger.Decimals)
	}
	return nil
}
