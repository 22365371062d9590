package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SettlementFile models settlement.json.
type SettlementFile struct {
	Network struct {
		ID      string `json:"id"`
		Mode    string `json:"mode"`
		RPCURL  string `json:"rpcUrl"`
		DataDir string `json:"dataDir"`
	} `json:"network"`
	Token struct {
		Symbol   string `json:"symbol"`
		Decimals int32  `json:"decimals"`
	} `json:"token"`
	Retry struct {
		MaxAttempts       int `json:"maxAttempts"`
		InitialBackoffMs  int `json:"initialBackoffMs"`
		MaxBackoffMs      int `json:"maxBackoffMs"`
		BackoffMultiplier int `json:"backoffMultiplier"`
	} `json:"retry"`
	Timeouts struct {
		RPCTimeoutMs       int `json:"rpcTimeoutMs"`
		ConfirmTimeoutMs   int `json:"confirmTimeoutMs"`
		PollIntervalMs     int `json:"pollIntervalMs"`
		JournalWindowHours int `json:"journalWindowHours"`
	} `json:"timeouts"`
	Keys struct {
		CacheSize  int    `json:"cacheSize"`
		TTLSeconds int    `json:"ttlSeconds"`
		KeyFile    string `json:"keyFile"`
	} `json:"keys"`
	Limits struct {
		SubmitRate       float64 `json:"submitRate"`
		SubmitBurst      int     `json:"submitBurst"`
		BatchConcurrency int     `json:"batchConcurrency"`
	} `json:"limits"`
	Devnet struct {
		// Balances credits accounts when the devnet starts, keyed by address.
		Balances map[string]uint64 `json:"balances"`
	} `json:"devnet"`
}

// DeploymentConfig represents deployments.json.
type DeploymentConfig struct {
	NetworkID string `json:"networkId"`
	Relayer   string `json:"relayer"`
	Contracts struct {
		Escrow  string `json:"Escrow"`
		Gateway string `json:"Gateway"`
	} `json:"contracts"`
}

// AppConfig ties together the files and derived values.
type AppConfig struct {
	File       SettlementFile
	Deployment DeploymentConfig
	Service    ServiceConfig
	Network    NetworkConfig
	Retry      RetryConfig
	Timeouts   TimeoutConfig
	Keys       KeyConfig
}

type ServiceConfig struct {
	HTTPPort         int
	HMACSecrets      map[string]string
	HMACClockSkew    time.Duration
	JournalPath      string
	DLQPath          string
	PostgresDSN      string
	LogLevel         string
	LogFormat        string
	ShutdownTimeout  time.Duration
	MaxRequestBodyKB int
}

type NetworkConfig struct {
	ID              string
	Mode            string
	RPCURL          string
	DataDir         string
	RelayerKey      string
	EscrowContract  string
	GatewayContract string
}

type RetryConfig struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier int
}

type TimeoutConfig struct {
	RPC           time.Duration
	Confirm       time.Duration
	PollInterval  time.Duration
	JournalWindow time.Duration
}

type KeyConfig struct {
	CacheSize int
	TTL       time.Duration
	KeyFile   string
}

const (
	ModeDevnet = "devnet"
	ModeRPC    = "rpc"
)

const (
	defaultSettlementPath  = "settlement.json"
	defaultDeploymentsPath = "deployments.json"
)

// Load aggregates configuration from disk and environment.
func Load() (*AppConfig, error) {
	settlementPath := envOr("SETTLEMENT_CONFIG_PATH", defaultSettlementPath)
	deploymentsPath := envOr("DEPLOYMENTS_PATH", defaultDeploymentsPath)

	file, err := loadSettlement(settlementPath)
	if err != nil {
		return nil, fmt.Errorf("load settlement config: %w", err)
	}

	deployCfg, err := loadDeployments(deploymentsPath)
	if err != nil {
		return nil, fmt.Errorf("load deployments: %w", err)
	}

	cfg := fromFiles(file, deployCfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromFiles(file *SettlementFile, deployCfg *DeploymentConfig) *AppConfig {
	serviceCfg := ServiceConfig{
		HTTPPort:         envOrInt("API_HTTP_PORT", 3000),
		HMACSecrets:      hmacSecrets(),
		HMACClockSkew:    time.Duration(envOrInt("HMAC_CLOCK_SKEW_SECONDS", 60)) * time.Second,
		JournalPath:      envOr("JOURNAL_STORE_PATH", filepath.Join(os.TempDir(), "rewardrails-journal.json")),
		DLQPath:          envOr("DLQ_PATH", filepath.Join(os.TempDir(), "rewardrails-dlq")),
		PostgresDSN:      envOr("POSTGRES_DSN", ""),
		LogLevel:         envOr("LOG_LEVEL", "info"),
		LogFormat:        envOr("LOG_FORMAT", "json"),
		ShutdownTimeout:  time.Duration(envOrInt("SHUTDOWN_TIMEOUT_SECONDS", 15)) * time.Second,
		MaxRequestBodyKB: envOrInt("MAX_REQUEST_BODY_KB", 256),
	}

	networkID := file.Network.ID
	if deployCfg.NetworkID != "" {
		networkID = deployCfg.NetworkID
	}
	networkCfg := NetworkConfig{
		ID:              envOr("NETWORK_ID", networkID),
		Mode:            envOr("NETWORK_MODE", orDefault(file.Network.Mode, ModeDevnet)),
		RPCURL:          envOr("CHAIN_RPC_URL", file.Network.RPCURL),
		DataDir:         envOr("DEVNET_DATA_DIR", file.Network.DataDir),
		RelayerKey:      envOr("RELAYER_PRIVATE_KEY", ""),
		EscrowContract:  envOr("ESCROW_CONTRACT", deployCfg.Contracts.Escrow),
		GatewayContract: envOr("GATEWAY_CONTRACT", deployCfg.Contracts.Gateway),
	}

	retryCfg := RetryConfig{
		MaxAttempts:       file.Retry.MaxAttempts,
		InitialBackoff:    time.Duration(file.Retry.InitialBackoffMs) * time.Millisecond,
		MaxBackoff:        time.Duration(file.Retry.MaxBackoffMs) * time.Millisecond,
		BackoffMultiplier: file.Retry.BackoffMultiplier,
	}

	timeoutCfg := TimeoutConfig{
		RPC:           time.Duration(orDefaultInt(file.Timeouts.RPCTimeoutMs, 10000)) * time.Millisecond,
		Confirm:       time.Duration(file.Timeouts.ConfirmTimeoutMs) * time.Millisecond,
		PollInterval:  time.Duration(file.Timeouts.PollIntervalMs) * time.Millisecond,
		JournalWindow: time.Duration(file.Timeouts.JournalWindowHours) * time.Hour,
	}

	keyCfg := KeyConfig{
		CacheSize: orDefaultInt(file.Keys.CacheSize, 64),
		TTL:       time.Duration(orDefaultInt(file.Keys.TTLSeconds, 900)) * time.Second,
		KeyFile:   envOr("SIGNER_KEY_FILE", file.Keys.KeyFile),
	}

	return &AppConfig{
		File:       *file,
		Deployment: *deployCfg,
		Service:    serviceCfg,
		Network:    networkCfg,
		Retry:      retryCfg,
		Timeouts:   timeoutCfg,
		Keys:       keyCfg,
	}
}

// Validate checks what the process cannot start without.
func (c *AppConfig) Validate() error {
	var errs []error
	if c.Network.ID == "" {
		errs = append(errs, errors.New("network id is required"))
	}
	if c.Network.EscrowContract == "" {
		errs = append(errs, errors.New("escrow contract address is required"))
	}
	switch c.Network.Mode {
	case ModeDevnet:
	case ModeRPC:
		if c.Network.RPCURL == "" {
			errs = append(errs, errors.New("rpc mode needs an rpc url"))
		}
		if c.Network.GatewayContract == "" {
			errs = append(errs, errors.New("rpc mode needs a gateway contract"))
		}
		if c.Network.RelayerKey == "" {
			errs = append(errs, errors.New("rpc mode needs RELAYER_PRIVATE_KEY"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown network mode %q", c.Network.Mode))
	}
	if c.Keys.KeyFile == "" {
		errs = append(errs, errors.New("signer key file is required"))
	}
	return errors.Join(errs...)
}

func loadSettlement(path string) (*SettlementFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg SettlementFile
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadDeployments(path string) (*DeploymentConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg DeploymentConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// hmacSecrets reads HMAC_SECRETS as a JSON object of key id to secret. A
// bare HMAC_SECRET is registered under the id "default".
func hmacSecrets() map[string]string {
	out := make(map[string]string)
	if raw := envOr("HMAC_SECRETS", ""); raw != "" {
		_ = json.Unmarshal([]byte(raw), &out)
	}
	if secret := envOr("HMAC_SECRET", ""); secret != "" {
		out["default"] = secret
	}
	return out
}

func orDefault(val, fallback string) string {
	if val == "" {
		return fallback
	}
	return val
}

func orDefaultInt(val, fallback int) int {
	if val <= 0 {
		return fallback
	}
	return val
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return fallback
}
