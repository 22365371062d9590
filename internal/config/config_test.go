package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const settlementJSON = `{
  "network": {"id": "rewards-devnet", "mode": "devnet"},
  "token": {"symbol": "RWD", "decimals": 7},
  "retry": {"maxAttempts": 4, "initialBackoffMs": 250, "maxBackoffMs": 2000, "backoffMultiplier": 2},
  "timeouts": {"rpcTimeoutMs": 3000, "confirmTimeoutMs": 20000, "pollIntervalMs": 400, "journalWindowHours": 48},
  "keys": {"keyFile": "keys.json"},
  "limits": {"submitRate": 5, "submitBurst": 2, "batchConcurrency": 8},
  "devnet": {"balances": {"0x00000000000000000000000000000000000000aA": 1000}}
}`

const deploymentsJSON = `{
  "networkId": "",
  "contracts": {"Escrow": "0x0000000000000000000000000000000000000000000000000000000000000042"}
}`

func writeFiles(t *testing.T, settlement, deployments string) {
	t.Helper()
	dir := t.TempDir()
	sp := filepath.Join(dir, "settlement.json")
	dp := filepath.Join(dir, "deployments.json")
	require.NoError(t, os.WriteFile(sp, []byte(settlement), 0o600))
	require.NoError(t, os.WriteFile(dp, []byte(deployments), 0o600))
	t.Setenv("SETTLEMENT_CONFIG_PATH", sp)
	t.Setenv("DEPLOYMENTS_PATH", dp)
}

func TestLoad(t *testing.T) {
	writeFiles(t, settlementJSON, deploymentsJSON)
	t.Setenv("API_HTTP_PORT", "8088")
	t.Setenv("HMAC_SECRETS", `{"ops":"s1"}`)
	t.Setenv("HMAC_SECRET", "s0")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "rewards-devnet", cfg.Network.ID)
	assert.Equal(t, ModeDevnet, cfg.Network.Mode)
	assert.Equal(t, 8088, cfg.Service.HTTPPort)
	assert.Equal(t, map[string]string{"ops": "s1", "default": "s0"}, cfg.Service.HMACSecrets)
	assert.Equal(t, 4, cfg.Retry.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.InitialBackoff)
	assert.Equal(t, 2*time.Second, cfg.Retry.MaxBackoff)
	assert.Equal(t, 20*time.Second, cfg.Timeouts.Confirm)
	assert.Equal(t, 48*time.Hour, cfg.Timeouts.JournalWindow)
	assert.Equal(t, 64, cfg.Keys.CacheSize)
	assert.Equal(t, 15*time.Minute, cfg.Keys.TTL)
	assert.EqualValues(t, 1000, cfg.File.Devnet.Balances["0x00000000000000000000000000000000000000aA"])
}

func TestDeploymentOverridesNetworkID(t *testing.T) {
	writeFiles(t, settlementJSON, `{"networkId": "rewards-main", "contracts": {"Escrow": "0x42"}}`)
	t.Setenv("NETWORK_ID", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "rewards-main", cfg.Network.ID)
}

func TestRPCModeNeedsGateway(t *testing.T) {
	writeFiles(t, settlementJSON, deploymentsJSON)
	t.Setenv("NETWORK_MODE", ModeRPC)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rpc url")
	assert.Contains(t, err.Error(), "gateway")
	assert.Contains(t, err.Error(), "RELAYER_PRIVATE_KEY")
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("SETTLEMENT_CONFIG_PATH", filepath.Join(t.TempDir(), "missing.json"))
	_, err := Load()
	assert.ErrorIs(t, err, os.ErrNotExist)
}
