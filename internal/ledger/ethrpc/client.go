// Package ethrpc relays signed envelopes through a gateway contract on an
// EVM chain.
package ethrpc

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum"
	gethabi "github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"rewardrails/internal/abi"
	"rewardrails/internal/address"
	"rewardrails/internal/invoke"
	"rewardrails/internal/ledger"
)

// Client implements ledger.Ledger on top of an EVM JSON-RPC endpoint.
type Client struct {
	client    *ethclient.Client
	contract  *bind.BoundContract
	abi       gethabi.ABI
	address   common.Address
	chainID   *big.Int
	transacts *bind.TransactOpts
	networkID string
	waitMined bool
	fromBlock uint64
	log       zerolog.Logger

	// relayer nonces are assigned by the node, so sends are serialized
	sendMu sync.Mutex
}

var _ ledger.Ledger = (*Client)(nil)

type Config struct {
	RPCURL        string
	RelayerKeyHex string
	Gateway       string
	NetworkID     string
	// WaitMined makes Submit block until the relay transaction is mined.
	WaitMined bool
	// FromBlock bounds receipt log searches.
	FromBlock uint64
	Logger    zerolog.Logger
}

func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if !common.IsHexAddress(cfg.Gateway) {
		return nil, fmt.Errorf("gateway address is required")
	}
	if cfg.NetworkID == "" {
		return nil, fmt.Errorf("network id is required")
	}
	if cfg.RelayerKeyHex == "" {
		return nil, fmt.Errorf("relayer key is required for submitting envelopes")
	}

	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	pk, err := parsePrivateKey(cfg.RelayerKeyHex)
	if err != nil {
		return nil, err
	}
	chainID, err := cli.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}
	txOpts, err := bind.NewKeyedTransactorWithChainID(pk, chainID)
	if err != nil {
		return nil, fmt.Errorf("transactor: %w", err)
	}
	txOpts.GasLimit = 0 // let node estimate

	c, err := newClient(cli, common.HexToAddress(cfg.Gateway), cfg)
	if err != nil {
		return nil, err
	}
	c.chainID = chainID
	c.transacts = txOpts
	return c, nil
}

func newClient(cli *ethclient.Client, gateway common.Address, cfg Config) (*Client, error) {
	parsed, err := gethabi.JSON(strings.NewReader(GatewayABI))
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}
	c := &Client{
		client:    cli,
		abi:       parsed,
		address:   gateway,
		networkID: cfg.NetworkID,
		waitMined: cfg.WaitMined,
		fromBlock: cfg.FromBlock,
		log:       cfg.Logger.With().Str("component", "ethrpc").Logger(),
	}
	if cli != nil {
		c.contract = bind.NewBoundContract(gateway, parsed, cli, cli, cli)
	} else {
		c.contract = bind.NewBoundContract(gateway, parsed, nil, nil, nil)
	}
	return c, nil
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

func (c *Client) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

func (c *Client) Ping(ctx context.Context) error {
	if c.client == nil {
		return fmt.Errorf("rpc client not configured")
	}
	_, err := c.client.BlockNumber(ctx)
	return err
}

// Submit relays the envelope. Any transport failure is reported as
// ErrUnavailable: the relay may or may not have been mined.
func (c *Client) Submit(ctx context.Context, stx invoke.SignedTransaction) (invoke.Hash, error) {
	if c.transacts == nil {
		return invoke.Hash{}, fmt.Errorf("client is read-only")
	}
	hash := stx.Hash(c.networkID)

	c.sendMu.Lock()
	opts := *c.transacts
	opts.Context = ctx
	tx, err := c.contract.Transact(&opts, "submit", stx.Envelope, stx.Signature)
	c.sendMu.Unlock()
	if err != nil {
		return invoke.Hash{}, errorsmod.Wrapf(ledger.ErrUnavailable, "relay tx: %v", err)
	}
	c.log.Debug().Str("tx_hash", hash.String()).Str("relay_tx", tx.Hash().Hex()).Msg("envelope relayed")

	if c.waitMined {
		receipt, err := WaitForReceipt(ctx, c.client, tx, 2*time.Second)
		if err != nil {
			return invoke.Hash{}, errorsmod.Wrapf(ledger.ErrUnavailable, "wait for relay: %v", err)
		}
		if receipt.Status != types.ReceiptStatusSuccessful {
			return invoke.Hash{}, errorsmod.Wrapf(ledger.ErrUnavailable, "relay tx %s reverted", tx.Hash().Hex())
		}
	}
	return hash, nil
}

func (c *Client) Receipt(ctx context.Context, hash invoke.Hash) (*ledger.Receipt, error) {
	event := c.abi.Events["Executed"]
	logs, err := c.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(c.fromBlock),
		Addresses: []common.Address{c.address},
		Topics:    [][]common.Hash{{event.ID}, {common.Hash(hash)}},
	})
	if err != nil {
		return nil, errorsmod.Wrapf(ledger.ErrUnavailable, "filter logs: %v", err)
	}
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		header, err := c.client.HeaderByNumber(ctx, new(big.Int).SetUint64(lg.BlockNumber))
		if err != nil {
			return nil, errorsmod.Wrapf(ledger.ErrUnavailable, "block header: %v", err)
		}
		return c.receiptFromLog(lg, time.Unix(int64(header.Time), 0).UTC())
	}
	return nil, errorsmod.Wrapf(ledger.ErrTxNotFound, "tx %s", hash)
}

type executedEvent struct {
	TxHash    [32]byte
	Source    common.Address
	Sequence  uint64
	Success   bool
	Codespace string
	Code      uint32
	Log       string
	Results   []byte
	Events    []byte
}

func (c *Client) receiptFromLog(lg types.Log, at time.Time) (*ledger.Receipt, error) {
	var ev executedEvent
	if err := c.contract.UnpackLog(&ev, "Executed", lg); err != nil {
		return nil, fmt.Errorf("unpack executed event: %w", err)
	}
	r := &ledger.Receipt{
		Hash:      invoke.Hash(ev.TxHash),
		Source:    address.AccountAddress(ev.Source),
		Sequence:  ev.Sequence,
		Success:   ev.Success,
		Codespace: ev.Codespace,
		Code:      ev.Code,
		Log:       ev.Log,
		Timestamp: at,
	}
	if !ev.Success {
		return r, nil
	}
	var err error
	if r.Results, err = decodeResults(ev.Results); err != nil {
		return nil, err
	}
	if r.Events, err = decodeEvents(ev.Events); err != nil {
		return nil, err
	}
	return r, nil
}

func (c *Client) Sequence(ctx context.Context, account address.AccountAddress) (uint64, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "sequence", common.Address(account)); err != nil {
		return 0, errorsmod.Wrapf(ledger.ErrUnavailable, "sequence call: %v", err)
	}
	if len(out) != 1 {
		return 0, fmt.Errorf("sequence returned %d values", len(out))
	}
	seq, ok := out[0].(uint64)
	if !ok {
		return 0, fmt.Errorf("sequence returned %T", out[0])
	}
	return seq, nil
}

func (c *Client) Query(ctx context.Context, op invoke.Operation) (abi.Val, error) {
	encoded, err := op.Encode()
	if err != nil {
		return abi.Val{}, err
	}
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "query", encoded); err != nil {
		return abi.Val{}, errorsmod.Wrapf(ledger.ErrUnavailable, "query call: %v", err)
	}
	if len(out) != 4 {
		return abi.Val{}, fmt.Errorf("query returned %d values", len(out))
	}
	result, _ := out[0].([]byte)
	codespace, _ := out[1].(string)
	code, _ := out[2].(uint32)
	log, _ := out[3].(string)
	if code != 0 {
		return abi.Val{}, errorsmod.ABCIError(codespace, code, log)
	}
	return abi.Unmarshal(result)
}

// WaitForReceipt polls until the transaction is mined or ctx is done.
func WaitForReceipt(ctx context.Context, client *ethclient.Client, tx *types.Transaction, every time.Duration) (*types.Receipt, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		receipt, err := client.TransactionReceipt(ctx, tx.Hash())
		if receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
