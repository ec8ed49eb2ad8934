package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// wagerABI is the surface of the pool contract the service consumes.
const wagerABI = `[
  {"type":"function","name":"getCurrentPlayers","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address[]"}]},
  {"type":"function","name":"getPlayerDeposit","stateMutability":"view","inputs":[{"name":"player","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"poolBalance","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"payPlayers","stateMutability":"nonpayable","inputs":[{"name":"players","type":"address[]"},{"name":"amounts","type":"uint256[]"}],"outputs":[]},
  {"type":"function","name":"payHouse","stateMutability":"nonpayable","inputs":[{"name":"amount1","type":"uint256"},{"name":"amount2","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"resetPayments","stateMutability":"nonpayable","inputs":[],"outputs":[]}
]`

// EVMConfig captures connection parameters for the wager contract.
type EVMConfig struct {
	RPCURL          string
	ContractAddress string
	SignerKey       string
	ChainID         int64
	Confirmations   uint64
	PollInterval    time.Duration
}

// EVMLedger implements Ledger against an Ethereum-compatible node.
type EVMLedger struct {
	client        *ethclient.Client
	contract      *bind.BoundContract
	signer        *bind.TransactOpts
	confirmations uint64
	pollInterval  time.Duration
}

// DialEVM connects to the node and binds the wager contract.
func DialEVM(ctx context.Context, cfg EVMConfig) (*EVMLedger, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, fmt.Errorf("ledger: rpc url required")
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("ledger: invalid contract address %q", cfg.ContractAddress)
	}
	key, err := gethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.SignerKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("ledger: parse signer key: %w", err)
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("ledger: dial %s: %w", rpcURL, err)
	}
	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		chainID, err = client.ChainID(ctx)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("ledger: query chain id: %w", err)
		}
	}
	signer, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ledger: build transactor: %w", err)
	}
	parsed, err := abi.JSON(strings.NewReader(wagerABI))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ledger: parse abi: %w", err)
	}
	contract := bind.NewBoundContract(common.HexToAddress(cfg.ContractAddress), parsed, client, client, client)
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 3 * time.Second
	}
	return &EVMLedger{
		client:        client,
		contract:      contract,
		signer:        signer,
		confirmations: cfg.Confirmations,
		pollInterval:  poll,
	}, nil
}

// Close releases the underlying RPC connection.
func (l *EVMLedger) Close() {
	if l.client != nil {
		l.client.Close()
	}
}

// CurrentPlayers lists depositor addresses as lowercase hex strings.
func (l *EVMLedger) CurrentPlayers(ctx context.Context) ([]string, error) {
	var out []interface{}
	if err := l.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getCurrentPlayers"); err != nil {
		return nil, fmt.Errorf("ledger: getCurrentPlayers: %w", err)
	}
	addrs := *abi.ConvertType(out[0], new([]common.Address)).(*[]common.Address)
	players := make([]string, 0, len(addrs))
	for _, a := range addrs {
		players = append(players, strings.ToLower(a.Hex()))
	}
	return players, nil
}

// PlayerDeposit reports the pool deposit held by an address.
func (l *EVMLedger) PlayerDeposit(ctx context.Context, address string) (*big.Int, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("ledger: invalid address %q", address)
	}
	var out []interface{}
	if err := l.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getPlayerDeposit", common.HexToAddress(address)); err != nil {
		return nil, fmt.Errorf("ledger: getPlayerDeposit: %w", err)
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// PoolBalance reports the current total pool.
func (l *EVMLedger) PoolBalance(ctx context.Context) (*big.Int, error) {
	var out []interface{}
	if err := l.contract.Call(&bind.CallOpts{Context: ctx}, &out, "poolBalance"); err != nil {
		return nil, fmt.Errorf("ledger: poolBalance: %w", err)
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// PayPlayers submits the winner disbursement and waits for confirmation.
func (l *EVMLedger) PayPlayers(ctx context.Context, addresses []string, amounts []*big.Int) (string, error) {
	if len(addresses) == 0 || len(addresses) != len(amounts) {
		return "", fmt.Errorf("ledger: payPlayers needs matching non-empty address and amount lists")
	}
	players := make([]common.Address, 0, len(addresses))
	for _, a := range addresses {
		if !common.IsHexAddress(a) {
			return "", fmt.Errorf("ledger: invalid winner address %q", a)
		}
		players = append(players, common.HexToAddress(a))
	}
	for i, amt := range amounts {
		if amt == nil || amt.Sign() < 0 {
			return "", fmt.Errorf("ledger: invalid amount at index %d", i)
		}
	}
	tx, err := l.contract.Transact(l.transactOpts(ctx), "payPlayers", players, amounts)
	if err != nil {
		return "", fmt.Errorf("ledger: payPlayers: %w", err)
	}
	if err := l.waitConfirmed(ctx, tx); err != nil {
		return "", err
	}
	return tx.Hash().Hex(), nil
}

// PayHouse submits the house-fee disbursement and waits for confirmation.
func (l *EVMLedger) PayHouse(ctx context.Context, first, second *big.Int) (string, error) {
	if first == nil || second == nil || first.Sign() < 0 || second.Sign() < 0 {
		return "", fmt.Errorf("ledger: house amounts must be non-negative")
	}
	tx, err := l.contract.Transact(l.transactOpts(ctx), "payHouse", first, second)
	if err != nil {
		return "", fmt.Errorf("ledger: payHouse: %w", err)
	}
	if err := l.waitConfirmed(ctx, tx); err != nil {
		return "", err
	}
	return tx.Hash().Hex(), nil
}

// ResetPayments clears the contract's pool state and waits for confirmation.
func (l *EVMLedger) ResetPayments(ctx context.Context) (string, error) {
	tx, err := l.contract.Transact(l.transactOpts(ctx), "resetPayments")
	if err != nil {
		return "", fmt.Errorf("ledger: resetPayments: %w", err)
	}
	if err := l.waitConfirmed(ctx, tx); err != nil {
		return "", err
	}
	return tx.Hash().Hex(), nil
}

func (l *EVMLedger) transactOpts(ctx context.Context) *bind.TransactOpts {
	opts := *l.signer
	opts.Context = ctx
	return &opts
}

// waitConfirmed blocks until the transaction is mined, succeeded, and buried
// under the configured number of confirmations.
func (l *EVMLedger) waitConfirmed(ctx context.Context, tx *gethtypes.Transaction) error {
	receipt, err := bind.WaitMined(ctx, l.client, tx)
	if err != nil {
		return fmt.Errorf("ledger: wait mined %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return fmt.Errorf("ledger: transaction %s reverted", tx.Hash().Hex())
	}
	if l.confirmations <= 1 {
		return nil
	}
	for {
		header, err := l.client.HeaderByNumber(ctx, nil)
		if err != nil {
			return fmt.Errorf("ledger: fetch head: %w", err)
		}
		if header.Number == nil || receipt.BlockNumber == nil {
			return errors.New("ledger: block metadata unavailable")
		}
		confirmed := new(big.Int).Sub(header.Number, receipt.BlockNumber)
		confirmed.Add(confirmed, big.NewInt(1))
		if confirmed.Cmp(new(big.Int).SetUint64(l.confirmations)) >= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.pollInterval):
		}
	}
}
