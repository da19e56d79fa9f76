// Package chain derives wallet activity summaries from on-chain ERC-20
// Transfer logs so they can be scored for suspicious behavior.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/mbd888/vigil/internal/fraud"
	"github.com/mbd888/vigil/internal/logging"
	"github.com/mbd888/vigil/internal/metrics"
	"github.com/mbd888/vigil/internal/retry"
	"github.com/mbd888/vigil/internal/syncutil"
)

// ERC20 Transfer event signature
var transferEventSig = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

var ErrInvalidWallet = errors.New("invalid wallet address")

// Reader is the RPC surface the collector needs. *ethclient.Client
// satisfies it.
type Reader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Config for the activity collector
type Config struct {
	RPCURL  string
	ChainID int64
	// Tokens restricts scans to these ERC-20 contracts. Empty means any.
	Tokens []common.Address
	// LookbackBlocks is how far back from the head a scan reaches.
	LookbackBlocks uint64
	// LargeTransfer is the raw token amount at or above which a transfer
	// counts as large.
	LargeTransfer *big.Int
	// GasMultiplier flags a sent transaction whose gas exceeds this many
	// times the wallet's median.
	GasMultiplier float64
	// MaxReceipts caps receipt lookups per scan.
	MaxReceipts         int
	SuspiciousContracts []string
	RPCAttempts         int
	RPCBackoff          time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		LookbackBlocks: 5000,
		LargeTransfer:  big.NewInt(10_000_000_000), // 10,000 units of a 6-decimal token
		GasMultiplier:  3,
		MaxReceipts:    200,
		RPCAttempts:    3,
		RPCBackoff:     200 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.LookbackBlocks == 0 {
		c.LookbackBlocks = d.LookbackBlocks
	}
	if c.LargeTransfer == nil || c.LargeTransfer.Sign() <= 0 {
		c.LargeTransfer = d.LargeTransfer
	}
	if c.GasMultiplier <= 1 {
		c.GasMultiplier = d.GasMultiplier
	}
	if c.MaxReceipts <= 0 {
		c.MaxReceipts = d.MaxReceipts
	}
	if c.RPCAttempts <= 0 {
		c.RPCAttempts = d.RPCAttempts
	}
	if c.RPCBackoff <= 0 {
		c.RPCBackoff = d.RPCBackoff
	}
	return c
}

// Collector summarizes wallet activity from Transfer logs.
type Collector struct {
	reader   Reader
	cfg      Config
	denylist map[common.Address]bool
	locks    syncutil.ShardedMutex
	logger   *slog.Logger
}

// Dial connects to cfg.RPCURL and returns a collector over it.
func Dial(cfg Config, logger *slog.Logger) (*Collector, error) {
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}
	return NewCollector(client, cfg, logger), nil
}

// NewCollector creates a collector over reader.
func NewCollector(reader Reader, cfg Config, logger *slog.Logger) *Collector {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = logging.Discard()
	}
	deny := make(map[common.Address]bool, len(cfg.SuspiciousContracts))
	for _, addr := range cfg.SuspiciousContracts {
		if common.IsHexAddress(addr) {
			deny[common.HexToAddress(addr)] = true
		}
	}
	return &Collector{reader: reader, cfg: cfg, denylist: deny, logger: logger}
}

// transfer is one decoded Transfer log touching the wallet.
type transfer struct {
	txHash   common.Hash
	index    uint
	contract common.Address
	sent     bool
	amount   *big.Int
}

// Collect scans the lookback window for wallet and returns its activity.
// Concurrent scans of the same wallet are serialized.
func (c *Collector) Collect(ctx context.Context, wallet string) (*fraud.Web3Activity, error) {
	if !common.IsHexAddress(wallet) || !strings.HasPrefix(wallet, "0x") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidWallet, wallet)
	}
	addr := common.HexToAddress(wallet)

	unlock, err := c.locks.LockContext(ctx, addr.Hex())
	if err != nil {
		return nil, err
	}
	defer unlock()

	activity, err := c.collect(ctx, addr)
	if err != nil {
		metrics.ChainScansTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.ChainScansTotal.WithLabelValues("ok").Inc()
	return activity, nil
}

func (c *Collector) collect(ctx context.Context, addr common.Address) (*fraud.Web3Activity, error) {
	var head uint64
	err := retry.Do(ctx, c.cfg.RPCAttempts, c.cfg.RPCBackoff, func() error {
		var err error
		head, err = c.reader.BlockNumber(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get block number: %w", err)
	}

	from := uint64(0)
	if head > c.cfg.LookbackBlocks {
		from = head - c.cfg.LookbackBlocks
	}

	walletTopic := common.BytesToHash(addr.Bytes())
	sent, err := c.filter(ctx, from, head, [][]common.Hash{{transferEventSig}, {walletTopic}})
	if err != nil {
		return nil, err
	}
	received, err := c.filter(ctx, from, head, [][]common.Hash{{transferEventSig}, nil, {walletTopic}})
	if err != nil {
		return nil, err
	}

	// A self-transfer shows up in both queries.
	type logKey struct {
		tx    common.Hash
		index uint
	}
	seen := map[logKey]bool{}
	transfers := make([]transfer, 0, len(sent)+len(received))
	add := func(logs []types.Log, isSent bool) {
		for _, l := range logs {
			t, ok := decode(l, isSent)
			if !ok || seen[logKey{t.txHash, t.index}] {
				continue
			}
			seen[logKey{t.txHash, t.index}] = true
			transfers = append(transfers, t)
		}
	}
	add(sent, true)
	add(received, false)

	activity := &fraud.Web3Activity{
		WalletAddress: addr.Hex(),
		ChainID:       c.cfg.ChainID,
		TimeWindow:    fmt.Sprintf("blocks %d-%d", from, head),
	}

	txs := map[common.Hash]bool{}
	var sentTxs []common.Hash
	contracts := map[common.Address]bool{}
	var contractOrder []common.Address
	for _, t := range transfers {
		if !txs[t.txHash] {
			txs[t.txHash] = true
			if t.sent {
				sentTxs = append(sentTxs, t.txHash)
			}
		}
		if t.amount.Cmp(c.cfg.LargeTransfer) >= 0 {
			activity.LargeTransactionCount++
		}
		if !contracts[t.contract] {
			contracts[t.contract] = true
			contractOrder = append(contractOrder, t.contract)
		}
	}
	activity.TransactionCount = len(txs)
	for _, contract := range contractOrder {
		activity.ContractInteractions = append(activity.ContractInteractions, fraud.ContractInteraction{
			Address:    contract.Hex(),
			Suspicious: c.denylist[contract],
		})
	}

	abnormal, err := c.abnormalGas(ctx, sentTxs)
	if err != nil {
		return nil, err
	}
	activity.AbnormalGasUsage = abnormal

	c.logger.Debug("wallet scanned",
		"wallet", activity.WalletAddress,
		"from_block", from,
		"to_block", head,
		"transactions", activity.TransactionCount,
		"large", activity.LargeTransactionCount,
	)
	return activity, nil
}

func (c *Collector) filter(ctx context.Context, from, to uint64, topics [][]common.Hash) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: c.cfg.Tokens,
		Topics:    topics,
	}
	var logs []types.Log
	err := retry.Do(ctx, c.cfg.RPCAttempts, c.cfg.RPCBackoff, func() error {
		var err error
		logs, err = c.reader.FilterLogs(ctx, query)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to filter logs: %w", err)
	}
	return logs, nil
}

// abnormalGas reports whether any sent transaction used more than
// GasMultiplier times the median gas. At least three receipts are needed.
func (c *Collector) abnormalGas(ctx context.Context, hashes []common.Hash) (bool, error) {
	if len(hashes) > c.cfg.MaxReceipts {
		hashes = hashes[len(hashes)-c.cfg.MaxReceipts:]
	}
	gas := make([]uint64, 0, len(hashes))
	for _, h := range hashes {
		var receipt *types.Receipt
		err := retry.Do(ctx, c.cfg.RPCAttempts, c.cfg.RPCBackoff, func() error {
			var err error
			receipt, err = c.reader.TransactionReceipt(ctx, h)
			if errors.Is(err, ethereum.NotFound) {
				return retry.Permanent(err)
			}
			return err
		})
		if errors.Is(err, ethereum.NotFound) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("failed to get receipt %s: %w", h.Hex(), err)
		}
		gas = append(gas, receipt.GasUsed)
	}
	if len(gas) < 3 {
		return false, nil
	}

	sorted := append([]uint64(nil), gas...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	median := float64(sorted[len(sorted)/2])
	if len(sorted)%2 == 0 {
		median = (float64(sorted[len(sorted)/2-1]) + float64(sorted[len(sorted)/2])) / 2
	}
	limit := median * c.cfg.GasMultiplier
	for _, g := range gas {
		if float64(g) > limit {
			return true, nil
		}
	}
	return false, nil
}

// decode parses a Transfer log. Topics[1] is from, Topics[2] is to and
// Data holds the amount.
func decode(l types.Log, sent bool) (transfer, bool) {
	if len(l.Topics) < 3 || l.Topics[0] != transferEventSig || l.Removed {
		return transfer{}, false
	}
	return transfer{
		txHash:   l.TxHash,
		index:    l.Index,
		contract: l.Address,
		sent:     sent,
		amount:   new(big.Int).SetBytes(l.Data),
	}, true
}
