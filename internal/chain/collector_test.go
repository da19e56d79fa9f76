package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/vigil/internal/fraud"
)

var (
	wallet   = common.HexToAddress("0x52908400098527886E0F7030069857D2E4169EE7")
	peer     = common.HexToAddress("0x8617E340B3D01FA5F11F306F4090FD50E238070D")
	tokenA   = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	tokenBad = common.HexToAddress("0x000000000000000000000000000000000000dEaD")
)

type fakeReader struct {
	mu        sync.Mutex
	head      uint64
	logs      []types.Log
	receipts  map[common.Hash]*types.Receipt
	blockErrs int
	alwaysErr error
	calls     atomic.Int32
}

func (f *fakeReader) BlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.Add(1)
	if f.alwaysErr != nil {
		return 0, f.alwaysErr
	}
	if f.blockErrs > 0 {
		f.blockErrs--
		return 0, errors.New("rpc timeout")
	}
	return f.head, nil
}

func (f *fakeReader) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []types.Log
	for _, l := range f.logs {
		if l.BlockNumber < q.FromBlock.Uint64() || l.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		if len(q.Addresses) > 0 && !containsAddr(q.Addresses, l.Address) {
			continue
		}
		if matchTopics(q.Topics, l.Topics) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeReader) TransactionReceipt(_ context.Context, h common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[h]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func containsAddr(list []common.Address, a common.Address) bool {
	for _, x := range list {
		if x == a {
			return true
		}
	}
	return false
}

func matchTopics(want [][]common.Hash, got []common.Hash) bool {
	for i, alts := range want {
		if len(alts) == 0 {
			continue
		}
		if i >= len(got) {
			return false
		}
		ok := false
		for _, h := range alts {
			if got[i] == h {
				ok = true
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func transferLog(token, from, to common.Address, amount int64, tx byte, index uint, block uint64) types.Log {
	return types.Log{
		Address:     token,
		Topics:      []common.Hash{transferEventSig, common.BytesToHash(from.Bytes()), common.BytesToHash(to.Bytes())},
		Data:        common.LeftPadBytes(big.NewInt(amount).Bytes(), 32),
		BlockNumber: block,
		TxHash:      common.BytesToHash([]byte{tx}),
		Index:       index,
	}
}

func receipt(gas uint64) *types.Receipt {
	return &types.Receipt{GasUsed: gas, Status: types.ReceiptStatusSuccessful}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ChainID = 8453
	cfg.LookbackBlocks = 100
	cfg.RPCBackoff = time.Millisecond
	cfg.SuspiciousContracts = []string{tokenBad.Hex()}
	return cfg
}

func TestCollect_Summarizes(t *testing.T) {
	r := &fakeReader{
		head: 1000,
		logs: []types.Log{
			transferLog(tokenA, wallet, peer, 1_000_000, 1, 0, 950),
			transferLog(tokenA, wallet, peer, 2_000_000, 2, 0, 960),
			transferLog(tokenA, wallet, peer, 3_000_000, 3, 0, 970),
			transferLog(tokenA, peer, wallet, 50_000_000_000, 4, 0, 980),
			transferLog(tokenBad, peer, wallet, 5, 5, 1, 990),
		},
		receipts: map[common.Hash]*types.Receipt{
			common.BytesToHash([]byte{1}): receipt(50_000),
			common.BytesToHash([]byte{2}): receipt(52_000),
			common.BytesToHash([]byte{3}): receipt(300_000),
		},
	}
	c := NewCollector(r, testConfig(), nil)

	activity, err := c.Collect(context.Background(), wallet.Hex())
	require.NoError(t, err)

	assert.Equal(t, wallet.Hex(), activity.WalletAddress)
	assert.Equal(t, int64(8453), activity.ChainID)
	assert.Equal(t, 5, activity.TransactionCount)
	assert.Equal(t, 1, activity.LargeTransactionCount)
	assert.True(t, activity.AbnormalGasUsage)
	assert.Equal(t, "blocks 900-1000", activity.TimeWindow)
	require.Len(t, activity.ContractInteractions, 2)
	assert.Equal(t, fraud.ContractInteraction{Address: tokenA.Hex()}, activity.ContractInteractions[0])
	assert.Equal(t, fraud.ContractInteraction{Address: tokenBad.Hex(), Suspicious: true}, activity.ContractInteractions[1])
}

func TestCollect_NormalGasAndLookback(t *testing.T) {
	r := &fakeReader{
		head: 1000,
		logs: []types.Log{
			transferLog(tokenA, wallet, peer, 1, 1, 0, 100), // outside the window
			transferLog(tokenA, wallet, peer, 1, 2, 0, 950),
			transferLog(tokenA, wallet, peer, 1, 3, 0, 960),
			transferLog(tokenA, wallet, peer, 1, 4, 0, 970),
		},
		receipts: map[common.Hash]*types.Receipt{
			common.BytesToHash([]byte{1}): receipt(10_000_000),
			common.BytesToHash([]byte{2}): receipt(50_000),
			common.BytesToHash([]byte{3}): receipt(60_000),
			common.BytesToHash([]byte{4}): receipt(55_000),
		},
	}
	c := NewCollector(r, testConfig(), nil)

	activity, err := c.Collect(context.Background(), wallet.Hex())
	require.NoError(t, err)
	assert.Equal(t, 3, activity.TransactionCount)
	assert.False(t, activity.AbnormalGasUsage)
	assert.Zero(t, activity.LargeTransactionCount)
}

func TestCollect_TooFewReceiptsIsNotAbnormal(t *testing.T) {
	r := &fakeReader{
		head: 50,
		logs: []types.Log{
			transferLog(tokenA, wallet, peer, 1, 1, 0, 10),
			transferLog(tokenA, wallet, peer, 1, 2, 0, 20),
			transferLog(tokenA, wallet, peer, 1, 3, 0, 30),
		},
		receipts: map[common.Hash]*types.Receipt{
			common.BytesToHash([]byte{1}): receipt(21_000),
			common.BytesToHash([]byte{2}): receipt(9_000_000),
		},
	}
	c := NewCollector(r, testConfig(), nil)

	activity, err := c.Collect(context.Background(), wallet.Hex())
	require.NoError(t, err)
	assert.Equal(t, 3, activity.TransactionCount)
	assert.Equal(t, "blocks 0-50", activity.TimeWindow)
	assert.False(t, activity.AbnormalGasUsage)
}

func TestCollect_SelfTransferCountedOnce(t *testing.T) {
	r := &fakeReader{
		head: 10,
		logs: []types.Log{transferLog(tokenA, wallet, wallet, 99_000_000_000, 7, 0, 5)},
	}
	c := NewCollector(r, testConfig(), nil)

	activity, err := c.Collect(context.Background(), wallet.Hex())
	require.NoError(t, err)
	assert.Equal(t, 1, activity.TransactionCount)
	assert.Equal(t, 1, activity.LargeTransactionCount)
}

func TestCollect_RetriesTransientRPCErrors(t *testing.T) {
	r := &fakeReader{head: 10, blockErrs: 2}
	c := NewCollector(r, testConfig(), nil)

	activity, err := c.Collect(context.Background(), wallet.Hex())
	require.NoError(t, err)
	assert.Zero(t, activity.TransactionCount)
	assert.Equal(t, int32(3), r.calls.Load())
}

func TestCollect_Errors(t *testing.T) {
	c := NewCollector(&fakeReader{alwaysErr: errors.New("down")}, testConfig(), nil)

	_, err := c.Collect(context.Background(), "not-a-wallet")
	assert.ErrorIs(t, err, ErrInvalidWallet)

	_, err = c.Collect(context.Background(), "52908400098527886E0F7030069857D2E4169EE7")
	assert.ErrorIs(t, err, ErrInvalidWallet)

	_, err = c.Collect(context.Background(), wallet.Hex())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "block number")
}

func TestCollect_FeedsFraudPredictor(t *testing.T) {
	logs := []types.Log{transferLog(tokenBad, peer, wallet, 1, 1, 0, 5)}
	for i := 0; i < 12; i++ {
		logs = append(logs, transferLog(tokenA, peer, wallet, 20_000_000_000, byte(10+i), 0, 6))
	}
	c := NewCollector(&fakeReader{head: 10, logs: logs}, testConfig(), nil)

	activity, err := c.Collect(context.Background(), wallet.Hex())
	require.NoError(t, err)
	assert.Equal(t, 12, activity.LargeTransactionCount)

	pred, err := fraud.NewPredictor(nil, fraud.DefaultConfig()).DetectWeb3(context.Background(), "ten_1", activity)
	require.NoError(t, err)
	require.NotNil(t, pred)
	assert.Equal(t, fraud.TypeBehavioralAnomaly, pred.Type)
	assert.Equal(t, "suspicious_contract", pred.Context["dominantRule"])
}
