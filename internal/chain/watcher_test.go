package chain

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/vigil/internal/fraud"
)

type recordingSink struct {
	mu      sync.Mutex
	wallets []string
	err     error
}

func (s *recordingSink) sink(_ context.Context, a *fraud.Web3Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wallets = append(s.wallets, a.WalletAddress)
	return s.err
}

func (s *recordingSink) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.wallets...)
}

func TestWatcher_ScanAllContinuesPastFailures(t *testing.T) {
	r := &fakeReader{head: 1000, logs: []types.Log{transferLog(tokenA, wallet, peer, 1, 1, 0, 990)}}
	sink := &recordingSink{err: errors.New("downstream unavailable")}
	w := NewWatcher(NewCollector(r, testConfig(), nil), []string{"not-a-wallet", wallet.Hex(), peer.Hex()}, time.Hour, sink.sink, nil)

	w.ScanAll(context.Background())

	// The invalid address is skipped and a failing sink does not stop the loop.
	assert.Equal(t, []string{wallet.Hex(), peer.Hex()}, sink.seen())
}

func TestWatcher_PollsUntilStopped(t *testing.T) {
	r := &fakeReader{head: 1000}
	sink := &recordingSink{}
	w := NewWatcher(NewCollector(r, testConfig(), nil), []string{wallet.Hex()}, 5*time.Millisecond, sink.sink, nil)

	w.Start(context.Background())
	require.Eventually(t, func() bool { return len(sink.seen()) >= 2 }, 2*time.Second, 5*time.Millisecond)

	w.Stop()
	w.Stop() // idempotent
	n := len(sink.seen())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, len(sink.seen()), "no scans after Stop")
}

func TestWatcher_StopsOnContextCancel(t *testing.T) {
	r := &fakeReader{head: 1000}
	w := NewWatcher(NewCollector(r, testConfig(), nil), []string{wallet.Hex()}, time.Millisecond, (&recordingSink{}).sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	cancel()

	select {
	case <-w.done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not exit after cancel")
	}
	w.Stop()
}

func TestWatcher_DefaultInterval(t *testing.T) {
	w := NewWatcher(NewCollector(&fakeReader{}, testConfig(), nil), nil, 0, (&recordingSink{}).sink, nil)
	assert.Equal(t, time.Minute, w.interval)
	assert.NotNil(t, w.logger)
}

func TestWatcher_StopWithoutStart(t *testing.T) {
	w := NewWatcher(NewCollector(&fakeReader{head: 1000}, testConfig(), nil), []string{wallet.Hex()}, time.Millisecond, (&recordingSink{}).sink, nil)

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on a watcher that was never started")
	}

	// A stopped watcher exits right away when started later.
	w.Start(context.Background())
	select {
	case <-w.done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher kept polling after Stop")
	}
}

func TestWatcher_StartTwice(t *testing.T) {
	sink := &recordingSink{}
	w := NewWatcher(NewCollector(&fakeReader{head: 1000}, testConfig(), nil), []string{wallet.Hex()}, 5*time.Millisecond, sink.sink, nil)

	w.Start(context.Background())
	w.Start(context.Background())
	require.Eventually(t, func() bool { return len(sink.seen()) >= 1 }, 2*time.Second, 5*time.Millisecond)
	w.Stop()
}
