package chain

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbd888/vigil/internal/fraud"
)

// Sink receives every collected activity summary.
type Sink func(ctx context.Context, activity *fraud.Web3Activity) error

// Watcher periodically scans a fixed set of wallets and hands each summary
// to a sink.
type Watcher struct {
	collector *Collector
	wallets   []string
	interval  time.Duration
	sink      Sink
	logger    *slog.Logger

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewWatcher creates a watcher. An interval <= 0 defaults to one minute.
func NewWatcher(collector *Collector, wallets []string, interval time.Duration, sink Sink, logger *slog.Logger) *Watcher {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = collector.logger
	}
	return &Watcher{
		collector: collector,
		wallets:   wallets,
		interval:  interval,
		sink:      sink,
		logger:    logger,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start begins polling in the background. Later calls are no-ops.
func (w *Watcher) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	w.logger.Info("chain watcher started", "wallets", len(w.wallets), "interval", w.interval)
	go w.pollLoop(ctx)
}

// Stop stops the watcher and waits for the current scan to finish. It
// returns at once if Start was never called.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	if w.started.Load() {
		<-w.done
	}
}

func (w *Watcher) pollLoop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.ScanAll(ctx)
		}
	}
}

// ScanAll collects every watched wallet once. Failures are logged and do
// not stop the remaining wallets.
func (w *Watcher) ScanAll(ctx context.Context) {
	for _, wallet := range w.wallets {
		if ctx.Err() != nil {
			return
		}
		activity, err := w.collector.Collect(ctx, wallet)
		if err != nil {
			w.logger.Error("wallet scan failed", "wallet", wallet, "error", err)
			continue
		}
		if err := w.sink(ctx, activity); err != nil {
			w.logger.Error("wallet activity sink failed", "wallet", wallet, "error", err)
		}
	}
}
