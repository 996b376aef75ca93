// Package ingest implements the Ingest Dispatcher of spec §4.G: a
// single-goroutine micro-batcher ahead of a bounded worker pool that
// drives Classifier → Dedup → Persistence → Fanout for every inbound
// payload. The batcher shape (one goroutine owning a timer + a
// size-bound map) and the worker pool (errgroup.Group bounded by a
// semaphore.Weighted) are grounded in the pack's renproject-lightnode
// watcher/fetcher pairing and go-ethereum's eth/fetcher queue/worker
// split.
package ingest

import (
	"context"
	"math/big"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/walletwatch/ingest/internal/classifier"
	"github.com/walletwatch/ingest/internal/dedup"
	"github.com/walletwatch/ingest/internal/fanout"
	"github.com/walletwatch/ingest/internal/model"
	"github.com/walletwatch/ingest/internal/priceoracle"
	"github.com/walletwatch/ingest/internal/solanatx"
	"github.com/walletwatch/ingest/internal/store"
	"github.com/walletwatch/ingest/internal/subscription"
	"github.com/walletwatch/ingest/internal/walletset"
)

// Config tunes batching and worker-pool sizing; defaults match spec
// §6's BATCH_SIZE/BATCH_TIMEOUT_MS/WORKER_POOL_SIZE.
type Config struct {
	BatchSize      int
	BatchTimeout   time.Duration
	WorkerPoolSize int
}

// DefaultConfig returns the spec's defaults: 50 messages or 200ms,
// whichever comes first, 8 concurrent workers per flush.
func DefaultConfig() Config {
	return Config{BatchSize: 50, BatchTimeout: 200 * time.Millisecond, WorkerPoolSize: 8}
}

// GroupResolver exposes the Subscription Manager's active group
// filter (spec §4.F switchGroup / §4.G step 4) without the ingest
// package importing subscription's full surface.
type GroupResolver interface {
	ActiveGroup() (string, bool)
}

// GroupNamer looks up a group's display name for the fanout payload.
// Optional: a nil GroupNamer simply leaves FanoutMessage.GroupName
// blank.
type GroupNamer interface {
	GroupName(ctx context.Context, groupID string) (string, error)
}

// Deps wires the Dispatcher to its collaborators (spec §2's leaf
// components A, B, D, E, H plus the watched-wallet cache).
type Deps struct {
	Recent     *dedup.HotSet // hourly-swept fast pre-filter
	LongTerm   *dedup.HotSet // daily-swept extended window
	Resolver   classifier.Resolver
	Store      store.Store
	Bus        fanout.Bus
	Oracle     priceoracle.Oracle
	Wallets    *walletset.Cache
	Groups     GroupResolver
	GroupNames GroupNamer
	Thresholds classifier.Thresholds
	Logger     *zap.Logger
}

// Dispatcher owns the batch map and drives the flush pipeline. Only
// Run's goroutine touches the batch map, so no lock is needed around
// it (spec §4.G: "batching is a single goroutine").
type Dispatcher struct {
	cfg  Config
	deps Deps
}

// NewDispatcher constructs a Dispatcher. Zero-value Config fields are
// replaced with DefaultConfig's values.
func NewDispatcher(cfg Config, deps Deps) *Dispatcher {
	d := DefaultConfig()
	if cfg.BatchSize > 0 {
		d.BatchSize = cfg.BatchSize
	}
	if cfg.BatchTimeout > 0 {
		d.BatchTimeout = cfg.BatchTimeout
	}
	if cfg.WorkerPoolSize > 0 {
		d.WorkerPoolSize = cfg.WorkerPoolSize
	}
	return &Dispatcher{cfg: d, deps: deps}
}

// Run consumes updates until the channel closes or ctx is cancelled,
// batching by signature (spec §4.G steps 1-3) and flushing through the
// bounded worker pool. It returns once the final flush completes.
func (d *Dispatcher) Run(ctx context.Context, updates <-chan *subscription.RawUpdate) {
	batch := make(map[string]*solanatx.Payload)
	var timerC <-chan time.Time
	var timer *time.Timer

	resetTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.NewTimer(d.cfg.BatchTimeout)
		timerC = timer.C
	}
	flush := func() {
		if len(batch) == 0 {
			return
		}
		toFlush := batch
		batch = make(map[string]*solanatx.Payload)
		if timer != nil {
			timer.Stop()
			timerC = nil
		}
		d.flush(ctx, toFlush)
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case u, ok := <-updates:
			if !ok {
				flush()
				return
			}
			p, err := subscription.Decode(u)
			if err != nil {
				if d.deps.Logger != nil {
					d.deps.Logger.Debug("dropping undecodable update", zap.Error(err))
				}
				continue
			}
			if len(batch) == 0 {
				resetTimer()
			}
			batch[p.Signature] = p // collapses bursts of the same signature
			if len(batch) >= d.cfg.BatchSize {
				flush()
			}
		case <-timerC:
			flush()
		}
	}
}

// flush processes every payload in the batch concurrently, bounded by
// a worker pool (spec §4.G "per message in parallel"). The SOL price
// is resolved once per batch, not once per message, per
// internal/priceoracle's coupling note.
func (d *Dispatcher) flush(ctx context.Context, batch map[string]*solanatx.Payload) {
	var solPrice *big.Rat
	if d.deps.Oracle != nil {
		if price, err := d.deps.Oracle.GetSolPriceUSD(ctx); err == nil {
			solPrice = price
		} else if d.deps.Logger != nil {
			d.deps.Logger.Warn("price oracle fetch failed, classifying without USDC-quoted path", zap.Error(err))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(d.cfg.WorkerPoolSize))
	for sig, payload := range batch {
		sig, payload := sig, payload
		if err := sem.Acquire(ctx, 1); err != nil {
			break // ctx cancelled; remaining messages are dropped on shutdown
		}
		g.Go(func() error {
			defer sem.Release(1)
			d.processOne(gctx, sig, payload, solPrice)
			return nil
		})
	}
	_ = g.Wait()
}

// processOne implements spec §4.G's flush pipeline for one message. A
// single transaction can touch more than one watched wallet (spec
// scenario 6): each is classified and filtered independently, so a
// group filter that excludes one wallet never suppresses another
// wallet's otherwise-qualifying event.
func (d *Dispatcher) processOne(ctx context.Context, signature string, payload *solanatx.Payload, solPrice *big.Rat) {
	if d.deps.Recent.SeenRecently(signature) || d.deps.LongTerm.SeenRecently(signature) {
		return
	}
	defer func() {
		d.deps.Recent.MarkRecent(signature)
		d.deps.LongTerm.MarkRecent(signature)
	}()

	if payload.Err || !payload.HasRequiredArrays() {
		return
	}

	wallets, err := d.resolveWatchedWallets(ctx, payload)
	if err != nil {
		if d.deps.Logger != nil {
			d.deps.Logger.Warn("wallet lookup failed", zap.String("signature", signature), zap.Error(err))
		}
		return
	}
	if len(wallets) == 0 {
		return
	}

	filterGroup, filtering := "", false
	if d.deps.Groups != nil {
		filterGroup, filtering = d.deps.Groups.ActiveGroup()
	}

	for _, wallet := range wallets {
		if filtering && (wallet.GroupID == nil || *wallet.GroupID != filterGroup) {
			continue
		}
		d.classifyPersistPublish(ctx, payload, wallet, solPrice)
	}
}

func (d *Dispatcher) classifyPersistPublish(ctx context.Context, payload *solanatx.Payload, wallet *model.Wallet, solPrice *big.Rat) {
	ev, err := classifier.Classify(ctx, payload, wallet.Address, wallet.ID, solPrice, d.deps.Thresholds, d.deps.Resolver)
	if err != nil {
		if d.deps.Logger != nil {
			d.deps.Logger.Error("classify failed", zap.String("wallet", wallet.Address), zap.Error(err))
		}
		return
	}
	if ev == nil {
		return
	}

	if err := d.deps.Store.Persist(ctx, ev); err != nil {
		if err == store.ErrDuplicate {
			if d.deps.Logger != nil {
				d.deps.Logger.Debug("duplicate event, skipping fanout", zap.String("signature", ev.Signature))
			}
			return
		}
		if d.deps.Logger != nil {
			d.deps.Logger.Error("persist failed", zap.String("signature", ev.Signature), zap.Error(err))
		}
		return
	}

	groupName := ""
	if wallet.GroupID != nil && d.deps.GroupNames != nil {
		if name, err := d.deps.GroupNames.GroupName(ctx, *wallet.GroupID); err == nil {
			groupName = name
		}
	}
	if err := d.deps.Bus.Publish(ctx, ev, wallet, groupName); err != nil && d.deps.Logger != nil {
		d.deps.Logger.Error("fanout publish failed", zap.String("signature", ev.Signature), zap.Error(err))
	}
}

// resolveWatchedWallets returns every watched wallet referenced among
// payload's account keys, deduplicated, preserving account-key order.
func (d *Dispatcher) resolveWatchedWallets(ctx context.Context, payload *solanatx.Payload) ([]*model.Wallet, error) {
	seen := make(map[string]struct{}, len(payload.AccountKeys))
	var out []*model.Wallet
	for _, addr := range payload.AccountKeys {
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		w, err := d.deps.Wallets.Get(ctx, addr)
		if err != nil {
			return nil, err
		}
		if w != nil && w.IsActive {
			out = append(out, w)
		}
	}
	return out, nil
}

// RunCleanupTimers starts the hourly/daily hot-set sweeps described in
// spec §4.G and blocks until ctx is cancelled. Run it in its own
// goroutine alongside Run.
func (d *Dispatcher) RunCleanupTimers(ctx context.Context) {
	hourly := time.NewTicker(time.Hour)
	daily := time.NewTicker(24 * time.Hour)
	defer hourly.Stop()
	defer daily.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-hourly.C:
			if d.deps.Recent.Len() > 5_000 {
				d.deps.Recent.ForceCleanup()
			}
		case <-daily.C:
			if d.deps.LongTerm.Len() > 50_000 {
				d.deps.LongTerm.ForceCleanup()
			}
		}
	}
}

// ForceCleanup is the manual operator hook from spec §4.G, unconditionally
// halving both hot-sets.
func (d *Dispatcher) ForceCleanup() {
	d.deps.Recent.ForceCleanup()
	d.deps.LongTerm.ForceCleanup()
}
