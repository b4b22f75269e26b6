package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/council-ai/backend/internal/ledger"
	"github.com/council-ai/backend/internal/metrics"
	"github.com/council-ai/backend/pkg/logger"
	"github.com/council-ai/backend/pkg/retry"
)

type Sealer interface {
	Seal(ctx context.Context) (*ledger.Entry, error)
	PendingCount() int
}

type MinerConfig struct {
	// Interval is the sweep period for batches whose trigger was missed.
	Interval time.Duration
	// Deadline bounds a single seal attempt.
	Deadline    time.Duration
	MaxAttempts int
}

// Miner seals pending verdicts off the request path. Triggers coalesce: any
// number of Trigger calls while a seal runs produce at most one more seal.
type Miner struct {
	sealer  Sealer
	cfg     MinerConfig
	retry   retry.Config
	trigger chan struct{}
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	stopped sync.Once
	logger  *zap.Logger
}

func NewMiner(sealer Sealer, cfg MinerConfig) *Miner {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	log := logger.Named("miner")

	retryCfg := retry.DefaultConfig()
	retryCfg.Name = "ledger-seal"
	retryCfg.MaxAttempts = cfg.MaxAttempts
	retryCfg.InitialDelay = 50 * time.Millisecond
	retryCfg.RetryableErrors = []error{ledger.ErrMiningAborted}
	retryCfg.OnRetry = metrics.RetryObserver(retryCfg.Name)
	retryCfg.Logger = log

	return &Miner{
		sealer:  sealer,
		cfg:     cfg,
		retry:   retryCfg,
		trigger: make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		logger:  log,
	}
}

func (m *Miner) Start(ctx context.Context) {
	m.once.Do(func() {
		go m.run(ctx)
	})
}

func (m *Miner) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.logger.Info("Miner started",
		zap.Duration("interval", m.cfg.Interval),
		zap.Duration("deadline", m.cfg.Deadline))

	for {
		select {
		case <-ctx.Done():
			m.drain()
			return
		case <-m.stop:
			m.drain()
			return
		case <-m.trigger:
			m.sealPending(ctx)
		case <-ticker.C:
			if m.sealer.PendingCount() > 0 {
				m.sealPending(ctx)
			}
		}
	}
}

// Trigger asks for a seal without blocking the caller.
func (m *Miner) Trigger() {
	select {
	case m.trigger <- struct{}{}:
	default:
	}
}

// SealNow seals synchronously on the caller's context, bypassing the queue.
func (m *Miner) SealNow(ctx context.Context) (*ledger.Entry, error) {
	return m.seal(ctx)
}

func (m *Miner) Stop() {
	m.stopped.Do(func() {
		close(m.stop)
	})
	m.once.Do(func() { close(m.done) })
	<-m.done
}

func (m *Miner) sealPending(ctx context.Context) {
	entry, err := m.seal(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			m.logger.Error("Background seal failed", zap.Error(err), zap.Int("pending", m.sealer.PendingCount()))
		}
		return
	}
	if entry != nil {
		m.logger.Debug("Background seal completed",
			zap.Int64("index", entry.Index),
			zap.Int("records", len(entry.Payload.Verifications)))
	}
}

// drain gives pending records one last chance on shutdown.
func (m *Miner) drain() {
	if m.sealer.PendingCount() == 0 {
		return
	}
	if _, err := m.seal(context.Background()); err != nil {
		m.logger.Warn("Pending records left unsealed at shutdown",
			zap.Int("pending", m.sealer.PendingCount()),
			zap.Error(err))
	}
}

func (m *Miner) seal(ctx context.Context) (*ledger.Entry, error) {
	return retry.DoWithResult(ctx, m.retry, func() (*ledger.Entry, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, m.cfg.Deadline)
		defer cancel()
		return m.sealer.Seal(attemptCtx)
	})
}
