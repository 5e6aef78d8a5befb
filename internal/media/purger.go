package media

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/gurukul/internal/metrics"
	"go.uber.org/zap"
)

var errMissingService = errors.New("media: service required")

const (
	defaultPurgeQueueSize = 64
	defaultPurgeTimeout   = 2 * time.Minute
)

// PurgerConfig describes the dependencies of a Purger.
type PurgerConfig struct {
	Service   *Service
	QueueSize int
	Timeout   time.Duration
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

// Purger removes every stored object of a deleted identity on a background worker.
// Cleanup is best effort: a full queue or a store failure is logged and dropped.
type Purger struct {
	service *Service
	queue   chan string
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics

	closeOnce sync.Once
	done      chan struct{}
}

// NewPurger constructs a Purger. Call Run to start processing.
func NewPurger(cfg PurgerConfig) (*Purger, error) {
	if cfg.Service == nil {
		return nil, errMissingService
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultPurgeQueueSize
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultPurgeTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Purger{
		service: cfg.Service,
		queue:   make(chan string, queueSize),
		timeout: timeout,
		logger:  logger,
		metrics: cfg.Metrics,
		done:    make(chan struct{}),
	}, nil
}

// IdentityDeleted enqueues the identity's media for removal without blocking.
func (p *Purger) IdentityDeleted(externalID string) {
	if OwnerSegment(externalID) == "" {
		return
	}
	select {
	case <-p.done:
		p.logger.Warn("media purge skipped after shutdown", zap.String("external_id", externalID))
		return
	default:
	}
	select {
	case p.queue <- externalID:
	default:
		p.logger.Warn("media purge queue full", zap.String("external_id", externalID))
		p.metrics.ObserveMedia("purge_dropped", nil)
	}
}

// Run processes queued purges until ctx is cancelled or Close is called.
func (p *Purger) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case externalID := <-p.queue:
			p.purge(ctx, externalID)
		}
	}
}

// Close stops the worker; later deletions are logged and skipped.
func (p *Purger) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
}

func (p *Purger) purge(ctx context.Context, externalID string) {
	purgeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	prefix := p.service.OwnerPrefix(externalID)
	deleted, err := p.service.store.DeleteWithPrefix(purgeCtx, prefix)
	p.metrics.ObserveMedia("purge", err)
	if err != nil {
		p.logger.Error("media purge failed",
			zap.String("external_id", externalID),
			zap.String("prefix", prefix),
			zap.Int("deleted", deleted),
			zap.Error(err),
		)
		return
	}
	p.logger.Info("media purged",
		zap.String("external_id", externalID),
		zap.String("prefix", prefix),
		zap.Int("deleted", deleted),
	)
}
