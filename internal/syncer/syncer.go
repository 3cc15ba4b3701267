// Package syncer applies reconciliation plans against the remote store. All
// mutations for a run flow through a single goroutine, so at most one
// mutation is ever in flight for a given path.
package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kagami/internal/builder"
	"github.com/hyperjump/kagami/internal/detector"
	"github.com/hyperjump/kagami/internal/hashcache"
	"github.com/hyperjump/kagami/internal/models"
	"github.com/hyperjump/kagami/internal/store"
)

// Stats counts the outcome of a full pass or event batch.
type Stats struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Total returns the number of operations that reached the store.
func (s Stats) Total() int {
	return s.Created + s.Updated + s.Deleted
}

func (s *Stats) add(other Stats) {
	s.Created += other.Created
	s.Updated += other.Updated
	s.Deleted += other.Deleted
	s.Skipped += other.Skipped
	s.Failed += other.Failed
}

// Syncer drives the reconciliation lifecycle: full passes over the watched
// tree and incremental passes for filesystem events.
type Syncer struct {
	detector *detector.Detector
	builder  *builder.Builder
	store    store.Store
	cache    *hashcache.Cache
	logger   *zap.Logger
	root     string
	poll     time.Duration

	mu       sync.RWMutex
	lastPass Stats
	lastRun  time.Time
}

// Option configures a Syncer.
type Option func(*Syncer)

func WithLogger(l *zap.Logger) Option {
	return func(s *Syncer) { s.logger = l }
}

// WithPollInterval sets the periodic full-pass interval for Run. Zero
// disables polling.
func WithPollInterval(d time.Duration) Option {
	return func(s *Syncer) { s.poll = d }
}

func New(d *detector.Detector, b *builder.Builder, st store.Store, cache *hashcache.Cache, root string, opts ...Option) *Syncer {
	s := &Syncer{
		detector: d,
		builder:  b,
		store:    st,
		cache:    cache,
		root:     root,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LastPass returns the stats and completion time of the most recent full
// pass.
func (s *Syncer) LastPass() (Stats, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastPass, s.lastRun
}

// RunFullPass plans and applies a complete reconciliation of the watched
// tree. Planning failure aborts the pass; per-item failures are counted and
// skipped so one bad file never blocks the rest.
func (s *Syncer) RunFullPass(ctx context.Context) (Stats, error) {
	runID := uuid.NewString()
	log := s.logger.With(zap.String("run_id", runID))
	started := time.Now()

	ops, err := s.detector.PlanFullPass(ctx, s.root)
	if err != nil {
		return Stats{}, err
	}
	log.Info("full pass planned", zap.Int("operations", len(ops)))

	var stats Stats
	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.add(s.apply(ctx, op, log))
	}
	if err := s.cache.Persist(); err != nil {
		log.Warn("hash cache persist failed", zap.Error(err))
	}

	s.mu.Lock()
	s.lastPass = stats
	s.lastRun = time.Now()
	s.mu.Unlock()

	log.Info("full pass complete",
		zap.Int("created", stats.Created),
		zap.Int("updated", stats.Updated),
		zap.Int("deleted", stats.Deleted),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
		zap.Duration("elapsed", time.Since(started)))
	return stats, nil
}

// HandleEvent reconciles the path(s) named by a filesystem event. The event
// is a hint only: each path is re-checked against disk and store, so stale
// or duplicate events settle as no-ops.
func (s *Syncer) HandleEvent(ctx context.Context, ev models.Event) Stats {
	var stats Stats
	if ev.Type == models.EventMoved && ev.OldPath != "" {
		stats.add(s.reconcile(ctx, ev.OldPath))
	}
	stats.add(s.reconcile(ctx, ev.Path))
	if stats.Total() > 0 {
		if err := s.cache.Persist(); err != nil {
			s.logger.Warn("hash cache persist failed", zap.Error(err))
		}
	}
	return stats
}

func (s *Syncer) reconcile(ctx context.Context, path string) Stats {
	op, err := s.detector.ResolvePath(ctx, path)
	if err != nil {
		s.logger.Warn("resolve failed, will retry next cycle",
			zap.String("path", path), zap.Error(err))
		return Stats{Failed: 1}
	}
	return s.apply(ctx, op, s.logger)
}

// apply executes one operation. The hash cache is updated only after the
// store confirms the mutation; on failure the cache entry is left alone so
// the mismatch is re-detected on the next cycle.
func (s *Syncer) apply(ctx context.Context, op models.Operation, log *zap.Logger) Stats {
	switch op.Kind {
	case models.OpCreate, models.OpUpdate:
		doc, err := s.builder.Build(ctx, op.Path)
		if err != nil {
			log.Warn("document build failed",
				zap.String("path", op.Path), zap.Error(err))
			return Stats{Failed: 1}
		}
		if doc == nil {
			// File vanished or became unreadable since planning.
			return Stats{Skipped: 1}
		}
		doc.ID = op.ExistingID
		if err := s.store.Upsert(ctx, doc); err != nil {
			log.Warn("store upsert failed",
				zap.String("path", op.Path), zap.Error(err))
			return Stats{Failed: 1}
		}
		s.cache.Set(op.Path, doc.Metadata.FileHash)
		if op.Kind == models.OpCreate {
			log.Info("document created", zap.String("path", op.Path), zap.Int64("id", doc.ID))
			return Stats{Created: 1}
		}
		log.Info("document updated", zap.String("path", op.Path), zap.Int64("id", doc.ID))
		return Stats{Updated: 1}

	case models.OpDelete:
		if err := s.store.DeleteByPath(ctx, op.Path); err != nil {
			log.Warn("store delete failed",
				zap.String("path", op.Path), zap.Error(err))
			return Stats{Failed: 1}
		}
		s.cache.Delete(op.Path)
		log.Info("document deleted", zap.String("path", op.Path))
		return Stats{Deleted: 1}

	default:
		return Stats{}
	}
}

// Run performs an initial full pass, then serves events and periodic full
// passes until ctx is cancelled or the events channel closes. The hash
// cache is persisted before returning.
func (s *Syncer) Run(ctx context.Context, events <-chan models.Event) error {
	if _, err := s.RunFullPass(ctx); err != nil {
		return err
	}

	var ticker *time.Ticker
	var tick <-chan time.Time
	if s.poll > 0 {
		ticker = time.NewTicker(s.poll)
		tick = ticker.C
		defer ticker.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			if err := s.cache.Persist(); err != nil {
				s.logger.Warn("hash cache persist failed", zap.Error(err))
			}
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				if err := s.cache.Persist(); err != nil {
					s.logger.Warn("hash cache persist failed", zap.Error(err))
				}
				return nil
			}
			s.logger.Debug("event received",
				zap.String("type", ev.Type.String()),
				zap.String("path", ev.Path))
			s.HandleEvent(ctx, ev)
		case <-tick:
			if _, err := s.RunFullPass(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.logger.Error("periodic full pass failed", zap.Error(err))
			}
		}
	}
}
