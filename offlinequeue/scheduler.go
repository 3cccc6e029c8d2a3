package offlinequeue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kasirhub/pos_backend/utils"
)

// QueueStore is the persistence surface the scheduler drives. *Store is the
// SQLite implementation; tests plug in fakes.
type QueueStore interface {
	LeaseNext(ctx context.Context, now time.Time) (*Entry, error)
	MarkSynced(ctx context.Context, id int64) error
	MarkRetry(ctx context.Context, id int64, attempts int, lastError string, nextAttempt time.Time) error
	MarkPermanentlyFailed(ctx context.Context, id int64, attempts int, lastError string) error
	Counts(ctx context.Context) (Counts, error)
}

type Config struct {
	Interval       time.Duration
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	MaxAttempts    int
	RequestTimeout time.Duration
}

// ConfigFromEnv reads the scheduler knobs from the environment with
// conservative defaults for a shop-floor terminal.
func ConfigFromEnv() Config {
	cfg := Config{
		Interval:       utils.DurationFromEnvSeconds("SYNC_INTERVAL_SECONDS", 30*time.Second),
		BaseBackoff:    utils.DurationFromEnvSeconds("SYNC_BASE_BACKOFF_SECONDS", 5*time.Second),
		MaxBackoff:     utils.DurationFromEnvSeconds("SYNC_MAX_BACKOFF_SECONDS", 10*time.Minute),
		MaxAttempts:    utils.IntFromEnv("SYNC_MAX_ATTEMPTS", 10),
		RequestTimeout: utils.DurationFromEnvSeconds("SYNC_REQUEST_TIMEOUT_SECONDS", 30*time.Second),
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	return cfg
}

// Backoff is base * 2^(attempt-1), capped. Doubling stops as soon as the cap
// is reached, so a generous attempt budget can never overflow the delay.
func Backoff(attempt int, cfg Config) time.Duration {
	delay := cfg.BaseBackoff
	for i := 1; i < attempt && delay > 0; i++ {
		if delay >= cfg.MaxBackoff/2 {
			return cfg.MaxBackoff
		}
		delay *= 2
	}
	if delay > cfg.MaxBackoff {
		return cfg.MaxBackoff
	}
	return delay
}

// Scheduler drains the queue in the background. A pass runs on a fixed
// ticker, when Kick is called (a new sale was enqueued, or the cashier hit
// "sync now"), and when SetOnline flips offline -> online.
type Scheduler struct {
	store     QueueStore
	submitter Submitter
	cfg       Config
	logger    *logrus.Logger

	kick          chan struct{}
	onlineChanged chan struct{}

	mu     sync.Mutex
	online bool
	synced int64

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

func NewScheduler(store QueueStore, submitter Submitter, cfg Config, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		store:         store,
		submitter:     submitter,
		cfg:           cfg,
		logger:        logger,
		kick:          make(chan struct{}, 1),
		onlineChanged: make(chan struct{}, 1),
		online:        true,
		Now:           time.Now,
	}
}

// Kick requests an immediate pass. Non-blocking; a pending kick coalesces.
func (s *Scheduler) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// SetOnline reports a connectivity change. The latest reported value always
// wins; the channel only signals that something changed, so rapid flapping
// cannot leave the scheduler holding a stale state. A transition to online
// triggers a pass; going offline is just recorded.
func (s *Scheduler) SetOnline(online bool) {
	s.mu.Lock()
	s.online = online
	s.mu.Unlock()
	select {
	case s.onlineChanged <- struct{}{}:
	default:
	}
}

func (s *Scheduler) isOnline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Run loops until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	wasOnline := s.isOnline()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.isOnline() {
				s.runPass(ctx)
			}
		case <-s.kick:
			if s.isOnline() {
				s.runPass(ctx)
			}
		case <-s.onlineChanged:
			online := s.isOnline()
			if online && !wasOnline {
				s.runPass(ctx)
			}
			wasOnline = online
		}
	}
}

// StatusReport is the queue depth plus this session's sync progress: how much
// of the work seen since the agent started has made it to the server.
type StatusReport struct {
	Counts
	Synced   int64   `json:"synced"`
	Progress float64 `json:"progress"`
}

// Status combines the queue depths with the session synced tally. Progress is
// synced / (synced + still queued); a caught-up queue reports 1. Permanently
// failed entries sit outside the ratio, they need an operator, not a retry.
func (s *Scheduler) Status(ctx context.Context) (StatusReport, error) {
	counts, err := s.store.Counts(ctx)
	if err != nil {
		return StatusReport{}, err
	}
	s.mu.Lock()
	synced := s.synced
	s.mu.Unlock()

	report := StatusReport{Counts: counts, Synced: synced, Progress: 1}
	remaining := int64(counts.Pending + counts.Syncing + counts.Failed)
	if synced+remaining > 0 {
		report.Progress = float64(synced) / float64(synced+remaining)
	}
	return report, nil
}

// runPass drains due entries one at a time until the queue is empty or a
// transport failure suggests we are offline again.
func (s *Scheduler) runPass(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		ok, stop := s.Progress(ctx)
		if !ok || stop {
			return
		}
	}
}

// Progress leases and submits one entry. The first return reports whether an
// entry was processed at all; the second asks the caller to stop the pass
// (transport-level failure, the backend is not reachable).
func (s *Scheduler) Progress(ctx context.Context) (processed bool, stop bool) {
	entry, err := s.store.LeaseNext(ctx, s.Now())
	if err != nil {
		s.logError("leaseNext", 0, err)
		return false, true
	}
	if entry == nil {
		return false, false
	}

	subCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	result, err := s.submitter.Submit(subCtx, entry)
	cancel()

	if err == nil {
		if err := s.store.MarkSynced(ctx, entry.ID); err != nil {
			s.logError("markSynced", entry.ID, err)
			return true, true
		}
		s.mu.Lock()
		s.synced++
		s.mu.Unlock()
		if s.logger != nil {
			s.logger.WithFields(logrus.Fields{
				"module":          "OfflineQueue",
				"entry_id":        entry.ID,
				"idempotency_key": entry.IdempotencyKey,
				"order_id":        result.OrderId,
				"duplicate":       result.Duplicate,
			}).Info("queue entry synced")
		}
		return true, false
	}

	attempts := entry.Attempts + 1

	var submitErr *SubmitError
	if !errors.As(err, &submitErr) {
		// Not an HTTP outcome at all (context cancelled, decode failure).
		// Treat as retryable without burning the pass.
		_ = s.store.MarkRetry(ctx, entry.ID, attempts, err.Error(), s.Now().Add(Backoff(attempts, s.cfg)))
		return true, true
	}

	switch {
	case !submitErr.Retryable():
		if err := s.store.MarkPermanentlyFailed(ctx, entry.ID, attempts, submitErr.Error()); err != nil {
			s.logError("markPermanentlyFailed", entry.ID, err)
		}
		if s.logger != nil {
			s.logger.WithFields(logrus.Fields{
				"module":          "OfflineQueue",
				"entry_id":        entry.ID,
				"idempotency_key": entry.IdempotencyKey,
				"status_code":     submitErr.StatusCode,
				"attempts":        attempts,
			}).Error("queue entry rejected permanently: " + submitErr.Message)
		}
		return true, false

	case attempts >= s.cfg.MaxAttempts:
		if err := s.store.MarkPermanentlyFailed(ctx, entry.ID, attempts, submitErr.Error()); err != nil {
			s.logError("markPermanentlyFailed", entry.ID, err)
		}
		if s.logger != nil {
			s.logger.WithFields(logrus.Fields{
				"module":          "OfflineQueue",
				"entry_id":        entry.ID,
				"idempotency_key": entry.IdempotencyKey,
				"attempts":        attempts,
			}).Error("queue entry exhausted its attempts: " + submitErr.Message)
		}
		return true, false

	default:
		next := s.Now().Add(Backoff(attempts, s.cfg))
		if err := s.store.MarkRetry(ctx, entry.ID, attempts, submitErr.Error(), next); err != nil {
			s.logError("markRetry", entry.ID, err)
		}
		// A transport failure means the link is down; later entries would
		// only fail the same way, so end the pass.
		return true, submitErr.StatusCode == 0
	}
}

func (s *Scheduler) logError(context string, entryId int64, err error) {
	if s.logger == nil {
		return
	}
	s.logger.WithFields(logrus.Fields{
		"module":   "OfflineQueue",
		"context":  context,
		"entry_id": entryId,
	}).Error(err.Error())
}
