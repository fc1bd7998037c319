package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"varianthunter/internal/infra/persistence/memory"
)

// DocumentStore is a durable home for the session snapshot.
type DocumentStore interface {
	// Load returns the stored snapshot; found is false when nothing was saved.
	Load(ctx context.Context) (snapshot memory.Snapshot, found bool, err error)
	Save(ctx context.Context, snapshot memory.Snapshot) error
	Close() error
}

// ErrPersisterClosed is returned by Flush after Close.
var ErrPersisterClosed = errors.New("persister closed")

// PersisterConfig tunes write scheduling.
type PersisterConfig struct {
	// Debounce is the window during which change notifications are
	// coalesced into one write.
	Debounce time.Duration
	// MaxRetries is the number of additional attempts after a failed save.
	MaxRetries int
	// RetryBackoff is the delay before the first retry; it doubles per attempt.
	RetryBackoff time.Duration
	// Timeout bounds each save attempt. Zero means no timeout.
	Timeout time.Duration
}

// DefaultPersisterConfig mirrors the configuration defaults.
func DefaultPersisterConfig() PersisterConfig {
	return PersisterConfig{
		Debounce:     250 * time.Millisecond,
		MaxRetries:   3,
		RetryBackoff: 200 * time.Millisecond,
		Timeout:      5 * time.Second,
	}
}

// Persister writes full session snapshots in the background. Notify never
// blocks; failed writes are retried with backoff and then logged, never
// reported to the caller of Notify.
type Persister struct {
	store  DocumentStore
	source func() memory.Snapshot
	cfg    PersisterConfig
	logger Logger

	notify  chan struct{}
	flushes chan chan error
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
	final   error
}

// NewPersister starts a background writer saving source() to store.
func NewPersister(store DocumentStore, source func() memory.Snapshot, cfg PersisterConfig, logger Logger) *Persister {
	if logger == nil {
		logger = noopLogger{}
	}
	p := &Persister{
		store:   store,
		source:  source,
		cfg:     cfg,
		logger:  logger,
		notify:  make(chan struct{}, 1),
		flushes: make(chan chan error),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go p.loop()
	return p
}

// Notify schedules a write of the latest snapshot.
func (p *Persister) Notify() {
	select {
	case p.notify <- struct{}{}:
	default:
		persistCoalescedTotal.Inc()
	}
}

// Flush writes any pending snapshot immediately and waits for the result.
func (p *Persister) Flush(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case p.flushes <- reply:
	case <-p.stopped:
		return ErrPersisterClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close writes any pending snapshot and stops the background writer. It
// returns the error of that final write. The store is not closed.
func (p *Persister) Close() error {
	p.once.Do(func() { close(p.done) })
	<-p.stopped
	return p.final
}

func (p *Persister) loop() {
	defer close(p.stopped)
	var (
		timer   *time.Timer
		timerC  <-chan time.Time
		pending bool
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		timerC = nil
	}
	drain := func() {
		select {
		case <-p.notify:
			pending = true
		default:
		}
	}
	for {
		select {
		case <-p.notify:
			if pending {
				persistCoalescedTotal.Inc()
				continue
			}
			pending = true
			if timer == nil {
				timer = time.NewTimer(p.cfg.Debounce)
			} else {
				timer.Reset(p.cfg.Debounce)
			}
			timerC = timer.C
		case <-timerC:
			timerC = nil
			pending = false
			_ = p.write()
		case reply := <-p.flushes:
			drain()
			var err error
			if pending {
				stopTimer()
				pending = false
				err = p.write()
			}
			reply <- err
		case <-p.done:
			drain()
			if pending {
				stopTimer()
				p.final = p.write()
			}
			return
		}
	}
}

func (p *Persister) write() error {
	start := time.Now()
	snapshot := p.source()
	backoff := p.cfg.RetryBackoff
	var err error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			p.logger.Warn("session snapshot save failed, retrying", "attempt", attempt, "backoff", backoff.String(), "error", err)
			time.Sleep(backoff)
			backoff *= 2
		}
		if err = p.save(snapshot); err == nil {
			persistWriteTotal.WithLabelValues("success").Inc()
			persistWriteDuration.Observe(time.Since(start).Seconds())
			p.logger.Debug("session snapshot saved", "analyses", len(snapshot.Analyses), "tags", len(snapshot.Tags), "attempts", attempt+1)
			return nil
		}
	}
	persistWriteTotal.WithLabelValues("error").Inc()
	persistWriteDuration.Observe(time.Since(start).Seconds())
	p.logger.Error("session snapshot save gave up", "attempts", p.cfg.MaxRetries+1, "error", err)
	return err
}

func (p *Persister) save(snapshot memory.Snapshot) error {
	ctx := context.Background()
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}
	return p.store.Save(ctx, snapshot)
}

// LoadSnapshot reads the stored session and applies the load policy: a
// document flagged for reset or written under another schema version is
// discarded. accepted is false when the caller should start fresh.
func LoadSnapshot(ctx context.Context, store DocumentStore, logger Logger) (snapshot memory.Snapshot, accepted bool, err error) {
	if logger == nil {
		logger = noopLogger{}
	}
	stored, found, err := store.Load(ctx)
	if err != nil {
		return memory.Snapshot{}, false, err
	}
	if !found {
		logger.Debug("no stored session")
		return memory.Snapshot{}, false, nil
	}
	if stored.Reset {
		logger.Info("discarding stored session", "reason", "reset requested")
		return memory.Snapshot{}, false, nil
	}
	if stored.Version != memory.SchemaVersion {
		logger.Info("discarding stored session", "reason", "schema version mismatch",
			"stored_version", stored.Version, "running_version", memory.SchemaVersion)
		return memory.Snapshot{}, false, nil
	}
	return memory.Migrate(stored), true, nil
}
