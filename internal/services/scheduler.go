package services

import (
	"context"
	"log"
	"sync"
	"time"

	"gamewatch/internal/models"
	"gamewatch/internal/schedule"
	"gamewatch/internal/store"
)

// PriceFetcher is the narrow contract to the external price provider.
type PriceFetcher interface {
	Fetch(ctx context.Context, ref models.GameRef) (*models.PriceSnapshot, error)
}

// SchedulerStats tracks scheduler activity counters.
type SchedulerStats struct {
	Scans         int64
	Evaluations   int64
	Notifications int64
	Unavailable   int64
	Errors        int64
	LastScan      time.Time
}

// Scheduler periodically scans for due watches and runs each due watch's
// evaluation cycle on its own goroutine, bounded by a global concurrency
// cap. At most one cycle is ever in flight per watch id: the store claims
// watches on read and the in-process set guards against overlapping scans.
type Scheduler struct {
	store        *store.Store
	fetcher      PriceFetcher
	notifier     Notifier
	interval     time.Duration
	fetchTimeout time.Duration
	sem          chan struct{}
	logger       *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	inflight map[uint]struct{}
	running  bool
	stats    SchedulerStats
}

func NewScheduler(st *store.Store, fetcher PriceFetcher, notifier Notifier,
	interval, fetchTimeout time.Duration, maxConcurrent int, logger *log.Logger) *Scheduler {

	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[Scheduler] ", log.LstdFlags)
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		store:        st,
		fetcher:      fetcher,
		notifier:     notifier,
		interval:     interval,
		fetchTimeout: fetchTimeout,
		sem:          make(chan struct{}, maxConcurrent),
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
		inflight:     make(map[uint]struct{}),
	}
}

// Start begins the scan loop in the background.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Printf("started: scan interval %v, fetch timeout %v, max concurrent %d",
		s.interval, s.fetchTimeout, cap(s.sem))

	s.wg.Add(1)
	go s.loop()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// First scan immediately.
	if err := s.RunOnce(s.ctx); err != nil {
		s.logger.Printf("scan error: %v", err)
	}

	for {
		select {
		case <-ticker.C:
			if err := s.RunOnce(s.ctx); err != nil {
				s.logger.Printf("scan error: %v", err)
			}
		case <-s.ctx.Done():
			s.logger.Printf("stopped")
			return
		}
	}
}

// Stop cancels the loop and waits for in-flight cycles to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

// Stats returns a copy of the current counters.
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// RunOnce performs a single due-scan and waits for every launched cycle to
// complete.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	now := time.Now()
	due, err := s.store.ListDue(now, 0)
	if err != nil {
		s.mu.Lock()
		s.stats.Errors++
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.stats.Scans++
	s.stats.LastScan = now
	s.mu.Unlock()

	if len(due) == 0 {
		return nil
	}
	s.logger.Printf("%d watch(es) due", len(due))

	var scanWG sync.WaitGroup
	for i := range due {
		w := due[i]
		if !s.claim(w.ID) {
			// Already being evaluated; the running cycle's commit wins.
			continue
		}

		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			s.release(w.ID)
			scanWG.Wait()
			return ctx.Err()
		}

		scanWG.Add(1)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer scanWG.Done()
			defer func() { <-s.sem }()
			defer s.release(w.ID)
			s.runCycle(ctx, &w)
		}()
	}
	scanWG.Wait()
	return nil
}

func (s *Scheduler) claim(watchID uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[watchID]; busy {
		return false
	}
	s.inflight[watchID] = struct{}{}
	return true
}

func (s *Scheduler) release(watchID uint) {
	s.mu.Lock()
	delete(s.inflight, watchID)
	s.mu.Unlock()
}

// runCycle evaluates one due watch: fetch, evaluate, notify, commit. Every
// exit path advances the watch to its next cron occurrence; only a
// successful cycle persists a snapshot and evaluation state, in a single
// transaction.
func (s *Scheduler) runCycle(ctx context.Context, w *models.Watch) {
	cr, err := schedule.Parse(w.Schedule)
	if err != nil {
		// Corrupt stored schedule; park the watch instead of spinning.
		s.logger.Printf("watch %d has invalid schedule %q: %v", w.ID, w.Schedule, err)
		if err := s.store.AdvanceSchedule(w.ID, time.Now().Add(time.Hour)); err != nil {
			s.logger.Printf("watch %d: %v", w.ID, err)
		}
		return
	}
	now := time.Now()
	next := cr.NextAfter(w.NextRunAt, now)

	fctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	snap, err := s.fetcher.Fetch(fctx, w.Ref())
	if err != nil {
		// Recoverable: the next cron tick is the retry.
		s.logger.Printf("watch %d (%s): price data unavailable: %v", w.ID, w.GameName, err)
		s.mu.Lock()
		s.stats.Unavailable++
		s.mu.Unlock()
		if err := s.store.AdvanceSchedule(w.ID, next); err != nil {
			s.logger.Printf("watch %d: %v", w.ID, err)
		}
		return
	}

	priorLow, err := s.store.LowestPrice(w.Ref())
	if err != nil {
		s.logger.Printf("watch %d: %v", w.ID, err)
		s.mu.Lock()
		s.stats.Errors++
		s.mu.Unlock()
		if err := s.store.AdvanceSchedule(w.ID, next); err != nil {
			s.logger.Printf("watch %d: %v", w.ID, err)
		}
		return
	}
	snap.IsAllTimeLow = priorLow == nil || snap.CurrentPrice < *priorLow

	out := Evaluate(w, snap, priorLow)

	s.mu.Lock()
	s.stats.Evaluations++
	s.mu.Unlock()

	notified := false
	var rec *models.Notification
	if out.Newly {
		rec = BuildNotification(w, snap, out)
		if err := s.notifier.Notify(rec); err != nil {
			// Not marked as notified; re-announced on a later cycle.
			s.logger.Printf("watch %d: notification failed: %v", w.ID, err)
		} else {
			notified = true
			s.mu.Lock()
			s.stats.Notifications++
			s.mu.Unlock()
		}
	}

	// A newly satisfied condition whose alert failed is stored as not
	// satisfied, so the next cycle announces it again.
	stored := out.Satisfied && (!out.Newly || notified)
	price := snap.CurrentPrice

	cycle := store.CycleOutcome{
		Snapshot:    snap,
		NextRunAt:   next,
		LastPrice:   &price,
		LastOutcome: &stored,
	}
	if notified {
		value := out.Value
		cycle.Notified = true
		cycle.NotifiedAt = time.Now()
		cycle.NotifiedValue = &value
		cycle.Notification = rec
	}

	if err := s.store.CommitCycle(w.ID, cycle); err != nil {
		// The claim expires on its own; the cycle is retried later.
		s.logger.Printf("watch %d: %v", w.ID, err)
		s.mu.Lock()
		s.stats.Errors++
		s.mu.Unlock()
	}
}
