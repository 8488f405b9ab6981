package evolution

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mnemosyne-core/mnemosyne/internal/store"
)

// registration pairs a job with its dispatch interval.
type registration struct {
	job      Job
	interval time.Duration
	nextRun  time.Time
}

// Scheduler owns the registered jobs and invokes them from a single
// supervising goroutine. Jobs never run concurrently with one another:
// serialization avoids interference on the same rows.
type Scheduler struct {
	store  store.Store
	config Config

	mu      sync.Mutex
	jobs    []*registration
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// tickInterval is the supervising loop's wake-up cadence.
const tickInterval = time.Minute

// NewScheduler returns a scheduler that runs jobs with the given per-run
// config.
func NewScheduler(st store.Store, cfg Config) *Scheduler {
	cfg.Normalize()
	return &Scheduler{store: st, config: cfg}
}

// Register adds a job dispatched at most once per interval. Must be called
// before Start.
func (s *Scheduler) Register(job Job, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, &registration{job: job, interval: interval, nextRun: time.Now()})
}

// Start launches the single supervising goroutine. It returns immediately;
// the loop runs until Shutdown or ctx cancellation.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.done = make(chan struct{})

	log.Println("evolution: scheduler starting")
	s.wg.Add(1)
	go s.loop(ctx, s.done)
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			s.dispatchDue(ctx)
		}
	}
}

// dispatchDue runs, serially, every job whose interval has elapsed and
// whose ShouldRun agrees.
func (s *Scheduler) dispatchDue(ctx context.Context) {
	s.mu.Lock()
	due := make([]*registration, 0, len(s.jobs))
	now := time.Now()
	for _, reg := range s.jobs {
		if now.After(reg.nextRun) {
			due = append(due, reg)
		}
	}
	s.mu.Unlock()

	for _, reg := range due {
		if ctx.Err() != nil {
			return
		}
		if !reg.job.ShouldRun(ctx) {
			continue
		}
		report := reg.job.Run(ctx, s.config)
		log.Printf("evolution: job %s processed=%d changed=%d errors=%d duration=%s",
			reg.job.Name(), report.Processed, report.Changed, report.Errors, report.Duration)

		if err := s.store.SetMetadata(ctx, lastRunKey(reg.job.Name()), time.Now().UTC().Format(time.RFC3339)); err != nil {
			log.Printf("evolution: failed to record last run for %s: %v", reg.job.Name(), err)
		}

		s.mu.Lock()
		reg.nextRun = time.Now().Add(reg.interval)
		s.mu.Unlock()
	}
}

// RunAll runs every registered job once, immediately and serially,
// regardless of intervals.
func (s *Scheduler) RunAll(ctx context.Context) []Report {
	s.mu.Lock()
	jobs := make([]*registration, len(s.jobs))
	copy(jobs, s.jobs)
	s.mu.Unlock()

	reports := make([]Report, 0, len(jobs))
	for _, reg := range jobs {
		if ctx.Err() != nil {
			break
		}
		report := reg.job.Run(ctx, s.config)
		reports = append(reports, report)
		if err := s.store.SetMetadata(ctx, lastRunKey(reg.job.Name()), time.Now().UTC().Format(time.RFC3339)); err != nil {
			log.Printf("evolution: failed to record last run for %s: %v", reg.job.Name(), err)
		}
	}
	return reports
}

// Shutdown stops dispatching new jobs and waits for the current one to
// finish its batch, up to ctx's deadline.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.done)
	s.mu.Unlock()

	log.Println("evolution: scheduler stopping")
	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// newLimiter builds the per-run pacing limiter, or nil when unpaced.
func newLimiter(cfg Config) *rate.Limiter {
	if cfg.RatePerSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.BatchSize)
}

// pace blocks until the limiter grants one write slot. A nil limiter is a
// no-op.
func pace(ctx context.Context, limiter *rate.Limiter) {
	if limiter == nil {
		return
	}
	_ = limiter.Wait(ctx)
}

// shouldRunFromMetadata is the shared ShouldRun implementation: a job runs
// when it has never run or its recorded last run is older than minAge.
func shouldRunFromMetadata(ctx context.Context, st store.Store, name string, minAge time.Duration) bool {
	raw, err := st.GetMetadata(ctx, lastRunKey(name))
	if err != nil || raw == "" {
		return true
	}
	last, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return true
	}
	return time.Since(last) >= minAge
}
