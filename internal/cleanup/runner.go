// Package cleanup drives the periodic server cleanup cycle and the
// extensions that piggyback on it.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/loykin/swabra/internal/metrics"
)

var ErrCycleRunning = errors.New("cleanup cycle already running")

// Extension runs after the main phase of every cleanup cycle. It must return
// promptly once ctx is done.
type Extension interface {
	AfterCleanup(ctx context.Context) error
}

// ExtensionFunc adapts a function to Extension.
type ExtensionFunc func(ctx context.Context) error

func (f ExtensionFunc) AfterCleanup(ctx context.Context) error { return f(ctx) }

// Report describes a finished cycle.
type Report struct {
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Interrupted bool      `json:"interrupted"`
	Failed      []string  `json:"failed,omitempty"`
}

type namedExtension struct {
	name string
	ext  Extension
}

// Runner executes one cycle at a time: the main phase, then every registered
// extension in registration order. Interrupt cancels the running cycle.
type Runner struct {
	mu     sync.Mutex // guards cancel, which is non-nil while a cycle runs
	main   func(ctx context.Context) error
	exts   []namedExtension
	cancel context.CancelFunc
	sched  *cron.Cron
	logger *slog.Logger
}

func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{logger: logger}
}

// SetMainPhase sets the work done before extensions run.
func (r *Runner) SetMainPhase(fn func(ctx context.Context) error) {
	r.mu.Lock()
	r.main = fn
	r.mu.Unlock()
}

func (r *Runner) Register(name string, ext Extension) {
	r.mu.Lock()
	r.exts = append(r.exts, namedExtension{name: name, ext: ext})
	r.mu.Unlock()
}

// Running reports whether a cycle is in progress.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel != nil
}

type cycle struct {
	ctx  context.Context
	main func(ctx context.Context) error
	exts []namedExtension
}

// begin marks a cycle running and stores its cancel func in one critical
// section.
func (r *Runner) begin(ctx context.Context) (*cycle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return nil, ErrCycleRunning
	}
	cctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	exts := make([]namedExtension, len(r.exts))
	copy(exts, r.exts)
	return &cycle{ctx: cctx, main: r.main, exts: exts}, nil
}

func (r *Runner) end() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// RunCycle runs a full cycle and blocks until it ends. It returns
// ErrCycleRunning when another cycle is in progress. Extension failures are
// logged and listed in the report.
func (r *Runner) RunCycle(ctx context.Context) (Report, error) {
	c, err := r.begin(ctx)
	if err != nil {
		return Report{}, err
	}
	defer r.end()
	return r.run(c), nil
}

// StartCycle claims the runner before returning and runs the cycle in the
// background. It returns ErrCycleRunning when another cycle is in progress.
func (r *Runner) StartCycle(ctx context.Context) error {
	c, err := r.begin(ctx)
	if err != nil {
		return err
	}
	go func() {
		defer r.end()
		r.run(c)
	}()
	return nil
}

func (r *Runner) run(c *cycle) Report {
	report := Report{StartedAt: time.Now()}
	r.logger.Info("cleanup cycle started", "extensions", len(c.exts))

	if c.main != nil {
		if err := c.main(c.ctx); err != nil {
			r.logger.Error("cleanup main phase failed", "error", err)
			report.Failed = append(report.Failed, "main")
		}
	}
	for _, e := range c.exts {
		if c.ctx.Err() != nil {
			break
		}
		if err := e.ext.AfterCleanup(c.ctx); err != nil {
			r.logger.Error("cleanup extension failed", "extension", e.name, "error", err)
			report.Failed = append(report.Failed, e.name)
		}
	}

	report.Interrupted = c.ctx.Err() != nil
	report.FinishedAt = time.Now()
	result := "completed"
	switch {
	case report.Interrupted:
		result = "interrupted"
	case len(report.Failed) > 0:
		result = "failed"
	}
	metrics.ObserveCleanupCycle(result, report.FinishedAt.Sub(report.StartedAt).Seconds())
	r.logger.Info("cleanup cycle finished", "result", result, "duration", report.FinishedAt.Sub(report.StartedAt))
	return report
}

// Interrupt cancels the running cycle, if any, and reports whether one was running.
func (r *Runner) Interrupt() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel == nil {
		return false
	}
	r.cancel()
	return true
}

// ParseSchedule validates a cron expression. Standard five-field specs, an
// optional leading seconds field and descriptors such as "@daily" or
// "@every 24h" are accepted.
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", expr, err)
	}
	return sched, nil
}

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Start triggers cycles on schedule until Stop. A tick that finds a cycle
// still running is skipped.
func (r *Runner) Start(schedule string) error {
	sched, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sched != nil {
		return errors.New("cleanup scheduler already started")
	}
	r.sched = cron.New(cron.WithParser(parser))
	r.sched.Schedule(sched, cron.FuncJob(func() {
		if _, err := r.RunCycle(context.Background()); errors.Is(err, ErrCycleRunning) {
			r.logger.Warn("skipping scheduled cleanup, previous cycle still running")
		}
	}))
	r.sched.Start()
	r.logger.Info("cleanup scheduler started", "schedule", schedule)
	return nil
}

// Stop stops scheduling, interrupts the running cycle and waits for it.
func (r *Runner) Stop() {
	r.mu.Lock()
	sched := r.sched
	r.sched = nil
	r.mu.Unlock()
	r.Interrupt()
	if sched != nil {
		<-sched.Stop().Done()
	}
}
