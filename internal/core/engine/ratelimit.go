package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/llmgate/llmgate/internal/core"
)

// WindowDuration is the fixed length of every rate limit window.
const WindowDuration = time.Minute

// ErrInvalidRPM is returned when a window is built with a non-positive capacity.
var ErrInvalidRPM = errors.New("rpm must be positive")

// Clock supplies time to limiters. Implementations must return readings that
// carry a monotonic component so elapsed time survives wall-clock changes.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock is the default Clock backed by the time package.
var SystemClock Clock = systemClock{}

// Admission is the outcome of one admission attempt against a window.
type Admission struct {
	Admitted bool
	// Used is the number of records in the window after the attempt.
	Used int
	// RetryAfter is how long until the oldest record leaves the window.
	// Zero when admitted.
	RetryAfter time.Duration
}

// WindowBackend stores sliding window state for a single endpoint.
type WindowBackend interface {
	// TryAcquire prunes expired records and, if capacity remains, records
	// the current instant. Prune, check and record are atomic.
	TryAcquire(ctx context.Context) (Admission, error)
	Usage(ctx context.Context) (core.WindowUsage, error)
	Reset(ctx context.Context) error
	Limit() int
}

// SlidingWindow is an in-memory WindowBackend.
type SlidingWindow struct {
	mu      sync.Mutex
	rpm     int
	clock   Clock
	records []time.Time
}

// NewSlidingWindow returns a window admitting at most rpm calls per minute.
func NewSlidingWindow(rpm int, clock Clock) (*SlidingWindow, error) {
	if rpm <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidRPM, rpm)
	}
	if clock == nil {
		clock = SystemClock
	}
	return &SlidingWindow{
		rpm:     rpm,
		clock:   clock,
		records: make([]time.Time, 0, rpm),
	}, nil
}

// Limit returns the window capacity.
func (w *SlidingWindow) Limit() int {
	return w.rpm
}

// TryAcquire admits the call when fewer than rpm records remain after pruning.
func (w *SlidingWindow) TryAcquire(ctx context.Context) (Admission, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock.Now()
	w.prune(now)

	if len(w.records) < w.rpm {
		w.records = append(w.records, now)
		return Admission{Admitted: true, Used: len(w.records)}, nil
	}

	return Admission{
		Used:       len(w.records),
		RetryAfter: w.retryAfter(now),
	}, nil
}

// Usage reports current window occupancy without recording a call.
func (w *SlidingWindow) Usage(ctx context.Context) (core.WindowUsage, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock.Now()
	w.prune(now)

	usage := core.WindowUsage{
		Used:      len(w.records),
		Limit:     w.rpm,
		Remaining: w.rpm - len(w.records),
	}
	if usage.Remaining == 0 {
		usage.RetryAfter = w.retryAfter(now)
	}
	return usage, nil
}

// Reset drops every record.
func (w *SlidingWindow) Reset(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.records = w.records[:0]
	return nil
}

// prune drops records strictly older than the window; a record exactly one
// window old still counts.
func (w *SlidingWindow) prune(now time.Time) {
	drop := 0
	for drop < len(w.records) && now.Sub(w.records[drop]) > WindowDuration {
		drop++
	}
	if drop == 0 {
		return
	}
	n := copy(w.records, w.records[drop:])
	w.records = w.records[:n]
}

// retryAfter is the wait until the oldest record is pruned.
func (w *SlidingWindow) retryAfter(now time.Time) time.Duration {
	if len(w.records) == 0 {
		return 0
	}
	wait := w.records[0].Add(WindowDuration).Sub(now) + time.Nanosecond
	if wait < 0 {
		return 0
	}
	return wait
}

// Mode selects what Acquire does when the window is full.
type Mode string

const (
	// ModeReject fails fast with a WindowExhaustedError.
	ModeReject Mode = "reject"
	// ModeBlock waits until a slot frees or the context ends.
	ModeBlock Mode = "block"
)

// ParseMode normalizes a configured mode; empty means ModeReject.
func ParseMode(value string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(value))) {
	case "", ModeReject:
		return ModeReject, nil
	case ModeBlock:
		return ModeBlock, nil
	default:
		return "", fmt.Errorf("unknown limiter mode %q (expected reject or block)", value)
	}
}

// Limiter admits calls against a WindowBackend and tracks provider backoff.
type Limiter struct {
	backend WindowBackend
	mode    Mode
	clock   Clock

	mu           sync.Mutex
	backoffUntil time.Time
	last429At    time.Time
}

// LimiterOption customizes a Limiter.
type LimiterOption func(*Limiter)

// WithMode sets the admission mode.
func WithMode(mode Mode) LimiterOption {
	return func(l *Limiter) {
		if mode != "" {
			l.mode = mode
		}
	}
}

// WithClock sets the clock used for backoff and blocking waits.
func WithClock(clock Clock) LimiterOption {
	return func(l *Limiter) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// NewLimiter wraps a backend. The default mode is ModeReject.
func NewLimiter(backend WindowBackend, opts ...LimiterOption) *Limiter {
	l := &Limiter{
		backend: backend,
		mode:    ModeReject,
		clock:   SystemClock,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NewMemoryLimiter builds a Limiter over an in-memory SlidingWindow.
func NewMemoryLimiter(rpm int, opts ...LimiterOption) (*Limiter, error) {
	l := NewLimiter(nil, opts...)
	window, err := NewSlidingWindow(rpm, l.clock)
	if err != nil {
		return nil, err
	}
	l.backend = window
	return l, nil
}

// Mode returns the admission mode.
func (l *Limiter) Mode() Mode {
	return l.mode
}

// Limit returns the window capacity.
func (l *Limiter) Limit() int {
	return l.backend.Limit()
}

// Acquire consumes one window slot. In ModeReject a full window yields a
// *WindowExhaustedError; in ModeBlock it waits for the oldest record to
// expire. Consumed slots are never returned.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if wait := l.backoffRemaining(); wait > 0 {
			if l.mode != ModeBlock {
				return &WindowExhaustedError{Limit: l.backend.Limit(), RetryAfter: wait, Backoff: true}
			}
			if err := l.wait(ctx, wait); err != nil {
				return err
			}
			continue
		}

		adm, err := l.backend.TryAcquire(ctx)
		if err != nil {
			return fmt.Errorf("acquire window slot: %w", err)
		}
		if adm.Admitted {
			return nil
		}
		if l.mode != ModeBlock {
			return &WindowExhaustedError{Limit: l.backend.Limit(), RetryAfter: adm.RetryAfter}
		}
		if err := l.wait(ctx, adm.RetryAfter); err != nil {
			return err
		}
	}
}

// Record429 applies a backoff window after a provider rate limit response.
func (l *Limiter) Record429(retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.last429At = now
	if retryAfter > 0 {
		until := now.Add(retryAfter)
		if until.After(l.backoffUntil) {
			l.backoffUntil = until
		}
	}
}

// Usage reports window occupancy plus any active backoff.
func (l *Limiter) Usage(ctx context.Context) (core.WindowUsage, error) {
	usage, err := l.backend.Usage(ctx)
	if err != nil {
		return core.WindowUsage{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	if l.backoffUntil.After(now) {
		until := l.backoffUntil
		usage.BackoffUntil = &until
		if wait := until.Sub(now); wait > usage.RetryAfter {
			usage.RetryAfter = wait
		}
	}
	return usage, nil
}

// Reset clears window records and any backoff.
func (l *Limiter) Reset(ctx context.Context) error {
	l.mu.Lock()
	l.backoffUntil = time.Time{}
	l.last429At = time.Time{}
	l.mu.Unlock()
	return l.backend.Reset(ctx)
}

func (l *Limiter) backoffRemaining() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.backoffUntil.IsZero() {
		return 0
	}
	wait := l.backoffUntil.Sub(l.clock.Now())
	if wait <= 0 {
		return 0
	}
	return wait
}

func (l *Limiter) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		d = time.Nanosecond
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.clock.After(d):
		return nil
	}
}
