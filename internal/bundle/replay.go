package bundle

import (
	"context"
	"fmt"
	"sync"

	"github.com/coral-mesh/perfmerge/internal/sampler"
	"github.com/coral-mesh/perfmerge/internal/session"
	"github.com/coral-mesh/perfmerge/internal/telemetry"
)

// Replay feeds a bundle through a session as if its contexts had produced the
// telemetry live. The main context replays through a static sampler and an
// in-memory buffer; each other context becomes a worker buffer.
type Replay struct {
	bundle  *Bundle
	sampler *sampler.Static
	main    *telemetry.Buffer
	workers map[string]*telemetry.Buffer

	mu sync.Mutex
	// filled is set once the bundle's records are in the buffers, which is
	// when the replayed window has elapsed.
	filled bool
}

// NewReplay prepares a replay, loading the bundle's trace.
func NewReplay(b *Bundle) (*Replay, error) {
	trace, err := b.LoadTrace()
	if err != nil {
		return nil, err
	}

	r := &Replay{
		bundle:  b,
		sampler: sampler.NewStatic(trace),
		main:    telemetry.NewBuffer(b.MainID()),
		workers: make(map[string]*telemetry.Buffer),
	}
	for _, c := range b.Contexts {
		if c.ID == b.MainID() {
			continue
		}
		r.workers[c.ID] = telemetry.NewBuffer(c.ID)
	}
	return r, nil
}

// Options returns the session options wiring the replay's collaborators.
func (r *Replay) Options() []session.Option {
	opts := []session.Option{
		session.WithSampler(r.sampler),
		session.WithMainSource(r.main),
		session.WithClock(r.Clock),
	}
	for _, w := range r.workers {
		opts = append(opts, session.WithWorker(w))
	}
	return opts
}

// Clock reports the bundle's start time until Fill runs and its end time
// afterwards. Repeated readings return the same value.
func (r *Replay) Clock() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.filled {
		return r.bundle.EndTime
	}
	return r.bundle.StartTime
}

// Rewind moves the clock back to the bundle's start time.
func (r *Replay) Rewind() {
	r.mu.Lock()
	r.filled = false
	r.mu.Unlock()
}

// Fill appends the bundle's records to the context buffers and advances the
// clock to the bundle's end time. Session.Start clears the buffers, so Fill
// runs after it.
func (r *Replay) Fill() {
	defer func() {
		r.mu.Lock()
		r.filled = true
		r.mu.Unlock()
	}()
	for _, c := range r.bundle.Contexts {
		if c.ID == r.bundle.MainID() {
			r.main.Append(c.Records...)
			continue
		}
		r.workers[c.ID].Append(c.Records...)
	}
}

// Run drives s through a full run: start, fill, stop, collect.
// s must have been created with Options.
func (r *Replay) Run(ctx context.Context, s *session.Session) error {
	r.Rewind()
	if err := s.Start(); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	r.Fill()
	if err := s.Stop(); err != nil {
		return fmt.Errorf("failed to stop session: %w", err)
	}
	if err := s.Collect(ctx); err != nil {
		return fmt.Errorf("failed to collect telemetry: %w", err)
	}
	return nil
}
