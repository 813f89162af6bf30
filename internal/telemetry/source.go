package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Source is a context that buffers its own records and hands them over on
// request. Telemetry is repeatable: it returns the same history until Clear.
type Source interface {
	ContextID() string
	Telemetry(ctx context.Context) ([]Record, error)
	Clear()
}

// Sampler wraps a sampling profiler for the main context.
// Start returns false when sampling is unavailable; it never fails otherwise.
type Sampler interface {
	Start() bool
	Stop() *SampledTrace
}

// Pull retrieves the telemetry of one source, bounded by timeout. A source
// that errors or does not answer in time contributes nothing; the condition
// is logged and reported through the returned error for accounting, but
// callers are expected to carry on without that context.
func Pull(ctx context.Context, src Source, timeout time.Duration, logger zerolog.Logger) ([]Record, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		records []Record
		err     error
	}
	done := make(chan result, 1)
	go func() {
		records, err := src.Telemetry(ctx)
		done <- result{records: records, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			logger.Warn().
				Err(res.err).
				Str("context_id", src.ContextID()).
				Msg("Failed to retrieve context telemetry, skipping context")
			return nil, res.err
		}
		return res.records, nil
	case <-ctx.Done():
		logger.Warn().
			Err(ctx.Err()).
			Str("context_id", src.ContextID()).
			Dur("timeout", timeout).
			Msg("Timed out retrieving context telemetry, skipping context")
		return nil, ctx.Err()
	}
}

// IsTimeout reports whether a Pull error was caused by the deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// Buffer is an in-memory Source. The owning context appends to it while
// collecting; readers get a copy.
type Buffer struct {
	id string

	mu      sync.Mutex
	records []Record
}

// NewBuffer creates an empty buffer for a context.
func NewBuffer(contextID string) *Buffer {
	return &Buffer{id: contextID}
}

// ContextID implements Source.
func (b *Buffer) ContextID() string {
	return b.id
}

// Append adds records to the buffer, tagging them with the buffer's context.
func (b *Buffer) Append(records ...Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range records {
		if r.ContextID == "" {
			r.ContextID = b.id
		}
		b.records = append(b.records, r)
	}
}

// Telemetry implements Source.
func (b *Buffer) Telemetry(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Record, len(b.records))
	copy(out, b.records)
	return out, nil
}

// Clear implements Source.
func (b *Buffer) Clear() {
	b.mu.Lock()
	b.records = nil
	b.mu.Unlock()
}
