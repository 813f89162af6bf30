package sampler

import (
	"sync"

	"github.com/coral-mesh/perfmerge/internal/telemetry"
)

// Static is a Sampler that replays a trace captured elsewhere. With a nil
// trace it reports itself unavailable.
type Static struct {
	mu      sync.Mutex
	trace   *telemetry.SampledTrace
	running bool
}

var _ telemetry.Sampler = (*Static)(nil)

// NewStatic creates a sampler returning trace on Stop.
func NewStatic(trace *telemetry.SampledTrace) *Static {
	return &Static{trace: trace}
}

// Start reports whether a trace is available.
func (s *Static) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = s.trace != nil
	return s.running
}

// Stop returns the trace if Start succeeded, nil otherwise.
func (s *Static) Stop() *telemetry.SampledTrace {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	return s.trace
}
