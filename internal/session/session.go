// Package session drives one profiling run: it owns the start/stop lifecycle,
// pulls each context's buffered telemetry, and turns it into artifacts.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/coral-mesh/perfmerge/internal/export/flamechart"
	"github.com/coral-mesh/perfmerge/internal/export/pprofexport"
	"github.com/coral-mesh/perfmerge/internal/logging"
	"github.com/coral-mesh/perfmerge/internal/marker"
	"github.com/coral-mesh/perfmerge/internal/metrics"
	"github.com/coral-mesh/perfmerge/internal/profile"
	"github.com/coral-mesh/perfmerge/internal/store"
	"github.com/coral-mesh/perfmerge/internal/telemetry"
)

// Lifecycle errors.
var (
	ErrNotStopped        = errors.New("session is not stopped")
	ErrNotCollecting     = errors.New("session is not collecting")
	ErrAlreadyCollecting = errors.New("session is already collecting")
)

// State is the lifecycle state of a session.
type State int

// Session states.
const (
	StateIdle State = iota
	StateCollecting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCollecting:
		return "collecting"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// DefaultRetrievalTimeout bounds each source pull when Config leaves it unset.
const DefaultRetrievalTimeout = 5 * time.Second

// Config configures a session.
type Config struct {
	// Name is written into flame-chart files.
	Name string
	// MainContextID names the main context when no main source is attached.
	MainContextID    string
	RetrievalTimeout time.Duration
	FlameChart       flamechart.Config
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		MainContextID:    "main",
		RetrievalTimeout: DefaultRetrievalTimeout,
		FlameChart:       flamechart.DefaultConfig(),
	}
}

// Clock returns the current time in milliseconds.
type Clock func() float64

// Option configures optional collaborators.
type Option func(*Session)

// WithSampler attaches the sampling profiler of the main context.
func WithSampler(s telemetry.Sampler) Option {
	return func(sess *Session) { sess.sampler = s }
}

// WithMainSource attaches the instrumentation buffer of the main context.
func WithMainSource(src telemetry.Source) Option {
	return func(sess *Session) { sess.main = src }
}

// WithWorker attaches a worker context.
func WithWorker(src telemetry.Source) Option {
	return func(sess *Session) { sess.workers = append(sess.workers, src) }
}

// WithStore persists every generated artifact.
func WithStore(st *store.Store) Option {
	return func(sess *Session) { sess.store = st }
}

// WithClock replaces the wall clock used for the session window.
func WithClock(c Clock) Option {
	return func(sess *Session) { sess.clock = c }
}

// Session is one profiling run. All methods are safe for concurrent use.
type Session struct {
	cfg     Config
	logger  zerolog.Logger
	markers *marker.Registry

	builder *profile.Builder
	flame   *flamechart.Exporter
	pprof   *pprofexport.Exporter

	sampler telemetry.Sampler
	main    telemetry.Source
	workers []telemetry.Source
	store   *store.Store
	clock   Clock

	mu        sync.Mutex
	id        string
	state     State
	startTime float64
	endTime   float64
	sampling  bool
	trace     *telemetry.SampledTrace
	records   map[string][]telemetry.Record
}

// New creates an idle session. markers may be nil.
func New(cfg Config, markers *marker.Registry, logger zerolog.Logger, opts ...Option) *Session {
	def := DefaultConfig()
	if cfg.MainContextID == "" {
		cfg.MainContextID = def.MainContextID
	}
	if cfg.RetrievalTimeout <= 0 {
		cfg.RetrievalTimeout = def.RetrievalTimeout
	}

	s := &Session{
		cfg:     cfg,
		logger:  logging.WithComponent(logger, "session"),
		markers: markers,
		builder: profile.NewBuilder(markers, logger),
		flame:   flamechart.NewExporter(cfg.FlameChart, logger),
		pprof:   pprofexport.NewExporter(markers, logger),
		clock:   wallClock(),
		records: make(map[string][]telemetry.Record),
	}
	for _, opt := range opts {
		opt(s)
	}

	sort.SliceStable(s.workers, func(i, j int) bool {
		return s.workers[i].ContextID() < s.workers[j].ContextID()
	})
	return s
}

func wallClock() Clock {
	origin := time.Now()
	return func() float64 {
		return float64(time.Since(origin).Microseconds()) / 1000
	}
}

// ID returns the id of the current run, empty before the first Start.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start begins a run: it records the start time, clears every buffer, and
// starts the sampler. An unavailable sampler is not an error; the run then
// relies on instrumentation records only. Starting a stopped session begins
// a fresh run.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateCollecting {
		return ErrAlreadyCollecting
	}

	s.id = uuid.NewString()
	s.startTime = s.clock()
	s.endTime = s.startTime
	s.trace = nil
	s.records = make(map[string][]telemetry.Record)

	if s.main != nil {
		s.main.Clear()
	}
	for _, w := range s.workers {
		w.Clear()
	}

	s.sampling = false
	if s.sampler != nil {
		s.sampling = s.sampler.Start()
	}
	if !s.sampling {
		s.logger.Warn().
			Str("session_id", s.id).
			Msg("Sampling profiler unavailable, using instrumentation records only")
	}

	s.state = StateCollecting
	s.logger.Info().
		Str("session_id", s.id).
		Int("workers", len(s.workers)).
		Bool("sampling", s.sampling).
		Msg("Session started")
	return nil
}

// Stop ends the run and keeps the sampler's trace. It does not pull worker
// telemetry; call Collect for that.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateCollecting {
		return ErrNotCollecting
	}

	s.endTime = s.clock()
	if s.sampling {
		s.trace = s.sampler.Stop()
		s.sampling = false
	}
	s.state = StateStopped

	s.logger.Info().
		Str("session_id", s.id).
		Float64("duration_ms", s.endTime-s.startTime).
		Bool("trace", s.trace != nil).
		Msg("Session stopped")
	return nil
}

// Collect pulls the telemetry of every attached source concurrently. Each
// pull is bounded by the retrieval timeout; a source that fails or times out
// contributes nothing and does not fail the call. Collect may be repeated.
func (s *Session) Collect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateStopped {
		s.mu.Unlock()
		return ErrNotStopped
	}
	sources := make([]telemetry.Source, 0, len(s.workers)+1)
	if s.main != nil {
		sources = append(sources, s.main)
	}
	sources = append(sources, s.workers...)
	s.mu.Unlock()

	results := make([][]telemetry.Record, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			start := time.Now()
			records, err := telemetry.Pull(gctx, src, s.cfg.RetrievalTimeout, s.logger)
			switch {
			case err == nil:
				metrics.Retrieval(metrics.OutcomeOK, time.Since(start))
			case telemetry.IsTimeout(err):
				metrics.Retrieval(metrics.OutcomeTimeout, time.Since(start))
			default:
				metrics.Retrieval(metrics.OutcomeError, time.Since(start))
			}
			results[i] = records
			return nil
		})
	}
	_ = g.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	collected := 0
	for i, src := range sources {
		s.records[src.ContextID()] = results[i]
		collected += len(results[i])
	}

	s.logger.Info().
		Str("session_id", s.id).
		Int("sources", len(sources)).
		Int("records", collected).
		Msg("Collected context telemetry")
	return nil
}

// Ingest sets the records of a context directly, replacing whatever Collect
// gathered for it. It is used when telemetry arrives out of band.
func (s *Session) Ingest(contextID string, records []telemetry.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateStopped {
		return ErrNotStopped
	}
	s.records[contextID] = append([]telemetry.Record(nil), records...)
	return nil
}
