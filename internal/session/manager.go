package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/xblabs/WhisperDog-sub003/internal/capture"
	"github.com/xblabs/WhisperDog-sub003/internal/config"
	"github.com/xblabs/WhisperDog-sub003/internal/metrics"
	"github.com/xblabs/WhisperDog-sub003/internal/transcribe"
)

// Manager owns the live recording lifecycle: at most one recording or
// in-flight processing chain at a time. The platform capture layer feeds
// bytes through Append; everything else is driven over the control API.
type Manager struct {
	pipeline *Pipeline
	cfg      *config.Config
	log      zerolog.Logger

	// rec is read lock-free on the append path; the control-API mutex
	// below must never be required to deliver callback audio.
	rec atomic.Pointer[capture.Recorder]

	mu         sync.Mutex
	orch       *transcribe.Orchestrator
	cancelRun  context.CancelFunc
	processing bool
}

// Status is a point-in-time snapshot for the control API.
type Status struct {
	Recording  bool                   `json:"recording"`
	Processing bool                   `json:"processing"`
	ChainState transcribe.State       `json:"chain_state,omitempty"`
	Retry      *transcribe.RetryState `json:"retry,omitempty"`
	Capture    *capture.Stats         `json:"capture,omitempty"`
}

// NewManager creates the lifecycle manager.
func NewManager(pipeline *Pipeline, cfg *config.Config, log zerolog.Logger) *Manager {
	return &Manager{
		pipeline: pipeline,
		cfg:      cfg,
		log:      log.With().Str("component", "session").Logger(),
	}
}

// StartRecording arms a fresh recorder. Fails while a recording or a
// processing chain is still active.
func (m *Manager) StartRecording() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec := m.rec.Load(); rec != nil && rec.Recording() {
		return fmt.Errorf("already recording")
	}
	if m.processing {
		return fmt.Errorf("previous recording still processing")
	}
	rec := capture.NewRecorder(m.cfg.SampleRate, m.cfg.Channels, m.cfg.BitDepth)
	rec.Start()
	m.rec.Store(rec)
	m.log.Info().Msg("recording started")
	return nil
}

// Append feeds capture bytes to the active recorder. Callable from the
// platform audio callback: it takes no locks here, so a concurrent Stop
// converting the buffers cannot stall a callback delivery. A stopped or
// absent recorder drops silently.
func (m *Manager) Append(s capture.Stream, b []byte) {
	if rec := m.rec.Load(); rec != nil {
		rec.Append(s, b)
	}
}

// StopRecording stops capture, takes ownership of the tracks, and kicks
// off background processing. Progress is delivered via the event bus.
func (m *Manager) StopRecording() error {
	rec := m.rec.Load()
	if rec == nil || !rec.Recording() {
		return capture.ErrNotRecording
	}

	m.mu.Lock()
	if m.processing {
		m.mu.Unlock()
		return fmt.Errorf("previous recording still processing")
	}
	m.processing = true
	m.mu.Unlock()

	// Stop converts both buffers to tracks; run it outside m.mu so the
	// append path stays unblocked. The recorder's own handoff guarantees
	// only the first concurrent Stop gets the buffers.
	mic, system, err := rec.Stop()
	if err != nil {
		m.mu.Lock()
		m.processing = false
		m.mu.Unlock()
		return err
	}
	if cbErr := rec.Err(); cbErr != nil {
		// The callback path never surfaces errors itself; inspect here.
		m.log.Warn().Err(cbErr).Msg("capture callback reported an error")
	}
	metrics.CaptureDroppedTotal.Add(float64(rec.Stats().DroppedCalls))

	orch := m.pipeline.NewChain()
	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.orch = orch
	m.cancelRun = cancel
	m.mu.Unlock()
	startedAt := rec.StartedAt()

	go func() {
		defer cancel()
		_, cerr := m.pipeline.Process(ctx, orch, mic, system, "live", startedAt)
		m.mu.Lock()
		m.processing = false
		m.mu.Unlock()
		if cerr != nil {
			m.log.Warn().Str("category", string(cerr.Category)).Msg(cerr.Message)
		}
	}()

	m.log.Info().Int64("duration_ms", mic.DurationMs()).Msg("recording stopped, processing")
	return nil
}

// Cancel aborts the in-flight chain, interrupting any backoff wait.
func (m *Manager) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.processing || m.cancelRun == nil {
		return fmt.Errorf("nothing to cancel")
	}
	m.cancelRun()
	return nil
}

// Resume answers an awaiting_user_action pause on the active chain.
func (m *Manager) Resume(d transcribe.Decision) error {
	m.mu.Lock()
	orch := m.orch
	m.mu.Unlock()
	if orch == nil {
		return fmt.Errorf("no active chain")
	}
	return orch.Resume(d)
}

// Status reports the current lifecycle snapshot.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{Processing: m.processing}
	if rec := m.rec.Load(); rec != nil {
		st.Recording = rec.Recording()
		stats := rec.Stats()
		st.Capture = &stats
	}
	if m.orch != nil {
		st.ChainState = m.orch.State()
		retry := m.orch.Retry()
		st.Retry = &retry
	}
	return st
}

// StartedAt exposes the active recording's start time, zero when idle.
func (m *Manager) StartedAt() time.Time {
	if rec := m.rec.Load(); rec != nil {
		return rec.StartedAt()
	}
	return time.Time{}
}
