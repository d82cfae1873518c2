// Package session glues the core stages together: a stopped recording is
// silence-edited, merged, transcribed, labeled, persisted, and archived.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/xblabs/WhisperDog-sub003/internal/audio"
	"github.com/xblabs/WhisperDog-sub003/internal/classify"
	"github.com/xblabs/WhisperDog-sub003/internal/config"
	"github.com/xblabs/WhisperDog-sub003/internal/events"
	"github.com/xblabs/WhisperDog-sub003/internal/history"
	"github.com/xblabs/WhisperDog-sub003/internal/label"
	"github.com/xblabs/WhisperDog-sub003/internal/metrics"
	"github.com/xblabs/WhisperDog-sub003/internal/silence"
	"github.com/xblabs/WhisperDog-sub003/internal/storage"
	"github.com/xblabs/WhisperDog-sub003/internal/transcribe"
)

// Pipeline runs the post-recording stages. One Pipeline serves the whole
// process; each recording gets its own attempt chain.
type Pipeline struct {
	cfg      *config.Config
	provider transcribe.Provider
	store    *history.Store
	archive  storage.Store
	bus      *events.Bus
	log      zerolog.Logger
}

// NewPipeline wires the pipeline's collaborators. archive and store may
// be nil in tests.
func NewPipeline(cfg *config.Config, provider transcribe.Provider, store *history.Store, archive storage.Store, bus *events.Bus, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		provider: provider,
		store:    store,
		archive:  archive,
		bus:      bus,
		log:      log.With().Str("component", "pipeline").Logger(),
	}
}

// NewChain builds a fresh orchestrator for one recording.
func (p *Pipeline) NewChain() *transcribe.Orchestrator {
	return transcribe.New(p.provider, transcribe.Options{
		MaxAttempts: p.cfg.MaxAttempts,
		Limits: transcribe.Limits{
			HardMaxBytes: p.cfg.HardMaxBytes,
			SoftMaxBytes: p.cfg.ChunkThreshold,
			ChunkSeconds: p.cfg.ChunkSeconds,
		},
		Transcribe: transcribe.TranscribeOpts{
			Temperature: p.cfg.Temperature,
			Language:    p.cfg.Language,
		},
	}, p.log)
}

// Process takes ownership of the two stopped tracks and drives them to a
// terminal result. The silence edit is an optimization only: its failure
// degrades to submitting the unedited tracks. Exactly one terminal
// session row is produced per call.
func (p *Pipeline) Process(ctx context.Context, orch *transcribe.Orchestrator, mic, system *audio.Track, source string, startedAt time.Time) (*history.Session, *transcribe.ClassifiedError) {
	go p.forwardProgress(orch)

	sess := &history.Session{
		StartedAt: startedAt,
		Source:    source,
		Provider:  p.provider.Name(),
		ModelName: p.provider.Model(),
	}

	// 1. Shrink shared silence. Never a correctness requirement.
	editedMic, editedSystem := mic, system
	if !p.cfg.SkipSilenceEdit {
		res := silence.Edit(mic, system, silence.Options{
			MicThreshold:    p.cfg.MicSilenceThreshold,
			SystemThreshold: p.cfg.SystemSilenceThreshold,
			MinSilenceMs:    p.cfg.MinSilenceMs,
		})
		if res.Processed {
			editedMic, editedSystem = res.Mic, res.System
			sess.Edited = true
			sess.RegionsRemoved = res.RegionsRemoved
			sess.MsRemoved = res.MsRemoved
			metrics.SilenceRemovedMs.Observe(float64(res.MsRemoved))
			p.log.Info().Int("regions", res.RegionsRemoved).Int64("ms_removed", res.MsRemoved).
				Msg("common silence removed")
		}
	}
	sess.DurationMs = editedMic.DurationMs()

	// 2. Classify on the edited timeline so segment boundaries line up
	// with the word timestamps the provider will return.
	segments := classify.Classify(editedMic, editedSystem, classify.Options{
		IntervalMs:        p.cfg.ClassifyIntervalMs,
		ActivityThreshold: p.cfg.ActivityThreshold,
		DominanceRatio:    p.cfg.DominanceRatio,
	})

	// 3. Merge into one submission payload.
	merged, err := audio.MixdownMono(editedMic, editedSystem)
	if err != nil {
		// Mismatched formats: fall back to the microphone track alone.
		p.log.Warn().Err(err).Msg("mixdown failed, submitting mic track only")
		merged = editedMic
	}
	payload := audio.EncodeWAV(merged)

	// 4. Submit with retry/chunking.
	resp, cerr := orch.Run(ctx, payload)
	if cerr != nil {
		sess.Status = string(orch.State())
		sess.ErrorMessage = cerr.Message
		p.persist(sess)
		p.publish("session_failed", sess)
		metrics.SessionsTotal.WithLabelValues("failed").Inc()
		return sess, cerr
	}

	// 5. Label words with the activity timeline.
	transcript := label.Label(resp, segments)
	sess.Status = string(transcribe.StateSuccess)
	if err := sess.SetTranscript(transcript); err != nil {
		p.log.Error().Err(err).Msg("encode transcript")
	}

	// 6. Archive the submitted audio alongside the transcript.
	if p.archive != nil {
		key := archiveKey(startedAt)
		if err := p.archive.Save(ctx, key, payload, "audio/wav"); err != nil {
			p.log.Warn().Err(err).Str("key", key).Msg("archive recording failed")
		} else {
			sess.ArchiveKey = key
		}
	}

	p.persist(sess)
	p.publish("session_complete", sess)
	metrics.SessionsTotal.WithLabelValues("success").Inc()
	p.log.Info().Int("words", sess.WordCount).Int64("duration_ms", sess.DurationMs).
		Str("provider", sess.Provider).Msg("session complete")
	return sess, nil
}

// forwardProgress relays orchestrator progress onto the event bus in
// emission order until the chain closes its stream.
func (p *Pipeline) forwardProgress(orch *transcribe.Orchestrator) {
	for prog := range orch.Progress() {
		p.publish("progress", prog)
	}
}

func (p *Pipeline) persist(sess *history.Session) {
	if p.store == nil {
		return
	}
	if err := p.store.Save(sess); err != nil {
		p.log.Error().Err(err).Msg("persist session")
	}
}

func (p *Pipeline) publish(eventType string, payload any) {
	if p.bus != nil {
		p.bus.Publish(eventType, payload)
	}
}

func archiveKey(startedAt time.Time) string {
	return fmt.Sprintf("%s/session-%d.wav", startedAt.UTC().Format("2006/01/02"), startedAt.UnixMilli())
}
