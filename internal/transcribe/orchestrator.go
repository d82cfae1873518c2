package transcribe

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/xblabs/WhisperDog-sub003/internal/metrics"
)

// State names a position in the per-chain state machine:
//
//	ready -> attempting -> success
//	                    -> waiting_retry         -> attempting
//	                    -> awaiting_user_action  -> attempting (resume)
//	                    -> failed_permanent
//	cancelled is reachable from any non-terminal state.
type State string

const (
	StateReady              State = "ready"
	StateAttempting         State = "attempting"
	StateWaitingRetry       State = "waiting_retry"
	StateAwaitingUserAction State = "awaiting_user_action"
	StateSuccess            State = "success"
	StateFailedPermanent    State = "failed_permanent"
	StateCancelled          State = "cancelled"
)

// Terminal reports whether the chain can make no further progress.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateFailedPermanent || s == StateCancelled
}

// Decision is the external answer to an awaiting_user_action pause.
type Decision int

const (
	// DecisionRetry restarts the attempt chain with a fresh budget.
	DecisionRetry Decision = iota
	// DecisionAcceptEmpty accepts the empty transcript as the result.
	DecisionAcceptEmpty
)

// RetryState is the bookkeeping for one attempt chain. Mutated only by
// the orchestrator goroutine; snapshots are safe to hand out.
type RetryState struct {
	Attempt     int       `json:"attempt"`
	MaxAttempts int       `json:"max_attempts"`
	LastError   string    `json:"last_error,omitempty"`
	NextRetryAt time.Time `json:"next_retry_at"`
	Cancelled   bool      `json:"cancelled"`
}

// Progress is one ordered notification from a running chain.
type Progress struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
	Chunk   int    `json:"chunk,omitempty"`
	Chunks  int    `json:"chunks,omitempty"`
	Attempt int    `json:"attempt,omitempty"`
}

// Options configure an orchestrator.
type Options struct {
	MaxAttempts int // per chunk, default 3
	BaseDelay   time.Duration
	Limits      Limits
	Transcribe  TranscribeOpts
}

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = time.Second
)

// Orchestrator validates, chunks, and submits one audio payload to a
// provider, retrying transient failures with exponential backoff. Each
// orchestrator runs exactly one chain: Run delivers exactly one terminal
// result and progress notifications in emission order.
type Orchestrator struct {
	provider Provider
	opts     Options
	log      zerolog.Logger

	mu    sync.Mutex
	state State
	retry RetryState

	progress  chan Progress
	decisions chan Decision

	// sleep is swapped out by tests to observe backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an orchestrator for a single transcription chain.
func New(provider Provider, opts Options, log zerolog.Logger) *Orchestrator {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = defaultBaseDelay
	}
	return &Orchestrator{
		provider:  provider,
		opts:      opts,
		log:       log,
		state:     StateReady,
		retry:     RetryState{MaxAttempts: opts.MaxAttempts},
		progress:  make(chan Progress, 64),
		decisions: make(chan Decision, 1),
		sleep:     sleepCtx,
	}
}

// Progress returns the ordered notification stream. Closed after the
// terminal result is decided.
func (o *Orchestrator) Progress() <-chan Progress { return o.progress }

// State returns the chain's current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Retry returns a snapshot of the chain's retry bookkeeping.
func (o *Orchestrator) Retry() RetryState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.retry
}

// Resume answers an awaiting_user_action pause. Returns an error when
// the chain is not paused.
func (o *Orchestrator) Resume(d Decision) error {
	o.mu.Lock()
	paused := o.state == StateAwaitingUserAction
	o.mu.Unlock()
	if !paused {
		return fmt.Errorf("chain is not awaiting a decision")
	}
	select {
	case o.decisions <- d:
		return nil
	default:
		return fmt.Errorf("decision already submitted")
	}
}

// Run executes the chain: validate, split, submit each chunk in order
// with retry, aggregate. Cancellation via ctx is cooperative and
// interrupts in-flight backoff waits. Run must be called exactly once.
func (o *Orchestrator) Run(ctx context.Context, payload []byte) (*Response, *ClassifiedError) {
	defer close(o.progress)

	if cerr := Validate(payload, o.opts.Limits); cerr != nil {
		return nil, o.fail(cerr)
	}

	chunks, err := Split(payload, o.opts.Limits)
	if err != nil {
		return nil, o.fail(&ClassifiedError{
			Category: CategoryPermanent,
			Message:  "could not split recording for submission",
			Err:      err,
		})
	}
	if len(chunks) > 1 {
		metrics.TranscribeChunksTotal.Add(float64(len(chunks)))
		o.emit(Progress{Stage: "chunking", Chunks: len(chunks),
			Message: fmt.Sprintf("recording split into %d chunks", len(chunks))})
	}

	results := make([]*Response, len(chunks))
	for _, chunk := range chunks {
		resp, cerr := o.submitChunk(ctx, chunk, len(chunks))
		if cerr != nil {
			return nil, cerr
		}
		results[chunk.Index] = resp
	}

	final := aggregate(chunks, results)
	o.setState(StateSuccess)
	o.emit(Progress{Stage: "done", Message: "transcription complete"})
	metrics.TranscribeChainsTotal.WithLabelValues("success").Inc()
	return final, nil
}

// submitChunk drives the retry loop for one chunk. A chunk failing
// permanently (including retry exhaustion) fails the whole chain; partial
// results are never silently dropped.
func (o *Orchestrator) submitChunk(ctx context.Context, chunk Chunk, totalChunks int) (*Response, *ClassifiedError) {
	attempt := 0
	for {
		attempt++
		o.startAttempt(attempt)
		o.emit(Progress{Stage: "attempting", Chunk: chunk.Index + 1, Chunks: totalChunks, Attempt: attempt,
			Message: fmt.Sprintf("submitting chunk %d/%d (attempt %d/%d)",
				chunk.Index+1, totalChunks, attempt, o.opts.MaxAttempts)})

		if err := ctx.Err(); err != nil {
			return nil, o.cancelled()
		}

		resp, err := o.provider.Transcribe(ctx, chunk.Data, o.opts.Transcribe)
		if err == nil && isEmpty(resp) {
			err = ErrEmptyTranscript
		}
		if err == nil {
			metrics.TranscribeAttemptsTotal.WithLabelValues(o.provider.Name(), "success").Inc()
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, o.cancelled()
		}

		cerr := Classify(err)
		metrics.TranscribeAttemptsTotal.WithLabelValues(o.provider.Name(), string(cerr.Category)).Inc()
		o.recordError(cerr)

		switch cerr.Category {
		case CategoryPermanent:
			return nil, o.fail(cerr)

		case CategoryUserAction:
			decision, derr := o.awaitDecision(ctx)
			if derr != nil {
				return nil, derr
			}
			if decision == DecisionAcceptEmpty {
				o.emit(Progress{Stage: "accepted_empty", Chunk: chunk.Index + 1,
					Message: "empty transcript accepted"})
				return &Response{}, nil
			}
			// Manual retry resets the automatic attempt budget.
			attempt = 0
			continue

		default: // transient, unknown
			if cerr.Category == CategoryUnknown {
				o.log.Warn().Err(cerr.Err).Msg("unclassified transcription failure, retrying")
			}
			if attempt >= o.opts.MaxAttempts {
				exhausted := &ClassifiedError{
					Category: CategoryPermanent,
					Message:  fmt.Sprintf("transcription failed after %d attempts", attempt),
					Err:      cerr.Err,
				}
				return nil, o.fail(exhausted)
			}
			delay := o.opts.BaseDelay << (attempt - 1)
			o.scheduleRetry(delay)
			o.emit(Progress{Stage: "waiting_retry", Chunk: chunk.Index + 1, Attempt: attempt,
				Message: fmt.Sprintf("retrying in %s", delay)})
			metrics.TranscribeRetriesTotal.Inc()
			metrics.TranscribeBackoffSeconds.Observe(delay.Seconds())
			if err := o.sleep(ctx, delay); err != nil {
				return nil, o.cancelled()
			}
		}
	}
}

// awaitDecision parks the chain until Resume or cancellation.
func (o *Orchestrator) awaitDecision(ctx context.Context) (Decision, *ClassifiedError) {
	o.setState(StateAwaitingUserAction)
	o.emit(Progress{Stage: "awaiting_user_action",
		Message: "empty transcript: waiting for retry or accept"})
	select {
	case d := <-o.decisions:
		return d, nil
	case <-ctx.Done():
		return 0, o.cancelled()
	}
}

func (o *Orchestrator) startAttempt(attempt int) {
	o.mu.Lock()
	o.state = StateAttempting
	o.retry.Attempt = attempt
	o.retry.NextRetryAt = time.Time{}
	o.mu.Unlock()
}

func (o *Orchestrator) scheduleRetry(delay time.Duration) {
	o.mu.Lock()
	o.state = StateWaitingRetry
	o.retry.NextRetryAt = time.Now().Add(delay)
	o.mu.Unlock()
}

func (o *Orchestrator) recordError(cerr *ClassifiedError) {
	o.mu.Lock()
	o.retry.LastError = cerr.Error()
	o.mu.Unlock()
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

func (o *Orchestrator) fail(cerr *ClassifiedError) *ClassifiedError {
	o.mu.Lock()
	o.state = StateFailedPermanent
	o.retry.LastError = cerr.Error()
	o.mu.Unlock()
	o.emit(Progress{Stage: "failed", Message: cerr.Message})
	metrics.TranscribeChainsTotal.WithLabelValues("failed_permanent").Inc()
	o.log.Error().Err(cerr.Err).Str("category", string(cerr.Category)).Msg("transcription chain failed")
	return cerr
}

func (o *Orchestrator) cancelled() *ClassifiedError {
	o.mu.Lock()
	o.state = StateCancelled
	o.retry.Cancelled = true
	o.mu.Unlock()
	o.emit(Progress{Stage: "cancelled", Message: "transcription cancelled"})
	metrics.TranscribeChainsTotal.WithLabelValues("cancelled").Inc()
	return &ClassifiedError{Category: CategoryPermanent, Message: "transcription cancelled", Err: context.Canceled}
}

// emit delivers a progress notification without ever blocking the chain.
func (o *Orchestrator) emit(p Progress) {
	select {
	case o.progress <- p:
	default:
	}
}

// isEmpty reports a structurally valid response carrying no speech.
func isEmpty(r *Response) bool {
	return r == nil || (strings.TrimSpace(r.Text) == "" && len(r.Words) == 0)
}

// aggregate concatenates chunk results in strict temporal order, shifting
// word timestamps by each chunk's start offset.
func aggregate(chunks []Chunk, results []*Response) *Response {
	if len(results) == 1 {
		return results[0]
	}
	var texts []string
	out := &Response{}
	for i, r := range results {
		if r == nil {
			continue
		}
		if t := strings.TrimSpace(r.Text); t != "" {
			texts = append(texts, t)
		}
		if out.Language == "" {
			out.Language = r.Language
		}
		out.Duration += r.Duration
		for _, w := range r.Words {
			out.Words = append(out.Words, Word{
				Word:  w.Word,
				Start: w.Start + chunks[i].StartSec,
				End:   w.End + chunks[i].StartSec,
			})
		}
	}
	out.Text = strings.Join(texts, " ")
	return out
}

// sleepCtx waits for d, returning early with ctx's error on cancellation.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
