package transcribe

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/xblabs/WhisperDog-sub003/internal/audio"
)

// fakeProvider replays a scripted sequence of results, one per call.
type fakeProvider struct {
	mu    sync.Mutex
	calls int
	steps []fakeStep
}

type fakeStep struct {
	resp *Response
	err  error
}

func (f *fakeProvider) Transcribe(ctx context.Context, payload []byte, opts TranscribeOpts) (*Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	step := f.steps[len(f.steps)-1]
	if f.calls < len(f.steps) {
		step = f.steps[f.calls]
	}
	f.calls++
	return step.resp, step.err
}

func (f *fakeProvider) Name() string  { return "fake" }
func (f *fakeProvider) Model() string { return "fake-1" }

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testPayload() []byte {
	samples := make([]int16, 8000)
	for i := range samples {
		samples[i] = int16(i % 1000)
	}
	return audio.EncodeWAV(&audio.Track{Samples: samples, SampleRate: 8000, Channels: 1, BitDepth: 16})
}

// newTestOrchestrator wires in a sleep that records delays instead of waiting.
func newTestOrchestrator(p Provider, opts Options) (*Orchestrator, *[]time.Duration) {
	o := New(p, opts, zerolog.Nop())
	delays := &[]time.Duration{}
	var mu sync.Mutex
	o.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		*delays = append(*delays, d)
		mu.Unlock()
		return nil
	}
	return o, delays
}

func drain(ch <-chan Progress) []Progress {
	var out []Progress
	for p := range ch {
		out = append(out, p)
	}
	return out
}

func TestRun_SuccessFirstAttempt(t *testing.T) {
	p := &fakeProvider{steps: []fakeStep{
		{resp: &Response{Text: "hello there", Duration: 1}},
	}}
	o, delays := newTestOrchestrator(p, Options{})

	resp, cerr := o.Run(context.Background(), testPayload())
	if cerr != nil {
		t.Fatalf("Run: %v", cerr)
	}
	if resp.Text != "hello there" {
		t.Errorf("Text = %q, want %q", resp.Text, "hello there")
	}
	if o.State() != StateSuccess {
		t.Errorf("state = %s, want success", o.State())
	}
	if p.callCount() != 1 {
		t.Errorf("provider calls = %d, want 1", p.callCount())
	}
	if len(*delays) != 0 {
		t.Errorf("backoff delays = %v, want none", *delays)
	}

	stages := drain(o.Progress())
	if len(stages) == 0 || stages[len(stages)-1].Stage != "done" {
		t.Errorf("final progress stage = %+v, want done", stages)
	}
}

func TestRun_TransientThenSuccess(t *testing.T) {
	p := &fakeProvider{steps: []fakeStep{
		{err: &HTTPError{StatusCode: 503}},
		{resp: &Response{Text: "recovered"}},
	}}
	o, delays := newTestOrchestrator(p, Options{BaseDelay: time.Second})

	resp, cerr := o.Run(context.Background(), testPayload())
	if cerr != nil {
		t.Fatalf("Run: %v", cerr)
	}
	if resp.Text != "recovered" {
		t.Errorf("Text = %q, want %q", resp.Text, "recovered")
	}
	if p.callCount() != 2 {
		t.Errorf("provider calls = %d, want 2", p.callCount())
	}
	if len(*delays) != 1 || (*delays)[0] != time.Second {
		t.Errorf("delays = %v, want [1s]", *delays)
	}
}

func TestRun_ExponentialBackoffAndExhaustion(t *testing.T) {
	p := &fakeProvider{steps: []fakeStep{
		{err: &HTTPError{StatusCode: 500}},
	}}
	o, delays := newTestOrchestrator(p, Options{MaxAttempts: 3, BaseDelay: time.Second})

	_, cerr := o.Run(context.Background(), testPayload())
	if cerr == nil {
		t.Fatal("Run succeeded, want permanent failure")
	}
	if cerr.Category != CategoryPermanent {
		t.Errorf("category = %s, want permanent", cerr.Category)
	}
	if o.State() != StateFailedPermanent {
		t.Errorf("state = %s, want failed_permanent", o.State())
	}
	if p.callCount() != 3 {
		t.Errorf("provider calls = %d, want exactly 3", p.callCount())
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(*delays) != len(want) {
		t.Fatalf("delays = %v, want %v", *delays, want)
	}
	for i := range want {
		if (*delays)[i] != want[i] {
			t.Errorf("delay %d = %s, want %s", i, (*delays)[i], want[i])
		}
	}
}

func TestRun_PermanentFailsImmediately(t *testing.T) {
	p := &fakeProvider{steps: []fakeStep{
		{err: &HTTPError{StatusCode: 401, Body: "bad key"}},
	}}
	o, delays := newTestOrchestrator(p, Options{})

	_, cerr := o.Run(context.Background(), testPayload())
	if cerr == nil || cerr.Category != CategoryPermanent {
		t.Fatalf("got %v, want permanent failure", cerr)
	}
	if p.callCount() != 1 {
		t.Errorf("provider calls = %d, want 1: permanent failures never retry", p.callCount())
	}
	if len(*delays) != 0 {
		t.Errorf("delays = %v, want none", *delays)
	}
}

func TestRun_ValidationFailureSkipsProvider(t *testing.T) {
	p := &fakeProvider{steps: []fakeStep{{resp: &Response{Text: "x"}}}}
	o, _ := newTestOrchestrator(p, Options{})

	_, cerr := o.Run(context.Background(), []byte("not audio"))
	if cerr == nil || cerr.Category != CategoryPermanent {
		t.Fatalf("got %v, want permanent failure", cerr)
	}
	if p.callCount() != 0 {
		t.Errorf("provider calls = %d, want 0", p.callCount())
	}
}

func TestRun_EmptyTranscriptAcceptEmpty(t *testing.T) {
	p := &fakeProvider{steps: []fakeStep{
		{resp: &Response{Text: "   "}},
	}}
	o, _ := newTestOrchestrator(p, Options{})

	type result struct {
		resp *Response
		cerr *ClassifiedError
	}
	done := make(chan result, 1)
	go func() {
		resp, cerr := o.Run(context.Background(), testPayload())
		done <- result{resp, cerr}
	}()

	waitForState(t, o, StateAwaitingUserAction)
	if err := o.Resume(DecisionAcceptEmpty); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	r := <-done
	if r.cerr != nil {
		t.Fatalf("Run: %v", r.cerr)
	}
	if r.resp.Text != "" {
		t.Errorf("Text = %q, want empty", r.resp.Text)
	}
	if o.State() != StateSuccess {
		t.Errorf("state = %s, want success", o.State())
	}
}

func TestRun_EmptyTranscriptRetryResetsBudget(t *testing.T) {
	p := &fakeProvider{steps: []fakeStep{
		{resp: &Response{}},
		{resp: &Response{Text: "speech after all"}},
	}}
	o, _ := newTestOrchestrator(p, Options{MaxAttempts: 1})

	done := make(chan *Response, 1)
	go func() {
		resp, _ := o.Run(context.Background(), testPayload())
		done <- resp
	}()

	waitForState(t, o, StateAwaitingUserAction)
	if err := o.Resume(DecisionRetry); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	resp := <-done
	if resp == nil || resp.Text != "speech after all" {
		t.Fatalf("resp = %+v, want retried transcript", resp)
	}
	// MaxAttempts=1 was already spent; a manual retry must get a fresh budget.
	if p.callCount() != 2 {
		t.Errorf("provider calls = %d, want 2", p.callCount())
	}
}

func TestRun_CancelDuringBackoff(t *testing.T) {
	p := &fakeProvider{steps: []fakeStep{
		{err: &HTTPError{StatusCode: 500}},
	}}
	o := New(p, Options{}, zerolog.Nop())
	o.sleep = func(ctx context.Context, d time.Duration) error {
		return context.Canceled
	}

	_, cerr := o.Run(context.Background(), testPayload())
	if cerr == nil {
		t.Fatal("Run succeeded, want cancellation")
	}
	if o.State() != StateCancelled {
		t.Errorf("state = %s, want cancelled", o.State())
	}
	if !o.Retry().Cancelled {
		t.Error("Retry().Cancelled = false, want true")
	}
}

func TestRun_CancelBeforeAttempt(t *testing.T) {
	p := &fakeProvider{steps: []fakeStep{{resp: &Response{Text: "x"}}}}
	o, _ := newTestOrchestrator(p, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, cerr := o.Run(ctx, testPayload())
	if cerr == nil {
		t.Fatal("Run succeeded on cancelled context")
	}
	if o.State() != StateCancelled {
		t.Errorf("state = %s, want cancelled", o.State())
	}
	if p.callCount() != 0 {
		t.Errorf("provider calls = %d, want 0", p.callCount())
	}
}

func TestRun_ChunkedAggregation(t *testing.T) {
	// 2s at 8kHz split into 1s chunks: two submissions, second shifted by 1s.
	samples := make([]int16, 16000)
	for i := range samples {
		samples[i] = int16(i % 512)
	}
	payload := audio.EncodeWAV(&audio.Track{Samples: samples, SampleRate: 8000, Channels: 1, BitDepth: 16})

	p := &fakeProvider{steps: []fakeStep{
		{resp: &Response{Text: "first part", Duration: 1,
			Words: []Word{{Word: "first", Start: 0.1, End: 0.4}, {Word: "part", Start: 0.5, End: 0.9}}}},
		{resp: &Response{Text: "second part", Duration: 1,
			Words: []Word{{Word: "second", Start: 0.2, End: 0.6}}}},
	}}
	o, _ := newTestOrchestrator(p, Options{
		Limits: Limits{SoftMaxBytes: 1000, ChunkSeconds: 1},
	})

	resp, cerr := o.Run(context.Background(), payload)
	if cerr != nil {
		t.Fatalf("Run: %v", cerr)
	}
	if resp.Text != "first part second part" {
		t.Errorf("Text = %q, want joined chunk texts", resp.Text)
	}
	if resp.Duration != 2 {
		t.Errorf("Duration = %f, want 2", resp.Duration)
	}
	if len(resp.Words) != 3 {
		t.Fatalf("words = %d, want 3", len(resp.Words))
	}
	if !nearly(resp.Words[2].Start, 1.2) || !nearly(resp.Words[2].End, 1.6) {
		t.Errorf("second chunk word = [%f, %f], want [1.2, 1.6]",
			resp.Words[2].Start, resp.Words[2].End)
	}
	if p.callCount() != 2 {
		t.Errorf("provider calls = %d, want 2", p.callCount())
	}
}

func TestResume_NotPaused(t *testing.T) {
	o, _ := newTestOrchestrator(&fakeProvider{steps: []fakeStep{{}}}, Options{})
	if err := o.Resume(DecisionRetry); err == nil {
		t.Error("Resume succeeded on a chain that is not paused")
	}
}

func TestState_Terminal(t *testing.T) {
	terminal := []State{StateSuccess, StateFailedPermanent, StateCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false, want true", s)
		}
	}
	for _, s := range []State{StateReady, StateAttempting, StateWaitingRetry, StateAwaitingUserAction} {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true, want false", s)
		}
	}
}

func nearly(a, b float64) bool {
	d := a - b
	return d < 1e-9 && d > -1e-9
}

func waitForState(t *testing.T, o *Orchestrator, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if o.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state never reached %s, stuck at %s", want, o.State())
}
