// Package capture owns the two live audio buffers while a recording is in
// progress and hands them off as immutable tracks when it stops.
package capture

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xblabs/WhisperDog-sub003/internal/audio"
)

// ErrNotRecording is returned by Stop when no recording is active.
var ErrNotRecording = errors.New("capture: not recording")

// Stream identifies which capture source a callback feeds.
type Stream int

const (
	StreamMic Stream = iota
	StreamSystem
)

// Stats are diagnostic counters for the capture path. All fields are
// maintained with atomic increments because the append side runs on the
// platform audio callback.
type Stats struct {
	MicBytes     int64 `json:"mic_bytes"`
	SystemBytes  int64 `json:"system_bytes"`
	DroppedCalls int64 `json:"dropped_calls"`
}

// Recorder accumulates raw PCM bytes for the microphone and loopback
// streams. The Append methods are the only thing the platform audio
// callback is allowed to touch: they never block on consumer-held locks,
// never panic across the callback boundary, and record failures in an
// atomic flag for later inspection. Ownership of the buffers transfers
// exactly once, on Stop.
type Recorder struct {
	sampleRate int
	channels   int
	bitDepth   int

	mic    *streamBuffer
	system *streamBuffer

	recording atomic.Bool
	stopped   atomic.Bool
	startedAt time.Time

	micBytes    atomic.Int64
	systemBytes atomic.Int64
	dropped     atomic.Int64
	callbackErr atomic.Pointer[error]
}

// streamBuffer holds one stream's bytes. Its mutex is only ever held by
// the single callback writer and, once the recording flag is down, by
// Stop taking ownership; consumers never touch it mid-recording.
type streamBuffer struct {
	mu  sync.Mutex
	buf []byte
}

// NewRecorder creates a recorder for the given PCM format. Buffers are
// preallocated for roughly a minute of audio to keep callback-path
// allocations rare.
func NewRecorder(sampleRate, channels, bitDepth int) *Recorder {
	prealloc := sampleRate * channels * bitDepth / 8 * 60
	return &Recorder{
		sampleRate: sampleRate,
		channels:   channels,
		bitDepth:   bitDepth,
		mic:        &streamBuffer{buf: make([]byte, 0, prealloc)},
		system:     &streamBuffer{buf: make([]byte, 0, prealloc)},
	}
}

// Start arms the recorder. Appends before Start are dropped.
func (r *Recorder) Start() {
	r.startedAt = time.Now()
	r.recording.Store(true)
}

// StartedAt returns the shared start timestamp of both streams.
func (r *Recorder) StartedAt() time.Time { return r.startedAt }

// Append adds raw PCM bytes to the given stream. Safe to call from the
// platform audio callback: bytes arriving outside an active recording
// are counted as dropped rather than failing, and any internal panic is
// converted into the error flag instead of unwinding into the caller.
func (r *Recorder) Append(s Stream, b []byte) {
	defer func() {
		if rv := recover(); rv != nil {
			err := fmt.Errorf("capture append panic: %v", rv)
			r.callbackErr.Store(&err)
		}
	}()

	if !r.recording.Load() || len(b) == 0 {
		if len(b) > 0 {
			r.dropped.Add(1)
		}
		return
	}

	sb := r.mic
	counter := &r.micBytes
	if s == StreamSystem {
		sb = r.system
		counter = &r.systemBytes
	}

	sb.mu.Lock()
	sb.buf = append(sb.buf, b...)
	sb.mu.Unlock()
	counter.Add(int64(len(b)))
}

// Err returns the first error observed on the callback path, if any.
func (r *Recorder) Err() error {
	if p := r.callbackErr.Load(); p != nil {
		return *p
	}
	return nil
}

// Stats returns a snapshot of the diagnostic counters.
func (r *Recorder) Stats() Stats {
	return Stats{
		MicBytes:     r.micBytes.Load(),
		SystemBytes:  r.systemBytes.Load(),
		DroppedCalls: r.dropped.Load(),
	}
}

// Recording reports whether the recorder currently accepts appends.
func (r *Recorder) Recording() bool { return r.recording.Load() }

// Stop ends the recording and transfers ownership of both buffers to the
// caller as immutable tracks. Only the first Stop succeeds; later calls
// return ErrNotRecording. Appends that race with Stop are dropped.
func (r *Recorder) Stop() (mic, system *audio.Track, err error) {
	if !r.stopped.CompareAndSwap(false, true) {
		return nil, nil, ErrNotRecording
	}
	r.recording.Store(false)

	micBytes := r.take(r.mic)
	sysBytes := r.take(r.system)

	mic, err = audio.NewTrack(trimToFrame(micBytes, r.channels), r.sampleRate, r.channels, r.bitDepth)
	if err != nil {
		return nil, nil, fmt.Errorf("mic track: %w", err)
	}
	system, err = audio.NewTrack(trimToFrame(sysBytes, r.channels), r.sampleRate, r.channels, r.bitDepth)
	if err != nil {
		return nil, nil, fmt.Errorf("system track: %w", err)
	}
	return mic, system, nil
}

// take detaches a stream's buffer. The recording flag is already down so
// the lock is uncontended except for a final in-flight append.
func (r *Recorder) take(sb *streamBuffer) []byte {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	b := sb.buf
	sb.buf = nil
	return b
}

// trimToFrame drops a trailing partial frame left by an interrupted
// callback delivery.
func trimToFrame(b []byte, channels int) []byte {
	frameSize := 2 * channels
	return b[:len(b)-len(b)%frameSize]
}
