package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/xblabs/WhisperDog-sub003/internal/audio"
)

// Importer watches a drop directory for finished WAV recordings and runs
// them through the same pipeline as live sessions. A stereo file is
// treated as mic on the left channel and loopback on the right; a mono
// file is processed as a single-track recording.
type Importer struct {
	pipeline  *Pipeline
	importDir string
	log       zerolog.Logger

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Debounce: coalesce rapid Create+Write events on the same file.
	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer
	stopped        bool
}

const importDebounce = 500 * time.Millisecond

// NewImporter creates a watcher for importDir.
func NewImporter(pipeline *Pipeline, importDir string, log zerolog.Logger) *Importer {
	return &Importer{
		pipeline:       pipeline,
		importDir:      importDir,
		log:            log.With().Str("component", "importer").Logger(),
		debounceTimers: make(map[string]*time.Timer),
	}
}

// Start begins watching. Files already present are not backfilled; the
// directory is a live drop box.
func (im *Importer) Start() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(im.importDir); err != nil {
		w.Close()
		return err
	}
	im.watcher = w

	ctx, cancel := context.WithCancel(context.Background())
	im.cancel = cancel

	im.wg.Add(1)
	go im.loop(ctx)
	im.log.Info().Str("dir", im.importDir).Msg("import watcher started")
	return nil
}

// Stop shuts the watcher down, discards pending debounce timers, and
// waits for in-flight imports.
func (im *Importer) Stop() {
	if im.cancel != nil {
		im.cancel()
	}
	if im.watcher != nil {
		im.watcher.Close()
	}

	// Mark stopped under the debounce lock so no timer that fires from
	// here on can add to the wait group.
	im.debounceMu.Lock()
	im.stopped = true
	for path, t := range im.debounceTimers {
		t.Stop()
		delete(im.debounceTimers, path)
	}
	im.debounceMu.Unlock()

	im.wg.Wait()
}

func (im *Importer) loop(ctx context.Context) {
	defer im.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-im.watcher.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !strings.EqualFold(filepath.Ext(ev.Name), ".wav") {
				continue
			}
			im.debounce(ctx, ev.Name)
		case err, ok := <-im.watcher.Errors:
			if !ok {
				return
			}
			im.log.Warn().Err(err).Msg("watcher error")
		}
	}
}

// debounce schedules processing once writes to the file settle.
func (im *Importer) debounce(ctx context.Context, path string) {
	im.debounceMu.Lock()
	defer im.debounceMu.Unlock()
	if im.stopped {
		return
	}
	if t, ok := im.debounceTimers[path]; ok {
		t.Stop()
	}
	im.debounceTimers[path] = time.AfterFunc(importDebounce, func() {
		// The wait-group add happens under the debounce lock, ordered
		// against Stop: after Stop has run, a late timer returns here
		// instead of racing wg.Add against wg.Wait.
		im.debounceMu.Lock()
		if im.stopped {
			im.debounceMu.Unlock()
			return
		}
		delete(im.debounceTimers, path)
		im.wg.Add(1)
		im.debounceMu.Unlock()

		defer im.wg.Done()
		im.process(ctx, path)
	})
}

func (im *Importer) process(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		im.log.Warn().Err(err).Str("file", path).Msg("read import file")
		return
	}
	track, err := audio.DecodeWAV(data)
	if err != nil {
		im.log.Warn().Err(err).Str("file", path).Msg("not a decodable WAV, skipping")
		return
	}

	var mic, system *audio.Track
	if track.Channels == 2 {
		mic, system, err = audio.SplitStereo(track)
		if err != nil {
			im.log.Warn().Err(err).Str("file", path).Msg("split stereo")
			return
		}
	} else {
		mic = track
	}

	info, err := os.Stat(path)
	startedAt := time.Now()
	if err == nil {
		startedAt = info.ModTime()
	}

	im.log.Info().Str("file", path).Int64("duration_ms", track.DurationMs()).Msg("importing recording")
	orch := im.pipeline.NewChain()
	if _, cerr := im.pipeline.Process(ctx, orch, mic, system, "import", startedAt); cerr != nil {
		im.log.Warn().Str("file", path).Str("category", string(cerr.Category)).Msg(cerr.Message)
	}
}
