package models

import (
	"context"
	"errors"
	"iter"
	"os"
	"sync"
	"sync/atomic"

	"github.com/mynaparrot/plugnmeet-stt/pkg/stt"
)

// fakeEngine records every handle it builds so tests can count live ones.
type fakeEngine struct {
	mu     sync.Mutex
	loads  int
	failOn string
	models []*fakeModel

	// shared by every model built after it is set
	gate         chan struct{}
	segments     int
	failAt       int
	nonSpeechErr error

	active    atomic.Int32
	maxActive atomic.Int32
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{segments: 3}
}

func (e *fakeEngine) Name() string {
	return "fake"
}

func (e *fakeEngine) Load(_ context.Context, cfg *stt.ModelConfig) (stt.Model, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loads++
	if cfg.ModelSizeOrPath == e.failOn {
		return nil, errors.New("weights are corrupt")
	}
	m := &fakeModel{engine: e, name: cfg.ModelSizeOrPath}
	e.models = append(e.models, m)
	return m, nil
}

func (e *fakeEngine) loadCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loads
}

// openHandles counts handles that were built and never closed.
func (e *fakeEngine) openHandles() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var open []string
	for _, m := range e.models {
		if !m.closed.Load() {
			open = append(open, m.name)
		}
	}
	return open
}

type fakeModel struct {
	engine     *fakeEngine
	name       string
	closed     atomic.Bool
	mu         sync.Mutex
	lastParams *stt.TranscriptionParams
	// lastWAV is the input path handed over and whether it was on disk by then
	lastWAV  string
	wavReady bool
}

func (m *fakeModel) NonSpeechTokens() ([]int, error) {
	if m.engine.nonSpeechErr != nil {
		return nil, m.engine.nonSpeechErr
	}
	return []int{50, 7, 12}, nil
}

func (m *fakeModel) Transcribe(_ context.Context, audio *stt.Audio, params *stt.TranscriptionParams) (stt.Run, error) {
	if m.closed.Load() {
		return nil, stt.ErrModelClosed
	}
	_, statErr := os.Stat(audio.Path)
	m.mu.Lock()
	m.lastParams = params
	m.lastWAV, m.wavReady = audio.Path, statErr == nil
	m.mu.Unlock()

	n := m.engine.active.Add(1)
	for {
		cur := m.engine.maxActive.Load()
		if n <= cur || m.engine.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}
	return &fakeRun{engine: m.engine, samples: len(audio.Samples)}, nil
}

func (m *fakeModel) wav() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastWAV, m.wavReady
}

func (m *fakeModel) params() *stt.TranscriptionParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastParams
}

func (m *fakeModel) Close() error {
	m.closed.Store(true)
	return nil
}

type fakeRun struct {
	engine  *fakeEngine
	samples int
	closed  atomic.Bool
}

func (r *fakeRun) Info(context.Context) (*stt.Info, error) {
	return &stt.Info{Language: "en", LanguageProbability: 0.98}, nil
}

func (r *fakeRun) Segments(ctx context.Context) iter.Seq2[*stt.Segment, error] {
	return func(yield func(*stt.Segment, error) bool) {
		for i := 1; i <= r.engine.segments; i++ {
			if r.engine.gate != nil {
				select {
				case <-r.engine.gate:
				case <-ctx.Done():
					yield(nil, ctx.Err())
					return
				}
			}
			if i == r.engine.failAt {
				yield(nil, errors.New("decoder state exploded"))
				return
			}
			seg := &stt.Segment{ID: i, Start: float64(i - 1), End: float64(i), Text: " word", Tokens: []int{}}
			if !yield(seg, nil) {
				return
			}
		}
	}
}

func (r *fakeRun) Close() error {
	if r.closed.CompareAndSwap(false, true) {
		r.engine.active.Add(-1)
	}
	return nil
}
