package models

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mynaparrot/plugnmeet-stt/pkg/config"
	"github.com/mynaparrot/plugnmeet-stt/pkg/metrics"
	"github.com/mynaparrot/plugnmeet-stt/pkg/pathguard"
	"github.com/mynaparrot/plugnmeet-stt/pkg/stt"
	"github.com/mynaparrot/plugnmeet-stt/pkg/stt/media"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

var errAlreadyConsumed = errors.New("transcription stream can only be consumed once")

type TranscriptionModel struct {
	app     *config.AppConfig
	manager *ModelManager
	guard   *pathguard.Guard
	decoder *media.Decoder
	// slots serializes inference on the shared handle; the decode stays concurrent.
	slots  *semaphore.Weighted
	logger *logrus.Entry
}

func NewTranscriptionModel(app *config.AppConfig, manager *ModelManager, guard *pathguard.Guard, decoder *media.Decoder, logger *logrus.Logger) *TranscriptionModel {
	return &TranscriptionModel{
		app:     app,
		manager: manager,
		guard:   guard,
		decoder: decoder,
		slots:   semaphore.NewWeighted(app.ModelSettings.MaxConcurrentInference),
		logger:  logger.WithField("model", "transcription"),
	}
}

// Transcribe returns the event stream for one audio file. Nothing happens
// until the sequence is ranged over, and it can be ranged over only once.
// Every stream ends with exactly one final or error event unless the
// consumer stops early.
func (m *TranscriptionModel) Transcribe(ctx context.Context, fileRef string, params *stt.TranscriptionParams) iter.Seq[*stt.Event] {
	var used atomic.Bool
	return func(yield func(*stt.Event) bool) {
		if !used.CompareAndSwap(false, true) {
			yield(stt.NewErrorEvent(errAlreadyConsumed.Error()))
			return
		}
		m.stream(ctx, fileRef, params, yield)
	}
}

func (m *TranscriptionModel) stream(ctx context.Context, fileRef string, params *stt.TranscriptionParams, yield func(*stt.Event) bool) {
	requestID := fmt.Sprintf("txn-%d", time.Now().UnixNano())
	log := m.logger.WithField("request_id", requestID)

	start := time.Now()
	outcome := metrics.OutcomeError
	defer func() {
		metrics.Transcriptions.WithLabelValues(outcome).Inc()
		metrics.TranscriptionSeconds.Observe(time.Since(start).Seconds())
	}()

	fail := func(err error) {
		if ctx.Err() != nil {
			outcome = metrics.OutcomeCancelled
		}
		log.WithError(err).Errorln("Stream error")
		yield(stt.NewErrorEvent(err.Error()))
	}

	path, err := m.resolve(fileRef)
	if err != nil {
		fail(err)
		return
	}

	// the file exists from here on, so it is removed on every way out
	cleanup := sync.OnceFunc(func() {
		m.cleanupAudio(log, path)
	})
	defer cleanup()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	log.Infof("Decoding audio from: %s", path)
	samples, err := m.decoder.Decode(runCtx, path)
	if err != nil {
		fail(fmt.Errorf("%w: %w", stt.ErrDecode, err))
		return
	}

	// the engine input is written here so nothing touches the disk under the lifecycle lock
	audio, err := prepareAudio(samples)
	if err != nil {
		fail(fmt.Errorf("%w: %w", stt.ErrDecode, err))
		return
	}
	defer func() {
		_ = os.RemoveAll(filepath.Dir(audio.Path))
	}()

	if err = m.slots.Acquire(runCtx, 1); err != nil {
		fail(err)
		return
	}
	defer m.slots.Release(1)

	var (
		run       stt.Run
		effective *stt.TranscriptionParams
	)
	err = m.manager.WithLoadedModel(runCtx, func(model stt.Model) error {
		p, err := normalizeParams(model, params)
		if err != nil {
			return err
		}
		r, err := model.Transcribe(runCtx, audio, p)
		if err != nil {
			return err
		}
		run, effective = r, p
		return nil
	})
	if err != nil {
		fail(err)
		return
	}
	defer run.Close()

	info, err := run.Info(runCtx)
	if err != nil {
		fail(fmt.Errorf("%w: %w", stt.ErrStreamError, err))
		return
	}
	if info.Duration == 0 {
		info.Duration = float64(len(audio.Samples)) / config.SampleRate
	}
	info.TranscriptionOptions = effective
	info.VADOptions = effective.EffectiveVAD()
	if !yield(stt.NewInfoEvent(info)) {
		outcome = metrics.OutcomeCancelled
		return
	}

	segments := 0
	for seg, err := range run.Segments(runCtx) {
		if err != nil {
			fail(fmt.Errorf("%w: %w", stt.ErrStreamError, err))
			return
		}
		segments++
		metrics.SegmentsEmitted.Inc()
		if !yield(stt.NewSegmentEvent(seg)) {
			outcome = metrics.OutcomeCancelled
			return
		}
	}

	outcome = metrics.OutcomeCompleted
	log.Infof("Transcription finished with %d segments in %.2fs", segments, time.Since(start).Seconds())
	yield(stt.NewFinalEvent(config.TranscriptionComplete))
}

// prepareAudio writes samples to a WAV file in a fresh temp dir. The caller
// removes the dir.
func prepareAudio(samples []float32) (*stt.Audio, error) {
	dir, err := os.MkdirTemp("", "stt-audio-")
	if err != nil {
		return nil, err
	}
	wavPath := filepath.Join(dir, "input.wav")
	if err = media.WriteWAVFile(wavPath, samples, config.SampleRate); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	return &stt.Audio{Samples: samples, Path: wavPath}, nil
}

func (m *TranscriptionModel) resolve(fileRef string) (string, error) {
	path, err := m.guard.Resolve(fileRef)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("Audio file not found: %s", path)
		}
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("Audio file not found: %s", path)
	}
	return path, nil
}

func (m *TranscriptionModel) cleanupAudio(log *logrus.Entry, path string) {
	if !m.app.AudioSettings.ShouldCleanupAudio() {
		return
	}
	log.Infof("Cleaning up source audio: %s", path)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.WithError(err).Warnf("could not remove %s", path)
	}
}

// normalizeParams expands the non-speech sentinel in suppress_tokens into the
// model's own token ids. params is never modified.
func normalizeParams(model stt.Model, params *stt.TranscriptionParams) (*stt.TranscriptionParams, error) {
	p := params.Clone()
	if !slices.Contains(p.SuppressTokens, stt.SuppressNonSpeech) {
		return p, nil
	}

	nonSpeech, err := model.NonSpeechTokens()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", stt.ErrParameterProcessing, err)
	}

	ids := make([]int, 0, len(nonSpeech)+len(p.SuppressTokens))
	ids = append(ids, nonSpeech...)
	for _, id := range p.SuppressTokens {
		if id >= 0 {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	p.SuppressTokens = slices.Compact(ids)
	return p, nil
}
