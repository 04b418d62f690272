// Package whispercpp runs ggml whisper models through the whisper.cpp command line tool.
package whispercpp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cavaliergopher/grab/v3"
	"github.com/mynaparrot/plugnmeet-stt/pkg/config"
	"github.com/mynaparrot/plugnmeet-stt/pkg/stt"
	"github.com/sirupsen/logrus"
)

const Name = config.EngineWhisperCpp

var modelNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

type Engine struct {
	binaryPath  string
	downloadURL string
	cacheDir    string
	vadModel    string
	client      *grab.Client
	logger      *logrus.Entry
}

func NewEngine(app *config.AppConfig, logger *logrus.Logger) *Engine {
	client := grab.NewClient()
	client.UserAgent = "plugnmeet-stt"

	return &Engine{
		binaryPath:  app.ModelSettings.WhisperCpp.BinaryPath,
		downloadURL: strings.TrimSuffix(app.ModelSettings.WhisperCpp.DownloadBaseURL, "/"),
		cacheDir:    app.ModelSettings.CachePath,
		vadModel:    app.ModelSettings.WhisperCpp.VADModel,
		client:      client,
		logger:      logger.WithField("engine", Name),
	}
}

func (e *Engine) Name() string {
	return Name
}

func (e *Engine) Load(ctx context.Context, cfg *stt.ModelConfig) (stt.Model, error) {
	binary, err := exec.LookPath(e.binaryPath)
	if err != nil {
		return nil, fmt.Errorf("whisper-cli not found: %w", err)
	}

	modelPath, err := e.resolveModel(ctx, cfg.ModelSizeOrPath)
	if err != nil {
		return nil, err
	}

	vocab, err := readVocabulary(modelPath)
	if err != nil {
		return nil, err
	}
	if cfg.ComputeType != "" && cfg.ComputeType != "default" {
		e.logger.Debugf("compute_type %q is fixed by the ggml file, ignoring", cfg.ComputeType)
	}

	return &Model{
		binary:    binary,
		modelPath: modelPath,
		vadModel:  e.vadModel,
		config:    cfg.Clone(),
		vocab:     vocab,
		logger:    e.logger,
	}, nil
}

// resolveModel accepts a path to a ggml file or a model name such as
// "base.en", which is looked up in the cache and downloaded when missing.
func (e *Engine) resolveModel(ctx context.Context, name string) (string, error) {
	if info, err := os.Stat(name); err == nil && !info.IsDir() {
		return name, nil
	}
	if !modelNamePattern.MatchString(name) {
		return "", fmt.Errorf("model %q is neither a file nor a known model name", name)
	}

	cached := filepath.Join(e.cacheDir, "ggml-"+name+".bin")
	if _, err := os.Stat(cached); err == nil {
		return cached, nil
	}
	return cached, e.download(ctx, name, cached)
}

func (e *Engine) download(ctx context.Context, name, dst string) error {
	url := fmt.Sprintf("%s/ggml-%s.bin", e.downloadURL, name)
	tmp := dst + ".downloading"

	req, err := grab.NewRequest(tmp, url)
	if err != nil {
		return err
	}
	req = req.WithContext(ctx)

	e.logger.Infof("downloading model %s from %s", name, url)
	start := time.Now()
	resp := e.client.Do(req)
	if err = resp.Err(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("downloading %s: %w", url, err)
	}
	if err = os.Rename(tmp, dst); err != nil {
		return err
	}
	e.logger.Infof("downloaded %s (%d bytes) in %s", name, resp.BytesComplete(), time.Since(start).Round(time.Millisecond))
	return nil
}

// Model is a validated ggml file. Each transcription runs its own whisper-cli process.
type Model struct {
	binary    string
	modelPath string
	vadModel  string
	config    *stt.ModelConfig
	vocab     *vocabulary
	logger    *logrus.Entry
	closed    atomic.Bool
}

func (m *Model) NonSpeechTokens() ([]int, error) {
	if m.closed.Load() {
		return nil, stt.ErrModelClosed
	}
	ids := m.vocab.nonSpeechTokens()
	slices.Sort(ids)
	return ids, nil
}

func (m *Model) Transcribe(ctx context.Context, audio *stt.Audio, params *stt.TranscriptionParams) (stt.Run, error) {
	if m.closed.Load() {
		return nil, stt.ErrModelClosed
	}
	if params.Task == stt.TaskTranslate && !m.vocab.multilingual {
		return nil, errors.New("translate needs a multilingual model")
	}

	ids := params.SuppressTokens
	if slices.Contains(ids, stt.SuppressNonSpeech) {
		ids = append(slices.Clone(ids), m.vocab.nonSpeechTokens()...)
	}
	suppress, err := m.vocab.suppressRegex(ids)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", stt.ErrParameterProcessing, err)
	}

	// outputs go next to the caller's WAV and are removed with it
	req := &cliRequest{
		modelPath:     m.modelPath,
		wavPath:       audio.Path,
		outBase:       filepath.Join(filepath.Dir(audio.Path), "output"),
		vadModel:      m.vadModel,
		suppressRegex: suppress,
		config:        m.config,
		params:        params,
	}
	args, err := buildArgs(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", stt.ErrParameterProcessing, err)
	}

	r := &run{
		params:   params,
		duration: float64(len(audio.Samples)) / config.SampleRate,
		logger:   m.logger,
	}
	if params.WordTimestamps {
		r.jsonPath = req.outBase + ".json"
	}
	m.logger.Debugf("starting %s %s", m.binary, strings.Join(args, " "))
	if err = startRun(ctx, m.binary, args, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Close marks the handle unusable. Runs already started keep their own process.
func (m *Model) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return stt.ErrModelClosed
	}
	return nil
}
