// Package openai transcribes through an OpenAI compatible audio transcription API.
package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/mynaparrot/plugnmeet-stt/pkg/config"
	"github.com/mynaparrot/plugnmeet-stt/pkg/stt"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/sirupsen/logrus"
)

const Name = config.EngineOpenAI

type Engine struct {
	conf   *config.OpenAIConf
	logger *logrus.Entry
}

func NewEngine(app *config.AppConfig, logger *logrus.Logger) *Engine {
	return &Engine{
		conf:   &app.ModelSettings.OpenAI,
		logger: logger.WithField("engine", Name),
	}
}

func (e *Engine) Name() string {
	return Name
}

func (e *Engine) clientOptions() []option.RequestOption {
	opts := []option.RequestOption{option.WithRequestTimeout(e.conf.Timeout)}
	if e.conf.APIKey != "" {
		opts = append(opts, option.WithAPIKey(e.conf.APIKey))
	}
	if e.conf.BaseURL != "" {
		base := e.conf.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		opts = append(opts, option.WithBaseURL(base))
	}
	return opts
}

// Load checks that the remote model exists. model_size_or_path names the
// remote model; "default" falls back to the configured one.
func (e *Engine) Load(ctx context.Context, cfg *stt.ModelConfig) (stt.Model, error) {
	name := cfg.ModelSizeOrPath
	if name == "" || name == "default" {
		name = e.conf.Model
	}

	client := openai.NewClient(e.clientOptions()...)
	if _, err := client.Models.Get(ctx, name); err != nil {
		return nil, fmt.Errorf("checking remote model %s: %w", name, err)
	}

	return &Model{
		client: client,
		name:   name,
		logger: e.logger,
	}, nil
}

type Model struct {
	client openai.Client
	name   string
	logger *logrus.Entry
}

// NonSpeechTokens is empty, token ids are not exposed by the API.
func (m *Model) NonSpeechTokens() ([]int, error) {
	return []int{}, nil
}

func (m *Model) Transcribe(ctx context.Context, audio *stt.Audio, params *stt.TranscriptionParams) (stt.Run, error) {
	if len(params.SuppressTokens) > 0 && !(len(params.SuppressTokens) == 1 && params.SuppressTokens[0] == stt.SuppressNonSpeech) {
		m.logger.Debugln("suppress_tokens is not supported by the remote API, ignoring")
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &run{
		cancel:   cancel,
		done:     make(chan struct{}),
		params:   params,
		duration: float64(len(audio.Samples)) / config.SampleRate,
	}
	go r.request(runCtx, m, audio.Path)
	return r, nil
}

func (m *Model) Close() error {
	return nil
}
