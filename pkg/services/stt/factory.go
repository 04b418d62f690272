package stt

import (
	"fmt"

	"github.com/mynaparrot/plugnmeet-stt/pkg/config"
	"github.com/mynaparrot/plugnmeet-stt/pkg/stt"
	"github.com/mynaparrot/plugnmeet-stt/pkg/stt/providers/openai"
	"github.com/mynaparrot/plugnmeet-stt/pkg/stt/providers/whispercpp"
	"github.com/sirupsen/logrus"
)

// NewEngine is a factory function that returns the engine selected by model_settings.engine.
func NewEngine(app *config.AppConfig, logger *logrus.Logger) (stt.Engine, error) {
	switch app.ModelSettings.Engine {
	case config.EngineWhisperCpp:
		return whispercpp.NewEngine(app, logger), nil
	case config.EngineOpenAI:
		return openai.NewEngine(app, logger), nil
	default:
		return nil, fmt.Errorf("unknown speech-to-text engine: %s", app.ModelSettings.Engine)
	}
}
