package stt

import (
	"io"
	"testing"

	"github.com/mynaparrot/plugnmeet-stt/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEngine(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	tests := []struct {
		engine  string
		wantErr bool
	}{
		{engine: config.EngineWhisperCpp},
		{engine: config.EngineOpenAI},
		{engine: "vosk", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.engine, func(t *testing.T) {
			app := &config.AppConfig{ModelSettings: config.ModelSettings{Engine: tt.engine}}
			e, err := NewEngine(app, logger)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.engine, e.Name())
		})
	}
}
