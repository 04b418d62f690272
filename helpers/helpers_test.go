package helpers

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mynaparrot/plugnmeet-stt/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, path, level string) {
	t.Helper()
	body := "client:\n  port: 9001\nlog_settings:\n  log_level: " + level + "\nmodel_settings:\n  engine: openai\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
}

func TestReadYamlConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "debug")

	appCnf, err := ReadYamlConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9001, appCnf.Client.Port)
	assert.Equal(t, "debug", appCnf.LogSettings.LogLevel)
	assert.Equal(t, config.EngineOpenAI, appCnf.ModelSettings.Engine)
	assert.NotEmpty(t, appCnf.RootWorkingDir)

	_, err = ReadYamlConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestPrepareServer(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	appCnf := &config.AppConfig{Logger: logger}
	appCnf.AudioSettings.FFmpegPath = "definitely-not-ffmpeg"
	appCnf.ModelSettings.Engine = config.EngineWhisperCpp
	appCnf.ModelSettings.WhisperCpp.BinaryPath = "definitely-not-whisper"
	assert.NoError(t, PrepareServer(appCnf))

	appCnf.ModelSettings.WhisperCpp.VADModel = filepath.Join(t.TempDir(), "silero.bin")
	assert.ErrorContains(t, PrepareServer(appCnf), "vad model")
}

func TestWatchConfigFile(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "info")

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, WatchConfigFile(ctx, path, logger))

	writeConfig(t, path, "debug")
	assert.Eventually(t, func() bool {
		return logger.GetLevel() == logrus.DebugLevel
	}, 5*time.Second, 20*time.Millisecond)
}
