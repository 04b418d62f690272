package logging

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/mynaparrot/plugnmeet-stt/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want logrus.Level
	}{
		{"", logrus.InfoLevel},
		{"DEBUG", logrus.DebugLevel},
		{"warning", logrus.WarnLevel},
		{"nonsense", logrus.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestNewLogger_FileOutput(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "stt.log")
	logger, err := NewLogger(&config.LogSettings{LogLevel: "debug", LogFile: logFile, MaxSize: 1})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	logger.Debugln("written to file")
	assert.FileExists(t, logFile)
}

func TestSourceFormatter(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetReportCaller(true)
	logger.SetFormatter(&SourceFormatter{
		Underlying:  &logrus.TextFormatter{DisableColors: true},
		TrimNewline: true,
	})

	logger.Info("hello")
	// logrus quotes values containing ':'
	assert.Contains(t, buf.String(), `x_file_source="logger_test.go:`)
	assert.NotContains(t, buf.String(), "\n")
}
