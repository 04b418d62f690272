package logging

import (
	"io"
	"os"
	"strings"

	"github.com/DeRuina/timberjack"
	"github.com/mynaparrot/plugnmeet-stt/pkg/config"
	"github.com/sirupsen/logrus"
)

// NewLogger creates and configures a new logrus.Logger based on the provided configuration.
func NewLogger(cfg *config.LogSettings) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetLevel(ParseLevel(cfg.LogLevel))

	var output io.Writer = os.Stdout
	if cfg.LogFile != "" {
		fileLogger := &timberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
		}
		output = io.MultiWriter(os.Stdout, fileLogger)
		// the main logger isn't ready yet
		logrus.New().Infof("File logging enabled, writing to %s", cfg.LogFile)
	}
	logger.SetOutput(output)

	logger.SetFormatter(&SourceFormatter{
		Underlying: &logrus.TextFormatter{
			FullTimestamp: true,
			CallerPrettyfier: hideCaller,
			ForceColors: true,
		},
		AddSpace: true,
	})
	logger.SetReportCaller(true)

	return logger, nil
}

// ParseLevel falls back to info for empty or unknown values.
func ParseLevel(level string) logrus.Level {
	if level == "" {
		return logrus.InfoLevel
	}
	lv, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return logrus.InfoLevel
	}
	return lv
}
