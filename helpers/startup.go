package helpers

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/mynaparrot/plugnmeet-stt/pkg/config"
	"github.com/mynaparrot/plugnmeet-stt/pkg/logging"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// PrepareServer checks the external tools the configured engine needs.
// Missing tools are reported, not fatal: the service can still start
// idle and a later load_model or transcribe call reports the failure.
func PrepareServer(appCnf *config.AppConfig) error {
	log := appCnf.Logger.WithField("service", "startup")

	if _, err := exec.LookPath(appCnf.AudioSettings.FFmpegPath); err != nil {
		log.Warnf("ffmpeg not found at %q, only 16kHz PCM wav input will be accepted", appCnf.AudioSettings.FFmpegPath)
	}

	if appCnf.ModelSettings.Engine == config.EngineWhisperCpp {
		if _, err := exec.LookPath(appCnf.ModelSettings.WhisperCpp.BinaryPath); err != nil {
			log.Warnf("whisper-cli not found at %q, loading a model will fail", appCnf.ModelSettings.WhisperCpp.BinaryPath)
		}
		if vm := appCnf.ModelSettings.WhisperCpp.VADModel; vm != "" {
			if _, err := os.Stat(vm); err != nil {
				return fmt.Errorf("vad model: %w", err)
			}
		}
	}

	return nil
}

func ReadYamlConfigFile(filename string) (*config.AppConfig, error) {
	yamlFile, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	appCnf := new(config.AppConfig)
	err = yaml.Unmarshal(yamlFile, &appCnf)
	if err != nil {
		return nil, err
	}

	// get current working dir
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	// set the root path
	appCnf.RootWorkingDir = wd

	return appCnf, nil
}

// applyLogLevel re-reads filename and sets the logger to its log level.
func applyLogLevel(filename string, logger *logrus.Logger) error {
	appCnf, err := ReadYamlConfigFile(filename)
	if err != nil {
		return err
	}
	level := appCnf.LogSettings.LogLevel
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level = v
	}
	logger.SetLevel(logging.ParseLevel(level))
	return nil
}
