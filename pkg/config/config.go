package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

type AppConfig struct {
	Logger *logrus.Logger `yaml:"-"`

	RootWorkingDir string        `yaml:"-"`
	Client         ClientInfo    `yaml:"client"`
	LogSettings    LogSettings   `yaml:"log_settings"`
	AudioSettings  AudioSettings `yaml:"audio_settings"`
	ModelSettings  ModelSettings `yaml:"model_settings"`
}

type ClientInfo struct {
	Host           string         `yaml:"host"`
	Port           int            `yaml:"port"`
	Debug          bool           `yaml:"debug"`
	ProxyHeader    string         `yaml:"proxy_header"`
	PrometheusConf PrometheusConf `yaml:"prometheus"`
}

type PrometheusConf struct {
	Enable      bool   `yaml:"enable"`
	MetricsPath string `yaml:"metrics_path"`
}

type LogSettings struct {
	LogLevel   string `yaml:"log_level"`
	LoggerName string `yaml:"logger_name"`
	LogFile    string `yaml:"log_file"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
}

// AudioSettings controls where client audio is read from and how it is decoded.
type AudioSettings struct {
	SharedPath    string `yaml:"shared_path"`
	CleanupAudio  *bool  `yaml:"cleanup_audio"`
	FFmpegPath    string `yaml:"ffmpeg_path"`
	DecodeWorkers int    `yaml:"decode_workers"`
}

type ModelSettings struct {
	CachePath              string         `yaml:"cache_path"`
	Engine                 string         `yaml:"engine"`
	MaxConcurrentInference int64          `yaml:"max_concurrent_inference"`
	WhisperCpp             WhisperCppConf `yaml:"whisper_cpp"`
	OpenAI                 OpenAIConf     `yaml:"openai"`
}

type WhisperCppConf struct {
	BinaryPath      string `yaml:"binary_path"`
	DownloadBaseURL string `yaml:"download_base_url"`
	// VADModel is required by whisper-cli when a request enables vad_filter.
	VADModel string `yaml:"vad_model"`
}

type OpenAIConf struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// ShouldCleanupAudio reports whether source audio is removed after a transcription.
func (a *AudioSettings) ShouldCleanupAudio() bool {
	return a.CleanupAudio == nil || *a.CleanupAudio
}

func New(appCnf *AppConfig) (*AppConfig, error) {
	applyEnvOverrides(appCnf)

	if appCnf.Client.Host == "" {
		appCnf.Client.Host = DefaultHost
	}
	if appCnf.Client.Port == 0 {
		appCnf.Client.Port = DefaultPort
	}
	if appCnf.Client.PrometheusConf.Enable && appCnf.Client.PrometheusConf.MetricsPath == "" {
		appCnf.Client.PrometheusConf.MetricsPath = DefaultMetricsPath
	}

	if appCnf.LogSettings.LogLevel == "" {
		appCnf.LogSettings.LogLevel = DefaultLogLevel
	}
	if appCnf.LogSettings.LoggerName == "" {
		appCnf.LogSettings.LoggerName = DefaultLoggerName
	}

	if appCnf.AudioSettings.SharedPath == "" {
		appCnf.AudioSettings.SharedPath = DefaultSharedAudioPath
	}
	if appCnf.AudioSettings.FFmpegPath == "" {
		appCnf.AudioSettings.FFmpegPath = DefaultFFmpegPath
	}
	if appCnf.AudioSettings.DecodeWorkers <= 0 {
		appCnf.AudioSettings.DecodeWorkers = DefaultDecodeWorkers
	}

	ms := &appCnf.ModelSettings
	if ms.CachePath == "" {
		ms.CachePath = DefaultModelCachePath
	}
	if ms.Engine == "" {
		ms.Engine = EngineWhisperCpp
	}
	if ms.MaxConcurrentInference <= 0 {
		ms.MaxConcurrentInference = DefaultMaxConcurrentInference
	}
	if ms.WhisperCpp.BinaryPath == "" {
		ms.WhisperCpp.BinaryPath = DefaultWhisperCppBinary
	}
	if ms.WhisperCpp.DownloadBaseURL == "" {
		ms.WhisperCpp.DownloadBaseURL = DefaultWhisperCppDownloadURL
	}
	if ms.OpenAI.Model == "" {
		ms.OpenAI.Model = DefaultOpenAIModel
	}
	if ms.OpenAI.Timeout <= 0 {
		ms.OpenAI.Timeout = DefaultOpenAITimeout
	}

	switch ms.Engine {
	case EngineWhisperCpp, EngineOpenAI:
	default:
		return nil, fmt.Errorf("unknown stt engine: %s", ms.Engine)
	}

	var err error
	appCnf.AudioSettings.SharedPath, err = prepareDir(appCnf.RootWorkingDir, appCnf.AudioSettings.SharedPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create shared audio directory: %w", err)
	}
	ms.CachePath, err = prepareDir(appCnf.RootWorkingDir, ms.CachePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create model cache directory: %w", err)
	}

	return appCnf, nil
}

// prepareDir makes p absolute (relative paths hang off root) and creates it.
func prepareDir(root, p string) (string, error) {
	if !filepath.IsAbs(p) && root != "" {
		p = filepath.Join(root, p)
	}
	p, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	if err = os.MkdirAll(p, 0755); err != nil {
		return "", fmt.Errorf("%s: %w", p, err)
	}
	return p, nil
}

// applyEnvOverrides keeps the container contract of the service: a handful of
// environment variables win over the yaml file.
func applyEnvOverrides(appCnf *AppConfig) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		appCnf.LogSettings.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("APP_LOGGER_NAME"); v != "" {
		appCnf.LogSettings.LoggerName = v
	}
	if v := os.Getenv("APP_HOST"); v != "" {
		appCnf.Client.Host = v
	}
	if v := os.Getenv("APP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			appCnf.Client.Port = port
		} else {
			logrus.WithError(err).Warnf("ignoring invalid APP_PORT %q", v)
		}
	}
	if v := os.Getenv("CLEANUP_AUDIO"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			appCnf.AudioSettings.CleanupAudio = &b
		} else {
			logrus.WithError(err).Warnf("ignoring invalid CLEANUP_AUDIO %q", v)
		}
	}
	if v := os.Getenv("SHARED_AUDIO_PATH"); v != "" {
		appCnf.AudioSettings.SharedPath = v
	}
	if v := os.Getenv("MODEL_CACHE_PATH"); v != "" {
		appCnf.ModelSettings.CachePath = v
	}
	if v := os.Getenv("STT_ENGINE"); v != "" {
		appCnf.ModelSettings.Engine = v
	}
}
