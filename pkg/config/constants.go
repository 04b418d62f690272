package config

import "time"

const (
	DefaultHost        = "0.0.0.0"
	DefaultPort        = 8001
	DefaultMetricsPath = "/metrics"

	DefaultLogLevel   = "info"
	DefaultLoggerName = "stt_service"

	DefaultSharedAudioPath = "/stt_app_data/audio_inbox"
	DefaultModelCachePath  = "/stt_app_data/model_cache"
	DefaultFFmpegPath      = "ffmpeg"
	DefaultDecodeWorkers   = 2

	EngineWhisperCpp = "whispercpp"
	EngineOpenAI     = "openai"

	DefaultMaxConcurrentInference int64 = 1
	DefaultWhisperCppBinary             = "whisper-cli"
	DefaultWhisperCppDownloadURL        = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main"
	DefaultOpenAIModel                  = "whisper-1"
	DefaultOpenAITimeout                = 10 * time.Minute

	// SampleRate is what every engine expects decoded audio in.
	SampleRate = 16000

	// LogDeliveryTimeout bounds one websocket write of a log line.
	LogDeliveryTimeout = 5 * time.Second
)
