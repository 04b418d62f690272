package stt

import (
	"context"
	"iter"
)

// Engine constructs model handles. Implementations live under providers/.
type Engine interface {
	Name() string
	// Load builds a handle for cfg; a failed Load must not leave anything allocated.
	Load(ctx context.Context, cfg *ModelConfig) (Model, error)
}

// Model is a loaded model. It is owned by exactly one manager and closed by it.
type Model interface {
	// NonSpeechTokens returns the token ids the model treats as non-speech symbols.
	// Models that cannot expose token ids return an empty set.
	NonSpeechTokens() ([]int, error)
	// Transcribe starts recognition of audio and returns quickly; results are
	// read from the returned Run. ctx bounds the whole run. audio.Path is owned
	// by the caller and stays on disk until the run is closed.
	Transcribe(ctx context.Context, audio *Audio, params *TranscriptionParams) (Run, error)
	Close() error
}

// Audio is decoded input. Samples are 16 kHz mono and Path holds the same
// samples as a 16 bit PCM WAV file.
type Audio struct {
	Samples []float32
	Path    string
}

// Run is one in-flight transcription.
type Run interface {
	// Info blocks until run level metadata (e.g. the detected language) is known.
	Info(ctx context.Context) (*Info, error)
	// Segments yields recognised segments in order. A non-nil error ends the sequence.
	Segments(ctx context.Context) iter.Seq2[*Segment, error]
	// Close stops the run and releases its resources. Safe to call more than once.
	Close() error
}

// Info is run level metadata.
type Info struct {
	Language             string               `json:"language"`
	LanguageProbability  float64              `json:"language_probability"`
	Duration             float64              `json:"duration"`
	DurationAfterVAD     float64              `json:"duration_after_vad"`
	AllLanguageProbs     []LanguageProb       `json:"all_language_probs"`
	TranscriptionOptions *TranscriptionParams `json:"transcription_options"`
	VADOptions           *VADParams           `json:"vad_options"`
}

type LanguageProb struct {
	Language    string  `json:"language"`
	Probability float64 `json:"probability"`
}

type Segment struct {
	ID               int     `json:"id"`
	Seek             int     `json:"seek"`
	Start            float64 `json:"start"`
	End              float64 `json:"end"`
	Text             string  `json:"text"`
	Tokens           []int   `json:"tokens"`
	Temperature      float64 `json:"temperature"`
	AvgLogprob       float64 `json:"avg_logprob"`
	CompressionRatio float64 `json:"compression_ratio"`
	NoSpeechProb     float64 `json:"no_speech_prob"`
	// Words is null unless word timestamps were requested.
	Words []Word `json:"words"`
}

type Word struct {
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Word        string  `json:"word"`
	Probability float64 `json:"probability"`
}
