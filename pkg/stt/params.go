package stt

import (
	"errors"
	"fmt"
	"slices"

	"github.com/goccy/go-json"
)

const (
	DeviceAuto = "auto"
	DeviceCPU  = "cpu"
	DeviceCUDA = "cuda"
	DeviceGPU  = "gpu"

	TaskTranscribe = "transcribe"
	TaskTranslate  = "translate"

	// SuppressNonSpeech in suppress_tokens stands for every non-speech token of the model.
	SuppressNonSpeech = -1
)

// ModelConfig identifies a model to load. Two configs are the same model iff Equal.
type ModelConfig struct {
	ModelSizeOrPath string      `json:"model_size_or_path"`
	Device          string      `json:"device"`
	ComputeType     string      `json:"compute_type"`
	DeviceIndex     DeviceIndex `json:"device_index"`
	CPUThreads      int         `json:"cpu_threads"`
	NumWorkers      int         `json:"num_workers"`
}

func NewModelConfig() *ModelConfig {
	return &ModelConfig{
		Device:      DeviceAuto,
		ComputeType: "default",
		DeviceIndex: DeviceIndex{0},
		NumWorkers:  1,
	}
}

// UnmarshalJSON keeps defaults for omitted fields.
func (c *ModelConfig) UnmarshalJSON(b []byte) error {
	type plain ModelConfig
	p := plain(*NewModelConfig())
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*c = ModelConfig(p)
	return nil
}

func (c *ModelConfig) Validate() error {
	var errs []error
	if c.ModelSizeOrPath == "" {
		errs = append(errs, errors.New("model_size_or_path is required"))
	}
	switch c.Device {
	case DeviceAuto, DeviceCPU, DeviceCUDA, DeviceGPU:
	default:
		errs = append(errs, fmt.Errorf("device must be one of auto, cpu, cuda, gpu, got %q", c.Device))
	}
	if c.CPUThreads < 0 {
		errs = append(errs, errors.New("cpu_threads must be >= 0"))
	}
	if c.NumWorkers < 1 {
		errs = append(errs, errors.New("num_workers must be >= 1"))
	}
	for _, idx := range c.DeviceIndex {
		if idx < 0 {
			errs = append(errs, errors.New("device_index must be >= 0"))
			break
		}
	}
	return errors.Join(errs...)
}

// Equal compares field by field.
func (c *ModelConfig) Equal(o *ModelConfig) bool {
	if c == nil || o == nil {
		return c == o
	}
	return c.ModelSizeOrPath == o.ModelSizeOrPath &&
		c.Device == o.Device &&
		c.ComputeType == o.ComputeType &&
		slices.Equal(c.DeviceIndex, o.DeviceIndex) &&
		c.CPUThreads == o.CPUThreads &&
		c.NumWorkers == o.NumWorkers
}

func (c *ModelConfig) Clone() *ModelConfig {
	if c == nil {
		return nil
	}
	cp := *c
	cp.DeviceIndex = slices.Clone(c.DeviceIndex)
	return &cp
}

// DeviceIndex accepts either a single index or a list on the wire.
type DeviceIndex []int

func (d *DeviceIndex) UnmarshalJSON(b []byte) error {
	var single int
	if err := json.Unmarshal(b, &single); err == nil {
		*d = DeviceIndex{single}
		return nil
	}
	var list []int
	if err := json.Unmarshal(b, &list); err != nil {
		return fmt.Errorf("device_index must be an integer or a list of integers: %w", err)
	}
	*d = list
	return nil
}

func (d DeviceIndex) MarshalJSON() ([]byte, error) {
	if len(d) == 1 {
		return json.Marshal(d[0])
	}
	return json.Marshal([]int(d))
}

// Temperatures accepts either a single temperature or a fallback list on the wire.
type Temperatures []float64

func (t *Temperatures) UnmarshalJSON(b []byte) error {
	var single float64
	if err := json.Unmarshal(b, &single); err == nil {
		*t = Temperatures{single}
		return nil
	}
	var list []float64
	if err := json.Unmarshal(b, &list); err != nil {
		return fmt.Errorf("temperature must be a number or a list of numbers: %w", err)
	}
	*t = list
	return nil
}

// VADParams tunes the voice activity filter. A nil MaxSpeechDurationS means no limit.
type VADParams struct {
	Threshold            float64  `json:"threshold"`
	MinSpeechDurationMs  int      `json:"min_speech_duration_ms"`
	MaxSpeechDurationS   *float64 `json:"max_speech_duration_s"`
	MinSilenceDurationMs int      `json:"min_silence_duration_ms"`
	WindowSizeSamples    int      `json:"window_size_samples"`
	SpeechPadMs          int      `json:"speech_pad_ms"`
}

func NewVADParams() *VADParams {
	return &VADParams{
		Threshold:            0.5,
		MinSpeechDurationMs:  250,
		MinSilenceDurationMs: 2000,
		WindowSizeSamples:    1024,
		SpeechPadMs:          400,
	}
}

func (v *VADParams) UnmarshalJSON(b []byte) error {
	type plain VADParams
	p := plain(*NewVADParams())
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*v = VADParams(p)
	return nil
}

func (v *VADParams) Clone() *VADParams {
	if v == nil {
		return nil
	}
	cp := *v
	if v.MaxSpeechDurationS != nil {
		d := *v.MaxSpeechDurationS
		cp.MaxSpeechDurationS = &d
	}
	return &cp
}

// TranscriptionParams is the decoding parameter bag of one request.
type TranscriptionParams struct {
	Language                      *string      `json:"language"`
	Task                          string       `json:"task"`
	BeamSize                      int          `json:"beam_size"`
	BestOf                        int          `json:"best_of"`
	Patience                      float64      `json:"patience"`
	LengthPenalty                 float64      `json:"length_penalty"`
	RepetitionPenalty             float64      `json:"repetition_penalty"`
	NoRepeatNgramSize             int          `json:"no_repeat_ngram_size"`
	Temperature                   Temperatures `json:"temperature"`
	CompressionRatioThreshold     *float64     `json:"compression_ratio_threshold"`
	LogProbThreshold              *float64     `json:"log_prob_threshold"`
	NoSpeechThreshold             *float64     `json:"no_speech_threshold"`
	ConditionOnPreviousText       bool         `json:"condition_on_previous_text"`
	PromptResetOnTemperature      float64      `json:"prompt_reset_on_temperature"`
	InitialPrompt                 *string      `json:"initial_prompt"`
	Prefix                        *string      `json:"prefix"`
	SuppressBlank                 bool         `json:"suppress_blank"`
	SuppressTokens                []int        `json:"suppress_tokens"`
	WithoutTimestamps             bool         `json:"without_timestamps"`
	MaxInitialTimestamp           float64      `json:"max_initial_timestamp"`
	WordTimestamps                bool         `json:"word_timestamps"`
	PrependPunctuations           string       `json:"prepend_punctuations"`
	AppendPunctuations            string       `json:"append_punctuations"`
	VADFilter                     bool         `json:"vad_filter"`
	VADParameters                 *VADParams   `json:"vad_parameters"`
	MaxNewTokens                  *int         `json:"max_new_tokens"`
	ClipTimestamps                string       `json:"clip_timestamps"`
	HallucinationSilenceThreshold *float64     `json:"hallucination_silence_threshold"`
	Hotwords                      *string      `json:"hotwords"`
	LanguageDetectionThreshold    *float64     `json:"language_detection_threshold"`
	LanguageDetectionSegments     int          `json:"language_detection_segments"`
}

func NewTranscriptionParams() *TranscriptionParams {
	return &TranscriptionParams{
		Task:                       TaskTranscribe,
		BeamSize:                   5,
		BestOf:                     5,
		Patience:                   1.0,
		LengthPenalty:              1.0,
		RepetitionPenalty:          1.0,
		Temperature:                Temperatures{0.0, 0.2, 0.4, 0.6, 0.8, 1.0},
		CompressionRatioThreshold:  ptr(2.4),
		LogProbThreshold:           ptr(-1.0),
		NoSpeechThreshold:          ptr(0.6),
		ConditionOnPreviousText:    true,
		PromptResetOnTemperature:   0.5,
		SuppressBlank:              true,
		SuppressTokens:             []int{SuppressNonSpeech},
		MaxInitialTimestamp:        1.0,
		PrependPunctuations:        "\"'“¿([{-",
		AppendPunctuations:         "\"'.。,，!！?？:：”)]}、",
		ClipTimestamps:             "0",
		LanguageDetectionThreshold: ptr(0.5),
		LanguageDetectionSegments:  1,
	}
}

func (p *TranscriptionParams) UnmarshalJSON(b []byte) error {
	type plain TranscriptionParams
	pp := plain(*NewTranscriptionParams())
	if err := json.Unmarshal(b, &pp); err != nil {
		return err
	}
	*p = TranscriptionParams(pp)
	return nil
}

func (p *TranscriptionParams) Validate() error {
	var errs []error
	if p.Task != TaskTranscribe && p.Task != TaskTranslate {
		errs = append(errs, fmt.Errorf("task must be transcribe or translate, got %q", p.Task))
	}
	if p.BeamSize < 1 {
		errs = append(errs, errors.New("beam_size must be >= 1"))
	}
	if p.BestOf < 1 {
		errs = append(errs, errors.New("best_of must be >= 1"))
	}
	if p.LanguageDetectionSegments < 1 {
		errs = append(errs, errors.New("language_detection_segments must be >= 1"))
	}
	if len(p.Temperature) == 0 {
		errs = append(errs, errors.New("temperature must not be empty"))
	}
	for _, t := range p.Temperature {
		if t < 0 {
			errs = append(errs, errors.New("temperature must be >= 0"))
			break
		}
	}
	for _, id := range p.SuppressTokens {
		if id < SuppressNonSpeech {
			errs = append(errs, fmt.Errorf("invalid suppress token id %d", id))
			break
		}
	}
	return errors.Join(errs...)
}

// EffectiveVAD returns the VAD parameters in force, or nil when the filter is off.
func (p *TranscriptionParams) EffectiveVAD() *VADParams {
	if !p.VADFilter {
		return nil
	}
	if p.VADParameters != nil {
		return p.VADParameters.Clone()
	}
	return NewVADParams()
}

// Clone deep copies p so one request can never observe another's changes.
func (p *TranscriptionParams) Clone() *TranscriptionParams {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Language = clonePtr(p.Language)
	cp.Temperature = slices.Clone(p.Temperature)
	cp.CompressionRatioThreshold = clonePtr(p.CompressionRatioThreshold)
	cp.LogProbThreshold = clonePtr(p.LogProbThreshold)
	cp.NoSpeechThreshold = clonePtr(p.NoSpeechThreshold)
	cp.InitialPrompt = clonePtr(p.InitialPrompt)
	cp.Prefix = clonePtr(p.Prefix)
	cp.SuppressTokens = slices.Clone(p.SuppressTokens)
	cp.VADParameters = p.VADParameters.Clone()
	cp.MaxNewTokens = clonePtr(p.MaxNewTokens)
	cp.HallucinationSilenceThreshold = clonePtr(p.HallucinationSilenceThreshold)
	cp.Hotwords = clonePtr(p.Hotwords)
	cp.LanguageDetectionThreshold = clonePtr(p.LanguageDetectionThreshold)
	return &cp
}

// TranscribeRequest is the body of POST /transcribe.
type TranscribeRequest struct {
	FilePath string               `json:"file_path"`
	Params   *TranscriptionParams `json:"params"`
}

func (r *TranscribeRequest) Validate() error {
	if r.FilePath == "" {
		return errors.New("file_path is required")
	}
	if r.Params == nil {
		r.Params = NewTranscriptionParams()
	}
	return r.Params.Validate()
}

func ptr[T any](v T) *T {
	return &v
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
