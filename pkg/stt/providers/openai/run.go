package openai

import (
	"context"
	"fmt"
	"iter"
	"os"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/mynaparrot/plugnmeet-stt/pkg/stt"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

type verboseSegment struct {
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
}

type verboseWord struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type verboseTranscription struct {
	Language string           `json:"language"`
	Duration float64          `json:"duration"`
	Text     string           `json:"text"`
	Segments []verboseSegment `json:"segments"`
	Words    []verboseWord    `json:"words"`
}

// run is a single API request, started in the background by Transcribe.
type run struct {
	cancel   context.CancelFunc
	done     chan struct{}
	params   *stt.TranscriptionParams
	duration float64

	result    *verboseTranscription
	err       error
	closeOnce sync.Once
}

func buildParams(model string, f *os.File, p *stt.TranscriptionParams) openai.AudioTranscriptionNewParams {
	req := openai.AudioTranscriptionNewParams{
		File:           openai.File(f, "audio.wav", "audio/wav"),
		Model:          openai.AudioModel(model),
		ResponseFormat: openai.AudioResponseFormatVerboseJSON,
	}
	req.TimestampGranularities = []string{"segment"}
	if p.WordTimestamps {
		req.TimestampGranularities = append(req.TimestampGranularities, "word")
	}
	if p.Language != nil && *p.Language != "" {
		req.Language = openai.String(*p.Language)
	}
	if len(p.Temperature) > 0 {
		req.Temperature = openai.Float(p.Temperature[0])
	}
	if prompt := promptOf(p); prompt != "" {
		req.Prompt = openai.String(prompt)
	}
	return req
}

// buildTranslationParams targets the translations endpoint, which always
// answers in English and takes neither a language nor timestamp granularities.
func buildTranslationParams(model string, f *os.File, p *stt.TranscriptionParams) openai.AudioTranslationNewParams {
	req := openai.AudioTranslationNewParams{
		File:           openai.File(f, "audio.wav", "audio/wav"),
		Model:          openai.AudioModel(model),
		ResponseFormat: openai.AudioTranslationNewParamsResponseFormatVerboseJSON,
	}
	if len(p.Temperature) > 0 {
		req.Temperature = openai.Float(p.Temperature[0])
	}
	if prompt := promptOf(p); prompt != "" {
		req.Prompt = openai.String(prompt)
	}
	return req
}

func promptOf(p *stt.TranscriptionParams) string {
	var parts []string
	if p.Hotwords != nil && *p.Hotwords != "" {
		parts = append(parts, *p.Hotwords)
	}
	if p.InitialPrompt != nil && *p.InitialPrompt != "" {
		parts = append(parts, *p.InitialPrompt)
	}
	return strings.Join(parts, " ")
}

func (r *run) request(ctx context.Context, m *Model, wavPath string) {
	defer close(r.done)

	f, err := os.Open(wavPath)
	if err != nil {
		r.err = err
		return
	}
	defer f.Close()

	var raw []byte
	if r.params.Task == stt.TaskTranslate {
		_, err = m.client.Audio.Translations.New(ctx, buildTranslationParams(m.name, f, r.params), option.WithResponseBodyInto(&raw))
		if err != nil {
			r.err = fmt.Errorf("translation request: %w", err)
			return
		}
	} else {
		_, err = m.client.Audio.Transcriptions.New(ctx, buildParams(m.name, f, r.params), option.WithResponseBodyInto(&raw))
		if err != nil {
			r.err = fmt.Errorf("transcription request: %w", err)
			return
		}
	}

	out := new(verboseTranscription)
	if err = json.Unmarshal(raw, out); err != nil {
		r.err = fmt.Errorf("decoding transcription response: %w", err)
		return
	}
	r.result = out
}

func (r *run) wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *run) Info(ctx context.Context) (*stt.Info, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}

	info := &stt.Info{
		Language:            languageCode(r.result.Language),
		LanguageProbability: 1,
		Duration:            r.duration,
		DurationAfterVAD:    r.duration,
	}
	if r.result.Duration > 0 {
		info.DurationAfterVAD = r.result.Duration
	}
	info.AllLanguageProbs = []stt.LanguageProb{{Language: info.Language, Probability: 1}}
	return info, nil
}

func (r *run) Segments(ctx context.Context) iter.Seq2[*stt.Segment, error] {
	return func(yield func(*stt.Segment, error) bool) {
		if err := r.wait(ctx); err != nil {
			yield(nil, err)
			return
		}

		segs := r.result.Segments
		if len(segs) == 0 && strings.TrimSpace(r.result.Text) != "" {
			segs = []verboseSegment{{Text: r.result.Text, End: r.duration}}
		}

		words := r.result.Words
		for i, s := range segs {
			seg := &stt.Segment{
				ID:               i + 1,
				Seek:             s.Seek,
				Start:            s.Start,
				End:              s.End,
				Text:             s.Text,
				Tokens:           s.Tokens,
				Temperature:      s.Temperature,
				AvgLogprob:       s.AvgLogprob,
				CompressionRatio: s.CompressionRatio,
				NoSpeechProb:     s.NoSpeechProb,
			}
			if seg.Tokens == nil {
				seg.Tokens = []int{}
			}
			if r.params.WordTimestamps {
				seg.Words = []stt.Word{}
				last := i == len(segs)-1
				for len(words) > 0 && (words[0].Start < s.End || last) {
					w := words[0]
					seg.Words = append(seg.Words, stt.Word{Start: w.Start, End: w.End, Word: " " + strings.TrimSpace(w.Word), Probability: 1})
					words = words[1:]
				}
			}
			if !yield(seg, nil) {
				return
			}
		}
	}
}

func (r *run) Close() error {
	r.closeOnce.Do(func() {
		r.cancel()
		<-r.done
	})
	return nil
}
