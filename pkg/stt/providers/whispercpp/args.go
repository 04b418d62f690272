package whispercpp

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mynaparrot/plugnmeet-stt/pkg/stt"
)

type cliRequest struct {
	modelPath     string
	wavPath       string
	outBase       string
	vadModel      string
	suppressRegex string
	config        *stt.ModelConfig
	params        *stt.TranscriptionParams
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// buildArgs maps a request onto whisper-cli flags. Options without a
// whisper-cli counterpart such as patience or prefix are ignored.
func buildArgs(req *cliRequest) ([]string, error) {
	p := req.params
	args := []string{"-m", req.modelPath, "-f", req.wavPath}

	lang := "auto"
	if p.Language != nil && *p.Language != "" {
		lang = *p.Language
	}
	args = append(args, "-l", lang)
	if p.Task == stt.TaskTranslate {
		args = append(args, "-tr")
	}

	args = append(args,
		"-bs", strconv.Itoa(p.BeamSize),
		"-bo", strconv.Itoa(p.BestOf),
	)

	if len(p.Temperature) > 0 {
		args = append(args, "-tp", formatFloat(p.Temperature[0]))
		if len(p.Temperature) > 1 {
			args = append(args, "-tpi", formatFloat(p.Temperature[1]-p.Temperature[0]))
		} else {
			args = append(args, "-nf")
		}
	}
	if p.CompressionRatioThreshold != nil {
		args = append(args, "-et", formatFloat(*p.CompressionRatioThreshold))
	}
	if p.LogProbThreshold != nil {
		args = append(args, "-lpt", formatFloat(*p.LogProbThreshold))
	}
	if p.NoSpeechThreshold != nil {
		args = append(args, "-nth", formatFloat(*p.NoSpeechThreshold))
	}
	if !p.ConditionOnPreviousText {
		args = append(args, "-mc", "0")
	}
	if prompt := buildPrompt(p); prompt != "" {
		args = append(args, "--prompt", prompt)
	}
	if req.suppressRegex != "" {
		args = append(args, "--suppress-regex", req.suppressRegex)
	}

	if c := req.config; c != nil {
		if c.CPUThreads > 0 {
			args = append(args, "-t", strconv.Itoa(c.CPUThreads))
		}
		if c.NumWorkers > 1 {
			args = append(args, "-p", strconv.Itoa(c.NumWorkers))
		}
		if c.Device == stt.DeviceCPU {
			args = append(args, "-ng")
		} else if len(c.DeviceIndex) > 0 && c.DeviceIndex[0] > 0 {
			args = append(args, "-dev", strconv.Itoa(c.DeviceIndex[0]))
		}
	}

	if p.VADFilter {
		if req.vadModel == "" {
			return nil, errors.New("vad_filter requires model_settings.whispercpp.vad_model")
		}
		v := p.EffectiveVAD()
		args = append(args,
			"--vad", "-vm", req.vadModel,
			"-vt", formatFloat(v.Threshold),
			"-vspd", strconv.Itoa(v.MinSpeechDurationMs),
			"-vsd", strconv.Itoa(v.MinSilenceDurationMs),
			"-vp", strconv.Itoa(v.SpeechPadMs),
		)
		if v.MaxSpeechDurationS != nil {
			args = append(args, "-vmsd", formatFloat(*v.MaxSpeechDurationS))
		}
	}

	clip, err := clipArgs(p.ClipTimestamps)
	if err != nil {
		return nil, err
	}
	args = append(args, clip...)

	if p.WordTimestamps {
		args = append(args, "-ojf", "-of", req.outBase)
	}
	return args, nil
}

func buildPrompt(p *stt.TranscriptionParams) string {
	var parts []string
	if p.Hotwords != nil && *p.Hotwords != "" {
		parts = append(parts, strings.TrimSpace(*p.Hotwords))
	}
	if p.InitialPrompt != nil && *p.InitialPrompt != "" {
		parts = append(parts, strings.TrimSpace(*p.InitialPrompt))
	}
	return strings.Join(parts, " ")
}

// clipArgs turns "start,end" seconds into offset and duration flags. Only the
// first clip is honoured; "0" or "" means the whole file.
func clipArgs(clip string) ([]string, error) {
	clip = strings.TrimSpace(clip)
	if clip == "" || clip == "0" {
		return nil, nil
	}
	fields := strings.Split(clip, ",")
	if len(fields) > 2 {
		fields = fields[:2]
	}

	vals := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("invalid clip_timestamps %q", clip)
		}
		vals[i] = v
	}

	args := []string{"-ot", strconv.Itoa(int(vals[0] * 1000))}
	if len(vals) == 2 {
		if vals[1] <= vals[0] {
			return nil, fmt.Errorf("invalid clip_timestamps %q: end before start", clip)
		}
		args = append(args, "-d", strconv.Itoa(int((vals[1]-vals[0])*1000)))
	}
	return args, nil
}
