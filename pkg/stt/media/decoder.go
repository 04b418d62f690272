package media

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gammazero/workerpool"
	"github.com/mynaparrot/plugnmeet-stt/pkg/config"
	"github.com/sirupsen/logrus"
)

// Decoder turns audio files into 16 kHz mono float32 samples. Decoding runs on
// a bounded worker pool, independent of any model lock.
type Decoder struct {
	ffmpegPath string
	sampleRate int
	pool       *workerpool.WorkerPool
	logger     *logrus.Entry
}

func NewDecoder(app *config.AppConfig, logger *logrus.Logger) *Decoder {
	return &Decoder{
		ffmpegPath: app.AudioSettings.FFmpegPath,
		sampleRate: config.SampleRate,
		pool:       workerpool.New(app.AudioSettings.DecodeWorkers),
		logger:     logger.WithField("service", "decoder"),
	}
}

type decodeResult struct {
	samples []float32
	err     error
}

// Decode waits for a pool worker; ctx cancels both the wait and a running ffmpeg.
func (d *Decoder) Decode(ctx context.Context, path string) ([]float32, error) {
	done := make(chan decodeResult, 1)
	d.pool.Submit(func() {
		if err := ctx.Err(); err != nil {
			done <- decodeResult{err: err}
			return
		}
		samples, err := d.decode(ctx, path)
		done <- decodeResult{samples: samples, err: err}
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		return res.samples, res.err
	}
}

func (d *Decoder) decode(ctx context.Context, path string) ([]float32, error) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, fmt.Errorf("detecting audio type: %w", err)
	}

	if mtype.Is("audio/wav") {
		samples, err := d.decodeWAV(path)
		if err == nil {
			return samples, nil
		}
		if !errors.Is(err, errUnsupportedWAV) && !errors.Is(err, errNeedsResample) {
			return nil, err
		}
		d.logger.Debugf("falling back to ffmpeg for %s: %s", path, err)
	} else {
		d.logger.Debugf("decoding %s (%s) with ffmpeg", path, mtype.String())
	}

	return d.decodeFFmpeg(ctx, path)
}

var errNeedsResample = errors.New("sample rate differs")

func (d *Decoder) decodeWAV(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	samples, rate, err := readWAV(f)
	if err != nil {
		return nil, err
	}
	if rate != d.sampleRate {
		return nil, fmt.Errorf("%w: %d Hz", errNeedsResample, rate)
	}
	return samples, nil
}

func (d *Decoder) decodeFFmpeg(ctx context.Context, path string) ([]float32, error) {
	args := []string{
		"-nostdin", "-hide_banner", "-loglevel", "error",
		"-i", path,
		"-f", "s16le",
		"-ac", "1",
		"-ar", strconv.Itoa(d.sampleRate),
		"-",
	}
	cmd := exec.CommandContext(ctx, d.ffmpegPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("ffmpeg failed to decode %s: %s", path, msg)
	}

	raw := stdout.Bytes()
	samples := make([]float32, len(raw)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(raw[i*2:]))) / 32768
	}
	return samples, nil
}

// Close waits for queued decodes to finish.
func (d *Decoder) Close() {
	d.pool.StopWait()
}
