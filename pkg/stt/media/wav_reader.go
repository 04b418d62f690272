package media

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	wavFormatPCM        = 1
	wavFormatFloat      = 3
	wavFormatExtensible = 0xFFFE
)

// errUnsupportedWAV means the file is a valid wav this reader does not handle
// natively; ffmpeg takes over.
var errUnsupportedWAV = errors.New("unsupported wav layout")

type wavFormat struct {
	audioFormat   uint16
	numChannels   uint16
	sampleRate    uint32
	bitsPerSample uint16
}

// readWAV reads a PCM16 or float32 wav and downmixes it to mono samples in [-1, 1].
func readWAV(r io.Reader) ([]float32, int, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, 0, fmt.Errorf("reading riff header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, 0, errors.New("not a RIFF/WAVE file")
	}

	var format *wavFormat
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if format == nil {
				return nil, 0, errors.New("wav has no fmt chunk")
			}
			return nil, 0, errors.New("wav has no data chunk")
		}
		id := string(hdr[0:4])
		size := binary.LittleEndian.Uint32(hdr[4:8])

		switch id {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, 0, fmt.Errorf("reading fmt chunk: %w", err)
			}
			if size < 16 {
				return nil, 0, errors.New("fmt chunk too short")
			}
			format = &wavFormat{
				audioFormat:   binary.LittleEndian.Uint16(body[0:2]),
				numChannels:   binary.LittleEndian.Uint16(body[2:4]),
				sampleRate:    binary.LittleEndian.Uint32(body[4:8]),
				bitsPerSample: binary.LittleEndian.Uint16(body[14:16]),
			}
			if format.audioFormat == wavFormatExtensible && size >= 26 {
				// the first two bytes of the sub format guid carry the real format
				format.audioFormat = binary.LittleEndian.Uint16(body[24:26])
			}
		case "data":
			if format == nil {
				return nil, 0, errors.New("wav data chunk before fmt chunk")
			}
			samples, err := readWAVData(io.LimitReader(r, int64(size)), format)
			if err != nil {
				return nil, 0, err
			}
			return samples, int(format.sampleRate), nil
		default:
			if _, err := io.CopyN(io.Discard, r, int64(size)+int64(size%2)); err != nil {
				return nil, 0, fmt.Errorf("skipping %q chunk: %w", id, err)
			}
		}
		if size%2 == 1 && id == "fmt " {
			if _, err := io.CopyN(io.Discard, r, 1); err != nil {
				return nil, 0, err
			}
		}
	}
}

func readWAVData(r io.Reader, f *wavFormat) ([]float32, error) {
	if f.numChannels == 0 {
		return nil, errors.New("wav declares zero channels")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading wav data: %w", err)
	}

	var (
		frameSize int
		sample    func(b []byte) float32
	)
	switch {
	case f.audioFormat == wavFormatPCM && f.bitsPerSample == 16:
		frameSize = 2
		sample = func(b []byte) float32 {
			return float32(int16(binary.LittleEndian.Uint16(b))) / 32768
		}
	case f.audioFormat == wavFormatFloat && f.bitsPerSample == 32:
		frameSize = 4
		sample = func(b []byte) float32 {
			return math.Float32frombits(binary.LittleEndian.Uint32(b))
		}
	default:
		return nil, fmt.Errorf("%w: format %d, %d bits", errUnsupportedWAV, f.audioFormat, f.bitsPerSample)
	}

	channels := int(f.numChannels)
	stride := frameSize * channels
	frames := len(data) / stride
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			off := i*stride + c*frameSize
			sum += sample(data[off : off+frameSize])
		}
		out[i] = sum / float32(channels)
	}
	return out, nil
}
