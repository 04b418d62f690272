package media

import (
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/livekit/media-sdk"
)

const wavHeaderSize = 44

// WAVWriter writes 16-bit PCM into a RIFF/WAVE container. Sizes in the header
// are patched on Close, so the target must be seekable.
type WAVWriter struct {
	writer      io.WriteSeeker
	sampleRate  uint32
	numChannels uint32
	numBytes    uint32
}

func NewWAVWriter(out io.WriteSeeker, sampleRate, numChannels uint32) (*WAVWriter, error) {
	w := &WAVWriter{
		writer:      out,
		sampleRate:  sampleRate,
		numChannels: numChannels,
	}
	if err := w.writeHeader(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *WAVWriter) WriteSample(sample media.PCM16Sample) error {
	if err := binary.Write(w.writer, binary.LittleEndian, sample); err != nil {
		return err
	}
	w.numBytes += uint32(len(sample) * 2)
	return nil
}

// WriteFloat32 converts normalised [-1, 1] samples to PCM16, clipping out of range values.
func (w *WAVWriter) WriteFloat32(samples []float32) error {
	const chunk = 4096
	buf := make(media.PCM16Sample, 0, chunk)
	for len(samples) > 0 {
		n := min(chunk, len(samples))
		buf = buf[:0]
		for _, s := range samples[:n] {
			buf = append(buf, floatToPCM16(s))
		}
		if err := w.WriteSample(buf); err != nil {
			return err
		}
		samples = samples[n:]
	}
	return nil
}

func (w *WAVWriter) Close() error {
	if err := w.updateHeader(); err != nil {
		return err
	}
	if f, ok := w.writer.(*os.File); ok {
		return f.Close()
	}
	return nil
}

func (w *WAVWriter) writeHeader() error {
	blockAlign := uint16(w.numChannels * 2)
	header := []any{
		[]byte("RIFF"), uint32(0), []byte("WAVE"),
		[]byte("fmt "), uint32(16), uint16(1), uint16(w.numChannels),
		w.sampleRate, w.sampleRate * uint32(blockAlign), blockAlign, uint16(16),
		[]byte("data"), uint32(0),
	}
	for _, v := range header {
		if err := binary.Write(w.writer, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	return nil
}

func (w *WAVWriter) updateHeader() error {
	if _, err := w.writer.Seek(4, io.SeekStart); err != nil {
		return err
	}
	if err := binary.Write(w.writer, binary.LittleEndian, w.numBytes+wavHeaderSize-8); err != nil {
		return err
	}
	if _, err := w.writer.Seek(40, io.SeekStart); err != nil {
		return err
	}
	return binary.Write(w.writer, binary.LittleEndian, w.numBytes)
}

func floatToPCM16(s float32) int16 {
	v := math.Round(float64(s) * 32767)
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

// WriteWAVFile writes mono samples to path as a 16-bit PCM wav.
func WriteWAVFile(path string, samples []float32, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w, err := NewWAVWriter(f, uint32(sampleRate), 1)
	if err != nil {
		_ = f.Close()
		return err
	}
	if err = w.WriteFloat32(samples); err != nil {
		_ = f.Close()
		return err
	}
	return w.Close()
}
