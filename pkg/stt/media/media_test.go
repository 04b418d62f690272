package media

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/mynaparrot/plugnmeet-stt/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDecoder(t *testing.T, ffmpeg string) *Decoder {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	d := NewDecoder(&config.AppConfig{
		AudioSettings: config.AudioSettings{FFmpegPath: ffmpeg, DecodeWorkers: 2},
	}, logger)
	t.Cleanup(d.Close)
	return d
}

func TestWAVWriter_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	in := []float32{0, 0.5, -0.5, 1, -1, 0.25}
	require.NoError(t, WriteWAVFile(path, in, config.SampleRate))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(wavHeaderSize+len(in)*2), info.Size())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	out, rate, err := readWAV(f)
	require.NoError(t, err)
	assert.Equal(t, config.SampleRate, rate)
	require.Len(t, out, len(in))
	for i := range in {
		assert.InDelta(t, in[i], out[i], 1e-3)
	}
}

func TestFloatToPCM16_Clips(t *testing.T) {
	assert.Equal(t, int16(32767), floatToPCM16(2))
	assert.Equal(t, int16(-32768), floatToPCM16(-2))
	assert.Equal(t, int16(0), floatToPCM16(0))
}

// stereoWAV builds a two channel PCM16 wav with an odd sized extra chunk before data.
func stereoWAV(frames [][2]int16, rate uint32) []byte {
	var buf bytes.Buffer
	data := new(bytes.Buffer)
	for _, fr := range frames {
		_ = binary.Write(data, binary.LittleEndian, fr[0])
		_ = binary.Write(data, binary.LittleEndian, fr[1])
	}
	extra := []byte("abc")

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(4+24+8+len(extra)+1+8+data.Len()))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(wavFormatPCM))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(2))
	_ = binary.Write(&buf, binary.LittleEndian, rate)
	_ = binary.Write(&buf, binary.LittleEndian, rate*4)
	_ = binary.Write(&buf, binary.LittleEndian, uint16(4))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("LIST")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(extra)))
	buf.Write(extra)
	buf.WriteByte(0)
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(data.Len()))
	buf.Write(data.Bytes())
	return buf.Bytes()
}

func TestReadWAV_DownmixesStereo(t *testing.T) {
	raw := stereoWAV([][2]int16{{16384, 0}, {-16384, -16384}}, 16000)
	out, rate, err := readWAV(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 16000, rate)
	require.Len(t, out, 2)
	assert.InDelta(t, 0.25, out[0], 1e-4)
	assert.InDelta(t, -0.5, out[1], 1e-4)
}

func TestReadWAV_Rejects(t *testing.T) {
	_, _, err := readWAV(bytes.NewReader([]byte("definitely not audio")))
	assert.Error(t, err)

	_, _, err = readWAV(bytes.NewReader([]byte("RIFF\x00\x00\x00\x00WAVE")))
	assert.Error(t, err)
}

func TestDecoder_NativeWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.wav")
	require.NoError(t, WriteWAVFile(path, make([]float32, 1600), config.SampleRate))

	d := newTestDecoder(t, "ffmpeg-that-does-not-exist")
	samples, err := d.Decode(context.Background(), path)
	require.NoError(t, err)
	assert.Len(t, samples, 1600)
}

func TestDecoder_FallsBackToFFmpeg(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.wav")
	require.NoError(t, WriteWAVFile(path, make([]float32, 800), 8000))

	d := newTestDecoder(t, "ffmpeg-that-does-not-exist")
	_, err := d.Decode(context.Background(), path)
	assert.ErrorContains(t, err, "ffmpeg failed")
}

func TestDecoder_CancelledContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.wav")
	require.NoError(t, WriteWAVFile(path, make([]float32, 16), config.SampleRate))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := newTestDecoder(t, "ffmpeg")
	_, err := d.Decode(ctx, path)
	assert.ErrorIs(t, err, context.Canceled)
}
