package controllers

import (
	"bufio"
	"bytes"
	"io"
	"math"
	"testing"

	"github.com/mynaparrot/plugnmeet-stt/pkg/stt"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteEvents_UnencodableEventEndsStream(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	stopped := false
	events := func(yield func(*stt.Event) bool) {
		evs := []*stt.Event{
			stt.NewInfoEvent(&stt.Info{Language: "en"}),
			stt.NewSegmentEvent(&stt.Segment{ID: 1, Start: math.NaN(), Tokens: []int{}}),
			stt.NewSegmentEvent(&stt.Segment{ID: 2, Start: 1, End: 2, Tokens: []int{}}),
			stt.NewFinalEvent("Transcription complete."),
		}
		for _, ev := range evs {
			if !yield(ev) {
				stopped = true
				return
			}
		}
	}

	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	writeEvents(w, events, logger.WithField("controller", "transcription"))

	got := readEvents(t, buf.Bytes())
	require.Len(t, got, 2)
	assert.Equal(t, stt.EventInfo, got[0].Type)
	assert.Equal(t, stt.EventError, got[1].Type)
	assert.NotEmpty(t, got[1].Message)
	assert.True(t, stopped)
}
