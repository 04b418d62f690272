package controllers

import (
	"bufio"
	"context"
	"iter"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/mynaparrot/plugnmeet-stt/pkg/config"
	"github.com/mynaparrot/plugnmeet-stt/pkg/models"
	"github.com/mynaparrot/plugnmeet-stt/pkg/stt"
	"github.com/sirupsen/logrus"
)

const ndjsonContentType = "application/x-ndjson"

type TranscriptionController struct {
	app     *config.AppConfig
	manager *models.ModelManager
	tm      *models.TranscriptionModel
	logger  *logrus.Entry
}

func NewTranscriptionController(app *config.AppConfig, manager *models.ModelManager, tm *models.TranscriptionModel, logger *logrus.Logger) *TranscriptionController {
	return &TranscriptionController{
		app:     app,
		manager: manager,
		tm:      tm,
		logger:  logger.WithField("controller", "transcription"),
	}
}

// HandleTranscribe streams one event per line. Failures after the
// first byte are reported as an error event, never as a status code.
func (tc *TranscriptionController) HandleTranscribe(c *fiber.Ctx) error {
	req := new(stt.TranscribeRequest)
	if err := json.Unmarshal(c.Body(), req); err != nil {
		return sendDetail(c, fiber.StatusUnprocessableEntity, config.InvalidRequestBody+": "+err.Error())
	}
	if err := req.Validate(); err != nil {
		return sendDetail(c, fiber.StatusUnprocessableEntity, err.Error())
	}

	st, err := tc.manager.Describe(c.UserContext())
	if err != nil {
		return sendDetail(c, fiber.StatusInternalServerError, err.Error())
	}
	if !st.Loaded {
		return sendDetail(c, fiber.StatusConflict, config.NoModelLoaded)
	}

	fileRef, params := req.FilePath, req.Params
	c.Set(fiber.HeaderContentType, ndjsonContentType)
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		// the request ctx is recycled once the handler returns
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		writeEvents(w, tc.tm.Transcribe(ctx, fileRef, params), tc.logger)
	})

	return nil
}

// writeEvents writes one JSON line per event. An event that cannot be encoded
// is replaced by an error event, which ends the stream.
func writeEvents(w *bufio.Writer, events iter.Seq[*stt.Event], logger *logrus.Entry) {
	for ev := range events {
		line, err := json.Marshal(ev)
		terminal := ev.IsTerminal()
		if err != nil {
			logger.WithError(err).Errorln("failed to marshal event")
			line, _ = json.Marshal(stt.NewErrorEvent(err.Error()))
			terminal = true
		}
		_, _ = w.Write(line)
		_ = w.WriteByte('\n')
		if err = w.Flush(); err != nil {
			logger.WithError(err).Infoln("client disconnected, stopping transcription")
			return
		}
		if terminal {
			return
		}
	}
}
