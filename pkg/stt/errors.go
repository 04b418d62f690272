package stt

import "errors"

var (
	ErrModelLoad           = errors.New("model load failed")
	ErrNoModelLoaded       = errors.New("cannot transcribe, no model is loaded")
	ErrParameterProcessing = errors.New("internal error processing transcription parameters")
	ErrDecode              = errors.New("audio decode failed")
	ErrStreamError         = errors.New("transcription stream failed")
	ErrModelClosed         = errors.New("model handle already closed")
)
