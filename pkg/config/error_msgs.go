package config

const (
	NoModelLoaded           = "No model loaded."
	ModelLoadedSuccessfully = "Model loaded successfully."
	ModelUnloaded           = "Model unloaded."
	TranscriptionComplete   = "Transcription complete."
	InvalidRequestBody      = "invalid request body"
	StatusSuccess           = "success"
)
