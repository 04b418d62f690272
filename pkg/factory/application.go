package factory

import (
	"context"

	"github.com/mynaparrot/plugnmeet-stt/pkg/config"
	"github.com/mynaparrot/plugnmeet-stt/pkg/controllers"
	"github.com/mynaparrot/plugnmeet-stt/pkg/logging"
	"github.com/mynaparrot/plugnmeet-stt/pkg/models"
	"github.com/mynaparrot/plugnmeet-stt/pkg/stt/media"
)

// ApplicationControllers holds all the controllers.
type ApplicationControllers struct {
	HealthCheckController   *controllers.HealthCheckController
	ModelController         *controllers.ModelController
	TranscriptionController *controllers.TranscriptionController
	LogStreamController     *controllers.LogStreamController
}

// Application is the root struct holding all dependencies.
type Application struct {
	Controllers  *ApplicationControllers
	AppConfig    *config.AppConfig
	Ctx          context.Context
	modelManager *models.ModelManager
	decoder      *media.Decoder
	broadcaster  *logging.Broadcaster
}

func (a *Application) Boot() {
	log := a.AppConfig.Logger
	log.Infof("Shared audio directory: %s", a.AppConfig.AudioSettings.SharedPath)
	log.Infof("Model cache directory: %s", a.AppConfig.ModelSettings.CachePath)
	log.Infof("Speech-to-text engine: %s", a.AppConfig.ModelSettings.Engine)
	log.Infoln("Service initialized in IDLE state.")
}

// Shutdown unloads the model and stops the background workers. The log
// broadcaster goes last so the shutdown lines still reach subscribers.
func (a *Application) Shutdown() {
	log := a.AppConfig.Logger
	log.Infoln("STT Service Shutting Down")
	a.modelManager.Shutdown()
	a.decoder.Close()
	log.Infoln("Service shutdown complete.")
	a.broadcaster.Close()
}
