//go:build wireinject
// +build wireinject

package factory

import (
	"context"

	"github.com/google/wire"
	"github.com/mynaparrot/plugnmeet-stt/pkg/config"
	"github.com/mynaparrot/plugnmeet-stt/pkg/controllers"
	"github.com/mynaparrot/plugnmeet-stt/pkg/logging"
	"github.com/mynaparrot/plugnmeet-stt/pkg/models"
	"github.com/mynaparrot/plugnmeet-stt/pkg/pathguard"
	sttservice "github.com/mynaparrot/plugnmeet-stt/pkg/services/stt"
	"github.com/mynaparrot/plugnmeet-stt/pkg/stt/media"
	"github.com/sirupsen/logrus"
)

func providePathGuard(app *config.AppConfig) (*pathguard.Guard, error) {
	return pathguard.New(app.AudioSettings.SharedPath)
}

// provideBroadcaster attaches the log bridge to the process logger; from then on every
// log line is published to websocket subscribers.
func provideBroadcaster(app *config.AppConfig, logger *logrus.Logger) *logging.Broadcaster {
	b := logging.NewBroadcaster(app.LogSettings.LoggerName, config.LogDeliveryTimeout)
	logger.AddHook(b)
	return b
}

// build the dependency set for services
var serviceSet = wire.NewSet(
	sttservice.NewEngine,
	providePathGuard,
	provideBroadcaster,
	media.NewDecoder,
)

// build the dependency set for models
var modelSet = wire.NewSet(
	models.NewModelManager,
	models.NewTranscriptionModel,
)

// build the dependency set for controllers
var controllerSet = wire.NewSet(
	controllers.NewHealthCheckController,
	controllers.NewModelController,
	controllers.NewTranscriptionController,
	controllers.NewLogStreamController,
)

// NewAppFactory is the injector function that wire will implement.
func NewAppFactory(ctx context.Context, appConfig *config.AppConfig) (*Application, error) {
	wire.Build(
		serviceSet,
		modelSet,
		controllerSet,
		wire.FieldsOf(new(*config.AppConfig), "Logger"),

		wire.Struct(new(ApplicationControllers), "*"),
		wire.Struct(new(Application), "*"),
	)
	return nil, nil
}
