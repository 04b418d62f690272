package controllers

import (
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/mynaparrot/plugnmeet-stt/pkg/config"
	"github.com/mynaparrot/plugnmeet-stt/pkg/models"
	"github.com/mynaparrot/plugnmeet-stt/pkg/stt"
	"github.com/sirupsen/logrus"
)

const (
	serviceStatusLoaded = "model_loaded"
	serviceStatusIdle   = "idle_no_model"
)

// ModelController exposes the model lifecycle.
type ModelController struct {
	app     *config.AppConfig
	manager *models.ModelManager
	logger  *logrus.Entry
}

func NewModelController(app *config.AppConfig, manager *models.ModelManager, logger *logrus.Logger) *ModelController {
	return &ModelController{
		app:     app,
		manager: manager,
		logger:  logger.WithField("controller", "model"),
	}
}

func (mc *ModelController) HandleStatus(c *fiber.Ctx) error {
	st, err := mc.manager.Describe(c.UserContext())
	if err != nil {
		return sendDetail(c, fiber.StatusInternalServerError, err.Error())
	}

	status := serviceStatusIdle
	if st.Loaded {
		status = serviceStatusLoaded
	}
	return c.JSON(fiber.Map{
		"service_status":      status,
		"loaded_model_config": st.Config,
	})
}

func (mc *ModelController) HandleLoadModel(c *fiber.Ctx) error {
	req := stt.NewModelConfig()
	if err := json.Unmarshal(c.Body(), req); err != nil {
		return sendDetail(c, fiber.StatusUnprocessableEntity, config.InvalidRequestBody+": "+err.Error())
	}
	if err := req.Validate(); err != nil {
		return sendDetail(c, fiber.StatusUnprocessableEntity, err.Error())
	}

	if err := mc.manager.Load(c.UserContext(), req); err != nil {
		return sendDetail(c, fiber.StatusInternalServerError, err.Error())
	}

	return c.JSON(fiber.Map{
		"status":  config.StatusSuccess,
		"message": config.ModelLoadedSuccessfully,
		"config":  req,
	})
}

func (mc *ModelController) HandleUnloadModel(c *fiber.Ctx) error {
	if err := mc.manager.Unload(c.UserContext()); err != nil {
		return sendDetail(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{
		"status":  config.StatusSuccess,
		"message": config.ModelUnloaded,
	})
}
