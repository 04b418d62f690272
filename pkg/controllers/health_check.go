package controllers

import (
	"github.com/gofiber/fiber/v2"
)

type HealthCheckController struct{}

func NewHealthCheckController() *HealthCheckController {
	return &HealthCheckController{}
}

func (hc *HealthCheckController) HandleHealthCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).SendString("Healthy")
}
