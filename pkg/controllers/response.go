package controllers

import (
	"github.com/gofiber/fiber/v2"
)

// sendDetail writes the error body shape every endpoint shares.
func sendDetail(c *fiber.Ctx, status int, detail string) error {
	return c.Status(status).JSON(fiber.Map{
		"detail": detail,
	})
}
