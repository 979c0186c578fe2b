package tracking

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Get("/snapshot", func(c *fiber.Ctx) error {
		return c.JSON(svc.Snapshot())
	})

	r.Get("/map", func(c *fiber.Ctx) error {
		return c.JSON(svc.Map())
	})

	r.Get("/entities/:id", func(c *fiber.Ctx) error {
		view, err := svc.Entity(c.Params("id"))
		if err != nil {
			return notFoundOr500(err)
		}
		return c.JSON(view)
	})

	r.Get("/entities/:id/trail", func(c *fiber.Ctx) error {
		view, err := svc.Trail(c.Params("id"))
		if err != nil {
			return notFoundOr500(err)
		}
		return c.JSON(view)
	})

	r.Post("/refresh", authMiddleware, func(c *fiber.Ctx) error {
		return c.JSON(svc.Refresh())
	})
}

func notFoundOr500(err error) error {
	if errors.Is(err, ErrEntityNotFound) {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	return fiber.NewError(fiber.StatusInternalServerError, err.Error())
}
