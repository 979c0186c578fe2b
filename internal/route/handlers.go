package route

import (
	"errors"

	"backend-bikefleet/internal/polyline"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, svc *Service) {
	r.Get("/:id", func(c *fiber.Ctx) error {
		ride, err := svc.Ride(c.Context(), c.Params("id"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(ride)
	})

	r.Get("/:id/path", func(c *fiber.Ctx) error {
		samples, err := svc.Path(c.Context(), c.Params("id"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(fiber.Map{"ride_id": c.Params("id"), "points": samples})
	})

	r.Get("/:id/summary", func(c *fiber.Ctx) error {
		summary, err := svc.Summary(c.Context(), c.Params("id"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(summary)
	})
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrRideNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, ErrNoRouteData), errors.Is(err, polyline.ErrMalformed):
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
}
