package feed

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// RegisterRoutes exposes ingest endpoints for in-process sources. A body is
// published as a snapshot; ?error=... reports a channel failure instead.
func RegisterRoutes(r fiber.Router, sources []*MemorySource, authMiddleware fiber.Handler) {
	byChannel := make(map[Channel]*MemorySource, len(sources))
	for _, src := range sources {
		byChannel[src.Channel()] = src
	}

	r.Post("/:channel", authMiddleware, func(c *fiber.Ctx) error {
		src, ok := byChannel[Channel(c.Params("channel"))]
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "unknown channel")
		}

		if msg := c.Query("error"); msg != "" {
			src.Fail(fmt.Errorf("%w: %s", ErrChannelDown, msg))
			return c.SendStatus(fiber.StatusAccepted)
		}

		snap, err := DecodeSnapshot(c.Body())
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		src.Publish(snap)
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"entities": len(snap)})
	})
}
