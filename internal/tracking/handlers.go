package tracking

import (
	"errors"

	"backend-runhub/internal/auth"
	"backend-runhub/internal/run"
	"backend-runhub/internal/sensor"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, m *Manager, authMiddleware fiber.Handler) {
	r.Post("/runs", authMiddleware, func(c *fiber.Ctx) error {
		userID := auth.UserID(c)
		if userID == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "user required")
		}
		rec, err := m.Start(c.Context(), userID)
		if err != nil {
			return toFiberError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(rec)
	})

	r.Post("/runs/:id/pause", authMiddleware, owned(m), func(c *fiber.Ctx) error {
		if err := m.Pause(c.Params("id")); err != nil {
			return toFiberError(err)
		}
		return liveResponse(c, m)
	})

	r.Post("/runs/:id/resume", authMiddleware, owned(m), func(c *fiber.Ctx) error {
		if err := m.Resume(c.Params("id")); err != nil {
			if errors.Is(err, ErrRunNotLive) {
				return toFiberError(err)
			}
			return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
		}
		return liveResponse(c, m)
	})

	r.Post("/runs/:id/stop", authMiddleware, owned(m), func(c *fiber.Ctx) error {
		rec, err := m.Stop(c.Context(), c.Params("id"))
		if err != nil {
			return toFiberError(err)
		}
		return c.JSON(rec)
	})

	r.Post("/runs/:id/samples", authMiddleware, owned(m), func(c *fiber.Ctx) error {
		var samples []sensor.Sample
		if err := c.BodyParser(&samples); err != nil {
			var single sensor.Sample
			if err := c.BodyParser(&single); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
			}
			samples = []sensor.Sample{single}
		}
		for i, s := range samples {
			if err := m.Ingest(c.Params("id"), s); err != nil {
				if i > 0 && errors.Is(err, sensor.ErrBackpressure) {
					return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"accepted": i})
				}
				return toFiberError(err)
			}
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"accepted": len(samples)})
	})

	r.Get("/runs/:id", func(c *fiber.Ctx) error {
		if rec, err := m.Live(c.Params("id")); err == nil {
			return c.JSON(rec)
		}
		rec, err := m.store.GetRun(c.Context(), c.Params("id"))
		if err != nil {
			return toFiberError(err)
		}
		return c.JSON(rec)
	})

	r.Get("/runs/:id/path", func(c *fiber.Ctx) error {
		path, err := m.store.Path(c.Context(), c.Params("id"))
		if err != nil {
			return toFiberError(err)
		}
		return c.JSON(path)
	})
}

// owned rejects requests on live runs that belong to another user.
func owned(m *Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		rec, err := m.Live(c.Params("id"))
		if err != nil {
			return toFiberError(err)
		}
		if rec.UserID != auth.UserID(c) {
			return fiber.NewError(fiber.StatusForbidden, "run belongs to another user")
		}
		return c.Next()
	}
}

func liveResponse(c *fiber.Ctx, m *Manager) error {
	rec, err := m.Live(c.Params("id"))
	if err != nil {
		return toFiberError(err)
	}
	return c.JSON(rec)
}

func toFiberError(err error) error {
	switch {
	case errors.Is(err, ErrRunNotFound), errors.Is(err, ErrRunNotLive):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, run.ErrAlreadyRunning), errors.Is(err, sensor.ErrNotStarted):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, sensor.ErrUnknownSampleType), errors.Is(err, ErrIngestUnsupported):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, sensor.ErrBackpressure):
		return fiber.NewError(fiber.StatusTooManyRequests, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
}
