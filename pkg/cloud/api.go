package cloud

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teslashibe/go-avatar/pkg/protocol"
)

// RegisterAPIRoutes registers API routes for avatar management
func (h *Hub) RegisterAPIRoutes(api fiber.Router) {
	avatars := api.Group("/avatars")

	// List connected avatars
	avatars.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"avatars": h.GetAvatarInfos(),
			"count":   h.AvatarCount(),
		})
	})

	// Get hub stats
	avatars.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(h.GetStats())
	})

	// Broadcast must be registered before the /:id routes.
	avatars.Post("/broadcast/emotion", func(c *fiber.Ctx) error {
		msg, err := decodeCommand(c, protocol.TypeEmotion)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "sent", "count": h.Broadcast(msg)})
	})

	for _, typ := range []protocol.MessageType{
		protocol.TypeEmotion,
		protocol.TypeMorph,
		protocol.TypeAnimation,
		protocol.TypeLipSync,
		protocol.TypeArousal,
		protocol.TypeLookAt,
	} {
		avatars.Post("/:id/"+string(typ), h.commandHandler(typ))
	}
}

// commandHandler decodes the request body as an inbound command of typ and
// sends it to the avatar named in the path.
func (h *Hub) commandHandler(typ protocol.MessageType) fiber.Handler {
	return func(c *fiber.Ctx) error {
		avatarID := c.Params("id")

		msg, err := decodeCommand(c, typ)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}

		if err := h.Send(avatarID, msg); err != nil {
			status := fiber.StatusInternalServerError
			if errors.Is(err, ErrAvatarNotConnected) {
				status = fiber.StatusNotFound
			}
			return c.Status(status).JSON(fiber.Map{"error": err.Error()})
		}

		return c.JSON(fiber.Map{"status": "sent"})
	}
}

// decodeCommand runs a request body through the wire codec so REST commands
// get the same defaults and validation as websocket commands.
func decodeCommand(c *fiber.Ctx, typ protocol.MessageType) (protocol.Message, error) {
	body := map[string]json.RawMessage{}
	if len(c.Body()) > 0 {
		if err := json.Unmarshal(c.Body(), &body); err != nil {
			return nil, err
		}
	}

	t, _ := json.Marshal(typ)
	body["type"] = t

	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return protocol.Decode(data)
}

// RegisterMetricsRoute serves the Prometheus registry at /metrics.
func RegisterMetricsRoute(app fiber.Router, gatherer prometheus.Gatherer) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}
