package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/pelusa-v/pelusa-live/internal/notification"
	"github.com/pelusa-v/pelusa-live/internal/relay"
	"github.com/pelusa-v/pelusa-live/internal/store"
)

type fanoutRequest struct {
	Recipients []string               `json:"recipients"`
	SenderID   string                 `json:"senderId"`
	Type       store.NotificationType `json:"type"`
	Content    string                 `json:"content"`
	RelatedID  string                 `json:"relatedId"`
}

// FanoutHandler POST /api/internal/notifications
func (h *Handler) FanoutHandler(c *fiber.Ctx) error {
	var body fanoutRequest
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	if len(body.Recipients) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "recipients are required")
	}
	reqs := make([]notification.Request, 0, len(body.Recipients))
	for _, r := range body.Recipients {
		reqs = append(reqs, notification.Request{
			RecipientID: strings.TrimSpace(r),
			SenderID:    body.SenderID,
			Type:        body.Type,
			Content:     body.Content,
			RelatedID:   body.RelatedID,
		})
	}
	res := h.Notifications.NotifyMany(c.UserContext(), reqs)
	status := fiber.StatusOK
	if res.Queued {
		status = fiber.StatusAccepted
	}
	return c.Status(status).JSON(res)
}

// EventHandler POST /api/internal/events
func (h *Handler) EventHandler(c *fiber.Ctx) error {
	var ev relay.Event
	if err := c.BodyParser(&ev); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	n, err := h.Relay.Emit(ev)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"delivered": n})
}
