package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/pelusa-v/pelusa-live/internal/auth"
)

const defaultNotificationLimit = 50

// NotificationsHandler GET /api/notifications?limit=
func (h *Handler) NotificationsHandler(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultNotificationLimit)
	if limit <= 0 {
		limit = defaultNotificationLimit
	}
	out, err := h.Notifications.List(c.UserContext(), auth.IdentityFrom(c), limit)
	if err != nil {
		return err
	}
	return c.JSON(out)
}

// UnreadCountHandler GET /api/notifications/unread-count
func (h *Handler) UnreadCountHandler(c *fiber.Ctx) error {
	n, err := h.Notifications.UnreadCount(c.UserContext(), auth.IdentityFrom(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"count": n})
}

// MarkReadHandler PATCH /api/notifications/:id/read
func (h *Handler) MarkReadHandler(c *fiber.Ctx) error {
	if err := h.Notifications.MarkRead(c.UserContext(), auth.IdentityFrom(c), c.Params("id")); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true})
}

// MarkAllReadHandler PATCH /api/notifications/read-all
func (h *Handler) MarkAllReadHandler(c *fiber.Ctx) error {
	if err := h.Notifications.MarkAllRead(c.UserContext(), auth.IdentityFrom(c)); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true})
}
