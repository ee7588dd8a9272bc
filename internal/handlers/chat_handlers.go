package handlers

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/pelusa-v/pelusa-live/internal/auth"
	"github.com/pelusa-v/pelusa-live/internal/chat"
)

// RegisterHandler GET /api/ws?identity= (or ?token=)
func (h *Handler) RegisterHandler(c *websocket.Conn) {
	identity, _ := c.Locals(auth.LocalsIdentity).(string)
	h.serveClient(chat.NewClient(identity, c, h.SendBuffer, h.DedupeSize))
}

// serveClient pumps frames until the connection drops. The client is closed
// and its write pump has exited before it returns: the websocket handler
// recycles the connection as soon as it returns.
func (h *Handler) serveClient(client *chat.Client) {
	h.Manager.Register(client)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		client.WritePump()
	}()
	client.ReadPump()
	client.Close()
	<-writerDone
	h.Manager.Unregister(client)
}

// PresenceHandler GET /api/presence
func (h *Handler) PresenceHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"online": h.Manager.Online()})
}

// ShowClientsHandler GET /api/internal/clients
func (h *Handler) ShowClientsHandler(c *fiber.Ctx) error {
	return c.JSON(h.Manager.ListClients())
}
