// Package handlers exposes the websocket endpoint and the HTTP API.
package handlers

import (
	"crypto/subtle"
	"log/slog"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/keyauth"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/pelusa-v/pelusa-live/internal/auth"
	"github.com/pelusa-v/pelusa-live/internal/chat"
	"github.com/pelusa-v/pelusa-live/internal/messaging"
	"github.com/pelusa-v/pelusa-live/internal/notification"
	"github.com/pelusa-v/pelusa-live/internal/relay"
)

// HeaderInternalKey authenticates collaborator services on /api/internal.
const HeaderInternalKey = "X-Internal-Key"

// Deps are the services the handlers call into.
type Deps struct {
	Manager       *chat.ChatManager
	Messages      *messaging.Service
	Notifications *notification.Service
	Relay         *relay.Relay
	Verifier      *auth.Verifier
	// InternalKey enables the /api/internal routes when non-empty.
	InternalKey string
	SendBuffer  int
	DedupeSize  int
	Logger      *slog.Logger
}

type Handler struct {
	Deps
	logger *slog.Logger
}

func New(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Verifier == nil {
		deps.Verifier = auth.NewVerifier("")
	}
	return &Handler{Deps: deps, logger: logger.With("component", "http")}
}

// NewApp builds a fiber app with the shared middleware stack.
func NewApp(bodyLimit int, logger *slog.Logger) *fiber.App {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := fiber.Config{
		ErrorHandler:          ErrorHandler(logger),
		DisableStartupMessage: true,
	}
	if bodyLimit > 0 {
		cfg.BodyLimit = bodyLimit
	}
	app := fiber.New(cfg)
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(RequestLogger(logger))
	return app
}

// Routes mounts every endpoint on app.
func (h *Handler) Routes(app *fiber.App) {
	app.Get("/health", h.HealthHandler)

	app.Use("/api/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/api/ws", auth.Handshake(h.Verifier), websocket.New(h.RegisterHandler))

	if h.InternalKey != "" {
		internal := app.Group("/api/internal", keyauth.New(keyauth.Config{
			KeyLookup: "header:" + HeaderInternalKey,
			Validator: func(_ *fiber.Ctx, key string) (bool, error) {
				if subtle.ConstantTimeCompare([]byte(key), []byte(h.InternalKey)) == 1 {
					return true, nil
				}
				return false, keyauth.ErrMissingOrMalformedAPIKey
			},
			ErrorHandler: func(c *fiber.Ctx, _ error) error {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid internal key"})
			},
		}))
		internal.Post("/notifications", h.FanoutHandler)
		internal.Post("/events", h.EventHandler)
		internal.Get("/clients", h.ShowClientsHandler)
	} else {
		h.logger.Warn("internal key not configured, collaborator hooks disabled")
	}

	api := app.Group("/api", auth.Middleware(h.Verifier))
	api.Get("/presence", h.PresenceHandler)

	api.Post("/messages/:receiverId", h.SendMessageHandler)
	api.Get("/messages/:otherId", h.ConversationHandler)
	api.Get("/conversations", h.ConversationsHandler)

	api.Get("/notifications", h.NotificationsHandler) // ?limit=
	api.Get("/notifications/unread-count", h.UnreadCountHandler)
	api.Patch("/notifications/read-all", h.MarkAllReadHandler)
	api.Patch("/notifications/:id/read", h.MarkReadHandler)
}

// HealthHandler GET /health
func (h *Handler) HealthHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok", "online": len(h.Manager.Online())})
}
