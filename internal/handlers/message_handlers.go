package handlers

import (
	"io"
	"mime/multipart"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/pelusa-v/pelusa-live/internal/auth"
	"github.com/pelusa-v/pelusa-live/internal/media"
	"github.com/pelusa-v/pelusa-live/internal/messaging"
)

// SendMessageHandler POST /api/messages/:receiverId
// Accepts multipart (text, image, audio) or JSON {"text": "..."}.
func (h *Handler) SendMessageHandler(c *fiber.Ctx) error {
	in := messaging.SendInput{
		SenderID:   auth.IdentityFrom(c),
		ReceiverID: c.Params("receiverId"),
	}

	if strings.HasPrefix(string(c.Request().Header.ContentType()), fiber.MIMEMultipartForm) {
		form, err := c.MultipartForm()
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid multipart form")
		}
		if v := form.Value["text"]; len(v) > 0 {
			in.Text = v[0]
		}
		var closers []io.Closer
		defer func() {
			for _, cl := range closers {
				cl.Close()
			}
		}()
		for field, dst := range map[string]**media.Upload{"image": &in.Image, "audio": &in.Audio} {
			files := form.File[field]
			if len(files) == 0 {
				continue
			}
			u, f, err := openUpload(files[0])
			if err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "unreadable "+field)
			}
			closers = append(closers, f)
			*dst = u
		}
	} else {
		var body struct {
			Text string `json:"text"`
		}
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid body")
		}
		in.Text = body.Text
	}

	msg, err := h.Messages.Send(c.UserContext(), in)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

func openUpload(fh *multipart.FileHeader) (*media.Upload, io.Closer, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, nil, err
	}
	return &media.Upload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get(fiber.HeaderContentType),
		Size:        fh.Size,
		Body:        f,
	}, f, nil
}

// ConversationHandler GET /api/messages/:otherId
func (h *Handler) ConversationHandler(c *fiber.Ctx) error {
	msgs, err := h.Messages.Conversation(c.UserContext(), auth.IdentityFrom(c), c.Params("otherId"))
	if err != nil {
		return err
	}
	return c.JSON(msgs)
}

// ConversationsHandler GET /api/conversations
func (h *Handler) ConversationsHandler(c *fiber.Ctx) error {
	convs, err := h.Messages.Conversations(c.UserContext(), auth.IdentityFrom(c))
	if err != nil {
		return err
	}
	return c.JSON(convs)
}
