package messaging

import "github.com/pelusa-v/pelusa-live/internal/store"

const (
	previewRunes = 20
	photoLabel   = "sent a photo"
	voiceLabel   = "sent a voice message"
)

// Preview is the notification text for msg: the start of the text, else a
// photo label, else a voice label.
func Preview(msg store.Message) string {
	switch {
	case msg.Text != "":
		r := []rune(msg.Text)
		if len(r) <= previewRunes {
			return msg.Text
		}
		return string(r[:previewRunes]) + "..."
	case msg.ImageURL != "":
		return photoLabel
	case msg.AudioURL != "":
		return voiceLabel
	}
	return ""
}
