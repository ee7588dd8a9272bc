// Package media uploads chat attachments to the media store and returns
// the URL clients fetch them from.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/google/uuid"
)

type Kind string

const (
	KindImage Kind = "image"
	KindAudio Kind = "audio"
)

var (
	ErrUnsupportedType = errors.New("unsupported media type")
	ErrTooLarge        = errors.New("media too large")
)

// Upload is one attachment as received from the client.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Store puts an attachment somewhere reachable and returns its URL.
// Delete removes an attachment by the URL Put returned.
type Store interface {
	Put(ctx context.Context, kind Kind, u Upload) (string, error)
	Delete(ctx context.Context, url string) error
}

// extensions lists the accepted media types and the extension each is
// stored under. Anything scriptable (svg, html) is left out.
var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"audio/mpeg": ".mp3",
	"audio/mp4":  ".m4a",
	"audio/aac":  ".aac",
	"audio/ogg":  ".ogg",
	"audio/webm": ".webm",
	"audio/wav":  ".wav",
}

// mediaType returns the accepted media type of u for kind.
func mediaType(kind Kind, u Upload) (string, bool) {
	mt, _, err := mime.ParseMediaType(u.ContentType)
	if err != nil || !strings.HasPrefix(mt, string(kind)+"/") {
		return "", false
	}
	_, ok := extensions[mt]
	return mt, ok
}

// Check rejects uploads whose content type is not an accepted type of kind
// or whose size exceeds maxBytes (maxBytes <= 0 disables the size check).
func Check(kind Kind, u Upload, maxBytes int64) error {
	if _, ok := mediaType(kind, u); !ok {
		return fmt.Errorf("%w: %q for %s", ErrUnsupportedType, u.ContentType, kind)
	}
	if maxBytes > 0 && u.Size > maxBytes {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, u.Size, maxBytes)
	}
	return nil
}

// objectKey builds "<kind>/<uuid><ext>" with the extension taken from the
// checked content type. The client's file name is ignored.
func objectKey(kind Kind, u Upload) (string, error) {
	mt, ok := mediaType(kind, u)
	if !ok {
		return "", fmt.Errorf("%w: %q for %s", ErrUnsupportedType, u.ContentType, kind)
	}
	return string(kind) + "/" + uuid.NewString() + extensions[mt], nil
}
