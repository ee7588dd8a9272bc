package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Disk stores attachments under Dir and serves them from BaseURL.
type Disk struct {
	Dir     string
	BaseURL string
}

func NewDisk(dir, baseURL string) (*Disk, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &Disk{Dir: dir, BaseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (d *Disk) Put(ctx context.Context, kind Kind, u Upload) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key, err := objectKey(kind, u)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(d.Dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}
	f, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create media file: %w", err)
	}
	if _, err := io.Copy(f, u.Body); err != nil {
		f.Close()
		_ = os.Remove(dst)
		return "", fmt.Errorf("write media file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(dst)
		return "", fmt.Errorf("close media file: %w", err)
	}
	return d.BaseURL + "/" + key, nil
}

// Delete removes the file behind url. Missing files are not an error.
func (d *Disk) Delete(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, ok := strings.CutPrefix(url, d.BaseURL+"/")
	if !ok || key == "" || !filepath.IsLocal(filepath.FromSlash(key)) {
		return fmt.Errorf("media url %q is not under %s", url, d.BaseURL)
	}
	err := os.Remove(filepath.Join(d.Dir, filepath.FromSlash(key)))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove media file: %w", err)
	}
	return nil
}
