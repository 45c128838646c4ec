// Package media persists generated artifacts into a thread's media
// directory. The producer decides how content arrives (raw bytes, a
// hosted URL, base64, a local file); this package normalizes all of
// them to a file on disk and hands back the path.
package media

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pseudoapp/pseudo/internal/content"
	"github.com/pseudoapp/pseudo/internal/fsutil"
	"github.com/pseudoapp/pseudo/internal/httpkit"
	"github.com/pseudoapp/pseudo/internal/modality"
)

// Persister writes generated media to disk.
type Persister struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a Persister. Downloads of hosted artifacts get a 30
// second budget and retry transient connection failures.
func New(logger *slog.Logger) *Persister {
	if logger == nil {
		logger = slog.Default()
	}
	return &Persister{
		logger: logger,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(30*time.Second),
			httpkit.WithRetry(2, 500*time.Millisecond),
			httpkit.WithLogger(logger),
		),
	}
}

// Persist writes c into dir and returns the full path of the new file.
// Text and empty content cannot be persisted and return an error.
func (p *Persister) Persist(ctx context.Context, c content.Content, mode modality.Mode, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}

	switch c.Kind() {
	case content.KindBytes:
		return p.writeBytes(c.Data(), mode, dir)
	case content.KindURL:
		return p.fetchAndWrite(ctx, c.String(), mode, dir)
	case content.KindBase64:
		data, err := decodeBase64(c.String())
		if err != nil {
			return "", fmt.Errorf("decode base64 media: %w", err)
		}
		return p.writeBytes(data, mode, dir)
	case content.KindFile:
		return p.copyFile(c.String(), mode, dir)
	default:
		return "", fmt.Errorf("cannot persist %s content as media", c.Kind())
	}
}

func (p *Persister) writeBytes(data []byte, mode modality.Mode, dir string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("no media bytes to write")
	}

	path := filepath.Join(dir, newFilename(mode, detectExt(data, mode)))
	if err := fsutil.WriteFileAtomic(path, data, 0644); err != nil {
		return "", fmt.Errorf("write media: %w", err)
	}

	p.logger.Info("media saved", "mode", mode, "path", path, "bytes", len(data))
	return path, nil
}

func (p *Persister) fetchAndWrite(ctx context.Context, url string, mode modality.Mode, dir string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 1024)
		return "", fmt.Errorf("fetch media: status %d: %s", resp.StatusCode, errBody)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read media body: %w", err)
	}

	return p.writeBytes(data, mode, dir)
}

func (p *Persister) copyFile(src string, mode modality.Mode, dir string) (string, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return "", fmt.Errorf("read source media: %w", err)
	}

	ext := filepath.Ext(src)
	if ext == "" {
		ext = detectExt(data, mode)
	}

	path := filepath.Join(dir, newFilename(mode, ext))
	if err := fsutil.WriteFileAtomic(path, data, 0644); err != nil {
		return "", fmt.Errorf("copy media: %w", err)
	}

	p.logger.Info("media copied", "mode", mode, "src", src, "path", path)
	return path, nil
}

// newFilename builds a unique media filename. The mode prefix matters:
// the chat store infers a message's modality from it as a last resort.
func newFilename(mode modality.Mode, ext string) string {
	ts := time.Now().UTC().Format("20060102_150405")
	short := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_%s_%s%s", mode, ts, short, ext)
}

// detectExt sniffs an image format from the payload, falling back to
// the mode's conventional extension.
func detectExt(data []byte, mode modality.Mode) string {
	if mode == modality.Image {
		switch http.DetectContentType(data) {
		case "image/png":
			return ".png"
		case "image/jpeg":
			return ".jpg"
		case "image/gif":
			return ".gif"
		case "image/webp":
			return ".webp"
		}
		return ".png"
	}
	if mode == modality.Audio {
		return ".mp3"
	}
	return ".bin"
}

// decodeBase64 decodes payload, tolerating a data URL wrapper.
func decodeBase64(s string) ([]byte, error) {
	if i := strings.Index(s, ";base64,"); i >= 0 {
		s = s[i+len(";base64,"):]
	}
	return base64.StdEncoding.DecodeString(strings.TrimSpace(s))
}
