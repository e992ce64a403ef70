// Package export writes a node's image out of the canvas as a JPEG file.
package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"flora/internal/imaging"
	"flora/internal/logging"
	"flora/internal/tree"
)

// ErrNoImage means the node has nothing to export yet.
var ErrNoImage = errors.New("node has no image to export")

// Filename builds the export name from the node label and a timestamp:
// flora-<lowercased label>-<unix ms>.jpg.
func Filename(label string, at time.Time) string {
	return fmt.Sprintf("flora-%s-%d.jpg", strings.ToLower(label), at.UnixMilli())
}

// Node decodes a node's image and writes it into dir, returning the full
// path. Pending or empty nodes cannot be exported.
func Node(n tree.Node, dir string) (string, error) {
	return nodeAt(n, dir, time.Now())
}

func nodeAt(n tree.Node, dir string, at time.Time) (string, error) {
	if n.Pending || n.ImageURL == "" {
		return "", ErrNoImage
	}

	data, _, err := imaging.DecodeDataURL(n.ImageURL)
	if err != nil {
		return "", fmt.Errorf("decode node image: %w", err)
	}

	path := filepath.Join(dir, Filename(n.Label, at))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	logging.Export("exported node=%s path=%s bytes=%d", n.ID, path, len(data))
	return path, nil
}
