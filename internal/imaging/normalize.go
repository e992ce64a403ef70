// Package imaging normalizes image inputs before they are sent to the
// provider: decode, bound the longest edge, flatten transparency onto an
// opaque background, and re-encode at a fixed JPEG quality.
package imaging

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	stddraw "image/draw"
	"image/jpeg"
	_ "image/gif"
	_ "image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"flora/internal/logging"

	xdraw "golang.org/x/image/draw"
)

// ErrInputFormat marks an image source that is neither an embedded data URL
// nor a fetchable network reference, or that failed to fetch/decode.
var ErrInputFormat = errors.New("unsupported image source")

const (
	// MaxEdge bounds the longest edge of a normalized image.
	MaxEdge = 1024
	// JPEGQuality is the fixed re-encode quality.
	JPEGQuality = 85
	// fetchLimit caps how many bytes a network fetch will read.
	fetchLimit = 32 << 20
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

// Normalized is a size-bounded, opaque, JPEG-encoded image.
type Normalized struct {
	Data   []byte
	MIME   string
	Width  int
	Height int
}

// Base64 returns the JPEG bytes as a base64 string.
func (n *Normalized) Base64() string {
	return base64.StdEncoding.EncodeToString(n.Data)
}

// DataURL returns the normalized image as an embedded data URL.
func (n *Normalized) DataURL() string {
	return "data:" + n.MIME + ";base64," + n.Base64()
}

// Normalize accepts either a data URL or an http(s) URL, decodes it,
// downscales so the longest edge does not exceed MaxEdge, flattens onto a
// white background, and re-encodes as JPEG.
func Normalize(ctx context.Context, source string) (*Normalized, error) {
	if source == "" {
		return nil, fmt.Errorf("%w: empty source", ErrInputFormat)
	}

	timer := logging.StartTimer(logging.CategoryStudio, "image normalize")
	defer timer.Stop()

	var raw []byte
	switch {
	case strings.HasPrefix(source, "data:"):
		data, _, err := DecodeDataURL(source)
		if err != nil {
			return nil, err
		}
		raw = data
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		data, err := fetch(ctx, source)
		if err != nil {
			return nil, err
		}
		raw = data
	default:
		return nil, fmt.Errorf("%w: %.24q", ErrInputFormat, source)
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: decode failed: %v", ErrInputFormat, err)
	}

	return flattenAndEncode(img)
}

// DecodeDataURL extracts the raw bytes and MIME type from a data URL.
func DecodeDataURL(s string) (data []byte, mime string, err error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return nil, "", fmt.Errorf("%w: not a data URL", ErrInputFormat)
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", fmt.Errorf("%w: malformed data URL", ErrInputFormat)
	}
	mime = header
	if i := strings.Index(header, ";"); i >= 0 {
		mime = header[:i]
	}
	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("%w: base64 decode failed: %v", ErrInputFormat, err)
	}
	return data, mime, nil
}

func fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInputFormat, err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch failed: %v", ErrInputFormat, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: fetch returned status %d", ErrInputFormat, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, fetchLimit))
	if err != nil {
		return nil, fmt.Errorf("%w: read failed: %v", ErrInputFormat, err)
	}
	return data, nil
}

// flattenAndEncode scales img into the edge bound, composites it over white
// (transparency ambiguity confuses image models), and encodes JPEG.
func flattenAndEncode(img image.Image) (*Normalized, error) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrInputFormat)
	}

	outW, outH := w, h
	if w >= h && w > MaxEdge {
		outH = h * MaxEdge / w
		outW = MaxEdge
	} else if h > w && h > MaxEdge {
		outW = w * MaxEdge / h
		outH = MaxEdge
	}
	if outW < 1 {
		outW = 1
	}
	if outH < 1 {
		outH = 1
	}

	flat := image.NewRGBA(image.Rect(0, 0, outW, outH))
	stddraw.Draw(flat, flat.Bounds(), image.NewUniform(color.White), image.Point{}, stddraw.Src)
	xdraw.CatmullRom.Scale(flat, flat.Bounds(), img, bounds, xdraw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, flat, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}

	return &Normalized{
		Data:   buf.Bytes(),
		MIME:   "image/jpeg",
		Width:  outW,
		Height: outH,
	}, nil
}
