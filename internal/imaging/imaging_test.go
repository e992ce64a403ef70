package imaging

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

// pngDataURL encodes a solid-color RGBA image of the given size as a PNG
// data URL, with alpha to exercise background flattening.
func pngDataURL(t *testing.T, w, h int, c color.RGBA) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestNormalizeDownscalesLongestEdge(t *testing.T) {
	src := pngDataURL(t, 2048, 512, color.RGBA{R: 200, A: 255})

	n, err := Normalize(context.Background(), src)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if n.Width != MaxEdge || n.Height != 256 {
		t.Errorf("dimensions=%dx%d, want %dx256", n.Width, n.Height, MaxEdge)
	}
	if n.MIME != "image/jpeg" {
		t.Errorf("mime=%s, want image/jpeg", n.MIME)
	}
	decoded, err := jpeg.Decode(bytes.NewReader(n.Data))
	if err != nil {
		t.Fatalf("output is not valid JPEG: %v", err)
	}
	if got := decoded.Bounds().Dx(); got != MaxEdge {
		t.Errorf("encoded width=%d, want %d", got, MaxEdge)
	}
}

func TestNormalizeKeepsSmallImages(t *testing.T) {
	src := pngDataURL(t, 300, 400, color.RGBA{G: 120, A: 255})

	n, err := Normalize(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	if n.Width != 300 || n.Height != 400 {
		t.Errorf("small image was rescaled to %dx%d", n.Width, n.Height)
	}
}

func TestNormalizeFlattensTransparency(t *testing.T) {
	// Fully transparent source must come out opaque and near-white.
	src := pngDataURL(t, 8, 8, color.RGBA{})

	n, err := Normalize(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := jpeg.Decode(bytes.NewReader(n.Data))
	if err != nil {
		t.Fatal(err)
	}
	r, g, b, a := decoded.At(4, 4).RGBA()
	if a != 0xffff {
		t.Errorf("output not opaque: alpha=%#x", a)
	}
	for _, ch := range []uint32{r, g, b} {
		if ch < 0xf000 {
			t.Errorf("transparent pixel not flattened to white: rgb=%#x %#x %#x", r, g, b)
		}
	}
}

func TestNormalizeRejectsUnknownSources(t *testing.T) {
	for _, src := range []string{"", "file:///etc/passwd", "plain text", "ftp://host/x.png"} {
		if _, err := Normalize(context.Background(), src); !isInputFormat(err) {
			t.Errorf("source %q: got %v, want input format error", src, err)
		}
	}
}

func TestNormalizeRejectsUndecodableData(t *testing.T) {
	src := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("not an image"))
	if _, err := Normalize(context.Background(), src); !isInputFormat(err) {
		t.Errorf("got %v, want input format error", err)
	}
}

func isInputFormat(err error) bool {
	return errors.Is(err, ErrInputFormat)
}

func TestDecodeDataURL(t *testing.T) {
	data, mime, err := DecodeDataURL("data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("abc")))
	if err != nil {
		t.Fatal(err)
	}
	if mime != "image/jpeg" || string(data) != "abc" {
		t.Errorf("got mime=%q data=%q", mime, data)
	}

	if _, _, err := DecodeDataURL("data:image/jpeg;base64"); err == nil {
		t.Error("missing comma should fail")
	}
	if _, _, err := DecodeDataURL("http://x"); err == nil {
		t.Error("non data URL should fail")
	}
}

func TestClosestAspectRatio(t *testing.T) {
	cases := []struct {
		w, h int
		want string
	}{
		{1024, 1024, "1:1"},
		{1000, 1050, "1:1"},
		{768, 1024, "3:4"},
		{1024, 768, "4:3"},
		{540, 960, "9:16"},
		{1920, 1080, "16:9"},
		{3840, 1080, "16:9"}, // ultrawide clamps to widest supported
		{500, 2000, "9:16"},  // very tall clamps to tallest supported
		{0, 100, "1:1"},
		{100, 0, "1:1"},
	}
	for _, tc := range cases {
		if got := ClosestAspectRatio(tc.w, tc.h); got != tc.want {
			t.Errorf("ClosestAspectRatio(%d, %d)=%s, want %s", tc.w, tc.h, got, tc.want)
		}
	}
}
