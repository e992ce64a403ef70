package export

import (
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"flora/internal/tree"
)

func TestFilename(t *testing.T) {
	at := time.UnixMilli(1700000000000)
	got := Filename("SEED FRAME", at)
	want := "flora-seed frame-1700000000000.jpg"
	if got != want {
		t.Errorf("Filename=%q, want %q", got, want)
	}
}

func TestNodeWritesDecodedImage(t *testing.T) {
	dir := t.TempDir()
	payload := []byte{0xff, 0xd8, 0xff, 0xe0, 0x01, 0x02}
	n := tree.Node{
		ID:       "n1",
		Label:    "CAMERA VIEW",
		ImageURL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(payload),
	}

	path, err := nodeAt(n, dir, time.UnixMilli(42))
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if filepath.Base(path) != "flora-camera view-42.jpg" {
		t.Errorf("unexpected name %q", filepath.Base(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != string(payload) {
		t.Error("written bytes differ from decoded image")
	}
}

func TestNodeRejectsPendingAndEmpty(t *testing.T) {
	dir := t.TempDir()
	cases := []tree.Node{
		{ID: "p", Label: "POSE", Pending: true, ImageURL: "data:image/jpeg;base64,QQ=="},
		{ID: "e", Label: "POSE"},
	}
	for _, n := range cases {
		if _, err := Node(n, dir); !errors.Is(err, ErrNoImage) {
			t.Errorf("node %s: got %v, want ErrNoImage", n.ID, err)
		}
	}
}

func TestNodeRejectsNonDataURL(t *testing.T) {
	n := tree.Node{ID: "x", Label: "POSE", ImageURL: "https://example.com/a.jpg"}
	if _, err := Node(n, t.TempDir()); err == nil {
		t.Error("expected decode error for non data URL")
	}
}
