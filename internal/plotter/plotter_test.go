package plotter

import (
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"meshchat/internal/topology"
)

func TestWriteProducesValidPNG(t *testing.T) {
	tp := topology.New("A")
	tp.SetConnection("A", "B")
	tp.SetConnection("B", "C")

	path := filepath.Join(t.TempDir(), "plot.png")
	if err := Write(path, tp); err != nil {
		t.Fatalf("write: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if img.Bounds().Dx() != canvasSize || img.Bounds().Dy() != canvasSize {
		t.Fatalf("unexpected canvas size: %v", img.Bounds())
	}
}

func TestWriteHandlesSinglePeer(t *testing.T) {
	tp := topology.New("A")
	path := filepath.Join(t.TempDir(), "plot.png")
	if err := Write(path, tp); err != nil {
		t.Fatalf("write: %v", err)
	}
}
