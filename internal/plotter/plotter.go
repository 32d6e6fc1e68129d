// Package plotter renders the overlay topology to plot.png for human
// inspection (spec.md §6). This is a pluggable leaf: no third-party
// graph-rendering library appears anywhere in the reference corpus, so
// it is built directly on the standard library's image/png.
package plotter

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"sort"

	"meshchat/internal/topology"
)

const (
	canvasSize = 512
	margin     = 48
	nodeRadius = 6
)

// Write renders t's peers and edges on a circular layout and writes
// the result to path (spec.md §6: "Files written: plot.png").
func Write(path string, t *topology.Topology) error {
	peers := t.Peers()
	sort.Slice(peers, func(i, j int) bool { return peers[i].Hostname < peers[j].Hostname })

	img := image.NewRGBA(image.Rect(0, 0, canvasSize, canvasSize))
	fillBackground(img, color.White)

	points := layout(peers)
	drawEdges(img, peers, points, color.Gray{Y: 128})
	for _, p := range peers {
		drawNode(img, points[p.Hostname], nodeColor(p.Hostname, t.Center()))
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("plotter: create %s: %w", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("plotter: encode png: %w", err)
	}
	return nil
}

func layout(peers []topology.Peer) map[string]image.Point {
	points := make(map[string]image.Point, len(peers))
	if len(peers) == 0 {
		return points
	}
	center := float64(canvasSize) / 2
	radius := center - margin
	n := len(peers)
	for i, p := range peers {
		angle := 2 * math.Pi * float64(i) / float64(n)
		x := center + radius*math.Cos(angle)
		y := center + radius*math.Sin(angle)
		points[p.Hostname] = image.Point{X: int(x), Y: int(y)}
	}
	return points
}

func nodeColor(hostname, center string) color.Color {
	if hostname == center {
		return color.RGBA{R: 200, G: 30, B: 30, A: 255}
	}
	return color.RGBA{R: 30, G: 90, B: 200, A: 255}
}

func fillBackground(img *image.RGBA, c color.Color) {
	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			img.Set(x, y, c)
		}
	}
}

func drawEdges(img *image.RGBA, peers []topology.Peer, points map[string]image.Point, c color.Color) {
	drawn := make(map[[2]string]bool)
	for _, p := range peers {
		a := points[p.Hostname]
		for neighbor := range p.Neighbors {
			key := edgeKey(p.Hostname, neighbor)
			if drawn[key] {
				continue
			}
			drawn[key] = true
			b, ok := points[neighbor]
			if !ok {
				continue
			}
			drawLine(img, a, b, c)
		}
	}
}

func edgeKey(a, b string) [2]string {
	if a < b {
		return [2]string{a, b}
	}
	return [2]string{b, a}
}

// drawLine uses Bresenham's algorithm, sufficient for a thin topology
// sketch at this canvas size.
func drawLine(img *image.RGBA, a, b image.Point, c color.Color) {
	dx := abs(b.X - a.X)
	dy := -abs(b.Y - a.Y)
	sx, sy := 1, 1
	if a.X >= b.X {
		sx = -1
	}
	if a.Y >= b.Y {
		sy = -1
	}
	err := dx + dy
	x, y := a.X, a.Y
	for {
		img.Set(x, y, c)
		if x == b.X && y == b.Y {
			break
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x += sx
		}
		if e2 <= dx {
			err += dx
			y += sy
		}
	}
}

func drawNode(img *image.RGBA, p image.Point, c color.Color) {
	for dy := -nodeRadius; dy <= nodeRadius; dy++ {
		for dx := -nodeRadius; dx <= nodeRadius; dx++ {
			if dx*dx+dy*dy <= nodeRadius*nodeRadius {
				img.Set(p.X+dx, p.Y+dy, c)
			}
		}
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
