package tui

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"
	"sync/atomic"

	"github.com/charmbracelet/lipgloss"

	"github.com/tatianab/ai-game-assistant/internal/loop"
	"github.com/tatianab/ai-game-assistant/internal/models"
)

// upperHalf is drawn with the top pixel as foreground and the bottom pixel
// as background, so one cell shows two rows.
const upperHalf = "▀"

// ScreenRenderer turns captures into terminal art Width cells wide.
type ScreenRenderer struct {
	Width int
	live  atomic.Int64
}

func NewScreenRenderer(width int) *ScreenRenderer {
	return &ScreenRenderer{Width: width}
}

// Live returns the number of art handles not yet released.
func (r *ScreenRenderer) Live() int {
	return int(r.live.Load())
}

// Art is a rendered capture. It is empty once released.
type Art struct {
	text     atomic.Pointer[string]
	released atomic.Bool
	owner    *ScreenRenderer
}

func (a *Art) String() string {
	if p := a.text.Load(); p != nil {
		return *p
	}
	return ""
}

// Release drops the rendered text. Only the first call counts.
func (a *Art) Release() {
	if a.released.CompareAndSwap(false, true) {
		a.text.Store(nil)
		a.owner.live.Add(-1)
	}
}

func (a *Art) Released() bool {
	return a.released.Load()
}

func (r *ScreenRenderer) Render(screen models.Screen) (loop.Handle, error) {
	img, _, err := image.Decode(bytes.NewReader(screen.Data))
	if err != nil {
		return nil, fmt.Errorf("decode %s screen: %w", screen.Format(), err)
	}
	text := halfBlocks(img, r.Width)
	a := &Art{owner: r}
	a.text.Store(&text)
	r.live.Add(1)
	return a, nil
}

// halfBlocks scales img to width cells with nearest-neighbour sampling.
func halfBlocks(img image.Image, width int) string {
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return ""
	}
	if width <= 0 || width > b.Dx() {
		width = b.Dx()
	}
	rows := b.Dy() * width / b.Dx()
	if rows%2 == 1 {
		rows++
	}

	hex := func(x, y int) lipgloss.Color {
		sx := b.Min.X + x*b.Dx()/width
		sy := b.Min.Y + y*b.Dy()/rows
		if sy >= b.Max.Y {
			sy = b.Max.Y - 1
		}
		cr, cg, cb, _ := img.At(sx, sy).RGBA()
		return lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", cr>>8, cg>>8, cb>>8))
	}

	var sb strings.Builder
	for y := 0; y < rows; y += 2 {
		for x := 0; x < width; x++ {
			sb.WriteString(lipgloss.NewStyle().
				Foreground(hex(x, y)).
				Background(hex(x, y+1)).
				Render(upperHalf))
		}
		if y+2 < rows {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}
