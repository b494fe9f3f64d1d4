package render

import "image/color"

// Logical grid dimensions. Row BarRow carries one level per column,
// SingleColorRow carries the flat amplitude color and the rows from
// SpectrographTop down form the spectrograph area.
const (
	Width           = 256
	Height          = 64
	BarRow          = 0
	SingleColorRow  = 1
	SpectrographTop = 2
)

// Image is a fixed-size RGB grid addressed row-major.
type Image struct {
	Width  int
	Height int
	Pix    []color.RGBA
}

// NewImage allocates a black image.
func NewImage(width, height int) *Image {
	return &Image{
		Width:  width,
		Height: height,
		Pix:    make([]color.RGBA, width*height),
	}
}

// At returns the pixel at x, y. Out-of-range reads return black.
func (m *Image) At(x, y int) color.RGBA {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return color.RGBA{A: 0xff}
	}
	return m.Pix[y*m.Width+x]
}

// Set writes the pixel at x, y. Out-of-range writes are ignored.
func (m *Image) Set(x, y int, c color.RGBA) {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return
	}
	m.Pix[y*m.Width+x] = c
}

// Fill paints every pixel with c.
func (m *Image) Fill(c color.RGBA) {
	for i := range m.Pix {
		m.Pix[i] = c
	}
}

// CopyFrom copies src into m, reallocating when the sizes differ.
func (m *Image) CopyFrom(src *Image) {
	if len(m.Pix) != len(src.Pix) {
		m.Pix = make([]color.RGBA, len(src.Pix))
	}
	m.Width = src.Width
	m.Height = src.Height
	copy(m.Pix, src.Pix)
}

// Uniform reports whether every pixel equals the first one.
func (m *Image) Uniform() bool {
	if len(m.Pix) == 0 {
		return true
	}
	first := m.Pix[0]
	for _, c := range m.Pix[1:] {
		if c != first {
			return false
		}
	}
	return true
}
