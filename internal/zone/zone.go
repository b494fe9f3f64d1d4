package zone

import (
	"errors"
	"fmt"
	"image/color"

	"github.com/guidoenr/rgbvis/internal/render"
)

// Type is the physical layout of a controller zone.
type Type int

const (
	Single Type = iota
	Linear
	Matrix
)

func (t Type) String() string {
	switch t {
	case Single:
		return "single"
	case Linear:
		return "linear"
	case Matrix:
		return "matrix"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// ParseType resolves a layout name.
func ParseType(name string) (Type, error) {
	switch name {
	case "single", "":
		return Single, nil
	case "linear", "strip":
		return Linear, nil
	case "matrix":
		return Matrix, nil
	}
	return 0, fmt.Errorf("unknown zone type %q", name)
}

func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Type) UnmarshalText(text []byte) error {
	v, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

var (
	ErrCountMismatch = errors.New("zone index count does not match zone size")
	ErrOutOfRange    = errors.New("zone index outside image bounds")
)

// Index maps the LEDs of one zone, in physical order, onto image
// coordinates. X and Y hold Width*Height entries.
type Index struct {
	Width  int   `yaml:"width" json:"width"`
	Height int   `yaml:"height" json:"height"`
	X      []int `yaml:"x" json:"x"`
	Y      []int `yaml:"y" json:"y"`
}

// Len is the number of LEDs in the zone.
func (idx Index) Len() int {
	return idx.Width * idx.Height
}

// Validate checks the coordinate count and that every coordinate lies on an
// imgW by imgH image.
func (idx Index) Validate(imgW, imgH int) error {
	if idx.Width < 0 || idx.Height < 0 {
		return fmt.Errorf("zone size %dx%d: %w", idx.Width, idx.Height, ErrCountMismatch)
	}
	n := idx.Len()
	if len(idx.X) != n || len(idx.Y) != n {
		return fmt.Errorf("%dx%d zone has %d x and %d y entries: %w", idx.Width, idx.Height, len(idx.X), len(idx.Y), ErrCountMismatch)
	}
	for i := 0; i < n; i++ {
		x, y := idx.X[i], idx.Y[i]
		if x < 0 || y < 0 || x >= imgW || y >= imgH {
			return fmt.Errorf("led %d at (%d,%d) on %dx%d image: %w", i, x, y, imgW, imgH, ErrOutOfRange)
		}
	}
	return nil
}

// RowMajor enumerates (0,0)..(w-1,h-1) row by row.
func RowMajor(w, h int) Index {
	idx := Index{Width: w, Height: h, X: make([]int, 0, w*h), Y: make([]int, 0, w*h)}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx.X = append(idx.X, x)
			idx.Y = append(idx.Y, y)
		}
	}
	return idx
}

// ForGeometry builds the default index for a zone of the given layout on an
// imgW by imgH image. Single zones sample the single-color row, linear zones
// spread across the bar-graph row and matrices are scaled onto the
// spectrograph area.
func ForGeometry(kind Type, w, h, imgW, imgH int) Index {
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	idx := Index{Width: w, Height: h, X: make([]int, 0, w*h), Y: make([]int, 0, w*h)}
	switch kind {
	case Single:
		for i := 0; i < w*h; i++ {
			idx.X = append(idx.X, imgW/2)
			idx.Y = append(idx.Y, render.SingleColorRow)
		}
	case Linear:
		n := w * h
		for i := 0; i < n; i++ {
			idx.X = append(idx.X, spread(i, n, imgW))
			idx.Y = append(idx.Y, render.BarRow)
		}
	default:
		area := imgH - render.SpectrographTop
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				idx.X = append(idx.X, spread(x, w, imgW))
				idx.Y = append(idx.Y, render.SpectrographTop+spread(y, h, area))
			}
		}
	}
	return idx
}

// spread maps i of n evenly onto [0, size).
func spread(i, n, size int) int {
	if n <= 1 || size <= 1 {
		return 0
	}
	return i * (size - 1) / (n - 1)
}

// Map samples img at every coordinate of idx, appending to dst in LED order.
// idx must have passed Validate for img's size.
func Map(img *render.Image, idx Index, dst []color.RGBA) []color.RGBA {
	dst = dst[:0]
	for i := range idx.X {
		dst = append(dst, img.At(idx.X[i], idx.Y[i]))
	}
	return dst
}
