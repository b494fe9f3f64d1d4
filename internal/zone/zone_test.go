package zone

import (
	"image/color"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/guidoenr/rgbvis/internal/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gradientImage() *render.Image {
	img := render.NewImage(render.Width, render.Height)
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: uint8(x ^ y), A: 0xff})
		}
	}
	return img
}

func TestRowMajorRoundTrip(t *testing.T) {
	img := gradientImage()
	idx := RowMajor(img.Width, img.Height)
	require.NoError(t, idx.Validate(img.Width, img.Height))

	got := Map(img, idx, nil)
	if diff := cmp.Diff(img.Pix, got); diff != "" {
		t.Fatalf("row-major mapping mismatch (-want +got):\n%s", diff)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		idx  Index
		want error
	}{
		{"ok", Index{Width: 2, Height: 1, X: []int{0, 255}, Y: []int{0, 63}}, nil},
		{"short x", Index{Width: 2, Height: 1, X: []int{0}, Y: []int{0, 1}}, ErrCountMismatch},
		{"short y", Index{Width: 1, Height: 2, X: []int{0, 1}, Y: []int{0}}, ErrCountMismatch},
		{"x past width", Index{Width: 1, Height: 1, X: []int{256}, Y: []int{0}}, ErrOutOfRange},
		{"negative y", Index{Width: 1, Height: 1, X: []int{0}, Y: []int{-1}}, ErrOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.idx.Validate(render.Width, render.Height)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestForGeometryIsAlwaysValid(t *testing.T) {
	for _, kind := range []Type{Single, Linear, Matrix} {
		for _, size := range [][2]int{{1, 1}, {30, 1}, {22, 6}, {300, 1}, {8, 80}} {
			idx := ForGeometry(kind, size[0], size[1], render.Width, render.Height)
			assert.NoError(t, idx.Validate(render.Width, render.Height), "%s %v", kind, size)
		}
	}
}

func TestForGeometryLayouts(t *testing.T) {
	single := ForGeometry(Single, 3, 1, render.Width, render.Height)
	assert.Equal(t, []int{render.SingleColorRow, render.SingleColorRow, render.SingleColorRow}, single.Y)

	strip := ForGeometry(Linear, 5, 1, render.Width, render.Height)
	assert.Equal(t, []int{0, 63, 127, 191, 255}, strip.X)
	assert.Equal(t, []int{0, 0, 0, 0, 0}, strip.Y)

	m := ForGeometry(Matrix, 2, 2, render.Width, render.Height)
	assert.Equal(t, []int{0, 255, 0, 255}, m.X)
	assert.Equal(t, []int{2, 2, 63, 63}, m.Y)
}

func TestMapReusesBuffer(t *testing.T) {
	img := gradientImage()
	idx := Index{Width: 3, Height: 1, X: []int{5, 1, 9}, Y: []int{2, 2, 2}}
	buf := make([]color.RGBA, 0, 8)
	got := Map(img, idx, buf)
	require.Len(t, got, 3)
	assert.Equal(t, img.At(1, 2), got[1])
	assert.Equal(t, &buf[:1][0], &got[0])
}

func TestParseType(t *testing.T) {
	for _, kind := range []Type{Single, Linear, Matrix} {
		got, err := ParseType(kind.String())
		require.NoError(t, err)
		assert.Equal(t, kind, got)
	}
	_, err := ParseType("hexagon")
	assert.Error(t, err)
}
