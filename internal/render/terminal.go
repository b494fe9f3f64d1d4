package render

import (
	"strconv"
	"strings"

	"github.com/guidoenr/rgbvis/internal/analyzer"
	"github.com/guidoenr/rgbvis/internal/settings"
)

var (
	resetANSI       = "\x1b[0m"
	precomputedANSI [256]string
)

func init() {
	for i := range precomputedANSI {
		precomputedANSI[i] = "\x1b[38;5;" + strconv.Itoa(i) + "m"
	}
}

// TerminalPreview draws an Image as 256-color ANSI blocks scaled to the
// terminal size.
type TerminalPreview struct {
	width         int
	height        int
	statusBuilder strings.Builder
}

// NewTerminalPreview creates a preview of the given character size.
func NewTerminalPreview(width, height int) *TerminalPreview {
	t := &TerminalPreview{}
	t.Resize(width, height)
	return t
}

// Resize updates the character grid size. Non-positive values are ignored.
func (t *TerminalPreview) Resize(width, height int) {
	if width > 0 {
		t.width = width
	}
	if height > 0 {
		t.height = height
	}
}

// Size returns the character grid size.
func (t *TerminalPreview) Size() (int, int) {
	return t.width, t.height
}

// Frame samples img onto the character grid and returns one string per row.
func (t *TerminalPreview) Frame(img *Image) []string {
	if t.width <= 0 || t.height <= 0 || img.Width == 0 || img.Height == 0 {
		return nil
	}
	lines := make([]string, t.height)
	for row := 0; row < t.height; row++ {
		var builder strings.Builder
		builder.Grow(t.width * 12)
		y := row * img.Height / t.height
		lastColor := -1
		for col := 0; col < t.width; col++ {
			x := col * img.Width / t.width
			c := img.At(x, y)
			code := rgbToANSI(float64(c.R)/255, float64(c.G)/255, float64(c.B)/255)
			if code != lastColor {
				builder.WriteString(colorCode(code))
				lastColor = code
			}
			builder.WriteRune('█')
		}
		builder.WriteString(resetANSI)
		lines[row] = builder.String()
	}
	return lines
}

// Status summarizes the running state in one line.
func (t *TerminalPreview) Status(spec analyzer.Spectrum, s settings.Settings, fps float64) string {
	builder := &t.statusBuilder
	builder.Reset()
	builder.Grow(128)
	builder.WriteString("fg=")
	builder.WriteString(Pattern(s.FrgdMode).String())
	builder.WriteString(" bg=")
	builder.WriteString(Pattern(s.BkgdMode).String())
	builder.WriteString(" win=")
	builder.WriteString(s.WindowMode.String())
	builder.WriteString(" avg=")
	builder.WriteString(s.AvgMode.String())
	if s.SingleColorMode {
		builder.WriteString(" SINGLE")
	}
	builder.WriteString(" | amp ")
	appendFloat(builder, spec.Amplitude, 2)
	builder.WriteString(" energy ")
	appendFloat(builder, spec.Energy, 2)
	builder.WriteString(" fps ")
	appendFloat(builder, fps, 1)
	return builder.String()
}

func colorCode(index int) string {
	if index < 0 {
		index = 0
	} else if index >= len(precomputedANSI) {
		index = len(precomputedANSI) - 1
	}
	return precomputedANSI[index]
}

func appendFloat(builder *strings.Builder, value float64, precision int) {
	var buf [32]byte
	b := strconv.AppendFloat(buf[:0], value, 'f', precision, 64)
	builder.Write(b)
}
