//go:build sdl

package render

import (
	"fmt"

	"github.com/veandco/go-sdl2/sdl"
)

type sdlState struct {
	window      *sdl.Window
	renderer    *sdl.Renderer
	texture     *sdl.Texture
	pixelBuffer []byte
	pitch       int
	windowTitle string
}

// Window is a native preview window showing the output image.
type Window struct {
	state *sdlState
	scale int
}

// OpenWindow creates a preview window scaled by scale pixels per cell.
func OpenWindow(scale int) (*Window, error) {
	if scale <= 0 {
		scale = 4
	}
	if err := sdl.InitSubSystem(sdl.INIT_VIDEO); err != nil {
		return nil, err
	}
	w := &Window{state: &sdlState{}, scale: scale}
	if err := w.ensureResources(); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}

func (w *Window) ensureResources() error {
	state := w.state
	if state.window == nil {
		window, err := sdl.CreateWindow(
			"rgbvis",
			sdl.WINDOWPOS_CENTERED, sdl.WINDOWPOS_CENTERED,
			int32(Width*w.scale), int32(Height*w.scale),
			sdl.WINDOW_SHOWN|sdl.WINDOW_RESIZABLE,
		)
		if err != nil {
			return err
		}
		state.window = window
	}
	if state.renderer == nil {
		renderer, err := sdl.CreateRenderer(state.window, -1, sdl.RENDERER_ACCELERATED|sdl.RENDERER_PRESENTVSYNC)
		if err != nil {
			return err
		}
		state.renderer = renderer
		_ = renderer.SetLogicalSize(int32(Width), int32(Height))
	}
	if state.texture == nil {
		tex, err := state.renderer.CreateTexture(
			sdl.PIXELFORMAT_ABGR8888,
			sdl.TEXTUREACCESS_STREAMING,
			int32(Width), int32(Height),
		)
		if err != nil {
			return err
		}
		state.texture = tex
		state.pitch = Width * 4
		state.pixelBuffer = make([]byte, state.pitch*Height)
	}
	return nil
}

// Present uploads img and pumps window events. It returns ErrWindowClosed
// once the user closes the window.
func (w *Window) Present(img *Image, title string) error {
	if w.state == nil {
		return fmt.Errorf("sdl window closed")
	}
	state := w.state
	for y := 0; y < Height; y++ {
		rowOffset := y * state.pitch
		for x := 0; x < Width; x++ {
			c := img.At(x, y)
			offset := rowOffset + x*4
			state.pixelBuffer[offset+0] = c.R
			state.pixelBuffer[offset+1] = c.G
			state.pixelBuffer[offset+2] = c.B
			state.pixelBuffer[offset+3] = 255
		}
	}
	if title != "" && title != state.windowTitle {
		state.window.SetTitle(title)
		state.windowTitle = title
	}
	if err := state.texture.Update(nil, state.pixelBuffer, state.pitch); err != nil {
		return err
	}
	if err := state.renderer.Clear(); err != nil {
		return err
	}
	if err := state.renderer.Copy(state.texture, nil, nil); err != nil {
		return err
	}
	state.renderer.Present()
	for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
		if _, ok := event.(*sdl.QuitEvent); ok {
			return ErrWindowClosed
		}
	}
	return nil
}

// Close destroys the window and its resources.
func (w *Window) Close() error {
	if w.state == nil {
		return nil
	}
	if w.state.texture != nil {
		w.state.texture.Destroy()
	}
	if w.state.renderer != nil {
		w.state.renderer.Destroy()
	}
	if w.state.window != nil {
		w.state.window.Destroy()
	}
	w.state = nil
	sdl.QuitSubSystem(sdl.INIT_VIDEO)
	return nil
}

func SupportsSDL() bool { return true }
