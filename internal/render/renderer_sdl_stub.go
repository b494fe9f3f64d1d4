//go:build !sdl

package render

import "errors"

// Window is unavailable without the sdl build tag.
type Window struct{}

// OpenWindow always fails in builds without SDL.
func OpenWindow(scale int) (*Window, error) {
	return nil, errors.New("SDL preview not enabled; rebuild with -tags sdl")
}

func (w *Window) Present(img *Image, title string) error { return ErrWindowClosed }

func (w *Window) Close() error { return nil }

func SupportsSDL() bool { return false }
