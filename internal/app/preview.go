package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/eiannone/keyboard"
	"golang.org/x/term"

	applog "github.com/guidoenr/rgbvis/internal/log"
	"github.com/guidoenr/rgbvis/internal/render"
	"github.com/guidoenr/rgbvis/internal/settings"
)

// PreviewMode selects how the output image is shown locally.
type PreviewMode string

const (
	PreviewNone     PreviewMode = "none"
	PreviewTerminal PreviewMode = "term"
	PreviewSDL      PreviewMode = "sdl"
)

const previewFPS = 20

type inputEvent int

const (
	inputEventRandomize inputEvent = iota
	inputEventNextForeground
	inputEventNextBackground
	inputEventToggleSingle
	inputEventQuit
)

// RunPreview shows the output image until ctx is done or the user quits.
// It returns nil when the user asked to quit.
func (a *App) RunPreview(ctx context.Context, mode PreviewMode, scale int) error {
	switch mode {
	case PreviewTerminal:
		return a.runTerminal(ctx)
	case PreviewSDL:
		return a.runWindow(ctx, scale)
	case PreviewNone, "":
		<-ctx.Done()
		return ctx.Err()
	default:
		return fmt.Errorf("unknown preview mode %q", mode)
	}
}

func (a *App) runTerminal(ctx context.Context) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return errors.New("terminal preview needs a terminal on stdout")
	}
	ticker := time.NewTicker(time.Second / previewFPS)
	defer ticker.Stop()

	enterAltScreen()
	clearScreen()
	hideCursor()
	defer func() {
		showCursor()
		exitAltScreen()
	}()

	inputCtx, cancelInput := context.WithCancel(ctx)
	defer cancelInput()
	events := startInputListener(inputCtx)

	preview := render.NewTerminalPreview(80, 24)
	img := render.NewImage(render.Width, render.Height)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for {
		select {
		case <-ctx.Done():
			moveCursorHome()
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if evt == inputEventQuit {
				moveCursorHome()
				return nil
			}
			a.applyInput(evt, rng)
		case <-ticker.C:
			width, height := terminalSize(preview)
			preview.Resize(width, height-1)
			a.renderer.Output(img)

			var b strings.Builder
			moveCursorHome()
			for _, line := range preview.Frame(img) {
				b.WriteString(line)
				b.WriteByte('\n')
			}
			status := preview.Status(a.Spectrum(), a.store.Get(), a.FPS())
			status = fmt.Sprintf("%s | %s", status, a.AudioName())
			b.WriteString(statusBar(status, width))
			fmt.Print(b.String())
		}
	}
}

func (a *App) runWindow(ctx context.Context, scale int) error {
	if !render.SupportsSDL() {
		return errors.New("sdl preview not compiled in, rebuild with -tags sdl")
	}
	win, err := render.OpenWindow(scale)
	if err != nil {
		return fmt.Errorf("open preview window: %w", err)
	}
	defer win.Close()

	ticker := time.NewTicker(time.Second / previewFPS)
	defer ticker.Stop()
	img := render.NewImage(render.Width, render.Height)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.renderer.Output(img)
			title := fmt.Sprintf("rgbvis | %s | %.0f fps", a.AudioName(), a.FPS())
			if err := win.Present(img, title); err != nil {
				if errors.Is(err, render.ErrWindowClosed) {
					return nil
				}
				return err
			}
		}
	}
}

// applyInput maps a key to a settings change. Changes go through the store
// like any other edit so they reach sync peers.
func (a *App) applyInput(evt inputEvent, rng *rand.Rand) {
	names := render.PatternNames()
	err := a.store.Update(func(s *settings.Settings) {
		switch evt {
		case inputEventRandomize:
			s.FrgdMode = pickRandom(len(names), s.FrgdMode, rng)
			s.BkgdMode = pickRandom(len(names), s.BkgdMode, rng)
		case inputEventNextForeground:
			s.FrgdMode = (s.FrgdMode + 1) % len(names)
		case inputEventNextBackground:
			s.BkgdMode = (s.BkgdMode + 1) % len(names)
		case inputEventToggleSingle:
			s.SingleColorMode = !s.SingleColorMode
		}
	})
	if err != nil {
		applog.Warnf("preview: %v", err)
		return
	}
	s := a.store.Get()
	applog.Debugf("preview: fg=%s bg=%s single=%t",
		render.Pattern(s.FrgdMode), render.Pattern(s.BkgdMode), s.SingleColorMode)
}

func terminalSize(p *render.TerminalPreview) (int, int) {
	w, h, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 || h <= 1 {
		return p.Size()
	}
	return w, h
}

func startInputListener(ctx context.Context) <-chan inputEvent {
	if err := keyboard.Open(); err != nil {
		applog.Warnf("preview: keyboard input disabled: %v", err)
		return nil
	}

	events := make(chan inputEvent, 16)
	closeOnce := &sync.Once{}
	go func() {
		<-ctx.Done()
		closeOnce.Do(func() {
			_ = keyboard.Close()
		})
	}()

	go func() {
		defer close(events)
		defer closeOnce.Do(func() {
			_ = keyboard.Close()
		})
		for {
			char, key, err := keyboard.GetKey()
			if err != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
			var evt inputEvent
			switch {
			case key == keyboard.KeyEsc || key == keyboard.KeyCtrlC, char == 'q' || char == 'Q':
				events <- inputEventQuit
				return
			case char == 'r' || char == 'R':
				evt = inputEventRandomize
			case char == 'f' || char == 'F':
				evt = inputEventNextForeground
			case char == 'b' || char == 'B':
				evt = inputEventNextBackground
			case char == 's' || char == 'S', key == keyboard.KeySpace:
				evt = inputEventToggleSingle
			default:
				continue
			}
			select {
			case events <- evt:
			default:
			}
		}
	}()
	return events
}

func statusBar(text string, width int) string {
	if width <= 0 {
		return text
	}
	if len(text) >= width {
		return text[:width]
	}
	return text + strings.Repeat(" ", width-len(text))
}

// pickRandom returns an index in [0, n) that differs from current when it can.
func pickRandom(n, current int, rng *rand.Rand) int {
	if n <= 1 {
		return 0
	}
	choice := current
	for attempts := 0; attempts < 4 && choice == current; attempts++ {
		choice = rng.Intn(n)
	}
	return choice
}

func clearScreen() {
	fmt.Print("\x1b[2J")
	moveCursorHome()
}

func moveCursorHome() {
	fmt.Print("\x1b[H")
}

func hideCursor() {
	fmt.Print("\x1b[?25l")
}

func showCursor() {
	fmt.Print("\x1b[?25h")
}

func enterAltScreen() {
	fmt.Print("\x1b[?1049h")
}

func exitAltScreen() {
	fmt.Print("\x1b[?1049l\x1b[0m")
}
