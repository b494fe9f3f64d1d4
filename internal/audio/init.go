package audio

import (
	"sync"

	"github.com/gordonklaus/portaudio"
)

var (
	paMu    sync.Mutex
	paUsers int
)

// Initialize brings up PortAudio. Calls nest; each successful call must be
// balanced by Terminate.
func Initialize() error {
	paMu.Lock()
	defer paMu.Unlock()
	if paUsers == 0 {
		if err := portaudio.Initialize(); err != nil {
			return err
		}
	}
	paUsers++
	return nil
}

// Terminate releases one Initialize. PortAudio shuts down with the last one.
func Terminate() {
	paMu.Lock()
	defer paMu.Unlock()
	if paUsers == 0 {
		return
	}
	paUsers--
	if paUsers == 0 {
		_ = portaudio.Terminate()
	}
}
