package app

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// profiler appends per-section render timings to a CSV file. A nil profiler
// records nothing.
type profiler struct {
	mu    sync.Mutex
	file  *os.File
	start time.Time
	last  time.Time
	rows  uint64
}

func newProfiler(path string) (*profiler, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	p := &profiler{file: f}
	if info, err := f.Stat(); err == nil && info.Size() == 0 {
		fmt.Fprintln(p.file, "timestamp,section,delta_ms")
	}
	return p, nil
}

func (p *profiler) beginFrame() {
	if p == nil {
		return
	}
	now := time.Now()
	p.start = now
	p.last = now
}

func (p *profiler) markSection(name string) {
	if p == nil {
		return
	}
	now := time.Now()
	delta := now.Sub(p.last).Seconds() * 1000
	p.last = now
	p.log(name, delta)
}

func (p *profiler) endFrame() {
	if p == nil {
		return
	}
	p.log("frame_total", time.Since(p.start).Seconds()*1000)
}

// Rows reports how many timings were written.
func (p *profiler) Rows() uint64 {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rows
}

func (p *profiler) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.file == nil {
		return nil
	}
	err := p.file.Close()
	p.file = nil
	return err
}

func (p *profiler) log(section string, deltaMs float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.file == nil {
		return
	}
	timestamp := time.Now().Format(time.RFC3339Nano)
	fmt.Fprintf(p.file, "%s,%s,%.3f\n", timestamp, section, deltaMs)
	p.rows++
}
