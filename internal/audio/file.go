package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	gomp3 "github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
)

// pcmDecoder yields interleaved float samples.
type pcmDecoder interface {
	read(dst []float32) (int, error)
	channels() int
	sampleRate() int
}

type wavDecoder struct {
	dec   *wav.Decoder
	buf   *goaudio.IntBuffer
	scale float32
}

func newWavDecoder(r io.ReadSeeker) (*wavDecoder, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, errors.New("not a valid wav file")
	}
	dec.ReadInfo()
	if err := dec.Err(); err != nil {
		return nil, err
	}
	if dec.NumChans == 0 || dec.BitDepth == 0 {
		return nil, errors.New("wav header has no channels or bit depth")
	}
	return &wavDecoder{
		dec:   dec,
		buf:   &goaudio.IntBuffer{Format: dec.Format(), SourceBitDepth: int(dec.BitDepth)},
		scale: float32(int64(1) << (dec.BitDepth - 1)),
	}, nil
}

func (w *wavDecoder) read(dst []float32) (int, error) {
	if cap(w.buf.Data) < len(dst) {
		w.buf.Data = make([]int, len(dst))
	}
	w.buf.Data = w.buf.Data[:len(dst)]
	n, err := w.dec.PCMBuffer(w.buf)
	for i := 0; i < n; i++ {
		dst[i] = float32(w.buf.Data[i]) / w.scale
	}
	if n == 0 && err == nil {
		err = io.EOF
	}
	return n, err
}

func (w *wavDecoder) channels() int   { return int(w.dec.NumChans) }
func (w *wavDecoder) sampleRate() int { return int(w.dec.SampleRate) }

// mp3Decoder converts go-mp3's 16-bit little-endian stereo output.
type mp3Decoder struct {
	dec *gomp3.Decoder
	raw []byte
}

func newMP3Decoder(r io.Reader) (*mp3Decoder, error) {
	dec, err := gomp3.NewDecoder(r)
	if err != nil {
		return nil, err
	}
	return &mp3Decoder{dec: dec}, nil
}

func (m *mp3Decoder) read(dst []float32) (int, error) {
	need := len(dst) * 2
	if cap(m.raw) < need {
		m.raw = make([]byte, need)
	}
	m.raw = m.raw[:need]
	n, err := io.ReadFull(m.dec, m.raw)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = nil
	}
	samples := n / 2
	for i := 0; i < samples; i++ {
		v := int16(uint16(m.raw[2*i]) | uint16(m.raw[2*i+1])<<8)
		dst[i] = float32(v) / 32768
	}
	return samples, err
}

func (m *mp3Decoder) channels() int   { return 2 }
func (m *mp3Decoder) sampleRate() int { return m.dec.SampleRate() }

type oggDecoder struct {
	dec *oggvorbis.Reader
}

func newOggDecoder(r io.Reader) (*oggDecoder, error) {
	dec, err := oggvorbis.NewReader(r)
	if err != nil {
		return nil, err
	}
	return &oggDecoder{dec: dec}, nil
}

func (o *oggDecoder) read(dst []float32) (int, error) {
	return o.dec.Read(dst)
}

func (o *oggDecoder) channels() int   { return o.dec.Channels() }
func (o *oggDecoder) sampleRate() int { return o.dec.SampleRate() }

func openDecoder(f *os.File) (pcmDecoder, error) {
	switch strings.ToLower(filepath.Ext(f.Name())) {
	case ".wav", ".wave":
		return newWavDecoder(f)
	case ".mp3":
		return newMP3Decoder(f)
	case ".ogg", ".oga":
		return newOggDecoder(f)
	}
	return nil, fmt.Errorf("unsupported audio file type %q", filepath.Ext(f.Name()))
}

// FileSource plays a decoded file, downmixed to mono. When paced it follows
// the wall clock, skipping ahead so each frame holds the samples that are
// "playing" at the time of the call.
type FileSource struct {
	path  string
	loop  bool
	paced bool
	now   func() time.Time

	file  *os.File
	dec   pcmDecoder
	chans int
	rate  int
	raw   []float32

	start    time.Time
	position int
}

// OpenFile opens a wav, mp3 or ogg file for real-time playback.
func OpenFile(path string, loop bool) (*FileSource, error) {
	return openFile(path, loop, true)
}

func openFile(path string, loop, paced bool) (*FileSource, error) {
	s := &FileSource{path: path, loop: loop, paced: paced, now: time.Now}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileSource) open() error {
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	dec, err := openDecoder(f)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("%s: %w", s.path, err)
	}
	if dec.channels() <= 0 || dec.sampleRate() <= 0 {
		_ = f.Close()
		return fmt.Errorf("%s: bad stream format %d ch %d Hz", s.path, dec.channels(), dec.sampleRate())
	}
	s.file = f
	s.dec = dec
	s.chans = dec.channels()
	s.rate = dec.sampleRate()
	s.start = s.now()
	s.position = 0
	return nil
}

func (s *FileSource) Name() string { return "file:" + filepath.Base(s.path) }

// SampleRate is the file's native rate.
func (s *FileSource) SampleRate() int { return s.rate }

func (s *FileSource) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// ReadFrame fills dst with the next mono samples. At the end of a file that
// does not loop it returns io.EOF with the rest of dst zeroed.
func (s *FileSource) ReadFrame(ctx context.Context, dst []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.file == nil {
		return os.ErrClosed
	}
	if s.paced {
		due := int(s.now().Sub(s.start).Seconds() * float64(s.rate))
		if skip := due - s.position - len(dst); skip > 0 {
			if err := s.skip(skip); err != nil {
				clear(dst)
				return err
			}
		}
	}
	return s.fill(dst)
}

func (s *FileSource) fill(dst []float32) error {
	filled := 0
	rewound := false
	for filled < len(dst) {
		n, err := s.readMono(dst[filled:])
		filled += n
		if err == nil {
			continue
		}
		if !errors.Is(err, io.EOF) {
			clear(dst[filled:])
			return err
		}
		if !s.loop || rewound {
			clear(dst[filled:])
			return io.EOF
		}
		if err := s.rewind(); err != nil {
			clear(dst[filled:])
			return err
		}
		rewound = true
	}
	return nil
}

func (s *FileSource) skip(n int) error {
	var scratch [512]float32
	for n > 0 {
		k := min(n, len(scratch))
		if err := s.fill(scratch[:k]); err != nil {
			return err
		}
		n -= k
	}
	return nil
}

// readMono decodes up to len(dst) frames and averages their channels.
func (s *FileSource) readMono(dst []float32) (int, error) {
	want := len(dst) * s.chans
	if cap(s.raw) < want {
		s.raw = make([]float32, want)
	}
	s.raw = s.raw[:want]
	n, err := s.dec.read(s.raw)
	frames := n / s.chans
	for i := 0; i < frames; i++ {
		var sum float32
		for ch := 0; ch < s.chans; ch++ {
			sum += s.raw[i*s.chans+ch]
		}
		dst[i] = sum / float32(s.chans)
	}
	s.position += frames
	if frames == 0 && err == nil {
		err = io.EOF
	}
	return frames, err
}

// rewind reopens the file; the playback clock restarts with it.
func (s *FileSource) rewind() error {
	if err := s.Close(); err != nil {
		return err
	}
	return s.open()
}
