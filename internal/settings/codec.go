package settings

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	blobMagic   = "RGBV"
	blobVersion = 1
)

var (
	ErrBadMagic   = errors.New("settings blob: bad magic")
	ErrBadVersion = errors.New("settings blob: unsupported version")
)

const (
	flagReactiveBkgd uint8 = 1 << iota
	flagSilentBkgd
	flagStartFromBottom
	flagStartFromBotInv
	flagSingleColor
)

// wireV1 is the fixed big-endian layout of version 1.
type wireV1 struct {
	Magic             [4]byte
	Version           uint16
	Flags             uint8
	_                 uint8
	Amplitude         int32
	AvgMode           int32
	AvgSize           int32
	WindowMode        int32
	Decay             int32
	Delay             int32
	AnimSpeed         float64
	BkgdBright        int32
	BkgdMode          int32
	NrmlOfst          float64
	NrmlScl           float64
	FilterConstant    float64
	FrgdMode          int32
	BackgroundTimeout uint32
}

// BlobSize is the encoded length of a version 1 blob.
var BlobSize = binary.Size(wireV1{})

// MarshalBinary encodes s in the versioned peer layout.
func (s Settings) MarshalBinary() ([]byte, error) {
	w := wireV1{
		Version:           blobVersion,
		Amplitude:         int32(s.Amplitude),
		AvgMode:           int32(s.AvgMode),
		AvgSize:           int32(s.AvgSize),
		WindowMode:        int32(s.WindowMode),
		Decay:             int32(s.Decay),
		Delay:             int32(s.Delay),
		AnimSpeed:         s.AnimSpeed,
		BkgdBright:        int32(s.BkgdBright),
		BkgdMode:          int32(s.BkgdMode),
		NrmlOfst:          s.NrmlOfst,
		NrmlScl:           s.NrmlScl,
		FilterConstant:    s.FilterConstant,
		FrgdMode:          int32(s.FrgdMode),
		BackgroundTimeout: s.BackgroundTimeout,
	}
	copy(w.Magic[:], blobMagic)
	w.Flags = packFlags(s)

	var buf bytes.Buffer
	buf.Grow(BlobSize)
	if err := binary.Write(&buf, binary.BigEndian, &w); err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a blob produced by MarshalBinary. s is only
// modified when the blob decodes and validates completely.
func (s *Settings) UnmarshalBinary(data []byte) error {
	if len(data) < 6 {
		return fmt.Errorf("settings blob: short header (%d bytes)", len(data))
	}
	if string(data[:4]) != blobMagic {
		return ErrBadMagic
	}
	if v := binary.BigEndian.Uint16(data[4:6]); v != blobVersion {
		return fmt.Errorf("%w: %d", ErrBadVersion, v)
	}
	if len(data) != BlobSize {
		return fmt.Errorf("settings blob: length %d, want %d", len(data), BlobSize)
	}

	var w wireV1
	if err := binary.Read(bytes.NewReader(data), binary.BigEndian, &w); err != nil {
		return fmt.Errorf("decode settings: %w", err)
	}

	next := Settings{
		Amplitude:         int(w.Amplitude),
		AvgMode:           AvgMode(w.AvgMode),
		AvgSize:           int(w.AvgSize),
		WindowMode:        WindowMode(w.WindowMode),
		Decay:             int(w.Decay),
		Delay:             int(w.Delay),
		AnimSpeed:         w.AnimSpeed,
		BkgdBright:        int(w.BkgdBright),
		BkgdMode:          int(w.BkgdMode),
		NrmlOfst:          w.NrmlOfst,
		NrmlScl:           w.NrmlScl,
		FilterConstant:    w.FilterConstant,
		FrgdMode:          int(w.FrgdMode),
		BackgroundTimeout: w.BackgroundTimeout,
	}
	unpackFlags(w.Flags, &next)
	if err := next.Validate(); err != nil {
		return fmt.Errorf("settings blob: %w", err)
	}
	*s = next
	return nil
}

func packFlags(s Settings) uint8 {
	var f uint8
	if s.ReactiveBkgd {
		f |= flagReactiveBkgd
	}
	if s.SilentBkgd {
		f |= flagSilentBkgd
	}
	if s.StartFromBottom {
		f |= flagStartFromBottom
	}
	if s.StartFromBotInv {
		f |= flagStartFromBotInv
	}
	if s.SingleColorMode {
		f |= flagSingleColor
	}
	return f
}

func unpackFlags(f uint8, s *Settings) {
	s.ReactiveBkgd = f&flagReactiveBkgd != 0
	s.SilentBkgd = f&flagSilentBkgd != 0
	s.StartFromBottom = f&flagStartFromBottom != 0
	s.StartFromBotInv = f&flagStartFromBotInv != 0
	s.SingleColorMode = f&flagSingleColor != 0
}
