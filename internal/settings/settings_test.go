package settings

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultsValidate(t *testing.T) {
	require.NoError(t, Defaults().Validate())
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"negative amplitude", func(s *Settings) { s.Amplitude = -1 }},
		{"zero avg size", func(s *Settings) { s.AvgSize = 0 }},
		{"huge delay", func(s *Settings) { s.Delay = MaxHistory }},
		{"decay above 100", func(s *Settings) { s.Decay = 101 }},
		{"bkgd bright", func(s *Settings) { s.BkgdBright = 200 }},
		{"filter constant", func(s *Settings) { s.FilterConstant = 1.5 }},
		{"window mode", func(s *Settings) { s.WindowMode = 9 }},
		{"nan anim speed", func(s *Settings) { s.AnimSpeed = math.NaN() }},
		{"inf anim speed", func(s *Settings) { s.AnimSpeed = math.Inf(1) }},
		{"nan offset", func(s *Settings) { s.NrmlOfst = math.NaN() }},
		{"inf scale", func(s *Settings) { s.NrmlScl = math.Inf(-1) }},
		{"nan filter constant", func(s *Settings) { s.FilterConstant = math.NaN() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Defaults()
			tt.mutate(&s)
			err := s.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrOutOfRange))
		})
	}
}

func TestOnSettingsChangedIsIdempotent(t *testing.T) {
	st := NewStore(Defaults())
	assert.Equal(t, Clean, st.State())

	st.OnSettingsChanged()
	st.OnSettingsChanged()
	assert.Equal(t, Dirty, st.State())

	applies := 0
	for i := 0; i < 3; i++ {
		if _, ok := st.TakeDirty(); ok {
			applies++
		}
	}
	assert.Equal(t, 1, applies)
	assert.Equal(t, uint64(1), st.Applied())
	assert.Equal(t, Clean, st.State())
}

func TestUpdateValidatesBeforeCommit(t *testing.T) {
	st := NewStore(Defaults())
	err := st.Update(func(s *Settings) {
		s.BkgdBright = 50
		s.Decay = 500
	})
	require.Error(t, err)
	assert.Equal(t, Defaults(), st.Get())
	assert.Equal(t, Clean, st.State())

	require.NoError(t, st.Update(func(s *Settings) { s.BkgdBright = 50 }))
	assert.Equal(t, 50, st.Get().BkgdBright)
	assert.Equal(t, Dirty, st.State())
}

func TestStoreConcurrentAccess(t *testing.T) {
	st := NewStore(Defaults())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(v int) {
			defer wg.Done()
			_ = st.Update(func(s *Settings) { s.BkgdBright = v })
			st.OnSettingsChanged()
		}(i)
		go func() {
			defer wg.Done()
			_ = st.Get()
			st.TakeDirty()
		}()
	}
	wg.Wait()
	got := st.Get().BkgdBright
	assert.True(t, got >= 0 && got < 8)
}

func TestBinaryRoundTrip(t *testing.T) {
	s := Defaults()
	s.BkgdBright = 50
	s.AvgMode = AvgExponential
	s.WindowMode = WindowBlackman
	s.SilentBkgd = true
	s.StartFromBotInv = true
	s.SingleColorMode = true
	s.NrmlScl = 0.75
	s.BackgroundTimeout = 300

	blob, err := s.MarshalBinary()
	require.NoError(t, err)
	assert.Len(t, blob, BlobSize)
	assert.Equal(t, "RGBV", string(blob[:4]))

	var got Settings
	require.NoError(t, got.UnmarshalBinary(blob))
	if diff := cmp.Diff(s, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestUnmarshalBinaryLeavesTargetOnError(t *testing.T) {
	s := Defaults()
	blob, err := s.MarshalBinary()
	require.NoError(t, err)

	target := Defaults()
	target.BkgdBright = 77

	bad := append([]byte(nil), blob...)
	bad[0] = 'X'
	assert.ErrorIs(t, target.UnmarshalBinary(bad), ErrBadMagic)

	bad = append([]byte(nil), blob...)
	bad[5] = 9
	assert.ErrorIs(t, target.UnmarshalBinary(bad), ErrBadVersion)

	assert.Error(t, target.UnmarshalBinary(blob[:len(blob)-1]))
	assert.Equal(t, 77, target.BkgdBright)
}

func TestNonFiniteBlobIsRejected(t *testing.T) {
	s := Defaults()
	s.AnimSpeed = math.NaN()
	blob, err := s.MarshalBinary()
	require.NoError(t, err)

	target := Defaults()
	assert.ErrorIs(t, target.UnmarshalBinary(blob), ErrOutOfRange)
	assert.Equal(t, Defaults(), target)

	st := NewStore(Defaults())
	assert.ErrorIs(t, st.Replace(s), ErrOutOfRange)
	assert.Equal(t, Defaults(), st.Get())
}

func TestYAMLUsesModeNames(t *testing.T) {
	s := Defaults()
	s.AvgMode = AvgExponential
	s.WindowMode = WindowHamming

	data, err := yaml.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(data), "avg_mode: exponential")
	assert.Contains(t, string(data), "window_mode: hamming")

	var got Settings
	require.NoError(t, yaml.Unmarshal(data, &got))
	assert.Equal(t, s, got)
}
