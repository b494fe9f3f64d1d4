package log

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]struct {
		want Level
		ok   bool
	}{
		"debug":   {LevelDebug, true},
		"INFO":    {LevelInfo, true},
		"warning": {LevelWarn, true},
		"error":   {LevelError, true},
		"bogus":   {LevelInfo, false},
	}
	for input, tc := range cases {
		got, ok := ParseLevel(input)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ParseLevel(%q)=%v,%v want=%v,%v", input, got, ok, tc.want, tc.ok)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)
	prev := GetLevel()
	defer SetLevel(prev)

	SetLevel(LevelWarn)
	Infof("hidden %d", 1)
	Warnf("shown %d", 2)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info message logged at warn level: %q", out)
	}
	if !strings.Contains(out, "shown 2") {
		t.Fatalf("warn message missing: %q", out)
	}
}
