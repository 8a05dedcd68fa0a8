package logger

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
)

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestAsyncWriterIsolatesFailingSink(t *testing.T) {
	good := &lockedBuffer{}
	aw := newAsyncWriter([]io.Writer{failingWriter{}, good}, 16)

	for _, line := range []string{"one\n", "two\n"} {
		if err := aw.Write([]byte(line)); err != nil {
			t.Fatalf("write %q: %v", line, err)
		}
	}
	if err := aw.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if got := good.String(); got != "one\ntwo\n" {
		t.Fatalf("good sink got %q", got)
	}

	err := aw.Close()
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("close err = %v, want disk full", err)
	}
}

func TestAsyncWriterFailsWhenAllSinksFail(t *testing.T) {
	aw := newAsyncWriter([]io.Writer{failingWriter{}}, 16)
	_ = aw.Write([]byte("first\n"))
	_ = aw.Flush()
	if err := aw.Write([]byte("second\n")); err == nil {
		t.Fatal("expected error once every sink is disabled")
	}
	_ = aw.Close()
}

func TestAsyncWriterFlushAfterClose(t *testing.T) {
	aw := newAsyncWriter([]io.Writer{&lockedBuffer{}}, 16)
	if err := aw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := aw.Flush(); err != nil {
		t.Fatalf("flush after close: %v", err)
	}
}

func TestRatioSamplerPerKey(t *testing.T) {
	s := newRatioSampler(1, 3)
	var got []bool
	for i := 0; i < 4; i++ {
		got = append(got, s.Allow("alpha_bot"))
	}
	want := []bool{true, false, false, true}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("alpha sequence = %v, want %v", got, want)
		}
	}
	if !s.Allow("beta_bot") {
		t.Fatal("first event of another bot must pass")
	}

	s.Set(0, 0)
	for i := 0; i < 5; i++ {
		if !s.Allow("alpha_bot") {
			t.Fatal("disabled sampler must let everything through")
		}
	}
}

func TestParseRatioSpec(t *testing.T) {
	cases := map[string][2]int{
		"":      {0, 0},
		"1/10":  {1, 10},
		" 2/5 ": {2, 5},
		"20":    {1, 20},
		"0":     {0, 0},
		"x/y":   {0, 0},
		"nope":  {0, 0},
	}
	for spec, want := range cases {
		n, d := parseRatioSpec(spec)
		if n != want[0] || d != want[1] {
			t.Fatalf("parseRatioSpec(%q) = %d/%d, want %d/%d", spec, n, d, want[0], want[1])
		}
	}
}
