package logger

import (
	"strconv"
	"strings"
	"sync"
)

// maxSamplerKeys caps the per-key counters; past it every key shares one counter.
const maxSamplerKeys = 1024

// ratioSampler lets numerator out of every denominator events through,
// counting each key (a bot username) separately so a busy bot does not
// consume the quota of quiet ones.
type ratioSampler struct {
	mu          sync.Mutex
	numerator   int
	denominator int
	counters    map[string]int
}

func newRatioSampler(numerator, denominator int) *ratioSampler {
	s := &ratioSampler{}
	s.Set(numerator, denominator)
	return s
}

// Set replaces the ratio and resets every counter. A non-positive part disables sampling.
func (s *ratioSampler) Set(numerator, denominator int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters = make(map[string]int)
	if numerator <= 0 || denominator <= 0 {
		s.numerator, s.denominator = 0, 0
		return
	}
	s.numerator = min(numerator, denominator)
	s.denominator = denominator
}

// Allow reports whether the next event of key passes.
func (s *ratioSampler) Allow(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.denominator <= 0 {
		return true
	}
	if _, ok := s.counters[key]; !ok && len(s.counters) >= maxSamplerKeys {
		key = ""
	}
	n := s.counters[key]%s.denominator + 1
	s.counters[key] = n
	return n <= s.numerator
}

// parseRatioSpec accepts "n/d" or "d" (meaning 1/d). Anything else disables sampling.
func parseRatioSpec(spec string) (int, int) {
	spec = strings.TrimSpace(spec)
	if num, den, ok := strings.Cut(spec, "/"); ok {
		n, err1 := strconv.Atoi(strings.TrimSpace(num))
		d, err2 := strconv.Atoi(strings.TrimSpace(den))
		if err1 == nil && err2 == nil {
			return n, d
		}
		return 0, 0
	}
	if v, err := strconv.Atoi(spec); err == nil && v > 0 {
		return 1, v
	}
	return 0, 0
}
