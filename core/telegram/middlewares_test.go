package telegram

import (
	"testing"
	"time"

	coreconfig "github.com/m3rciful/relaybot/core/config"
)

func TestDefaultMiddlewaresOrder(t *testing.T) {
	names := func(mws []Middleware) []string {
		out := make([]string, len(mws))
		for i, m := range mws {
			out[i] = m.Name
		}
		return out
	}

	got := names(DefaultMiddlewares(nil, "relay_demo_bot", 42, nil, nil))
	if len(got) != 2 || got[0] != "recover" || got[1] != "logger" {
		t.Fatalf("unexpected chain without config: %v", got)
	}

	cfg := &coreconfig.Config{RateLimit: coreconfig.RateLimitConfig{IntervalMS: 1000, Burst: 3}}
	got = names(DefaultMiddlewares(cfg, "relay_demo_bot", 42, nil, nil))
	if len(got) != 3 || got[2] != "rate_limit" {
		t.Fatalf("unexpected chain with rate limit: %v", got)
	}

	observe := func(string, time.Duration, error) {}
	got = names(DefaultMiddlewares(cfg, "relay_demo_bot", 42, nil, observe))
	if len(got) != 4 || got[2] != "metrics" || got[3] != "rate_limit" {
		t.Fatalf("unexpected chain with metrics: %v", got)
	}
}
