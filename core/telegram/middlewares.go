package telegram

import (
	"time"

	coreconfig "github.com/m3rciful/relaybot/core/config"
	"github.com/m3rciful/relaybot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// DefaultMiddlewares builds the chain every relay worker runs, outermost
// first: recover, logger, metrics, rate limit. operatorID is exempt from
// limiting. The metrics stage is added only when observe is set.
func DefaultMiddlewares(cfg *coreconfig.Config, bot string, operatorID int64, onLimited tele.HandlerFunc, observe middleware.UpdateObserver) []Middleware {
	mws := []Middleware{
		{Name: "recover", Use: middleware.RecoverMiddleware},
		{Name: "logger", Use: middleware.LoggerMiddleware(bot)},
	}
	if observe != nil {
		mws = append(mws, Middleware{Name: "metrics", Use: middleware.MetricsMiddleware(observe)})
	}

	if cfg == nil {
		return mws
	}
	interval := time.Duration(cfg.RateLimit.IntervalMS) * time.Millisecond
	if interval <= 0 {
		return mws
	}
	ex := make(map[string]struct{}, len(cfg.RateLimit.ExcludeUpdates))
	for _, t := range cfg.RateLimit.ExcludeUpdates {
		ex[t] = struct{}{}
	}
	opts := middleware.RateLimitOptions{
		Interval:  interval,
		Burst:     cfg.RateLimit.Burst,
		Exclude:   ex,
		Exempt:    func(id int64) bool { return id == operatorID },
		OnLimited: onLimited,
	}
	return append(mws, Middleware{Name: "rate_limit", Use: middleware.RateLimitMiddleware(opts)})
}
