package middleware

import (
	"time"

	tele "gopkg.in/telebot.v4"
)

// UpdateObserver receives the kind, handling time and error of every update.
type UpdateObserver func(kind string, took time.Duration, err error)

// MetricsMiddleware times the rest of the chain and reports it to observe.
func MetricsMiddleware(observe UpdateObserver) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		if observe == nil {
			return next
		}
		return func(c tele.Context) error {
			start := time.Now()
			err := next(c)
			observe(updateKind(c.Update()), time.Since(start), err)
			return err
		}
	}
}
