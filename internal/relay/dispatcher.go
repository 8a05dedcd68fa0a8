// Package relay decides, for every inbound event of one bot, what to deliver,
// to whom and through which topology, and remembers enough to route replies
// and edits back.
package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/m3rciful/relaybot/core/logger"
	"github.com/m3rciful/relaybot/internal/access"
	"github.com/m3rciful/relaybot/internal/botreg"
	"github.com/m3rciful/relaybot/internal/correlation"
	"github.com/m3rciful/relaybot/internal/topics"
	"github.com/m3rciful/relaybot/internal/verify"
)

const component = "relay"

// Outcome summarizes how an event was handled.
type Outcome string

const (
	OutcomeRelayed    Outcome = "relayed"
	OutcomeEdited     Outcome = "edited"
	OutcomeCommand    Outcome = "command"
	OutcomeChallenged Outcome = "challenged"
	OutcomeVerified   Outcome = "verified"
	OutcomeRejected   Outcome = "rejected"
	OutcomeBlocked    Outcome = "blocked"
	OutcomeIgnored    Outcome = "ignored"
	OutcomeSkipped    Outcome = "skip"
	OutcomeDropped    Outcome = "dropped"
	OutcomeFailed     Outcome = "fail"
)

// Gate is the verification gate as seen by the dispatcher.
type Gate interface {
	IsVerified(ctx context.Context, bot string, userID int64) (bool, error)
	Issue(ctx context.Context, bot string, userID int64) (verify.Challenge, error)
	Check(ctx context.Context, p verify.Principal, input string) (verify.Result, error)
	Unverify(ctx context.Context, bot string, userID int64) (bool, error)
}

// Blocklist is the access control list as seen by the dispatcher.
type Blocklist interface {
	IsBlocked(ctx context.Context, bot string, userID int64) (bool, error)
	Block(ctx context.Context, bot string, userID int64, reason string) (bool, error)
	Unblock(ctx context.Context, bot string, userID int64) (bool, error)
	Entries(ctx context.Context, bot string) ([]access.Entry, error)
}

// Welcomer resolves the welcome text of a bot.
type Welcomer interface {
	Welcome(ctx context.Context, b botreg.Bot, fallback string) string
}

// Options tunes user-visible timing and texts.
type Options struct {
	AckDelay       time.Duration
	NoticeDelay    time.Duration
	DefaultWelcome string
}

func (o *Options) normalize() {
	if o.AckDelay <= 0 {
		o.AckDelay = 3 * time.Second
	}
	if o.NoticeDelay <= 0 {
		o.NoticeDelay = 5 * time.Second
	}
	if o.DefaultWelcome == "" {
		o.DefaultWelcome = DefaultWelcome
	}
}

// Deps are the collaborators of one bot's dispatcher.
type Deps struct {
	Transport Transport
	Scheduler Scheduler
	Gate      Gate
	Access    Blocklist
	Mapper    *correlation.Mapper
	Topics    *topics.Manager
	Welcome   Welcomer
	Metrics   Recorder
	Clock     func() time.Time
}

// Dispatcher handles the events of a single bot, one at a time, in the order
// its update loop delivers them.
type Dispatcher struct {
	bot     botreg.Bot
	opts    Options
	tr      Transport
	sched   Scheduler
	gate    Gate
	access  Blocklist
	mapper  *correlation.Mapper
	topics  *topics.Manager
	welcome Welcomer
	metrics Recorder
	now     func() time.Time
}

// New builds the dispatcher of bot.
func New(bot botreg.Bot, deps Deps, opts Options) *Dispatcher {
	opts.normalize()
	d := &Dispatcher{
		bot:     bot,
		opts:    opts,
		tr:      deps.Transport,
		sched:   deps.Scheduler,
		gate:    deps.Gate,
		access:  deps.Access,
		mapper:  deps.Mapper,
		topics:  deps.Topics,
		welcome: deps.Welcome,
		metrics: deps.Metrics,
		now:     deps.Clock,
	}
	if d.topics == nil {
		d.topics = topics.NewManager(deps.Transport)
	}
	if d.metrics == nil {
		d.metrics = nopRecorder{}
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d
}

// Bot returns the identity the dispatcher serves.
func (d *Dispatcher) Bot() botreg.Bot {
	return d.bot
}

// Handle processes one event to completion. The returned error is event
// scoped and only meant for logging; the caller keeps consuming updates.
func (d *Dispatcher) Handle(ctx context.Context, ev Event) (Outcome, error) {
	ctx = logger.WithBot(ctx, d.bot.Username)
	out, err := d.handle(ctx, ev)
	d.metrics.Event(d.bot.Username, ev.Kind.String(), string(out))
	if kind := KindOf(err); kind != 0 {
		d.metrics.Failure(d.bot.Username, kind.String())
	}
	if err != nil {
		level := slog.LevelWarn
		if k := KindOf(err); k != DeliveryFailure && k != ThreadMissing && k != 0 {
			level = slog.LevelDebug
		}
		logger.Event(ctx, component, level, "event.failed",
			slog.String("kind", ev.Kind.String()),
			slog.String("outcome", string(out)),
			slog.Int64("target_user", ev.SenderID),
			slog.Int("message_id", ev.MessageID),
			logger.Err(err),
		)
	}
	return out, err
}

func (d *Dispatcher) handle(ctx context.Context, ev Event) (Outcome, error) {
	if ev.Kind == EventCallback {
		return d.handleCallback(ctx, ev)
	}

	if ev.Kind == EventNew {
		if name, args, ok := parseCommand(ev.Text); ok {
			if canon, known := canonicalCommand(name); known {
				fromSender := ev.ChatPrivate && ev.SenderID != d.bot.OwnerID
				switch {
				case canon == cmdStart && fromSender:
					return d.start(ctx, ev)
				case !d.isOperatorSeat(ev):
					return OutcomeIgnored, nil
				default:
					return d.runCommand(ctx, ev, canon, args)
				}
			}
		}
	}

	if ev.ChatPrivate && ev.SenderID != d.bot.OwnerID {
		return d.fromSender(ctx, ev)
	}
	return d.fromOperator(ctx, ev)
}

// transient sends text and schedules its deletion after delay.
func (d *Dispatcher) transient(ctx context.Context, to Target, text string, replyTo int, delay time.Duration) {
	id, err := d.tr.SendText(ctx, to, text, SendOptions{ReplyTo: replyTo})
	if err != nil {
		logger.Debug(ctx, component, "notice.send_failed", slog.Int64("chat_id", to.ChatID), logger.Err(err))
		return
	}
	if d.sched == nil {
		return
	}
	d.sched.Schedule(ctx, delay, "notice.delete", func(ctx context.Context) error {
		return d.tr.DeleteMessage(ctx, to.ChatID, id)
	})
}

func (d *Dispatcher) ack(ctx context.Context, to Target, text string, replyTo int) {
	d.transient(ctx, to, text, replyTo, d.opts.AckDelay)
}

func (d *Dispatcher) notice(ctx context.Context, to Target, text string, replyTo int) {
	d.transient(ctx, to, text, replyTo, d.opts.NoticeDelay)
}

func (d *Dispatcher) deliveryErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return newError(DeliveryFailure, op, err)
}

func (d *Dispatcher) topology() string {
	if d.bot.Topology == botreg.Grouped {
		return string(botreg.Grouped)
	}
	return string(botreg.Direct)
}
