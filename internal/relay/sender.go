package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/m3rciful/relaybot/core/logger"
	"github.com/m3rciful/relaybot/internal/botreg"
	"github.com/m3rciful/relaybot/internal/correlation"
	"github.com/m3rciful/relaybot/internal/topics"
	"github.com/m3rciful/relaybot/internal/verify"
)

const (
	dirToOperator = "to_operator"
	dirToSender   = "to_sender"
)

// start handles /start from a sender: welcome when verified, otherwise a
// fresh challenge replacing any pending one. Blocked senders get only the
// blocked notice.
func (d *Dispatcher) start(ctx context.Context, ev Event) (Outcome, error) {
	ctx = logger.WithHandler(ctx, cmdStart)
	verified, err := d.gate.IsVerified(ctx, d.bot.Username, ev.SenderID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("check verified: %w", err)
	}
	chat := Target{ChatID: ev.ChatID}
	if verified {
		if out, vetoed, err := d.vetoBlocked(ctx, ev, "start"); vetoed {
			return out, err
		}
		_, err := d.tr.SendText(ctx, chat, d.welcomeText(ctx), SendOptions{ReplyTo: ev.MessageID})
		return OutcomeCommand, d.deliveryErr("start.welcome", err)
	}
	c, err := d.gate.Issue(ctx, d.bot.Username, ev.SenderID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("issue challenge: %w", err)
	}
	_, err = d.tr.SendText(ctx, chat, challengeText(c, introFirst), SendOptions{HTML: true, ReplyTo: ev.MessageID})
	return OutcomeChallenged, d.deliveryErr("start.challenge", err)
}

func (d *Dispatcher) welcomeText(ctx context.Context) string {
	if d.welcome == nil {
		return d.opts.DefaultWelcome
	}
	return d.welcome.Welcome(ctx, d.bot, d.opts.DefaultWelcome)
}

// fromSender applies the verification gate and the block list, then relays.
func (d *Dispatcher) fromSender(ctx context.Context, ev Event) (Outcome, error) {
	verified, err := d.gate.IsVerified(ctx, d.bot.Username, ev.SenderID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("check verified: %w", err)
	}
	if !verified {
		if ev.Kind == EventEdited {
			return OutcomeDropped, newError(NotVerified, "edit", nil)
		}
		return d.answerChallenge(ctx, ev)
	}

	if out, vetoed, err := d.vetoBlocked(ctx, ev, "relay"); vetoed {
		return out, err
	}

	if ev.Kind == EventEdited {
		return d.syncSenderEdit(ctx, ev)
	}
	if d.bot.Topology == botreg.Grouped {
		return d.relayGrouped(ctx, ev)
	}
	return d.relayDirect(ctx, ev)
}

// vetoBlocked answers a blocked sender with the transient notice. vetoed is
// true when the event must stop here.
func (d *Dispatcher) vetoBlocked(ctx context.Context, ev Event, op string) (Outcome, bool, error) {
	blocked, err := d.access.IsBlocked(ctx, d.bot.Username, ev.SenderID)
	if err != nil {
		return OutcomeFailed, true, fmt.Errorf("check blocked: %w", err)
	}
	if !blocked {
		return "", false, nil
	}
	d.notice(ctx, Target{ChatID: ev.ChatID}, textBlocked, ev.MessageID)
	return OutcomeBlocked, true, newError(Blocked, op, nil)
}

func (d *Dispatcher) answerChallenge(ctx context.Context, ev Event) (Outcome, error) {
	chat := Target{ChatID: ev.ChatID}
	p := verify.Principal{
		Bot:         d.bot.Username,
		UserID:      ev.SenderID,
		DisplayName: ev.SenderName,
		Handle:      ev.SenderHandle,
	}
	res, err := d.gate.Check(ctx, p, ev.Text)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("check answer: %w", err)
	}

	switch res {
	case verify.Correct:
		if _, err := d.tr.SendText(ctx, chat, d.welcomeText(ctx), SendOptions{ReplyTo: ev.MessageID}); err != nil {
			logger.Warn(ctx, component, "welcome.send_failed", slog.Int64("target_user", ev.SenderID), logger.Err(err))
		}
		_, err := d.tr.SendText(ctx, Target{ChatID: d.bot.OwnerID},
			verifiedNotice(d.bot.Username, ev, d.now()), SendOptions{HTML: true})
		return OutcomeVerified, d.deliveryErr("verify.notify_operator", err)

	case verify.Incorrect:
		d.notice(ctx, chat, textWrongAnswer, ev.MessageID)
		return OutcomeRejected, newError(ChallengeMismatch, "verify", nil)

	default:
		c, err := d.gate.Issue(ctx, d.bot.Username, ev.SenderID)
		if err != nil {
			return OutcomeFailed, fmt.Errorf("issue challenge: %w", err)
		}
		_, err = d.tr.SendText(ctx, chat, challengeText(c, introPending), SendOptions{HTML: true, ReplyTo: ev.MessageID})
		return OutcomeChallenged, d.deliveryErr("verify.challenge", err)
	}
}

func (d *Dispatcher) relayDirect(ctx context.Context, ev Event) (Outcome, error) {
	owner := Target{ChatID: d.bot.OwnerID}
	header := senderHeader(ev.SenderName, ev.SenderHandle)

	var delivered int
	var err error
	if ev.IsText() {
		delivered, err = d.tr.SendText(ctx, owner, header+"\n\n"+ev.Text, SendOptions{})
	} else if _, err = d.tr.SendText(ctx, owner, header, SendOptions{}); err == nil {
		delivered, err = d.tr.ForwardMessage(ctx, ev.ChatID, ev.MessageID, owner)
	}
	if err != nil {
		d.notice(ctx, Target{ChatID: ev.ChatID}, textDeliverFailed, ev.MessageID)
		return OutcomeFailed, newError(DeliveryFailure, "deliver.direct", err)
	}

	d.recordDelivery(ctx, ev, delivered)
	d.metrics.Delivery(d.bot.Username, dirToOperator, string(botreg.Direct))
	d.ack(ctx, Target{ChatID: ev.ChatID}, textAck, ev.MessageID)
	return OutcomeRelayed, nil
}

func (d *Dispatcher) relayGrouped(ctx context.Context, ev Event) (Outcome, error) {
	group := d.bot.GroupID()
	if group == 0 {
		d.notice(ctx, Target{ChatID: ev.ChatID}, textNotConfigured, ev.MessageID)
		return OutcomeDropped, newError(DeliveryFailure, "deliver.grouped", errors.New("group chat not configured"))
	}

	sender := topics.Sender{ID: ev.SenderID, Name: ev.SenderName, Handle: ev.SenderHandle}
	res, err := d.topics.Deliver(ctx, d.mapper, group, sender, func(thread int) (int, error) {
		to := Target{ChatID: group, ThreadID: thread}
		if ev.IsText() {
			return d.tr.SendText(ctx, to, ev.Text, SendOptions{})
		}
		return d.tr.ForwardMessage(ctx, ev.ChatID, ev.MessageID, to)
	})
	if res.Healed {
		result := "ok"
		if err != nil {
			result = "fail"
		}
		d.metrics.ThreadHeal(d.bot.Username, result)
	}
	if err != nil {
		d.notice(ctx, Target{ChatID: ev.ChatID}, textDeliverFailed, ev.MessageID)
		kind := DeliveryFailure
		if errors.Is(err, ErrThreadMissing) {
			kind = ThreadMissing
		}
		return OutcomeFailed, newError(kind, "deliver.grouped", err)
	}

	d.recordDelivery(ctx, ev, res.MessageID)
	d.metrics.Delivery(d.bot.Username, dirToOperator, string(botreg.Grouped))
	d.ack(ctx, Target{ChatID: ev.ChatID}, textAck, ev.MessageID)
	logger.Debug(ctx, component, "relay.grouped",
		slog.Int64("target_user", ev.SenderID),
		slog.Int("thread_id", res.ThreadID),
		slog.Int("delivered_id", res.MessageID),
		slog.Bool("created", res.Created),
		slog.Bool("healed", res.Healed),
	)
	return OutcomeRelayed, nil
}

// recordDelivery persists the direct, user_forward and forward_user trio.
// Persistence failures are logged by the mapper and do not fail the event.
func (d *Dispatcher) recordDelivery(ctx context.Context, ev Event, delivered int) {
	origin := correlation.MessageKey{ChatID: ev.ChatID, MessageID: ev.MessageID}
	if err := d.mapper.RecordDelivery(ctx, origin, delivered, ev.SenderID); err != nil {
		logger.Warn(ctx, component, "record.delivery_failed",
			slog.Int64("target_user", ev.SenderID),
			slog.String("key", origin.String()),
			slog.Int("delivered_id", delivered),
			logger.Err(err),
		)
	}
}
