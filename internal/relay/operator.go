package relay

import (
	"context"
	"log/slog"

	"github.com/m3rciful/relaybot/core/logger"
	"github.com/m3rciful/relaybot/internal/botreg"
	"github.com/m3rciful/relaybot/internal/correlation"
)

// fromOperator routes messages written on the operator side back to senders:
// replies in the operator's private chat for direct bots, thread messages in
// the group for grouped bots.
func (d *Dispatcher) fromOperator(ctx context.Context, ev Event) (Outcome, error) {
	switch d.bot.Topology {
	case botreg.Grouped:
		group := d.bot.GroupID()
		if group == 0 || ev.ChatID != group || ev.ThreadID == 0 {
			return OutcomeIgnored, nil
		}
		user, ok := d.mapper.SenderOfThread(ctx, ev.ThreadID)
		if !ok {
			logger.Debug(ctx, component, "thread.unknown", slog.Int("thread_id", ev.ThreadID))
			return OutcomeIgnored, nil
		}
		if ev.Kind == EventEdited {
			return d.syncOperatorEdit(ctx, ev, user)
		}
		return d.replyToSender(ctx, ev, user)

	default:
		if !ev.ChatPrivate || ev.ChatID != d.bot.OwnerID {
			return OutcomeIgnored, nil
		}
		if ev.Kind == EventEdited {
			return d.syncOperatorEdit(ctx, ev, 0)
		}
		if ev.ReplyToID == 0 {
			return OutcomeIgnored, nil
		}
		user, ok := d.mapper.SenderOf(ctx, ev.ReplyToID)
		if !ok {
			d.notice(ctx, Target{ChatID: ev.ChatID}, textNoMapping, ev.MessageID)
			return OutcomeDropped, newError(CorrelationMiss, "reply.direct", nil)
		}
		return d.replyToSender(ctx, ev, user)
	}
}

func (d *Dispatcher) replyToSender(ctx context.Context, ev Event, user int64) (Outcome, error) {
	here := Target{ChatID: ev.ChatID, ThreadID: ev.ThreadID}
	copied, err := d.tr.CopyMessage(ctx, ev.ChatID, ev.MessageID, Target{ChatID: user})
	if err != nil {
		d.notice(ctx, here, textReplyFailed, ev.MessageID)
		return OutcomeFailed, newError(DeliveryFailure, "reply."+d.topology(), err)
	}

	origin := correlation.MessageKey{ChatID: ev.ChatID, MessageID: ev.MessageID}
	if err := d.mapper.RecordReply(ctx, origin, copied, user); err != nil {
		logger.Warn(ctx, component, "record.reply_failed",
			slog.Int64("target_user", user),
			slog.String("key", origin.String()),
			logger.Err(err),
		)
	}
	d.metrics.Delivery(d.bot.Username, dirToSender, d.topology())
	d.ack(ctx, here, textReplyAck, ev.MessageID)
	return OutcomeRelayed, nil
}
