package relay

import (
	"context"
	"log/slog"

	"github.com/m3rciful/relaybot/core/logger"
	"github.com/m3rciful/relaybot/internal/botreg"
	"github.com/m3rciful/relaybot/internal/correlation"
)

const (
	editSynced  = "synced"
	editMiss    = "miss"
	editNonText = "non_text"
	editFailed  = "fail"
)

// syncSenderEdit mirrors a sender's edit onto the operator-side copy.
func (d *Dispatcher) syncSenderEdit(ctx context.Context, ev Event) (Outcome, error) {
	self := Target{ChatID: ev.ChatID}
	origin := correlation.MessageKey{ChatID: ev.ChatID, MessageID: ev.MessageID}
	delivered, ok := d.mapper.DeliveredCopy(ctx, origin)
	if !ok {
		d.metrics.Edit(d.bot.Username, dirToOperator, editMiss)
		d.notice(ctx, self, textEditNoRecord, ev.MessageID)
		return OutcomeDropped, newError(CorrelationMiss, "edit.to_operator", nil)
	}

	counterpart := Target{ChatID: d.bot.OwnerID}
	text := senderHeader(ev.SenderName, ev.SenderHandle) + "\n\n" + ev.Text + editedMarker
	if d.bot.Topology == botreg.Grouped {
		counterpart.ChatID = d.bot.GroupID()
		counterpart.ThreadID, _ = d.mapper.ThreadOf(ctx, ev.SenderID)
		text = ev.Text + editedMarker
	}

	if !ev.IsText() {
		d.metrics.Edit(d.bot.Username, dirToOperator, editNonText)
		if _, err := d.tr.SendText(ctx, counterpart, nonTextEditNotice(ev.SenderName, ev.SenderID), SendOptions{ReplyTo: delivered}); err != nil {
			logger.Debug(ctx, component, "edit.notice_failed", logger.Err(err))
		}
		d.ack(ctx, self, textEditNonText, ev.MessageID)
		return OutcomeSkipped, nil
	}

	if err := d.tr.EditText(ctx, counterpart.ChatID, delivered, text, SendOptions{}); err != nil {
		d.metrics.Edit(d.bot.Username, dirToOperator, editFailed)
		d.ack(ctx, self, textEditFailed, ev.MessageID)
		return OutcomeFailed, newError(DeliveryFailure, "edit.to_operator", err)
	}
	d.metrics.Edit(d.bot.Username, dirToOperator, editSynced)
	d.ack(ctx, self, textEditSynced, ev.MessageID)
	logger.Debug(ctx, component, "edit.synced",
		slog.String("direction", dirToOperator),
		slog.Int("delivered_id", delivered),
	)
	return OutcomeEdited, nil
}

// syncOperatorEdit mirrors an operator edit onto the copy the sender received.
// fallbackUser is used when the stored record carries no user id.
func (d *Dispatcher) syncOperatorEdit(ctx context.Context, ev Event, fallbackUser int64) (Outcome, error) {
	self := Target{ChatID: ev.ChatID, ThreadID: ev.ThreadID}
	origin := correlation.MessageKey{ChatID: ev.ChatID, MessageID: ev.MessageID}
	copied, user, ok := d.mapper.ReplyCopy(ctx, origin)
	if ok && user == 0 {
		user = fallbackUser
		if user == 0 && ev.ReplyToID != 0 {
			user, _ = d.mapper.SenderOf(ctx, ev.ReplyToID)
		}
	}
	if !ok || user == 0 {
		d.metrics.Edit(d.bot.Username, dirToSender, editMiss)
		d.notice(ctx, self, textEditNoRecord, ev.MessageID)
		return OutcomeDropped, newError(CorrelationMiss, "edit.to_sender", nil)
	}

	if !ev.IsText() {
		d.metrics.Edit(d.bot.Username, dirToSender, editNonText)
		notice := "✏️ The operator edited a message. Non-text messages cannot be synced."
		if _, err := d.tr.SendText(ctx, Target{ChatID: user}, notice, SendOptions{ReplyTo: copied}); err != nil {
			logger.Debug(ctx, component, "edit.notice_failed", logger.Err(err))
		}
		d.ack(ctx, self, textEditNonText, ev.MessageID)
		return OutcomeSkipped, nil
	}

	if err := d.tr.EditText(ctx, user, copied, ev.Text, SendOptions{}); err != nil {
		d.metrics.Edit(d.bot.Username, dirToSender, editFailed)
		d.ack(ctx, self, textEditFailed, ev.MessageID)
		return OutcomeFailed, newError(DeliveryFailure, "edit.to_sender", err)
	}
	d.metrics.Edit(d.bot.Username, dirToSender, editSynced)
	d.ack(ctx, self, textEditSynced, ev.MessageID)
	return OutcomeEdited, nil
}
