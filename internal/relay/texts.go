package relay

import (
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/m3rciful/relaybot/internal/access"
	"github.com/m3rciful/relaybot/internal/verify"
)

// DefaultWelcome is sent after verification when neither the bot nor the
// global settings define a welcome text.
const DefaultWelcome = "👋 Welcome! You are verified now.\n\nSend your message here and it will be delivered."

const editedMarker = " [✏️ edited]"

const (
	textAck           = "✅ Sent"
	textReplyAck      = "✅ Reply delivered"
	textEditSynced    = "✅ Edit synced"
	textWrongAnswer   = "❌ Wrong answer.\n\nCheck it and try again, or send /start for a new question."
	textBlocked       = "⚠️ You have been blocked. Your message was not delivered."
	textNotConfigured = "⚠️ The operator has not configured a group yet. Your message was not delivered."
	textDeliverFailed = "❌ Your message could not be delivered. Please try again later."
	textReplyFailed   = "❌ The reply could not be delivered."
	textNoMapping     = "⚠️ Cannot find the sender of that message."
	textEditNoRecord  = "⚠️ This edit cannot be synced."
	textEditNonText   = "⚠️ Non-text messages cannot be synced after editing."
	textEditFailed    = "⚠️ Edit sync failed."
	textNotAllowed    = "⚠️ Only the operator can do this."
)

// displayName falls back to a neutral label when the sender has no name.
func displayName(name string) string {
	if strings.TrimSpace(name) == "" {
		return "Anonymous"
	}
	return name
}

func senderHeader(name, handle string) string {
	if handle == "" {
		return "👤 " + displayName(name)
	}
	return fmt.Sprintf("👤 %s (@%s)", displayName(name), handle)
}

func challengeText(c verify.Challenge, intro string) string {
	return fmt.Sprintf("🔐 Verification\n\n%s\n\n📝 <b>%s</b>\n\n💡 %s Send /start for a different question.",
		intro, html.EscapeString(c.Prompt), c.Hint())
}

const (
	introFirst   = "Welcome! To keep this bot free of spam, please answer a quick question first."
	introPending = "You are not verified yet."
)

func verifiedNotice(bot string, ev Event, at time.Time) string {
	var b strings.Builder
	b.WriteString("✅ New user verified\n\n")
	fmt.Fprintf(&b, "👤 Name: %s\n", html.EscapeString(displayName(ev.SenderName)))
	if ev.SenderHandle != "" {
		fmt.Fprintf(&b, "📱 Username: @%s\n", html.EscapeString(ev.SenderHandle))
	}
	fmt.Fprintf(&b, "🆔 ID: <code>%d</code>\n", ev.SenderID)
	fmt.Fprintf(&b, "🤖 Bot: @%s\n", html.EscapeString(bot))
	fmt.Fprintf(&b, "⏰ %s", at.Format("2006-01-02 15:04"))
	return b.String()
}

func nonTextEditNotice(name string, id int64) string {
	return fmt.Sprintf("✏️ %s (ID: %d) edited a message. Non-text messages cannot be synced.", displayName(name), id)
}

func identityCard(userID int64, ident Identity, blocked, verified bool) string {
	state := "✅ Active"
	if blocked {
		state = "🚫 Blocked"
	}
	ver := "🔒 Not verified"
	if verified {
		ver = "🔓 Verified"
	}
	handle := "(none)"
	if ident.Handle != "" {
		handle = "@" + html.EscapeString(ident.Handle)
	}
	return fmt.Sprintf(
		"━━━━━━━━━━━━━━\n👤 <b>User info</b>\n━━━━━━━━━━━━━━\n"+
			"🆔 <b>ID:</b> <code>%d</code>\n"+
			"👤 <b>Name:</b> %s\n"+
			"🔗 <b>Username:</b> %s\n"+
			"🛡 <b>State:</b> %s | %s\n"+
			"━━━━━━━━━━━━━━",
		userID, html.EscapeString(displayName(ident.Name)), handle, state, ver)
}

func identityButtons(userID int64, blocked, verified bool) [][]Button {
	id := strconv.FormatInt(userID, 10)
	rows := [][]Button{}
	if blocked {
		rows = append(rows, []Button{{Text: "✅ Unblock", Action: actionUnblock, Payload: id}})
	} else {
		rows = append(rows, []Button{{Text: "🚫 Block", Action: actionBlock, Payload: id}})
	}
	if verified {
		rows = append(rows, []Button{{Text: "🔓 Unverify", Action: actionUnverify, Payload: id}})
	}
	return rows
}

func blocklistText(bot string, entries []access.Entry, names map[int64]Identity) string {
	if len(entries) == 0 {
		return "📋 The block list is empty."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📋 Block list (@%s):\n\n", html.EscapeString(bot))
	for i, e := range entries {
		name := "Unknown account"
		if ident, ok := names[e.UserID]; ok {
			name = html.EscapeString(displayName(ident.Name))
		}
		fmt.Fprintf(&b, "%d. %s (ID: <code>%d</code>)", i+1, name, e.UserID)
		if e.Reason != "" {
			fmt.Fprintf(&b, " · %s", html.EscapeString(e.Reason))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

const operatorHelp = "🛠 Operator commands\n\n" +
	"/id - show the sender of the replied message\n" +
	"/b, /block [id] [reason] - block a sender\n" +
	"/ub, /unblock [id] - unblock a sender\n" +
	"/uv, /unverify [id] - reset a sender's verification\n" +
	"/bl, /blocklist - list blocked senders\n\n" +
	"Without an id, reply to a relayed message or use the command inside a sender's thread."
