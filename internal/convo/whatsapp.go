package convo

import (
	"context"
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"funnel-bot/internal/domain"
	"funnel-bot/internal/wa"
)

// Replier sends a text message back to a chat.
type Replier interface {
	SendText(ctx context.Context, to types.JID, text string) error
}

// SetReplier enables ProcessMessage replies.
func (e *Engine) SetReplier(r Replier) {
	e.replier = r
}

// ProcessMessage handles an inbound WhatsApp event and answers in the same chat.
func (e *Engine) ProcessMessage(ctx context.Context, evt *events.Message) {
	msg, ok := inboundFromEvent(evt)
	if !ok {
		return
	}
	reply, err := e.Handle(ctx, msg)
	if err != nil {
		e.logger.Warn("whatsapp message answered with fallback", "subscriber_id", msg.SubscriberID, "error", err)
	}
	if e.replier == nil || reply.Text == "" {
		return
	}
	if err := e.replier.SendText(wa.WithReply(ctx, evt), evt.Info.Chat, reply.Text); err != nil {
		e.logger.Error("send whatsapp reply failed", "subscriber_id", msg.SubscriberID, "error", err)
		e.deps.Metrics.Error("whatsapp")
	}
}

// inboundFromEvent maps direct chat messages to an InboundMessage. Image messages become
// "[imagen] <id> <caption>" so the funnel can accept them as proof of payment.
func inboundFromEvent(evt *events.Message) (domain.InboundMessage, bool) {
	if evt == nil || evt.Message == nil || evt.Info.IsFromMe || evt.Info.IsGroup {
		return domain.InboundMessage{}, false
	}
	m := evt.Message

	var text string
	switch {
	case m.GetConversation() != "":
		text = m.GetConversation()
	case m.GetExtendedTextMessage() != nil:
		text = m.GetExtendedTextMessage().GetText()
	case m.GetImageMessage() != nil:
		text = strings.TrimSpace(fmt.Sprintf("[imagen] %s %s", evt.Info.ID, m.GetImageMessage().GetCaption()))
	case m.GetDocumentMessage() != nil:
		text = strings.TrimSpace(fmt.Sprintf("[imagen] %s %s", evt.Info.ID, m.GetDocumentMessage().GetFileName()))
	}
	if strings.TrimSpace(text) == "" {
		return domain.InboundMessage{}, false
	}

	sender := evt.Info.Sender.ToNonAD()
	return domain.InboundMessage{
		SubscriberID: "wa:" + sender.User,
		DisplayName:  evt.Info.PushName,
		Text:         text,
		Phone:        "+" + sender.User,
	}, true
}
