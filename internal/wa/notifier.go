package wa

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow/types"
)

// TextSender is the part of Client the notifier needs.
type TextSender interface {
	SendText(ctx context.Context, to types.JID, text string) error
}

// AdminNotifier sends operational notices to a fixed admin chat.
type AdminNotifier struct {
	sender TextSender
	to     types.JID
}

// NewAdminNotifier parses jid, which may be a full JID or a bare phone number.
func NewAdminNotifier(sender TextSender, jid string) (*AdminNotifier, error) {
	to, err := ParseJID(jid)
	if err != nil {
		return nil, err
	}
	return &AdminNotifier{sender: sender, to: to}, nil
}

// Notify implements notify.Notifier.
func (n *AdminNotifier) Notify(ctx context.Context, text string) error {
	if err := n.sender.SendText(ctx, n.to, text); err != nil {
		return fmt.Errorf("notify admin %s: %w", n.to.User, err)
	}
	return nil
}

// ParseJID accepts "573001234567", "+57 300 123 4567" or "573001234567@s.whatsapp.net".
func ParseJID(raw string) (types.JID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return types.JID{}, errors.New("parse jid: empty")
	}
	if !strings.Contains(raw, "@") {
		digits := strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' {
				return r
			}
			return -1
		}, raw)
		if digits == "" {
			return types.JID{}, fmt.Errorf("parse jid %q: no digits", raw)
		}
		return types.NewJID(digits, types.DefaultUserServer), nil
	}
	jid, err := types.ParseJID(raw)
	if err != nil {
		return types.JID{}, fmt.Errorf("parse jid %q: %w", raw, err)
	}
	return jid, nil
}
