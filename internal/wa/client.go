// Package wa connects the bot to WhatsApp through whatsmeow: inbound messages are handed to a
// MessageProcessor and replies or admin notices go out as text messages.
package wa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite"

	"funnel-bot/internal/metrics"
)

// Config holds configuration to initialise the WhatsApp client.
type Config struct {
	StorePath string
	LogLevel  string
	// Inbound disables message dispatch when false; the client then only sends.
	Inbound bool
}

// Client wraps the whatsmeow client.
type Client struct {
	client    *whatsmeow.Client
	logger    *slog.Logger
	metrics   *metrics.Metrics
	inbound   bool
	processor MessageProcessor
	inflight  sync.WaitGroup
}

// MessageProcessor handles inbound WhatsApp messages.
type MessageProcessor interface {
	ProcessMessage(ctx context.Context, evt *events.Message)
}

type replyContextKey struct{}

// ReplyMetadata identifies the message an outgoing text quotes.
type ReplyMetadata struct {
	Message *waProto.Message
	Info    types.MessageInfo
}

// WithReply makes SendText quote evt.
func WithReply(ctx context.Context, evt *events.Message) context.Context {
	if evt == nil || evt.Message == nil {
		return ctx
	}
	cloned, ok := proto.Clone(evt.Message).(*waProto.Message)
	if !ok {
		cloned = evt.Message
	}
	return context.WithValue(ctx, replyContextKey{}, &ReplyMetadata{Message: cloned, Info: evt.Info})
}

func replyFromContext(ctx context.Context) *ReplyMetadata {
	if ctx == nil {
		return nil
	}
	meta, _ := ctx.Value(replyContextKey{}).(*ReplyMetadata)
	return meta
}

// New opens the SQLite device store and prepares a client. Call Start to connect.
func New(ctx context.Context, cfg Config, logger *slog.Logger, m *metrics.Metrics) (*Client, error) {
	if cfg.StorePath == "" {
		return nil, errors.New("store path is required")
	}
	if err := ensureDir(filepath.Dir(cfg.StorePath)); err != nil {
		return nil, fmt.Errorf("ensure store dir: %w", err)
	}

	storeLogger := waLog.Stdout("whatsmeow/sqlstore", cfg.LogLevel, true)
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout=10000&_pragma=foreign_keys(ON)", cfg.StorePath)
	container, err := sqlstore.New(ctx, "sqlite", dsn, storeLogger)
	if err != nil {
		return nil, fmt.Errorf("create sqlstore: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}

	c := &Client{
		client:  whatsmeow.NewClient(device, waLog.Stdout("whatsmeow/client", cfg.LogLevel, true)),
		logger:  logger.With("component", "wa"),
		metrics: m,
		inbound: cfg.Inbound,
	}
	c.client.AddEventHandler(c.handleEvent)
	return c, nil
}

// Start connects, printing pairing QR codes to the log on first run.
func (c *Client) Start(ctx context.Context) error {
	if c.client.Store.ID == nil {
		c.logger.Info("pairing required, waiting for QR scan")
		qrChan, err := c.client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("get qr channel: %w", err)
		}
		go func() {
			for evt := range qrChan {
				if evt.Event == "code" {
					c.logger.Info("scan the QR code with WhatsApp", "qr", evt.Code)
				} else {
					c.logger.Info("pairing event received", "event", evt.Event)
				}
			}
		}()
	}

	if err := c.client.Connect(); err != nil {
		return fmt.Errorf("connect wa client: %w", err)
	}
	c.logger.Info("whatsapp client connected", "inbound", c.inbound)
	return nil
}

// Close disconnects and waits for in-flight message handlers.
func (c *Client) Close() {
	if c.client != nil {
		c.client.Disconnect()
	}
	c.inflight.Wait()
}

// SetMessageProcessor registers the inbound handler.
func (c *Client) SetMessageProcessor(processor MessageProcessor) {
	c.processor = processor
}

func (c *Client) handleEvent(evt any) {
	switch v := evt.(type) {
	case *events.Message:
		c.dispatch(v)
	case *events.Connected:
		c.logger.Info("device connected")
	case *events.Disconnected:
		c.logger.Warn("device disconnected")
	case *events.LoggedOut:
		c.logger.Error("device logged out, pairing required on next start")
	}
}

func (c *Client) dispatch(evt *events.Message) {
	if !c.inbound || c.processor == nil || evt.Message == nil || evt.Info.IsFromMe {
		return
	}
	c.logger.Debug("inbound message", "from", evt.Info.Sender.String(), "id", evt.Info.ID)

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		c.processor.ProcessMessage(context.Background(), evt)
	}()
}

// SendText sends text to a chat, quoting the message attached with WithReply if any.
func (c *Client) SendText(ctx context.Context, to types.JID, text string) error {
	if _, err := c.client.SendMessage(ctx, to, textMessage(text, replyFromContext(ctx))); err != nil {
		c.metrics.Error("wa")
		return fmt.Errorf("send text: %w", err)
	}
	return nil
}

func textMessage(text string, reply *ReplyMetadata) *waProto.Message {
	if reply == nil || reply.Message == nil {
		return &waProto.Message{Conversation: proto.String(text)}
	}
	return &waProto.Message{
		ExtendedTextMessage: &waProto.ExtendedTextMessage{
			Text: proto.String(text),
			ContextInfo: &waProto.ContextInfo{
				StanzaID:      proto.String(string(reply.Info.ID)),
				Participant:   proto.String(reply.Info.Sender.ToNonAD().String()),
				RemoteJID:     proto.String(reply.Info.Chat.String()),
				QuotedMessage: reply.Message,
				QuotedType:    waProto.ContextInfo_EXPLICIT.Enum(),
			},
		},
	}
}

func ensureDir(dir string) error {
	if dir == "." || dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0o755)
	}
	return nil
}
