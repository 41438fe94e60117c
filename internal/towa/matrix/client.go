// Package matrix is Towa's chat surface: a Matrix bot that relays room
// messages into conversational turns and posts the replies back.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Config holds the Matrix connection settings.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// OpsRooms are the room IDs Towa listens in. Messages anywhere else
	// are ignored.
	OpsRooms []string
	// SyncStore persists the sync position across restarts. When nil the
	// default in-memory store is used and room history replays on start.
	SyncStore mautrix.SyncStore
}

// MessageHandler processes one incoming room message.
type MessageHandler func(ctx context.Context, evt *event.Event)

// Client wraps the mautrix client with ops-room filtering and a
// reconnecting sync loop.
type Client struct {
	client     *mautrix.Client
	config     *Config
	stopCh     chan struct{}
	msgHandler MessageHandler
}

// New creates a Matrix client from cfg.
func New(config *Config) (*Client, error) {
	client, err := mautrix.NewClient(config.Homeserver, id.UserID(config.UserID), config.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("matrix client: %w", err)
	}

	if config.SyncStore != nil {
		client.Store = config.SyncStore
	} else {
		slog.Warn("matrix: no sync store configured, room history will replay on restart")
	}

	return &Client{
		client: client,
		config: config,
		stopCh: make(chan struct{}),
	}, nil
}

// Start joins the ops rooms and begins syncing in the background. The sync
// loop reconnects with exponential backoff; Stop ends it cleanly.
func (c *Client) Start(ctx context.Context, handler MessageHandler) error {
	c.msgHandler = handler

	syncer := c.client.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnEventType(event.EventMessage, c.handleMessage)

	for _, roomID := range c.config.OpsRooms {
		if err := c.joinRoom(ctx, id.RoomID(roomID)); err != nil {
			return fmt.Errorf("join ops room %s: %w", roomID, err)
		}
	}

	go c.syncLoop()
	return nil
}

// syncLoop keeps /sync running until Stop.
func (c *Client) syncLoop() {
	const (
		backoffMin = 2 * time.Second
		backoffMax = 5 * time.Minute
	)
	backoff := backoffMin
	for {
		backoff = backoffMin
		if err := c.client.Sync(); err != nil {
			select {
			case <-c.stopCh:
				return
			default:
			}
			slog.Error("matrix: sync stopped, reconnecting", "err", err, "backoff", backoff)
			select {
			case <-c.stopCh:
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > backoffMax {
				backoff = backoffMax
			}
			continue
		}
		// Sync returns nil only after a clean StopSync.
		return
	}
}

// Stop terminates the sync loop.
func (c *Client) Stop() {
	close(c.stopCh)
	c.client.StopSync()
}

// SendMessage posts a plain text message to a room.
func (c *Client) SendMessage(ctx context.Context, roomID, message string) error {
	if _, err := c.client.SendText(ctx, id.RoomID(roomID), message); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// SendMarkdown posts a message with an HTML rendering and a plain-text
// fallback body.
func (c *Client) SendMarkdown(ctx context.Context, roomID, html, plaintext string) error {
	content := event.MessageEventContent{
		MsgType:       event.MsgText,
		Body:          plaintext,
		Format:        event.FormatHTML,
		FormattedBody: html,
	}
	if _, err := c.client.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, &content); err != nil {
		return fmt.Errorf("send formatted message: %w", err)
	}
	return nil
}

// SendNotice posts a notice, which most clients render without alerting.
func (c *Client) SendNotice(ctx context.Context, roomID, message string) error {
	content := event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    message,
	}
	if _, err := c.client.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, &content); err != nil {
		return fmt.Errorf("send notice: %w", err)
	}
	return nil
}

// SetTyping toggles the typing indicator, used while AWX calls run.
func (c *Client) SetTyping(ctx context.Context, roomID string, typing bool, timeout time.Duration) error {
	if _, err := c.client.UserTyping(ctx, id.RoomID(roomID), typing, timeout); err != nil {
		return fmt.Errorf("set typing: %w", err)
	}
	return nil
}

// IsOpsRoom reports whether roomID is one of the configured ops rooms.
func (c *Client) IsOpsRoom(roomID string) bool {
	for _, room := range c.config.OpsRooms {
		if room == roomID {
			return true
		}
	}
	return false
}

// UserID returns the bot's own Matrix user ID.
func (c *Client) UserID() string {
	return c.config.UserID
}

// handleMessage filters events down to text messages from other users in
// ops rooms before invoking the registered handler.
func (c *Client) handleMessage(ctx context.Context, evt *event.Event) {
	if evt.Sender == id.UserID(c.config.UserID) {
		return
	}
	content := evt.Content.AsMessage()
	if content == nil || content.MsgType != event.MsgText {
		return
	}
	if !c.IsOpsRoom(evt.RoomID.String()) {
		return
	}
	if c.msgHandler != nil {
		c.msgHandler(ctx, evt)
	}
}

func (c *Client) joinRoom(ctx context.Context, roomID id.RoomID) error {
	if _, err := c.client.JoinRoomByID(ctx, roomID); err != nil {
		// M_FORBIDDEN also covers the already-a-member case.
		if errors.Is(err, mautrix.MForbidden) {
			slog.Warn("matrix: room join forbidden, continuing", "room", roomID)
			return nil
		}
		return err
	}
	return nil
}
