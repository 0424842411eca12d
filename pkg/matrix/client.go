// Copyright 2024-2026 Aiku AI

// Package matrix wraps a mautrix client into the chat-side collaborator of
// the relay: session login with credential persistence, end-to-end
// encryption, the sync loop, message delivery and media upload.
package matrix

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"go.mau.fi/util/exmime"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/crypto/cryptohelper"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	// SQL driver for the encryption state store.
	_ "github.com/mattn/go-sqlite3"

	"github.com/aiku/matrix-webhook/pkg/config"
	"github.com/aiku/matrix-webhook/pkg/relay"
)

// Client is an authenticated Matrix session. It implements the relay's
// ChatSender and UploadSink against the homeserver.
type Client struct {
	cfg *config.Config
	mx  *mautrix.Client

	crypto *cryptohelper.CryptoHelper

	joinRooms []id.RoomID
	greetOnce sync.Once
	log       zerolog.Logger
}

var (
	_ relay.ChatSender = (*Client)(nil)
	_ relay.UploadSink = (*Client)(nil)
)

// NewClient builds an unauthenticated client from the configuration.
// joinRooms lists the rooms to join on startup, in addition to the admin
// room.
func NewClient(cfg *config.Config, joinRooms []id.RoomID, log zerolog.Logger) (*Client, error) {
	mx, err := mautrix.NewClient(cfg.Homeserver, "", "")
	if err != nil {
		return nil, fmt.Errorf("failed to create matrix client: %w", err)
	}
	log = log.With().Str("component", "matrix").Logger()
	mx.Log = log

	if !cfg.SSLVerify {
		mx.Client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	return &Client{
		cfg:       cfg,
		mx:        mx,
		joinRooms: dedupRooms(append([]id.RoomID{id.RoomID(cfg.AdminRoom)}, joinRooms...)),
		log:       log,
	}, nil
}

// Login establishes the session: stored credentials when the store path has
// them, otherwise a first-time password login whose result is persisted.
// Encryption state is initialized afterwards in either case.
func (c *Client) Login(ctx context.Context) error {
	creds, err := loadCredentials(c.cfg.CredentialsPath())
	switch {
	case err == nil:
		c.log.Info().Stringer("user_id", creds.UserID).Msg("Logging in using stored credentials")
		c.mx.UserID = creds.UserID
		c.mx.DeviceID = creds.DeviceID
		c.mx.AccessToken = creds.AccessToken

	case errors.Is(err, fs.ErrNotExist):
		c.log.Info().Msg("First time use, did not find credentials file")
		if err := c.loginFirstTime(ctx); err != nil {
			return err
		}
		c.log.Info().Str("store_path", c.cfg.StorePath).Msg("Logged in, credentials stored")

	default:
		return err
	}

	helper, err := cryptohelper.NewCryptoHelper(c.mx, []byte(c.cfg.PickleKey), c.cfg.CryptoStorePath())
	if err != nil {
		return fmt.Errorf("failed to create crypto helper: %w", err)
	}
	if err := helper.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize encryption: %w", err)
	}
	c.mx.Crypto = helper
	c.crypto = helper
	return nil
}

func (c *Client) loginFirstTime(ctx context.Context) error {
	if c.cfg.Password == "" {
		return fmt.Errorf("MATRIX_PASSWORD is not set and no stored credentials exist")
	}
	if err := os.MkdirAll(c.cfg.StorePath, 0o700); err != nil {
		return fmt.Errorf("failed to create store path: %w", err)
	}

	resp, err := c.mx.Login(ctx, &mautrix.ReqLogin{
		Type: mautrix.AuthTypePassword,
		Identifier: mautrix.UserIdentifier{
			Type: mautrix.IdentifierTypeUser,
			User: c.cfg.UserID,
		},
		Password:                 c.cfg.Password,
		InitialDeviceDisplayName: c.cfg.DeviceName,
		StoreCredentials:         true,
	})
	if err != nil {
		return fmt.Errorf("failed to log in: %w", err)
	}

	return saveCredentials(c.cfg.CredentialsPath(), &credentials{
		Homeserver:  c.cfg.Homeserver,
		UserID:      resp.UserID,
		DeviceID:    resp.DeviceID,
		AccessToken: resp.AccessToken,
	})
}

// Run joins the configured rooms, wires the sync callbacks and syncs until
// the context ends.
func (c *Client) Run(ctx context.Context) error {
	syncer := c.mx.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnEventType(event.EventMessage, c.handleMessage)
	syncer.OnSync(c.handleSync)

	for _, room := range c.joinRooms {
		if _, err := c.mx.JoinRoom(ctx, room.String(), nil); err != nil {
			c.log.Warn().Err(err).Stringer("room_id", room).Msg("Failed to join room")
		}
	}
	if resp, err := c.mx.JoinedRooms(ctx); err == nil {
		c.log.Info().Int("count", len(resp.JoinedRooms)).Msg("The Matrix client is waiting for events")
	}

	err := c.mx.SyncWithContext(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("sync loop failed: %w", err)
	}
	return nil
}

// Close releases the encryption store.
func (c *Client) Close() error {
	if c.crypto != nil {
		return c.crypto.Close()
	}
	return nil
}

// handleMessage logs inbound room messages. The relay never replies to
// them; they are surfaced for the operator.
func (c *Client) handleMessage(_ context.Context, evt *event.Event) {
	if evt.Sender == c.mx.UserID {
		return
	}
	c.log.Info().
		Stringer("room_id", evt.RoomID).
		Stringer("sender", evt.Sender).
		Str("body", evt.Content.AsMessage().Body).
		Msg("Room message")
}

// handleSync announces the relay in the admin room once the first sync
// completes.
func (c *Client) handleSync(ctx context.Context, resp *mautrix.RespSync, _ string) bool {
	c.log.Debug().Str("next_batch", resp.NextBatch).Msg("Synced")
	c.greetOnce.Do(func() {
		content := greetingContent(c.cfg.DeviceName)
		_, err := c.mx.SendMessageEvent(ctx, id.RoomID(c.cfg.AdminRoom), event.EventMessage, content)
		if err != nil {
			c.log.Warn().Err(err).Msg("Failed to send greeting")
		}
	})
	return true
}

func greetingContent(deviceName string) *event.MessageEventContent {
	return &event.MessageEventContent{
		MsgType:       event.MsgText,
		Body:          fmt.Sprintf("Hi, I'm up and running from %s, and waiting for webhooks!", deviceName),
		Format:        event.FormatHTML,
		FormattedBody: fmt.Sprintf("Hi, I'm up and running from <b>%s</b>, and waiting for webhooks!", deviceName),
	}
}

// SendMessage implements relay.ChatSender.
func (c *Client) SendMessage(ctx context.Context, roomID id.RoomID, msg *relay.RenderedMessage) (id.EventID, error) {
	if err := msg.Validate(); err != nil {
		return "", err
	}
	resp, err := c.mx.SendMessageEvent(ctx, roomID, event.EventMessage, msg.ToContent())
	if err != nil {
		return "", err
	}
	return resp.EventID, nil
}

// Upload implements relay.UploadSink against the Matrix media repository.
func (c *Client) Upload(ctx context.Context, r io.Reader, size int64, mimeType string) (id.ContentURIString, error) {
	resp, err := c.mx.UploadMedia(ctx, mautrix.ReqUploadMedia{
		Content:       r,
		ContentLength: size,
		ContentType:   mimeType,
		FileName:      "webhook" + exmime.ExtensionFromMimetype(mimeType),
	})
	if err != nil {
		return "", err
	}
	return resp.ContentURI.CUString(), nil
}

// dedupRooms drops duplicate and empty room IDs, preserving order.
func dedupRooms(rooms []id.RoomID) []id.RoomID {
	seen := make(map[id.RoomID]struct{}, len(rooms))
	var out []id.RoomID
	for _, room := range rooms {
		if room == "" {
			continue
		}
		if _, ok := seen[room]; ok {
			continue
		}
		seen[room] = struct{}{}
		out = append(out, room)
	}
	return out
}
