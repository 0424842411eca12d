// Copyright 2024-2026 Aiku AI

package relay

import (
	"fmt"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// MediaInfo describes uploaded media attached to an image message.
type MediaInfo struct {
	MimeType string `json:"mimetype,omitempty"`
	Size     int    `json:"size,omitempty"`
	Width    int    `json:"w,omitempty"`
	Height   int    `json:"h,omitempty"`
}

// RenderedMessage is the structured body a template renders to. The shape is
// flat for both message kinds; image messages additionally carry a content
// URI and media info.
type RenderedMessage struct {
	MsgType       string     `json:"msgtype"`
	Body          string     `json:"body"`
	Format        string     `json:"format,omitempty"`
	FormattedBody string     `json:"formatted_body,omitempty"`
	URL           string     `json:"url,omitempty"`
	Info          *MediaInfo `json:"info,omitempty"`
}

// Validate rejects messages that must not reach the transport.
func (m *RenderedMessage) Validate() error {
	if m.MsgType == "" {
		return fmt.Errorf("rendered message has empty msgtype")
	}
	return nil
}

// ToContent converts the rendered message into Matrix event content.
func (m *RenderedMessage) ToContent() *event.MessageEventContent {
	content := &event.MessageEventContent{
		MsgType:       event.MessageType(m.MsgType),
		Body:          m.Body,
		Format:        event.Format(m.Format),
		FormattedBody: m.FormattedBody,
		URL:           id.ContentURIString(m.URL),
	}
	if m.Info != nil {
		content.Info = &event.FileInfo{
			MimeType: m.Info.MimeType,
			Size:     m.Info.Size,
			Width:    m.Info.Width,
			Height:   m.Info.Height,
		}
	}
	return content
}
