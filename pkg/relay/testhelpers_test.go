// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"fmt"
	"io"
	"sync"

	"maunium.net/go/mautrix/id"
)

// fakeSink captures uploads and returns canned content URIs.
type fakeSink struct {
	mu         sync.Mutex
	uploads    []sinkUpload
	uri        id.ContentURIString
	rejectWith error
}

type sinkUpload struct {
	Data     []byte
	Size     int64
	MimeType string
}

func newFakeSink() *fakeSink {
	return &fakeSink{uri: "mxc://example.org/uploaded"}
}

func (s *fakeSink) Upload(_ context.Context, r io.Reader, size int64, mimeType string) (id.ContentURIString, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rejectWith != nil {
		return "", s.rejectWith
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.uploads = append(s.uploads, sinkUpload{Data: data, Size: size, MimeType: mimeType})
	return s.uri, nil
}

func (s *fakeSink) Uploads() []sinkUpload {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]sinkUpload, len(s.uploads))
	copy(cp, s.uploads)
	return cp
}

// fakeChat records sent messages and can be told to fail.
type fakeChat struct {
	mu       sync.Mutex
	sent     []*RenderedMessage
	rooms    []id.RoomID
	failWith error
	nextID   int
}

func (c *fakeChat) SendMessage(_ context.Context, roomID id.RoomID, msg *RenderedMessage) (id.EventID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWith != nil {
		return "", c.failWith
	}
	c.sent = append(c.sent, msg)
	c.rooms = append(c.rooms, roomID)
	c.nextID++
	return id.EventID(fmt.Sprintf("$event-%d", c.nextID)), nil
}

func (c *fakeChat) Sent() []*RenderedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]*RenderedMessage, len(c.sent))
	copy(cp, c.sent)
	return cp
}
