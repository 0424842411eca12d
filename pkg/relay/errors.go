// Copyright 2024-2026 Aiku AI

package relay

import (
	"errors"
	"fmt"

	"maunium.net/go/mautrix/id"
)

// ErrTemplateNotFound is returned when no template exists for a source and
// message kind. It is fatal for that message only; other sends in the same
// dispatch proceed.
var ErrTemplateNotFound = errors.New("template not found")

// RenderError reports a malformed template or a template/payload mismatch.
type RenderError struct {
	Source string
	Kind   Kind
	Err    error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("failed to render %s/%s template: %v", e.Source, e.Kind, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// UploadError reports a failed image fetch or a rejected upload. It only
// aborts the image branch of a dispatch; the text message has already been
// delivered by the time it can occur.
type UploadError struct {
	URL    string
	Status int
	Err    error
}

func (e *UploadError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("failed to fetch %s: unexpected status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("failed to upload media from %s: %v", e.URL, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// DeliveryError reports a send-transport failure. It is surfaced to the
// caller without retrying; retry policy belongs to the chat client.
type DeliveryError struct {
	RoomID id.RoomID
	Kind   Kind
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("failed to deliver %s message to %s: %v", e.Kind, e.RoomID, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}
