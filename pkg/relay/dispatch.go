// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"
)

// mediaRefKey is the reserved payload key the content URI is attached under
// before the image template is rendered.
const mediaRefKey = "mxc_uri"

// ChatSender delivers a rendered message to a room. The transport is
// expected to serialize outbound sends itself; the dispatcher imposes no
// locking of its own.
type ChatSender interface {
	SendMessage(ctx context.Context, roomID id.RoomID, msg *RenderedMessage) (id.EventID, error)
}

// Result records which deliveries happened during one dispatch.
type Result struct {
	DispatchID     string
	TextEventID    id.EventID
	ImageEventID   id.EventID
	ImageFound     bool
	ImageURL       string
	ImageDelivered bool
}

// Dispatcher orchestrates one webhook call: scan the payload for an image
// reference, always render and send the text message, and when an image was
// found, upload it and send the image message as well.
type Dispatcher struct {
	renderer *Renderer
	media    *MediaUploader
	chat     ChatSender
	sink     UploadSink
	log      zerolog.Logger
}

func NewDispatcher(renderer *Renderer, media *MediaUploader, chat ChatSender, sink UploadSink, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		renderer: renderer,
		media:    media,
		chat:     chat,
		sink:     sink,
		log:      log.With().Str("component", "dispatcher").Logger(),
	}
}

// Dispatch runs the pipeline for one webhook call. The returned error joins
// the per-message fatal failures (template not found, render faults,
// delivery failures); image fetch or upload failures after a successful text
// delivery are logged and swallowed, leaving the call a partial success.
// An aborted context after the text send leaves the room in a valid state:
// the text message stays delivered, the image is simply never sent.
func (d *Dispatcher) Dispatch(ctx context.Context, roomID id.RoomID, rc *RenderContext, payload *Node) (*Result, error) {
	start := time.Now()
	res := &Result{DispatchID: uuid.NewString()}

	log := d.log.With().
		Str("dispatch_id", res.DispatchID).
		Str("source", rc.Source).
		Str("room_id", roomID.String()).
		Logger()

	defer func() {
		DispatchDuration.Observe(time.Since(start).Seconds())
	}()

	imageURL, imageFound := FindImageReference(ctx, payload, d.media)
	res.ImageFound = imageFound
	res.ImageURL = imageURL
	if imageFound {
		log.Debug().Str("image_url", imageURL).Msg("Detected image reference in payload")
	}

	rc.Payload = payload.ToValue()

	// The text message is sent unconditionally, whether or not an image was
	// found.
	var textErr error
	textMsg, err := d.renderer.Render(rc.Source, KindText, rc)
	if err != nil {
		log.Warn().Err(err).Msg("Text message rendering failed")
		textErr = err
	} else {
		eventID, err := d.chat.SendMessage(ctx, roomID, textMsg)
		if err != nil {
			Dispatches.WithLabelValues("failed").Inc()
			return res, &DeliveryError{RoomID: roomID, Kind: KindText, Err: err}
		}
		res.TextEventID = eventID
		Sends.WithLabelValues(string(KindText)).Inc()
		log.Info().Str("event_id", eventID.String()).Msg("Delivered text message")
	}

	if !imageFound {
		d.finish(log, res, textErr)
		return res, textErr
	}

	if err := d.renderer.Check(rc.Source, KindImage); err != nil {
		log.Warn().Err(err).Msg("No image template, skipping upload")
		err = errors.Join(textErr, err)
		d.finish(log, res, err)
		return res, err
	}

	ref, err := d.media.FetchAndUpload(ctx, imageURL, d.sink)
	if err != nil {
		// Partial success: the text message is already delivered and must
		// not be unwound.
		log.Warn().Err(err).Str("image_url", imageURL).Msg("Image upload failed, delivering text only")
		d.finish(log, res, textErr)
		return res, textErr
	}

	payload.SetKey(mediaRefKey, Scalar(string(ref.URI)))
	rc.Payload = payload.ToValue()
	rc.MXCURI = string(ref.URI)
	rc.MimeType = ref.MimeType
	rc.Size = ref.Size
	rc.Width = ref.Width
	rc.Height = ref.Height

	imageMsg, err := d.renderer.Render(rc.Source, KindImage, rc)
	if err != nil {
		log.Warn().Err(err).Msg("Image message rendering failed")
		err = errors.Join(textErr, err)
		d.finish(log, res, err)
		return res, err
	}

	eventID, err := d.chat.SendMessage(ctx, roomID, imageMsg)
	if err != nil {
		Dispatches.WithLabelValues("failed").Inc()
		return res, &DeliveryError{RoomID: roomID, Kind: KindImage, Err: err}
	}
	res.ImageEventID = eventID
	res.ImageDelivered = true
	Sends.WithLabelValues(string(KindImage)).Inc()
	log.Info().Str("event_id", eventID.String()).Msg("Delivered image message")

	d.finish(log, res, textErr)
	return res, textErr
}

func (d *Dispatcher) finish(log zerolog.Logger, res *Result, err error) {
	switch {
	case err != nil:
		Dispatches.WithLabelValues("failed").Inc()
	case res.ImageFound && !res.ImageDelivered:
		Dispatches.WithLabelValues("partial").Inc()
		log.Info().Msg("Dispatch finished (text only)")
	default:
		Dispatches.WithLabelValues("done").Inc()
		log.Debug().Msg("Dispatch finished")
	}
}
