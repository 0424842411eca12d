// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"
)

const testRoom = id.RoomID("!room:example.org")

// newMediaServer serves a probe-able PNG under /img.png and a URL that
// probes as an image but fails to download under /broken.png.
func newMediaServer(t *testing.T) *httptest.Server {
	t.Helper()
	img := testPNG(t, 3, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/img.png":
			w.Header().Set("Content-Type", "image/png")
			if r.Method == http.MethodGet {
				w.Write(img)
			}
		case "/broken.png":
			if r.Method == http.MethodHead {
				w.Header().Set("Content-Type", "image/png")
				return
			}
			http.Error(w, "storage offline", http.StatusInternalServerError)
		default:
			w.Header().Set("Content-Type", "text/html")
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestDispatcher(t *testing.T, files map[string]string) (*Dispatcher, *fakeChat, *fakeSink) {
	t.Helper()
	renderer := NewRenderer(writeTemplates(t, files), zerolog.Nop())
	chat := &fakeChat{}
	sink := newFakeSink()
	d := NewDispatcher(renderer, newTestUploader(), chat, sink, zerolog.Nop())
	return d, chat, sink
}

var testTemplates = map[string]string{
	"generic.text.tmpl":  `{"msgtype": "m.text", "body": {{ json .Text }}}`,
	"generic.image.tmpl": `{"msgtype": "m.image", "body": "image", "url": {{ json .MXCURI }}, "info": {"mimetype": {{ json .MimeType }}, "size": {{ .Size }}, "w": {{ .Width }}, "h": {{ .Height }}}}`,
}

func TestDispatchTextOnly(t *testing.T) {
	d, chat, sink := newTestDispatcher(t, testTemplates)

	payload := mustParse(t, `{"text": "deploy finished"}`)
	res, err := d.Dispatch(context.Background(), testRoom, &RenderContext{Source: "generic", Text: "deploy finished"}, payload)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	sent := chat.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	if sent[0].MsgType != "m.text" || sent[0].Body != "deploy finished" {
		t.Errorf("unexpected text message: %+v", sent[0])
	}
	if res.ImageFound {
		t.Error("ImageFound = true for payload without URLs")
	}
	if res.TextEventID == "" {
		t.Error("TextEventID not recorded")
	}
	if n := len(sink.Uploads()); n != 0 {
		t.Errorf("sink received %d uploads, want 0", n)
	}
}

func TestDispatchWithImage(t *testing.T) {
	srv := newMediaServer(t)
	d, chat, sink := newTestDispatcher(t, testTemplates)

	imageURL := srv.URL + "/img.png"
	payload := mustParse(t, `{"text": "look", "attachments": [{"url": "`+imageURL+`"}]}`)
	rc := &RenderContext{Source: "generic", Text: "look"}
	res, err := d.Dispatch(context.Background(), testRoom, rc, payload)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if !res.ImageFound || res.ImageURL != imageURL {
		t.Errorf("ImageFound=%v ImageURL=%q, want detection of %q", res.ImageFound, res.ImageURL, imageURL)
	}
	if !res.ImageDelivered {
		t.Error("ImageDelivered = false")
	}

	sent := chat.Sent()
	if len(sent) != 2 {
		t.Fatalf("sent %d messages, want 2", len(sent))
	}
	// Text always goes out first.
	if sent[0].MsgType != "m.text" {
		t.Errorf("first message msgtype = %q, want m.text", sent[0].MsgType)
	}
	img := sent[1]
	if img.MsgType != "m.image" {
		t.Errorf("second message msgtype = %q, want m.image", img.MsgType)
	}
	if img.URL != string(sink.uri) {
		t.Errorf("image url = %q, want %q", img.URL, sink.uri)
	}
	if img.Info == nil || img.Info.Width != 3 || img.Info.Height != 2 {
		t.Errorf("image info = %+v, want 3x2 dimensions", img.Info)
	}

	if len(sink.Uploads()) != 1 {
		t.Fatalf("sink received %d uploads, want 1", len(sink.Uploads()))
	}
	// The content URI is attached to the payload before the image render.
	if got, ok := rc.Payload.(map[string]any); !ok || got["mxc_uri"] != string(sink.uri) {
		t.Errorf("payload mxc_uri = %v", got["mxc_uri"])
	}
}

func TestDispatchUploadFailureKeepsText(t *testing.T) {
	srv := newMediaServer(t)
	d, chat, sink := newTestDispatcher(t, testTemplates)

	payload := mustParse(t, `{"url": "`+srv.URL+`/broken.png"}`)
	res, err := d.Dispatch(context.Background(), testRoom, &RenderContext{Source: "generic", Text: "x"}, payload)
	if err != nil {
		t.Fatalf("Dispatch: %v, want nil after text was delivered", err)
	}

	if !res.ImageFound {
		t.Error("ImageFound = false, want detection before the failed download")
	}
	if res.ImageDelivered {
		t.Error("ImageDelivered = true after failed upload")
	}
	if len(chat.Sent()) != 1 {
		t.Errorf("sent %d messages, want 1 (text only)", len(chat.Sent()))
	}
	if len(sink.Uploads()) != 0 {
		t.Error("sink received an upload despite the failed download")
	}
}

func TestDispatchNoTemplates(t *testing.T) {
	srv := newMediaServer(t)
	d, chat, sink := newTestDispatcher(t, nil)

	payload := mustParse(t, `{"url": "`+srv.URL+`/img.png"}`)
	_, err := d.Dispatch(context.Background(), testRoom, &RenderContext{Source: "generic", Text: "x"}, payload)
	if !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("error = %v, want ErrTemplateNotFound", err)
	}
	if len(chat.Sent()) != 0 {
		t.Errorf("sent %d messages, want 0", len(chat.Sent()))
	}
	// The image template is checked before any bytes move.
	if len(sink.Uploads()) != 0 {
		t.Error("sink received an upload despite missing templates")
	}
}

func TestDispatchMissingImageTemplate(t *testing.T) {
	srv := newMediaServer(t)
	d, chat, sink := newTestDispatcher(t, map[string]string{
		"generic.text.tmpl": testTemplates["generic.text.tmpl"],
	})

	payload := mustParse(t, `{"url": "`+srv.URL+`/img.png"}`)
	res, err := d.Dispatch(context.Background(), testRoom, &RenderContext{Source: "generic", Text: "x"}, payload)
	if !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("error = %v, want ErrTemplateNotFound", err)
	}
	if res.TextEventID == "" {
		t.Error("text message was not delivered")
	}
	if len(chat.Sent()) != 1 {
		t.Errorf("sent %d messages, want 1", len(chat.Sent()))
	}
	if len(sink.Uploads()) != 0 {
		t.Error("sink received an upload despite the missing image template")
	}
}

func TestDispatchTextDeliveryFailure(t *testing.T) {
	srv := newMediaServer(t)
	d, chat, sink := newTestDispatcher(t, testTemplates)
	chat.failWith = errors.New("M_FORBIDDEN: not in room")

	payload := mustParse(t, `{"url": "`+srv.URL+`/img.png"}`)
	_, err := d.Dispatch(context.Background(), testRoom, &RenderContext{Source: "generic", Text: "x"}, payload)

	var delErr *DeliveryError
	if !errors.As(err, &delErr) {
		t.Fatalf("error = %v, want *DeliveryError", err)
	}
	if delErr.Kind != KindText {
		t.Errorf("Kind = %q, want %q", delErr.Kind, KindText)
	}
	if delErr.RoomID != testRoom {
		t.Errorf("RoomID = %q, want %q", delErr.RoomID, testRoom)
	}
	// The dispatch stops at the failed text send.
	if len(sink.Uploads()) != 0 {
		t.Error("sink received an upload after a failed text delivery")
	}
}

func TestDispatchDistinctIDs(t *testing.T) {
	d, _, _ := newTestDispatcher(t, testTemplates)

	payload := mustParse(t, `{"text": "a"}`)
	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		res, err := d.Dispatch(context.Background(), testRoom, &RenderContext{Source: "generic", Text: "a"}, payload)
		if err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
		if res.DispatchID == "" || seen[res.DispatchID] {
			t.Errorf("dispatch ID %q not unique", res.DispatchID)
		}
		seen[res.DispatchID] = true
	}
}
