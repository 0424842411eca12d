// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"fmt"
	"image"
	"io"
	"mime"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/util/exmime"
	"maunium.net/go/mautrix/id"

	// Dimension sniffing for the common web image formats.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// MediaReference is the outcome of a successful fetch-and-upload: an opaque
// content URI plus what we learned about the bytes along the way.
type MediaReference struct {
	URI      id.ContentURIString
	MimeType string
	Size     int
	Width    int
	Height   int
}

// UploadSink receives fetched media bytes and produces a content reference.
// The chat client implements this against the Matrix media repository.
type UploadSink interface {
	Upload(ctx context.Context, r io.Reader, size int64, mimeType string) (id.ContentURIString, error)
}

// mimeClass is a closed classification of a Content-Type header, derived
// once and compared by equality.
type mimeClass int

const (
	classOther mimeClass = iota
	classImage
)

// classifyMime maps a Content-Type header value to a mimeClass. The header
// is parsed properly so parameters ("image/png; charset=binary") and casing
// cannot produce false positives.
func classifyMime(contentType string) mimeClass {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return classOther
	}
	category, _, ok := strings.Cut(mediaType, "/")
	if !ok {
		return classOther
	}
	if category == "image" {
		return classImage
	}
	return classOther
}

// MediaUploader probes URL candidates for image-ness and performs the full
// fetch-and-upload of detected images. Both HTTP clients carry bounded
// timeouts so a payload full of URL-shaped strings cannot stall a dispatch
// indefinitely.
type MediaUploader struct {
	probeClient *http.Client
	fetchClient *http.Client
	log         zerolog.Logger
}

func NewMediaUploader(probeTimeout, fetchTimeout time.Duration, log zerolog.Logger) *MediaUploader {
	return &MediaUploader{
		probeClient: &http.Client{Timeout: probeTimeout},
		fetchClient: &http.Client{Timeout: fetchTimeout},
		log:         log.With().Str("component", "media").Logger(),
	}
}

// Probe issues a header-only request against the candidate URL and reports
// whether the response Content-Type is in the image family. Any failure,
// network or otherwise, means "not an image" and is never surfaced as an
// error.
func (u *MediaUploader) Probe(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	resp, err := u.probeClient.Do(req)
	if err != nil {
		u.log.Trace().Str("url", url).Err(err).Msg("Probe failed")
		return false
	}
	defer resp.Body.Close()

	isImage := classifyMime(resp.Header.Get("Content-Type")) == classImage
	Probes.WithLabelValues(probeResult(isImage)).Inc()
	return isImage
}

func probeResult(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}

// FetchAndUpload downloads the image body, spools it to a temporary file
// owned by this call, and hands it to the sink. The temp file is removed on
// every exit path.
func (u *MediaUploader) FetchAndUpload(ctx context.Context, url string, sink UploadSink) (*MediaReference, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &UploadError{URL: url, Err: err}
	}
	resp, err := u.fetchClient.Do(req)
	if err != nil {
		UploadFailures.Inc()
		return nil, &UploadError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		UploadFailures.Inc()
		return nil, &UploadError{URL: url, Status: resp.StatusCode}
	}

	mimeType := resp.Header.Get("Content-Type")
	if mediaType, _, err := mime.ParseMediaType(mimeType); err == nil {
		mimeType = mediaType
	}

	tmp, err := os.CreateTemp("", "matrix-webhook-*"+exmime.ExtensionFromMimetype(mimeType))
	if err != nil {
		UploadFailures.Inc()
		return nil, &UploadError{URL: url, Err: err}
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	size, err := io.Copy(tmp, resp.Body)
	if err != nil {
		UploadFailures.Inc()
		return nil, &UploadError{URL: url, Err: err}
	}

	width, height := sniffDimensions(tmp)

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		UploadFailures.Inc()
		return nil, &UploadError{URL: url, Err: err}
	}
	uri, err := sink.Upload(ctx, tmp, size, mimeType)
	if err != nil {
		UploadFailures.Inc()
		return nil, &UploadError{URL: url, Err: fmt.Errorf("upload rejected: %w", err)}
	}

	u.log.Debug().
		Str("url", url).
		Str("mime_type", mimeType).
		Int64("size", size).
		Str("content_uri", string(uri)).
		Msg("Uploaded media")

	return &MediaReference{
		URI:      uri,
		MimeType: mimeType,
		Size:     int(size),
		Width:    width,
		Height:   height,
	}, nil
}

// sniffDimensions reads the image header from the spooled file. Unknown
// formats just yield zero dimensions.
func sniffDimensions(f *os.File) (width, height int) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, 0
	}
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}
