// Copyright 2024-2026 Aiku AI

package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/rs/zerolog"
)

// Kind selects which of a source's template pair to render.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// Store loads template text for a source and message kind. Load returns an
// error wrapping ErrTemplateNotFound when no template exists.
type Store interface {
	Load(source string, kind Kind) (string, error)
}

// DirStore reads templates from a directory, one file per source and kind,
// named <source>.<kind>.tmpl. Templates are read on every render so edits
// take effect without a restart.
type DirStore struct {
	dir string
}

func NewDirStore(dir string) *DirStore {
	return &DirStore{dir: dir}
}

func (s *DirStore) Load(source string, kind Kind) (string, error) {
	if strings.ContainsAny(source, `/\`) || source == "" {
		return "", fmt.Errorf("%w: invalid source %q", ErrTemplateNotFound, source)
	}
	path := filepath.Join(s.dir, fmt.Sprintf("%s.%s.tmpl", source, kind))
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: no %s template for source %q", ErrTemplateNotFound, kind, source)
	}
	if err != nil {
		return "", fmt.Errorf("failed to load template %s: %w", path, err)
	}
	return string(data), nil
}

// RenderContext carries the payload and all derived fields into a template.
type RenderContext struct {
	// Source is the webhook source the templates are selected by.
	Source string
	// AppName is the display name configured for the hook.
	AppName string
	// Text is the formatted payload dump, FormattedText its HTML variant.
	Text          string
	TextFormat    string
	FormattedText string
	// Payload is the decoded payload tree as plain values.
	Payload any
	// Image fields, populated only for image-kind renders.
	MXCURI   string
	MimeType string
	Size     int
	Width    int
	Height   int
}

// templateFuncs are available inside every message template. "json" encodes
// its argument as a JSON value, which is how string fields must be embedded
// in the rendered message body.
var templateFuncs = template.FuncMap{
	"json": func(v any) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	},
}

// Renderer turns a payload plus derived fields into a RenderedMessage using
// the source's template for the requested kind.
type Renderer struct {
	store Store
	log   zerolog.Logger
}

func NewRenderer(store Store, log zerolog.Logger) *Renderer {
	return &Renderer{
		store: store,
		log:   log.With().Str("component", "renderer").Logger(),
	}
}

// Check reports whether a template exists for the source and kind, without
// rendering it. The dispatcher uses this to avoid uploading media that could
// never be announced.
func (r *Renderer) Check(source string, kind Kind) error {
	_, err := r.store.Load(source, kind)
	return err
}

// Render loads, parses and executes the (source, kind) template against the
// render context, then decodes the output as a RenderedMessage. Malformed
// templates, undefined field references, invalid output and empty message
// kinds all come back as *RenderError rather than raw faults.
func (r *Renderer) Render(source string, kind Kind, rc *RenderContext) (*RenderedMessage, error) {
	text, err := r.store.Load(source, kind)
	if err != nil {
		return nil, err
	}

	tmpl, err := template.New(string(kind)).
		Funcs(templateFuncs).
		Option("missingkey=error").
		Parse(text)
	if err != nil {
		return nil, &RenderError{Source: source, Kind: kind, Err: err}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, rc); err != nil {
		return nil, &RenderError{Source: source, Kind: kind, Err: err}
	}

	var msg RenderedMessage
	if err := json.Unmarshal(buf.Bytes(), &msg); err != nil {
		return nil, &RenderError{Source: source, Kind: kind, Err: fmt.Errorf("template output is not a valid message body: %w", err)}
	}
	if err := msg.Validate(); err != nil {
		return nil, &RenderError{Source: source, Kind: kind, Err: err}
	}

	r.log.Debug().Str("source", source).Str("kind", string(kind)).Str("msgtype", msg.MsgType).Msg("Rendered message")
	return &msg, nil
}
