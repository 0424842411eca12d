// Copyright 2024-2026 Aiku AI

// Package webhookd is the inbound HTTP layer of the relay. It authenticates
// webhook calls by token, decodes and formats their payloads, and hands them
// to the dispatch pipeline.
package webhookd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/matrix-webhook/pkg/config"
	"github.com/aiku/matrix-webhook/pkg/hookfmt"
	"github.com/aiku/matrix-webhook/pkg/relay"
)

// maxHookBodySize caps inbound webhook payloads at 4 MiB.
const maxHookBodySize = 4 << 20

// Dispatcher is the pipeline a validated webhook call is handed to.
type Dispatcher interface {
	Dispatch(ctx context.Context, roomID id.RoomID, rc *relay.RenderContext, payload *relay.Node) (*relay.Result, error)
}

// Server is the webhook HTTP listener.
type Server struct {
	cfg        *config.Config
	registry   *Registry
	dispatcher Dispatcher
	srv        *http.Server
	log        zerolog.Logger
}

func New(cfg *config.Config, registry *Registry, dispatcher Dispatcher, log zerolog.Logger) *Server {
	s := &Server{
		cfg:        cfg,
		registry:   registry,
		dispatcher: dispatcher,
		log:        log.With().Str("component", "webhookd").Logger(),
	}
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.WebhookPort),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler builds the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /post/{token}", s.handleHook)
	return mux
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.srv.Addr).Msg("The web server is waiting for events")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleHook(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	if !tokenRe.MatchString(token) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "Token mismatch"})
		return
	}
	hook, ok := s.registry.Lookup(token)
	if !ok {
		s.log.Error().Msg("Webhook token is not recognized as known token")
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "Token mismatch"})
		return
	}

	log := s.log.With().Str("app_name", hook.AppName).Str("room", hook.Room).Logger()

	r.Body = http.MaxBytesReader(w, r.Body, maxHookBodySize)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"error": "request body too large"})
		return
	}
	log.Debug().Int("size", len(raw)).Msg("Received webhook payload")

	payload, err := relay.ParsePayload(raw)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to decode payload as JSON")
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON payload"})
		return
	}

	text, err := FormatPayload(s.cfg.MessageFormat, s.cfg.AllowUnicode, raw, payload)
	if err != nil {
		log.Error().Err(err).Msg("Gateway configured with unknown message format")
		writeJSON(w, http.StatusUnsupportedMediaType, map[string]any{"error": "Gateway configured with unknown message format"})
		return
	}

	source := hook.Source
	if source == "" {
		source = DetectSource(payload)
	}
	if source == "" {
		source = sourceGeneric
	}

	formatted := hookfmt.Format(hook.AppName, text, s.cfg.UseMarkdown, s.cfg.DisplayAppName)
	rc := &relay.RenderContext{
		Source:        source,
		AppName:       hook.AppName,
		Text:          formatted.Body,
		TextFormat:    string(formatted.Format),
		FormattedText: formatted.FormattedBody,
	}

	res, err := s.dispatcher.Dispatch(r.Context(), id.RoomID(hook.Room), rc, payload)
	if err != nil {
		log.Error().Err(err).Str("source", source).Msg("Dispatch failed")
		status := http.StatusInternalServerError
		var deliveryErr *relay.DeliveryError
		if errors.As(err, &deliveryErr) {
			status = http.StatusBadGateway
		}
		writeJSON(w, status, map[string]any{"error": err.Error()})
		return
	}

	log.Info().
		Str("source", source).
		Bool("image_found", res.ImageFound).
		Bool("image_delivered", res.ImageDelivered).
		Msg("Webhook relayed")
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
