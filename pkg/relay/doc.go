// Copyright 2024-2026 Aiku AI

// Package relay implements the webhook-to-Matrix delivery pipeline.
//
// A dispatch takes an arbitrary JSON payload posted by an external system,
// finds an embedded image reference if one exists, renders a source-specific
// template into a Matrix message body, uploads the image to the content
// repository when present, and delivers the result to a room.
//
// # Core Types
//
// [Node] is an ordered tagged-variant representation of a webhook payload.
// The order of mapping entries matters: image detection probes string leaves
// in wire order and stops at the first hit.
//
// [Renderer] loads templates from a [Store] keyed by source name and message
// kind and renders them into a [RenderedMessage].
//
// [MediaUploader] classifies candidate URLs with a header-only probe and
// performs the fetch-and-upload of detected images.
//
// [Dispatcher] drives one webhook call through the pipeline: the text
// message is always sent, the image message only when an image was detected
// and its upload succeeded. A failed image branch never undoes the text
// delivery.
package relay
