// Copyright 2024-2026 Aiku AI

package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// NodeKind identifies the shape of a payload node.
type NodeKind int

const (
	KindScalar NodeKind = iota
	KindMapping
	KindSequence
)

// maxPayloadDepth bounds recursion while parsing and flattening payloads.
// Webhook payloads seen in practice nest a handful of levels at most.
const maxPayloadDepth = 100

// MapEntry is a single key-value pair of a mapping node. Entries keep the
// order they appeared in on the wire.
type MapEntry struct {
	Key   string
	Value *Node
}

// Node is one node of a webhook payload tree. Exactly one of Entries, Items
// or Value is meaningful depending on Kind. Scalar values are string,
// json.Number, bool or nil.
type Node struct {
	Kind    NodeKind
	Entries []MapEntry
	Items   []*Node
	Value   any
}

// Scalar wraps a plain value in a scalar node.
func Scalar(v any) *Node {
	return &Node{Kind: KindScalar, Value: v}
}

// ParsePayload decodes a JSON document into a payload tree. Unlike a
// map[string]any round-trip, the token decoder preserves object key order,
// which keeps image detection deterministic. Nesting deeper than
// maxPayloadDepth is rejected.
func ParsePayload(data []byte) (*Node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	node, err := parseValue(dec, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to parse payload: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("trailing data after payload")
	}
	return node, nil
}

func parseValue(dec *json.Decoder, depth int) (*Node, error) {
	if depth > maxPayloadDepth {
		return nil, fmt.Errorf("payload nesting exceeds %d levels", maxPayloadDepth)
	}
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); ok {
		switch delim {
		case '{':
			return parseMapping(dec, depth)
		case '[':
			return parseSequence(dec, depth)
		default:
			return nil, fmt.Errorf("unexpected delimiter %q", delim)
		}
	}
	return Scalar(tok), nil
}

func parseMapping(dec *json.Decoder, depth int) (*Node, error) {
	node := &Node{Kind: KindMapping}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("non-string mapping key %v", keyTok)
		}
		value, err := parseValue(dec, depth+1)
		if err != nil {
			return nil, err
		}
		node.Entries = append(node.Entries, MapEntry{Key: key, Value: value})
	}
	// Consume the closing brace.
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return node, nil
}

func parseSequence(dec *json.Decoder, depth int) (*Node, error) {
	node := &Node{Kind: KindSequence}
	for dec.More() {
		item, err := parseValue(dec, depth+1)
		if err != nil {
			return nil, err
		}
		node.Items = append(node.Items, item)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return node, nil
}

// Flatten collects every leaf scalar of the tree in traversal order:
// mapping entries in wire order, sequence items in index order, nested
// containers recursed in place.
func Flatten(payload *Node) []any {
	var values []any
	flattenInto(payload, &values, 0)
	return values
}

func flattenInto(node *Node, values *[]any, depth int) {
	if node == nil || depth > maxPayloadDepth {
		return
	}
	switch node.Kind {
	case KindScalar:
		*values = append(*values, node.Value)
	case KindMapping:
		for _, entry := range node.Entries {
			flattenInto(entry.Value, values, depth+1)
		}
	case KindSequence:
		for _, item := range node.Items {
			flattenInto(item, values, depth+1)
		}
	}
}

// SetKey upserts a top-level mapping entry. It is a no-op on non-mapping
// roots; image fields are still available to templates via the render
// context in that case.
func (n *Node) SetKey(key string, value *Node) {
	if n == nil || n.Kind != KindMapping {
		return
	}
	for i, entry := range n.Entries {
		if entry.Key == key {
			n.Entries[i].Value = value
			return
		}
	}
	n.Entries = append(n.Entries, MapEntry{Key: key, Value: value})
}

// Lookup returns the value of a top-level mapping entry.
func (n *Node) Lookup(key string) (*Node, bool) {
	if n == nil || n.Kind != KindMapping {
		return nil, false
	}
	for _, entry := range n.Entries {
		if entry.Key == key {
			return entry.Value, true
		}
	}
	return nil, false
}

// ToValue converts the tree back into plain Go values for template
// rendering: mappings become map[string]any, sequences []any.
func (n *Node) ToValue() any {
	if n == nil {
		return nil
	}
	switch n.Kind {
	case KindMapping:
		m := make(map[string]any, len(n.Entries))
		for _, entry := range n.Entries {
			m[entry.Key] = entry.Value.ToValue()
		}
		return m
	case KindSequence:
		s := make([]any, len(n.Items))
		for i, item := range n.Items {
			s[i] = item.ToValue()
		}
		return s
	default:
		return n.Value
	}
}

// Prober classifies a URL candidate as image-like or not. Probes must never
// fail: a network error is evidence of "not an image".
type Prober interface {
	Probe(ctx context.Context, url string) bool
}

// FindImageReference scans the payload's string leaves in flatten order and
// returns the first one the prober classifies as an image. Only leaves that
// look like HTTP URLs are probed; anything else cannot probe true anyway, so
// skipping them just avoids pointless network round trips.
func FindImageReference(ctx context.Context, payload *Node, prober Prober) (string, bool) {
	for _, value := range Flatten(payload) {
		s, ok := value.(string)
		if !ok || !isHTTPURL(s) {
			continue
		}
		if ctx.Err() != nil {
			return "", false
		}
		if prober.Probe(ctx, s) {
			return s, true
		}
	}
	return "", false
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
