// Copyright 2024-2026 Aiku AI

package webhookd

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/matrix-webhook/pkg/relay"
)

// Hook is the destination configuration for one webhook token.
type Hook struct {
	Room    string `yaml:"room"`
	AppName string `yaml:"app_name"`
	// Source overrides payload-based source detection for this hook.
	Source string `yaml:"source,omitempty"`
}

// Registry maps webhook tokens to their hooks. Tokens are secrets: an
// unknown token is rejected before the payload is even parsed.
type Registry struct {
	hooks map[string]Hook
}

// LoadRegistry reads the hook registry from a YAML file keyed by token.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read hook registry: %w", err)
	}
	var hooks map[string]Hook
	if err := yaml.Unmarshal(data, &hooks); err != nil {
		return nil, fmt.Errorf("failed to parse hook registry: %w", err)
	}
	for token, hook := range hooks {
		if !tokenRe.MatchString(token) {
			return nil, fmt.Errorf("invalid webhook token %q", token)
		}
		if hook.Room == "" {
			return nil, fmt.Errorf("hook %q has no room", token)
		}
	}
	return &Registry{hooks: hooks}, nil
}

var tokenRe = regexp.MustCompile(`^[a-zA-Z0-9]+$`)

// Lookup resolves a token to its hook.
func (r *Registry) Lookup(token string) (Hook, bool) {
	hook, ok := r.hooks[token]
	return hook, ok
}

// Rooms returns the distinct rooms the registry delivers to, so the chat
// client can join them ahead of the first webhook.
func (r *Registry) Rooms() []id.RoomID {
	seen := make(map[string]struct{}, len(r.hooks))
	var rooms []id.RoomID
	for _, hook := range r.hooks {
		if _, ok := seen[hook.Room]; ok {
			continue
		}
		seen[hook.Room] = struct{}{}
		rooms = append(rooms, id.RoomID(hook.Room))
	}
	return rooms
}

// sourceGeneric is the template set used when a payload matches no known
// webhook source.
const sourceGeneric = "generic"

// DetectSource guesses the webhook source from the payload's top-level
// keys, the same heuristic the known senders are distinguishable by:
// Discord posts carry "embeds", Slack posts carry "text".
func DetectSource(payload *relay.Node) string {
	if _, ok := payload.Lookup("embeds"); ok {
		return "discord"
	}
	if _, ok := payload.Lookup("text"); ok {
		return "slack"
	}
	return ""
}
