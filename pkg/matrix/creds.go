// Copyright 2024-2026 Aiku AI

package matrix

import (
	"encoding/json"
	"fmt"
	"os"

	"maunium.net/go/mautrix/id"
)

// credentials is the persisted session, written after the first password
// login and restored on every later start.
type credentials struct {
	Homeserver  string      `json:"homeserver"`
	UserID      id.UserID   `json:"user_id"`
	DeviceID    id.DeviceID `json:"device_id"`
	AccessToken string      `json:"access_token"`
}

func loadCredentials(path string) (*credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var creds credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	if creds.AccessToken == "" || creds.UserID == "" {
		return nil, fmt.Errorf("credentials file is missing required fields")
	}
	return &creds, nil
}

func saveCredentials(path string, creds *credentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	// The access token is a session secret; keep the file private.
	return os.WriteFile(path, data, 0o600)
}
