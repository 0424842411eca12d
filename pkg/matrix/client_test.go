// Copyright 2024-2026 Aiku AI

package matrix

import (
	"reflect"
	"strings"
	"testing"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

func TestDedupRooms(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   []id.RoomID
		want []id.RoomID
	}{
		{
			"preserves order",
			[]id.RoomID{"!a:x", "!b:x", "!c:x"},
			[]id.RoomID{"!a:x", "!b:x", "!c:x"},
		},
		{
			"drops duplicates keeping first",
			[]id.RoomID{"!a:x", "!b:x", "!a:x", "!b:x"},
			[]id.RoomID{"!a:x", "!b:x"},
		},
		{
			"drops empty ids",
			[]id.RoomID{"", "!a:x", ""},
			[]id.RoomID{"!a:x"},
		},
		{
			"empty input",
			nil,
			nil,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := dedupRooms(tc.in); !reflect.DeepEqual(got, tc.want) {
				t.Errorf("dedupRooms(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestGreetingContent(t *testing.T) {
	t.Parallel()
	content := greetingContent("matrix-webhook")
	if content.MsgType != event.MsgText {
		t.Errorf("MsgType = %q", content.MsgType)
	}
	if !strings.Contains(content.Body, "matrix-webhook") {
		t.Errorf("Body missing device name: %q", content.Body)
	}
	if content.Format != event.FormatHTML {
		t.Errorf("Format = %q", content.Format)
	}
	if !strings.Contains(content.FormattedBody, "<b>matrix-webhook</b>") {
		t.Errorf("FormattedBody: %q", content.FormattedBody)
	}
}
