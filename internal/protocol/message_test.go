package protocol

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestLogicalID(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"foo", "foo"},
		{"foo|saltXYZ", "foo"},
		{"foo|a|b", "foo"},
		{"|salt", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := LogicalID(tt.id); got != tt.want {
			t.Errorf("LogicalID(%q) = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestSalted(t *testing.T) {
	a := Salted("notif")
	b := Salted("notif")

	if a == b {
		t.Errorf("Salted returned identical ids %q", a)
	}
	if !strings.HasPrefix(a, "notif|") {
		t.Errorf("Salted = %q, want notif| prefix", a)
	}
	if LogicalID(a) != "notif" {
		t.Errorf("LogicalID(Salted) = %q, want notif", LogicalID(a))
	}
}

func TestIsMutation(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  bool
	}{
		{"subscription", "subscription { onEvent { id } }", false},
		{"mutation", "mutation { markRead(id: 1) }", true},
		{"named mutation", "  mutation MarkRead($id: ID!) { markRead(id: $id) }", true},
		{"mutation brace", "mutation{ x }", true},
		{"field named mutationLog", "mutationLog { id }", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := Subscribe("x", tt.query)
			if got := msg.IsMutation(); got != tt.want {
				t.Errorf("IsMutation(%q) = %v, want %v", tt.query, got, tt.want)
			}
		})
	}
}

func TestEncode_ConnectionInit(t *testing.T) {
	data, err := Encode(ConnectionInit("tok"))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	want := `{"type":"connection_init","payload":{"authorization":"tok"}}`
	if string(data) != want {
		t.Errorf("Encode = %s, want %s", data, want)
	}
}

func TestEncode_OmitsEmptyFields(t *testing.T) {
	data, err := Encode(Ping())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if string(data) != `{"type":"ping"}` {
		t.Errorf("Encode(Ping) = %s", data)
	}

	data, err = Encode(Complete("sub-1"))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if string(data) != `{"id":"sub-1","type":"complete"}` {
		t.Errorf("Encode(Complete) = %s", data)
	}
}

func TestEncode_SkipsReceivedAt(t *testing.T) {
	msg := Complete("sub-1")
	msg.ReceivedAt = time.Now()

	data, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if string(data) != `{"id":"sub-1","type":"complete"}` {
		t.Errorf("Encode = %s, receive time must not be on the wire", data)
	}
}

func TestDecode_NextFrame(t *testing.T) {
	data := `{"id":"notif|abc","type":"next","payload":{"data":{"onEvent":{"id":"1"}}}}`

	msg, err := Decode([]byte(data))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if msg.Type != TypeNext {
		t.Errorf("Type = %s, want next", msg.Type)
	}
	if msg.LogicalID() != "notif" {
		t.Errorf("LogicalID = %q, want notif", msg.LogicalID())
	}
	if _, ok := msg.Payload["data"].(map[string]any); !ok {
		t.Errorf("Payload[data] = %#v, want nested object", msg.Payload["data"])
	}
}

func TestDecode_Malformed(t *testing.T) {
	for _, data := range []string{`{not-json}`, `{"id":"x"}`, ``} {
		_, err := Decode([]byte(data))
		if !errors.Is(err, ErrMalformedFrame) {
			t.Errorf("Decode(%q) error = %v, want ErrMalformedFrame", data, err)
		}
	}
}
