package chat

import (
	"errors"
	"testing"
	"time"
)

func TestRoomKeyFor(t *testing.T) {
	admin := Participant{ID: "ops-1", Role: RoleAdmin}
	vendor := Participant{ID: "v1", Role: RoleVendor}

	key1, err := RoomKeyFor(admin, vendor)
	if err != nil {
		t.Fatalf("RoomKeyFor(admin, vendor) error: %v", err)
	}
	key2, err := RoomKeyFor(vendor, admin)
	if err != nil {
		t.Fatalf("RoomKeyFor(vendor, admin) error: %v", err)
	}

	if key1 != key2 {
		t.Errorf("Expected the same key regardless of argument order, got %q and %q", key1, key2)
	}
	if key1 != RoomKey("v1") {
		t.Errorf("Expected key %q, got %q", "v1", key1)
	}
}

func TestRoomKeyFor_NoVendor(t *testing.T) {
	a := Participant{ID: "ops-1", Role: RoleAdmin}
	b := Participant{ID: "ops-2", Role: RoleAdmin}

	if _, err := RoomKeyFor(a, b); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation for admin/admin pair, got %v", err)
	}
}

func TestRoomKeyFor_TwoVendors(t *testing.T) {
	a := Participant{ID: "v1", Role: RoleVendor}
	b := Participant{ID: "v2", Role: RoleVendor}

	if _, err := RoomKeyFor(a, b); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation for vendor/vendor pair, got %v", err)
	}
}

func TestMessageValidate(t *testing.T) {
	valid := Message{
		Sender:       "v1",
		SenderType:   RoleVendor,
		Receiver:     "ops-1",
		ReceiverType: RoleAdmin,
		Body:         "Hello",
		Timestamp:    time.Now(),
	}

	tests := []struct {
		name    string
		mutate  func(*Message)
		wantErr bool
	}{
		{"valid", func(*Message) {}, false},
		{"empty body", func(m *Message) { m.Body = "" }, true},
		{"whitespace body", func(m *Message) { m.Body = "   " }, true},
		{"missing sender", func(m *Message) { m.Sender = "" }, true},
		{"missing receiver", func(m *Message) { m.Receiver = "" }, true},
		{"bad sender type", func(m *Message) { m.SenderType = "Customer" }, true},
		{"bad receiver type", func(m *Message) { m.ReceiverType = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := valid
			tt.mutate(&m)
			err := m.Validate()
			if tt.wantErr && !errors.Is(err, ErrValidation) {
				t.Errorf("Expected ErrValidation, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
		})
	}
}

func TestMessageRoom(t *testing.T) {
	m := Message{
		Sender:       "ops-1",
		SenderType:   RoleAdmin,
		Receiver:     "v1",
		ReceiverType: RoleVendor,
		Body:         "Hello",
	}
	room, err := m.Room()
	if err != nil {
		t.Fatalf("Room() error: %v", err)
	}
	if room != RoomKey("v1") {
		t.Errorf("Expected room %q, got %q", "v1", room)
	}
}
