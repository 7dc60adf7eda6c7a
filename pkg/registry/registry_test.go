package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/codeedexprojects/rigsdock-chat/pkg/chat"
)

var (
	admin  = chat.Participant{ID: "ops-1", Role: chat.RoleAdmin}
	vendor = chat.Participant{ID: "v1", Role: chat.RoleVendor}
)

func TestJoin_WithoutBind(t *testing.T) {
	r := New()

	err := r.Join("s1", "v1")
	if !errors.Is(err, chat.ErrAuth) {
		t.Errorf("Expected ErrAuth for unbound session, got %v", err)
	}
}

func TestJoin_Idempotent(t *testing.T) {
	r := New()
	if err := r.Bind("s1", admin); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	if err := r.Join("s1", "v1"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := r.Join("s1", "v1"); err != nil {
		t.Fatalf("Second Join should be a no-op, got %v", err)
	}

	if got := len(r.MembersOf("v1")); got != 1 {
		t.Errorf("Expected 1 member after double join, got %d", got)
	}
}

func TestJoin_SwitchesRoom(t *testing.T) {
	r := New()
	if err := r.Bind("s1", admin); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	if err := r.Join("s1", "v1"); err != nil {
		t.Fatalf("Join v1: %v", err)
	}
	if err := r.Join("s1", "v2"); err != nil {
		t.Fatalf("Join v2: %v", err)
	}

	if got := len(r.MembersOf("v1")); got != 0 {
		t.Errorf("Expected old room to be empty after switch, got %d members", got)
	}
	if got := len(r.MembersOf("v2")); got != 1 {
		t.Errorf("Expected 1 member in new room, got %d", got)
	}
}

func TestJoin_MultipleSessionsSameRoom(t *testing.T) {
	// Same admin from two tabs plus the vendor — all in one room.
	r := New()
	for i, p := range []chat.Participant{admin, admin, vendor} {
		sid := fmt.Sprintf("s%d", i+1)
		if err := r.Bind(sid, p); err != nil {
			t.Fatalf("Bind %s: %v", sid, err)
		}
		if err := r.Join(sid, "v1"); err != nil {
			t.Fatalf("Join %s: %v", sid, err)
		}
	}

	if got := len(r.MembersOf("v1")); got != 3 {
		t.Errorf("Expected 3 members, got %d", got)
	}
	if got := len(r.SessionsOf("ops-1")); got != 2 {
		t.Errorf("Expected 2 sessions for ops-1, got %d", got)
	}
}

func TestLeave_AlwaysSafe(t *testing.T) {
	r := New()

	r.Leave("unknown") // no-op

	if err := r.Bind("s1", admin); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	r.Leave("s1") // bound but not joined
	if err := r.Join("s1", "v1"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	r.Leave("s1")
	r.Leave("s1") // already left

	if got := len(r.MembersOf("v1")); got != 0 {
		t.Errorf("Expected empty room after leave, got %d members", got)
	}
	if _, ok := r.Lookup("s1"); !ok {
		t.Error("Leave should not unbind the session")
	}
}

func TestUnbind_RemovesEverything(t *testing.T) {
	r := New()
	if err := r.Bind("s1", vendor); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := r.Join("s1", "v1"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	r.Unbind("s1")
	r.Unbind("s1") // idempotent

	if got := len(r.MembersOf("v1")); got != 0 {
		t.Errorf("Expected empty room after unbind, got %d members", got)
	}
	if _, ok := r.Lookup("s1"); ok {
		t.Error("Expected session to be gone after unbind")
	}
	if got := len(r.SessionsOf("v1")); got != 0 {
		t.Errorf("Expected no sessions for participant, got %d", got)
	}
}

func TestBind_IdentityImmutable(t *testing.T) {
	r := New()
	if err := r.Bind("s1", admin); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	if err := r.Bind("s1", admin); err != nil {
		t.Errorf("Re-bind with same identity should be a no-op, got %v", err)
	}
	if err := r.Bind("s1", vendor); !errors.Is(err, chat.ErrAuth) {
		t.Errorf("Expected ErrAuth on identity change, got %v", err)
	}
}

func TestConcurrentJoinLeave(t *testing.T) {
	r := New()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		sid := fmt.Sprintf("s%d", i)
		if err := r.Bind(sid, admin); err != nil {
			t.Fatalf("Bind %s: %v", sid, err)
		}
		wg.Add(1)
		go func(sid string) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = r.Join(sid, "v1")
				r.MembersOf("v1")
				r.Leave(sid)
			}
		}(sid)
	}
	wg.Wait()

	if got := len(r.MembersOf("v1")); got != 0 {
		t.Errorf("Expected empty room after churn, got %d members", got)
	}
}

func TestSwapFrom(t *testing.T) {
	r := New()
	tmp := New()
	if err := tmp.Bind("s1", vendor); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := tmp.Join("s1", "v1"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	r.SwapFrom(tmp)

	if got := len(r.MembersOf("v1")); got != 1 {
		t.Errorf("Expected hydrated room with 1 member, got %d", got)
	}
	if got := r.SessionCount(); got != 1 {
		t.Errorf("Expected 1 session after swap, got %d", got)
	}
}
