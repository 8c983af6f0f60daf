package session

import (
	"testing"
	"time"

	"github.com/guard-project/guard/internal"
)

func TestNonceSingleUse(t *testing.T) {
	store := NewStore(DefaultNonceTTL, DefaultSessionTTL, false)
	defer store.Teardown()

	nonce, err := store.NewLoginNonce()
	if err != nil {
		t.Fatalf("NewLoginNonce: %s", err)
	}
	if nonce == "" {
		t.Fatalf("minted an empty nonce")
	}
	if !store.ConsumeNonce(nonce) {
		t.Fatalf("freshly minted nonce did not validate")
	}
	if store.ConsumeNonce(nonce) {
		t.Fatalf("nonce validated twice; replay window is open")
	}
	if store.ConsumeNonce("no-such-nonce") {
		t.Fatalf("unknown nonce validated")
	}
}

func TestNonceExpiry(t *testing.T) {
	store := NewStore(time.Millisecond, DefaultSessionTTL, false)
	defer store.Teardown()

	nonce, err := store.NewLoginNonce()
	if err != nil {
		t.Fatalf("NewLoginNonce: %s", err)
	}
	time.Sleep(10 * time.Millisecond)
	if store.ConsumeNonce(nonce) {
		t.Fatalf("nonce validated after its TTL elapsed")
	}
}

func TestSessionLifecycle(t *testing.T) {
	store := NewStore(DefaultNonceTTL, DefaultSessionTTL, false)
	defer store.Teardown()

	sess := &internal.Session{
		BoundHost: "127.0.0.1",
		UserID:    42,
		RawGuilds: []internal.GuildDescriptor{{ID: 7, Name: "G"}},
	}
	token, err := store.NewSession(sess)
	if err != nil {
		t.Fatalf("NewSession: %s", err)
	}
	got := store.Session(token)
	if got == nil {
		t.Fatalf("session not found under its own token")
	}
	if got.UserID != 42 || got.BoundHost != "127.0.0.1" || len(got.RawGuilds) != 1 {
		t.Errorf("got session %+v", got)
	}
	// reads are repeatable until expiry so the client can resume
	if store.Session(token) == nil {
		t.Errorf("second read failed")
	}
	if store.Session("bogus") != nil {
		t.Errorf("unknown token returned a session")
	}
}

func TestSessionExpiry(t *testing.T) {
	store := NewStore(DefaultNonceTTL, time.Millisecond, false)
	defer store.Teardown()

	token, err := store.NewSession(&internal.Session{BoundHost: "h", UserID: 1})
	if err != nil {
		t.Fatalf("NewSession: %s", err)
	}
	time.Sleep(10 * time.Millisecond)
	if store.Session(token) != nil {
		t.Fatalf("session survived past its TTL")
	}
}

func TestTokensAreUnique(t *testing.T) {
	store := NewStore(DefaultNonceTTL, DefaultSessionTTL, false)
	defer store.Teardown()

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, err := store.NewSession(&internal.Session{BoundHost: "h", UserID: int64(i)})
		if err != nil {
			t.Fatalf("NewSession: %s", err)
		}
		if seen[token] {
			t.Fatalf("token %s minted twice", token)
		}
		seen[token] = true
	}
}
