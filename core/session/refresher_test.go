package session

import (
	"context"
	"testing"
	"time"
)

func TestRunRefreshJob(t *testing.T) {
	store := &mockCredStore{}
	cache := &memCache{sess: Session{
		IDToken: "id", AccessToken: "access", RefreshToken: "refresh",
		LastRefreshTime:   time.Now().Add(-2 * time.Hour),
		InitialSignInTime: time.Now().Add(-3 * time.Hour),
	}}
	m := newTestManager(store, cache)
	m.conf.RefreshThreshold = 10 * time.Millisecond // tick fast
	m.setState(AuthState{State: Authenticated, User: User{Username: "gburdell@gatech.edu"}})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		m.RunRefreshJob(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunRefreshJob did not stop on context cancellation")
	}

	store.mu.Lock()
	calls := store.initiateAuthCalls
	store.mu.Unlock()
	if calls == 0 {
		t.Error("expected at least one refresh tick")
	}
}
