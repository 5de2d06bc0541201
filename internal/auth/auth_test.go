package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/talkto-ai/talkto/internal/store"
)

func newTestService(t *testing.T) (*Service, store.Store) {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := store.Seed(context.Background(), s); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	return NewService(s), s
}

func createHuman(t *testing.T, s store.Store, name, role string) *store.User {
	t.Helper()
	ctx := context.Background()
	u := &store.User{ID: uuid.NewString(), Name: name, Type: "human", CreatedAt: time.Now().UTC()}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := s.AddWorkspaceMember(ctx, &store.WorkspaceMember{
		WorkspaceID: store.DefaultWorkspaceID, UserID: u.ID, Role: role, JoinedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("AddWorkspaceMember: %v", err)
	}
	return u
}

func TestSessionRoundTrip(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	u := createHuman(t, s, "boss", "admin")

	token, sess, err := svc.CreateSession(ctx, u.ID, store.DefaultWorkspaceID)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if !strings.HasPrefix(token, SessionPrefix) {
		t.Errorf("token %q lacks session prefix", token)
	}
	if sess.TokenHash == token {
		t.Error("plaintext stored as hash")
	}

	id, err := svc.ResolveSession(ctx, token)
	if err != nil {
		t.Fatalf("ResolveSession: %v", err)
	}
	if id.UserID != u.ID || id.Role != "admin" || id.Source != "session" {
		t.Errorf("identity wrong: %+v", id)
	}
}

func TestSessionRevoked(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	u := createHuman(t, svc.store, "boss", "admin")

	token, _, err := svc.CreateSession(ctx, u.ID, store.DefaultWorkspaceID)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := svc.RevokeSessionToken(ctx, token); err != nil {
		t.Fatalf("RevokeSessionToken: %v", err)
	}
	if _, err := svc.ResolveSession(ctx, token); err != ErrUnauthorized {
		t.Errorf("revoked session resolved: %v", err)
	}
}

func TestResolveSessionGarbageToken(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.ResolveSession(context.Background(), "ses_nope"); err != ErrUnauthorized {
		t.Errorf("garbage token: got %v, want ErrUnauthorized", err)
	}
}

func TestAPIKeyRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	token, key, err := svc.CreateAPIKey(ctx, store.DefaultWorkspaceID, "ci", "system", nil)
	if err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	if !strings.HasPrefix(token, KeyPrefix) {
		t.Errorf("key %q lacks tk_ prefix", token)
	}
	if key.KeyPrefix != token[:11] {
		t.Errorf("key_prefix %q != first 11 chars of %q", key.KeyPrefix, token)
	}

	id, err := svc.ResolveAPIKey(ctx, token)
	if err != nil {
		t.Fatalf("ResolveAPIKey: %v", err)
	}
	if id.WorkspaceID != store.DefaultWorkspaceID || id.UserID != "" || id.Source != "api_key" {
		t.Errorf("identity wrong: %+v", id)
	}
	// Keys act as workspace admins: they exist to manage the workspace
	// remotely, and there is no user row to look a role up from.
	if id.Role != "admin" {
		t.Errorf("api key role = %q, want admin", id.Role)
	}
}

func TestAPIKeyExpiredAndRevoked(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Hour)
	token, _, err := svc.CreateAPIKey(ctx, store.DefaultWorkspaceID, "old", "system", &past)
	if err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	if _, err := svc.ResolveAPIKey(ctx, token); err != ErrUnauthorized {
		t.Errorf("expired key resolved: %v", err)
	}

	token2, key2, err := svc.CreateAPIKey(ctx, store.DefaultWorkspaceID, "live", "system", nil)
	if err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	if err := s.RevokeAPIKey(ctx, key2.ID); err != nil {
		t.Fatalf("RevokeAPIKey: %v", err)
	}
	if _, err := svc.ResolveAPIKey(ctx, token2); err != ErrUnauthorized {
		t.Errorf("revoked key resolved: %v", err)
	}
}

func TestLocalIdentity(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()

	// Before onboarding: anonymous admin.
	id, err := svc.LocalIdentity(ctx)
	if err != nil {
		t.Fatalf("LocalIdentity: %v", err)
	}
	if id.UserID != "" || id.Role != "admin" || id.Source != "localhost" {
		t.Errorf("pre-onboarding identity wrong: %+v", id)
	}

	admin := createHuman(t, s, "boss", "admin")
	id, err = svc.LocalIdentity(ctx)
	if err != nil {
		t.Fatalf("LocalIdentity: %v", err)
	}
	if id.UserID != admin.ID {
		t.Errorf("localhost did not resolve to default admin: %+v", id)
	}
}

func TestInviteLifecycle(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	uses := 1
	inv, err := svc.CreateInvite(ctx, store.DefaultWorkspaceID, "member", &uses, nil)
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}

	got, err := svc.AcceptInvite(ctx, inv.Token)
	if err != nil {
		t.Fatalf("AcceptInvite: %v", err)
	}
	if got.UseCount != 1 {
		t.Errorf("use_count: got %d, want 1", got.UseCount)
	}

	// Second use exceeds max_uses.
	if _, err := svc.AcceptInvite(ctx, inv.Token); err != ErrInviteInvalid {
		t.Errorf("exhausted invite accepted: %v", err)
	}
	if _, err := svc.AcceptInvite(ctx, "inv_bogus"); err != ErrInviteInvalid {
		t.Errorf("bogus invite accepted: %v", err)
	}
}

func TestHashTokenStable(t *testing.T) {
	if HashToken("tk_a") != HashToken("tk_a") {
		t.Error("hash not deterministic")
	}
	if HashToken("tk_a") == HashToken("tk_b") {
		t.Error("distinct tokens collided")
	}
	if len(HashToken("x")) != 64 {
		t.Errorf("hash length %d, want 64 hex chars", len(HashToken("x")))
	}
}
