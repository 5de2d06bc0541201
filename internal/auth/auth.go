// Package auth provides authentication for the hub: browser cookie sessions,
// workspace API keys, and invite tokens. All credentials are opaque random
// tokens; only the SHA-256 hash is stored.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/talkto-ai/talkto/internal/store"
)

var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInviteInvalid = errors.New("invite invalid")
)

const (
	// SessionPrefix and KeyPrefix tag tokens so a leaked string is
	// identifiable and a pasted key is never mistaken for a session.
	SessionPrefix = "ses_"
	KeyPrefix     = "tk_"

	// keyPrefixLen is how many characters of a fresh API key are retained
	// for display ("tk_" plus the first 8 of the secret).
	keyPrefixLen = 11

	// DefaultSessionTTL is the browser session lifetime.
	DefaultSessionTTL = 30 * 24 * time.Hour
)

// Identity is the resolved caller of a request.
type Identity struct {
	UserID      string // empty for workspace-scoped API keys
	UserName    string
	WorkspaceID string
	Role        string // "admin" or "member"
	Source      string // "session", "api_key", "localhost"
}

// Service issues and resolves credentials against the store.
type Service struct {
	store store.Store
}

func NewService(s store.Store) *Service {
	return &Service{store: s}
}

// newToken returns a prefixed URL-safe token backed by 32 bytes of CSPRNG
// output.
func newToken(prefix string) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return prefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

// HashToken returns the hex SHA-256 of a token. Lookups go through the hash
// so the plaintext never touches the database.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func credentialLive(revokedAt *time.Time, expiresAt *time.Time, now time.Time) bool {
	if revokedAt != nil {
		return false
	}
	return expiresAt == nil || expiresAt.After(now)
}

// --- Browser sessions ---

// CreateSession issues a session for a user and returns the plaintext token,
// which is only ever seen in the Set-Cookie response.
func (s *Service) CreateSession(ctx context.Context, userID, workspaceID string) (string, *store.UserSession, error) {
	token, err := newToken(SessionPrefix)
	if err != nil {
		return "", nil, err
	}
	now := time.Now().UTC()
	sess := &store.UserSession{
		ID:          uuid.NewString(),
		UserID:      userID,
		TokenHash:   HashToken(token),
		WorkspaceID: workspaceID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(DefaultSessionTTL),
	}
	if err := s.store.CreateUserSession(ctx, sess); err != nil {
		return "", nil, fmt.Errorf("create session: %w", err)
	}
	return token, sess, nil
}

// ResolveSession maps a session token to an identity.
func (s *Service) ResolveSession(ctx context.Context, token string) (*Identity, error) {
	hash := HashToken(token)
	sess, err := s.store.GetUserSessionByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if sess == nil || !hmac.Equal([]byte(sess.TokenHash), []byte(hash)) {
		return nil, ErrUnauthorized
	}
	exp := sess.ExpiresAt
	if !credentialLive(nil, &exp, time.Now().UTC()) {
		return nil, ErrUnauthorized
	}

	user, err := s.store.GetUser(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUnauthorized
	}

	role := "member"
	if m, err := s.store.GetWorkspaceMember(ctx, sess.WorkspaceID, user.ID); err == nil && m != nil {
		role = m.Role
	}

	_ = s.store.TouchUserSession(ctx, sess.ID, time.Now().UTC())
	return &Identity{
		UserID:      user.ID,
		UserName:    user.Name,
		WorkspaceID: sess.WorkspaceID,
		Role:        role,
		Source:      "session",
	}, nil
}

// RevokeSessionToken removes the session backing a token, if any.
func (s *Service) RevokeSessionToken(ctx context.Context, token string) error {
	sess, err := s.store.GetUserSessionByHash(ctx, HashToken(token))
	if err != nil || sess == nil {
		return err
	}
	return s.store.RevokeUserSession(ctx, sess.ID)
}

// --- API keys ---

// CreateAPIKey issues a workspace API key. The plaintext is returned exactly
// once; the stored row keeps only the hash and a display prefix.
func (s *Service) CreateAPIKey(ctx context.Context, workspaceID, name, createdBy string, expiresAt *time.Time) (string, *store.APIKey, error) {
	token, err := newToken(KeyPrefix)
	if err != nil {
		return "", nil, err
	}
	key := &store.APIKey{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		KeyHash:     HashToken(token),
		KeyPrefix:   token[:keyPrefixLen],
		Name:        name,
		CreatedBy:   createdBy,
		CreatedAt:   time.Now().UTC(),
		ExpiresAt:   expiresAt,
	}
	if err := s.store.CreateAPIKey(ctx, key); err != nil {
		return "", nil, fmt.Errorf("create api key: %w", err)
	}
	return token, key, nil
}

// ResolveAPIKey maps a bearer key to a workspace-scoped identity. API keys
// carry no user; they act as a workspace admin so key holders can manage
// members, keys, and invites remotely.
func (s *Service) ResolveAPIKey(ctx context.Context, token string) (*Identity, error) {
	hash := HashToken(token)
	key, err := s.store.GetAPIKeyByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if key == nil || !hmac.Equal([]byte(key.KeyHash), []byte(hash)) {
		return nil, ErrUnauthorized
	}
	if !credentialLive(key.RevokedAt, key.ExpiresAt, time.Now().UTC()) {
		return nil, ErrUnauthorized
	}
	_ = s.store.TouchAPIKey(ctx, key.ID, time.Now().UTC())
	return &Identity{
		WorkspaceID: key.WorkspaceID,
		Role:        "admin",
		Source:      "api_key",
	}, nil
}

// --- Localhost bypass ---

// LocalIdentity resolves the implicit identity of an unauthenticated
// localhost request: the default workspace's first human admin, or an
// anonymous admin when no human has onboarded yet.
func (s *Service) LocalIdentity(ctx context.Context) (*Identity, error) {
	admin, err := s.store.GetDefaultHumanAdmin(ctx, store.DefaultWorkspaceID)
	if err != nil {
		return nil, err
	}
	id := &Identity{
		WorkspaceID: store.DefaultWorkspaceID,
		Role:        "admin",
		Source:      "localhost",
	}
	if admin != nil {
		id.UserID = admin.ID
		id.UserName = admin.Name
	}
	return id, nil
}

// --- Invites ---

// CreateInvite issues a shareable join token for a workspace.
func (s *Service) CreateInvite(ctx context.Context, workspaceID, role string, maxUses *int, expiresAt *time.Time) (*store.Invite, error) {
	token, err := newToken("inv_")
	if err != nil {
		return nil, err
	}
	inv := &store.Invite{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		Token:       token,
		Role:        role,
		MaxUses:     maxUses,
		ExpiresAt:   expiresAt,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateInvite(ctx, inv); err != nil {
		return nil, fmt.Errorf("create invite: %w", err)
	}
	return inv, nil
}

// AcceptInvite validates and consumes one use of an invite, returning it so
// the caller can add the joining user with the invite's role.
func (s *Service) AcceptInvite(ctx context.Context, token string) (*store.Invite, error) {
	inv, err := s.store.GetInviteByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if inv == nil || !credentialLive(inv.RevokedAt, inv.ExpiresAt, time.Now().UTC()) {
		return nil, ErrInviteInvalid
	}
	if inv.MaxUses != nil && inv.UseCount >= *inv.MaxUses {
		return nil, ErrInviteInvalid
	}
	if err := s.store.ConsumeInvite(ctx, inv.ID); err != nil {
		return nil, err
	}
	inv.UseCount++
	return inv, nil
}
