// Package store defines the persistence interface for the hub and provides
// SQLite and PostgreSQL implementations.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultWorkspaceID is the reserved id of the workspace auto-created on
// first boot for local single-user operation.
const DefaultWorkspaceID = "00000000-0000-0000-0000-000000000000"

// ErrConflict is returned on unique-constraint violations (duplicate channel
// name, agent name, workspace slug).
var ErrConflict = errors.New("conflict")

// Store is the persistence interface for the hub.
type Store interface {
	// Workspaces
	CreateWorkspace(ctx context.Context, ws *Workspace) error
	GetWorkspace(ctx context.Context, id string) (*Workspace, error)
	GetWorkspaceBySlug(ctx context.Context, slug string) (*Workspace, error)
	ListWorkspaces(ctx context.Context) ([]Workspace, error)
	AddWorkspaceMember(ctx context.Context, m *WorkspaceMember) error
	GetWorkspaceMember(ctx context.Context, workspaceID, userID string) (*WorkspaceMember, error)
	ListWorkspaceMembers(ctx context.Context, workspaceID string) ([]WorkspaceMember, error)
	GetDefaultHumanAdmin(ctx context.Context, workspaceID string) (*User, error)

	// Users
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByName(ctx context.Context, name string) (*User, error)
	UpdateUser(ctx context.Context, u *User) error
	DeleteUser(ctx context.Context, id string) error

	// Agents
	CreateAgent(ctx context.Context, a *Agent) error
	GetAgent(ctx context.Context, id string) (*Agent, error)
	GetAgentByName(ctx context.Context, name string) (*Agent, error)
	ListAgents(ctx context.Context, workspaceID string) ([]Agent, error)
	UpdateAgentProfile(ctx context.Context, a *Agent) error
	SetAgentStatus(ctx context.Context, id, status string) error
	SetAgentCredentials(ctx context.Context, id, serverURL, providerSessionID string) error
	ClearAgentCredentials(ctx context.Context, id string) error

	// Agent sessions (OS-level; used for ghost detection)
	StartAgentSession(ctx context.Context, s *AgentSession) error
	GetActiveAgentSession(ctx context.Context, agentID string) (*AgentSession, error)
	EndAgentSessions(ctx context.Context, agentID string) error
	TouchAgentHeartbeat(ctx context.Context, agentID string, at time.Time) error

	// Channels
	CreateChannel(ctx context.Context, c *Channel) error
	GetChannel(ctx context.Context, id string) (*Channel, error)
	GetChannelByName(ctx context.Context, workspaceID, name string) (*Channel, error)
	ListChannels(ctx context.Context, workspaceID string) ([]Channel, error)
	ArchiveChannel(ctx context.Context, id string) error
	AddChannelMember(ctx context.Context, channelID, userID string) error
	IsChannelMember(ctx context.Context, channelID, userID string) (bool, error)
	ListChannelMembers(ctx context.Context, channelID string) ([]ChannelMember, error)
	ListChannelIDsForUser(ctx context.Context, userID string) ([]string, error)
	ChannelAnalytics(ctx context.Context, channelID string) (*ChannelStats, error)

	// Messages
	CreateMessage(ctx context.Context, m *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	ListMessages(ctx context.Context, channelID, beforeID string, limit int) ([]Message, error)
	ListMessagesMentioning(ctx context.Context, workspaceID, name string, limit int) ([]Message, error)
	UpdateMessageContent(ctx context.Context, id, content string, editedAt time.Time) error
	DeleteMessage(ctx context.Context, id string) error
	SetMessagePinned(ctx context.Context, id string, pinned bool, by string, at time.Time) error
	ListPinnedMessages(ctx context.Context, channelID string) ([]Message, error)
	SearchMessages(ctx context.Context, workspaceID, query, channelID string, limit int) ([]Message, error)

	// Reactions
	ToggleReaction(ctx context.Context, messageID, userID, emoji string) (added bool, err error)
	ListReactions(ctx context.Context, messageID string) ([]Reaction, error)

	// Read receipts
	UpsertReadReceipt(ctx context.Context, userID, channelID string, at time.Time) error
	GetReadReceipt(ctx context.Context, userID, channelID string) (*time.Time, error)

	// Feature requests
	CreateFeature(ctx context.Context, f *FeatureRequest) error
	GetFeature(ctx context.Context, id string) (*FeatureRequest, error)
	ListFeatures(ctx context.Context) ([]FeatureRequest, error)
	UpsertFeatureVote(ctx context.Context, featureID, userID string, vote int) error
	FeatureVoteCount(ctx context.Context, featureID string) (int, error)

	// API keys
	CreateAPIKey(ctx context.Context, k *APIKey) error
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*APIKey, error)
	ListAPIKeys(ctx context.Context, workspaceID string) ([]APIKey, error)
	TouchAPIKey(ctx context.Context, id string, at time.Time) error
	RevokeAPIKey(ctx context.Context, id string) error

	// Invites
	CreateInvite(ctx context.Context, inv *Invite) error
	GetInviteByToken(ctx context.Context, token string) (*Invite, error)
	ListInvites(ctx context.Context, workspaceID string) ([]Invite, error)
	ConsumeInvite(ctx context.Context, id string) error
	RevokeInvite(ctx context.Context, id string) error

	// Browser sessions
	CreateUserSession(ctx context.Context, s *UserSession) error
	GetUserSessionByHash(ctx context.Context, tokenHash string) (*UserSession, error)
	TouchUserSession(ctx context.Context, id string, at time.Time) error
	RevokeUserSession(ctx context.Context, id string) error

	// Health
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// New creates a store for the configured driver.
func New(driver, dsn string) (Store, error) {
	switch driver {
	case "", "sqlite":
		return NewSQLite(dsn)
	case "postgres":
		return NewPostgres(dsn)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

// Workspace is an isolation boundary for channels, agents, and humans.
type Workspace struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Slug             string    `json:"slug"`
	Type             string    `json:"type"` // "personal" or "shared"
	Description      string    `json:"description,omitempty"`
	OnboardingPrompt string    `json:"onboarding_prompt,omitempty"`
	HumanWelcome     string    `json:"human_welcome,omitempty"`
	CreatedBy        string    `json:"created_by"`
	CreatedAt        time.Time `json:"created_at"`
}

// User represents a human or agent principal.
type User struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Type              string    `json:"type"` // "human" or "agent"
	DisplayName       string    `json:"display_name,omitempty"`
	About             string    `json:"about,omitempty"`
	AgentInstructions string    `json:"agent_instructions,omitempty"`
	Email             string    `json:"email,omitempty"`
	AvatarURL         string    `json:"avatar_url,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// WorkspaceMember links a user to a workspace with a role.
type WorkspaceMember struct {
	WorkspaceID string    `json:"workspace_id"`
	UserID      string    `json:"user_id"`
	Role        string    `json:"role"` // "admin" or "member"
	JoinedAt    time.Time `json:"joined_at"`
	UserName    string    `json:"user_name,omitempty"` // joined for listings
	UserType    string    `json:"user_type,omitempty"`
}

// Agent holds the agent-specific half of a user of type "agent". The pair
// (ServerURL, ProviderSessionID) identifies the external runtime session used
// for invocation.
type Agent struct {
	ID                string    `json:"id"` // == users.id
	AgentName         string    `json:"agent_name"`
	AgentType         string    `json:"agent_type"`
	ProjectPath       string    `json:"project_path"`
	ProjectName       string    `json:"project_name"`
	Status            string    `json:"status"` // "online" or "offline"
	Description       string    `json:"description,omitempty"`
	Personality       string    `json:"personality,omitempty"`
	CurrentTask       string    `json:"current_task,omitempty"`
	Gender            string    `json:"gender,omitempty"`
	ServerURL         string    `json:"server_url,omitempty"`
	ProviderSessionID string    `json:"provider_session_id,omitempty"`
	WorkspaceID       string    `json:"workspace_id"`
	CreatedAt         time.Time `json:"created_at"`
}

// AgentSession is the agent's OS-level terminal session.
type AgentSession struct {
	ID            string     `json:"id"`
	AgentID       string     `json:"agent_id"`
	PID           int        `json:"pid"`
	TTY           string     `json:"tty,omitempty"`
	IsActive      bool       `json:"is_active"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	LastHeartbeat time.Time  `json:"last_heartbeat"`
}

// Channel is a named message stream within a workspace.
type Channel struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Type        string     `json:"type"` // "general", "project", "custom", "dm"
	Topic       string     `json:"topic,omitempty"`
	ProjectPath string     `json:"project_path,omitempty"`
	WorkspaceID string     `json:"workspace_id"`
	CreatedBy   string     `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	IsArchived  bool       `json:"is_archived"`
	ArchivedAt  *time.Time `json:"archived_at,omitempty"`
}

// ChannelMember links a user to a channel.
type ChannelMember struct {
	ChannelID string    `json:"channel_id"`
	UserID    string    `json:"user_id"`
	JoinedAt  time.Time `json:"joined_at"`
	UserName  string    `json:"user_name,omitempty"`
}

// ChannelStats is the analytics summary for a channel.
type ChannelStats struct {
	MessageCount int        `json:"message_count"`
	SenderCount  int        `json:"sender_count"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

// Message is a single channel message. Seq is the per-channel insertion
// counter used as the pagination cursor tiebreaker.
type Message struct {
	ID          string     `json:"id"`
	ChannelID   string     `json:"channel_id"`
	SenderID    string     `json:"sender_id"`
	Content     string     `json:"content"`
	Mentions    []string   `json:"mentions,omitempty"`
	ParentID    string     `json:"parent_id,omitempty"`
	IsPinned    bool       `json:"is_pinned"`
	PinnedAt    *time.Time `json:"pinned_at,omitempty"`
	PinnedBy    string     `json:"pinned_by,omitempty"`
	EditedAt    *time.Time `json:"edited_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	Seq         int64      `json:"-"`
	SenderName  string     `json:"sender_name,omitempty"`  // joined for listings
	ChannelName string     `json:"channel_name,omitempty"` // joined for search
}

// Reaction is one user's emoji reaction on a message.
type Reaction struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
	UserName  string    `json:"user_name,omitempty"`
}

// FeatureRequest is a votable improvement proposal.
type FeatureRequest struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	Reason      string     `json:"reason,omitempty"`
	CreatedBy   string     `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
	VoteCount   int        `json:"vote_count"`
	CreatorName string     `json:"creator_name,omitempty"`
}

// APIKey is a workspace-scoped bearer credential. Plaintext is never stored;
// KeyPrefix holds the first characters for display.
type APIKey struct {
	ID          string     `json:"id"`
	WorkspaceID string     `json:"workspace_id"`
	KeyHash     string     `json:"-"`
	KeyPrefix   string     `json:"key_prefix"`
	Name        string     `json:"name,omitempty"`
	CreatedBy   string     `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
}

// Invite is a shareable workspace join token.
type Invite struct {
	ID          string     `json:"id"`
	WorkspaceID string     `json:"workspace_id"`
	Token       string     `json:"token"`
	Role        string     `json:"role"`
	MaxUses     *int       `json:"max_uses,omitempty"`
	UseCount    int        `json:"use_count"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
}

// UserSession is a browser cookie session.
type UserSession struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	TokenHash    string     `json:"-"`
	WorkspaceID  string     `json:"workspace_id"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
	LastActiveAt *time.Time `json:"last_active_at,omitempty"`
}
