package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store using PostgreSQL. It is the deployment
// option for shared workspaces where several machines talk to one hub.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres creates a new PostgreSQL store and runs migrations.
func NewPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS workspaces (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			slug TEXT UNIQUE NOT NULL,
			type TEXT NOT NULL DEFAULT 'personal',
			description TEXT NOT NULL DEFAULT '',
			onboarding_prompt TEXT NOT NULL DEFAULT '',
			human_welcome TEXT NOT NULL DEFAULT '',
			created_by TEXT NOT NULL DEFAULT 'system',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT UNIQUE NOT NULL,
			type TEXT NOT NULL DEFAULT 'human',
			display_name TEXT NOT NULL DEFAULT '',
			about TEXT NOT NULL DEFAULT '',
			agent_instructions TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			avatar_url TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS workspace_members (
			workspace_id TEXT NOT NULL REFERENCES workspaces(id),
			user_id TEXT NOT NULL REFERENCES users(id),
			role TEXT NOT NULL DEFAULT 'member',
			joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (workspace_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY REFERENCES users(id),
			agent_name TEXT UNIQUE NOT NULL,
			agent_type TEXT NOT NULL DEFAULT '',
			project_path TEXT NOT NULL DEFAULT '',
			project_name TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'offline',
			description TEXT NOT NULL DEFAULT '',
			personality TEXT NOT NULL DEFAULT '',
			current_task TEXT NOT NULL DEFAULT '',
			gender TEXT NOT NULL DEFAULT '',
			server_url TEXT NOT NULL DEFAULT '',
			provider_session_id TEXT NOT NULL DEFAULT '',
			workspace_id TEXT NOT NULL DEFAULT '` + DefaultWorkspaceID + `',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS agent_sessions (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL REFERENCES agents(id),
			pid INTEGER NOT NULL DEFAULT 0,
			tty TEXT NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			ended_at TIMESTAMPTZ,
			last_heartbeat TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS channels (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT 'custom',
			topic TEXT NOT NULL DEFAULT '',
			project_path TEXT NOT NULL DEFAULT '',
			workspace_id TEXT NOT NULL DEFAULT '` + DefaultWorkspaceID + `',
			created_by TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			is_archived BOOLEAN NOT NULL DEFAULT FALSE,
			archived_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS channel_members (
			channel_id TEXT NOT NULL REFERENCES channels(id),
			user_id TEXT NOT NULL REFERENCES users(id),
			joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (channel_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			channel_id TEXT NOT NULL REFERENCES channels(id),
			sender_id TEXT NOT NULL,
			content TEXT NOT NULL,
			mentions TEXT NOT NULL DEFAULT '[]',
			parent_id TEXT NOT NULL DEFAULT '',
			is_pinned BOOLEAN NOT NULL DEFAULT FALSE,
			pinned_at TIMESTAMPTZ,
			pinned_by TEXT NOT NULL DEFAULT '',
			edited_at TIMESTAMPTZ,
			seq BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_channel_seq ON messages(channel_id, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_channel_id ON messages(channel_id)`,
		`CREATE TABLE IF NOT EXISTS message_reactions (
			message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL,
			emoji TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (message_id, user_id, emoji)
		)`,
		`CREATE TABLE IF NOT EXISTS read_receipts (
			user_id TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			last_read_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (user_id, channel_id)
		)`,
		`CREATE TABLE IF NOT EXISTS feature_requests (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'open',
			reason TEXT NOT NULL DEFAULT '',
			created_by TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS feature_votes (
			feature_id TEXT NOT NULL REFERENCES feature_requests(id),
			user_id TEXT NOT NULL,
			vote INTEGER NOT NULL,
			PRIMARY KEY (feature_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS workspace_api_keys (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL REFERENCES workspaces(id),
			key_hash TEXT UNIQUE NOT NULL,
			key_prefix TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			created_by TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			expires_at TIMESTAMPTZ,
			revoked_at TIMESTAMPTZ,
			last_used_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS workspace_invites (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL REFERENCES workspaces(id),
			token TEXT UNIQUE NOT NULL,
			role TEXT NOT NULL DEFAULT 'member',
			max_uses INTEGER,
			use_count INTEGER NOT NULL DEFAULT 0,
			expires_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			revoked_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS user_sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id),
			token_hash TEXT UNIQUE NOT NULL,
			workspace_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			expires_at TIMESTAMPTZ NOT NULL,
			last_active_at TIMESTAMPTZ
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_channels_workspace_name ON channels(workspace_id, name)`,
		`CREATE INDEX IF NOT EXISTS idx_channels_workspace_id ON channels(workspace_id)`,
		`CREATE INDEX IF NOT EXISTS idx_agents_workspace_id ON agents(workspace_id)`,
		`CREATE INDEX IF NOT EXISTS idx_agent_sessions_agent_id ON agent_sessions(agent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_channel_members_user_id ON channel_members(user_id)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n  SQL: %s", err, m)
		}
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func isPgUnique(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// --- Workspaces ---

func (s *PostgresStore) CreateWorkspace(ctx context.Context, ws *Workspace) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workspaces (id, name, slug, type, description, onboarding_prompt, human_welcome, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		ws.ID, ws.Name, ws.Slug, ws.Type, ws.Description, ws.OnboardingPrompt, ws.HumanWelcome, ws.CreatedBy, ws.CreatedAt,
	)
	if isPgUnique(err) {
		return ErrConflict
	}
	return err
}

func (s *PostgresStore) GetWorkspace(ctx context.Context, id string) (*Workspace, error) {
	return s.scanWorkspace(s.db.QueryRowContext(ctx,
		`SELECT id, name, slug, type, description, onboarding_prompt, human_welcome, created_by, created_at
		 FROM workspaces WHERE id = $1`, id))
}

func (s *PostgresStore) GetWorkspaceBySlug(ctx context.Context, slug string) (*Workspace, error) {
	return s.scanWorkspace(s.db.QueryRowContext(ctx,
		`SELECT id, name, slug, type, description, onboarding_prompt, human_welcome, created_by, created_at
		 FROM workspaces WHERE slug = $1`, slug))
}

func (s *PostgresStore) scanWorkspace(row *sql.Row) (*Workspace, error) {
	var ws Workspace
	err := row.Scan(&ws.ID, &ws.Name, &ws.Slug, &ws.Type, &ws.Description,
		&ws.OnboardingPrompt, &ws.HumanWelcome, &ws.CreatedBy, &ws.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ws, nil
}

func (s *PostgresStore) ListWorkspaces(ctx context.Context) ([]Workspace, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, slug, type, description, onboarding_prompt, human_welcome, created_by, created_at
		 FROM workspaces ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Workspace
	for rows.Next() {
		var ws Workspace
		if err := rows.Scan(&ws.ID, &ws.Name, &ws.Slug, &ws.Type, &ws.Description,
			&ws.OnboardingPrompt, &ws.HumanWelcome, &ws.CreatedBy, &ws.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ws)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AddWorkspaceMember(ctx context.Context, m *WorkspaceMember) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workspace_members (workspace_id, user_id, role, joined_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (workspace_id, user_id) DO UPDATE SET role = excluded.role`,
		m.WorkspaceID, m.UserID, m.Role, m.JoinedAt,
	)
	return err
}

func (s *PostgresStore) GetWorkspaceMember(ctx context.Context, workspaceID, userID string) (*WorkspaceMember, error) {
	var m WorkspaceMember
	err := s.db.QueryRowContext(ctx,
		"SELECT workspace_id, user_id, role, joined_at FROM workspace_members WHERE workspace_id = $1 AND user_id = $2",
		workspaceID, userID,
	).Scan(&m.WorkspaceID, &m.UserID, &m.Role, &m.JoinedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *PostgresStore) ListWorkspaceMembers(ctx context.Context, workspaceID string) ([]WorkspaceMember, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.workspace_id, m.user_id, m.role, m.joined_at, u.name, u.type
		 FROM workspace_members m JOIN users u ON m.user_id = u.id
		 WHERE m.workspace_id = $1 ORDER BY m.joined_at`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WorkspaceMember
	for rows.Next() {
		var m WorkspaceMember
		if err := rows.Scan(&m.WorkspaceID, &m.UserID, &m.Role, &m.JoinedAt, &m.UserName, &m.UserType); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetDefaultHumanAdmin(ctx context.Context, workspaceID string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT u.id, u.name, u.type, u.display_name, u.about, u.agent_instructions, u.email, u.avatar_url, u.created_at
		 FROM users u JOIN workspace_members m ON m.user_id = u.id
		 WHERE m.workspace_id = $1 AND m.role = 'admin' AND u.type = 'human'
		 ORDER BY u.created_at LIMIT 1`, workspaceID))
}

// --- Users ---

func (s *PostgresStore) CreateUser(ctx context.Context, u *User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, type, display_name, about, agent_instructions, email, avatar_url, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		u.ID, u.Name, u.Type, u.DisplayName, u.About, u.AgentInstructions, u.Email, u.AvatarURL, u.CreatedAt,
	)
	if isPgUnique(err) {
		return ErrConflict
	}
	return err
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, name, type, display_name, about, agent_instructions, email, avatar_url, created_at
		 FROM users WHERE id = $1`, id))
}

func (s *PostgresStore) GetUserByName(ctx context.Context, name string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, name, type, display_name, about, agent_instructions, email, avatar_url, created_at
		 FROM users WHERE name = $1`, name))
}

func (s *PostgresStore) scanUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Type, &u.DisplayName, &u.About,
		&u.AgentInstructions, &u.Email, &u.AvatarURL, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PostgresStore) UpdateUser(ctx context.Context, u *User) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET display_name = $1, about = $2, agent_instructions = $3, email = $4, avatar_url = $5 WHERE id = $6`,
		u.DisplayName, u.About, u.AgentInstructions, u.Email, u.AvatarURL, u.ID,
	)
	return err
}

func (s *PostgresStore) DeleteUser(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM users WHERE id = $1", id)
	return err
}

// --- Agents ---

func (s *PostgresStore) CreateAgent(ctx context.Context, a *Agent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agents (id, agent_name, agent_type, project_path, project_name, status, description,
		                     personality, current_task, gender, server_url, provider_session_id, workspace_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		a.ID, a.AgentName, a.AgentType, a.ProjectPath, a.ProjectName, a.Status, a.Description,
		a.Personality, a.CurrentTask, a.Gender, a.ServerURL, a.ProviderSessionID, a.WorkspaceID, a.CreatedAt,
	)
	if isPgUnique(err) {
		return ErrConflict
	}
	return err
}

func (s *PostgresStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	return s.scanAgent(s.db.QueryRowContext(ctx,
		"SELECT "+agentColumns+" FROM agents WHERE id = $1", id))
}

func (s *PostgresStore) GetAgentByName(ctx context.Context, name string) (*Agent, error) {
	return s.scanAgent(s.db.QueryRowContext(ctx,
		"SELECT "+agentColumns+" FROM agents WHERE agent_name = $1", name))
}

func (s *PostgresStore) scanAgent(row *sql.Row) (*Agent, error) {
	var a Agent
	err := row.Scan(&a.ID, &a.AgentName, &a.AgentType, &a.ProjectPath, &a.ProjectName, &a.Status,
		&a.Description, &a.Personality, &a.CurrentTask, &a.Gender, &a.ServerURL, &a.ProviderSessionID,
		&a.WorkspaceID, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PostgresStore) ListAgents(ctx context.Context, workspaceID string) ([]Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+agentColumns+" FROM agents WHERE workspace_id = $1 ORDER BY agent_name", workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Agent
	for rows.Next() {
		var a Agent
		if err := rows.Scan(&a.ID, &a.AgentName, &a.AgentType, &a.ProjectPath, &a.ProjectName, &a.Status,
			&a.Description, &a.Personality, &a.CurrentTask, &a.Gender, &a.ServerURL, &a.ProviderSessionID,
			&a.WorkspaceID, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateAgentProfile(ctx context.Context, a *Agent) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE agents SET description = $1, personality = $2, current_task = $3, gender = $4,
		 project_path = $5, project_name = $6 WHERE id = $7`,
		a.Description, a.Personality, a.CurrentTask, a.Gender, a.ProjectPath, a.ProjectName, a.ID,
	)
	return err
}

func (s *PostgresStore) SetAgentStatus(ctx context.Context, id, status string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE agents SET status = $1 WHERE id = $2", status, id)
	return err
}

func (s *PostgresStore) SetAgentCredentials(ctx context.Context, id, serverURL, providerSessionID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE agents SET server_url = $1, provider_session_id = $2 WHERE id = $3",
		serverURL, providerSessionID, id,
	)
	return err
}

func (s *PostgresStore) ClearAgentCredentials(ctx context.Context, id string) error {
	return s.SetAgentCredentials(ctx, id, "", "")
}

// --- Agent sessions ---

func (s *PostgresStore) StartAgentSession(ctx context.Context, sess *AgentSession) error {
	if err := s.EndAgentSessions(ctx, sess.AgentID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_sessions (id, agent_id, pid, tty, is_active, started_at, last_heartbeat)
		 VALUES ($1, $2, $3, $4, TRUE, $5, $6)`,
		sess.ID, sess.AgentID, sess.PID, sess.TTY, sess.StartedAt, sess.LastHeartbeat,
	)
	return err
}

func (s *PostgresStore) GetActiveAgentSession(ctx context.Context, agentID string) (*AgentSession, error) {
	var sess AgentSession
	var ended sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, agent_id, pid, tty, is_active, started_at, ended_at, last_heartbeat
		 FROM agent_sessions WHERE agent_id = $1 AND is_active
		 ORDER BY started_at DESC LIMIT 1`, agentID,
	).Scan(&sess.ID, &sess.AgentID, &sess.PID, &sess.TTY, &sess.IsActive, &sess.StartedAt, &ended, &sess.LastHeartbeat)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sess.EndedAt = timePtr(ended)
	return &sess, nil
}

func (s *PostgresStore) EndAgentSessions(ctx context.Context, agentID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE agent_sessions SET is_active = FALSE, ended_at = $1 WHERE agent_id = $2 AND is_active",
		time.Now().UTC(), agentID,
	)
	return err
}

func (s *PostgresStore) TouchAgentHeartbeat(ctx context.Context, agentID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE agent_sessions SET last_heartbeat = $1 WHERE agent_id = $2 AND is_active",
		at, agentID,
	)
	return err
}

// --- Channels ---

func (s *PostgresStore) CreateChannel(ctx context.Context, c *Channel) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channels (id, name, type, topic, project_path, workspace_id, created_by, created_at, is_archived)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE)`,
		c.ID, c.Name, c.Type, c.Topic, c.ProjectPath, c.WorkspaceID, c.CreatedBy, c.CreatedAt,
	)
	if isPgUnique(err) {
		return ErrConflict
	}
	return err
}

func (s *PostgresStore) GetChannel(ctx context.Context, id string) (*Channel, error) {
	return s.scanChannel(s.db.QueryRowContext(ctx,
		"SELECT "+channelColumns+" FROM channels WHERE id = $1", id))
}

func (s *PostgresStore) GetChannelByName(ctx context.Context, workspaceID, name string) (*Channel, error) {
	return s.scanChannel(s.db.QueryRowContext(ctx,
		"SELECT "+channelColumns+" FROM channels WHERE workspace_id = $1 AND name = $2", workspaceID, name))
}

func (s *PostgresStore) scanChannel(row *sql.Row) (*Channel, error) {
	var c Channel
	var archived sql.NullTime
	err := row.Scan(&c.ID, &c.Name, &c.Type, &c.Topic, &c.ProjectPath, &c.WorkspaceID,
		&c.CreatedBy, &c.CreatedAt, &c.IsArchived, &archived)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.ArchivedAt = timePtr(archived)
	return &c, nil
}

func (s *PostgresStore) ListChannels(ctx context.Context, workspaceID string) ([]Channel, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+channelColumns+" FROM channels WHERE workspace_id = $1 AND NOT is_archived ORDER BY name",
		workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Channel
	for rows.Next() {
		var c Channel
		var archived sql.NullTime
		if err := rows.Scan(&c.ID, &c.Name, &c.Type, &c.Topic, &c.ProjectPath, &c.WorkspaceID,
			&c.CreatedBy, &c.CreatedAt, &c.IsArchived, &archived); err != nil {
			return nil, err
		}
		c.ArchivedAt = timePtr(archived)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ArchiveChannel(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE channels SET is_archived = TRUE, archived_at = $1 WHERE id = $2",
		time.Now().UTC(), id,
	)
	return err
}

func (s *PostgresStore) AddChannelMember(ctx context.Context, channelID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channel_members (channel_id, user_id, joined_at) VALUES ($1, $2, $3)
		 ON CONFLICT (channel_id, user_id) DO NOTHING`,
		channelID, userID, time.Now().UTC(),
	)
	return err
}

func (s *PostgresStore) IsChannelMember(ctx context.Context, channelID, userID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM channel_members WHERE channel_id = $1 AND user_id = $2",
		channelID, userID,
	).Scan(&count)
	return count > 0, err
}

func (s *PostgresStore) ListChannelMembers(ctx context.Context, channelID string) ([]ChannelMember, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.channel_id, m.user_id, m.joined_at, u.name
		 FROM channel_members m JOIN users u ON m.user_id = u.id
		 WHERE m.channel_id = $1 ORDER BY m.joined_at`, channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChannelMember
	for rows.Next() {
		var m ChannelMember
		if err := rows.Scan(&m.ChannelID, &m.UserID, &m.JoinedAt, &m.UserName); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListChannelIDsForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT channel_id FROM channel_members WHERE user_id = $1", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) ChannelAnalytics(ctx context.Context, channelID string) (*ChannelStats, error) {
	var st ChannelStats
	var last sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT sender_id), MAX(created_at)
		 FROM messages WHERE channel_id = $1`, channelID,
	).Scan(&st.MessageCount, &st.SenderCount, &last)
	if err != nil {
		return nil, err
	}
	st.LastActivity = timePtr(last)
	return &st, nil
}

// --- Messages ---

func (s *PostgresStore) CreateMessage(ctx context.Context, m *Message) error {
	// The unique (channel_id, seq) index makes concurrent inserts for the same
	// channel conflict; retry recomputes MAX(seq)+1 on the fresh snapshot.
	for attempt := 0; attempt < 3; attempt++ {
		err := s.db.QueryRowContext(ctx,
			`INSERT INTO messages (id, channel_id, sender_id, content, mentions, parent_id, is_pinned, seq, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, FALSE, (SELECT COALESCE(MAX(seq),0)+1 FROM messages WHERE channel_id = $2), $7)
			 RETURNING seq`,
			m.ID, m.ChannelID, m.SenderID, m.Content, marshalMentions(m.Mentions), m.ParentID, m.CreatedAt,
		).Scan(&m.Seq)
		if isPgUnique(err) && attempt < 2 {
			continue
		}
		return err
	}
	return nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+messageColumns+" FROM messages m LEFT JOIN users u ON m.sender_id = u.id WHERE m.id = $1", id)
	m, err := scanMessageRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *PostgresStore) collectMessages(rows *sql.Rows) ([]Message, error) {
	defer rows.Close()
	var out []Message
	for rows.Next() {
		m, err := scanMessageRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListMessages(ctx context.Context, channelID, beforeID string, limit int) ([]Message, error) {
	query := "SELECT " + messageColumns + ` FROM messages m LEFT JOIN users u ON m.sender_id = u.id
		WHERE m.channel_id = $1`
	args := []any{channelID}
	if beforeID != "" {
		query += " AND m.seq < (SELECT seq FROM messages WHERE id = $2) ORDER BY m.seq DESC LIMIT $3"
		args = append(args, beforeID, limit)
	} else {
		query += " ORDER BY m.seq DESC LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	msgs, err := s.collectMessages(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *PostgresStore) ListMessagesMentioning(ctx context.Context, workspaceID, name string, limit int) ([]Message, error) {
	pattern := `%"` + escapeLike(name) + `"%`
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+messageColumns+` FROM messages m
		 LEFT JOIN users u ON m.sender_id = u.id
		 JOIN channels c ON m.channel_id = c.id
		 WHERE c.workspace_id = $1 AND m.mentions LIKE $2 ESCAPE '\'
		 ORDER BY m.created_at DESC LIMIT $3`,
		workspaceID, pattern, limit)
	if err != nil {
		return nil, err
	}
	return s.collectMessages(rows)
}

func (s *PostgresStore) UpdateMessageContent(ctx context.Context, id, content string, editedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE messages SET content = $1, edited_at = $2 WHERE id = $3",
		content, editedAt, id,
	)
	return err
}

func (s *PostgresStore) DeleteMessage(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE id = $1", id)
	return err
}

func (s *PostgresStore) SetMessagePinned(ctx context.Context, id string, pinned bool, by string, at time.Time) error {
	if pinned {
		_, err := s.db.ExecContext(ctx,
			"UPDATE messages SET is_pinned = TRUE, pinned_at = $1, pinned_by = $2 WHERE id = $3", at, by, id)
		return err
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE messages SET is_pinned = FALSE, pinned_at = NULL, pinned_by = '' WHERE id = $1", id)
	return err
}

func (s *PostgresStore) ListPinnedMessages(ctx context.Context, channelID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+messageColumns+` FROM messages m LEFT JOIN users u ON m.sender_id = u.id
		 WHERE m.channel_id = $1 AND m.is_pinned ORDER BY m.pinned_at DESC`, channelID)
	if err != nil {
		return nil, err
	}
	return s.collectMessages(rows)
}

func (s *PostgresStore) SearchMessages(ctx context.Context, workspaceID, query, channelID string, limit int) ([]Message, error) {
	pattern := "%" + escapeLike(query) + "%"
	sqlQuery := `SELECT m.id, m.channel_id, m.sender_id, m.content, m.mentions, m.parent_id,
		m.is_pinned, m.pinned_at, m.pinned_by, m.edited_at, m.seq, m.created_at, COALESCE(u.name, ''), c.name
		FROM messages m
		LEFT JOIN users u ON m.sender_id = u.id
		JOIN channels c ON m.channel_id = c.id
		WHERE c.workspace_id = $1 AND m.content ILIKE $2 ESCAPE '\'`
	args := []any{workspaceID, pattern}
	if channelID != "" {
		sqlQuery += " AND m.channel_id = $3 ORDER BY m.created_at DESC LIMIT $4"
		args = append(args, channelID, limit)
	} else {
		sqlQuery += " ORDER BY m.created_at DESC LIMIT $3"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var mentions string
		var pinnedAt, editedAt sql.NullTime
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.SenderID, &m.Content, &mentions, &m.ParentID,
			&m.IsPinned, &pinnedAt, &m.PinnedBy, &editedAt, &m.Seq, &m.CreatedAt, &m.SenderName, &m.ChannelName); err != nil {
			return nil, err
		}
		m.Mentions = unmarshalMentions(mentions)
		m.PinnedAt = timePtr(pinnedAt)
		m.EditedAt = timePtr(editedAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- Reactions ---

func (s *PostgresStore) ToggleReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM message_reactions WHERE message_id = $1 AND user_id = $2 AND emoji = $3",
		messageID, userID, emoji,
	)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return false, nil
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO message_reactions (message_id, user_id, emoji, created_at) VALUES ($1, $2, $3, $4)",
		messageID, userID, emoji, time.Now().UTC(),
	)
	return true, err
}

func (s *PostgresStore) ListReactions(ctx context.Context, messageID string) ([]Reaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.message_id, r.user_id, r.emoji, r.created_at, COALESCE(u.name, '')
		 FROM message_reactions r LEFT JOIN users u ON r.user_id = u.id
		 WHERE r.message_id = $1 ORDER BY r.created_at`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reaction
	for rows.Next() {
		var r Reaction
		if err := rows.Scan(&r.MessageID, &r.UserID, &r.Emoji, &r.CreatedAt, &r.UserName); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Read receipts ---

func (s *PostgresStore) UpsertReadReceipt(ctx context.Context, userID, channelID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO read_receipts (user_id, channel_id, last_read_at) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, channel_id) DO UPDATE SET last_read_at = excluded.last_read_at
		 WHERE excluded.last_read_at > read_receipts.last_read_at`,
		userID, channelID, at,
	)
	return err
}

func (s *PostgresStore) GetReadReceipt(ctx context.Context, userID, channelID string) (*time.Time, error) {
	var at time.Time
	err := s.db.QueryRowContext(ctx,
		"SELECT last_read_at FROM read_receipts WHERE user_id = $1 AND channel_id = $2",
		userID, channelID,
	).Scan(&at)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &at, nil
}

// --- Feature requests ---

func (s *PostgresStore) CreateFeature(ctx context.Context, f *FeatureRequest) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feature_requests (id, title, description, status, reason, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		f.ID, f.Title, f.Description, f.Status, f.Reason, f.CreatedBy, f.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetFeature(ctx context.Context, id string) (*FeatureRequest, error) {
	var f FeatureRequest
	var updated sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT f.id, f.title, f.description, f.status, f.reason, f.created_by, f.created_at, f.updated_at,
		        COALESCE(SUM(v.vote), 0), COALESCE(u.name, '')
		 FROM feature_requests f
		 LEFT JOIN feature_votes v ON v.feature_id = f.id
		 LEFT JOIN users u ON f.created_by = u.id
		 WHERE f.id = $1 GROUP BY f.id, u.name`, id,
	).Scan(&f.ID, &f.Title, &f.Description, &f.Status, &f.Reason, &f.CreatedBy, &f.CreatedAt,
		&updated, &f.VoteCount, &f.CreatorName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	f.UpdatedAt = timePtr(updated)
	return &f, nil
}

func (s *PostgresStore) ListFeatures(ctx context.Context) ([]FeatureRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT f.id, f.title, f.description, f.status, f.reason, f.created_by, f.created_at, f.updated_at,
		        COALESCE(SUM(v.vote), 0), COALESCE(u.name, '')
		 FROM feature_requests f
		 LEFT JOIN feature_votes v ON v.feature_id = f.id
		 LEFT JOIN users u ON f.created_by = u.id
		 GROUP BY f.id, u.name
		 ORDER BY COALESCE(SUM(v.vote), 0) DESC, f.created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FeatureRequest
	for rows.Next() {
		var f FeatureRequest
		var updated sql.NullTime
		if err := rows.Scan(&f.ID, &f.Title, &f.Description, &f.Status, &f.Reason, &f.CreatedBy,
			&f.CreatedAt, &updated, &f.VoteCount, &f.CreatorName); err != nil {
			return nil, err
		}
		f.UpdatedAt = timePtr(updated)
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertFeatureVote(ctx context.Context, featureID, userID string, vote int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feature_votes (feature_id, user_id, vote) VALUES ($1, $2, $3)
		 ON CONFLICT (feature_id, user_id) DO UPDATE SET vote = excluded.vote`,
		featureID, userID, vote,
	)
	return err
}

func (s *PostgresStore) FeatureVoteCount(ctx context.Context, featureID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(vote), 0) FROM feature_votes WHERE feature_id = $1", featureID,
	).Scan(&count)
	return count, err
}

// --- API keys ---

func (s *PostgresStore) CreateAPIKey(ctx context.Context, k *APIKey) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workspace_api_keys (id, workspace_id, key_hash, key_prefix, name, created_by, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		k.ID, k.WorkspaceID, k.KeyHash, k.KeyPrefix, k.Name, k.CreatedBy, k.CreatedAt, nullTime(k.ExpiresAt),
	)
	return err
}

func (s *PostgresStore) GetAPIKeyByHash(ctx context.Context, keyHash string) (*APIKey, error) {
	var k APIKey
	var expires, revoked, lastUsed sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, workspace_id, key_hash, key_prefix, name, created_by, created_at, expires_at, revoked_at, last_used_at
		 FROM workspace_api_keys WHERE key_hash = $1`, keyHash,
	).Scan(&k.ID, &k.WorkspaceID, &k.KeyHash, &k.KeyPrefix, &k.Name, &k.CreatedBy, &k.CreatedAt,
		&expires, &revoked, &lastUsed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	k.ExpiresAt = timePtr(expires)
	k.RevokedAt = timePtr(revoked)
	k.LastUsedAt = timePtr(lastUsed)
	return &k, nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context, workspaceID string) ([]APIKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workspace_id, key_hash, key_prefix, name, created_by, created_at, expires_at, revoked_at, last_used_at
		 FROM workspace_api_keys WHERE workspace_id = $1 ORDER BY created_at DESC`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []APIKey
	for rows.Next() {
		var k APIKey
		var expires, revoked, lastUsed sql.NullTime
		if err := rows.Scan(&k.ID, &k.WorkspaceID, &k.KeyHash, &k.KeyPrefix, &k.Name, &k.CreatedBy,
			&k.CreatedAt, &expires, &revoked, &lastUsed); err != nil {
			return nil, err
		}
		k.ExpiresAt = timePtr(expires)
		k.RevokedAt = timePtr(revoked)
		k.LastUsedAt = timePtr(lastUsed)
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *PostgresStore) TouchAPIKey(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE workspace_api_keys SET last_used_at = $1 WHERE id = $2", at, id)
	return err
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE workspace_api_keys SET revoked_at = $1 WHERE id = $2 AND revoked_at IS NULL",
		time.Now().UTC(), id)
	return err
}

// --- Invites ---

func (s *PostgresStore) CreateInvite(ctx context.Context, inv *Invite) error {
	var maxUses any
	if inv.MaxUses != nil {
		maxUses = *inv.MaxUses
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workspace_invites (id, workspace_id, token, role, max_uses, use_count, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, 0, $6, $7)`,
		inv.ID, inv.WorkspaceID, inv.Token, inv.Role, maxUses, nullTime(inv.ExpiresAt), inv.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetInviteByToken(ctx context.Context, token string) (*Invite, error) {
	var inv Invite
	var maxUses sql.NullInt64
	var expires, revoked sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, workspace_id, token, role, max_uses, use_count, expires_at, created_at, revoked_at
		 FROM workspace_invites WHERE token = $1`, token,
	).Scan(&inv.ID, &inv.WorkspaceID, &inv.Token, &inv.Role, &maxUses, &inv.UseCount, &expires, &inv.CreatedAt, &revoked)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if maxUses.Valid {
		n := int(maxUses.Int64)
		inv.MaxUses = &n
	}
	inv.ExpiresAt = timePtr(expires)
	inv.RevokedAt = timePtr(revoked)
	return &inv, nil
}

func (s *PostgresStore) ListInvites(ctx context.Context, workspaceID string) ([]Invite, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workspace_id, token, role, max_uses, use_count, expires_at, created_at, revoked_at
		 FROM workspace_invites WHERE workspace_id = $1 ORDER BY created_at DESC`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Invite
	for rows.Next() {
		var inv Invite
		var maxUses sql.NullInt64
		var expires, revoked sql.NullTime
		if err := rows.Scan(&inv.ID, &inv.WorkspaceID, &inv.Token, &inv.Role, &maxUses, &inv.UseCount,
			&expires, &inv.CreatedAt, &revoked); err != nil {
			return nil, err
		}
		if maxUses.Valid {
			n := int(maxUses.Int64)
			inv.MaxUses = &n
		}
		inv.ExpiresAt = timePtr(expires)
		inv.RevokedAt = timePtr(revoked)
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ConsumeInvite(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE workspace_invites SET use_count = use_count + 1 WHERE id = $1", id)
	return err
}

func (s *PostgresStore) RevokeInvite(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE workspace_invites SET revoked_at = $1 WHERE id = $2 AND revoked_at IS NULL",
		time.Now().UTC(), id)
	return err
}

// --- Browser sessions ---

func (s *PostgresStore) CreateUserSession(ctx context.Context, sess *UserSession) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_sessions (id, user_id, token_hash, workspace_id, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		sess.ID, sess.UserID, sess.TokenHash, sess.WorkspaceID, sess.CreatedAt, sess.ExpiresAt,
	)
	return err
}

func (s *PostgresStore) GetUserSessionByHash(ctx context.Context, tokenHash string) (*UserSession, error) {
	var sess UserSession
	var lastActive sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, token_hash, workspace_id, created_at, expires_at, last_active_at
		 FROM user_sessions WHERE token_hash = $1`, tokenHash,
	).Scan(&sess.ID, &sess.UserID, &sess.TokenHash, &sess.WorkspaceID, &sess.CreatedAt, &sess.ExpiresAt, &lastActive)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sess.LastActiveAt = timePtr(lastActive)
	return &sess, nil
}

func (s *PostgresStore) TouchUserSession(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE user_sessions SET last_active_at = $1 WHERE id = $2", at, id)
	return err
}

func (s *PostgresStore) RevokeUserSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM user_sessions WHERE id = $1", id)
	return err
}
