package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite store and runs migrations.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	// For in-memory databases, use shared cache so all connections in the pool
	// see the same data. Without this, each pooled connection gets a separate
	// empty database.
	if dsn == ":memory:" {
		dsn = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) addColumnIfNotExists(table, column, definition string) error {
	_, err := s.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition))
	if err != nil && strings.Contains(err.Error(), "duplicate column") {
		return nil
	}
	return err
}

func (s *SQLiteStore) migrate() error {
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
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
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
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS workspace_members (
			workspace_id TEXT NOT NULL REFERENCES workspaces(id),
			user_id TEXT NOT NULL REFERENCES users(id),
			role TEXT NOT NULL DEFAULT 'member',
			joined_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
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
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS agent_sessions (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL REFERENCES agents(id),
			pid INTEGER NOT NULL DEFAULT 0,
			tty TEXT NOT NULL DEFAULT '',
			is_active INTEGER NOT NULL DEFAULT 1,
			started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			ended_at DATETIME,
			last_heartbeat DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS channels (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT 'custom',
			topic TEXT NOT NULL DEFAULT '',
			project_path TEXT NOT NULL DEFAULT '',
			created_by TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			is_archived INTEGER NOT NULL DEFAULT 0,
			archived_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS channel_members (
			channel_id TEXT NOT NULL REFERENCES channels(id),
			user_id TEXT NOT NULL REFERENCES users(id),
			joined_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (channel_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			channel_id TEXT NOT NULL REFERENCES channels(id),
			sender_id TEXT NOT NULL,
			content TEXT NOT NULL,
			mentions TEXT NOT NULL DEFAULT '[]',
			parent_id TEXT NOT NULL DEFAULT '',
			is_pinned INTEGER NOT NULL DEFAULT 0,
			pinned_at DATETIME,
			pinned_by TEXT NOT NULL DEFAULT '',
			edited_at DATETIME,
			seq INTEGER NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_channel_seq ON messages(channel_id, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_channel_id ON messages(channel_id)`,
		`CREATE TABLE IF NOT EXISTS message_reactions (
			message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL,
			emoji TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (message_id, user_id, emoji)
		)`,
		`CREATE TABLE IF NOT EXISTS read_receipts (
			user_id TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			last_read_at DATETIME NOT NULL,
			PRIMARY KEY (user_id, channel_id)
		)`,
		`CREATE TABLE IF NOT EXISTS feature_requests (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'open',
			reason TEXT NOT NULL DEFAULT '',
			created_by TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME
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
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			expires_at DATETIME,
			revoked_at DATETIME,
			last_used_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS workspace_invites (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL REFERENCES workspaces(id),
			token TEXT UNIQUE NOT NULL,
			role TEXT NOT NULL DEFAULT 'member',
			max_uses INTEGER,
			use_count INTEGER NOT NULL DEFAULT 0,
			expires_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			revoked_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS user_sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id),
			token_hash TEXT UNIQUE NOT NULL,
			workspace_id TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			expires_at DATETIME NOT NULL,
			last_active_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_agent_sessions_agent_id ON agent_sessions(agent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_channel_members_user_id ON channel_members(user_id)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n  SQL: %s", err, m)
		}
	}

	// Workspace backfill: databases that predate workspaces lack the
	// workspace_id columns. ALTER TABLE ADD COLUMN has no IF NOT EXISTS in
	// SQLite, so duplicate-column errors are ignored.
	columnMigrations := []struct {
		table, column, definition string
	}{
		{"channels", "workspace_id", "TEXT NOT NULL DEFAULT '" + DefaultWorkspaceID + "'"},
		{"agents", "workspace_id", "TEXT NOT NULL DEFAULT '" + DefaultWorkspaceID + "'"},
	}
	for _, cm := range columnMigrations {
		if err := s.addColumnIfNotExists(cm.table, cm.column, cm.definition); err != nil {
			return fmt.Errorf("add column %s.%s: %w", cm.table, cm.column, err)
		}
	}

	wsIndexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_channels_workspace_id ON channels(workspace_id)`,
		`CREATE INDEX IF NOT EXISTS idx_agents_workspace_id ON agents(workspace_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_channels_workspace_name ON channels(workspace_id, name)`,
	}
	for _, idx := range wsIndexes {
		if _, err := s.db.Exec(idx); err != nil {
			return fmt.Errorf("migration failed: %w\n  SQL: %s", err, idx)
		}
	}

	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isSQLiteUnique(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func marshalMentions(mentions []string) string {
	if len(mentions) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(mentions)
	return string(b)
}

func unmarshalMentions(raw string) []string {
	if raw == "" || raw == "[]" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

// escapeLike treats % and _ in a user query as literals for LIKE matching.
func escapeLike(q string) string {
	q = strings.ReplaceAll(q, `\`, `\\`)
	q = strings.ReplaceAll(q, "%", `\%`)
	q = strings.ReplaceAll(q, "_", `\_`)
	return q
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

// --- Workspaces ---

func (s *SQLiteStore) CreateWorkspace(ctx context.Context, ws *Workspace) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workspaces (id, name, slug, type, description, onboarding_prompt, human_welcome, created_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ws.ID, ws.Name, ws.Slug, ws.Type, ws.Description, ws.OnboardingPrompt, ws.HumanWelcome, ws.CreatedBy, ws.CreatedAt,
	)
	if isSQLiteUnique(err) {
		return ErrConflict
	}
	return err
}

func (s *SQLiteStore) GetWorkspace(ctx context.Context, id string) (*Workspace, error) {
	return s.scanWorkspace(s.db.QueryRowContext(ctx,
		`SELECT id, name, slug, type, description, onboarding_prompt, human_welcome, created_by, created_at
		 FROM workspaces WHERE id = ?`, id))
}

func (s *SQLiteStore) GetWorkspaceBySlug(ctx context.Context, slug string) (*Workspace, error) {
	return s.scanWorkspace(s.db.QueryRowContext(ctx,
		`SELECT id, name, slug, type, description, onboarding_prompt, human_welcome, created_by, created_at
		 FROM workspaces WHERE slug = ?`, slug))
}

func (s *SQLiteStore) scanWorkspace(row *sql.Row) (*Workspace, error) {
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

func (s *SQLiteStore) ListWorkspaces(ctx context.Context) ([]Workspace, error) {
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

func (s *SQLiteStore) AddWorkspaceMember(ctx context.Context, m *WorkspaceMember) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workspace_members (workspace_id, user_id, role, joined_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(workspace_id, user_id) DO UPDATE SET role = excluded.role`,
		m.WorkspaceID, m.UserID, m.Role, m.JoinedAt,
	)
	return err
}

func (s *SQLiteStore) GetWorkspaceMember(ctx context.Context, workspaceID, userID string) (*WorkspaceMember, error) {
	var m WorkspaceMember
	err := s.db.QueryRowContext(ctx,
		"SELECT workspace_id, user_id, role, joined_at FROM workspace_members WHERE workspace_id = ? AND user_id = ?",
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

func (s *SQLiteStore) ListWorkspaceMembers(ctx context.Context, workspaceID string) ([]WorkspaceMember, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.workspace_id, m.user_id, m.role, m.joined_at, u.name, u.type
		 FROM workspace_members m JOIN users u ON m.user_id = u.id
		 WHERE m.workspace_id = ? ORDER BY m.joined_at`, workspaceID)
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

func (s *SQLiteStore) GetDefaultHumanAdmin(ctx context.Context, workspaceID string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT u.id, u.name, u.type, u.display_name, u.about, u.agent_instructions, u.email, u.avatar_url, u.created_at
		 FROM users u JOIN workspace_members m ON m.user_id = u.id
		 WHERE m.workspace_id = ? AND m.role = 'admin' AND u.type = 'human'
		 ORDER BY u.created_at LIMIT 1`, workspaceID))
}

// --- Users ---

func (s *SQLiteStore) CreateUser(ctx context.Context, u *User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, type, display_name, about, agent_instructions, email, avatar_url, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.Type, u.DisplayName, u.About, u.AgentInstructions, u.Email, u.AvatarURL, u.CreatedAt,
	)
	if isSQLiteUnique(err) {
		return ErrConflict
	}
	return err
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, name, type, display_name, about, agent_instructions, email, avatar_url, created_at
		 FROM users WHERE id = ?`, id))
}

func (s *SQLiteStore) GetUserByName(ctx context.Context, name string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, name, type, display_name, about, agent_instructions, email, avatar_url, created_at
		 FROM users WHERE name = ?`, name))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*User, error) {
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

func (s *SQLiteStore) UpdateUser(ctx context.Context, u *User) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET display_name = ?, about = ?, agent_instructions = ?, email = ?, avatar_url = ? WHERE id = ?`,
		u.DisplayName, u.About, u.AgentInstructions, u.Email, u.AvatarURL, u.ID,
	)
	return err
}

func (s *SQLiteStore) DeleteUser(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
	return err
}

// --- Agents ---

func (s *SQLiteStore) CreateAgent(ctx context.Context, a *Agent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agents (id, agent_name, agent_type, project_path, project_name, status, description,
		                     personality, current_task, gender, server_url, provider_session_id, workspace_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.AgentName, a.AgentType, a.ProjectPath, a.ProjectName, a.Status, a.Description,
		a.Personality, a.CurrentTask, a.Gender, a.ServerURL, a.ProviderSessionID, a.WorkspaceID, a.CreatedAt,
	)
	if isSQLiteUnique(err) {
		return ErrConflict
	}
	return err
}

const agentColumns = `id, agent_name, agent_type, project_path, project_name, status, description,
	personality, current_task, gender, server_url, provider_session_id, workspace_id, created_at`

func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	return s.scanAgent(s.db.QueryRowContext(ctx,
		"SELECT "+agentColumns+" FROM agents WHERE id = ?", id))
}

func (s *SQLiteStore) GetAgentByName(ctx context.Context, name string) (*Agent, error) {
	return s.scanAgent(s.db.QueryRowContext(ctx,
		"SELECT "+agentColumns+" FROM agents WHERE agent_name = ?", name))
}

func (s *SQLiteStore) scanAgent(row *sql.Row) (*Agent, error) {
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

func (s *SQLiteStore) ListAgents(ctx context.Context, workspaceID string) ([]Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+agentColumns+" FROM agents WHERE workspace_id = ? ORDER BY agent_name", workspaceID)
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

func (s *SQLiteStore) UpdateAgentProfile(ctx context.Context, a *Agent) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE agents SET description = ?, personality = ?, current_task = ?, gender = ?,
		 project_path = ?, project_name = ? WHERE id = ?`,
		a.Description, a.Personality, a.CurrentTask, a.Gender, a.ProjectPath, a.ProjectName, a.ID,
	)
	return err
}

func (s *SQLiteStore) SetAgentStatus(ctx context.Context, id, status string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE agents SET status = ? WHERE id = ?", status, id)
	return err
}

func (s *SQLiteStore) SetAgentCredentials(ctx context.Context, id, serverURL, providerSessionID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE agents SET server_url = ?, provider_session_id = ? WHERE id = ?",
		serverURL, providerSessionID, id,
	)
	return err
}

func (s *SQLiteStore) ClearAgentCredentials(ctx context.Context, id string) error {
	return s.SetAgentCredentials(ctx, id, "", "")
}

// --- Agent sessions ---

func (s *SQLiteStore) StartAgentSession(ctx context.Context, sess *AgentSession) error {
	// One active session per agent: end any previous session first.
	if err := s.EndAgentSessions(ctx, sess.AgentID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_sessions (id, agent_id, pid, tty, is_active, started_at, last_heartbeat)
		 VALUES (?, ?, ?, ?, 1, ?, ?)`,
		sess.ID, sess.AgentID, sess.PID, sess.TTY, sess.StartedAt, sess.LastHeartbeat,
	)
	return err
}

func (s *SQLiteStore) GetActiveAgentSession(ctx context.Context, agentID string) (*AgentSession, error) {
	var sess AgentSession
	var ended sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, agent_id, pid, tty, is_active, started_at, ended_at, last_heartbeat
		 FROM agent_sessions WHERE agent_id = ? AND is_active = 1
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

func (s *SQLiteStore) EndAgentSessions(ctx context.Context, agentID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE agent_sessions SET is_active = 0, ended_at = ? WHERE agent_id = ? AND is_active = 1",
		time.Now().UTC(), agentID,
	)
	return err
}

func (s *SQLiteStore) TouchAgentHeartbeat(ctx context.Context, agentID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE agent_sessions SET last_heartbeat = ? WHERE agent_id = ? AND is_active = 1",
		at, agentID,
	)
	return err
}

// --- Channels ---

func (s *SQLiteStore) CreateChannel(ctx context.Context, c *Channel) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channels (id, name, type, topic, project_path, workspace_id, created_by, created_at, is_archived)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		c.ID, c.Name, c.Type, c.Topic, c.ProjectPath, c.WorkspaceID, c.CreatedBy, c.CreatedAt,
	)
	if isSQLiteUnique(err) {
		return ErrConflict
	}
	return err
}

const channelColumns = `id, name, type, topic, project_path, workspace_id, created_by, created_at, is_archived, archived_at`

func (s *SQLiteStore) GetChannel(ctx context.Context, id string) (*Channel, error) {
	return s.scanChannel(s.db.QueryRowContext(ctx,
		"SELECT "+channelColumns+" FROM channels WHERE id = ?", id))
}

func (s *SQLiteStore) GetChannelByName(ctx context.Context, workspaceID, name string) (*Channel, error) {
	return s.scanChannel(s.db.QueryRowContext(ctx,
		"SELECT "+channelColumns+" FROM channels WHERE workspace_id = ? AND name = ?", workspaceID, name))
}

func (s *SQLiteStore) scanChannel(row *sql.Row) (*Channel, error) {
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

func (s *SQLiteStore) ListChannels(ctx context.Context, workspaceID string) ([]Channel, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+channelColumns+" FROM channels WHERE workspace_id = ? AND is_archived = 0 ORDER BY name",
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

func (s *SQLiteStore) ArchiveChannel(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE channels SET is_archived = 1, archived_at = ? WHERE id = ?",
		time.Now().UTC(), id,
	)
	return err
}

func (s *SQLiteStore) AddChannelMember(ctx context.Context, channelID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channel_members (channel_id, user_id, joined_at) VALUES (?, ?, ?)
		 ON CONFLICT(channel_id, user_id) DO NOTHING`,
		channelID, userID, time.Now().UTC(),
	)
	return err
}

func (s *SQLiteStore) IsChannelMember(ctx context.Context, channelID, userID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM channel_members WHERE channel_id = ? AND user_id = ?",
		channelID, userID,
	).Scan(&count)
	return count > 0, err
}

func (s *SQLiteStore) ListChannelMembers(ctx context.Context, channelID string) ([]ChannelMember, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.channel_id, m.user_id, m.joined_at, u.name
		 FROM channel_members m JOIN users u ON m.user_id = u.id
		 WHERE m.channel_id = ? ORDER BY m.joined_at`, channelID)
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

func (s *SQLiteStore) ListChannelIDsForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT channel_id FROM channel_members WHERE user_id = ?", userID)
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

func (s *SQLiteStore) ChannelAnalytics(ctx context.Context, channelID string) (*ChannelStats, error) {
	var st ChannelStats
	var last sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT sender_id), MAX(created_at)
		 FROM messages WHERE channel_id = ?`, channelID,
	).Scan(&st.MessageCount, &st.SenderCount, &last)
	if err != nil {
		return nil, err
	}
	st.LastActivity = timePtr(last)
	return &st, nil
}

// --- Messages ---

const messageColumns = `m.id, m.channel_id, m.sender_id, m.content, m.mentions, m.parent_id,
	m.is_pinned, m.pinned_at, m.pinned_by, m.edited_at, m.seq, m.created_at, COALESCE(u.name, '')`

func (s *SQLiteStore) CreateMessage(ctx context.Context, m *Message) error {
	// seq is a per-channel insertion counter; SQLite serializes writes so the
	// MAX(seq)+1 subquery is race-free.
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO messages (id, channel_id, sender_id, content, mentions, parent_id, is_pinned, seq, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, (SELECT COALESCE(MAX(seq),0)+1 FROM messages WHERE channel_id = ?), ?)
		 RETURNING seq`,
		m.ID, m.ChannelID, m.SenderID, m.Content, marshalMentions(m.Mentions), m.ParentID, m.ChannelID, m.CreatedAt,
	).Scan(&m.Seq)
	return err
}

func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+messageColumns+" FROM messages m LEFT JOIN users u ON m.sender_id = u.id WHERE m.id = ?", id)
	m, err := scanMessageRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func scanMessageRow(scan func(...any) error) (*Message, error) {
	var m Message
	var mentions string
	var pinnedAt, editedAt sql.NullTime
	err := scan(&m.ID, &m.ChannelID, &m.SenderID, &m.Content, &mentions, &m.ParentID,
		&m.IsPinned, &pinnedAt, &m.PinnedBy, &editedAt, &m.Seq, &m.CreatedAt, &m.SenderName)
	if err != nil {
		return nil, err
	}
	m.Mentions = unmarshalMentions(mentions)
	m.PinnedAt = timePtr(pinnedAt)
	m.EditedAt = timePtr(editedAt)
	return &m, nil
}

func (s *SQLiteStore) collectMessages(rows *sql.Rows) ([]Message, error) {
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

func (s *SQLiteStore) ListMessages(ctx context.Context, channelID, beforeID string, limit int) ([]Message, error) {
	query := "SELECT " + messageColumns + ` FROM messages m LEFT JOIN users u ON m.sender_id = u.id
		WHERE m.channel_id = ?`
	args := []any{channelID}
	if beforeID != "" {
		query += " AND m.seq < (SELECT seq FROM messages WHERE id = ?)"
		args = append(args, beforeID)
	}
	query += " ORDER BY m.seq DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	msgs, err := s.collectMessages(rows)
	if err != nil {
		return nil, err
	}
	// Pages are selected newest-first; callers get them oldest-first.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *SQLiteStore) ListMessagesMentioning(ctx context.Context, workspaceID, name string, limit int) ([]Message, error) {
	// Mentions are stored as a JSON array of names; match the quoted element.
	pattern := `%"` + escapeLike(name) + `"%`
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+messageColumns+` FROM messages m
		 LEFT JOIN users u ON m.sender_id = u.id
		 JOIN channels c ON m.channel_id = c.id
		 WHERE c.workspace_id = ? AND m.mentions LIKE ? ESCAPE '\'
		 ORDER BY m.created_at DESC LIMIT ?`,
		workspaceID, pattern, limit)
	if err != nil {
		return nil, err
	}
	return s.collectMessages(rows)
}

func (s *SQLiteStore) UpdateMessageContent(ctx context.Context, id, content string, editedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE messages SET content = ?, edited_at = ? WHERE id = ?",
		content, editedAt, id,
	)
	return err
}

func (s *SQLiteStore) DeleteMessage(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE id = ?", id)
	return err
}

func (s *SQLiteStore) SetMessagePinned(ctx context.Context, id string, pinned bool, by string, at time.Time) error {
	if pinned {
		_, err := s.db.ExecContext(ctx,
			"UPDATE messages SET is_pinned = 1, pinned_at = ?, pinned_by = ? WHERE id = ?", at, by, id)
		return err
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE messages SET is_pinned = 0, pinned_at = NULL, pinned_by = '' WHERE id = ?", id)
	return err
}

func (s *SQLiteStore) ListPinnedMessages(ctx context.Context, channelID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+messageColumns+` FROM messages m LEFT JOIN users u ON m.sender_id = u.id
		 WHERE m.channel_id = ? AND m.is_pinned = 1 ORDER BY m.pinned_at DESC`, channelID)
	if err != nil {
		return nil, err
	}
	return s.collectMessages(rows)
}

func (s *SQLiteStore) SearchMessages(ctx context.Context, workspaceID, query, channelID string, limit int) ([]Message, error) {
	pattern := "%" + escapeLike(query) + "%"
	sqlQuery := `SELECT m.id, m.channel_id, m.sender_id, m.content, m.mentions, m.parent_id,
		m.is_pinned, m.pinned_at, m.pinned_by, m.edited_at, m.seq, m.created_at, COALESCE(u.name, ''), c.name
		FROM messages m
		LEFT JOIN users u ON m.sender_id = u.id
		JOIN channels c ON m.channel_id = c.id
		WHERE c.workspace_id = ? AND m.content LIKE ? ESCAPE '\'`
	args := []any{workspaceID, pattern}
	if channelID != "" {
		sqlQuery += " AND m.channel_id = ?"
		args = append(args, channelID)
	}
	sqlQuery += " ORDER BY m.created_at DESC LIMIT ?"
	args = append(args, limit)

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

func (s *SQLiteStore) ToggleReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM message_reactions WHERE message_id = ? AND user_id = ? AND emoji = ?",
		messageID, userID, emoji,
	)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return false, nil
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO message_reactions (message_id, user_id, emoji, created_at) VALUES (?, ?, ?, ?)",
		messageID, userID, emoji, time.Now().UTC(),
	)
	return true, err
}

func (s *SQLiteStore) ListReactions(ctx context.Context, messageID string) ([]Reaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.message_id, r.user_id, r.emoji, r.created_at, COALESCE(u.name, '')
		 FROM message_reactions r LEFT JOIN users u ON r.user_id = u.id
		 WHERE r.message_id = ? ORDER BY r.created_at`, messageID)
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

func (s *SQLiteStore) UpsertReadReceipt(ctx context.Context, userID, channelID string, at time.Time) error {
	// last_read_at never regresses.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO read_receipts (user_id, channel_id, last_read_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id, channel_id) DO UPDATE SET last_read_at = excluded.last_read_at
		 WHERE excluded.last_read_at > read_receipts.last_read_at`,
		userID, channelID, at,
	)
	return err
}

func (s *SQLiteStore) GetReadReceipt(ctx context.Context, userID, channelID string) (*time.Time, error) {
	var at time.Time
	err := s.db.QueryRowContext(ctx,
		"SELECT last_read_at FROM read_receipts WHERE user_id = ? AND channel_id = ?",
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

func (s *SQLiteStore) CreateFeature(ctx context.Context, f *FeatureRequest) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feature_requests (id, title, description, status, reason, created_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.Title, f.Description, f.Status, f.Reason, f.CreatedBy, f.CreatedAt,
	)
	return err
}

func (s *SQLiteStore) GetFeature(ctx context.Context, id string) (*FeatureRequest, error) {
	var f FeatureRequest
	var updated sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT f.id, f.title, f.description, f.status, f.reason, f.created_by, f.created_at, f.updated_at,
		        COALESCE(SUM(v.vote), 0), COALESCE(u.name, '')
		 FROM feature_requests f
		 LEFT JOIN feature_votes v ON v.feature_id = f.id
		 LEFT JOIN users u ON f.created_by = u.id
		 WHERE f.id = ? GROUP BY f.id`, id,
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

func (s *SQLiteStore) ListFeatures(ctx context.Context) ([]FeatureRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT f.id, f.title, f.description, f.status, f.reason, f.created_by, f.created_at, f.updated_at,
		        COALESCE(SUM(v.vote), 0), COALESCE(u.name, '')
		 FROM feature_requests f
		 LEFT JOIN feature_votes v ON v.feature_id = f.id
		 LEFT JOIN users u ON f.created_by = u.id
		 GROUP BY f.id
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

func (s *SQLiteStore) UpsertFeatureVote(ctx context.Context, featureID, userID string, vote int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feature_votes (feature_id, user_id, vote) VALUES (?, ?, ?)
		 ON CONFLICT(feature_id, user_id) DO UPDATE SET vote = excluded.vote`,
		featureID, userID, vote,
	)
	return err
}

func (s *SQLiteStore) FeatureVoteCount(ctx context.Context, featureID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(vote), 0) FROM feature_votes WHERE feature_id = ?", featureID,
	).Scan(&count)
	return count, err
}

// --- API keys ---

func (s *SQLiteStore) CreateAPIKey(ctx context.Context, k *APIKey) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workspace_api_keys (id, workspace_id, key_hash, key_prefix, name, created_by, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		k.ID, k.WorkspaceID, k.KeyHash, k.KeyPrefix, k.Name, k.CreatedBy, k.CreatedAt, nullTime(k.ExpiresAt),
	)
	return err
}

func (s *SQLiteStore) GetAPIKeyByHash(ctx context.Context, keyHash string) (*APIKey, error) {
	var k APIKey
	var expires, revoked, lastUsed sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, workspace_id, key_hash, key_prefix, name, created_by, created_at, expires_at, revoked_at, last_used_at
		 FROM workspace_api_keys WHERE key_hash = ?`, keyHash,
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

func (s *SQLiteStore) ListAPIKeys(ctx context.Context, workspaceID string) ([]APIKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workspace_id, key_hash, key_prefix, name, created_by, created_at, expires_at, revoked_at, last_used_at
		 FROM workspace_api_keys WHERE workspace_id = ? ORDER BY created_at DESC`, workspaceID)
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

func (s *SQLiteStore) TouchAPIKey(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE workspace_api_keys SET last_used_at = ? WHERE id = ?", at, id)
	return err
}

func (s *SQLiteStore) RevokeAPIKey(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE workspace_api_keys SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL",
		time.Now().UTC(), id)
	return err
}

// --- Invites ---

func (s *SQLiteStore) CreateInvite(ctx context.Context, inv *Invite) error {
	var maxUses any
	if inv.MaxUses != nil {
		maxUses = *inv.MaxUses
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workspace_invites (id, workspace_id, token, role, max_uses, use_count, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
		inv.ID, inv.WorkspaceID, inv.Token, inv.Role, maxUses, nullTime(inv.ExpiresAt), inv.CreatedAt,
	)
	return err
}

func (s *SQLiteStore) GetInviteByToken(ctx context.Context, token string) (*Invite, error) {
	var inv Invite
	var maxUses sql.NullInt64
	var expires, revoked sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, workspace_id, token, role, max_uses, use_count, expires_at, created_at, revoked_at
		 FROM workspace_invites WHERE token = ?`, token,
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

func (s *SQLiteStore) ListInvites(ctx context.Context, workspaceID string) ([]Invite, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workspace_id, token, role, max_uses, use_count, expires_at, created_at, revoked_at
		 FROM workspace_invites WHERE workspace_id = ? ORDER BY created_at DESC`, workspaceID)
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

func (s *SQLiteStore) ConsumeInvite(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE workspace_invites SET use_count = use_count + 1 WHERE id = ?", id)
	return err
}

func (s *SQLiteStore) RevokeInvite(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE workspace_invites SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL",
		time.Now().UTC(), id)
	return err
}

// --- Browser sessions ---

func (s *SQLiteStore) CreateUserSession(ctx context.Context, sess *UserSession) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_sessions (id, user_id, token_hash, workspace_id, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.TokenHash, sess.WorkspaceID, sess.CreatedAt, sess.ExpiresAt,
	)
	return err
}

func (s *SQLiteStore) GetUserSessionByHash(ctx context.Context, tokenHash string) (*UserSession, error) {
	var sess UserSession
	var lastActive sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, token_hash, workspace_id, created_at, expires_at, last_active_at
		 FROM user_sessions WHERE token_hash = ?`, tokenHash,
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

func (s *SQLiteStore) TouchUserSession(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE user_sessions SET last_active_at = ? WHERE id = ?", at, id)
	return err
}

func (s *SQLiteStore) RevokeUserSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM user_sessions WHERE id = ?", id)
	return err
}
