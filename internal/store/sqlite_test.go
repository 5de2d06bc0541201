package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/talkto-ai/talkto/internal/names"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedTestStore(t *testing.T, s *SQLiteStore) {
	t.Helper()
	if err := Seed(context.Background(), s); err != nil {
		t.Fatalf("Seed: %v", err)
	}
}

func mustCreateUser(t *testing.T, s *SQLiteStore, name, typ string) *User {
	t.Helper()
	u := &User{ID: uuid.NewString(), Name: name, Type: typ, CreatedAt: time.Now().UTC()}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser(%s): %v", name, err)
	}
	return u
}

func mustCreateChannel(t *testing.T, s *SQLiteStore, name string) *Channel {
	t.Helper()
	c := &Channel{
		ID: uuid.NewString(), Name: name, Type: "custom",
		WorkspaceID: DefaultWorkspaceID, CreatedBy: "test", CreatedAt: time.Now().UTC(),
	}
	if err := s.CreateChannel(context.Background(), c); err != nil {
		t.Fatalf("CreateChannel(%s): %v", name, err)
	}
	return c
}

func TestSeedIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedTestStore(t, s)
	seedTestStore(t, s)

	ws, err := s.GetWorkspace(ctx, DefaultWorkspaceID)
	if err != nil || ws == nil {
		t.Fatalf("default workspace missing: %v", err)
	}
	general, err := s.GetChannelByName(ctx, DefaultWorkspaceID, "#general")
	if err != nil || general == nil {
		t.Fatalf("#general missing: %v", err)
	}
	random, err := s.GetChannelByName(ctx, DefaultWorkspaceID, "#random")
	if err != nil || random == nil {
		t.Fatalf("#random missing: %v", err)
	}

	creator, err := s.GetAgentByName(ctx, names.CreatorName)
	if err != nil || creator == nil {
		t.Fatalf("creator agent missing: %v", err)
	}
	if creator.AgentType != "system" {
		t.Errorf("creator agent_type: got %q, want system", creator.AgentType)
	}
	if creator.Status != "online" {
		t.Errorf("creator status: got %q, want online", creator.Status)
	}

	msgs, err := s.ListMessages(ctx, general.ID, "", 10)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("welcome messages: got %d, want exactly 1", len(msgs))
	}

	features, err := s.ListFeatures(ctx)
	if err != nil {
		t.Fatalf("ListFeatures: %v", err)
	}
	if len(features) != 8 {
		t.Errorf("seed features: got %d, want 8", len(features))
	}
}

func TestChannelConflict(t *testing.T) {
	s := newTestStore(t)
	seedTestStore(t, s)

	dup := &Channel{
		ID: uuid.NewString(), Name: "#general", Type: "custom",
		WorkspaceID: DefaultWorkspaceID, CreatedBy: "test", CreatedAt: time.Now().UTC(),
	}
	if err := s.CreateChannel(context.Background(), dup); err != ErrConflict {
		t.Errorf("duplicate channel: got %v, want ErrConflict", err)
	}
}

func TestMessagePagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedTestStore(t, s)
	u := mustCreateUser(t, s, "boss", "human")
	ch := mustCreateChannel(t, s, "#paging")

	var ids []string
	for i := 0; i < 5; i++ {
		m := &Message{
			ID: uuid.NewString(), ChannelID: ch.ID, SenderID: u.ID,
			Content: "msg", CreatedAt: time.Now().UTC(),
		}
		if err := s.CreateMessage(ctx, m); err != nil {
			t.Fatalf("CreateMessage: %v", err)
		}
		ids = append(ids, m.ID)
	}

	// Latest page.
	page, err := s.ListMessages(ctx, ch.ID, "", 2)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(page) != 2 || page[0].ID != ids[3] || page[1].ID != ids[4] {
		t.Fatalf("latest page wrong: %+v", page)
	}

	// Page before the cursor.
	page, err = s.ListMessages(ctx, ch.ID, ids[3], 2)
	if err != nil {
		t.Fatalf("ListMessages before: %v", err)
	}
	if len(page) != 2 || page[0].ID != ids[1] || page[1].ID != ids[2] {
		t.Fatalf("before page wrong: %+v", page)
	}
}

func TestMessagesDoNotLeakAcrossChannels(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedTestStore(t, s)
	u := mustCreateUser(t, s, "boss", "human")
	a := mustCreateChannel(t, s, "#aaa")
	b := mustCreateChannel(t, s, "#bbb")

	for _, ch := range []*Channel{a, b} {
		if err := s.CreateMessage(ctx, &Message{
			ID: uuid.NewString(), ChannelID: ch.ID, SenderID: u.ID,
			Content: "in " + ch.Name, CreatedAt: time.Now().UTC(),
		}); err != nil {
			t.Fatalf("CreateMessage: %v", err)
		}
	}

	msgs, err := s.ListMessages(ctx, a.ID, "", 50)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	for _, m := range msgs {
		if m.ChannelID != a.ID {
			t.Errorf("message %s leaked from channel %s", m.ID, m.ChannelID)
		}
	}
}

func TestSearchEscapesWildcards(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedTestStore(t, s)
	u := mustCreateUser(t, s, "boss", "human")
	ch := mustCreateChannel(t, s, "#search")

	for _, content := range []string{"a_b", "axb", "cat"} {
		if err := s.CreateMessage(ctx, &Message{
			ID: uuid.NewString(), ChannelID: ch.ID, SenderID: u.ID,
			Content: content, CreatedAt: time.Now().UTC(),
		}); err != nil {
			t.Fatalf("CreateMessage: %v", err)
		}
	}

	// The seed welcome message also carries underscores (tool names), so
	// check the fixtures instead of counting rows.
	got, err := s.SearchMessages(ctx, DefaultWorkspaceID, "_", "", 50)
	if err != nil {
		t.Fatalf("SearchMessages: %v", err)
	}
	found := map[string]bool{}
	for _, m := range got {
		found[m.Content] = true
	}
	if !found["a_b"] {
		t.Fatalf("underscore search missed a_b: %+v", got)
	}
	if found["axb"] || found["cat"] {
		t.Fatalf("underscore matched as a wildcard: %+v", got)
	}

	got, err = s.SearchMessages(ctx, DefaultWorkspaceID, "%", "", 50)
	if err != nil {
		t.Fatalf("SearchMessages: %v", err)
	}
	for _, m := range got {
		if m.ChannelID == ch.ID {
			t.Fatalf("percent matched fixture %q", m.Content)
		}
	}
}

func TestSearchChannelFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedTestStore(t, s)
	u := mustCreateUser(t, s, "boss", "human")
	a := mustCreateChannel(t, s, "#fruits")
	b := mustCreateChannel(t, s, "#veggies")

	for _, ch := range []*Channel{a, b} {
		if err := s.CreateMessage(ctx, &Message{
			ID: uuid.NewString(), ChannelID: ch.ID, SenderID: u.ID,
			Content: "banana", CreatedAt: time.Now().UTC(),
		}); err != nil {
			t.Fatalf("CreateMessage: %v", err)
		}
	}

	got, err := s.SearchMessages(ctx, DefaultWorkspaceID, "banana", a.ID, 50)
	if err != nil {
		t.Fatalf("SearchMessages: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("channel-filtered search: got %d results, want 1", len(got))
	}
	if got[0].ChannelName != "#fruits" {
		t.Errorf("channel_name: got %q, want #fruits", got[0].ChannelName)
	}
}

func TestToggleReaction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedTestStore(t, s)
	u := mustCreateUser(t, s, "boss", "human")
	ch := mustCreateChannel(t, s, "#react")
	m := &Message{ID: uuid.NewString(), ChannelID: ch.ID, SenderID: u.ID, Content: "hi", CreatedAt: time.Now().UTC()}
	if err := s.CreateMessage(ctx, m); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	added, err := s.ToggleReaction(ctx, m.ID, u.ID, "👍")
	if err != nil || !added {
		t.Fatalf("first toggle: added=%v err=%v, want added", added, err)
	}
	added, err = s.ToggleReaction(ctx, m.ID, u.ID, "👍")
	if err != nil || added {
		t.Fatalf("second toggle: added=%v err=%v, want removed", added, err)
	}
	reactions, err := s.ListReactions(ctx, m.ID)
	if err != nil {
		t.Fatalf("ListReactions: %v", err)
	}
	if len(reactions) != 0 {
		t.Errorf("reactions after double toggle: got %d, want 0", len(reactions))
	}
}

func TestReactionsCascadeOnMessageDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedTestStore(t, s)
	u := mustCreateUser(t, s, "boss", "human")
	ch := mustCreateChannel(t, s, "#cascade")
	m := &Message{ID: uuid.NewString(), ChannelID: ch.ID, SenderID: u.ID, Content: "bye", CreatedAt: time.Now().UTC()}
	if err := s.CreateMessage(ctx, m); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if _, err := s.ToggleReaction(ctx, m.ID, u.ID, "🔥"); err != nil {
		t.Fatalf("ToggleReaction: %v", err)
	}
	if err := s.DeleteMessage(ctx, m.ID); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	reactions, err := s.ListReactions(ctx, m.ID)
	if err != nil {
		t.Fatalf("ListReactions: %v", err)
	}
	if len(reactions) != 0 {
		t.Errorf("reactions survived message delete: %d", len(reactions))
	}
}

func TestReadReceiptMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedTestStore(t, s)
	u := mustCreateUser(t, s, "boss", "human")
	ch := mustCreateChannel(t, s, "#receipts")

	later := time.Now().UTC()
	earlier := later.Add(-time.Hour)

	if err := s.UpsertReadReceipt(ctx, u.ID, ch.ID, later); err != nil {
		t.Fatalf("UpsertReadReceipt: %v", err)
	}
	if err := s.UpsertReadReceipt(ctx, u.ID, ch.ID, earlier); err != nil {
		t.Fatalf("UpsertReadReceipt regress: %v", err)
	}

	got, err := s.GetReadReceipt(ctx, u.ID, ch.ID)
	if err != nil || got == nil {
		t.Fatalf("GetReadReceipt: %v", err)
	}
	if !got.Equal(later) {
		t.Errorf("last_read_at regressed: got %v, want %v", got, later)
	}
}

func TestFeatureVoteUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedTestStore(t, s)
	u := mustCreateUser(t, s, "boss", "human")

	f := &FeatureRequest{ID: uuid.NewString(), Title: "Dark mode", Status: "open", CreatedBy: u.ID, CreatedAt: time.Now().UTC()}
	if err := s.CreateFeature(ctx, f); err != nil {
		t.Fatalf("CreateFeature: %v", err)
	}

	if err := s.UpsertFeatureVote(ctx, f.ID, u.ID, 1); err != nil {
		t.Fatalf("UpsertFeatureVote: %v", err)
	}
	if n, _ := s.FeatureVoteCount(ctx, f.ID); n != 1 {
		t.Errorf("vote count after +1: got %d, want 1", n)
	}
	if err := s.UpsertFeatureVote(ctx, f.ID, u.ID, -1); err != nil {
		t.Fatalf("UpsertFeatureVote flip: %v", err)
	}
	if n, _ := s.FeatureVoteCount(ctx, f.ID); n != -1 {
		t.Errorf("vote count after flip: got %d, want -1", n)
	}
}

func TestAgentSessionSingleActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedTestStore(t, s)
	u := mustCreateUser(t, s, "spry-otter", "agent")
	if err := s.CreateAgent(ctx, &Agent{
		ID: u.ID, AgentName: "spry-otter", AgentType: "opencode",
		Status: "online", WorkspaceID: DefaultWorkspaceID, CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}

	first := &AgentSession{ID: uuid.NewString(), AgentID: u.ID, PID: 100, StartedAt: time.Now().UTC(), LastHeartbeat: time.Now().UTC()}
	if err := s.StartAgentSession(ctx, first); err != nil {
		t.Fatalf("StartAgentSession: %v", err)
	}
	second := &AgentSession{ID: uuid.NewString(), AgentID: u.ID, PID: 200, StartedAt: time.Now().UTC(), LastHeartbeat: time.Now().UTC()}
	if err := s.StartAgentSession(ctx, second); err != nil {
		t.Fatalf("StartAgentSession second: %v", err)
	}

	active, err := s.GetActiveAgentSession(ctx, u.ID)
	if err != nil || active == nil {
		t.Fatalf("GetActiveAgentSession: %v", err)
	}
	if active.PID != 200 {
		t.Errorf("active session pid: got %d, want 200", active.PID)
	}
}

func TestAgentNameUnique(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedTestStore(t, s)
	u1 := mustCreateUser(t, s, "keen-fox", "agent")
	u2 := mustCreateUser(t, s, "keen-fox-2", "agent")

	a := &Agent{ID: u1.ID, AgentName: "keen-fox", WorkspaceID: DefaultWorkspaceID, CreatedAt: time.Now().UTC()}
	if err := s.CreateAgent(ctx, a); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	dup := &Agent{ID: u2.ID, AgentName: "keen-fox", WorkspaceID: DefaultWorkspaceID, CreatedAt: time.Now().UTC()}
	if err := s.CreateAgent(ctx, dup); err != ErrConflict {
		t.Errorf("duplicate agent name: got %v, want ErrConflict", err)
	}
}

func TestPinUnpin(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedTestStore(t, s)
	u := mustCreateUser(t, s, "boss", "human")
	ch := mustCreateChannel(t, s, "#pins")
	m := &Message{ID: uuid.NewString(), ChannelID: ch.ID, SenderID: u.ID, Content: "pin me", CreatedAt: time.Now().UTC()}
	if err := s.CreateMessage(ctx, m); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	if err := s.SetMessagePinned(ctx, m.ID, true, u.ID, time.Now().UTC()); err != nil {
		t.Fatalf("pin: %v", err)
	}
	pins, err := s.ListPinnedMessages(ctx, ch.ID)
	if err != nil {
		t.Fatalf("ListPinnedMessages: %v", err)
	}
	if len(pins) != 1 || pins[0].ID != m.ID {
		t.Fatalf("pinned list: %+v", pins)
	}

	if err := s.SetMessagePinned(ctx, m.ID, false, "", time.Time{}); err != nil {
		t.Fatalf("unpin: %v", err)
	}
	got, err := s.GetMessage(ctx, m.ID)
	if err != nil || got == nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if got.IsPinned || got.PinnedAt != nil {
		t.Errorf("unpin did not clear pin state: %+v", got)
	}
}

func TestUserSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedTestStore(t, s)
	u := mustCreateUser(t, s, "boss", "human")

	sess := &UserSession{
		ID: uuid.NewString(), UserID: u.ID, TokenHash: "deadbeef",
		WorkspaceID: DefaultWorkspaceID,
		CreatedAt:   time.Now().UTC(), ExpiresAt: time.Now().UTC().Add(24 * time.Hour),
	}
	if err := s.CreateUserSession(ctx, sess); err != nil {
		t.Fatalf("CreateUserSession: %v", err)
	}

	got, err := s.GetUserSessionByHash(ctx, "deadbeef")
	if err != nil || got == nil {
		t.Fatalf("GetUserSessionByHash: %v", err)
	}
	if got.UserID != u.ID {
		t.Errorf("session user: got %q", got.UserID)
	}

	if err := s.RevokeUserSession(ctx, sess.ID); err != nil {
		t.Fatalf("RevokeUserSession: %v", err)
	}
	got, err = s.GetUserSessionByHash(ctx, "deadbeef")
	if err != nil {
		t.Fatalf("GetUserSessionByHash after revoke: %v", err)
	}
	if got != nil {
		t.Error("revoked session still resolvable")
	}
}

func TestMentionLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedTestStore(t, s)
	u := mustCreateUser(t, s, "boss", "human")
	ch := mustCreateChannel(t, s, "#mentions")

	if err := s.CreateMessage(ctx, &Message{
		ID: uuid.NewString(), ChannelID: ch.ID, SenderID: u.ID,
		Content: "@spry-otter ping", Mentions: []string{"spry-otter"}, CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if err := s.CreateMessage(ctx, &Message{
		ID: uuid.NewString(), ChannelID: ch.ID, SenderID: u.ID,
		Content: "no mention here", CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	got, err := s.ListMessagesMentioning(ctx, DefaultWorkspaceID, "spry-otter", 10)
	if err != nil {
		t.Fatalf("ListMessagesMentioning: %v", err)
	}
	if len(got) != 1 || got[0].Mentions[0] != "spry-otter" {
		t.Fatalf("mention lookup: %+v", got)
	}
}
