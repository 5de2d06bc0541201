package invoke

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/talkto-ai/talkto/internal/opencode"
	"github.com/talkto-ai/talkto/internal/prompt"
	"github.com/talkto-ai/talkto/internal/store"
	"github.com/talkto-ai/talkto/pkg/protocol"
)

// fakeRuntime implements RuntimeClient in memory.
type fakeRuntime struct {
	mu       sync.Mutex
	url      string
	healthy  bool
	sessions []opencode.Session
	created  int
	prompts  []string
	reply    string
	promptErr error
}

func (f *fakeRuntime) BaseURL() string { return f.url }

func (f *fakeRuntime) Health(ctx context.Context, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.healthy {
		return errors.New("unreachable")
	}
	return nil
}

func (f *fakeRuntime) ListSessions(ctx context.Context) ([]opencode.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.healthy {
		return nil, errors.New("unreachable")
	}
	return append([]opencode.Session(nil), f.sessions...), nil
}

func (f *fakeRuntime) HasSession(ctx context.Context, id string) (bool, error) {
	sessions, err := f.ListSessions(ctx)
	if err != nil {
		return false, err
	}
	for _, s := range sessions {
		if s.ID == id {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRuntime) CreateSession(ctx context.Context, title string) (*opencode.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	s := opencode.Session{ID: "inv-" + title, Title: title}
	f.sessions = append(f.sessions, s)
	return &s, nil
}

func (f *fakeRuntime) Prompt(ctx context.Context, sessionID, text string) (*opencode.PromptResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.promptErr != nil {
		return nil, f.promptErr
	}
	f.prompts = append(f.prompts, text)
	return &opencode.PromptResponse{Parts: []opencode.Part{{Type: "text", Text: f.reply}}}, nil
}

func (f *fakeRuntime) promptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

func (f *fakeRuntime) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

// recordingBus captures broadcast events.
type recordingBus struct {
	mu     sync.Mutex
	events []protocol.Envelope
}

func (b *recordingBus) Broadcast(env protocol.Envelope, workspaceID, channelID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, env)
}

func (b *recordingBus) typed(typ string) []protocol.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []protocol.Envelope
	for _, e := range b.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	engine  *Engine
	store   store.Store
	bus     *recordingBus
	runtime *fakeRuntime
	channel *store.Channel
	human   *store.User
	agent   *store.Agent
}

func newFixture(t *testing.T, channelType string) *fixture {
	t.Helper()
	ctx := context.Background()
	s, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := store.Seed(ctx, s); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	human := &store.User{ID: uuid.NewString(), Name: "boss", Type: "human", CreatedAt: time.Now().UTC()}
	if err := s.CreateUser(ctx, human); err != nil {
		t.Fatal(err)
	}
	agentUser := &store.User{ID: uuid.NewString(), Name: "plucky-sparrow", Type: "agent", CreatedAt: time.Now().UTC()}
	if err := s.CreateUser(ctx, agentUser); err != nil {
		t.Fatal(err)
	}
	agent := &store.Agent{
		ID: agentUser.ID, AgentName: "plucky-sparrow", AgentType: "opencode",
		ProjectPath: "/home/dev/app", Status: "online",
		ServerURL: "http://localhost:4096", ProviderSessionID: "ses_tui",
		WorkspaceID: store.DefaultWorkspaceID, CreatedAt: time.Now().UTC(),
	}
	if err := s.CreateAgent(ctx, agent); err != nil {
		t.Fatal(err)
	}

	chName := "#general-test"
	if channelType == "dm" {
		chName = "#dm-plucky-sparrow"
	}
	channel := &store.Channel{
		ID: uuid.NewString(), Name: chName, Type: channelType,
		WorkspaceID: store.DefaultWorkspaceID, CreatedBy: human.ID, CreatedAt: time.Now().UTC(),
	}
	if err := s.CreateChannel(ctx, channel); err != nil {
		t.Fatal(err)
	}

	runtime := &fakeRuntime{url: "http://localhost:4096", healthy: true, reply: "LIVE_TEST_OK",
		sessions: []opencode.Session{{ID: "ses_tui", Directory: "/home/dev/app"}}}
	bus := &recordingBus{}
	engine := NewEngine(s, bus, prompt.NewEngine(""), slog.Default(), Options{
		PromptTimeout: 2 * time.Second,
		HealthTimeout: time.Second,
	})
	engine.newClient = func(string) RuntimeClient { return runtime }

	return &fixture{engine: engine, store: s, bus: bus, runtime: runtime, channel: channel, human: human, agent: agent}
}

func (f *fixture) post(t *testing.T, content string, mentions []string) *store.Message {
	t.Helper()
	m := &store.Message{
		ID: uuid.NewString(), ChannelID: f.channel.ID, SenderID: f.human.ID,
		Content: content, Mentions: mentions, CreatedAt: time.Now().UTC(),
	}
	if err := f.store.CreateMessage(context.Background(), m); err != nil {
		t.Fatal(err)
	}
	return m
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition never met")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDMRoundTrip(t *testing.T) {
	f := newFixture(t, "dm")
	ctx := context.Background()

	msg := f.post(t, "Reply with exactly: LIVE_TEST_OK", nil)
	f.engine.HandleMessage(ctx, msg, f.human, f.channel, 0)

	waitFor(t, func() bool { return len(f.bus.typed(protocol.EventNewMessage)) > 0 })

	msgs, err := f.store.ListMessages(ctx, f.channel.ID, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	last := msgs[len(msgs)-1]
	if last.SenderID != f.agent.ID || last.Content != "LIVE_TEST_OK" {
		t.Errorf("agent reply wrong: %+v", last)
	}

	// DM prompt is the raw message content.
	if got := f.runtime.lastPrompt(); !strings.Contains(got, "Reply with exactly: LIVE_TEST_OK") {
		t.Errorf("dm prompt: %q", got)
	}

	typing := f.bus.typed(protocol.EventAgentTyping)
	if len(typing) < 2 {
		t.Fatalf("typing events: %d, want true then false", len(typing))
	}
	first := typing[0].Data.(protocol.AgentTyping)
	lastTyping := typing[len(typing)-1].Data.(protocol.AgentTyping)
	if !first.IsTyping || lastTyping.IsTyping {
		t.Errorf("typing order wrong: first=%v last=%v", first.IsTyping, lastTyping.IsTyping)
	}
}

func TestMentionCarriesHistory(t *testing.T) {
	f := newFixture(t, "custom")
	ctx := context.Background()

	f.post(t, "hello", nil)
	f.post(t, "are you there?", nil)
	trigger := f.post(t, "@plucky-sparrow what is 2+2?", []string{"plucky-sparrow"})
	f.runtime.reply = "4"

	f.engine.HandleMessage(ctx, trigger, f.human, f.channel, 0)
	waitFor(t, func() bool { return f.runtime.promptCount() > 0 })

	got := f.runtime.lastPrompt()
	hello := strings.Index(got, "boss: hello")
	there := strings.Index(got, "boss: are you there?")
	q := strings.Index(got, "@plucky-sparrow what is 2+2?")
	if hello < 0 || there < 0 || q < 0 || !(hello < there && there < q) {
		t.Errorf("history order wrong in prompt:\n%s", got)
	}
	if !strings.Contains(got, f.channel.Name) {
		t.Errorf("prompt missing channel tag:\n%s", got)
	}

	waitFor(t, func() bool { return len(f.bus.typed(protocol.EventNewMessage)) > 0 })
	msgs, _ := f.store.ListMessages(ctx, f.channel.ID, "", 10)
	if msgs[len(msgs)-1].Content != "4" {
		t.Errorf("reply content: %q", msgs[len(msgs)-1].Content)
	}
}

func TestDedicatedInvocationSession(t *testing.T) {
	f := newFixture(t, "dm")
	ctx := context.Background()

	msg := f.post(t, "hi", nil)
	f.engine.HandleMessage(ctx, msg, f.human, f.channel, 0)
	waitFor(t, func() bool { return f.runtime.promptCount() > 0 })

	if f.runtime.created != 1 {
		t.Errorf("created %d sessions, want 1 dedicated", f.runtime.created)
	}

	// Second invocation reuses the cached invocation session.
	msg2 := f.post(t, "again", nil)
	f.engine.HandleMessage(ctx, msg2, f.human, f.channel, 0)
	waitFor(t, func() bool { return f.runtime.promptCount() > 1 })
	if f.runtime.created != 1 {
		t.Errorf("created %d sessions after reuse, want 1", f.runtime.created)
	}
}

func TestUnreachableServerClearsCredentials(t *testing.T) {
	f := newFixture(t, "dm")
	ctx := context.Background()
	f.runtime.healthy = false

	msg := f.post(t, "hi", nil)
	f.engine.HandleMessage(ctx, msg, f.human, f.channel, 0)

	waitFor(t, func() bool {
		a, _ := f.store.GetAgent(ctx, f.agent.ID)
		return a != nil && a.ServerURL == ""
	})
	if got := f.bus.typed(protocol.EventNewMessage); len(got) != 0 {
		t.Errorf("unreachable agent still posted %d messages", len(got))
	}

	// The UI must see the invocation resolve even though it never started.
	waitFor(t, func() bool { return len(f.bus.typed(protocol.EventAgentTyping)) > 0 })
	typing := f.bus.typed(protocol.EventAgentTyping)
	last := typing[len(typing)-1].Data.(protocol.AgentTyping)
	if last.IsTyping || last.Error == "" {
		t.Errorf("terminal typing event wrong: %+v", last)
	}
}

func TestPromptFailureEmitsTypingError(t *testing.T) {
	f := newFixture(t, "dm")
	ctx := context.Background()
	f.runtime.promptErr = errors.New("boom")

	msg := f.post(t, "hi", nil)
	f.engine.HandleMessage(ctx, msg, f.human, f.channel, 0)

	waitFor(t, func() bool {
		for _, e := range f.bus.typed(protocol.EventAgentTyping) {
			d := e.Data.(protocol.AgentTyping)
			if !d.IsTyping && d.Error != "" {
				return true
			}
		}
		return false
	})
	if got := f.bus.typed(protocol.EventNewMessage); len(got) != 0 {
		t.Errorf("failed invocation posted %d messages into the channel", len(got))
	}
}

func TestChainDepthCap(t *testing.T) {
	f := newFixture(t, "dm")
	ctx := context.Background()

	msg := f.post(t, "hi", nil)
	// Already at the cap: nothing should be dispatched.
	f.engine.HandleMessage(ctx, msg, f.human, f.channel, f.engine.opts.MaxChainDepth)
	time.Sleep(100 * time.Millisecond)
	if f.runtime.promptCount() != 0 {
		t.Errorf("capped invocation still prompted %d times", f.runtime.promptCount())
	}
}

func TestExtractMentions(t *testing.T) {
	got := ExtractMentions("hey @keen-fox and @spry-otter, ping @keen-fox again!")
	if len(got) != 2 || got[0] != "keen-fox" || got[1] != "spry-otter" {
		t.Errorf("ExtractMentions: %v", got)
	}
	if got := ExtractMentions("no mentions here"); got != nil {
		t.Errorf("ExtractMentions on plain text: %v", got)
	}
}

func TestRankMatch(t *testing.T) {
	cases := []struct {
		dir, path string
		want      int
	}{
		{"/home/dev/app", "/home/dev/app", matchExact},
		{"/home/dev/app/", "/home/dev/app", matchExact},
		{"/home/dev", "/home/dev/app", matchParent},
		{"/home/dev/app/sub", "/home/dev/app", matchChild},
		{"/home/other", "/home/dev/app", matchNone},
		{"/home/devx", "/home/dev/app", matchNone},
	}
	for _, c := range cases {
		if got := rankMatch(c.dir, c.path); got != c.want {
			t.Errorf("rankMatch(%q, %q) = %d, want %d", c.dir, c.path, got, c.want)
		}
	}
}

func TestDiscoverPicksBestMatch(t *testing.T) {
	f := newFixture(t, "dm")
	ctx := context.Background()

	f.runtime.sessions = []opencode.Session{
		{ID: "ses_parent", Directory: "/home/dev"},
		{ID: "ses_exact", Directory: "/home/dev/app"},
		{ID: "ses_sub", Directory: "/home/dev/app/sub", ParentID: "ses_exact"},
	}
	if err := f.store.ClearAgentCredentials(ctx, f.agent.ID); err != nil {
		t.Fatal(err)
	}
	f.agent.ServerURL, f.agent.ProviderSessionID = "", ""

	if err := f.engine.Discover(ctx, f.agent); err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if f.agent.ProviderSessionID != "ses_exact" {
		t.Errorf("discovered session %q, want ses_exact", f.agent.ProviderSessionID)
	}
	stored, _ := f.store.GetAgent(ctx, f.agent.ID)
	if stored.ProviderSessionID != "ses_exact" {
		t.Errorf("credentials not persisted: %+v", stored)
	}
}
