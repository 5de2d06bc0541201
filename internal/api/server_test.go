package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/talkto-ai/talkto/internal/auth"
	"github.com/talkto-ai/talkto/internal/store"
	"github.com/talkto-ai/talkto/internal/ws"
)

type fakeInvoker struct {
	calls []string // channel names
}

func (f *fakeInvoker) HandleMessage(_ context.Context, _ *store.Message, _ *store.User, ch *store.Channel, _ int) {
	f.calls = append(f.calls, ch.Name)
}

type fakeGhosts struct{ ghost map[string]bool }

func (f *fakeGhosts) IsGhost(id string) bool { return f.ghost[id] }

type testEnv struct {
	ts      *httptest.Server
	store   store.Store
	invoker *fakeInvoker
	ghosts  *fakeGhosts
	cookie  string // session cookie from onboarding
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := store.Seed(context.Background(), s); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	invoker := &fakeInvoker{}
	ghosts := &fakeGhosts{ghost: map[string]bool{}}
	srv := NewServer(s, auth.NewService(s), ws.NewManager(slog.Default()), invoker, ghosts, slog.Default(), opts)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, store: s, invoker: invoker, ghosts: ghosts}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		buf = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, buf)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if e.cookie != "" {
		req.Header.Set("Cookie", SessionCookie+"="+e.cookie)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out map[string]any
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	return resp, out
}

func (e *testEnv) doList(t *testing.T, path string) (*http.Response, []map[string]any) {
	t.Helper()
	resp, err := http.Get(e.ts.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out []map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (e *testEnv) onboard(t *testing.T, name string) {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/api/users/onboard", map[string]string{"name": name})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("onboard status = %d, body %v", resp.StatusCode, body)
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatal("onboard returned no token")
	}
	e.cookie = token
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t, Options{})
	resp, body := e.do(t, http.MethodGet, "/api/health", nil)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("health = %d %v", resp.StatusCode, body)
	}
}

func TestOnboardOnce(t *testing.T) {
	e := newTestEnv(t, Options{})
	e.onboard(t, "boss")

	resp, body := e.do(t, http.MethodGet, "/api/users/me", nil)
	if resp.StatusCode != http.StatusOK || body["name"] != "boss" {
		t.Fatalf("me = %d %v", resp.StatusCode, body)
	}

	resp, _ = e.do(t, http.MethodPost, "/api/users/onboard", map[string]string{"name": "impostor"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second onboard status = %d, want 409", resp.StatusCode)
	}
}

func TestNetworkModeRequiresAuth(t *testing.T) {
	e := newTestEnv(t, Options{Network: true})
	resp, _ := e.do(t, http.MethodGet, "/api/channels", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	e := newTestEnv(t, Options{})
	e.onboard(t, "boss")

	resp, body := e.do(t, http.MethodPost, "/api/workspaces/keys", map[string]string{"name": "ci"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create key status = %d %v", resp.StatusCode, body)
	}
	plaintext, _ := body["plaintext"].(string)
	if len(plaintext) < 12 || plaintext[:3] != "tk_" {
		t.Fatalf("plaintext = %q", plaintext)
	}

	// The key must carry auth on its own in network mode.
	net := newTestEnvSharingStore(t, e.store, Options{Network: true})
	req, _ := http.NewRequest(http.MethodGet, net.ts.URL+"/api/channels", nil)
	req.Header.Set("Authorization", "Bearer "+plaintext)
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("key auth status = %d, want 200", resp2.StatusCode)
	}

	// Keys act as workspace admins: admin-gated routes must work with
	// nothing but the bearer key.
	req, _ = http.NewRequest(http.MethodGet, net.ts.URL+"/api/workspaces/keys", nil)
	req.Header.Set("Authorization", "Bearer "+plaintext)
	resp3, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp3.Body.Close()
	if resp3.StatusCode != http.StatusOK {
		t.Fatalf("admin route with key = %d, want 200", resp3.StatusCode)
	}
}

func newTestEnvSharingStore(t *testing.T, s store.Store, opts Options) *testEnv {
	t.Helper()
	srv := NewServer(s, auth.NewService(s), ws.NewManager(slog.Default()), nil, nil, slog.Default(), opts)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, store: s}
}

func TestChannelMessageFlow(t *testing.T) {
	e := newTestEnv(t, Options{})
	e.onboard(t, "boss")

	resp, ch := e.do(t, http.MethodPost, "/api/channels", map[string]string{"name": "fruits"})
	if resp.StatusCode != http.StatusCreated || ch["name"] != "#fruits" {
		t.Fatalf("create channel = %d %v", resp.StatusCode, ch)
	}
	chID := ch["id"].(string)

	resp, _ = e.do(t, http.MethodPost, "/api/channels", map[string]string{"name": "#fruits"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate channel status = %d, want 409", resp.StatusCode)
	}

	resp, msg := e.do(t, http.MethodPost, "/api/channels/"+chID+"/messages", map[string]string{"content": "banana"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("post message = %d %v", resp.StatusCode, msg)
	}
	msgID := msg["id"].(string)

	// The message is invisible through a different channel id.
	resp, other := e.do(t, http.MethodPost, "/api/agents/nonexistent/dm", nil)
	_ = other
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("dm to unknown agent = %d, want 404", resp.StatusCode)
	}

	resp, edited := e.do(t, http.MethodPatch, "/api/channels/"+chID+"/messages/"+msgID, map[string]string{"content": "ripe banana"})
	if resp.StatusCode != http.StatusOK || edited["content"] != "ripe banana" {
		t.Fatalf("edit = %d %v", resp.StatusCode, edited)
	}
	if edited["edited_at"] == nil {
		t.Error("edited_at not set after edit")
	}

	resp, pinned := e.do(t, http.MethodPost, "/api/channels/"+chID+"/messages/"+msgID+"/pin", nil)
	if resp.StatusCode != http.StatusOK || pinned["is_pinned"] != true {
		t.Fatalf("pin = %d %v", resp.StatusCode, pinned)
	}
	// Pinning twice is a no-op.
	resp, pinned = e.do(t, http.MethodPost, "/api/channels/"+chID+"/messages/"+msgID+"/pin", nil)
	if resp.StatusCode != http.StatusOK || pinned["is_pinned"] != true {
		t.Fatalf("re-pin = %d %v", resp.StatusCode, pinned)
	}

	resp, pins := e.doList(t, "/api/channels/"+chID+"/messages/pinned")
	if resp.StatusCode != http.StatusOK || len(pins) != 1 {
		t.Fatalf("pinned list = %d, %d entries", resp.StatusCode, len(pins))
	}

	resp, react := e.do(t, http.MethodPost, "/api/channels/"+chID+"/messages/"+msgID+"/react", map[string]string{"emoji": "🍌"})
	if resp.StatusCode != http.StatusOK || react["added"] != true {
		t.Fatalf("react = %d %v", resp.StatusCode, react)
	}
	resp, react = e.do(t, http.MethodPost, "/api/channels/"+chID+"/messages/"+msgID+"/react", map[string]string{"emoji": "🍌"})
	if resp.StatusCode != http.StatusOK || react["added"] != false {
		t.Fatalf("second react = %d %v", resp.StatusCode, react)
	}

	resp, _ = e.do(t, http.MethodDelete, "/api/channels/"+chID+"/messages/"+msgID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete = %d", resp.StatusCode)
	}
	resp, _ = e.do(t, http.MethodGet, "/api/channels/"+chID+"/messages/"+msgID+"/reactions", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("reactions after delete = %d, want 404", resp.StatusCode)
	}
}

func TestMessagePostTriggersInvoker(t *testing.T) {
	e := newTestEnv(t, Options{})
	e.onboard(t, "boss")

	resp, ch := e.do(t, http.MethodPost, "/api/channels", map[string]string{"name": "ops"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatal("create channel failed")
	}
	resp, _ = e.do(t, http.MethodPost, "/api/channels/"+ch["id"].(string)+"/messages",
		map[string]string{"content": "@plucky-sparrow ping"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatal("post failed")
	}
	if len(e.invoker.calls) != 1 || e.invoker.calls[0] != "#ops" {
		t.Errorf("invoker calls = %v, want [#ops]", e.invoker.calls)
	}
}

func TestSearchWildcardLiteral(t *testing.T) {
	e := newTestEnv(t, Options{})
	e.onboard(t, "boss")

	_, ch := e.do(t, http.MethodPost, "/api/channels", map[string]string{"name": "scratch"})
	chID := ch["id"].(string)
	for _, content := range []string{"a_b", "axb", "cat"} {
		resp, _ := e.do(t, http.MethodPost, "/api/channels/"+chID+"/messages", map[string]string{"content": content})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("post %q failed", content)
		}
	}

	// The seed welcome message also contains underscores, so assert on the
	// fixtures rather than an exact count: "_" matches "a_b" literally and
	// does not act as a single-character wildcard over "axb" or "cat".
	resp, results := e.doList(t, "/api/search?q=_")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("search = %d", resp.StatusCode)
	}
	found := map[string]bool{}
	for _, m := range results {
		if c, ok := m["content"].(string); ok {
			found[c] = true
		}
	}
	if !found["a_b"] {
		t.Errorf("search results %v missing a_b", results)
	}
	if found["axb"] || found["cat"] {
		t.Errorf("underscore matched as a wildcard: %v", results)
	}
}

func TestSearchChannelScoped(t *testing.T) {
	e := newTestEnv(t, Options{})
	e.onboard(t, "boss")

	_, chA := e.do(t, http.MethodPost, "/api/channels", map[string]string{"name": "alpha"})
	_, chB := e.do(t, http.MethodPost, "/api/channels", map[string]string{"name": "beta"})
	e.do(t, http.MethodPost, "/api/channels/"+chA["id"].(string)+"/messages", map[string]string{"content": "banana"})
	e.do(t, http.MethodPost, "/api/channels/"+chB["id"].(string)+"/messages", map[string]string{"content": "banana"})

	resp, results := e.doList(t, "/api/search?q=banana&channel=%23alpha")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("search = %d", resp.StatusCode)
	}
	if len(results) != 1 || results[0]["channel_name"] != "#alpha" {
		t.Fatalf("results = %v, want one #alpha hit", results)
	}
}

func TestAgentEndpoints(t *testing.T) {
	e := newTestEnv(t, Options{})
	e.onboard(t, "boss")

	agentID := seedAgent(t, e.store, "plucky-sparrow")
	e.ghosts.ghost[agentID] = true

	resp, agent := e.do(t, http.MethodGet, "/api/agents/plucky-sparrow", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get agent = %d", resp.StatusCode)
	}
	if agent["is_ghost"] != true {
		t.Error("is_ghost flag not surfaced")
	}

	resp, dm := e.do(t, http.MethodPost, "/api/agents/plucky-sparrow/dm", nil)
	if resp.StatusCode != http.StatusCreated || dm["name"] != "#dm-plucky-sparrow" {
		t.Fatalf("dm create = %d %v", resp.StatusCode, dm)
	}
	resp, again := e.do(t, http.MethodPost, "/api/agents/plucky-sparrow/dm", nil)
	if resp.StatusCode != http.StatusOK || again["id"] != dm["id"] {
		t.Fatalf("dm reuse = %d %v", resp.StatusCode, again)
	}
}

func seedAgent(t *testing.T, s store.Store, name string) string {
	t.Helper()
	ctx := context.Background()
	u := &store.User{ID: uuid.NewString(), Name: name, Type: "agent", CreatedAt: time.Now().UTC()}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateAgent(ctx, &store.Agent{
		ID: u.ID, AgentName: name, AgentType: "opencode",
		WorkspaceID: store.DefaultWorkspaceID, CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatal(err)
	}
	return u.ID
}

func TestFeatureVoting(t *testing.T) {
	e := newTestEnv(t, Options{})
	e.onboard(t, "boss")

	resp, f := e.do(t, http.MethodPost, "/api/features", map[string]string{"title": "dark mode"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create feature = %d", resp.StatusCode)
	}
	fid := f["id"].(string)

	resp, vote := e.do(t, http.MethodPost, "/api/features/"+fid+"/vote", map[string]int{"vote": 1})
	if resp.StatusCode != http.StatusOK || vote["vote_count"] != float64(1) {
		t.Fatalf("vote = %d %v", resp.StatusCode, vote)
	}
	// Flipping the vote replaces it rather than stacking.
	resp, vote = e.do(t, http.MethodPost, "/api/features/"+fid+"/vote", map[string]int{"vote": -1})
	if resp.StatusCode != http.StatusOK || vote["vote_count"] != float64(-1) {
		t.Fatalf("flipped vote = %d %v", resp.StatusCode, vote)
	}

	resp, _ = e.do(t, http.MethodPost, "/api/features/"+fid+"/vote", map[string]int{"vote": 5})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid vote = %d, want 400", resp.StatusCode)
	}
}

func TestInviteJoinFlow(t *testing.T) {
	e := newTestEnv(t, Options{})
	e.onboard(t, "boss")

	one := 1
	resp, inv := e.do(t, http.MethodPost, "/api/workspaces/invites", map[string]any{"role": "member", "max_uses": one})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create invite = %d %v", resp.StatusCode, inv)
	}
	token := inv["token"].(string)

	joiner := &testEnv{ts: e.ts, store: e.store}
	resp, joined := joiner.do(t, http.MethodPost, "/api/join/"+token, map[string]string{"name": "newcomer"})
	if resp.StatusCode != http.StatusCreated || joined["role"] != "member" {
		t.Fatalf("join = %d %v", resp.StatusCode, joined)
	}

	// Single-use invite is now exhausted.
	resp, _ = joiner.do(t, http.MethodPost, "/api/join/"+token, map[string]string{"name": "straggler"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("exhausted invite = %d, want 404", resp.StatusCode)
	}
}

func TestRateLimit(t *testing.T) {
	e := newTestEnv(t, Options{RequestsPerSecond: 0.001, Burst: 2})
	e.onboard(t, "boss")

	var last int
	for i := 0; i < 4; i++ {
		resp, _ := e.do(t, http.MethodGet, "/api/channels", nil)
		last = resp.StatusCode
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("status after burst = %d, want 429", last)
	}
}

func TestMessageLimitValidation(t *testing.T) {
	e := newTestEnv(t, Options{})
	e.onboard(t, "boss")
	_, ch := e.do(t, http.MethodPost, "/api/channels", map[string]string{"name": "x"})
	chID := ch["id"].(string)

	resp, _ := e.do(t, http.MethodGet, fmt.Sprintf("/api/channels/%s/messages?limit=abc", chID), nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit = %d, want 400", resp.StatusCode)
	}
	resp, _ = e.do(t, http.MethodGet, fmt.Sprintf("/api/channels/%s/messages?limit=500", chID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("clamped limit = %d, want 200", resp.StatusCode)
	}
}
