// Package invoke dispatches channel messages to agents' external runtime
// sessions and posts their replies back into the channel.
package invoke

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/talkto-ai/talkto/internal/opencode"
	"github.com/talkto-ai/talkto/internal/prompt"
	"github.com/talkto-ai/talkto/internal/store"
	"github.com/talkto-ai/talkto/pkg/protocol"
)

// historyDepth is how many prior channel messages a mention prompt carries.
const historyDepth = 5

// Broadcaster is the slice of the WS manager the engine needs.
type Broadcaster interface {
	Broadcast(env protocol.Envelope, workspaceID, channelID string)
}

// RuntimeClient is the external-SDK surface the engine consumes; satisfied
// by *opencode.Client and stubbed in tests.
type RuntimeClient interface {
	BaseURL() string
	Health(ctx context.Context, timeout time.Duration) error
	ListSessions(ctx context.Context) ([]opencode.Session, error)
	HasSession(ctx context.Context, sessionID string) (bool, error)
	CreateSession(ctx context.Context, title string) (*opencode.Session, error)
	Prompt(ctx context.Context, sessionID, text string) (*opencode.PromptResponse, error)
}

// Options tunes the engine's timeouts and chain depth.
type Options struct {
	PromptTimeout time.Duration // hard deadline for one prompt dispatch
	HealthTimeout time.Duration // external server probes
	MaxChainDepth int           // agent-to-agent invocation chaining cap
	DiscoverPorts []int         // well-known local ports for auto-discovery
}

func (o *Options) applyDefaults() {
	if o.PromptTimeout == 0 {
		o.PromptTimeout = 120 * time.Second
	}
	if o.HealthTimeout == 0 {
		o.HealthTimeout = 5 * time.Second
	}
	if o.MaxChainDepth == 0 {
		o.MaxChainDepth = 2
	}
	if len(o.DiscoverPorts) == 0 {
		o.DiscoverPorts = opencode.WellKnownPorts
	}
}

// Engine runs the invocation pipeline.
type Engine struct {
	store   store.Store
	bus     Broadcaster
	prompts *prompt.Engine
	logger  *slog.Logger
	opts    Options

	newClient func(baseURL string) RuntimeClient

	mu       sync.Mutex
	sessions map[string]string      // agent_id -> invocation session id
	locks    map[string]*sync.Mutex // per-agent, serializes session setup
}

func NewEngine(s store.Store, bus Broadcaster, prompts *prompt.Engine, logger *slog.Logger, opts Options) *Engine {
	opts.applyDefaults()
	return &Engine{
		store:     s,
		bus:       bus,
		prompts:   prompts,
		logger:    logger.With("component", "invoke"),
		opts:      opts,
		newClient: func(u string) RuntimeClient { return opencode.NewClient(u) },
		sessions:  make(map[string]string),
		locks:     make(map[string]*sync.Mutex),
	}
}

// HandleMessage inspects a freshly stored message and schedules an
// invocation for every addressed agent. It returns once credentials are
// resolved; prompting runs in the background. depth is 0 for human-authored
// messages and increments on each agent-authored hop.
func (e *Engine) HandleMessage(ctx context.Context, msg *store.Message, sender *store.User, channel *store.Channel, depth int) {
	targets := e.resolveTargets(ctx, msg, sender, channel)
	if len(targets) == 0 {
		return
	}
	if depth >= e.opts.MaxChainDepth {
		e.logger.Info("invocation chain depth exceeded, dropping",
			"channel", channel.Name, "depth", depth)
		return
	}

	for _, agent := range targets {
		agent := agent
		if agent.ServerURL == "" || agent.ProviderSessionID == "" {
			if err := e.Discover(ctx, agent); err != nil {
				// Delivered but unanswered: the agent sees it on get_messages.
				e.logger.Info("no credentials for agent, skipping invocation",
					"agent", agent.AgentName, "error", err)
				continue
			}
		}
		go e.invoke(context.WithoutCancel(ctx), agent, msg, sender, channel, depth)
	}
}

// resolveTargets returns the agents addressed by a message: the DM channel's
// agent, or the mentioned agents.
func (e *Engine) resolveTargets(ctx context.Context, msg *store.Message, sender *store.User, channel *store.Channel) []*store.Agent {
	var names []string
	if channel.Type == "dm" {
		names = append(names, strings.TrimPrefix(channel.Name, "#dm-"))
	}
	names = append(names, msg.Mentions...)

	seen := make(map[string]bool)
	var out []*store.Agent
	for _, name := range names {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		agent, err := e.store.GetAgentByName(ctx, name)
		if err != nil || agent == nil {
			continue
		}
		if agent.ID == sender.ID || agent.AgentType == "system" {
			continue
		}
		out = append(out, agent)
	}
	return out
}

func (e *Engine) agentLock(agentID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[agentID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[agentID] = l
	}
	return l
}

// invoke runs steps 2-7 of the pipeline for a single agent.
func (e *Engine) invoke(ctx context.Context, agent *store.Agent, msg *store.Message, sender *store.User, channel *store.Channel, depth int) {
	typing := func(isTyping bool, errMsg string) {
		e.bus.Broadcast(protocol.Envelope{
			Type: protocol.EventAgentTyping,
			Data: protocol.AgentTyping{
				AgentID:   agent.ID,
				AgentName: agent.AgentName,
				ChannelID: channel.ID,
				IsTyping:  isTyping,
				Error:     errMsg,
			},
		}, channel.WorkspaceID, channel.ID)
	}

	client := e.newClient(agent.ServerURL)
	if err := client.Health(ctx, e.opts.HealthTimeout); err != nil {
		// Stale credentials; clear them so the next attempt rediscovers.
		_ = e.store.ClearAgentCredentials(ctx, agent.ID)
		e.invalidateSession(agent.ID)
		e.logger.Warn("agent server unreachable", "agent", agent.AgentName, "server", agent.ServerURL, "error", err)
		typing(false, "agent server unreachable")
		return
	}

	sessionID, err := e.invocationSession(ctx, client, agent)
	if err != nil {
		e.logger.Warn("invocation session unavailable", "agent", agent.AgentName, "error", err)
		typing(false, err.Error())
		return
	}

	text, err := e.buildPrompt(ctx, msg, sender, channel)
	if err != nil {
		e.logger.Error("prompt build failed", "agent", agent.AgentName, "error", err)
		return
	}

	typing(true, "")
	pctx, cancel := context.WithTimeout(ctx, e.opts.PromptTimeout)
	resp, err := client.Prompt(pctx, sessionID, text)
	cancel()
	if err != nil {
		e.invalidateSession(agent.ID)
		e.logger.Warn("prompt dispatch failed", "agent", agent.AgentName, "error", err)
		typing(false, "invocation failed")
		return
	}
	typing(false, "")

	reply := opencode.ExtractText(resp)
	if reply == "" {
		e.logger.Info("agent returned no text", "agent", agent.AgentName)
		return
	}

	e.postReply(ctx, agent, channel, reply, depth)
}

// invocationSession returns the agent's dedicated invocation session,
// creating one when the cached id is absent or gone. Prompting the agent's
// interactive TUI session hangs when it is mid-turn, so the engine never
// reuses provider_session_id here.
func (e *Engine) invocationSession(ctx context.Context, client RuntimeClient, agent *store.Agent) (string, error) {
	lock := e.agentLock(agent.ID)
	lock.Lock()
	defer lock.Unlock()

	e.mu.Lock()
	cached := e.sessions[agent.ID]
	e.mu.Unlock()

	if cached != "" {
		ok, err := client.HasSession(ctx, cached)
		if err == nil && ok {
			return cached, nil
		}
	}

	sess, err := client.CreateSession(ctx, "talkto-invoke-"+agent.AgentName)
	if err != nil {
		return "", fmt.Errorf("create invocation session: %w", err)
	}
	e.mu.Lock()
	e.sessions[agent.ID] = sess.ID
	e.mu.Unlock()
	return sess.ID, nil
}

func (e *Engine) invalidateSession(agentID string) {
	e.mu.Lock()
	delete(e.sessions, agentID)
	e.mu.Unlock()
}

// buildPrompt renders the DM or mention prompt for the triggering message.
func (e *Engine) buildPrompt(ctx context.Context, msg *store.Message, sender *store.User, channel *store.Channel) (string, error) {
	senderName := sender.DisplayName
	if senderName == "" {
		senderName = sender.Name
	}

	if channel.Type == "dm" {
		return e.prompts.DMPrompt(map[string]string{
			"sender_name": senderName,
			"channel":     channel.Name,
			"content":     msg.Content,
		})
	}

	history, err := e.channelHistory(ctx, channel.ID, msg.ID)
	if err != nil {
		return "", err
	}
	return e.prompts.MentionPrompt(map[string]string{
		"sender_name": senderName,
		"channel":     channel.Name,
		"content":     msg.Content,
		"history":     history,
	})
}

// channelHistory formats the last messages before the trigger as
// "<sender>: <content>" lines, oldest first.
func (e *Engine) channelHistory(ctx context.Context, channelID, beforeID string) (string, error) {
	msgs, err := e.store.ListMessages(ctx, channelID, beforeID, historyDepth)
	if err != nil {
		return "", err
	}
	var lines []string
	for _, m := range msgs {
		name := m.SenderName
		if name == "" {
			name = m.SenderID
		}
		lines = append(lines, name+": "+m.Content)
	}
	return strings.Join(lines, "\n"), nil
}

// postReply stores the agent's answer, broadcasts it, and feeds it back
// through HandleMessage so agent-to-agent mentions can chain (capped).
func (e *Engine) postReply(ctx context.Context, agent *store.Agent, channel *store.Channel, content string, depth int) {
	reply := &store.Message{
		ID:        uuid.NewString(),
		ChannelID: channel.ID,
		SenderID:  agent.ID,
		Content:   content,
		Mentions:  ExtractMentions(content),
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.CreateMessage(ctx, reply); err != nil {
		e.logger.Error("store agent reply", "agent", agent.AgentName, "error", err)
		return
	}
	reply.SenderName = agent.AgentName

	e.bus.Broadcast(protocol.Envelope{
		Type: protocol.EventNewMessage,
		Data: reply,
	}, channel.WorkspaceID, channel.ID)

	agentUser, err := e.store.GetUser(ctx, agent.ID)
	if err != nil || agentUser == nil {
		return
	}
	e.HandleMessage(ctx, reply, agentUser, channel, depth+1)
}

// ExtractMentions pulls @name tokens out of message content.
func ExtractMentions(content string) []string {
	var out []string
	seen := make(map[string]bool)
	fields := strings.Fields(content)
	for _, f := range fields {
		if !strings.HasPrefix(f, "@") || len(f) < 2 {
			continue
		}
		name := strings.TrimRight(f[1:], ".,!?:;)")
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}
