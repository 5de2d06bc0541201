// Package liveness classifies agents as alive or ghost: a ghost's external
// runtime session is gone (or its OS process is dead). The sweep is advisory;
// ghosts still accept register to resurrect.
package liveness

import (
	"context"
	"log/slog"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/talkto-ai/talkto/internal/opencode"
	"github.com/talkto-ai/talkto/internal/store"
)

// SessionLister probes an external runtime server for its session list.
// Satisfied by *opencode.Client via the default factory.
type SessionLister interface {
	ListSessions(ctx context.Context) ([]opencode.Session, error)
}

// Sweeper rebuilds the ghost map on a fixed interval.
type Sweeper struct {
	store    store.Store
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration

	newLister func(serverURL string) SessionLister
	pidAlive  func(pid int) bool

	ghosts atomic.Pointer[map[string]bool]
}

// Options tunes the sweeper.
type Options struct {
	Interval     time.Duration // default 30s
	ProbeTimeout time.Duration // per-server, default 5s
}

func NewSweeper(s store.Store, logger *slog.Logger, opts Options) *Sweeper {
	if opts.Interval == 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.ProbeTimeout == 0 {
		opts.ProbeTimeout = 5 * time.Second
	}
	sw := &Sweeper{
		store:     s,
		logger:    logger.With("component", "liveness"),
		interval:  opts.Interval,
		timeout:   opts.ProbeTimeout,
		newLister: func(u string) SessionLister { return opencode.NewClient(u) },
		pidAlive:  pidAlive,
	}
	empty := map[string]bool{}
	sw.ghosts.Store(&empty)
	return sw
}

// Run sweeps until ctx is cancelled.
func (sw *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	sw.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sw.Sweep(ctx)
		}
	}
}

// IsGhost reports the agent's classification as of the last sweep.
func (sw *Sweeper) IsGhost(agentID string) bool {
	return (*sw.ghosts.Load())[agentID]
}

// Sweep rebuilds the ghost map once. The fresh map replaces the old one
// atomically; readers never observe a partial sweep.
func (sw *Sweeper) Sweep(ctx context.Context) {
	agents, err := sw.allAgents(ctx)
	if err != nil {
		sw.logger.Warn("sweep: list agents", "error", err)
		return
	}

	fresh := make(map[string]bool, len(agents))
	// Session lists are fetched once per server_url per sweep.
	sessionCache := make(map[string][]opencode.Session)
	serverDown := make(map[string]bool)

	for _, a := range agents {
		fresh[a.ID] = sw.classify(ctx, &a, sessionCache, serverDown)
	}
	sw.ghosts.Store(&fresh)
}

func (sw *Sweeper) allAgents(ctx context.Context) ([]store.Agent, error) {
	workspaces, err := sw.store.ListWorkspaces(ctx)
	if err != nil {
		return nil, err
	}
	var out []store.Agent
	for _, ws := range workspaces {
		agents, err := sw.store.ListAgents(ctx, ws.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, agents...)
	}
	return out, nil
}

func (sw *Sweeper) classify(ctx context.Context, a *store.Agent, cache map[string][]opencode.Session, down map[string]bool) bool {
	if a.AgentType == "system" {
		return false
	}

	if a.ServerURL != "" && a.ProviderSessionID != "" {
		if down[a.ServerURL] {
			return true
		}
		sessions, ok := cache[a.ServerURL]
		if !ok {
			pctx, cancel := context.WithTimeout(ctx, sw.timeout)
			var err error
			sessions, err = sw.newLister(a.ServerURL).ListSessions(pctx)
			cancel()
			if err != nil {
				down[a.ServerURL] = true
				return true
			}
			cache[a.ServerURL] = sessions
		}
		for _, s := range sessions {
			if s.ID == a.ProviderSessionID {
				return false
			}
		}
		return true
	}

	sess, err := sw.store.GetActiveAgentSession(ctx, a.ID)
	if err != nil {
		sw.logger.Warn("sweep: active session lookup", "agent", a.AgentName, "error", err)
		return true
	}
	if sess == nil || sess.PID <= 0 {
		return true
	}
	return !sw.pidAlive(sess.PID)
}

// pidAlive probes a process with signal 0.
func pidAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
