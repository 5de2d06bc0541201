package invoke

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/talkto-ai/talkto/internal/store"
)

// ErrNoRuntime is returned when discovery finds no server session matching
// the agent's project path.
var ErrNoRuntime = errors.New("no runtime session found")

// match ranks discovered sessions: exact project-path match beats a session
// rooted in a parent directory, which beats one rooted in a child.
const (
	matchNone = iota
	matchChild
	matchParent
	matchExact
)

func rankMatch(sessionDir, projectPath string) int {
	dir := strings.TrimRight(sessionDir, "/")
	path := strings.TrimRight(projectPath, "/")
	switch {
	case dir == "" || path == "":
		return matchNone
	case dir == path:
		return matchExact
	case strings.HasPrefix(path+"/", dir+"/"):
		return matchParent
	case strings.HasPrefix(dir+"/", path+"/"):
		return matchChild
	default:
		return matchNone
	}
}

// Discover scans the well-known local runtime ports for a session whose
// working directory matches the agent's project path, and persists the
// discovered credentials on the agent row.
func (e *Engine) Discover(ctx context.Context, agent *store.Agent) error {
	if agent.ProjectPath == "" {
		return ErrNoRuntime
	}

	bestRank := matchNone
	var bestURL, bestSession string

	for _, port := range e.opts.DiscoverPorts {
		url := fmt.Sprintf("http://localhost:%d", port)
		client := e.newClient(url)
		if err := client.Health(ctx, e.opts.HealthTimeout); err != nil {
			continue
		}
		sessions, err := client.ListSessions(ctx)
		if err != nil {
			continue
		}
		for _, s := range sessions {
			if s.ParentID != "" {
				continue // subagent sessions never identify the runtime
			}
			if r := rankMatch(s.Directory, agent.ProjectPath); r > bestRank {
				bestRank = r
				bestURL = client.BaseURL()
				bestSession = s.ID
			}
		}
		if bestRank == matchExact {
			break
		}
	}

	if bestRank == matchNone {
		return ErrNoRuntime
	}

	if err := e.store.SetAgentCredentials(ctx, agent.ID, bestURL, bestSession); err != nil {
		return fmt.Errorf("persist discovered credentials: %w", err)
	}
	agent.ServerURL = bestURL
	agent.ProviderSessionID = bestSession
	e.logger.Info("auto-discovered agent runtime",
		"agent", agent.AgentName, "server", bestURL, "session", bestSession)
	return nil
}
