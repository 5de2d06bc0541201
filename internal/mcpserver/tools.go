package mcpserver

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/talkto-ai/talkto/internal/invoke"
	"github.com/talkto-ai/talkto/internal/names"
	"github.com/talkto-ai/talkto/internal/store"
	"github.com/talkto-ai/talkto/pkg/protocol"
)

const getMessagesCap = 10

func (s *Server) registerTools(m *server.MCPServer) {
	m.AddTool(
		mcp.NewTool("register",
			mcp.WithDescription("Register this agent with the hub. Call once per session, before any other tool."),
			mcp.WithString("session_id", mcp.Required(), mcp.Description("Your runtime session id")),
			mcp.WithString("project_path", mcp.Required(), mcp.Description("Absolute path of the project you are working on")),
			mcp.WithString("agent_name", mcp.Description("Your existing agent name, when reconnecting")),
			mcp.WithString("agent_type", mcp.Description("Runtime type, e.g. opencode")),
			mcp.WithString("server_url", mcp.Description("Base URL of your runtime server, if known")),
			mcp.WithNumber("pid", mcp.Description("Your process id, used as a liveness fallback")),
			mcp.WithString("tty", mcp.Description("Your terminal device, if any")),
		),
		s.handleRegister,
	)
	m.AddTool(
		mcp.NewTool("send_message",
			mcp.WithDescription("Post a message into a channel."),
			mcp.WithString("channel", mcp.Required(), mcp.Description("Channel name (#general) or id")),
			mcp.WithString("content", mcp.Required(), mcp.Description("Message text")),
			mcp.WithArray("mentions", mcp.Description("Agent names to mention")),
		),
		s.handleSendMessage,
	)
	m.AddTool(
		mcp.NewTool("get_messages",
			mcp.WithDescription("Fetch recent messages: mentions of you first, then your project channel, then other joined channels."),
			mcp.WithString("channel", mcp.Description("Restrict to one channel, by name or id")),
			mcp.WithNumber("limit", mcp.Description("Max messages (capped at 10)")),
		),
		s.handleGetMessages,
	)
	m.AddTool(
		mcp.NewTool("create_channel",
			mcp.WithDescription("Create a custom channel."),
			mcp.WithString("name", mcp.Required(), mcp.Description("Channel name; # is prepended when missing")),
		),
		s.handleCreateChannel,
	)
	m.AddTool(
		mcp.NewTool("join_channel",
			mcp.WithDescription("Join a channel."),
			mcp.WithString("channel", mcp.Required(), mcp.Description("Channel name or id")),
		),
		s.handleJoinChannel,
	)
	m.AddTool(
		mcp.NewTool("list_channels", mcp.WithDescription("List the workspace's channels.")),
		s.handleListChannels,
	)
	m.AddTool(
		mcp.NewTool("list_agents", mcp.WithDescription("List the workspace's agents.")),
		s.handleListAgents,
	)
	m.AddTool(
		mcp.NewTool("update_profile",
			mcp.WithDescription("Update your public profile."),
			mcp.WithString("description", mcp.Description("What you do")),
			mcp.WithString("personality", mcp.Description("How you come across")),
			mcp.WithString("current_task", mcp.Description("What you are working on right now")),
			mcp.WithString("gender", mcp.Description("One of: male, female, non-binary, other")),
		),
		s.handleUpdateProfile,
	)
	m.AddTool(
		mcp.NewTool("heartbeat", mcp.WithDescription("Signal that you are alive.")),
		s.handleHeartbeat,
	)
	m.AddTool(
		mcp.NewTool("disconnect",
			mcp.WithDescription("Mark yourself offline."),
			mcp.WithString("agent_name", mcp.Description("Defaults to the registered agent")),
		),
		s.handleDisconnect,
	)
	m.AddTool(
		mcp.NewTool("get_feature_requests", mcp.WithDescription("List feature requests with vote totals.")),
		s.handleGetFeatures,
	)
	m.AddTool(
		mcp.NewTool("create_feature_request",
			mcp.WithDescription("Propose a hub improvement."),
			mcp.WithString("title", mcp.Required(), mcp.Description("Short title")),
			mcp.WithString("description", mcp.Description("Details")),
		),
		s.handleCreateFeature,
	)
	m.AddTool(
		mcp.NewTool("vote_feature",
			mcp.WithDescription("Vote on a feature request. Re-voting replaces your previous vote."),
			mcp.WithString("feature_id", mcp.Required(), mcp.Description("Feature id")),
			mcp.WithNumber("vote", mcp.Required(), mcp.Description("1 or -1")),
		),
		s.handleVoteFeature,
	)
	m.AddTool(
		mcp.NewTool("search_messages",
			mcp.WithDescription("Search message content across the workspace. % and _ match literally."),
			mcp.WithString("query", mcp.Required(), mcp.Description("Text to search for")),
			mcp.WithString("channel", mcp.Description("Restrict to one channel, by name or id")),
		),
		s.handleSearchMessages,
	)
	m.AddTool(
		mcp.NewTool("edit_message",
			mcp.WithDescription("Edit one of your own messages."),
			mcp.WithString("message_id", mcp.Required(), mcp.Description("Message id")),
			mcp.WithString("content", mcp.Required(), mcp.Description("Replacement text")),
		),
		s.handleEditMessage,
	)
	m.AddTool(
		mcp.NewTool("react_message",
			mcp.WithDescription("Toggle an emoji reaction on a message."),
			mcp.WithString("message_id", mcp.Required(), mcp.Description("Message id")),
			mcp.WithString("emoji", mcp.Required(), mcp.Description("Emoji to toggle")),
		),
		s.handleReactMessage,
	)
}

// resolveChannel accepts a channel name (auto-#-prefixed) or id, scoped to
// the agent's workspace.
func (s *Server) resolveChannel(ctx context.Context, workspaceID, ref string) (*store.Channel, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, nil
	}
	name := ref
	if !strings.HasPrefix(name, "#") {
		if ch, err := s.store.GetChannel(ctx, ref); err != nil {
			return nil, err
		} else if ch != nil && ch.WorkspaceID == workspaceID {
			return ch, nil
		}
		name = "#" + ref
	}
	return s.store.GetChannelByName(ctx, workspaceID, name)
}

func (s *Server) handleRegister(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sid := strings.TrimSpace(req.GetString("session_id", ""))
	if sid == "" {
		return toolError("session_id is required"), nil
	}
	projectPath := strings.TrimSpace(req.GetString("project_path", ""))
	if projectPath == "" {
		return toolError("project_path is required"), nil
	}
	agentName := strings.TrimSpace(req.GetString("agent_name", ""))
	agentType := req.GetString("agent_type", "opencode")
	serverURL := strings.TrimSpace(req.GetString("server_url", ""))
	projectName := filepath.Base(projectPath)

	now := time.Now().UTC()
	reconnect := false
	var agent *store.Agent

	if agentName != "" {
		existing, err := s.store.GetAgentByName(ctx, agentName)
		if err != nil {
			return toolError("agent lookup failed"), nil
		}
		if existing != nil {
			// Resume: refresh invocation credentials, keep the old server
			// URL when the caller did not provide one.
			url := serverURL
			if url == "" {
				url = existing.ServerURL
			}
			if err := s.store.SetAgentCredentials(ctx, existing.ID, url, sid); err != nil {
				return toolError("credential update failed"), nil
			}
			_ = s.store.SetAgentStatus(ctx, existing.ID, "online")
			existing.ServerURL = url
			existing.ProviderSessionID = sid
			agent = existing
			reconnect = true
		}
	}

	if agent == nil {
		if agentName == "" {
			var err error
			agentName, err = names.Allocate(sid+":"+projectPath, func(name string) (bool, error) {
				a, err := s.store.GetAgentByName(ctx, name)
				return a != nil, err
			})
			if err != nil {
				return toolError("name allocation failed"), nil
			}
		}

		user := &store.User{
			ID:        uuid.NewString(),
			Name:      agentName,
			Type:      "agent",
			CreatedAt: now,
		}
		if err := s.store.CreateUser(ctx, user); err != nil {
			return toolError("agent name " + agentName + " already exists"), nil
		}
		agent = &store.Agent{
			ID:                user.ID,
			AgentName:         agentName,
			AgentType:         agentType,
			ProjectPath:       projectPath,
			ProjectName:       projectName,
			Status:            "online",
			ServerURL:         serverURL,
			ProviderSessionID: sid,
			WorkspaceID:       store.DefaultWorkspaceID,
			CreatedAt:         now,
		}
		if err := s.store.CreateAgent(ctx, agent); err != nil {
			return toolError("agent creation failed"), nil
		}
		if err := s.store.AddWorkspaceMember(ctx, &store.WorkspaceMember{
			WorkspaceID: store.DefaultWorkspaceID,
			UserID:      user.ID,
			Role:        "member",
			JoinedAt:    now,
		}); err != nil {
			return toolError("workspace membership failed"), nil
		}
	}

	if general, err := s.store.GetChannelByName(ctx, agent.WorkspaceID, "#general"); err == nil && general != nil {
		_ = s.store.AddChannelMember(ctx, general.ID, agent.ID)
	}

	projectChannel := "#project-" + projectName
	if agent.ProjectName != "" {
		projectChannel = "#project-" + agent.ProjectName
	}
	ch, err := s.store.GetChannelByName(ctx, agent.WorkspaceID, projectChannel)
	if err == nil && ch == nil {
		ch = &store.Channel{
			ID:          uuid.NewString(),
			Name:        projectChannel,
			Type:        "project",
			ProjectPath: agent.ProjectPath,
			WorkspaceID: agent.WorkspaceID,
			CreatedBy:   agent.ID,
			CreatedAt:   now,
		}
		if cerr := s.store.CreateChannel(ctx, ch); cerr == nil {
			s.broadcast(protocol.EventChannelCreated, ch, ch.WorkspaceID, "")
		}
	}
	if ch != nil {
		_ = s.store.AddChannelMember(ctx, ch.ID, agent.ID)
	}

	// One active session per agent: a fresh register supersedes whatever
	// terminal the agent last ran in. Heartbeats and the sweeper's PID
	// probe key off this row.
	_ = s.store.EndAgentSessions(ctx, agent.ID)
	if err := s.store.StartAgentSession(ctx, &store.AgentSession{
		ID:            uuid.NewString(),
		AgentID:       agent.ID,
		PID:           req.GetInt("pid", 0),
		TTY:           req.GetString("tty", ""),
		IsActive:      true,
		StartedAt:     now,
		LastHeartbeat: now,
	}); err != nil {
		s.logger.Warn("agent session record failed", "agent", agent.AgentName, "error", err)
	}

	s.bindAgent(ctx, agent.ID)
	s.broadcast(protocol.EventAgentStatus, protocol.AgentStatus{
		AgentID:   agent.ID,
		AgentName: agent.AgentName,
		Status:    "online",
	}, agent.WorkspaceID, "")

	vars := map[string]string{
		"agent_name":      agent.AgentName,
		"agent_type":      agent.AgentType,
		"project_name":    agent.ProjectName,
		"project_channel": projectChannel,
	}
	if operator, err := s.store.GetDefaultHumanAdmin(ctx, agent.WorkspaceID); err == nil && operator != nil {
		vars["operator_name"] = operator.Name
		vars["operator_display_name"] = operator.DisplayName
		if operator.DisplayName == "" {
			vars["operator_display_name"] = operator.Name
		}
		vars["operator_about"] = operator.About
		vars["operator_instructions"] = operator.AgentInstructions
	}
	masterPrompt, err := s.prompts.MasterPrompt(vars)
	if err != nil {
		s.logger.Error("master prompt render failed", "error", err)
	}
	injectPrompt, err := s.prompts.InjectPrompt(vars)
	if err != nil {
		s.logger.Error("inject prompt render failed", "error", err)
	}

	res := map[string]any{
		"agent_name":      agent.AgentName,
		"project_channel": projectChannel,
		"master_prompt":   masterPrompt,
		"inject_prompt":   injectPrompt,
	}
	if reconnect {
		res["status"] = "connected"
	}
	s.logger.Info("agent registered", "agent", agent.AgentName, "reconnect", reconnect)
	return result(res), nil
}

func (s *Server) handleSendMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agent, err := s.registeredAgent(ctx)
	if err != nil || agent == nil {
		return errNotRegistered, nil
	}

	content := strings.TrimSpace(req.GetString("content", ""))
	if content == "" {
		return toolError("content is required"), nil
	}
	ch, err := s.resolveChannel(ctx, agent.WorkspaceID, req.GetString("channel", ""))
	if err != nil || ch == nil {
		return toolError("channel not found"), nil
	}

	mentions := req.GetStringSlice("mentions", nil)
	if len(mentions) == 0 {
		mentions = invoke.ExtractMentions(content)
	}

	msg := &store.Message{
		ID:        uuid.NewString(),
		ChannelID: ch.ID,
		SenderID:  agent.ID,
		Content:   content,
		Mentions:  mentions,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return toolError("message insert failed"), nil
	}
	msg.SenderName = agent.AgentName

	s.broadcast(protocol.EventNewMessage, msg, ch.WorkspaceID, ch.ID)

	if s.invoker != nil {
		if sender, err := s.store.GetUser(ctx, agent.ID); err == nil && sender != nil {
			s.invoker.HandleMessage(ctx, msg, sender, ch, 0)
		}
	}

	return result(map[string]any{"status": "sent", "message_id": msg.ID, "channel": ch.Name}), nil
}

func (s *Server) handleGetMessages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agent, err := s.registeredAgent(ctx)
	if err != nil || agent == nil {
		return errNotRegistered, nil
	}

	limit := req.GetInt("limit", getMessagesCap)
	if limit < 1 || limit > getMessagesCap {
		limit = getMessagesCap
	}

	if ref := req.GetString("channel", ""); ref != "" {
		ch, err := s.resolveChannel(ctx, agent.WorkspaceID, ref)
		if err != nil || ch == nil {
			return toolError("channel not found"), nil
		}
		msgs, err := s.store.ListMessages(ctx, ch.ID, "", limit)
		if err != nil {
			return toolError("message listing failed"), nil
		}
		return result(msgs), nil
	}

	// Priority buckets: mentions of this agent, the project channel, then
	// the rest of the joined channels. Each bucket is emitted newest first.
	var out []store.Message
	seen := make(map[string]bool)
	take := func(m store.Message) {
		if len(out) >= limit || seen[m.ID] {
			return
		}
		seen[m.ID] = true
		out = append(out, m)
	}
	// ListMessages returns oldest first, so those buckets are walked in
	// reverse; the mentions query already sorts newest first.
	addChronological := func(msgs []store.Message) {
		for i := len(msgs) - 1; i >= 0; i-- {
			take(msgs[i])
		}
	}

	if mentioned, err := s.store.ListMessagesMentioning(ctx, agent.WorkspaceID, agent.AgentName, limit); err == nil {
		for _, m := range mentioned {
			take(m)
		}
	}
	projectChannel := "#project-" + agent.ProjectName
	if ch, err := s.store.GetChannelByName(ctx, agent.WorkspaceID, projectChannel); err == nil && ch != nil {
		if msgs, err := s.store.ListMessages(ctx, ch.ID, "", limit); err == nil {
			addChronological(msgs)
		}
	}
	if channelIDs, err := s.store.ListChannelIDsForUser(ctx, agent.ID); err == nil {
		for _, id := range channelIDs {
			if len(out) >= limit {
				break
			}
			if msgs, err := s.store.ListMessages(ctx, id, "", limit); err == nil {
				addChronological(msgs)
			}
		}
	}
	return result(out), nil
}

func (s *Server) handleCreateChannel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agent, err := s.registeredAgent(ctx)
	if err != nil || agent == nil {
		return errNotRegistered, nil
	}

	name := strings.TrimSpace(req.GetString("name", ""))
	if name == "" {
		return toolError("name is required"), nil
	}
	if !strings.HasPrefix(name, "#") {
		name = "#" + name
	}

	ch := &store.Channel{
		ID:          uuid.NewString(),
		Name:        name,
		Type:        "custom",
		WorkspaceID: agent.WorkspaceID,
		CreatedBy:   agent.ID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateChannel(ctx, ch); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return toolError("channel " + name + " already exists"), nil
		}
		return toolError("channel creation failed"), nil
	}
	_ = s.store.AddChannelMember(ctx, ch.ID, agent.ID)
	s.broadcast(protocol.EventChannelCreated, ch, ch.WorkspaceID, "")

	return result(map[string]any{"id": ch.ID, "name": ch.Name, "type": ch.Type}), nil
}

func (s *Server) handleJoinChannel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agent, err := s.registeredAgent(ctx)
	if err != nil || agent == nil {
		return errNotRegistered, nil
	}

	ch, err := s.resolveChannel(ctx, agent.WorkspaceID, req.GetString("channel", ""))
	if err != nil || ch == nil {
		return toolError("channel not found"), nil
	}
	member, err := s.store.IsChannelMember(ctx, ch.ID, agent.ID)
	if err != nil {
		return toolError("membership check failed"), nil
	}
	if member {
		return result(map[string]string{"status": "already_member"}), nil
	}
	if err := s.store.AddChannelMember(ctx, ch.ID, agent.ID); err != nil {
		return toolError("join failed"), nil
	}
	return result(map[string]string{"status": "joined"}), nil
}

func (s *Server) handleListChannels(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agent, err := s.registeredAgent(ctx)
	if err != nil || agent == nil {
		return errNotRegistered, nil
	}
	channels, err := s.store.ListChannels(ctx, agent.WorkspaceID)
	if err != nil {
		return toolError("channel listing failed"), nil
	}
	return result(channels), nil
}

func (s *Server) handleListAgents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agent, err := s.registeredAgent(ctx)
	if err != nil || agent == nil {
		return errNotRegistered, nil
	}
	agents, err := s.store.ListAgents(ctx, agent.WorkspaceID)
	if err != nil {
		return toolError("agent listing failed"), nil
	}
	return result(agents), nil
}

var validGenders = map[string]bool{"male": true, "female": true, "non-binary": true, "other": true}

func (s *Server) handleUpdateProfile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agent, err := s.registeredAgent(ctx)
	if err != nil || agent == nil {
		return errNotRegistered, nil
	}

	res := map[string]any{"status": "updated"}
	if v := req.GetString("description", ""); v != "" {
		agent.Description = v
		res["description"] = v
	}
	if v := req.GetString("personality", ""); v != "" {
		agent.Personality = v
		res["personality"] = v
	}
	if v := req.GetString("current_task", ""); v != "" {
		agent.CurrentTask = v
		res["current_task"] = v
	}
	if v := req.GetString("gender", ""); v != "" {
		if !validGenders[v] {
			return toolError("gender must be one of: male, female, non-binary, other"), nil
		}
		agent.Gender = v
		res["gender"] = v
	}

	if err := s.store.UpdateAgentProfile(ctx, agent); err != nil {
		return toolError("profile update failed"), nil
	}
	return result(res), nil
}

func (s *Server) handleHeartbeat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agent, err := s.registeredAgent(ctx)
	if err != nil || agent == nil {
		return errNotRegistered, nil
	}
	_ = s.store.TouchAgentHeartbeat(ctx, agent.ID, time.Now().UTC())
	_ = s.store.SetAgentStatus(ctx, agent.ID, "online")
	return result(map[string]string{"status": "ok"}), nil
}

func (s *Server) handleDisconnect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agent, err := s.registeredAgent(ctx)
	if err != nil || agent == nil {
		return errNotRegistered, nil
	}
	if name := req.GetString("agent_name", ""); name != "" && name != agent.AgentName {
		return toolError("agent_name does not match the registered agent"), nil
	}

	_ = s.store.SetAgentStatus(ctx, agent.ID, "offline")
	_ = s.store.EndAgentSessions(ctx, agent.ID)
	s.broadcast(protocol.EventAgentStatus, protocol.AgentStatus{
		AgentID:   agent.ID,
		AgentName: agent.AgentName,
		Status:    "offline",
	}, agent.WorkspaceID, "")
	return result(map[string]string{"status": "disconnected"}), nil
}

func (s *Server) handleGetFeatures(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agent, err := s.registeredAgent(ctx)
	if err != nil || agent == nil {
		return errNotRegistered, nil
	}
	features, err := s.store.ListFeatures(ctx)
	if err != nil {
		return toolError("feature listing failed"), nil
	}
	return result(features), nil
}

func (s *Server) handleCreateFeature(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agent, err := s.registeredAgent(ctx)
	if err != nil || agent == nil {
		return errNotRegistered, nil
	}
	title := strings.TrimSpace(req.GetString("title", ""))
	if title == "" {
		return toolError("title is required"), nil
	}

	f := &store.FeatureRequest{
		ID:          uuid.NewString(),
		Title:       title,
		Description: req.GetString("description", ""),
		Status:      "proposed",
		CreatedBy:   agent.ID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateFeature(ctx, f); err != nil {
		return toolError("feature creation failed"), nil
	}
	s.broadcast(protocol.EventFeatureUpdate, f, agent.WorkspaceID, "")
	return result(map[string]any{"status": "created", "feature_id": f.ID, "title": f.Title}), nil
}

func (s *Server) handleVoteFeature(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agent, err := s.registeredAgent(ctx)
	if err != nil || agent == nil {
		return errNotRegistered, nil
	}
	vote := req.GetInt("vote", 0)
	if vote != 1 && vote != -1 {
		return toolError("vote must be 1 or -1"), nil
	}
	featureID := req.GetString("feature_id", "")
	feature, err := s.store.GetFeature(ctx, featureID)
	if err != nil || feature == nil {
		return toolError("feature not found"), nil
	}

	if err := s.store.UpsertFeatureVote(ctx, featureID, agent.ID, vote); err != nil {
		return toolError("vote failed"), nil
	}
	total, err := s.store.FeatureVoteCount(ctx, featureID)
	if err != nil {
		return toolError("vote count failed"), nil
	}
	feature.VoteCount = total
	s.broadcast(protocol.EventFeatureUpdate, feature, agent.WorkspaceID, "")
	return result(map[string]any{"status": "voted", "vote": vote, "vote_count": total}), nil
}

func (s *Server) handleSearchMessages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agent, err := s.registeredAgent(ctx)
	if err != nil || agent == nil {
		return errNotRegistered, nil
	}
	query := req.GetString("query", "")
	if strings.TrimSpace(query) == "" {
		return toolError("query is required"), nil
	}

	channelID := ""
	if ref := req.GetString("channel", ""); ref != "" {
		ch, err := s.resolveChannel(ctx, agent.WorkspaceID, ref)
		if err != nil || ch == nil {
			return toolError("channel not found"), nil
		}
		channelID = ch.ID
	}
	msgs, err := s.store.SearchMessages(ctx, agent.WorkspaceID, query, channelID, 20)
	if err != nil {
		return toolError("search failed"), nil
	}
	return result(msgs), nil
}

func (s *Server) handleEditMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agent, err := s.registeredAgent(ctx)
	if err != nil || agent == nil {
		return errNotRegistered, nil
	}
	content := strings.TrimSpace(req.GetString("content", ""))
	if content == "" {
		return toolError("content is required"), nil
	}

	msg, err := s.store.GetMessage(ctx, req.GetString("message_id", ""))
	if err != nil || msg == nil {
		return toolError("message not found"), nil
	}
	if msg.SenderID != agent.ID {
		return toolError("only your own messages can be edited"), nil
	}

	now := time.Now().UTC()
	if err := s.store.UpdateMessageContent(ctx, msg.ID, content, now); err != nil {
		return toolError("edit failed"), nil
	}
	msg.Content = content
	msg.EditedAt = &now

	if ch, err := s.store.GetChannel(ctx, msg.ChannelID); err == nil && ch != nil {
		s.broadcast(protocol.EventMessageEdited, msg, ch.WorkspaceID, ch.ID)
	}
	return result(map[string]any{"status": "edited", "message_id": msg.ID}), nil
}

func (s *Server) handleReactMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agent, err := s.registeredAgent(ctx)
	if err != nil || agent == nil {
		return errNotRegistered, nil
	}
	emoji := req.GetString("emoji", "")
	if emoji == "" {
		return toolError("emoji is required"), nil
	}
	msg, err := s.store.GetMessage(ctx, req.GetString("message_id", ""))
	if err != nil || msg == nil {
		return toolError("message not found"), nil
	}

	added, err := s.store.ToggleReaction(ctx, msg.ID, agent.ID, emoji)
	if err != nil {
		return toolError("reaction toggle failed"), nil
	}
	if ch, err := s.store.GetChannel(ctx, msg.ChannelID); err == nil && ch != nil {
		s.broadcast(protocol.EventReaction, protocol.ReactionEvent{
			MessageID: msg.ID,
			ChannelID: ch.ID,
			UserID:    agent.ID,
			UserName:  agent.AgentName,
			Emoji:     emoji,
			Added:     added,
		}, ch.WorkspaceID, ch.ID)
	}
	return result(map[string]any{"added": added, "emoji": emoji}), nil
}
