package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"
)

// SessionNotifier pushes notifications for a watch to its client.
type SessionNotifier interface {
	Notify(ctx context.Context, watchID string, payload map[string]any) error
}

// MCPNotifier implements SessionNotifier with MCP server notifications.
type MCPNotifier struct {
	mcpServer *server.MCPServer
	watches   *WatchRegistry
}

// NewMCPNotifier creates a notifier that pushes to the watch's session.
func NewMCPNotifier(mcpServer *server.MCPServer, watches *WatchRegistry) *MCPNotifier {
	return &MCPNotifier{mcpServer: mcpServer, watches: watches}
}

// Notify sends payload to the session of watchID.
// Best-effort: returns nil if the watch or its session is gone.
func (n *MCPNotifier) Notify(_ context.Context, watchID string, payload map[string]any) error {
	sessionID, ok := n.watches.SessionFor(watchID)
	if !ok {
		return nil
	}
	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		n.watches.RemoveSession(sessionID)
		return nil
	}
	return err
}
