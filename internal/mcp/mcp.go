// Package mcp implements the Model Context Protocol server for Giron.
//
// The MCP server exposes discussion orchestration through MCP tools and
// resources, so MCP-compatible AI agents can start, steer, and observe
// multi-agent discussions without speaking the HTTP API.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/giron-ai/giron/internal/service/discussions"
	"github.com/giron-ai/giron/internal/storage"
)

// callerID identifies MCP-originated requests in turn attribution.
const callerID = "mcp"

// Server wraps the MCP server with Giron's service layer.
type Server struct {
	mcpServer *mcpserver.MCPServer
	db        *storage.DB
	svc       *discussions.Service
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all resources and tools.
func New(db *storage.DB, svc *discussions.Service, logger *slog.Logger) *Server {
	s := &Server{
		db:     db,
		svc:    svc,
		logger: logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"giron",
		"0.1.0",
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerResources() {
	// giron://discussions/recent — newest discussions across all rooms.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"giron://discussions/recent",
			"Recent Discussions",
			mcplib.WithResourceDescription("The newest discussions across all rooms, with state and cursor"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleDiscussionsRecent,
	)

	// giron://rooms/{id}/messages — recent messages in a room.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			"giron://rooms/{id}/messages",
			"Room Messages",
			mcplib.WithTemplateDescription("Recent messages in a specific room, newest last"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleRoomMessages,
	)
}

func (s *Server) handleDiscussionsRecent(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	list, err := s.db.ListRecentDiscussions(ctx, 20)
	if err != nil {
		return nil, fmt.Errorf("mcp: recent discussions: %w", err)
	}

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal discussions: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "giron://discussions/recent",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleRoomMessages(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	roomID, err := roomIDFromURI(uri)
	if err != nil {
		return nil, err
	}

	msgs, err := s.db.ListRecentMessages(ctx, roomID, 50)
	if err != nil {
		return nil, fmt.Errorf("mcp: room messages: %w", err)
	}

	data, err := json.MarshalIndent(map[string]any{
		"room_id":  roomID,
		"messages": msgs,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal messages: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// roomIDFromURI extracts the room UUID from giron://rooms/{id}/messages.
func roomIDFromURI(uri string) (uuid.UUID, error) {
	rest, ok := strings.CutPrefix(uri, "giron://rooms/")
	if !ok {
		return uuid.Nil, fmt.Errorf("mcp: invalid room messages URI: %s", uri)
	}
	idStr, ok := strings.CutSuffix(rest, "/messages")
	if !ok {
		return uuid.Nil, fmt.Errorf("mcp: invalid room messages URI: %s", uri)
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("mcp: invalid room id in URI %s: %w", uri, err)
	}
	return id, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

func jsonResult(v any) *mcplib.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal result: %v", err))
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}
}
