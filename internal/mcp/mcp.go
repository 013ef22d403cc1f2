// Package mcp exposes run control over the Model Context Protocol.
//
// The tools mirror the HTTP run endpoints so that MCP-capable agents can
// start a search, poll it, and read the deployed champion.
package mcp

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/neurogenx/neurogenx/internal/champion"
	"github.com/neurogenx/neurogenx/internal/model"
)

// Runs is the slice of the orchestrator the tools use.
type Runs interface {
	StartRun(ctx context.Context, req model.RunRequest) (uuid.UUID, error)
	GetStatus(ctx context.Context, id uuid.UUID) (model.RunRecord, error)
}

// Server wraps the mcp-go server with run control.
type Server struct {
	mcpServer     *mcpserver.MCPServer
	runs          Runs
	champions     champion.Registry
	defaultBudget int
	logger        *slog.Logger
}

// New creates an MCP server with the run tools and the champion resource
// registered. defaultBudget applies when a caller omits run_budget.
func New(runs Runs, champions champion.Registry, defaultBudget int, logger *slog.Logger, version string) *Server {
	s := &Server{
		runs:          runs,
		champions:     champions,
		defaultBudget: defaultBudget,
		logger:        logger,
	}
	s.mcpServer = mcpserver.NewMCPServer(
		"neurogenx",
		version,
		mcpserver.WithResourceCapabilities(false, false),
		mcpserver.WithToolCapabilities(false),
	)
	s.registerTools()
	if champions != nil {
		s.registerResources()
	}
	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"neurogenx://champion/current",
			"Current Champion",
			mcplib.WithResourceDescription("Manifest of the currently deployed champion model"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleChampionResource,
	)
}

func (s *Server) handleChampionResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	m, err := s.champions.CurrentChampion(ctx)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func jsonResult(v any) *mcplib.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult("failed to encode result: " + err.Error())
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
