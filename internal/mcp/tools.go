package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/neurogenx/neurogenx/internal/champion"
	"github.com/neurogenx/neurogenx/internal/model"
)

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("neurogenx_start_run",
			mcplib.WithDescription("Start a model search over a tabular dataset with a binary target column. Returns the run id to poll."),
			mcplib.WithString("dataset_id", mcplib.Description("Dataset identifier; resolved to <data_dir>/<dataset_id>.csv"), mcplib.Required()),
			mcplib.WithString("target", mcplib.Description("Name of the binary target column"), mcplib.Required()),
			mcplib.WithNumber("run_budget", mcplib.Description("Number of candidate models to evaluate")),
		),
		s.handleStartRun,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("neurogenx_get_status",
			mcplib.WithDescription("Get the status, progress, log, and results of a run"),
			mcplib.WithString("run_id", mcplib.Description("Run id returned by neurogenx_start_run"), mcplib.Required()),
		),
		s.handleGetStatus,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("neurogenx_champion",
			mcplib.WithDescription("Get the manifest of the currently deployed champion model"),
		),
		s.handleChampion,
	)
}

func (s *Server) handleStartRun(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	req := model.RunRequest{
		DatasetID:   request.GetString("dataset_id", ""),
		Target:      request.GetString("target", ""),
		TrialBudget: request.GetInt("run_budget", s.defaultBudget),
	}
	id, err := s.runs.StartRun(ctx, req)
	if err != nil {
		return errorResult(fmt.Sprintf("start run failed: %v", err)), nil
	}
	s.logger.Info("mcp: run started", "run_id", id, "dataset_id", req.DatasetID)
	return jsonResult(model.CreateRunResponse{RunID: id, Status: model.RunStatusPending}), nil
}

func (s *Server) handleGetStatus(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	raw := request.GetString("run_id", "")
	id, err := uuid.Parse(raw)
	if err != nil {
		return errorResult(fmt.Sprintf("invalid run_id: %q", raw)), nil
	}
	rec, err := s.runs.GetStatus(ctx, id)
	if errors.Is(err, model.ErrRunNotFound) {
		return errorResult(fmt.Sprintf("run %s not found", id)), nil
	}
	if err != nil {
		return errorResult(fmt.Sprintf("get status failed: %v", err)), nil
	}
	return jsonResult(rec), nil
}

func (s *Server) handleChampion(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if s.champions == nil {
		return errorResult("no champion registry configured"), nil
	}
	m, err := s.champions.CurrentChampion(ctx)
	if errors.Is(err, champion.ErrNoChampion) {
		return errorResult("no champion has been deployed yet"), nil
	}
	if err != nil {
		return errorResult(fmt.Sprintf("read champion failed: %v", err)), nil
	}
	return jsonResult(m), nil
}
