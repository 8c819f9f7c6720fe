package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/policy-router/internal/core/domain"
	"github.com/kirillkom/policy-router/internal/core/ports"
)

const (
	toolPolicyAnswer = "policy_answer"
	toolGetPlan      = "get_plan"
)

// Server exposes the answer pipeline and plan audit as MCP tools.
type Server struct {
	answerer ports.PolicyAnswerer
	plans    ports.PlanReader
	mcp      *server.MCPServer
}

func NewServer(answerer ports.PolicyAnswerer, plans ports.PlanReader, version string) *Server {
	s := &Server{
		answerer: answerer,
		plans:    plans,
		mcp:      server.NewMCPServer("policy-router", version, server.WithToolCapabilities(false)),
	}

	s.mcp.AddTool(mcp.NewTool(toolPolicyAnswer,
		mcp.WithDescription("Answer a government policy question with cited evidence from GOs, legal texts, judgments, data and schemes."),
		mcp.WithString("query", mcp.Required(), mcp.Description("The policy question.")),
		mcp.WithString("jurisdiction", mcp.Description("Override the detected jurisdiction.")),
		mcp.WithNumber("max_verticals", mcp.Description("Upper bound on selected verticals; 0 uses the configured default.")),
	), s.handleAnswer)

	s.mcp.AddTool(mcp.NewTool(toolGetPlan,
		mcp.WithDescription("Fetch the recorded execution plan for a previous answer."),
		mcp.WithString("plan_id", mcp.Required(), mcp.Description("Plan id returned with the answer.")),
	), s.handleGetPlan)

	return s
}

// ServeStdio blocks serving MCP over stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func (s *Server) handleAnswer(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	resp, err := s.answerer.Answer(ctx, domain.PolicyRequest{
		Query:        query,
		Jurisdiction: req.GetString("jurisdiction", ""),
		MaxVerticals: req.GetInt("max_verticals", 0),
	})
	if err != nil {
		return mcp.NewToolResultError(toolErrorText(err)), nil
	}
	return jsonResult(resp)
}

func (s *Server) handleGetPlan(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	planID, err := req.RequireString("plan_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	plan, found, err := s.plans.GetPlan(ctx, planID)
	if err != nil {
		return mcp.NewToolResultError(toolErrorText(err)), nil
	}
	if !found {
		return mcp.NewToolResultError(fmt.Sprintf("plan %s not found", planID)), nil
	}
	return jsonResult(plan)
}

func toolErrorText(err error) string {
	if se, ok := domain.AsStageError(err); ok {
		return fmt.Sprintf("%s (stage=%s): %v", se.Reason, se.Stage, se.Err)
	}
	return err.Error()
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal tool result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
