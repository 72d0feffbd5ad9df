package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rmax-ai/skaler/pkg/client"
)

const promptName = "skaler-aware"

// Server adapts skaler-d to the Model Context Protocol.
type Server struct {
	mcpServer *server.MCPServer
	apiClient *client.Client
}

// NewServer creates a new MCP server instance backed by the daemon at apiURL.
func NewServer(apiURL string, opts ...client.Option) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"skaler",
			"1.0.0",
		),
		apiClient: client.NewClient(apiURL, opts...),
	}
	s.registerResources()
	s.registerTools()
	s.registerPrompts()
	return s
}

// Serve starts the MCP server on stdio.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcpServer)
}

// --- Resources ---

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(
		"skaler://status",
		"Provider Status",
		mcp.WithResourceDescription("Usage, limits and block state of every provider and proxy"),
		mcp.WithMIMEType("application/json"),
	), s.handleReadStatus)

	s.mcpServer.AddResource(mcp.NewResource(
		"skaler://events",
		"Skaler Event Log",
		mcp.WithResourceDescription("Recent dispatch outcomes, newest first"),
		mcp.WithMIMEType("application/json"),
	), s.handleReadEvents)
}

// --- Tools ---

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool(
		"send_request",
		mcp.WithDescription("Send an HTTP request through the first available provider. The upstream status and body are returned as-is."),
		mcp.WithString("url", mcp.Required(), mcp.Description("Upstream URL")),
		mcp.WithString("method", mcp.Description("HTTP method (default GET)")),
		mcp.WithString("headers", mcp.Description("Request headers as a JSON object")),
		mcp.WithString("json", mcp.Description("JSON request body")),
		mcp.WithString("body", mcp.Description("Raw request body, ignored when json is set")),
		mcp.WithNumber("timeout_seconds", mcp.Description("Upstream timeout (default 10)")),
	), s.handleSendRequest)

	s.mcpServer.AddTool(mcp.NewTool(
		"probe_provider",
		mcp.WithDescription("Health-check a single provider with a GET, bypassing availability rotation."),
		mcp.WithString("provider", mcp.Required(), mcp.Description("Provider name")),
		mcp.WithString("url", mcp.Required(), mcp.Description("URL to probe")),
	), s.handleProbe)
}

// --- Prompts ---

func (s *Server) registerPrompts() {
	s.mcpServer.AddPrompt(mcp.NewPrompt(
		promptName,
		mcp.WithPromptDescription("Explains how skaler rotates providers and proxies"),
	), s.handleGetPrompt)
}

// --- Handlers ---

func (s *Server) handleReadStatus(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	st, err := s.apiClient.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch status: %w", err)
	}
	return jsonResource(request.Params.URI, st)
}

func (s *Server) handleReadEvents(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	events, err := s.apiClient.GetEvents(ctx, 50)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}
	return jsonResource(request.Params.URI, events)
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleSendRequest(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	req := client.DispatchRequest{
		Method:         strings.ToUpper(mcp.ParseString(request, "method", "GET")),
		URL:            mcp.ParseString(request, "url", ""),
		Body:           mcp.ParseString(request, "body", ""),
		TimeoutSeconds: mcp.ParseFloat64(request, "timeout_seconds", 0),
	}
	if raw := mcp.ParseString(request, "headers", ""); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Headers); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("headers must be a JSON object of strings: %v", err)), nil
		}
	}
	if raw := mcp.ParseString(request, "json", ""); raw != "" {
		if !json.Valid([]byte(raw)) {
			return mcp.NewToolResultError("json is not valid JSON"), nil
		}
		req.JSON = json.RawMessage(raw)
	}

	resp, err := s.apiClient.Dispatch(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}
	return mcp.NewToolResultText(formatResponse(resp)), nil
}

func (s *Server) handleProbe(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	provider := mcp.ParseString(request, "provider", "")
	target := mcp.ParseString(request, "url", "")

	resp, err := s.apiClient.Probe(ctx, provider, target)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Probe failed: %v", err)), nil
	}
	return mcp.NewToolResultText(formatResponse(resp)), nil
}

func formatResponse(resp *client.DispatchResponse) string {
	if resp.BodyEncoding != "" {
		return fmt.Sprintf("Status: %d\nBody-Encoding: %s\n\n%s", resp.StatusCode, resp.BodyEncoding, resp.Body)
	}
	return fmt.Sprintf("Status: %d\n\n%s", resp.StatusCode, resp.Body)
}

func (s *Server) handleGetPrompt(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	name := request.Params.Name
	if name != promptName {
		return nil, fmt.Errorf("prompt not found: %s", name)
	}

	promptText := `You are interacting with Skaler, a request dispatcher that spreads outbound HTTP calls across several API credentials and proxies.

Concepts:
- Provider: a named credential with a per-window usage limit (e.g., 'openai-key-1').
- Proxy: an outbound HTTP proxy; requests rotate through them round-robin.
- Blocked: a provider or proxy that failed recently and is skipped until its block expires.

Use the 'send_request' tool instead of calling rate-limited APIs directly. Skaler injects the credential for you.
If it reports no_available_providers, every provider is exhausted or blocked: wait before retrying.
Upstream HTTP errors (4xx/5xx) are returned unchanged and are not retried.
`

	return mcp.NewGetPromptResult(
		promptName,
		[]mcp.PromptMessage{
			mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(promptText)),
		},
	), nil
}
