// Package mcp provides a Model Context Protocol server for canon.
//
// It exposes the operator operations (reconcile, edit, status change, merge,
// split, history, matrix, merge suggestions) as MCP tools, and registry
// statistics and the club list as MCP resources. Served over stdio.
package mcp

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hurttlocker/canon/internal/consolidate"
	errs "github.com/hurttlocker/canon/internal/errors"
	"github.com/hurttlocker/canon/internal/ingest"
	"github.com/hurttlocker/canon/internal/lifecycle"
	"github.com/hurttlocker/canon/internal/matrix"
	"github.com/hurttlocker/canon/internal/reconcile"
	"github.com/hurttlocker/canon/internal/store"
)

// ServerConfig holds configuration for the MCP server.
type ServerConfig struct {
	Store            store.Store
	Version          string // version string for MCP server info
	Workers          int
	SummaryLength    int
	SuggestThreshold float64
}

// services bundles the engines every tool handler calls into.
type services struct {
	st        store.Store
	reconcile *reconcile.Engine
	lifecycle *lifecycle.Manager
	ops       *consolidate.Operator
	projector *matrix.Projector
	ingest    *ingest.Engine
	threshold float64
}

// dbMu serializes tool calls that write. The mcp-go library dispatches
// handlers concurrently; SQLite allows a single writer.
var dbMu sync.Mutex

// NewServer creates a configured MCP server with all canon tools and resources.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}

	s := server.NewMCPServer(
		"canon",
		ver,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
	)

	svc := &services{
		st:        cfg.Store,
		reconcile: reconcile.NewEngine(cfg.Store, reconcile.Options{Workers: cfg.Workers}),
		lifecycle: lifecycle.NewManager(cfg.Store),
		ops:       consolidate.NewOperator(cfg.Store),
		projector: matrix.NewProjector(cfg.Store, cfg.SummaryLength),
		ingest:    ingest.NewEngine(cfg.Store),
		threshold: cfg.SuggestThreshold,
	}

	// Register tools
	registerAddSourceTool(s, svc)
	registerReconcileTool(s, svc)
	registerListClaimsTool(s, svc)
	registerEditClaimTool(s, svc)
	registerSetStatusTool(s, svc)
	registerMergeTool(s, svc)
	registerSplitTool(s, svc)
	registerHistoryTool(s, svc)
	registerMatrixTool(s, svc)
	registerSuggestTool(s, svc)

	// Register resources
	registerStatsResource(s, cfg.Store)
	registerClubsResource(s, cfg.Store)
	registerStatusCountsResource(s, cfg.Store)

	return s
}

// ServeStdio runs srv over stdin/stdout until the client disconnects.
func ServeStdio(srv *server.MCPServer) error {
	return server.ServeStdio(srv)
}

// --- Helpers ---

// jsonResult renders v as an indented JSON text result.
func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encoding result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// toolError maps a typed error onto a tool error result with a stable prefix
// the client can branch on.
func toolError(err error) *mcp.CallToolResult {
	switch {
	case errs.IsValidationError(err):
		return mcp.NewToolResultError("invalid input: " + err.Error())
	case errs.IsNotFound(err):
		return mcp.NewToolResultError("not found: " + err.Error())
	case errs.IsConflict(err):
		return mcp.NewToolResultError("conflict (retryable): " + err.Error())
	}
	return mcp.NewToolResultError("error: " + err.Error())
}

func optionalString(req mcp.CallToolRequest, key string) string {
	v, err := req.RequireString(key)
	if err != nil {
		return ""
	}
	return v
}

func optionalStrings(req mcp.CallToolRequest, key string) []string {
	v, err := req.RequireStringSlice(key)
	if err != nil {
		return nil
	}
	return v
}

func optionalInt(req mcp.CallToolRequest, key string) int64 {
	v, err := req.RequireFloat(key)
	if err != nil || v < 0 {
		return 0
	}
	return int64(v)
}

// decodeArgument re-decodes one raw argument into dst. Missing keys leave dst
// untouched and report false.
func decodeArgument(req mcp.CallToolRequest, key string, dst interface{}) (bool, error) {
	raw, ok := req.GetArguments()[key]
	if !ok || raw == nil {
		return false, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return false, err
	}
	if s, isString := raw.(string); isString {
		data = []byte(s)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, errs.NewValidationError(key, nil, fmt.Sprintf("decoding %s: %v", key, err))
	}
	return true, nil
}
