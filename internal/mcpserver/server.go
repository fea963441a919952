// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes submission history and stored survey files for LLM
// integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/surveybox/internal/directory"
	"github.com/starford/surveybox/internal/ingest"
	"github.com/starford/surveybox/internal/journal"
	"github.com/starford/surveybox/internal/master"
	"github.com/starford/surveybox/internal/storage"
)

const layoutURI = "surveybox://file-layout"

// Server wraps the MCP server with surveybox tools.
type Server struct {
	mcp     *server.MCPServer
	store   storage.Provider
	dir     *directory.Directory
	journal journal.Store
}

// New creates a new MCP server with all tools registered. j may be nil, in
// which case recent_submissions reports that the journal is disabled.
func New(store storage.Provider, dir *directory.Directory, j journal.Store, version string) *Server {
	s := &Server{store: store, dir: dir, journal: j}

	s.mcp = server.NewMCPServer(
		"surveybox",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("recent_submissions",
		mcp.WithDescription("List recently processed webhook submissions, newest first."),
		mcp.WithNumber("limit", mcp.Description("Maximum entries to return (default 50)")),
		mcp.WithString("source", mcp.Description("Only submissions from this source")),
	), s.recentSubmissions)

	s.mcp.AddTool(mcp.NewTool("list_folder",
		mcp.WithDescription("List the files and folders in a storage folder."),
		mcp.WithString("folder_id", mcp.Description("Folder id (empty for the default folder)")),
	), s.listFolder)

	s.mcp.AddTool(mcp.NewTool("read_master_file",
		mcp.WithDescription("Read the current master CSV for a source and study type. "+
			"See the "+layoutURI+" resource for the file naming scheme."),
		mcp.WithString("source", mcp.Required(), mcp.Description("Submission source")),
		mcp.WithString("study_type", mcp.Required(), mcp.Description("Study type")),
		mcp.WithString("folder_id", mcp.Description("Folder id (empty for the default folder)")),
	), s.readMasterFile)

	s.mcp.AddResource(
		mcp.NewResource(layoutURI, "Survey File Layout",
			mcp.WithResourceDescription("How submissions are named and laid out in storage."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readLayoutResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) folder(req mcp.CallToolRequest) string {
	if id := strings.TrimSpace(req.GetString("folder_id", "")); id != "" {
		return id
	}
	return s.dir.DefaultFolder()
}

func (s *Server) recentSubmissions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.journal == nil {
		return mcp.NewToolResultError("submission journal is disabled"), nil
	}
	entries, err := s.journal.Recent(ctx, req.GetInt("limit", 0), req.GetString("source", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(entries, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listFolder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	folderID := s.folder(req)
	entries, err := s.dir.ListEntries(ctx, folderID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cannot list folder %s: %v", folderID, err)), nil
	}
	if len(entries) == 0 {
		return mcp.NewToolResultText("folder is empty"), nil
	}

	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("%s\t%s\t%s", e.Kind, e.ID, e.Name))
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) readMasterFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source, err := req.RequireString("source")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	studyType, err := req.RequireString("study_type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	folderID := s.folder(req)
	entries, err := s.dir.ListEntries(ctx, folderID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cannot list folder %s: %v", folderID, err)), nil
	}
	prefix := master.Prefix(ingest.SanitizeComponent(studyType), ingest.SanitizeComponent(source))
	e, ok := directory.FindByPrefix(entries, prefix)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("no master file with prefix %s in folder %s", prefix, folderID)), nil
	}

	data, err := s.store.Download(ctx, e.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cannot read %s: %v", e.Name, err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("# %s\n%s", e.Name, data)), nil
}

func (s *Server) readLayoutResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      layoutURI,
			MIMEType: "text/markdown",
			Text:     FileLayoutContract,
		},
	}, nil
}
