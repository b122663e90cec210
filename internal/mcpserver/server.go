// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Perth tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/perth/internal/lifecycle"
	"github.com/starford/perth/internal/links"
	syncpkg "github.com/starford/perth/internal/sync"
)

// Server wraps the MCP server with Perth tools.
type Server struct {
	mcp  *server.MCPServer
	life *lifecycle.Manager
	ctrl *syncpkg.Controller
	idx  *links.Index
}

// New creates a new MCP server with all Perth tools registered.
func New(life *lifecycle.Manager, ctrl *syncpkg.Controller, idx *links.Index) *Server {
	s := &Server{life: life, ctrl: ctrl, idx: idx}

	s.mcp = server.NewMCPServer(
		"Perth",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("create_note",
		mcp.WithDescription("Create a new note. The body may contain [[wikilinks]] to other notes."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Note title")),
		mcp.WithString("content", mcp.Description("Markdown body")),
		mcp.WithString("folder_id", mcp.Description("Optional id of an existing folder to file the note in")),
	), s.createNote)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read a note by id, including its metadata."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("update_note",
		mcp.WithDescription("Update a note's title or content. Omitted fields are left unchanged."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
		mcp.WithString("title", mcp.Description("New title")),
		mcp.WithString("content", mcp.Description("New Markdown body")),
	), s.updateNote)

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List all active notes with their ids and titles."),
	), s.listNotes)

	s.mcp.AddTool(mcp.NewTool("trash_note",
		mcp.WithDescription("Move a note to the trash. Trashed notes can be restored until purged."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
	), s.trashNote)

	s.mcp.AddTool(mcp.NewTool("restore_note",
		mcp.WithDescription("Restore a note from the trash."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
	), s.restoreNote)

	s.mcp.AddTool(mcp.NewTool("get_backlinks",
		mcp.WithDescription("List the ids of notes whose content links to the given target."),
		mcp.WithString("target", mcp.Required(), mcp.Description("Wikilink target, e.g. the title used inside [[...]]")),
	), s.getBacklinks)

	s.mcp.AddTool(mcp.NewTool("sync_status",
		mcp.WithDescription("Report whether cloud synchronization is enabled and its current state."),
	), s.syncStatus)

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

func (s *Server) createNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content := req.GetString("content", "")
	folderID := req.GetString("folder_id", "")

	note, err := s.life.CreateNote(ctx, title, content, folderID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s", note.ID)), nil
}

func (s *Server) readNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	note, err := s.life.GetNote(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
	}
	out, _ := json.MarshalIndent(note, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) updateNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var patch lifecycle.NotePatch
	if title := req.GetString("title", ""); title != "" {
		patch.Title = &title
	}
	if content := req.GetString("content", ""); content != "" {
		patch.Content = &content
	}
	note, err := s.life.UpdateNote(ctx, id, patch)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("updated: %s", note.ID)), nil
}

func (s *Server) listNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	notes, err := s.life.ListNotes(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var lines []string
	for _, n := range notes {
		lines = append(lines, fmt.Sprintf("%s\t%s", n.ID, n.Title))
	}
	if len(lines) == 0 {
		return mcp.NewToolResultText("no notes"), nil
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) trashNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.life.TrashNote(ctx, id); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("trashed: %s", id)), nil
}

func (s *Server) restoreNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.life.RestoreNote(ctx, id); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("restored: %s", id)), nil
}

func (s *Server) getBacklinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	target, err := req.RequireString("target")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ids := s.idx.Backlinks(target)
	if len(ids) == 0 {
		return mcp.NewToolResultText("no backlinks"), nil
	}
	return mcp.NewToolResultText(strings.Join(ids, "\n")), nil
}

func (s *Server) syncStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out, _ := json.Marshal(map[string]any{
		"enabled": s.ctrl.Enabled(),
		"status":  string(s.ctrl.Status()),
	})
	return mcp.NewToolResultText(string(out)), nil
}
