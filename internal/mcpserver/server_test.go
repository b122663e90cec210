package mcpserver

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/perth/internal/lifecycle"
	"github.com/starford/perth/internal/links"
	syncpkg "github.com/starford/perth/internal/sync"
	"github.com/starford/perth/internal/testutil"
)

func testMCP(t *testing.T) (*Server, *lifecycle.Manager) {
	t.Helper()

	life := testutil.TestManager(t, "")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctrl := syncpkg.NewController(syncpkg.NewEngine(life, nil, logger))
	idx := links.NewIndex()
	life.SetLinkNotifier(idx)

	return New(life, ctrl, idx), life
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go doesn't expose a direct "call tool" test helper, so we call the
	// handler functions directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "create_note":
		result, err = srv.createNote(ctx, req)
	case "read_note":
		result, err = srv.readNote(ctx, req)
	case "update_note":
		result, err = srv.updateNote(ctx, req)
	case "list_notes":
		result, err = srv.listNotes(ctx, req)
	case "trash_note":
		result, err = srv.trashNote(ctx, req)
	case "restore_note":
		result, err = srv.restoreNote(ctx, req)
	case "get_backlinks":
		result, err = srv.getBacklinks(ctx, req)
	case "sync_status":
		result, err = srv.syncStatus(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestCreateAndReadNote(t *testing.T) {
	srv, _ := testMCP(t)

	r := callTool(t, srv, "create_note", map[string]interface{}{
		"title":   "Test",
		"content": "Hello",
	})
	text := resultText(r)
	if !strings.HasPrefix(text, "created: ") {
		t.Fatalf("create result = %q", text)
	}
	id := strings.TrimPrefix(text, "created: ")

	r = callTool(t, srv, "read_note", map[string]interface{}{"id": id})
	text = resultText(r)
	if !strings.Contains(text, `"Test"`) || !strings.Contains(text, `"Hello"`) {
		t.Errorf("read result = %q", text)
	}
}

func TestReadNoteMissing(t *testing.T) {
	srv, _ := testMCP(t)
	r := callTool(t, srv, "read_note", map[string]interface{}{"id": "nope"})
	if !r.IsError {
		t.Error("expected error for missing note")
	}
}

func TestUpdateNote(t *testing.T) {
	srv, life := testMCP(t)
	note, err := life.CreateNote(context.Background(), "before", "body", "")
	if err != nil {
		t.Fatal(err)
	}

	r := callTool(t, srv, "update_note", map[string]interface{}{
		"id":    note.ID,
		"title": "after",
	})
	if r.IsError {
		t.Fatalf("update failed: %s", resultText(r))
	}

	got, err := life.GetNote(context.Background(), note.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "after" || got.Content != "body" {
		t.Errorf("note = %q/%q, want after/body", got.Title, got.Content)
	}
}

func TestListNotes(t *testing.T) {
	srv, life := testMCP(t)
	if _, err := life.CreateNote(context.Background(), "a", "", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := life.CreateNote(context.Background(), "b", "", ""); err != nil {
		t.Fatal(err)
	}

	r := callTool(t, srv, "list_notes", map[string]interface{}{})
	text := resultText(r)
	if !strings.Contains(text, "a") || !strings.Contains(text, "b") {
		t.Errorf("list = %q", text)
	}
}

func TestTrashRestoreNote(t *testing.T) {
	srv, life := testMCP(t)
	note, err := life.CreateNote(context.Background(), "t", "", "")
	if err != nil {
		t.Fatal(err)
	}

	r := callTool(t, srv, "trash_note", map[string]interface{}{"id": note.ID})
	if r.IsError {
		t.Fatalf("trash failed: %s", resultText(r))
	}
	trashed, err := life.ListTrashedNotes(context.Background())
	if err != nil || len(trashed) != 1 {
		t.Fatalf("trashed = %d (%v), want 1", len(trashed), err)
	}

	r = callTool(t, srv, "restore_note", map[string]interface{}{"id": note.ID})
	if r.IsError {
		t.Fatalf("restore failed: %s", resultText(r))
	}
	active, err := life.ListNotes(context.Background())
	if err != nil || len(active) != 1 {
		t.Fatalf("active = %d (%v), want 1", len(active), err)
	}
}

func TestGetBacklinks(t *testing.T) {
	srv, _ := testMCP(t)

	r := callTool(t, srv, "create_note", map[string]interface{}{
		"title":   "Daily",
		"content": "see [[Roadmap]] and [[Roadmap|the plan]]",
	})
	id := strings.TrimPrefix(resultText(r), "created: ")

	// Link notifications are delivered on a separate goroutine.
	deadline := time.Now().Add(2 * time.Second)
	for {
		r = callTool(t, srv, "get_backlinks", map[string]interface{}{"target": "Roadmap"})
		if resultText(r) == id {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("backlinks = %q, want %q", resultText(r), id)
		}
		time.Sleep(10 * time.Millisecond)
	}

	r = callTool(t, srv, "get_backlinks", map[string]interface{}{"target": "Nothing"})
	if resultText(r) != "no backlinks" {
		t.Errorf("backlinks for unlinked target = %q", resultText(r))
	}
}

func TestSyncStatusTool(t *testing.T) {
	srv, _ := testMCP(t)
	r := callTool(t, srv, "sync_status", map[string]interface{}{})
	text := resultText(r)
	if !strings.Contains(text, `"enabled":false`) {
		t.Errorf("sync status = %q", text)
	}
	if !strings.Contains(text, `"status":"idle"`) {
		t.Errorf("sync status = %q", text)
	}
}
