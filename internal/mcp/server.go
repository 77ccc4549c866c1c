package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/echotab/internal/models"
	"github.com/joescharf/echotab/internal/store"
)

// Server wraps the echotab data layer and exposes it as MCP tools.
type Server struct {
	store    store.Store
	shareURL func(listID string) string
	version  string
}

// NewServer creates the MCP server wrapper. shareURL may be nil, in which
// case collections are returned without a share link.
func NewServer(s store.Store, shareURL func(listID string) string, version string) *Server {
	if version == "" {
		version = "dev"
	}
	return &Server{store: s, shareURL: shareURL, version: version}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("echotab", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.listTagsTool())
	srv.AddTool(s.listTabsTool())
	srv.AddTool(s.saveTabTool())
	srv.AddTool(s.tagTabTool())
	srv.AddTool(s.listCollectionsTool())
	srv.AddTool(s.getCollectionTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ---------------------------------------------------------------------------
// Tags and tabs
// ---------------------------------------------------------------------------

// echotab_list_tags
func (s *Server) listTagsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("echotab_list_tags",
		mcp.WithDescription("List all tags. Returns a JSON array with id, name, color, favorite, and the number of saved tabs carrying each tag."),
	)
	return tool, s.handleListTags
}

func (s *Server) handleListTags(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tags, err := s.store.ListTags(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list tags: %v", err)), nil
	}
	board, err := s.store.TagBoard(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to count tabs: %v", err)), nil
	}
	counts := make(map[string]int, len(board))
	for _, col := range board {
		counts[col.TagID] = len(col.TabIDs)
	}

	type tagOut struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Color    string `json:"color,omitempty"`
		Favorite bool   `json:"favorite"`
		Tabs     int    `json:"tabs"`
	}
	out := make([]tagOut, len(tags))
	for i, t := range tags {
		out[i] = tagOut{ID: t.ID, Name: t.Name, Color: t.Color, Favorite: t.Favorite, Tabs: counts[t.ID]}
	}
	return jsonResult(out)
}

// echotab_list_tabs
func (s *Server) listTabsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("echotab_list_tabs",
		mcp.WithDescription("List saved tabs, optionally filtered by tag name and a search query over title and URL."),
		mcp.WithString("tag", mcp.Description("Tag name to filter by")),
		mcp.WithString("query", mcp.Description("Substring to match in the title or URL")),
	)
	return tool, s.handleListTabs
}

type tabOut struct {
	ID      string   `json:"id"`
	URL     string   `json:"url"`
	Title   string   `json:"title"`
	Tags    []string `json:"tags"`
	SavedAt string   `json:"saved_at"`
}

func (s *Server) handleListTabs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tags, err := s.store.ListTags(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list tags: %v", err)), nil
	}
	names := make(map[string]string, len(tags))
	for _, t := range tags {
		names[t.ID] = t.Name
	}

	filter := store.TabListFilter{Query: request.GetString("query", "")}
	if tagName := request.GetString("tag", ""); tagName != "" {
		tag := findTag(tags, tagName)
		if tag == nil {
			return mcp.NewToolResultError(fmt.Sprintf("tag not found: %s", tagName)), nil
		}
		filter.TagID = tag.ID
	}

	tabs, err := s.store.ListTabs(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list tabs: %v", err)), nil
	}
	out := make([]tabOut, len(tabs))
	for i, t := range tabs {
		out[i] = toTabOut(t, names)
	}
	return jsonResult(out)
}

func toTabOut(t *models.Tab, names map[string]string) tabOut {
	tags := make([]string, 0, len(t.TagIDs))
	for _, id := range t.TagIDs {
		if n, ok := names[id]; ok {
			tags = append(tags, n)
		}
	}
	return tabOut{
		ID:      t.ID,
		URL:     t.URL,
		Title:   t.Title,
		Tags:    tags,
		SavedAt: t.SavedAt.Format(time.RFC3339),
	}
}

func findTag(tags []*models.Tag, name string) *models.Tag {
	for _, t := range tags {
		if strings.EqualFold(t.Name, name) {
			return t
		}
	}
	return nil
}

// echotab_save_tab
func (s *Server) saveTabTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("echotab_save_tab",
		mcp.WithDescription("Save a tab by URL. Saving an existing URL updates its title. Returns the saved tab as JSON."),
		mcp.WithString("url", mcp.Required(), mcp.Description("Page URL")),
		mcp.WithString("title", mcp.Description("Page title")),
	)
	return tool, s.handleSaveTab
}

func (s *Server) handleSaveTab(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	url, err := request.RequireString("url")
	if err != nil || strings.TrimSpace(url) == "" {
		return mcp.NewToolResultError("missing required parameter: url"), nil
	}

	tab := &models.Tab{URL: strings.TrimSpace(url), Title: request.GetString("title", "")}
	if err := s.store.SaveTab(ctx, tab); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to save tab: %v", err)), nil
	}
	return jsonResult(toTabOut(tab, nil))
}

// echotab_tag_tab
func (s *Server) tagTabTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("echotab_tag_tab",
		mcp.WithDescription("Apply a tag to a saved tab. The tag is created when no tag has that name."),
		mcp.WithString("tab_id", mcp.Required(), mcp.Description("Tab ID")),
		mcp.WithString("tag", mcp.Required(), mcp.Description("Tag name")),
	)
	return tool, s.handleTagTab
}

func (s *Server) handleTagTab(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tabID, err := request.RequireString("tab_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: tab_id"), nil
	}
	tagName, err := request.RequireString("tag")
	if err != nil || strings.TrimSpace(tagName) == "" {
		return mcp.NewToolResultError("missing required parameter: tag"), nil
	}

	if _, err := s.store.GetTab(ctx, tabID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("tab not found: %s", tabID)), nil
	}

	tags, err := s.store.ListTags(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list tags: %v", err)), nil
	}
	tag := findTag(tags, tagName)
	if tag == nil {
		tag = &models.Tag{Name: strings.TrimSpace(tagName)}
		if err := s.store.CreateTag(ctx, tag); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to create tag: %v", err)), nil
		}
		tags = append(tags, tag)
	}

	if err := s.store.TagTab(ctx, tabID, tag.ID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to tag tab: %v", err)), nil
	}
	tab, err := s.store.GetTab(ctx, tabID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("tab not found: %s", tabID)), nil
	}

	names := make(map[string]string, len(tags))
	for _, t := range tags {
		names[t.ID] = t.Name
	}
	return jsonResult(toTabOut(tab, names))
}

// ---------------------------------------------------------------------------
// Collections
// ---------------------------------------------------------------------------

type collectionOut struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	Public      bool          `json:"public"`
	Views       int64         `json:"views"`
	Imports     int64         `json:"imports"`
	LinkCount   int           `json:"link_count"`
	ShareURL    string        `json:"share_url,omitempty"`
	Links       []models.Link `json:"links,omitempty"`
}

func (s *Server) toCollectionOut(l *models.List, withLinks bool) collectionOut {
	out := collectionOut{
		ID:          l.ID,
		Title:       l.Title,
		Description: l.Description,
		Public:      l.Public,
		Views:       l.ViewCount,
		Imports:     l.ImportCount,
		LinkCount:   len(l.Links),
	}
	if l.Public && s.shareURL != nil {
		out.ShareURL = s.shareURL(l.ID)
	}
	if withLinks {
		out.Links = l.Links
	}
	return out
}

// echotab_list_collections
func (s *Server) listCollectionsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("echotab_list_collections",
		mcp.WithDescription("List the collections (shareable link lists) owned by a user, with view and import counts."),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("Owner user ID (UUID)")),
	)
	return tool, s.handleListCollections
}

func (s *Server) handleListCollections(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := request.RequireString("user_id")
	if err != nil || userID == "" {
		return mcp.NewToolResultError("missing required parameter: user_id"), nil
	}
	lists, err := s.store.ListUserLists(ctx, userID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list collections: %v", err)), nil
	}
	out := make([]collectionOut, len(lists))
	for i, l := range lists {
		out[i] = s.toCollectionOut(l, false)
	}
	return jsonResult(out)
}

// echotab_get_collection
func (s *Server) getCollectionTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("echotab_get_collection",
		mcp.WithDescription("Get a collection with its links in display order."),
		mcp.WithString("collection_id", mcp.Required(), mcp.Description("Collection ID")),
	)
	return tool, s.handleGetCollection
}

func (s *Server) handleGetCollection(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("collection_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: collection_id"), nil
	}
	list, err := s.store.GetList(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("collection not found: %s", id)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to get collection: %v", err)), nil
	}
	return jsonResult(s.toCollectionOut(list, true))
}
