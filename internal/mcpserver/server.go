// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes GitHub user search and avatar tools over stdio.
package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/octoscope/internal/assetcache"
	"github.com/starford/octoscope/internal/assetstore"
	"github.com/starford/octoscope/internal/fetcher"
	"github.com/starford/octoscope/internal/imaging"
	"github.com/starford/octoscope/internal/manifest"
	"github.com/starford/octoscope/internal/record"
	"github.com/starford/octoscope/internal/search"
)

const (
	assetsURI     = "octoscope://assets"
	defaultFolder = "userImages"
)

// UserSearcher runs remote user searches. *github.Client satisfies it.
type UserSearcher interface {
	SearchUsers(ctx context.Context, term string) (record.Set, error)
}

// RepoLister lists and filters repositories. *profile.Service satisfies it.
type RepoLister interface {
	Repos(ctx context.Context, reposURL, text string) (record.Set, error)
}

// AvatarFetcher loads sized avatars. *fetcher.Fetcher satisfies it.
type AvatarFetcher interface {
	Fetch(ctx context.Context, req fetcher.Request, hooks fetcher.Hooks) (*assetcache.CachedAsset, error)
}

// Inventory lists stored avatars. *manifest.DB satisfies it.
type Inventory interface {
	List() ([]manifest.Entry, error)
}

// Server wraps the MCP server with octoscope tools.
type Server struct {
	mcp       *server.MCPServer
	users     UserSearcher
	repos     RepoLister
	avatars   AvatarFetcher
	inventory Inventory
}

// New creates a new MCP server with all tools registered.
func New(users UserSearcher, repos RepoLister, avatars AvatarFetcher, inventory Inventory) *Server {
	s := &Server{users: users, repos: repos, avatars: avatars, inventory: inventory}

	s.mcp = server.NewMCPServer(
		"Octoscope",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_users",
		mcp.WithDescription("Search GitHub users by login. The first three characters are sent "+
			"to GitHub; longer queries are narrowed locally, like the interactive search."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Login text, at least three characters")),
	), s.searchUsers)

	s.mcp.AddTool(mcp.NewTool("get_user_repos",
		mcp.WithDescription("List the repositories of a user, optionally filtered by name."),
		mcp.WithString("repos_url", mcp.Required(), mcp.Description("The repos_url field of a user from search_users")),
		mcp.WithString("query", mcp.Description("Optional name filter, applied from three characters")),
	), s.getUserRepos)

	s.mcp.AddTool(mcp.NewTool("fetch_avatar",
		mcp.WithDescription("Download an avatar through the local cache, scaled to a height, and return it as PNG."),
		mcp.WithString("url", mcp.Required(), mcp.Description("Image URL, usually avatar_url from search_users")),
		mcp.WithString("name", mcp.Description("Name to store the asset under (defaults to one derived from the URL)")),
		mcp.WithString("folder", mcp.Description("Asset folder (default userImages)")),
		mcp.WithNumber("height", mcp.Description("Target height in pixels (default 200)")),
	), s.fetchAvatar)

	if inventory != nil {
		s.mcp.AddResource(
			mcp.NewResource(assetsURI, "Stored avatars",
				mcp.WithResourceDescription("Avatars persisted in the local asset store."),
				mcp.WithMIMEType("application/json"),
			),
			s.readAssetsResource,
		)
	}

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

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) searchUsers(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if utf8.RuneCountInString(query) < search.MinLength {
		return mcp.NewToolResultError(fmt.Sprintf("query must be at least %d characters", search.MinLength)), nil
	}

	prefix := string([]rune(query)[:search.MinLength])
	users, err := s.users.SearchUsers(ctx, prefix)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(search.Filter(users, "login", query))
}

func (s *Server) getUserRepos(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reposURL, err := req.RequireString("repos_url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	repos, err := s.repos.Repos(ctx, reposURL, req.GetString("query", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(repos)
}

func (s *Server) fetchAvatar(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	url, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	fr := fetcher.Request{
		URL:          url,
		Folder:       req.GetString("folder", defaultFolder),
		Name:         req.GetString("name", ""),
		TargetHeight: req.GetInt("height", 0),
	}
	if fr.Name == "" {
		fr.Name = assetstore.NameFor(url)
	}
	if err := (assetstore.Key{Folder: fr.Folder, Name: fr.Name}).Validate(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	asset, err := s.avatars.Fetch(ctx, fr, fetcher.Hooks{})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := imaging.EncodePNG(asset.Image)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text := fmt.Sprintf("%dx%d avatar stored as %s", asset.Width, asset.Height,
		assetstore.Key{Folder: fr.Folder, Name: fr.Name})
	return mcp.NewToolResultImage(text, base64.StdEncoding.EncodeToString(data), "image/png"), nil
}

func (s *Server) readAssetsResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	entries, err := s.inventory.List()
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []manifest.Entry{}
	}
	out, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      assetsURI,
			MIMEType: "application/json",
			Text:     string(out),
		},
	}, nil
}
