package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/margin/internal/apperr"
	"github.com/kalambet/margin/internal/discussion"
	"github.com/kalambet/margin/internal/llm"
	"github.com/kalambet/margin/internal/model"
	"github.com/kalambet/margin/internal/profile"
	"github.com/kalambet/margin/internal/prompt"
	"github.com/kalambet/margin/internal/recommend"
	"github.com/kalambet/margin/internal/storage"
)

// MCPDeps holds dependencies for the MCP server. The server acts on behalf
// of a single reader.
type MCPDeps struct {
	UserID      string
	Profiles    *profile.Manager
	Discussions *discussion.Orchestrator
	Recommender *recommend.Generator
}

// NewMCPServer creates an MCP server with the margin tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"margin",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("margin: a reading companion that discusses books and recommends what to read next."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_about_book",
			mcp.WithDescription("Ask a question about a book and get an answer with learning aids and suggested follow-ups."),
			mcp.WithString("title", mcp.Description("Book title"), mcp.Required()),
			mcp.WithString("author", mcp.Description("Book author")),
			mcp.WithString("question", mcp.Description("The question to ask"), mcp.Required()),
			mcp.WithString("context", mcp.Description("Interaction type: question, overview, exploration, exploration_guide or topic_exploration")),
			mcp.WithString("goal", mcp.Description("Learning goal, used with the overview context")),
		),
		mcpAskAboutBook(deps),
	)

	s.AddTool(
		mcp.NewTool("get_recommendations",
			mcp.WithDescription("Return five book recommendations in each of three categories for the reader."),
			mcp.WithBoolean("refresh", mcp.Description("Generate a fresh set instead of returning the saved one")),
		),
		mcpGetRecommendations(deps),
	)

	s.AddTool(
		mcp.NewTool("book_history",
			mcp.WithDescription("Return the reader's past discussion turns about a book, oldest first."),
			mcp.WithString("title", mcp.Description("Book title"), mcp.Required()),
			mcp.WithString("author", mcp.Description("Book author")),
		),
		mcpBookHistory(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"user://profile",
			"Reader Profile",
			mcp.WithResourceDescription("The reader's onboarding answers, narrative and session history as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceProfile(deps),
	)

	return s
}

func mcpAskAboutBook(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		title, err := req.RequireString("title")
		if err != nil || strings.TrimSpace(title) == "" {
			return mcpError("title is required"), nil
		}
		question, err := req.RequireString("question")
		if err != nil || strings.TrimSpace(question) == "" {
			return mcpError("question is required"), nil
		}

		b := model.Book{Title: title, Author: req.GetString("author", "")}.WithKey()
		reply, err := deps.Discussions.Respond(ctx, discussion.Request{
			Book:   b,
			Text:   question,
			UserID: deps.UserID,
			Context: prompt.Context{
				Type: prompt.ParseContextType(req.GetString("context", "")),
				Goal: req.GetString("goal", ""),
			},
		})
		if err != nil {
			return mcpError(mcpMessage("answering", err)), nil
		}

		return mcpJSON(reply.Turn.Response)
	}
}

func mcpGetRecommendations(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		set, err := deps.Recommender.ForUser(ctx, deps.UserID, req.GetBool("refresh", false))
		if err != nil {
			return mcpError(mcpMessage("recommending", err)), nil
		}
		return mcpJSON(set)
	}
}

func mcpBookHistory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		title, err := req.RequireString("title")
		if err != nil || strings.TrimSpace(title) == "" {
			return mcpError("title is required"), nil
		}

		b := model.Book{Title: title, Author: req.GetString("author", "")}
		turns, err := deps.Discussions.History(ctx, deps.UserID, b.Key())
		if err != nil {
			return mcpError(mcpMessage("loading history", err)), nil
		}
		return mcpJSON(turns)
	}
}

func mcpResourceProfile(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		p, err := deps.Profiles.Get(ctx, deps.UserID)
		if errors.Is(err, storage.ErrNotFound) {
			p = model.UserProfile{UserID: deps.UserID}
		} else if err != nil {
			return nil, fmt.Errorf("failed to get profile: %w", err)
		}

		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal profile: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

// mcpMessage renders err for a tool result, hiding provider internals.
func mcpMessage(action string, err error) string {
	var (
		provErr  *llm.ProviderError
		idErr    *apperr.IdentityError
		shapeErr *apperr.InvalidShapeError
	)
	switch {
	case errors.As(err, &provErr):
		return providerUnavailableMessage
	case errors.As(err, &idErr):
		return idErr.Error() + ". Start the MCP server with --user."
	case errors.Is(err, recommend.ErrNoProfile):
		return "Complete onboarding to get recommendations."
	case errors.As(err, &shapeErr):
		return invalidShapeMessage
	default:
		return fmt.Sprintf("%s failed: %v", action, err)
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
