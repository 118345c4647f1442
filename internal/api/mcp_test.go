package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/margin/internal/llm"
	"github.com/kalambet/margin/internal/model"
)

// --- helpers ---

func newTestMCPDeps(t *testing.T, user string) (MCPDeps, *testEnv) {
	t.Helper()
	env := newTestEnv(t)
	return MCPDeps{
		UserID:      user,
		Profiles:    env.deps.Profiles,
		Discussions: env.deps.Discussions,
		Recommender: env.deps.Recommender,
	}, env
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

// --- tests ---

func TestNewMCPServer(t *testing.T) {
	deps, _ := newTestMCPDeps(t, "u1")
	if s := NewMCPServer(deps); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}

func TestMCPTool_AskAboutBook(t *testing.T) {
	deps, env := newTestMCPDeps(t, "u1")
	handler := mcpAskAboutBook(deps)

	req := makeCallToolRequest("ask_about_book", map[string]interface{}{
		"title":    "Meditations",
		"author":   "Marcus Aurelius",
		"question": "What is the view from above?",
	})
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var resp model.DiscussionResponse
	if err := json.Unmarshal([]byte(toolText(t, result)), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Content == "" || len(resp.Prefills) != 3 {
		t.Errorf("response = %+v", resp)
	}

	env.orch.Wait()
	turns, err := env.repo.Turns(context.Background(), "u1", "meditations")
	if err != nil {
		t.Fatalf("Turns: %v", err)
	}
	if len(turns) != 1 || turns[0].Input != "What is the view from above?" {
		t.Errorf("turns = %+v", turns)
	}
}

func TestMCPTool_AskAboutBook_MissingArgs(t *testing.T) {
	deps, _ := newTestMCPDeps(t, "u1")
	handler := mcpAskAboutBook(deps)

	for _, args := range []map[string]interface{}{
		{"question": "why?"},
		{"title": "Meditations"},
	} {
		result, err := handler(context.Background(), makeCallToolRequest("ask_about_book", args))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.IsError {
			t.Errorf("args %v: expected tool error", args)
		}
	}
}

func TestMCPTool_AskAboutBook_ProviderError(t *testing.T) {
	deps, env := newTestMCPDeps(t, "u1")
	env.completer.setOverride(func(string, string) (string, error) {
		return "", &llm.ProviderError{Provider: "gemini", Err: fmt.Errorf("quota")}
	})

	result, err := mcpAskAboutBook(deps)(context.Background(), makeCallToolRequest("ask_about_book", map[string]interface{}{
		"title":    "Meditations",
		"question": "Why?",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError || toolText(t, result) != providerUnavailableMessage {
		t.Errorf("result = %s", toolText(t, result))
	}
}

func TestMCPTool_GetRecommendations(t *testing.T) {
	deps, env := newTestMCPDeps(t, "u1")
	env.onboard(t, "u1")

	result, err := mcpGetRecommendations(deps)(context.Background(), makeCallToolRequest("get_recommendations", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var set model.RecommendationSet
	if err := json.Unmarshal([]byte(toolText(t, result)), &set); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(set.CareerGrowth) != 5 {
		t.Errorf("careerGrowth = %d books", len(set.CareerGrowth))
	}
}

func TestMCPTool_GetRecommendations_Anonymous(t *testing.T) {
	deps, _ := newTestMCPDeps(t, "")

	result, err := mcpGetRecommendations(deps)(context.Background(), makeCallToolRequest("get_recommendations", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError || !strings.Contains(toolText(t, result), "--user") {
		t.Errorf("result = %s", toolText(t, result))
	}
}

func TestMCPTool_BookHistory(t *testing.T) {
	deps, env := newTestMCPDeps(t, "u1")
	ctx := context.Background()

	t1 := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, ts := range []time.Time{t1, t2} {
		turn := model.DiscussionTurn{Timestamp: ts, Type: model.TurnQuestion, Input: ts.Format(time.DateOnly), BookID: "meditations", BookTitle: "Meditations"}
		if err := env.repo.AppendTurn(ctx, "u1", turn); err != nil {
			t.Fatal(err)
		}
	}

	result, err := mcpBookHistory(deps)(ctx, makeCallToolRequest("book_history", map[string]interface{}{"title": "Meditations"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var turns []model.DiscussionTurn
	if err := json.Unmarshal([]byte(toolText(t, result)), &turns); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(turns) != 2 || !turns[0].Timestamp.Equal(t2) {
		t.Errorf("turns not oldest first: %+v", turns)
	}
}

func TestMCPResource_Profile(t *testing.T) {
	deps, env := newTestMCPDeps(t, "u1")
	handler := mcpResourceProfile(deps)

	contents, err := handler(context.Background(), makeReadResourceRequest("user://profile"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := contents[0].(mcp.TextResourceContents).Text
	if !strings.Contains(text, `"userId":"u1"`) {
		t.Errorf("empty profile resource = %s", text)
	}

	env.onboard(t, "u1")
	contents, err = handler(context.Background(), makeReadResourceRequest("user://profile"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tc := contents[0].(mcp.TextResourceContents)
	if tc.MIMEType != "application/json" || !strings.Contains(tc.Text, "Reads every evening.") {
		t.Errorf("profile resource = %+v", tc)
	}
}
