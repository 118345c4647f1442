package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/margin/internal/api"
	"github.com/kalambet/margin/internal/config"
	"github.com/kalambet/margin/internal/discussion"
	"github.com/kalambet/margin/internal/llm"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the margin server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running margin server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show margin status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the MCP tools over stdio for one reader",
	Long: `Serve the MCP tools over stdio for one reader.

Example client configuration:
  {"command": "margin", "args": ["mcp", "--user", "reader-1"]}`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP(userFlag)
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "margin.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "margin version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	token, err := config.EnsureAPIToken(&cfg)
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	logger.Info("API bearer token available")

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	var limiter *api.RateLimiter
	if cfg.RateLimit.RPS > 0 {
		limiter = api.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}

	handler := api.NewHandler(api.Deps{
		Token:       token,
		Profiles:    a.profiles,
		Discussions: a.discussions,
		Sessions:    discussion.NewRegistry(a.discussions, cfg.Session.Max, cfg.Session.TTL),
		Recommender: a.recommender,
		Repo:        a.repo,
		Limiter:     limiter,
		Logger:      logger,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "margin listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func runMCP(userID string) error {
	if userID == "" {
		return fmt.Errorf("mcp needs a reader: pass --user or set MARGIN_USER")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		UserID:      userID,
		Profiles:    a.profiles,
		Discussions: a.discussions,
		Recommender: a.recommender,
	})
	logger.Info("MCP server started (stdio transport)", "user", userID)
	if err := server.NewStdioServer(mcpSrv).Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		return fmt.Errorf("margin is not running (no PID file): %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("could not find process %d: %w", pid, err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		removePIDFile(pidPath)
		return fmt.Errorf("could not stop margin (PID %d): %w", pid, err)
	}

	printSuccess("Sent stop signal to margin (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port))
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Provider", "%s", providerLabel(cfg))
	if strings.EqualFold(cfg.LLM.Provider, "ollama") {
		ollama := llm.NewOllamaClient(llm.OllamaConfig{BaseURL: cfg.LLM.BaseURL})
		if ollama.IsRunning(context.Background()) {
			printStatus("Ollama", "running")
		} else {
			printStatus("Ollama", "not reachable")
		}
	}
	printStatus("Model", "%s", valueOr(cfg.LLM.Model, "(provider default)"))
	printStatus("API token", "%s", setLabel(cfg.Server.APIToken))
	printStatus("Sessions", "up to %d, idle timeout %s", cfg.Session.Max, cfg.Session.TTL)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

// providerLabel names the backend Detect will pick for cfg.
func providerLabel(cfg config.Config) string {
	switch {
	case cfg.LLM.Provider != "":
		return cfg.LLM.Provider
	case cfg.LLM.OpenAIAPIKey != "":
		return "openai (auto)"
	case cfg.LLM.GeminiAPIKey != "":
		return "gemini (auto)"
	default:
		return "not configured"
	}
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func setLabel(v string) string {
	if v == "" {
		return "not set"
	}
	return "set"
}
