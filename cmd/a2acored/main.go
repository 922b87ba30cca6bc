// Command a2acored is the process entrypoint: it loads an AgentConfig,
// wires every runtime component, serves the A2A HTTP endpoint, and drains
// in-flight turns on shutdown up to a grace deadline (spec section 5).
// Grounded on the teacher's cmd/hector/main.go (kong-based CLI with a
// Serve subcommand) and cmd/hector/serve.go's
// signal.Notify/context.WithTimeout graceful-shutdown sequence.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/agentfabric/a2acore/internal/a2aserver"
	"github.com/agentfabric/a2acore/internal/agentconfig"
	"github.com/agentfabric/a2acore/internal/capability"
	"github.com/agentfabric/a2acore/internal/card"
	"github.com/agentfabric/a2acore/internal/llm/httpadapter"
	"github.com/agentfabric/a2acore/internal/obs"
	"github.com/agentfabric/a2acore/internal/registry"
	"github.com/agentfabric/a2acore/internal/session"
	"github.com/agentfabric/a2acore/internal/task"
	"github.com/agentfabric/a2acore/internal/turn"
)

// CLI is the top-level kong command tree.
type CLI struct {
	Serve   ServeCmd   `cmd:"" help:"Start the A2A agent server."`
	Version VersionCmd `cmd:"" help:"Show version information."`
}

// VersionCmd prints the build version.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		version = info.Main.Version
	}
	fmt.Printf("a2acored version %s\n", version)
	return nil
}

// ServeCmd starts the A2A agent server.
type ServeCmd struct {
	Config    string `short:"c" required:"" help:"Path to the agent config YAML file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFormat string `help:"Log format (json, text)." default:"json"`
}

func (c *ServeCmd) Run() error {
	logger := obs.New(c.LogFormat, c.LogLevel)

	cfg, err := agentconfig.Load(c.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	selfURL := "http://" + cfg.Server.Addr
	prober := capability.New(selfURL)
	reg := registry.New(prober)

	adapter := httpadapter.New(httpadapter.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		MaxRetries:  cfg.LLM.MaxRetries,
	})

	sessions := session.NewStore()
	tasks := task.NewManager()
	executor := turn.New(adapter, reg)
	executor.MaxToolCalls = cfg.MaxToolCallsPerTurn

	cardBuilder := card.New(card.Identity{
		Name:        cfg.DisplayName,
		AgentID:     cfg.AgentID,
		Description: cfg.Instructions,
		Greeting:    cfg.Greeting,
		Version:     cfg.Version,
	}, reg)

	promptBuilder := func(caps []turn.CapabilitySummary) string {
		prompt := cfg.BaseSystemPrompt
		if cfg.Personality != "" {
			prompt += "\n\n" + cfg.Personality
		}
		prompt += "\n\nAvailable capabilities:"
		for _, cp := range caps {
			prompt += fmt.Sprintf("\n- %s: %s", cp.Name, cp.Description)
		}
		return prompt
	}

	srv := a2aserver.New(logger, tasks, sessions, reg, executor, cardBuilder, promptBuilder)
	srv.SetTurnDeadline(time.Duration(cfg.TurnDeadlineMS) * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, url := range cfg.InitialCapabilityURLs {
		if _, err := reg.Add(ctx, url); err != nil {
			logger.Warn("failed to attach initial capability", "url", url, "error", err.Error())
		}
	}

	httpServer := &http.Server{Addr: cfg.Server.Addr, Handler: srv.Router()}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("a2acored listening", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownGraceMS)*time.Millisecond)
	defer shutdownCancel()
	shutdownErr := httpServer.Shutdown(shutdownCtx)
	for _, cs := range reg.List() {
		reg.Remove(cs.URL)
	}
	return shutdownErr
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("a2acored"),
		kong.Description("A2A hierarchical multi-agent fabric runtime."),
	)
	if err := ctx.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
