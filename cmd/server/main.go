package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MereWhiplash/gitmem/internal/config"
	"github.com/MereWhiplash/gitmem/internal/gitinfo"
	"github.com/MereWhiplash/gitmem/internal/service"
	"github.com/MereWhiplash/gitmem/internal/tools"
)

// version is set by goreleaser via ldflags
var version = "dev"

func main() {
	repoFlag := flag.String("repo", "", "Repository path (default: enclosing git repo)")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("gitmem-server %s\n", version)
		return
	}

	cfg := config.FromEnv()
	logger := log.New(os.Stderr, "", log.LstdFlags)

	repoPath := *repoFlag
	if repoPath == "" {
		repoPath = gitinfo.CurrentRepoPath()
	}
	if repoPath == "" {
		logger.Fatal("not inside a git repository: use --repo or run from a work tree")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := service.Open(ctx, repoPath, cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize service: %v", err)
	}
	defer svc.Close()

	if err := svc.EnsureSyncConfig(ctx); err != nil {
		logger.Printf("Warning: failed to configure note sync refspecs: %v", err)
	}

	// Create MCP server
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "gitmem",
		Version: version,
	}, nil)

	// Register tools
	tools.Register(server, svc)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Println("Shutting down...")
		cancel()
	}()

	// Start server with stdio transport
	logger.Printf("Starting gitmem MCP server for %s...", repoPath)
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		logger.Fatalf("Server error: %v", err)
	}
}
