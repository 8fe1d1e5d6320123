// Command swarmd is the long-running swarm orchestrator daemon: it loads
// configuration, opens the SQLite store, assembles the orchestrator, and
// serves the HTTP and MCP-stdio surfaces alongside the scheduling loop,
// until an interrupt or terminate signal arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/abathur/swarm/internal/agentservice"
	"github.com/abathur/swarm/internal/config"
	"github.com/abathur/swarm/internal/httpapi"
	"github.com/abathur/swarm/internal/logging"
	"github.com/abathur/swarm/internal/mcptools"
	"github.com/abathur/swarm/internal/repo/sqlite"
	"github.com/abathur/swarm/internal/swarm"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "swarmd:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a config file (defaults to the user/project search path)")
	projectRoot := flag.String("project", "", "project root whose .swarm/swarm.db to use (defaults to the global data dir)")
	noHTTP := flag.Bool("no-http", false, "disable the HTTP API server")
	noMCP := flag.Bool("no-mcp", false, "disable the MCP stdio server")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := openStore(cfg, *projectRoot)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	debugLog := logging.NewDebugLoggerForDataDir(cfg.GlobalDataDir())
	defer debugLog.Close()

	opts := swarm.DefaultOptions()
	opts.DebugLog = debugLog
	orch, err := swarm.Build(cfg, db, opts)
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	seedAgentTemplates(ctx, orch)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return orch.Run(gctx) })

	if !*noHTTP {
		httpServer := httpapi.NewServer(orch.AgentService(), sqlite.NewMemoryRepository(db), httpapi.WithLogger(log.Default()))
		addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
		g.Go(func() error {
			log.Printf("swarmd: http api listening on %s", addr)
			return httpServer.ListenAndServe(gctx, addr)
		})
	}

	if !*noMCP {
		registry := mcptools.BuildRegistry(orch.TaskService(), orch.AgentService(), sqlite.NewMemoryRepository(db), sqlite.NewGoalRepository(db))
		mcpServer := mcptools.NewServer(registry, mcptools.ServerInfo{Name: "swarm", Version: "0.1.0"}, log.Default())
		g.Go(func() error {
			log.Println("swarmd: mcp server reading stdio")
			return mcpServer.Run(gctx, os.Stdin, os.Stdout)
		})
	}

	return g.Wait()
}

// seedAgentTemplates registers any agent template definitions found in
// the user's agents config directory. Seeding is best-effort; the daemon
// starts regardless.
func seedAgentTemplates(ctx context.Context, orch *swarm.Orchestrator) {
	dir := filepath.Join(config.UserConfigDir(), "agents")
	defs, err := agentservice.LoadSeedDir(dir)
	if err != nil {
		log.Printf("swarmd: load agent template seeds: %v", err)
		return
	}
	if n := orch.AgentService().SeedTemplates(ctx, defs); n > 0 {
		log.Printf("swarmd: seeded %d agent template(s) from %s", n, dir)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

func openStore(cfg *config.Config, projectRoot string) (*sqlite.DB, error) {
	if projectRoot != "" {
		return sqlite.OpenProject(projectRoot)
	}
	if cfg.DataDir != "" {
		return sqlite.Open(cfg.DataDir + "/swarm.db")
	}
	return sqlite.OpenGlobal()
}
