// matchdeck - tournament match runtime and stats ledger
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/matchdeck/matchdeck/internal/api"
	"github.com/matchdeck/matchdeck/internal/auth"
	"github.com/matchdeck/matchdeck/internal/config"
	"github.com/matchdeck/matchdeck/internal/domain"
	"github.com/matchdeck/matchdeck/internal/match"
	"github.com/matchdeck/matchdeck/internal/notifier"
	"github.com/matchdeck/matchdeck/internal/stats"
	"github.com/matchdeck/matchdeck/internal/storage"
)

var version = "dev"

const defaultConfigPath = "/etc/matchdeck/config.yml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "init":
		cmdInit(os.Args[2:])
	case "serve":
		cmdServe(os.Args[2:])
	case "matches":
		cmdMatches(os.Args[2:])
	case "token":
		cmdToken(os.Args[2:])
	case "hash-key":
		cmdHashKey(os.Args[2:])
	case "version":
		fmt.Printf("matchdeck %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: matchdeck <command> [options] [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  init                 Write a default config file")
	fmt.Println("  serve                Start the match server")
	fmt.Println("  matches              List known matches")
	fmt.Println("  token [--subject s]  Mint a GLOBAL-scope API token")
	fmt.Println("  hash-key <key>       Print the bcrypt hash of an API key for the config file")
	fmt.Println("  version              Show version")
	fmt.Println("  help                 Show this help")
	fmt.Println()
	fmt.Println("Global Options:")
	fmt.Println("  --config <path>    Path to configuration file (default /etc/matchdeck/config.yml)")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  matchdeck init --config ./matchdeck.yml")
	fmt.Println("  matchdeck serve --config ./matchdeck.yml")
	fmt.Println("  matchdeck token --subject ops")
}

func loadConfig(path string) *config.Config {
	if path == "" {
		path = defaultConfigPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("Failed to load config %s: %v", path, err)
	}
	return cfg
}

// cmdInit writes a default config file
func cmdInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	fs.Parse(args)

	if _, err := os.Stat(*configPath); err == nil {
		fmt.Printf("Config already exists at %s\n", *configPath)
		return
	}

	if err := config.Save(*configPath, config.Default()); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Config: %s\n", *configPath)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Set auth.jwt_secret and auth.api_keys (matchdeck hash-key <key>)")
	fmt.Println("  2. Start the server: matchdeck serve")
}

// cmdServe starts the match server
func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	cfgPath := *configPath
	if cfgPath == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			cfgPath = defaultConfigPath
		} else {
			log.Fatalf("No config file found at %s. Use --config to specify a config file.", defaultConfigPath)
		}
	}

	cfg := loadConfig(cfgPath)
	runtime := config.NewRuntime(cfg)

	log.Printf("Matchdeck %s starting...", version)

	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()
	log.Printf("Database initialized at %s", cfg.Database.Path)

	notify, err := notifier.New()
	if err != nil {
		log.Fatalf("Failed to start notifier: %v", err)
	}
	defer notify.Close()

	ledger := stats.NewLedger(store)
	registry := match.NewRegistry(store, ledger, notify, match.SessionConfig{
		SayPrefix:        cfg.Game.SayPrefix,
		SnapshotDebounce: cfg.Game.SnapshotDebounce,
	})

	authService := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.APIKeys, cfg.Auth.TokenDuration)
	if cfg.Auth.JWTSecret == "" {
		log.Printf("Warning: No JWT secret configured. Token issuance is disabled.")
	}
	if len(cfg.Auth.APIKeys) == 0 {
		log.Printf("Warning: No API keys configured. Only per-match tokens will be accepted.")
	}

	router := api.NewRouter(registry, ledger, authService, notify, runtime)
	if err := router.StartWebSocketHub(); err != nil {
		log.Fatalf("Failed to start websocket hub: %v", err)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.ListenAddr, cfg.Server.HTTPPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("HTTP server listening on %s", addr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, shutting down...", sig)
	case err := <-serverErr:
		log.Fatalf("HTTP server error: %v", err)
	}

	log.Println("Shutting down HTTP server...")
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := server.Shutdown(httpCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	log.Println("Stopping match sessions...")
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	registry.Shutdown(stopCtx)

	log.Println("Shutdown complete")
}

// cmdMatches lists known matches through the HTTP API
func cmdMatches(args []string) {
	fs := flag.NewFlagSet("matches", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	key := fs.String("key", "", "API key (defaults to the first configured key)")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	apiKey := *key
	if apiKey == "" && len(cfg.Auth.APIKeys) > 0 {
		apiKey = cfg.Auth.APIKeys[0]
	}

	url := fmt.Sprintf("http://%s:%d/api/matches", cfg.Server.ListenAddr, cfg.Server.HTTPPort)
	req, _ := http.NewRequest("GET", url, nil)
	req.Header.Set("Authorization", "Bearer "+apiKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Error: server returned %d: %s\n", resp.StatusCode, string(body))
		os.Exit(1)
	}

	var matches []domain.Match
	if err := json.NewDecoder(resp.Body).Decode(&matches); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTEAMS\tSTATE\tMODE\tMAPS\tCREATED")
	fmt.Fprintln(w, "--\t-----\t-----\t----\t----\t-------")
	for _, m := range matches {
		fmt.Fprintf(w, "%s\t%s vs %s\t%s\t%s\t%d\t%s\n",
			m.ID, m.TeamAData.Name, m.TeamBData.Name, m.State, m.Mode,
			len(m.Maps), m.CreatedAt.Format("2006-01-02 15:04"))
	}
	w.Flush()
}

// cmdToken mints a GLOBAL-scope JWT using the configured secret
func cmdToken(args []string) {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	subject := fs.String("subject", "", "token subject")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	if cfg.Auth.JWTSecret == "" {
		fmt.Fprintln(os.Stderr, "Error: no auth.jwt_secret configured")
		os.Exit(1)
	}

	svc := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.APIKeys, cfg.Auth.TokenDuration)
	token, err := svc.GenerateToken(*subject)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}

// cmdHashKey prints the bcrypt hash of an API key
func cmdHashKey(args []string) {
	fs := flag.NewFlagSet("hash-key", flag.ExitOnError)
	fs.Parse(args)

	if len(fs.Args()) < 1 {
		fmt.Fprintln(os.Stderr, "usage: matchdeck hash-key <key>")
		os.Exit(1)
	}

	hash, err := auth.HashKey(fs.Args()[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(hash)
}
