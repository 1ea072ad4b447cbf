package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/agentpay/tagbook/internal/auth"
	"github.com/agentpay/tagbook/internal/client"
	"github.com/agentpay/tagbook/internal/config"
	httpapp "github.com/agentpay/tagbook/internal/http"
	"github.com/agentpay/tagbook/internal/objects"
	"github.com/agentpay/tagbook/internal/rate"
	"github.com/agentpay/tagbook/internal/store/sqlite"
)

// CLIConfig holds the CLI client configuration persisted to disk. The secret
// is the tag's one-time credential; it exists nowhere else.
type CLIConfig struct {
	BaseURL  string `json:"base_url"`
	Username string `json:"username"`
	Secret   string `json:"secret"`
}

func main() {
	if len(os.Args) < 2 {
		runServer()
		return
	}

	cmd := os.Args[1]

	if cmd == "-h" || cmd == "--help" || cmd == "help" {
		printUsage()
		return
	}
	if cmd == "-v" || cmd == "--version" || cmd == "version" {
		fmt.Println("tagbook v0.1.0")
		return
	}
	if strings.HasPrefix(cmd, "-") {
		runServer()
		return
	}

	args := os.Args[2:]

	switch cmd {
	case "server", "serve":
		runServer()
	case "register":
		cmdRegister(args)
	case "lookup":
		cmdLookup(args)
	case "wallet":
		cmdWallet(args)
	case "send":
		cmdSend(args)
	case "receipts", "list":
		cmdReceipts(args)
	case "status", "whoami":
		cmdStatus(args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`tagbook - Tag registry and receipt log for autonomous agents

Usage: tagbook <command> [options]

Quick Start:
  tagbook register --username my_agent            # Claim a tag, save its secret
  tagbook send --to other_agent --amount 1500 --sig <signature>

Client Commands:
  register            Claim a username and store the one-time secret
  lookup              Look up a tag by exact username
  wallet              Update your own wallet address
  send                Create a receipt (you must be one of the parties)
  receipts            List your receipts, newest first
  status              Show current config

Server:
  server              Start the tagbook server (default if no command)

Examples:
  tagbook register --username my_agent --wallet 0xabc...
  tagbook lookup --username other_agent
  tagbook send --to other_agent --amount 1500 --memo "job 42" --sig deadbeef
  tagbook receipts --limit 10

Environment Variables (server):
  TAGBOOK_ADDR                Listen address (default: :8080)
  TAGBOOK_DB                  Database path (default: tagbook.db)
  TAGBOOK_OBJECT_DIR          Object storage directory (default: objects)
  TAGBOOK_BASE_URL            Public base URL for receipt links
  TAGBOOK_MAX_OBJECT_BYTES    Object upload cap (default: 2097152)`)
}

// ============================================================================
// SERVER
// ============================================================================

func runServer() {
	cfg := config.Load()

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open db: %v", err)
	}
	defer store.Close()

	objStore, err := objects.NewDir(cfg.ObjectDir)
	if err != nil {
		log.Fatalf("failed to open object dir: %v", err)
	}

	limiter := rate.NewMemory()
	authSvc := auth.NewService(store)

	server := httpapp.NewServer(store, authSvc, objStore, limiter, cfg)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("tagbook listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctx)
}

// ============================================================================
// CLIENT COMMANDS
// ============================================================================

func cmdRegister(args []string) {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	username := fs.String("username", "", "Username to claim (required)")
	wallet := fs.String("wallet", "", "Optional wallet address")
	baseURL := fs.String("url", "http://localhost:8080", "tagbook server URL")
	fs.Parse(args)

	if *username == "" {
		fmt.Fprintln(os.Stderr, "Error: --username is required")
		fmt.Fprintln(os.Stderr, "Usage: tagbook register --username <name> [--wallet <address>]")
		os.Exit(1)
	}

	c := client.New(strings.TrimSuffix(*baseURL, "/"))
	result, err := c.Register(*username, *wallet)
	if err != nil {
		if errors.Is(err, client.ErrUsernameTaken) {
			fmt.Fprintf(os.Stderr, "Error: username '%s' is already taken\n", *username)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	cfg := CLIConfig{
		BaseURL:  c.BaseURL,
		Username: result.Tag.Username,
		Secret:   result.Secret,
	}
	if err := saveCLIConfig(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		fmt.Fprintf(os.Stderr, "SAVE THIS SECRET NOW, it cannot be recovered: %s\n", result.Secret)
		os.Exit(1)
	}

	fmt.Printf("✓ Registered '%s'\n", result.Tag.Username)
	fmt.Printf("  Config: %s\n", cliConfigPath())
	fmt.Println("  The secret was saved locally and cannot be recovered from the server.")
}

func cmdLookup(args []string) {
	fs := flag.NewFlagSet("lookup", flag.ExitOnError)
	username := fs.String("username", "", "Username to look up (required)")
	fs.Parse(args)

	if *username == "" {
		fmt.Fprintln(os.Stderr, "Error: --username is required")
		os.Exit(1)
	}

	c := loadClient()
	tag, err := c.Lookup(*username)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s\n", tag.Username)
	fmt.Printf("  ID:     %s\n", tag.ID)
	fmt.Printf("  Wallet: %s\n", tag.WalletAddress)
}

func cmdWallet(args []string) {
	fs := flag.NewFlagSet("wallet", flag.ExitOnError)
	address := fs.String("address", "", "New wallet address (required)")
	fs.Parse(args)

	if *address == "" {
		fmt.Fprintln(os.Stderr, "Error: --address is required")
		os.Exit(1)
	}

	c := loadAuthenticatedClient()
	tag, err := c.UpdateWallet(*address)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ Wallet updated for '%s'\n", tag.Username)
	fmt.Printf("  Wallet: %s\n", tag.WalletAddress)
}

func cmdSend(args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	to := fs.String("to", "", "Receiving tag (required)")
	from := fs.String("from", "", "Sending tag (defaults to you)")
	amount := fs.String("amount", "", "Amount in sub-units, non-negative integer (required)")
	memo := fs.String("memo", "", "Memo text")
	sig := fs.String("sig", "", "Transfer signature (required)")
	fs.Parse(args)

	if *to == "" || *amount == "" || *sig == "" {
		fmt.Fprintln(os.Stderr, "Error: --to, --amount and --sig are required")
		os.Exit(1)
	}

	cfg, err := loadCLIConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fromTag := *from
	if fromTag == "" {
		fromTag = cfg.Username
	}

	c := loadAuthenticatedClient()
	result, err := c.CreateReceipt(*sig, *memo, fromTag, *to, *amount)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ Receipt %s -> %s for %s\n", result.Receipt.FromTag, result.Receipt.ToTag, result.Receipt.Amount)
	fmt.Printf("  ID:  %s\n", result.Receipt.ID)
	fmt.Printf("  URL: %s\n", result.URL)
}

func cmdReceipts(args []string) {
	fs := flag.NewFlagSet("receipts", flag.ExitOnError)
	limit := fs.Int("limit", 20, "Receipts per page")
	cursor := fs.String("cursor", "", "Continue from a previous page")
	fs.Parse(args)

	c := loadAuthenticatedClient()
	page, err := c.ListReceipts(*limit, *cursor)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if len(page.Receipts) == 0 {
		fmt.Println("No receipts")
		return
	}
	for _, r := range page.Receipts {
		memo := r.Memo
		if memo == "" {
			memo = "-"
		}
		fmt.Printf("%s  %s -> %s  %s  %s  (%s)\n",
			r.CreatedAt.Format(time.RFC3339), r.FromTag, r.ToTag, r.Amount, memo, r.ID)
	}
	if page.NextCursor != "" {
		fmt.Printf("\nMore: tagbook receipts --cursor %s\n", page.NextCursor)
	}
}

func cmdStatus(args []string) {
	cfg, err := loadCLIConfig()
	if err != nil {
		fmt.Println("Status: Not registered")
		fmt.Println("\nRun: tagbook register --username <name>")
		return
	}

	fmt.Printf("Tag:    %s\n", cfg.Username)
	fmt.Printf("Server: %s\n", cfg.BaseURL)
	if cfg.Secret == "" {
		fmt.Println("Secret: MISSING - re-register under a new username")
	} else {
		fmt.Println("Secret: saved")
	}
}

// ============================================================================
// HELPERS
// ============================================================================

func tagbookDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".tagbook")
}

func cliConfigPath() string {
	return filepath.Join(tagbookDir(), "config.json")
}

func loadCLIConfig() (CLIConfig, error) {
	data, err := os.ReadFile(cliConfigPath())
	if err != nil {
		return CLIConfig{}, errors.New("not registered - run 'tagbook register --username <name>'")
	}
	var cfg CLIConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return CLIConfig{}, err
	}
	return cfg, nil
}

func saveCLIConfig(cfg CLIConfig) error {
	if err := os.MkdirAll(tagbookDir(), 0700); err != nil {
		return err
	}
	data, _ := json.MarshalIndent(cfg, "", "  ")
	return os.WriteFile(cliConfigPath(), data, 0600)
}

func loadClient() *client.Client {
	cfg, err := loadCLIConfig()
	if err != nil {
		return client.New("http://localhost:8080")
	}
	c := client.New(cfg.BaseURL)
	c.Secret = cfg.Secret
	return c
}

func loadAuthenticatedClient() *client.Client {
	cfg, err := loadCLIConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if cfg.Secret == "" {
		fmt.Fprintln(os.Stderr, "Error: no secret saved - re-register under a new username")
		os.Exit(1)
	}
	c := client.New(cfg.BaseURL)
	c.Secret = cfg.Secret
	return c
}
