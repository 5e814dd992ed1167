// ABOUTME: Entry point for the hireloop dev portal server
// ABOUTME: Serves the REST and WebSocket APIs backed by SQLite and optional NATS

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hireloop/inbox/internal/auth"
	"github.com/hireloop/inbox/internal/config"
	"github.com/hireloop/inbox/internal/server"
	"github.com/hireloop/inbox/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _      _                _
| |__  (_) _ __    ___  | |  ___    ___   _ __
| '_ \ | || '__|  / _ \ | | / _ \  / _ \ | '_ \
| | | || || |    |  __/ | || (_) || (_) || |_) |
|_| |_||_||_|     \___| |_| \___/  \___/ | .__/
                                         |_|
`

// getConfigPath returns the path to the portal config file.
// Priority: HIRELOOP_PORTAL_CONFIG env var > XDG_CONFIG_HOME/hireloop/portal.yaml > ~/.config/hireloop/portal.yaml
func getConfigPath() string {
	if envPath := os.Getenv("HIRELOOP_PORTAL_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "portal.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "hireloop", "portal.yaml")
}

// getDataPath returns the path to the hireloop data directory.
// Priority: XDG_DATA_HOME/hireloop > ~/.local/share/hireloop
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "hireloop")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: fake-portal <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve             Start the dev portal server")
		fmt.Println("  init              Create a new config file interactively")
		fmt.Println("  seed              Create demo accounts, profiles, and history")
		fmt.Println("  token <username>  Mint a session token for an account")
		fmt.Println("  health            Check portal health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "seed":
		err = runSeed(ctx)
	case "token":
		err = runToken(ctx)
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    dev portal, version: %s\n\n", version)

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)

	// Startup info
	green := color.New(color.FgGreen)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	if cfg.NATS.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("NATS:      %s (prefix %s)\n", cfg.NATS.URL, cfg.NATS.SubjectPrefix)
	}
	if cfg.Simulator.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Simulator: every %s (ghosts %.0f%%, newcomers %.0f%%)\n",
			cfg.Simulator.Interval, cfg.Simulator.GhostRatio*100, cfg.Simulator.NewcomerRatio*100)
	}

	fmt.Println()

	logger.Info("starting fake-portal",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	// Create and run the portal
	srv, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	return srv.Run(ctx)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/healthz", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

// seedAccount is one demo login created by the seed command.
type seedAccount struct {
	id          string
	username    string
	displayName string
}

var seedAccounts = []seedAccount{
	{"u-alice", "alice", "Alice Chen"},
	{"u-bob", "bob", "Bob Okafor"},
}

// seedPassword is shared by all demo accounts.
const seedPassword = "hireloop"

// runSeed populates the database with demo accounts, counterparty
// profiles, and a little message history so the inbox has something to
// show on first login.
func runSeed(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)

	green.Printf("  ✓ Database: %s\n", cfg.Database.Path)

	// Refuse to double-seed.
	if _, err := s.GetUserByUsername(ctx, seedAccounts[0].username); err == nil {
		return fmt.Errorf("seed already applied: user %q exists", seedAccounts[0].username)
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("checking existing users: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(seedPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	now := time.Now().UTC()
	for _, acct := range seedAccounts {
		if err := s.CreateUser(ctx, &store.User{
			ID:           acct.id,
			Username:     acct.username,
			PasswordHash: string(hash),
			DisplayName:  acct.displayName,
			CreatedAt:    now,
		}); err != nil {
			return fmt.Errorf("creating user %s: %w", acct.username, err)
		}
		// Accounts get a candidate profile so they resolve in each
		// other's inboxes.
		if err := s.UpsertProfile(ctx, &store.Profile{
			ID:          acct.id,
			DisplayName: acct.displayName,
			Category:    "candidate",
			CreatedAt:   now,
		}); err != nil {
			return fmt.Errorf("creating profile for %s: %w", acct.username, err)
		}
		green.Printf("  ✓ Created account: %s (%s)\n", acct.username, acct.displayName)
	}

	counterparties := []*store.Profile{
		{ID: "recruiter-dana", DisplayName: "Dana Reeve", Category: "recruiter", OrganizationName: "Northbay Labs", CreatedAt: now},
		{ID: "company-atlas", DisplayName: "Atlas Robotics", Category: "company", OrganizationName: "Atlas Robotics", CreatedAt: now},
	}
	for _, p := range counterparties {
		if err := s.UpsertProfile(ctx, p); err != nil {
			return fmt.Errorf("creating profile %s: %w", p.ID, err)
		}
		green.Printf("  ✓ Created profile: %s (%s)\n", p.ID, p.DisplayName)
	}

	history := []struct {
		sender, receiver, content string
		ago                       time.Duration
	}{
		{"recruiter-dana", "u-alice", "Hi Alice! I came across your profile and think you'd be a great fit for a platform role.", 3 * time.Hour},
		{"recruiter-dana", "u-alice", "Are you open to a quick chat this week?", 2 * time.Hour},
		{"company-atlas", "u-alice", "Thanks for applying to Atlas Robotics. We'd like to move forward.", 90 * time.Minute},
		{"u-bob", "u-alice", "Did that recruiter from Northbay reach out to you too?", time.Hour},
		{"u-alice", "u-bob", "Yes! Call scheduled for Thursday.", 55 * time.Minute},
		{"recruiter-dana", "u-bob", "Hi Bob, we have a senior position that matches your experience.", 30 * time.Minute},
	}
	for _, m := range history {
		if err := s.SaveMessage(ctx, &store.Message{
			ID:         uuid.NewString(),
			SenderID:   m.sender,
			ReceiverID: m.receiver,
			Content:    m.content,
			OccurredAt: now.Add(-m.ago).Truncate(time.Second),
		}); err != nil {
			return fmt.Errorf("saving message: %w", err)
		}
	}
	green.Printf("  ✓ Saved %d messages of history\n", len(history))

	fmt.Println()
	green.Println("  Seed complete!")
	fmt.Println()
	cyan.Println("  Demo accounts")
	cyan.Println("  -------------")
	for _, acct := range seedAccounts {
		fmt.Printf("  %-8s password: %s\n", acct.username, seedPassword)
	}
	fmt.Println()
	fmt.Println("  Next steps:")
	fmt.Println("    fake-portal serve          # start the portal")
	fmt.Println("    fake-portal token alice    # mint a session token")
	fmt.Println()

	return nil
}

// runToken mints a session token for an existing account and saves it
// where the inbox TUI looks for it.
func runToken(ctx context.Context) error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: fake-portal token <username>")
	}
	username := os.Args[2]

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	user, err := s.GetUserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no account with username %q (run 'fake-portal seed' first)", username)
	}
	if err != nil {
		return fmt.Errorf("looking up user: %w", err)
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	token, err := verifier.Generate(user.ID, cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	tokenPath := filepath.Join(filepath.Dir(configPath), "token")
	if err := os.WriteFile(tokenPath, []byte(token), 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Saved token: %s\n", tokenPath)
	fmt.Printf("  User:    %s (%s)\n", user.Username, user.ID)
	fmt.Printf("  Expires: %s\n", time.Now().Add(cfg.Auth.TokenTTL).UTC().Format("Jan 02, 2006 15:04 MST"))
	fmt.Println()
	fmt.Println(token)

	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("fake-portal configuration setup")
	fmt.Println("===============================")
	fmt.Println()

	// Default paths
	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "portal.db")

	// Output filename
	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	// Check if file exists
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	// Server configuration
	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8484")

	// Database
	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	// NATS
	fmt.Println("\n--- NATS Configuration ---")
	enableNATS := prompt(reader, "Publish events to NATS?", "no")
	natsEnabled := strings.ToLower(enableNATS) == "yes" || strings.ToLower(enableNATS) == "y"

	var natsURL string
	if natsEnabled {
		natsURL = prompt(reader, "NATS URL", "nats://localhost:4222")
	}

	// Simulator
	fmt.Println("\n--- Simulator Configuration ---")
	enableSim := prompt(reader, "Generate synthetic traffic?", "yes")
	simEnabled := strings.ToLower(enableSim) == "yes" || strings.ToLower(enableSim) == "y"

	var simInterval string
	if simEnabled {
		simInterval = prompt(reader, "Message interval", "3s")
	}

	// Tailscale
	fmt.Println("\n--- Tailscale Configuration ---")
	enableTailscale := prompt(reader, "Enable Tailscale?", "no")
	tailscaleEnabled := strings.ToLower(enableTailscale) == "yes" || strings.ToLower(enableTailscale) == "y"

	var tsHostname, tsAuthKey string
	var tsEphemeral bool
	if tailscaleEnabled {
		tsHostname = prompt(reader, "Tailscale hostname", "hireloop-portal")
		tsAuthKey = prompt(reader, "Tailscale auth key (leave empty for TS_AUTHKEY)", "")
		ephemeralStr := prompt(reader, "Ephemeral node?", "no")
		tsEphemeral = strings.ToLower(ephemeralStr) == "yes" || strings.ToLower(ephemeralStr) == "y"
	}

	// Logging
	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	// Generate a random JWT secret; the dev portal never prompts for one.
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	jwtSecret := base64.StdEncoding.EncodeToString(secretBytes)

	// Generate config
	var cfg strings.Builder
	cfg.WriteString("# fake-portal configuration\n")
	cfg.WriteString("# Generated by fake-portal init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: \"%s\"\n", httpAddr))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  jwt_secret: \"%s\"\n", jwtSecret))
	cfg.WriteString("  token_ttl: \"24h\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("nats:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", natsEnabled))
	if natsEnabled {
		cfg.WriteString(fmt.Sprintf("  url: \"%s\"\n", natsURL))
		cfg.WriteString("  subject_prefix: \"hireloop\"\n")
	}
	cfg.WriteString("\n")

	cfg.WriteString("simulator:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", simEnabled))
	if simEnabled {
		cfg.WriteString(fmt.Sprintf("  interval: \"%s\"\n", simInterval))
		cfg.WriteString("  ghost_ratio: 0.1\n")
		cfg.WriteString("  newcomer_ratio: 0.2\n")
	}
	cfg.WriteString("\n")

	cfg.WriteString("tailscale:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", tailscaleEnabled))
	if tailscaleEnabled {
		cfg.WriteString(fmt.Sprintf("  hostname: \"%s\"\n", tsHostname))
		if tsAuthKey != "" {
			cfg.WriteString(fmt.Sprintf("  auth_key: \"%s\"\n", tsAuthKey))
		}
		cfg.WriteString(fmt.Sprintf("  ephemeral: %t\n", tsEphemeral))
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	// Ensure config directory exists
	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// Write config file
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	// Ensure data directory exists
	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo get going:")
	fmt.Printf("  fake-portal seed     # demo accounts and history\n")
	fmt.Printf("  fake-portal serve    # start the portal\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
