// ABOUTME: Terminal inbox client for the hireloop portal
// ABOUTME: Renders the live conversation list and accepts read/send commands

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/hireloop/inbox/internal/inbox"
	"github.com/hireloop/inbox/internal/live"
	"github.com/hireloop/inbox/internal/natsfeed"
	"github.com/hireloop/inbox/internal/portal"
	"github.com/hireloop/inbox/internal/wsfeed"
)

var version = "dev"

type options struct {
	portalURL     string
	feed          string
	natsURL       string
	subjectPrefix string
	login         string
	once          bool
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	portalURL := flag.String("portal", cfg.Portal.URL, "portal base URL")
	feed := flag.String("feed", cfg.Feed.Transport, "live feed transport (ws or nats)")
	natsURL := flag.String("nats", cfg.Feed.NATSURL, "NATS server URL, used with -feed nats")
	login := flag.String("login", "", "log in as this username and store the token")
	once := flag.Bool("once", false, "print the current inbox and exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := setupLogger(cfg.Logging)

	opts := options{
		portalURL:     *portalURL,
		feed:          *feed,
		natsURL:       *natsURL,
		subjectPrefix: cfg.Feed.SubjectPrefix,
		login:         *login,
		once:          *once,
	}

	if err := run(ctx, opts, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, logger *slog.Logger) error {
	if !opts.once {
		headerColor.Println("hireloop inbox")
		metaColor.Printf("terminal client, version: %s\n\n", version)
	}

	token := getToken()
	client := portal.New(opts.portalURL, token, logger)

	if opts.login != "" {
		sess, err := doLogin(ctx, client, opts.login)
		if err != nil {
			return err
		}
		token = sess.Token
		if path, err := saveToken(token); err != nil {
			logger.Warn("could not store token", "error", err)
		} else {
			fmt.Printf("Logged in as %s, token stored in %s\n", sess.DisplayName, path)
		}
	}

	if token == "" {
		return errors.New("no session token: run with -login <username>, or set INBOX_TOKEN")
	}

	me, err := client.Me(ctx)
	if err != nil {
		if errors.Is(err, portal.ErrUnauthorized) {
			return errors.New("session rejected by portal: log in again with -login <username>")
		}
		return fmt.Errorf("reaching portal: %w", err)
	}

	engine := inbox.NewEngine(me.UserID, client, client, logger)
	defer engine.Close()

	if opts.once {
		if err := engine.Refresh(ctx); err != nil {
			return fmt.Errorf("loading conversations: %w", err)
		}
		render(engine.Conversations(), engine.TotalUnread())
		return nil
	}

	feed, err := openFeed(opts, token, logger)
	if err != nil {
		return err
	}

	recv := live.NewReceiver(feed, engine, me.UserID, logger)
	if err := recv.Start(ctx); err != nil {
		return fmt.Errorf("joining live feed: %w", err)
	}
	defer recv.Stop()

	// Watch before the snapshot loads so the initial render arrives
	// through the same update channel as everything after it.
	updates, watchID := engine.Watch(ctx)
	defer engine.Unwatch(watchID)
	go func() {
		for update := range updates {
			render(update.Conversations, update.TotalUnread)
		}
	}()

	fmt.Printf("Connected as %s over %s. Type help for commands.\n", me.DisplayName, opts.feed)

	// A failed first load is not fatal: the feed is up and r retries.
	if err := engine.Refresh(ctx); err != nil {
		printSnapshotError(err)
	}

	return commandLoop(ctx, client, engine)
}

// commandLoop reads commands from stdin until quit, EOF, or ctx cancel.
// Reads happen on a goroutine so a pending read never blocks shutdown.
func commandLoop(ctx context.Context, client *portal.Client, engine *inbox.Engine) error {
	scanner := bufio.NewScanner(os.Stdin)
	inputCh := make(chan string)
	errCh := make(chan error, 1)

	go func() {
		for scanner.Scan() {
			inputCh <- scanner.Text()
		}
		errCh <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nGoodbye!")
			return nil
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("reading input: %w", err)
			}
			return nil
		case line := <-inputCh:
			input := strings.TrimSpace(line)
			if input == "" {
				render(engine.Conversations(), engine.TotalUnread())
				continue
			}
			quit, err := dispatch(ctx, client, engine, input)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				continue
			}
			if quit {
				fmt.Println("Goodbye!")
				return nil
			}
		}
	}
}

func dispatch(ctx context.Context, client *portal.Client, engine *inbox.Engine, input string) (bool, error) {
	fields := strings.Fields(input)

	// A bare list position opens that conversation.
	if n, err := strconv.Atoi(fields[0]); err == nil {
		return false, openConversation(ctx, client, engine, n)
	}

	switch fields[0] {
	case "q", "quit", "exit":
		return true, nil

	case "help":
		printHelp()
		return false, nil

	case "r":
		if err := engine.Refresh(ctx); err != nil {
			printSnapshotError(err)
		}
		return false, nil

	case "s":
		parts := strings.SplitN(input, " ", 3)
		if len(parts) < 3 || strings.TrimSpace(parts[2]) == "" {
			return false, errors.New("usage: s <n> <message>")
		}
		conv, err := conversationAt(engine, parts[1])
		if err != nil {
			return false, err
		}
		if _, err := client.SendMessage(ctx, conv.CounterpartyID, strings.TrimSpace(parts[2])); err != nil {
			return false, fmt.Errorf("sending message: %w", err)
		}
		return false, nil

	default:
		return false, fmt.Errorf("unknown command %q, type help for commands", fields[0])
	}
}

// openConversation prints conversation n and marks it read, on the portal
// first so a later snapshot agrees with the local view.
func openConversation(ctx context.Context, client *portal.Client, engine *inbox.Engine, n int) error {
	conv, err := conversationAt(engine, strconv.Itoa(n))
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println(renderName(conv))
	metaColor.Printf("  id %s\n", conv.CounterpartyID)
	fmt.Printf("  %s\n", conv.LatestMessage.Content)
	metaColor.Printf("  %s\n", timeAgo(conv.LatestMessage.OccurredAt))

	if conv.UnreadCount == 0 {
		return nil
	}
	if err := client.MarkRead(ctx, conv.CounterpartyID); err != nil {
		return fmt.Errorf("marking read: %w", err)
	}
	engine.MarkAllRead(conv.CounterpartyID)
	return nil
}

// conversationAt resolves a 1-based list position against the current view.
func conversationAt(engine *inbox.Engine, arg string) (inbox.Conversation, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return inbox.Conversation{}, fmt.Errorf("not a conversation number: %q", arg)
	}
	convs := engine.Conversations()
	if n < 1 || n > len(convs) {
		return inbox.Conversation{}, fmt.Errorf("no conversation %d, the list has %d", n, len(convs))
	}
	return convs[n-1], nil
}

func openFeed(opts options, token string, logger *slog.Logger) (live.Feed, error) {
	switch opts.feed {
	case "ws":
		feedURL, err := deriveFeedURL(opts.portalURL)
		if err != nil {
			return nil, err
		}
		return wsfeed.New(feedURL, token, logger)
	case "nats":
		return natsfeed.New(opts.natsURL, opts.subjectPrefix, logger), nil
	default:
		return nil, fmt.Errorf("unknown feed transport %q (want ws or nats)", opts.feed)
	}
}

// deriveFeedURL maps the portal's HTTP base URL to its websocket endpoint.
func deriveFeedURL(portalURL string) (string, error) {
	u, err := url.Parse(portalURL)
	if err != nil {
		return "", fmt.Errorf("parsing portal URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("portal URL must be http or https, got %q", u.Scheme)
	}
	u.Path = "/ws"
	return u.String(), nil
}

func doLogin(ctx context.Context, client *portal.Client, username string) (portal.Session, error) {
	fmt.Printf("Password for %s: ", username)
	reader := bufio.NewReader(os.Stdin)
	password, err := reader.ReadString('\n')
	if err != nil {
		return portal.Session{}, fmt.Errorf("reading password: %w", err)
	}
	sess, err := client.Login(ctx, username, strings.TrimSpace(password))
	if err != nil {
		if errors.Is(err, portal.ErrInvalidCredentials) {
			return portal.Session{}, errors.New("invalid credentials")
		}
		return portal.Session{}, fmt.Errorf("logging in: %w", err)
	}
	return sess, nil
}

// getToken returns the session token from INBOX_TOKEN or the token file.
func getToken() string {
	if token := os.Getenv("INBOX_TOKEN"); token != "" {
		return token
	}
	data, err := os.ReadFile(tokenPath())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// tokenPath is shared with the portal's token subcommand, so a token
// minted there is picked up here without extra plumbing.
func tokenPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "token"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "hireloop", "token")
}

func saveToken(token string) (string, error) {
	path := tokenPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
		return "", err
	}
	return path, nil
}

func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  <n>          open conversation <n> and mark it read")
	fmt.Println("  s <n> <msg>  send <msg> to conversation <n>")
	fmt.Println("  r            re-sync the list from the portal")
	fmt.Println("  help         show this help")
	fmt.Println("  q            quit")
	fmt.Println()
	fmt.Println("An empty line reprints the inbox.")
}

func printSnapshotError(err error) {
	errColor.Printf("! %v\n", err)
	metaColor.Println("Could not load the inbox. Type r to retry.")
}

var (
	headerColor  = color.New(color.FgCyan, color.Bold)
	nameColor    = color.New(color.Bold)
	unreadColor  = color.New(color.FgYellow, color.Bold)
	metaColor    = color.New(color.FgHiBlack)
	pendingColor = color.New(color.FgHiBlack, color.Italic)
	errColor     = color.New(color.FgRed, color.Bold)
)

func render(convs []inbox.Conversation, totalUnread int) {
	fmt.Println()
	headerColor.Print("inbox")
	metaColor.Printf("  %d conversations, %d unread\n", len(convs), totalUnread)
	if len(convs) == 0 {
		metaColor.Println("  no conversations yet")
		return
	}
	for i, c := range convs {
		marker := " "
		if c.UnreadCount > 0 {
			marker = unreadColor.Sprint("*")
		}
		line := fmt.Sprintf("%3d. %s %s  %s", i+1, marker, renderName(c), metaColor.Sprint(timeAgo(c.LatestMessage.OccurredAt)))
		if c.UnreadCount > 0 {
			line += unreadColor.Sprintf("  %d unread", c.UnreadCount)
		}
		fmt.Println(line)
		fmt.Printf("       %s\n", preview(c.LatestMessage.Content))
	}
}

func renderName(c inbox.Conversation) string {
	data, ok := c.Profile.Resolved()
	if !ok {
		return pendingColor.Sprintf("%s (resolving...)", c.CounterpartyID)
	}
	name := nameColor.Sprint(data.DisplayName)
	if data.OrganizationName != "" {
		name += metaColor.Sprintf(" (%s)", data.OrganizationName)
	}
	if data.Category != "" {
		name += metaColor.Sprintf(" [%s]", data.Category)
	}
	return name
}

func preview(content string) string {
	content = strings.Join(strings.Fields(content), " ")
	const max = 72
	runes := []rune(content)
	if len(runes) <= max {
		return content
	}
	return string(runes[:max-3]) + "..."
}

func timeAgo(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func setupLogger(cfg LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(&colorHandler{level: level})
}

// colorHandler colorizes log lines on stderr, keeping stdout for the
// rendered inbox.
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

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

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

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Fprint(os.Stderr, buf.String())
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
