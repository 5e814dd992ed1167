// ABOUTME: HTTP client for the hireloop portal REST API with JWT bearer auth.
// ABOUTME: Implements the engine's SnapshotLoader and ProfileResolver contracts.

package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/hireloop/inbox/internal/inbox"
)

var (
	// ErrProfileNotFound is returned by ResolveProfile when the portal has
	// no profile for the requested counterparty.
	ErrProfileNotFound = errors.New("profile not found")

	// ErrInvalidCredentials is returned by Login when the portal rejects
	// the username/password pair.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUnauthorized is returned when the portal rejects the session token.
	ErrUnauthorized = errors.New("unauthorized")
)

const defaultRequestTimeout = 15 * time.Second

// Session is the result of a successful login.
type Session struct {
	Token       string `json:"token"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// Account describes the authenticated user as reported by GET /api/me.
type Account struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

// wireMessage mirrors the portal's message JSON.
type wireMessage struct {
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Content    string    `json:"content"`
	OccurredAt time.Time `json:"occurred_at"`
}

// wireProfile mirrors the portal's profile JSON.
type wireProfile struct {
	ID               string `json:"id"`
	DisplayName      string `json:"display_name"`
	Category         string `json:"category"`
	OrganizationName string `json:"organization_name"`
}

// wireConversation is one entry of the GET /api/conversations response.
type wireConversation struct {
	CounterpartyID string      `json:"counterparty_id"`
	Profile        wireProfile `json:"profile"`
	LatestMessage  wireMessage `json:"latest_message"`
	UnreadCount    int         `json:"unread_count"`
}

// Client talks to a hireloop portal over HTTP. The zero value is not
// usable; construct with New. Client is safe for concurrent use once the
// token is set.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
	logger  *slog.Logger
}

// New creates a portal client for the given base URL. The token may be
// empty for clients that will call Login first; SetToken installs the
// session token afterwards.
func New(baseURL, token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpc:   &http.Client{Timeout: defaultRequestTimeout},
		logger:  logger.With("component", "portal"),
	}
}

// SetToken installs the bearer token used on subsequent requests. Call
// before sharing the client across goroutines.
func (c *Client) SetToken(token string) {
	c.token = token
}

// Login exchanges credentials for a session token. The token is also
// installed on the client for subsequent calls.
func (c *Client) Login(ctx context.Context, username, password string) (Session, error) {
	body := map[string]string{"username": username, "password": password}
	var sess Session
	if err := c.doJSON(ctx, http.MethodPost, "/api/login", body, &sess); err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, err
	}
	c.token = sess.Token
	return sess, nil
}

// Me reports the account behind the client's session token.
func (c *Client) Me(ctx context.Context) (Account, error) {
	var acct Account
	if err := c.doJSON(ctx, http.MethodGet, "/api/me", nil, &acct); err != nil {
		return Account{}, err
	}
	return acct, nil
}

// LoadConversations fetches the authoritative conversation snapshot for
// the session owner. Every entry carries the portal's profile data, so
// snapshot conversations are never placeholders.
func (c *Client) LoadConversations(ctx context.Context) ([]inbox.Conversation, error) {
	var wire []wireConversation
	if err := c.doJSON(ctx, http.MethodGet, "/api/conversations", nil, &wire); err != nil {
		return nil, fmt.Errorf("loading conversations: %w", err)
	}

	conversations := make([]inbox.Conversation, 0, len(wire))
	for _, wc := range wire {
		conversations = append(conversations, inbox.Conversation{
			CounterpartyID: wc.CounterpartyID,
			Profile: inbox.ResolvedProfile(inbox.ProfileData{
				ID:               wc.Profile.ID,
				DisplayName:      wc.Profile.DisplayName,
				Category:         wc.Profile.Category,
				OrganizationName: wc.Profile.OrganizationName,
			}),
			LatestMessage: inbox.Message{
				SenderID:   wc.LatestMessage.SenderID,
				ReceiverID: wc.LatestMessage.ReceiverID,
				Content:    wc.LatestMessage.Content,
				OccurredAt: wc.LatestMessage.OccurredAt,
			},
			UnreadCount: wc.UnreadCount,
		})
	}

	// Backend order is untrusted; normalize to newest first here so every
	// consumer sees the display order.
	sort.SliceStable(conversations, func(i, j int) bool {
		return conversations[i].LatestMessage.OccurredAt.After(conversations[j].LatestMessage.OccurredAt)
	})
	return conversations, nil
}

// ResolveProfile looks up a counterparty's identity. A 404 from the
// portal maps to ErrProfileNotFound; anything else is a transport or
// server error.
func (c *Client) ResolveProfile(ctx context.Context, counterpartyID string) (inbox.ProfileData, error) {
	var wire wireProfile
	path := "/api/profiles/" + url.PathEscape(counterpartyID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &wire); err != nil {
		if errors.Is(err, errNotFound) {
			return inbox.ProfileData{}, ErrProfileNotFound
		}
		return inbox.ProfileData{}, fmt.Errorf("resolving profile %s: %w", counterpartyID, err)
	}
	return inbox.ProfileData{
		ID:               wire.ID,
		DisplayName:      wire.DisplayName,
		Category:         wire.Category,
		OrganizationName: wire.OrganizationName,
	}, nil
}

// SendMessage posts a new outgoing message and returns the persisted
// message with the portal-assigned timestamp.
func (c *Client) SendMessage(ctx context.Context, receiverID, content string) (inbox.Message, error) {
	body := map[string]string{"receiver_id": receiverID, "content": content}
	var wire wireMessage
	if err := c.doJSON(ctx, http.MethodPost, "/api/messages", body, &wire); err != nil {
		return inbox.Message{}, fmt.Errorf("sending message: %w", err)
	}
	return inbox.Message{
		SenderID:   wire.SenderID,
		ReceiverID: wire.ReceiverID,
		Content:    wire.Content,
		OccurredAt: wire.OccurredAt,
	}, nil
}

// MarkRead records on the portal that the conversation with the given
// counterparty has been read, so later snapshots report zero unread.
func (c *Client) MarkRead(ctx context.Context, counterpartyID string) error {
	path := "/api/conversations/" + url.PathEscape(counterpartyID) + "/read"
	if err := c.doJSON(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("marking read: %w", err)
	}
	return nil
}

// Health probes the portal's liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("probing health: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("portal unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// errNotFound is the internal marker for 404 responses; exported errors
// are per-operation (ErrProfileNotFound).
var errNotFound = errors.New("not found")

// errorResponse is the portal's JSON error envelope.
type errorResponse struct {
	Error string `json:"error"`
}

// doJSON performs one request against the portal. A non-nil in is
// JSON-encoded as the request body; a non-nil out receives the decoded
// response body. Status codes map to sentinel errors where callers need
// to branch, otherwise to descriptive errors carrying the portal's
// error message.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return errNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("%s %s: %s", method, path, serverError(resp))
	}

	if out == nil {
		// Drain so the connection can be reused.
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

// serverError extracts the portal's error message from a failed
// response, falling back to the bare status.
func serverError(resp *http.Response) string {
	var envelope errorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&envelope); err == nil && envelope.Error != "" {
		return fmt.Sprintf("status %d: %s", resp.StatusCode, envelope.Error)
	}
	return fmt.Sprintf("status %d", resp.StatusCode)
}
