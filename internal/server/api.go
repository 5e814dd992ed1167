// ABOUTME: HTTP API handlers for the dev portal: login, snapshot, profiles, messages.
// ABOUTME: Message delivery persists first, then fans out to WebSocket and NATS.

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hireloop/inbox/internal/auth"
	"github.com/hireloop/inbox/internal/inbox"
	"github.com/hireloop/inbox/internal/live"
	"github.com/hireloop/inbox/internal/natsfeed"
	"github.com/hireloop/inbox/internal/store"
)

// dummyPasswordHash is compared against when the username is unknown, so
// login latency does not reveal which usernames exist.
const dummyPasswordHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// LoginRequest is the JSON request body for POST /api/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is the JSON response for a successful login.
type LoginResponse struct {
	Token       string `json:"token"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// MeResponse is the JSON response for GET /api/me.
type MeResponse struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

// ProfileResponse is the JSON shape of a counterparty profile.
type ProfileResponse struct {
	ID               string `json:"id"`
	DisplayName      string `json:"display_name"`
	Category         string `json:"category"`
	OrganizationName string `json:"organization_name"`
}

// MessageResponse is the JSON shape of a persisted message.
type MessageResponse struct {
	ID         string `json:"id"`
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`
	Content    string `json:"content"`
	OccurredAt string `json:"occurred_at"`
}

// ConversationResponse is one entry of the GET /api/conversations array.
type ConversationResponse struct {
	CounterpartyID string          `json:"counterparty_id"`
	Profile        ProfileResponse `json:"profile"`
	LatestMessage  MessageResponse `json:"latest_message"`
	UnreadCount    int             `json:"unread_count"`
}

// SendMessageRequest is the JSON request body for POST /api/messages.
type SendMessageRequest struct {
	ReceiverID string `json:"receiver_id"`
	Content    string `json:"content"`
}

// handleLogin handles POST /api/login requests.
// It verifies credentials and mints a session token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Username == "" || req.Password == "" {
		s.sendJSONError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := s.store.GetUserByUsername(r.Context(), req.Username)
	if errors.Is(err, store.ErrNotFound) {
		// Burn the same bcrypt cost as the known-user path.
		_ = bcrypt.CompareHashAndPassword([]byte(dummyPasswordHash), []byte(req.Password))
		s.sendJSONError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		s.logger.Error("failed to look up user", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		s.sendJSONError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := s.verifier.Generate(user.ID, s.config.Auth.TokenTTL)
	if err != nil {
		s.logger.Error("failed to generate token", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	s.logger.Info("user logged in", "user_id", user.ID, "username", user.Username)
	s.writeJSON(w, http.StatusOK, LoginResponse{
		Token:       token,
		UserID:      user.ID,
		DisplayName: user.DisplayName,
	})
}

// handleMe handles GET /api/me requests for the authenticated user.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	userID := auth.UserFromContext(r.Context())
	user, err := s.store.GetUser(r.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		s.sendJSONError(w, http.StatusUnauthorized, "unknown user")
		return
	}
	if err != nil {
		s.logger.Error("failed to get user", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	s.writeJSON(w, http.StatusOK, MeResponse{
		UserID:      user.ID,
		Username:    user.Username,
		DisplayName: user.DisplayName,
	})
}

// handleListConversations handles GET /api/conversations requests.
// It returns the aggregated snapshot for the authenticated user: one entry
// per counterparty with the latest message and unread count.
func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	userID := auth.UserFromContext(r.Context())
	rows, err := s.store.ListConversations(r.Context(), userID)
	if err != nil {
		s.logger.Error("failed to list conversations", "error", err, "user_id", userID)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := make([]ConversationResponse, len(rows))
	for i, row := range rows {
		response[i] = ConversationResponse{
			CounterpartyID: row.CounterpartyID,
			Profile: ProfileResponse{
				ID:               row.Profile.ID,
				DisplayName:      row.Profile.DisplayName,
				Category:         row.Profile.Category,
				OrganizationName: row.Profile.OrganizationName,
			},
			LatestMessage: messageResponseOf(row.LatestMessage),
			UnreadCount:   row.UnreadCount,
		}
	}

	s.writeJSON(w, http.StatusOK, response)
}

// handleConversationRoutes routes /api/conversations/{id}/... subpaths.
func (s *Server) handleConversationRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	prefix := "/api/conversations/"
	suffix := "/read"

	if !strings.HasPrefix(path, prefix) || !strings.HasSuffix(path, suffix) {
		s.sendJSONError(w, http.StatusNotFound, "not found")
		return
	}

	counterpartyID := strings.TrimSuffix(strings.TrimPrefix(path, prefix), suffix)
	if counterpartyID == "" || strings.Contains(counterpartyID, "/") {
		s.sendJSONError(w, http.StatusBadRequest, "counterparty id is required")
		return
	}

	s.handleMarkRead(w, r, counterpartyID)
}

// handleMarkRead handles POST /api/conversations/{id}/read requests.
// It moves the authenticated user's read mark for that counterparty to now.
func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request, counterpartyID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	userID := auth.UserFromContext(r.Context())
	if err := s.store.MarkRead(r.Context(), userID, counterpartyID, time.Now().UTC()); err != nil {
		s.logger.Error("failed to mark read", "error", err, "user_id", userID, "counterparty_id", counterpartyID)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleGetProfile handles GET /api/profiles/{id} requests.
// Counterparties without a registered profile return 404.
func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	profileID := strings.TrimPrefix(r.URL.Path, "/api/profiles/")
	if profileID == "" || strings.Contains(profileID, "/") {
		s.sendJSONError(w, http.StatusBadRequest, "profile id is required")
		return
	}

	profile, err := s.store.GetProfile(r.Context(), profileID)
	if errors.Is(err, store.ErrNotFound) {
		s.sendJSONError(w, http.StatusNotFound, "profile not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get profile", "error", err, "profile_id", profileID)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	s.writeJSON(w, http.StatusOK, ProfileResponse{
		ID:               profile.ID,
		DisplayName:      profile.DisplayName,
		Category:         profile.Category,
		OrganizationName: profile.OrganizationName,
	})
}

// handleSendMessage handles POST /api/messages requests.
// The sender is the authenticated user; the message is persisted and then
// pushed to both participants' live channels.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ReceiverID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "receiver_id is required")
		return
	}
	if req.Content == "" {
		s.sendJSONError(w, http.StatusBadRequest, "content is required")
		return
	}

	msg := &store.Message{
		ID:         uuid.NewString(),
		SenderID:   auth.UserFromContext(r.Context()),
		ReceiverID: req.ReceiverID,
		Content:    req.Content,
		// Second precision matches the stored and wire formats.
		OccurredAt: time.Now().UTC().Truncate(time.Second),
	}

	if err := s.Deliver(r.Context(), msg); err != nil {
		s.logger.Error("failed to deliver message", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	s.writeJSON(w, http.StatusCreated, messageResponseOf(msg))
}

// Deliver persists a message and fans it out to both participants' live
// channels. It is the single delivery path for API sends and simulator
// traffic.
func (s *Server) Deliver(ctx context.Context, msg *store.Message) error {
	if err := s.store.SaveMessage(ctx, msg); err != nil {
		return fmt.Errorf("saving message: %w", err)
	}
	s.broadcast(msg)
	return nil
}

// RegisterProfile creates or updates a counterparty profile.
func (s *Server) RegisterProfile(ctx context.Context, profile *store.Profile) error {
	return s.store.UpsertProfile(ctx, profile)
}

// ListUserIDs returns the IDs of all portal accounts.
func (s *Server) ListUserIDs(ctx context.Context) ([]string, error) {
	return s.store.ListUserIDs(ctx)
}

// broadcast pushes a message:new event to the sender's and receiver's
// channels over every enabled transport. Delivery is best effort: the
// message is already persisted and snapshots remain authoritative.
func (s *Server) broadcast(msg *store.Message) {
	data, err := live.EncodeEvent(inbox.Message{
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Content:    msg.Content,
		OccurredAt: msg.OccurredAt,
	})
	if err != nil {
		s.logger.Error("failed to encode event", "error", err)
		return
	}

	participants := []string{msg.SenderID, msg.ReceiverID}
	if msg.SenderID == msg.ReceiverID {
		participants = participants[:1]
	}

	framed, err := json.Marshal(wsFrame{Type: frameEvent, Event: live.EventNewMessage, Data: data})
	if err != nil {
		s.logger.Error("failed to marshal event frame", "error", err)
		return
	}
	for _, userID := range participants {
		s.hub.Publish(userID, framed)
	}

	if s.nc == nil {
		return
	}
	envelope, err := json.Marshal(natsfeed.Envelope{Event: live.EventNewMessage, Data: data})
	if err != nil {
		s.logger.Error("failed to marshal NATS envelope", "error", err)
		return
	}
	for _, userID := range participants {
		subject, err := natsfeed.SubjectFor(s.config.NATS.SubjectPrefix, live.UserChannel(userID))
		if err != nil {
			s.logger.Warn("skipping NATS publish", "user_id", userID, "error", err)
			continue
		}
		if err := s.nc.Publish(subject, envelope); err != nil {
			s.logger.Error("failed to publish to NATS", "subject", subject, "error", err)
		}
	}
}

// messageResponseOf converts a stored message to its JSON shape.
func messageResponseOf(msg *store.Message) MessageResponse {
	return MessageResponse{
		ID:         msg.ID,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Content:    msg.Content,
		OccurredAt: msg.OccurredAt.UTC().Format(time.RFC3339),
	}
}

// writeJSON writes a JSON response with the given status.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
