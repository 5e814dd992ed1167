// ABOUTME: Tests for the portal REST client against httptest servers.
// ABOUTME: Covers auth flows, status mapping, and wire-to-domain conversion.

package portal

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogin_InstallsToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/login":
			var creds map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
			assert.Equal(t, "maya", creds["username"])
			assert.Equal(t, "s3cret", creds["password"])
			json.NewEncoder(w).Encode(Session{Token: "tok-123", UserID: "user-1", DisplayName: "Maya"})
		case "/api/me":
			gotAuth = r.Header.Get("Authorization")
			json.NewEncoder(w).Encode(Account{UserID: "user-1", Username: "maya", DisplayName: "Maya"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := New(srv.URL, "", nil)
	sess, err := client.Login(t.Context(), "maya", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "tok-123", sess.Token)
	assert.Equal(t, "user-1", sess.UserID)

	acct, err := client.Me(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "maya", acct.Username)
	assert.Equal(t, "Bearer tok-123", gotAuth)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(errorResponse{Error: "invalid credentials"})
	}))
	defer srv.Close()

	client := New(srv.URL, "", nil)
	_, err := client.Login(t.Context(), "maya", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoadConversations_MapsWireFormat(t *testing.T) {
	occurred := time.Date(2025, 6, 12, 9, 30, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/conversations", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode([]wireConversation{
			{
				CounterpartyID: "recruiter-7",
				Profile: wireProfile{
					ID:               "recruiter-7",
					DisplayName:      "Dana Reeve",
					Category:         "recruiter",
					OrganizationName: "Northbay Labs",
				},
				LatestMessage: wireMessage{
					SenderID:   "recruiter-7",
					ReceiverID: "user-1",
					Content:    "Still interested?",
					OccurredAt: occurred,
				},
				UnreadCount: 2,
			},
		})
	}))
	defer srv.Close()

	client := New(srv.URL, "tok", nil)
	conversations, err := client.LoadConversations(t.Context())
	require.NoError(t, err)
	require.Len(t, conversations, 1)

	conv := conversations[0]
	assert.Equal(t, "recruiter-7", conv.CounterpartyID)
	assert.Equal(t, 2, conv.UnreadCount)
	assert.Equal(t, "Still interested?", conv.LatestMessage.Content)
	assert.True(t, occurred.Equal(conv.LatestMessage.OccurredAt))

	data, ok := conv.Profile.Resolved()
	require.True(t, ok, "snapshot conversations must carry resolved profiles")
	assert.Equal(t, "Dana Reeve", data.DisplayName)
	assert.Equal(t, "Northbay Labs", data.OrganizationName)
}

func TestLoadConversations_NormalizesOrder(t *testing.T) {
	older := time.Date(2025, 6, 12, 8, 0, 0, 0, time.UTC)
	newer := time.Date(2025, 6, 12, 11, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]wireConversation{
			{CounterpartyID: "old", LatestMessage: wireMessage{SenderID: "old", ReceiverID: "user-1", OccurredAt: older}},
			{CounterpartyID: "new", LatestMessage: wireMessage{SenderID: "new", ReceiverID: "user-1", OccurredAt: newer}},
		})
	}))
	defer srv.Close()

	client := New(srv.URL, "tok", nil)
	conversations, err := client.LoadConversations(t.Context())
	require.NoError(t, err)
	require.Len(t, conversations, 2)
	assert.Equal(t, "new", conversations[0].CounterpartyID)
	assert.Equal(t, "old", conversations[1].CounterpartyID)
}

func TestLoadConversations_EmptySnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]wireConversation{})
	}))
	defer srv.Close()

	client := New(srv.URL, "tok", nil)
	conversations, err := client.LoadConversations(t.Context())
	require.NoError(t, err)
	assert.Empty(t, conversations)
}

func TestLoadConversations_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(errorResponse{Error: "database unavailable"})
	}))
	defer srv.Close()

	client := New(srv.URL, "tok", nil)
	_, err := client.LoadConversations(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database unavailable")
}

func TestResolveProfile_Found(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/profiles/company-3", r.URL.Path)
		json.NewEncoder(w).Encode(wireProfile{
			ID:               "company-3",
			DisplayName:      "Atlas Robotics",
			Category:         "company",
			OrganizationName: "Atlas Robotics",
		})
	}))
	defer srv.Close()

	client := New(srv.URL, "tok", nil)
	data, err := client.ResolveProfile(t.Context(), "company-3")
	require.NoError(t, err)
	assert.Equal(t, "Atlas Robotics", data.DisplayName)
	assert.Equal(t, "company", data.Category)
}

func TestResolveProfile_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client := New(srv.URL, "tok", nil)
	_, err := client.ResolveProfile(t.Context(), "ghost-1")
	assert.ErrorIs(t, err, ErrProfileNotFound)
}

func TestResolveProfile_ServerErrorIsNotNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := New(srv.URL, "tok", nil)
	_, err := client.ResolveProfile(t.Context(), "recruiter-9")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrProfileNotFound)
}

func TestSendMessage_ReturnsPersistedMessage(t *testing.T) {
	occurred := time.Date(2025, 6, 12, 10, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/messages", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "recruiter-7", body["receiver_id"])

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(wireMessage{
			SenderID:   "user-1",
			ReceiverID: body["receiver_id"],
			Content:    body["content"],
			OccurredAt: occurred,
		})
	}))
	defer srv.Close()

	client := New(srv.URL, "tok", nil)
	msg, err := client.SendMessage(t.Context(), "recruiter-7", "Yes, let's talk")
	require.NoError(t, err)
	assert.Equal(t, "user-1", msg.SenderID)
	assert.Equal(t, "Yes, let's talk", msg.Content)
	assert.True(t, occurred.Equal(msg.OccurredAt))
}

func TestMarkRead_PostsToConversation(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.Equal(t, http.MethodPost, r.Method)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := New(srv.URL, "tok", nil)
	require.NoError(t, client.MarkRead(t.Context(), "recruiter-7"))
	assert.Equal(t, "/api/conversations/recruiter-7/read", gotPath)
}

func TestExpiredToken_MapsToUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := New(srv.URL, "stale", nil)
	_, err := client.LoadConversations(t.Context())
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestHealth(t *testing.T) {
	healthy := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/healthz", r.URL.Path)
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	client := New(srv.URL, "", nil)
	require.NoError(t, client.Health(t.Context()))

	healthy = false
	assert.Error(t, client.Health(t.Context()))
}
