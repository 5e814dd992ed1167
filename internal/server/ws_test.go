// ABOUTME: Tests for the WebSocket push endpoint using the real feed client.
// ABOUTME: Ends with a full pipeline test: snapshot, live events, resolution.

package server

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hireloop/inbox/internal/inbox"
	"github.com/hireloop/inbox/internal/live"
	"github.com/hireloop/inbox/internal/portal"
	"github.com/hireloop/inbox/internal/store"
	"github.com/hireloop/inbox/internal/wsfeed"
)

func feedURL(base string) string {
	return "ws" + strings.TrimPrefix(base, "http") + "/ws"
}

func mintToken(t *testing.T, s *Server, userID string) string {
	t.Helper()
	token, err := s.verifier.Generate(userID, time.Hour)
	require.NoError(t, err)
	return token
}

func joinFeed(t *testing.T, base, token, userID string) (*wsfeed.Feed, chan []byte) {
	t.Helper()
	feed, err := wsfeed.New(feedURL(base), token, testLogger())
	require.NoError(t, err)

	events := make(chan []byte, 16)
	feed.On(live.EventNewMessage, func(payload []byte) {
		events <- payload
	})
	require.NoError(t, feed.Join(t.Context(), live.UserChannel(userID)))
	t.Cleanup(func() { _ = feed.Disconnect() })
	return feed, events
}

func TestWS_RequiresToken(t *testing.T) {
	_, ts := newTestServer(t)

	dialer := websocket.Dialer{}
	conn, resp, err := dialer.Dial(feedURL(ts.URL), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Nil(t, conn)
}

func TestWS_RejectsForeignChannel(t *testing.T) {
	s, ts := newTestServer(t)
	seedUser(t, s, "u-bob", "bob", "hunter2", "Bob Okafor")

	feed, err := wsfeed.New(feedURL(ts.URL), mintToken(t, s, "u-bob"), testLogger())
	require.NoError(t, err)

	err = feed.Join(t.Context(), live.UserChannel("u-alice"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel not allowed")
}

func TestWS_RejectsNonJoinFirstFrame(t *testing.T) {
	s, ts := newTestServer(t)
	seedUser(t, s, "u-bob", "bob", "hunter2", "Bob Okafor")

	dialer := websocket.Dialer{}
	conn, resp, err := dialer.Dial(feedURL(ts.URL)+"?token="+mintToken(t, s, "u-bob"), nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(wsFrame{Type: frameEvent}))

	var fr wsFrame
	require.NoError(t, conn.ReadJSON(&fr))
	assert.Equal(t, frameError, fr.Type)
	assert.Contains(t, fr.Error, "expected join frame")
}

func TestWS_PushesToBothParticipants(t *testing.T) {
	s, ts := newTestServer(t)
	seedUser(t, s, "u-alice", "alice", "hunter2", "Alice Chen")
	seedUser(t, s, "u-bob", "bob", "hunter2", "Bob Okafor")

	_, aliceEvents := joinFeed(t, ts.URL, mintToken(t, s, "u-alice"), "u-alice")
	_, bobEvents := joinFeed(t, ts.URL, mintToken(t, s, "u-bob"), "u-bob")

	alice := loginClient(t, ts, "alice", "hunter2")
	_, err := alice.SendMessage(t.Context(), "u-bob", "lunch?")
	require.NoError(t, err)

	for name, ch := range map[string]chan []byte{"alice": aliceEvents, "bob": bobEvents} {
		select {
		case payload := <-ch:
			msg, err := live.DecodeEvent(payload)
			require.NoError(t, err, "participant %s", name)
			assert.Equal(t, "u-alice", msg.SenderID)
			assert.Equal(t, "u-bob", msg.ReceiverID)
			assert.Equal(t, "lunch?", msg.Content)
		case <-time.After(3 * time.Second):
			t.Fatalf("participant %s never received the event", name)
		}
	}
}

func TestWS_DeliveredEventsDecode(t *testing.T) {
	s, ts := newTestServer(t)
	seedUser(t, s, "u-bob", "bob", "hunter2", "Bob Okafor")

	_, events := joinFeed(t, ts.URL, mintToken(t, s, "u-bob"), "u-bob")

	at := time.Now().UTC().Truncate(time.Second)
	deliver(t, s, "recruiter-1", "u-bob", "role for you", at)

	select {
	case payload := <-events:
		msg, err := live.DecodeEvent(payload)
		require.NoError(t, err)
		assert.Equal(t, "recruiter-1", msg.SenderID)
		assert.Equal(t, "role for you", msg.Content)
		assert.True(t, msg.OccurredAt.Equal(at))
	case <-time.After(3 * time.Second):
		t.Fatal("event never arrived")
	}
}

// The whole loop: snapshot load over REST, live events over WebSocket,
// identity resolution against the profiles endpoint.
func TestFullPipeline_SnapshotThenLiveUpdates(t *testing.T) {
	s, ts := newTestServer(t)
	seedUser(t, s, "u-bob", "bob", "hunter2", "Bob Okafor")
	seedProfile(t, s, "recruiter-1", "Dana Reeve", "recruiter", "Northbay Labs")
	seedProfile(t, s, "recruiter-2", "Sam Okafor", "recruiter", "Brighthill Talent")

	deliver(t, s, "recruiter-1", "u-bob", "are you open to a chat?",
		time.Now().UTC().Add(-time.Hour).Truncate(time.Second))

	c := portal.New(ts.URL, "", testLogger())
	sess, err := c.Login(t.Context(), "bob", "hunter2")
	require.NoError(t, err)

	feed, err := wsfeed.New(feedURL(ts.URL), sess.Token, testLogger())
	require.NoError(t, err)

	engine := inbox.NewEngine("u-bob", c, c, testLogger())
	t.Cleanup(engine.Close)

	recv := live.NewReceiver(feed, engine, "u-bob", testLogger())
	require.NoError(t, recv.Start(t.Context()))
	t.Cleanup(recv.Stop)

	require.NoError(t, engine.Refresh(t.Context()))
	convs := engine.Conversations()
	require.Len(t, convs, 1)
	assert.Equal(t, "recruiter-1", convs[0].CounterpartyID)
	assert.Equal(t, 1, convs[0].UnreadCount)

	// A second recruiter writes while we are connected: their thread
	// must surface at the top with a resolved profile.
	deliver(t, s, "recruiter-2", "u-bob", "senior role, interested?",
		time.Now().UTC().Truncate(time.Second))

	require.Eventually(t, func() bool {
		convs := engine.Conversations()
		if len(convs) != 2 || convs[0].CounterpartyID != "recruiter-2" {
			return false
		}
		data, resolved := convs[0].Profile.Resolved()
		return resolved && data.DisplayName == "Sam Okafor"
	}, 3*time.Second, 20*time.Millisecond)

	assert.Equal(t, 2, engine.TotalUnread())

	engine.MarkAllRead("recruiter-2")
	require.Eventually(t, func() bool {
		return engine.TotalUnread() == 1
	}, 3*time.Second, 20*time.Millisecond)
}

func TestFullPipeline_GhostRemovedNewcomerKept(t *testing.T) {
	s, ts := newTestServer(t)
	seedUser(t, s, "u-bob", "bob", "hunter2", "Bob Okafor")

	c := portal.New(ts.URL, "", testLogger())
	sess, err := c.Login(t.Context(), "bob", "hunter2")
	require.NoError(t, err)

	feed, err := wsfeed.New(feedURL(ts.URL), sess.Token, testLogger())
	require.NoError(t, err)

	engine := inbox.NewEngine("u-bob", c, c, testLogger())
	t.Cleanup(engine.Close)

	recv := live.NewReceiver(feed, engine, "u-bob", testLogger())
	require.NoError(t, recv.Start(t.Context()))
	t.Cleanup(recv.Stop)
	require.NoError(t, engine.Refresh(t.Context()))

	// Ghost: no profile anywhere, the lookup 404s and the entry is dropped.
	deliver(t, s, "ghost-1", "u-bob", "from nowhere", time.Now().UTC().Truncate(time.Second))

	// Newcomer: profile registered before the message, resolves normally.
	require.NoError(t, s.RegisterProfile(t.Context(), &store.Profile{
		ID:          "recruiter-late",
		DisplayName: "Mira Solanke",
		Category:    "recruiter",
		CreatedAt:   time.Now().UTC(),
	}))
	deliver(t, s, "recruiter-late", "u-bob", "just joined the platform",
		time.Now().UTC().Truncate(time.Second))

	require.Eventually(t, func() bool {
		convs := engine.Conversations()
		if len(convs) != 1 || convs[0].CounterpartyID != "recruiter-late" {
			return false
		}
		data, resolved := convs[0].Profile.Resolved()
		return resolved && data.DisplayName == "Mira Solanke"
	}, 3*time.Second, 20*time.Millisecond)
}
