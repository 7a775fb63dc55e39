package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vbscore/backend/internal/match"
	"github.com/vbscore/backend/internal/registry"
	"github.com/vbscore/backend/internal/session"
	"github.com/vbscore/backend/internal/types"
)

func testState(id string) match.State {
	return match.NewState(id,
		match.TeamInfo{Name: "Aces", ColorBG: "#FF0000", ColorFG: "#FFFFFF"},
		match.TeamInfo{Name: "Blockers", ColorBG: "#0000FF", ColorFG: "#FFFFFF"},
		"Gym 3", time.Now())
}

func TestNextEvent_InOrder(t *testing.T) {
	out := make(chan session.Event, 4)
	done := make(chan struct{})

	out <- session.Event{Version: 1}
	out <- session.Event{Version: 2}

	ev, ok := nextEvent(out, done)
	require.True(t, ok)
	assert.Equal(t, 1, ev.Version)
	ev, ok = nextEvent(out, done)
	require.True(t, ok)
	assert.Equal(t, 2, ev.Version)

	close(out)
	_, ok = nextEvent(out, done)
	assert.False(t, ok, "closed outbox should end the writer")
}

func TestNextEvent_DrainsPendingAfterDone(t *testing.T) {
	out := make(chan session.Event, 4)
	done := make(chan struct{})
	close(done)

	out <- session.Event{Redirect: "/archive?state=x", Reason: session.ReasonEnded}
	close(out)

	ev, ok := nextEvent(out, done)
	require.True(t, ok)
	assert.Equal(t, "/archive?state=x", ev.Redirect)

	_, ok = nextEvent(out, done)
	assert.False(t, ok)
}

// A connection whose attach raced the session's teardown is never
// registered; its outbox stays open and silent forever. The writer must
// still get a terminal event instead of blocking on the dead channel.
func TestNextEvent_SessionGoneBeforeAttach(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sess := session.New(ctx, testState("m1"), "tok", zap.NewNop(), nil)

	admin := make(chan session.Event, 8)
	sess.Inbox() <- session.Attach{ClientID: "a1", Role: session.RoleAdmin, Outbox: admin}
	<-admin
	sess.Inbox() <- session.Command{ClientID: "a1", Action: session.ActionEndMatch}

	select {
	case <-sess.Done():
	case <-time.After(time.Second):
		t.Fatal("session did not terminate")
	}

	late := make(chan session.Event, 8)
	got := make(chan session.Event, 1)
	go func() {
		ev, _ := nextEvent(late, sess.Done())
		got <- ev
	}()

	select {
	case ev := <-got:
		assert.Equal(t, "/", ev.Redirect)
		assert.Equal(t, session.ReasonExpired, ev.Reason)
	case <-time.After(time.Second):
		t.Fatal("writer hung on an outbox the session will never close")
	}
}

func TestCloseStatus(t *testing.T) {
	assert.Equal(t, websocket.StatusPolicyViolation, closeStatus(session.ReasonExpired))
	assert.Equal(t, websocket.StatusNormalClosure, closeStatus(session.ReasonEnded))
}

func dialWS(t *testing.T, srvURL, path string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	u := strings.Replace(srvURL, "http", "ws", 1) + path
	conn, _, err := websocket.Dial(ctx, u, nil)
	require.NoError(t, err)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) types.ServerMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg types.ServerMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func readCloseStatus(t *testing.T, conn *websocket.Conn) websocket.StatusCode {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	require.Error(t, err)
	return websocket.CloseStatus(err)
}

func TestHandler_UnknownMatchRedirectsHome(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg := registry.New(ctx, registry.Options{})
	srv := httptest.NewServer(Handler(reg, zap.NewNop()))
	defer srv.Close()

	conn := dialWS(t, srv.URL, "/?match=nope")
	defer conn.CloseNow()

	msg := readMessage(t, conn)
	assert.Equal(t, "redirect", msg.Type)
	assert.Equal(t, "/", msg.Redirect)
	assert.Equal(t, session.ReasonExpired, msg.Reason)
	assert.Equal(t, websocket.StatusPolicyViolation, readCloseStatus(t, conn))
}

func TestHandler_ExpiredSessionClosesWithPolicyViolation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg := registry.New(ctx, registry.Options{})

	reply := make(chan registry.CreateReply, 1)
	reg.Inbox() <- registry.Create{State: testState("m2"), AdminToken: "tok", Reply: reply}
	cr := <-reply
	require.NoError(t, cr.Err)

	srv := httptest.NewServer(Handler(reg, zap.NewNop()))
	defer srv.Close()

	conn := dialWS(t, srv.URL, "/?match=m2")
	defer conn.CloseNow()

	first := readMessage(t, conn)
	assert.Equal(t, "state", first.Type)

	cr.Sess.Inbox() <- session.Expire{}

	msg := readMessage(t, conn)
	assert.Equal(t, "redirect", msg.Type)
	assert.Equal(t, "/", msg.Redirect)
	assert.Equal(t, session.ReasonExpired, msg.Reason)
	assert.Equal(t, websocket.StatusPolicyViolation, readCloseStatus(t, conn))
}

func TestHandler_EndedMatchClosesNormally(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg := registry.New(ctx, registry.Options{})

	reply := make(chan registry.CreateReply, 1)
	reg.Inbox() <- registry.Create{State: testState("m3"), AdminToken: "tok", Reply: reply}
	cr := <-reply
	require.NoError(t, cr.Err)

	srv := httptest.NewServer(Handler(reg, zap.NewNop()))
	defer srv.Close()

	conn := dialWS(t, srv.URL, "/?match=m3&token=tok")
	defer conn.CloseNow()

	first := readMessage(t, conn)
	require.Equal(t, "state", first.Type)
	require.NotNil(t, first.Viewers, "admin connection should see the viewer count")

	wctx, wcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer wcancel()
	payload, _ := json.Marshal(types.ClientMessage{Action: "end_match"})
	require.NoError(t, conn.Write(wctx, websocket.MessageText, payload))

	msg := readMessage(t, conn)
	assert.Equal(t, "redirect", msg.Type)
	assert.True(t, strings.HasPrefix(msg.Redirect, "/archive?state="), "redirect %q", msg.Redirect)
	assert.Equal(t, session.ReasonEnded, msg.Reason)
	assert.Equal(t, websocket.StatusNormalClosure, readCloseStatus(t, conn))
}
