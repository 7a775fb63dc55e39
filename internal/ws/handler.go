// Package ws adapts websocket connections onto a match session: one
// reader loop and one writer goroutine per connection, with the
// session actor doing all the thinking.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vbscore/backend/internal/match"
	"github.com/vbscore/backend/internal/registry"
	"github.com/vbscore/backend/internal/session"
	"github.com/vbscore/backend/internal/types"
)

const writeTimeout = 3 * time.Second

func Handler(reg *registry.Registry, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		matchID := r.URL.Query().Get("match")
		if matchID == "" {
			http.Error(w, "missing match", http.StatusBadRequest)
			return
		}

		reply := make(chan *session.Session, 1)
		reg.Inbox() <- registry.Get{ID: matchID, Reply: reply}
		sess := <-reply

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		// Unknown or expired match: tell the client to go home rather
		// than surfacing a raw error.
		if sess == nil {
			log.Warn("connection for unknown match", zap.String("match_id", matchID))
			sendRedirect(r.Context(), conn, "/", session.ReasonExpired)
			conn.Close(websocket.StatusPolicyViolation, "unknown match")
			return
		}

		role := session.RoleViewer
		if token := r.URL.Query().Get("token"); token != "" && token == sess.AdminToken() {
			role = session.RoleAdmin
		}

		out := make(chan session.Event, 8)
		clientID := uuid.NewString()[:8]

		select {
		case sess.Inbox() <- session.Attach{ClientID: clientID, Role: role, Outbox: out}:
		case <-sess.Done():
			sendRedirect(r.Context(), conn, "/", session.ReasonExpired)
			conn.Close(websocket.StatusPolicyViolation, "session closed")
			return
		}
		defer func() {
			// The session may already be gone (match ended); don't
			// block the handler on a dead inbox.
			select {
			case sess.Inbox() <- session.Detach{ClientID: clientID}:
			default:
			}
		}()

		// Writer goroutine: drains the outbox until a terminal event
		// or the session's end, then closes the socket, which also
		// unblocks the reader.
		writeCtx, writeCancel := context.WithCancel(context.Background())
		defer writeCancel()
		go func() {
			for {
				ev, ok := nextEvent(out, sess.Done())
				if !ok {
					conn.Close(websocket.StatusNormalClosure, "session closed")
					return
				}
				ctx, cancel := context.WithTimeout(writeCtx, writeTimeout)
				payload, _ := json.Marshal(toServerMessage(ev))
				_ = conn.Write(ctx, websocket.MessageText, payload)
				cancel()
				if ev.Redirect != "" {
					conn.Close(closeStatus(ev.Reason), "session closed")
					return
				}
			}
		}()

		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				log.Warn("bad client message",
					zap.String("match_id", matchID),
					zap.String("client_id", clientID))
				continue
			}

			cmd, ok := toCommand(clientID, cm)
			if !ok {
				log.Warn("unparseable action",
					zap.String("match_id", matchID),
					zap.String("client_id", clientID),
					zap.String("action", cm.Action))
				continue
			}
			select {
			case sess.Inbox() <- cmd:
			case <-sess.Done():
				return
			}
		}
	}
}

// nextEvent waits for the next session event. If the session
// terminates without ever closing this outbox (an attach that raced
// teardown), pending events are drained and then a home redirect is
// synthesized so the connection is never left hanging silently.
func nextEvent(out <-chan session.Event, done <-chan struct{}) (session.Event, bool) {
	select {
	case ev, ok := <-out:
		return ev, ok
	case <-done:
		select {
		case ev, ok := <-out:
			return ev, ok
		default:
			return session.Event{Redirect: "/", Reason: session.ReasonExpired}, true
		}
	}
}

// closeStatus mirrors the close codes clients key off: a policy
// violation for an expired session, a normal closure for a match that
// ended.
func closeStatus(reason string) websocket.StatusCode {
	if reason == session.ReasonExpired {
		return websocket.StatusPolicyViolation
	}
	return websocket.StatusNormalClosure
}

func sendRedirect(ctx context.Context, conn *websocket.Conn, url, reason string) {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	payload, _ := json.Marshal(types.ServerMessage{Type: "redirect", Redirect: url, Reason: reason})
	_ = conn.Write(wctx, websocket.MessageText, payload)
}

func toCommand(clientID string, m types.ClientMessage) (session.Command, bool) {
	cmd := session.Command{ClientID: clientID, Action: session.Action(m.Action)}
	switch cmd.Action {
	case session.ActionPoint:
		team, ok := parseTeam(m.Team)
		if !ok {
			return session.Command{}, false
		}
		cmd.Team = team
	case session.ActionUndo, session.ActionNewSet, session.ActionEndMatch:
	default:
		return session.Command{}, false
	}
	return cmd, true
}

func parseTeam(team string) (match.Team, bool) {
	switch team {
	case "a":
		return match.TeamA, true
	case "b":
		return match.TeamB, true
	default:
		return "", false
	}
}

func toServerMessage(ev session.Event) types.ServerMessage {
	if ev.Redirect != "" {
		return types.ServerMessage{Type: "redirect", Redirect: ev.Redirect, Reason: ev.Reason}
	}
	msg := types.ServerMessage{
		Type:    "state",
		Version: ev.Version,
		Set:     ev.View.SetIndex,
		Score:   &types.SetScore{A: ev.View.Current.A, B: ev.View.Current.B},
		Sets:    make([]types.SetScore, 0, len(ev.View.Completed)),
		Done:    ev.View.Done,
	}
	for _, s := range ev.View.Completed {
		msg.Sets = append(msg.Sets, types.SetScore{A: s.A, B: s.B})
	}
	if ev.Viewers >= 0 {
		viewers := ev.Viewers
		msg.Viewers = &viewers
	}
	return msg
}
