// Package session runs one actor goroutine per live match. All
// mutation flows through the inbox, so admin commands are applied in a
// total order and broadcasts go out in the same order they were
// accepted.
package session

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/vbscore/backend/internal/archive"
	"github.com/vbscore/backend/internal/match"
)

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleViewer Role = "viewer"
)

type Phase string

const (
	PhaseOpen    Phase = "open"
	PhaseClosing Phase = "closing"
	PhaseClosed  Phase = "closed"
)

// Close reasons carried on terminal events so clients can tell a
// finished match apart from an expired one.
const (
	ReasonEnded   = "ended"
	ReasonExpired = "expired"
)

type Action string

const (
	ActionPoint    Action = "point"
	ActionUndo     Action = "undo"
	ActionNewSet   Action = "new_set"
	ActionEndMatch Action = "end_match"
)

type Msg interface{ isSessionMsg() }

// Attach registers a connection. The session immediately pushes the
// current view to the new outbox.
type Attach struct {
	ClientID string
	Role     Role
	Outbox   chan Event
}

func (Attach) isSessionMsg() {}

type Detach struct{ ClientID string }

func (Detach) isSessionMsg() {}

// Command is an inbound action. The session checks the sender's role
// itself; commands from viewer attachments never touch state.
type Command struct {
	ClientID string
	Action   Action
	Team     match.Team
}

func (Command) isSessionMsg() {}

// Expire is sent by the registry sweep when the session sat idle past
// its deadline.
type Expire struct{}

func (Expire) isSessionMsg() {}

type GetState struct{ Reply chan StateView }

func (GetState) isSessionMsg() {}

type Shutdown struct{}

func (Shutdown) isSessionMsg() {}

// Event is one per-connection delivery: a versioned view, or a
// terminal redirect with a close reason. Viewers is -1 when the count
// is not disclosed to that connection.
type Event struct {
	Version  int
	View     *match.View
	Viewers  int
	Redirect string
	Reason   string
}

// StateView reflects internal state without data races, for tests and
// match listings.
type StateView struct {
	Version    int
	Phase      Phase
	NumClients int
	State      match.State
}

type client struct {
	role   Role
	outbox chan Event
}

type Session struct {
	inbox      chan Msg
	state      match.State
	version    int
	phase      Phase
	clients    map[string]client
	adminToken string
	lastActive atomic.Int64
	onClosed   func(id, reason string)
	log        *zap.Logger
	ctx        context.Context
	cancel     context.CancelFunc
}

func New(parent context.Context, st match.State, adminToken string, log *zap.Logger, onClosed func(id, reason string)) *Session {
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		inbox:      make(chan Msg, 64),
		state:      st,
		phase:      PhaseOpen,
		clients:    make(map[string]client),
		adminToken: adminToken,
		onClosed:   onClosed,
		log:        log.With(zap.String("match_id", st.ID)),
		ctx:        ctx,
		cancel:     cancel,
	}
	s.touch()
	go s.loop()
	return s
}

func (s *Session) Inbox() chan<- Msg { return s.inbox }

// Done is closed once the session has terminated. The transport
// selects inbox sends and outbox receives against it so a connection
// that races with teardown cannot be left hanging on a dead inbox.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// AdminToken is the opaque capability that distinguishes the
// scorekeeper from viewers. Immutable after creation.
func (s *Session) AdminToken() string { return s.adminToken }

// LastActive reports when the session last saw an attach or an
// accepted admin command. Safe to read from the registry sweep.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

func (s *Session) touch() { s.lastActive.Store(time.Now().UnixNano()) }

func (s *Session) loop() {
	for {
		select {
		case <-s.ctx.Done():
			s.close(ReasonExpired, "")
			return

		case m := <-s.inbox:
			switch msg := m.(type) {
			case Attach:
				if s.phase != PhaseOpen {
					select {
					case msg.Outbox <- Event{Redirect: "/", Reason: ReasonEnded}:
					default:
					}
					close(msg.Outbox)
					break
				}
				s.clients[msg.ClientID] = client{role: msg.Role, outbox: msg.Outbox}
				s.touch()
				s.log.Info("connection attached",
					zap.String("client_id", msg.ClientID),
					zap.String("role", string(msg.Role)))
				msg.Outbox <- s.event(msg.Role)

			case Detach:
				if c, ok := s.clients[msg.ClientID]; ok {
					delete(s.clients, msg.ClientID)
					close(c.outbox)
					s.log.Info("connection detached", zap.String("client_id", msg.ClientID))
				}
				if s.phase == PhaseClosing && len(s.clients) == 0 {
					s.close(ReasonEnded, "")
					return
				}

			case Command:
				if done := s.handleCommand(msg); done {
					return
				}

			case Expire:
				s.log.Info("session expired while idle")
				s.close(ReasonExpired, "/")
				return

			case GetState:
				msg.Reply <- StateView{
					Version:    s.version,
					Phase:      s.phase,
					NumClients: len(s.clients),
					State:      s.state,
				}

			case Shutdown:
				s.close(ReasonExpired, "")
				return
			}
		}
	}
}

// handleCommand applies one admin command and broadcasts the result.
// Returns true when the session reached its terminal state.
func (s *Session) handleCommand(cmd Command) bool {
	if s.phase != PhaseOpen {
		return false
	}
	c, ok := s.clients[cmd.ClientID]
	if !ok || c.role != RoleAdmin {
		s.log.Warn("command from non-admin connection ignored",
			zap.String("client_id", cmd.ClientID),
			zap.String("action", string(cmd.Action)))
		return false
	}
	s.touch()

	var newState match.State
	var err error
	switch cmd.Action {
	case ActionPoint:
		newState, err = match.AddPoint(s.state, cmd.Team)
	case ActionUndo:
		newState, err = match.Undo(s.state)
	case ActionNewSet:
		newState, err = match.NewSet(s.state)
	case ActionEndMatch:
		s.endMatch(cmd.ClientID)
		return true
	default:
		s.log.Warn("unrecognized action ignored",
			zap.String("client_id", cmd.ClientID),
			zap.String("action", string(cmd.Action)))
		return false
	}
	if err != nil {
		s.log.Warn("command rejected",
			zap.String("client_id", cmd.ClientID),
			zap.String("action", string(cmd.Action)),
			zap.Error(err))
		return false
	}

	s.state = newState
	s.version++
	s.broadcast()
	return false
}

// endMatch completes the state, tells every connection where the
// archive lives, and tears the session down.
func (s *Session) endMatch(clientID string) {
	s.phase = PhaseClosing
	s.state = match.EndMatch(s.state)

	token, err := archive.Encode(s.state)
	if err != nil {
		// Token encoding failing would strand clients on a dead match;
		// send them home instead.
		s.log.Error("archive encode failed", zap.Error(err))
		s.close(ReasonEnded, "/")
		return
	}
	s.log.Info("match ended", zap.String("client_id", clientID))
	s.close(ReasonEnded, "/archive?state="+token)
}

// close broadcasts an optional terminal redirect, detaches everyone,
// and reports the session as closed exactly once.
func (s *Session) close(reason, redirect string) {
	if s.phase == PhaseClosed {
		return
	}
	for id, c := range s.clients {
		if redirect != "" {
			select {
			case c.outbox <- Event{Redirect: redirect, Reason: reason}:
			default:
			}
		}
		close(c.outbox)
		delete(s.clients, id)
	}
	s.phase = PhaseClosed
	s.cancel()
	if s.onClosed != nil {
		// The registry may be mid-send to this inbox; notify from a
		// separate goroutine so neither side can block the other.
		go s.onClosed(s.state.ID, reason)
	}
}

// event builds the per-role payload for the current state. The viewer
// count is only disclosed to admin connections.
func (s *Session) event(role Role) Event {
	v := match.Project(s.state)
	e := Event{Version: s.version, View: &v, Viewers: -1}
	if role == RoleAdmin {
		e.Viewers = len(s.clients)
	}
	return e
}

// broadcast fans the current view out to every attachment. A full
// outbox means the connection is slow or dead; it gets dropped rather
// than stalling the command path.
func (s *Session) broadcast() {
	admin := s.event(RoleAdmin)
	viewer := s.event(RoleViewer)
	for id, c := range s.clients {
		e := viewer
		if c.role == RoleAdmin {
			e = admin
		}
		select {
		case c.outbox <- e:
		default:
			s.log.Warn("dropping slow connection", zap.String("client_id", id))
			close(c.outbox)
			delete(s.clients, id)
		}
	}
}
