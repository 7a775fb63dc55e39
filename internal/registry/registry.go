// Package registry owns the table of live sessions. It is the only
// path to create, look up, or expire a match; nothing else holds the
// map. One actor goroutine serializes all of it, including the idle
// sweep.
package registry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/vbscore/backend/internal/history"
	"github.com/vbscore/backend/internal/match"
	"github.com/vbscore/backend/internal/session"
)

var ErrAlreadyExists = errors.New("match id already in use")

type Msg interface{ isRegistryMsg() }

type CreateReply struct {
	Sess *session.Session
	Err  error
}

type Create struct {
	State      match.State
	AdminToken string
	Reply      chan CreateReply
}

func (Create) isRegistryMsg() {}

// Get replies with the live session, or nil when the id is unknown. An
// expired match is indistinguishable from one that never existed.
type Get struct {
	ID    string
	Reply chan *session.Session
}

func (Get) isRegistryMsg() {}

// Remove is sent by a session's closed callback. Reason "expired"
// records an expiry, anything else a normal end.
type Remove struct {
	ID     string
	Reason string
}

func (Remove) isRegistryMsg() {}

type List struct {
	Reply chan []MatchSummary
}

func (List) isRegistryMsg() {}

type Shutdown struct{}

func (Shutdown) isRegistryMsg() {}

type SetScore struct {
	A        int  `json:"a"`
	B        int  `json:"b"`
	Complete bool `json:"complete"`
}

type MatchSummary struct {
	MatchID   string     `json:"match_id"`
	Location  string     `json:"desc"`
	TeamA     string     `json:"team_a"`
	TeamB     string     `json:"team_b"`
	SetsA     int        `json:"sets_a"`
	SetsB     int        `json:"sets_b"`
	SetScores []SetScore `json:"set_scores"`
}

type Options struct {
	Expiry        time.Duration
	SweepInterval time.Duration
	Recorder      *history.Recorder
	Logger        *zap.Logger
}

type Registry struct {
	inbox    chan Msg
	sessions map[string]*session.Session
	opts     Options
	ctx      context.Context
	cancel   context.CancelFunc
}

func New(parent context.Context, opts Options) *Registry {
	if opts.Expiry <= 0 {
		opts.Expiry = 3 * time.Hour
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 10 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	r := &Registry{
		inbox:    make(chan Msg, 64),
		sessions: make(map[string]*session.Session),
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
	}
	go r.loop()
	return r
}

func (r *Registry) Inbox() chan<- Msg { return r.inbox }

func (r *Registry) loop() {
	sweep := time.NewTicker(r.opts.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case <-sweep.C:
			r.sweep()

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Create:
				id := msg.State.ID
				if r.sessions[id] != nil {
					msg.Reply <- CreateReply{Err: ErrAlreadyExists}
					break
				}
				sess := session.New(r.ctx, msg.State, msg.AdminToken, r.opts.Logger, r.closed)
				r.sessions[id] = sess
				r.opts.Logger.Info("match created", zap.String("match_id", id))
				r.opts.Recorder.RecordStart(r.ctx, id,
					msg.State.Teams[match.TeamA].Name,
					msg.State.Teams[match.TeamB].Name,
					msg.State.Location)
				msg.Reply <- CreateReply{Sess: sess}

			case Get:
				msg.Reply <- r.sessions[msg.ID]

			case Remove:
				if r.sessions[msg.ID] == nil {
					break
				}
				delete(r.sessions, msg.ID)
				if msg.Reason == session.ReasonExpired {
					r.opts.Recorder.RecordExpire(r.ctx, msg.ID)
				} else {
					r.opts.Recorder.RecordEnd(r.ctx, msg.ID)
				}
				r.opts.Logger.Info("match removed",
					zap.String("match_id", msg.ID),
					zap.String("reason", msg.Reason))

			case List:
				msg.Reply <- r.list()

			case Shutdown:
				r.shutdown()
				return
			}
		}
	}
}

// closed feeds session terminations back into the registry loop. Runs
// on a session goroutine, never inside our own loop.
func (r *Registry) closed(id, reason string) {
	select {
	case r.inbox <- Remove{ID: id, Reason: reason}:
	case <-r.ctx.Done():
	}
}

// sweep expires sessions idle past the deadline. The session closes
// its own connections (with the expired reason) and reports back via
// Remove, so nobody is left hanging silently.
func (r *Registry) sweep() {
	deadline := time.Now().Add(-r.opts.Expiry)
	for id, sess := range r.sessions {
		if sess.LastActive().After(deadline) {
			continue
		}
		r.opts.Logger.Info("expiring idle match", zap.String("match_id", id))
		select {
		case sess.Inbox() <- session.Expire{}:
		default:
			// Inbox jammed; the session is wedged or already closing.
			delete(r.sessions, id)
		}
	}
}

func (r *Registry) list() []MatchSummary {
	out := make([]MatchSummary, 0, len(r.sessions))
	for id, sess := range r.sessions {
		reply := make(chan session.StateView, 1)
		select {
		case sess.Inbox() <- session.GetState{Reply: reply}:
		default:
			continue
		}
		var view session.StateView
		select {
		case view = <-reply:
		case <-time.After(250 * time.Millisecond):
			continue
		}

		sets, winsA, winsB := match.Summarize(view.State)
		sum := MatchSummary{
			MatchID:   id,
			Location:  view.State.Location,
			TeamA:     view.State.Teams[match.TeamA].Name,
			TeamB:     view.State.Teams[match.TeamB].Name,
			SetsA:     winsA,
			SetsB:     winsB,
			SetScores: []SetScore{},
		}
		for _, s := range sets {
			sum.SetScores = append(sum.SetScores, SetScore{A: s.A, B: s.B, Complete: s.Complete})
		}
		out = append(out, sum)
	}
	return out
}

func (r *Registry) shutdown() {
	for id, sess := range r.sessions {
		select {
		case sess.Inbox() <- session.Shutdown{}:
		default:
		}
		delete(r.sessions, id)
	}
	r.cancel()
}
