// Package match holds the pure per-match state machine: point events,
// sets, and completion. Scores are never stored, only derived by
// counting point events, so the live count and the event log cannot
// diverge.
package match

import (
	"errors"
	"slices"
	"time"
)

var ErrMatchClosed = errors.New("match already ended")
var ErrUnknownTeam = errors.New("unknown team")

type Team string

const (
	TeamA Team = "a"
	TeamB Team = "b"
)

type TeamInfo struct {
	Name    string
	ColorBG string
	ColorFG string
}

// State is the aggregate match state. Operations are value-in,
// value-out: callers keep the returned State and may treat the old one
// as immutable. Sets is append-only; the last set is always the
// current one.
type State struct {
	ID        string
	Teams     map[Team]TeamInfo
	Location  string
	StartedAt time.Time
	Sets      [][]Team
	Done      bool
}

func NewState(id string, a, b TeamInfo, location string, now time.Time) State {
	return State{
		ID:        id,
		Teams:     map[Team]TeamInfo{TeamA: a, TeamB: b},
		Location:  location,
		StartedAt: now,
		Sets:      [][]Team{{}},
	}
}

// AddPoint appends a point event for team to the current set. There is
// no upper bound here; display caps are a client affordance.
func AddPoint(s State, team Team) (State, error) {
	if s.Done {
		return s, ErrMatchClosed
	}
	if team != TeamA && team != TeamB {
		return s, ErrUnknownTeam
	}
	ns := s
	ns.Sets = slices.Clone(s.Sets)
	last := len(ns.Sets) - 1
	ns.Sets[last] = append(slices.Clone(ns.Sets[last]), team)
	return ns, nil
}

// Undo removes the most recent point event from the current set. An
// empty current set makes it a no-op, never an error: undo must not
// reach back and reopen a previous set.
func Undo(s State) (State, error) {
	if s.Done {
		return s, ErrMatchClosed
	}
	last := len(s.Sets) - 1
	if len(s.Sets[last]) == 0 {
		return s, nil
	}
	ns := s
	ns.Sets = slices.Clone(s.Sets)
	ns.Sets[last] = slices.Clone(ns.Sets[last])[:len(ns.Sets[last])-1]
	return ns, nil
}

// NewSet appends a fresh empty set and makes it current. Legal even if
// the current set has no points.
func NewSet(s State) (State, error) {
	if s.Done {
		return s, ErrMatchClosed
	}
	ns := s
	ns.Sets = append(slices.Clone(s.Sets), []Team{})
	return ns, nil
}

// EndMatch sets the completion flag. Ending an already-ended match is a
// no-op so duplicate client commands are harmless.
func EndMatch(s State) State {
	ns := s
	ns.Done = true
	return ns
}

type SetScore struct {
	A int
	B int
}

// ScoreOf derives a set's score by counting point events.
func ScoreOf(points []Team) SetScore {
	var sc SetScore
	for _, p := range points {
		switch p {
		case TeamA:
			sc.A++
		case TeamB:
			sc.B++
		}
	}
	return sc
}

// View is the read-only projection broadcast to clients.
type View struct {
	SetIndex  int
	Current   SetScore
	Completed []SetScore
	Done      bool
}

// Project derives the client view: current-set score, 1-based set
// index, and the score of every set before the current one.
func Project(s State) View {
	last := len(s.Sets) - 1
	v := View{
		SetIndex: len(s.Sets),
		Current:  ScoreOf(s.Sets[last]),
		Done:     s.Done,
	}
	for _, set := range s.Sets[:last] {
		v.Completed = append(v.Completed, ScoreOf(set))
	}
	return v
}

type SetSummary struct {
	A        int
	B        int
	Complete bool
}

// Summarize derives per-set scores and set wins for match listings.
// Empty sets are skipped. A set counts as complete once a later set
// exists or the match is done, and only complete sets count toward
// wins.
func Summarize(s State) (sets []SetSummary, winsA, winsB int) {
	for i, set := range s.Sets {
		if len(set) == 0 {
			continue
		}
		sc := ScoreOf(set)
		complete := i < len(s.Sets)-1 || s.Done
		sets = append(sets, SetSummary{A: sc.A, B: sc.B, Complete: complete})
		if !complete {
			continue
		}
		if sc.A > sc.B {
			winsA++
		} else if sc.B > sc.A {
			winsB++
		}
	}
	return sets, winsA, winsB
}
