// Package archive encodes a finished match into a self-contained,
// URL-safe token and decodes any supported prior token format back
// into a displayable summary. The token is the only storage: the
// archive page renders from it with no server round-trip.
package archive

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/vbscore/backend/internal/match"
)

const CurrentVersion = 2

var ErrUnsupportedVersion = errors.New("unsupported archive version")
var ErrInvalidToken = errors.New("invalid archive token")

// TeamMeta is a team's identity in the current (v2) schema.
type TeamMeta struct {
	Name    string `json:"n"`
	ColorBG string `json:"b"`
	ColorFG string `json:"f"`
}

// Snapshot is the current (v2) schema: full per-set point history,
// encoded as 0 for team A and 1 for team B.
type Snapshot struct {
	Version  int      `json:"v"`
	Date     int64    `json:"d"`
	Location string   `json:"l"`
	TeamA    TeamMeta `json:"a"`
	TeamB    TeamMeta `json:"b"`
	History  [][]int  `json:"h"`
}

// LegacyTeam is a team in the original schema: precomputed per-set
// scores and win counts, single display color.
type LegacyTeam struct {
	Name   string `json:"name"`
	Color  string `json:"color"`
	Wins   int    `json:"wins"`
	Scores []int  `json:"scores"`
}

// LegacySnapshot is the original schema. It carries no version tag and
// its tokens were not compressed.
type LegacySnapshot struct {
	Date     string     `json:"mDate"`
	Location string     `json:"mLoc"`
	TeamA    LegacyTeam `json:"tA"`
	TeamB    LegacyTeam `json:"tB"`
}

// Decoded holds exactly one of the supported record shapes.
type Decoded struct {
	Version int
	Current *Snapshot
	Legacy  *LegacySnapshot
}

// Encode projects a completed match into the current schema and
// serializes it: compact JSON, zlib, unpadded base64url. A trailing
// empty set is trimmed from the projection so an accidental new_set
// right before end_match does not archive a 0-0 set.
func Encode(s match.State) (string, error) {
	sets := s.Sets
	if n := len(sets); n > 1 && len(sets[n-1]) == 0 {
		sets = sets[:n-1]
	}
	history := make([][]int, len(sets))
	for i, set := range sets {
		history[i] = make([]int, len(set))
		for j, p := range set {
			if p == match.TeamB {
				history[i][j] = 1
			}
		}
	}
	a := s.Teams[match.TeamA]
	b := s.Teams[match.TeamB]
	snap := Snapshot{
		Version:  CurrentVersion,
		Date:     time.Now().Unix(),
		Location: s.Location,
		TeamA:    TeamMeta{Name: a.Name, ColorBG: a.ColorBG, ColorFG: a.ColorFG},
		TeamB:    TeamMeta{Name: b.Name, ColorBG: b.ColorBG, ColorFG: b.ColorFG},
		History:  history,
	}

	raw, err := json.Marshal(snap)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return "", err
	}
	if err := zw.Close(); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf.Bytes()), nil
}

// Decode reverses Encode for every supported schema. It is a pure
// function of the token text: base64url (padding optional), optional
// zlib layer probed by its header byte, then strict dispatch on the
// version tag. Tokens with no tag are legacy v1; any other tag is
// rejected outright.
func Decode(token string) (Decoded, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(token, "="))
	if err != nil {
		return Decoded{}, ErrInvalidToken
	}

	payload := raw
	if len(raw) > 0 && raw[0] == 0x78 { // zlib CMF byte
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return Decoded{}, ErrInvalidToken
		}
		payload, err = io.ReadAll(zr)
		zr.Close()
		if err != nil {
			return Decoded{}, ErrInvalidToken
		}
	}

	var probe struct {
		V  *int            `json:"v"`
		TA json.RawMessage `json:"tA"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return Decoded{}, ErrInvalidToken
	}

	switch {
	case probe.V == nil:
		if probe.TA == nil {
			return Decoded{}, ErrUnsupportedVersion
		}
		var legacy LegacySnapshot
		if err := json.Unmarshal(payload, &legacy); err != nil {
			return Decoded{}, ErrInvalidToken
		}
		return Decoded{Version: 1, Legacy: &legacy}, nil

	case *probe.V == CurrentVersion:
		var snap Snapshot
		if err := json.Unmarshal(payload, &snap); err != nil {
			return Decoded{}, ErrInvalidToken
		}
		return Decoded{Version: CurrentVersion, Current: &snap}, nil

	default:
		return Decoded{}, ErrUnsupportedVersion
	}
}

// TeamSummary is a team in the display-normalized summary.
type TeamSummary struct {
	Name    string `json:"name"`
	ColorBG string `json:"color_bg"`
	ColorFG string `json:"color_fg,omitempty"`
	Wins    int    `json:"wins"`
	Scores  []int  `json:"scores"`
}

// Summary is what the archive page renders, regardless of which schema
// the token carried.
type Summary struct {
	Version  int         `json:"version"`
	Date     string      `json:"date"`
	Location string      `json:"location"`
	TeamA    TeamSummary `json:"team_a"`
	TeamB    TeamSummary `json:"team_b"`
}

// Summary normalizes a decoded record for display. Legacy records pass
// their precomputed scores and wins through untouched; current records
// derive both from the point history.
func (d Decoded) Summary() Summary {
	if d.Legacy != nil {
		l := d.Legacy
		return Summary{
			Version:  d.Version,
			Date:     l.Date,
			Location: l.Location,
			TeamA:    TeamSummary{Name: l.TeamA.Name, ColorBG: l.TeamA.Color, Wins: l.TeamA.Wins, Scores: l.TeamA.Scores},
			TeamB:    TeamSummary{Name: l.TeamB.Name, ColorBG: l.TeamB.Color, Wins: l.TeamB.Wins, Scores: l.TeamB.Scores},
		}
	}

	c := d.Current
	sum := Summary{
		Version:  d.Version,
		Date:     time.Unix(c.Date, 0).UTC().Format("2006-01-02"),
		Location: c.Location,
		TeamA:    TeamSummary{Name: c.TeamA.Name, ColorBG: c.TeamA.ColorBG, ColorFG: c.TeamA.ColorFG},
		TeamB:    TeamSummary{Name: c.TeamB.Name, ColorBG: c.TeamB.ColorBG, ColorFG: c.TeamB.ColorFG},
	}
	for _, set := range c.History {
		var a, b int
		for _, p := range set {
			if p == 0 {
				a++
			} else {
				b++
			}
		}
		sum.TeamA.Scores = append(sum.TeamA.Scores, a)
		sum.TeamB.Scores = append(sum.TeamB.Scores, b)
		if a > b {
			sum.TeamA.Wins++
		} else if b > a {
			sum.TeamB.Wins++
		}
	}
	return sum
}
