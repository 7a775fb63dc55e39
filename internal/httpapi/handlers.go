package httpapi

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"html"
	"math/big"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vbscore/backend/internal/archive"
	"github.com/vbscore/backend/internal/match"
	"github.com/vbscore/backend/internal/registry"
)

const (
	maxNameLen     = 25
	maxLocationLen = 35
)

// GenerateToken builds a short unguessable URL-safe identifier, used
// for both match ids and admin tokens.
func GenerateToken(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	token := make([]byte, length)
	for i := range token {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		token[i] = charset[num.Int64()]
	}
	return string(token), nil
}

// sanitize caps the input at maxLen runes, not bytes, so a multi-byte
// name is never cut mid-character.
func sanitize(s, fallback string, maxLen int) string {
	if s == "" {
		s = fallback
	}
	if runes := []rune(s); len(runes) > maxLen {
		s = string(runes[:maxLen])
	}
	return html.EscapeString(s)
}

// CreateMatch installs a new match from form data and returns the
// admin and viewer links. The admin token never leaves this response.
func CreateMatch(reg *registry.Registry, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}

		aBG := r.FormValue("a_color")
		if aBG == "" {
			aBG = "#FF0000"
		}
		bBG := r.FormValue("b_color")
		if bBG == "" {
			bBG = "#0000FF"
		}
		aFG := r.FormValue("a_color_fg")
		if aFG == "" {
			aFG = match.ContrastColor(aBG)
		}
		bFG := r.FormValue("b_color_fg")
		if bFG == "" {
			bFG = match.ContrastColor(bBG)
		}

		teamA := match.TeamInfo{
			Name:    sanitize(r.FormValue("a_name"), "Team A", maxNameLen),
			ColorBG: aBG,
			ColorFG: aFG,
		}
		teamB := match.TeamInfo{
			Name:    sanitize(r.FormValue("b_name"), "Team B", maxNameLen),
			ColorBG: bBG,
			ColorFG: bFG,
		}
		location := sanitize(r.FormValue("mLoc"), "", maxLocationLen)

		adminToken, err := GenerateToken(8)
		if err != nil {
			http.Error(w, "failed to generate token", http.StatusInternalServerError)
			return
		}

		var matchID string
		for {
			id, err := GenerateToken(8)
			if err != nil {
				http.Error(w, "failed to generate match id", http.StatusInternalServerError)
				return
			}
			state := match.NewState(id, teamA, teamB, location, time.Now())
			reply := make(chan registry.CreateReply, 1)
			reg.Inbox() <- registry.Create{State: state, AdminToken: adminToken, Reply: reply}
			res := <-reply
			if res.Err == nil {
				matchID = id
				break
			}
			if !errors.Is(res.Err, registry.ErrAlreadyExists) {
				http.Error(w, "failed to create match", http.StatusInternalServerError)
				return
			}
			log.Warn("match id collision, regenerating", zap.String("match_id", id))
		}

		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		base := scheme + "://" + r.Host

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(struct {
			MatchID    string `json:"match_id"`
			AdminLink  string `json:"admin_link"`
			ViewerLink string `json:"viewer_link"`
		}{
			MatchID:    matchID,
			AdminLink:  base + "/scoreboard/" + matchID + "?token=" + adminToken,
			ViewerLink: base + "/scoreboard/" + matchID,
		})
	}
}

// ListMatches reports every live match with derived set scores and
// wins.
func ListMatches(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reply := make(chan []registry.MatchSummary, 1)
		reg.Inbox() <- registry.List{Reply: reply}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(<-reply)
	}
}

// DecodeArchive turns a token from the state query parameter into the
// display summary. Bad tokens get a clean 422, never a crash or a
// partial render.
func DecodeArchive(log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("state")
		if token == "" {
			http.Error(w, "missing state", http.StatusBadRequest)
			return
		}
		decoded, err := archive.Decode(token)
		if err != nil {
			log.Warn("archive decode failed", zap.Error(err))
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(decoded.Summary())
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
