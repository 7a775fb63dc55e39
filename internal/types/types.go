package types

// ClientMessage is an inbound scorekeeper command.
type ClientMessage struct {
	Action string `json:"action"`
	Team   string `json:"team,omitempty"`
}

type SetScore struct {
	A int `json:"a"`
	B int `json:"b"`
}

// ServerMessage is everything the channel pushes to a connection:
// either a state view or a terminal redirect. Viewers is only set on
// admin connections.
type ServerMessage struct {
	Type     string     `json:"type"` // "state" | "redirect"
	Version  int        `json:"version,omitempty"`
	Set      int        `json:"set,omitempty"`
	Score    *SetScore  `json:"score,omitempty"`
	Sets     []SetScore `json:"sets,omitempty"`
	Done     bool       `json:"done,omitempty"`
	Viewers  *int       `json:"viewers,omitempty"`
	Redirect string     `json:"redirect,omitempty"`
	Reason   string     `json:"reason,omitempty"`
}
