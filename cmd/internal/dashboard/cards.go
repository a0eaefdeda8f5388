// Package dashboard serves the server list view model and the start, stop
// and restart controls backed by the management process.
package dashboard

import (
	"slices"
	"strings"

	"mcadmin/cmd/internal/manager"
)

// Action is a server control verb.
type Action string

const (
	ActionStart   Action = "start"
	ActionStop    Action = "stop"
	ActionRestart Action = "restart"
)

// AllServers is the path segment that targets every server.
const AllServers = "_all"

// ParseAction accepts start, stop and restart.
func ParseAction(s string) (Action, bool) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionStart, ActionStop, ActionRestart:
		return a, true
	default:
		return "", false
	}
}

// Card is one server tile.
type Card struct {
	ID      string          `json:"server_id"`
	Status  string          `json:"status"`
	Running bool            `json:"running"`
	Players manager.Players `json:"players"`
	Actions []Action        `json:"actions"`
}

// CardFor builds the card for s: a running server offers stop and restart,
// anything else offers start.
func CardFor(s manager.Server) Card {
	c := Card{
		ID:      s.ID,
		Status:  s.Status,
		Running: s.Running(),
		Players: s.Players,
	}
	if c.Status == "" {
		c.Status = "Unknown"
	}
	if c.Running {
		c.Actions = []Action{ActionStop, ActionRestart}
	} else {
		c.Actions = []Action{ActionStart}
	}
	return c
}

// Cards maps servers to cards sorted by server ID.
func Cards(servers []manager.Server) []Card {
	out := make([]Card, 0, len(servers))
	for _, s := range servers {
		out = append(out, CardFor(s))
	}
	slices.SortFunc(out, func(a, b Card) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Allows reports whether a is offered on the card.
func (c Card) Allows(a Action) bool { return slices.Contains(c.Actions, a) }
