package session

import (
	"maps"
	"time"
)

// ErrorKind classifies a failure carried in ErrorPayload.
type ErrorKind string

const (
	// KindTransport covers unreachable endpoints, cancellations and malformed responses.
	KindTransport ErrorKind = "transport"
	// KindRejected covers HTTP responses with status >= 400.
	KindRejected ErrorKind = "rejected"
)

// ErrorPayload is the failure detail recorded by LoginFailed and LogoutFailed.
// Status and Body carry the raw collaborator response when there was one.
type ErrorPayload struct {
	Kind    ErrorKind `json:"kind"`
	Status  int       `json:"status,omitempty"`
	Body    string    `json:"body,omitempty"`
	Message string    `json:"message,omitempty"`
}

// Meta tracks request progress for the session.
type Meta struct {
	Dirty       bool
	InProgress  bool
	LastUpdated *time.Time
	Error       *ErrorPayload
}

// State is one client's session value. Treat it as immutable: Reduce never
// mutates a State or its Profile map, and callers must not either.
type State struct {
	Meta      Meta
	AuthToken string
	Profile   map[string]any
}

// Phase names the mutually exclusive progress states of a session.
type Phase string

const (
	PhaseInProgress  Phase = "in_progress"
	PhaseUnconfirmed Phase = "unconfirmed"
	PhaseResolved    Phase = "resolved"
)

// Initial returns the state a client starts with.
func Initial() State {
	return State{Meta: Meta{Dirty: true}}
}

// Reset returns the default state after a logout at now.
func Reset(now time.Time) State {
	ts := now
	return State{Meta: Meta{LastUpdated: &ts}}
}

// Restored returns a dirty state carrying a previously persisted identity.
func Restored(token string, profile map[string]any) State {
	return State{
		Meta:      Meta{Dirty: true},
		AuthToken: token,
		Profile:   maps.Clone(profile),
	}
}

// Authenticated reports whether the state holds an auth token.
func (s State) Authenticated() bool { return s.AuthToken != "" }

// Phase reports the progress phase of s.
func (s State) Phase() Phase {
	switch {
	case s.Meta.InProgress:
		return PhaseInProgress
	case s.Meta.Dirty:
		return PhaseUnconfirmed
	default:
		return PhaseResolved
	}
}

// Field returns a profile field by name.
func (s State) Field(name string) (any, bool) {
	v, ok := s.Profile[name]
	return v, ok
}
