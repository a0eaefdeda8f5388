package session

// EventType is the wire-stable name of a session event.
type EventType string

const (
	EventLoginStarted    EventType = "LOGIN_STARTED"
	EventLoginSucceeded  EventType = "LOGIN_SUCCEEDED"
	EventLoginFailed     EventType = "LOGIN_FAILED"
	EventLogoutStarted   EventType = "LOGOUT_STARTED"
	EventLogoutSucceeded EventType = "LOGOUT_SUCCEEDED"
	EventLogoutFailed    EventType = "LOGOUT_FAILED"
)

// Event is a state-transition request dispatched to a Store.
// Types outside this package are accepted and ignored by Reduce.
type Event interface {
	Type() EventType
}

// LoginStarted marks the start of a login or revalidation.
type LoginStarted struct{}

// LoginSucceeded carries the issued token and the identity-lookup profile.
type LoginSucceeded struct {
	AuthToken string
	Profile   map[string]any
}

// LoginFailed carries the failure detail of a login or revalidation.
type LoginFailed struct {
	Detail ErrorPayload
}

// LogoutStarted marks the start of a logout.
type LogoutStarted struct{}

// LogoutSucceeded is dispatched when the auth server acknowledged the logout.
type LogoutSucceeded struct{}

// LogoutFailed carries the failure detail of a logout.
type LogoutFailed struct {
	Detail ErrorPayload
}

func (LoginStarted) Type() EventType    { return EventLoginStarted }
func (LoginSucceeded) Type() EventType  { return EventLoginSucceeded }
func (LoginFailed) Type() EventType     { return EventLoginFailed }
func (LogoutStarted) Type() EventType   { return EventLogoutStarted }
func (LogoutSucceeded) Type() EventType { return EventLogoutSucceeded }
func (LogoutFailed) Type() EventType    { return EventLogoutFailed }
