package pipeline

import (
	"errors"
	"fmt"

	"mcadmin/cmd/internal/auth/session"
)

// Op names a pipeline operation.
type Op string

const (
	OpLogin      Op = "login"
	OpLogout     Op = "logout"
	OpRevalidate Op = "revalidate"
)

// ErrNoToken is returned by Revalidate when there is no token to check.
var ErrNoToken = errors.New("no auth token")

// Failure is returned when an operation dispatched a failure event.
// Detail is exactly what was dispatched.
type Failure struct {
	Op     Op
	Detail session.ErrorPayload
	Err    error
}

func (f *Failure) Error() string {
	if f.Detail.Kind == session.KindRejected {
		return fmt.Sprintf("%s rejected: status %d", f.Op, f.Detail.Status)
	}
	return fmt.Sprintf("%s failed: %s", f.Op, f.Detail.Message)
}

func (f *Failure) Unwrap() error { return f.Err }

// Rejected reports whether the auth server answered with status >= 400.
func (f *Failure) Rejected() bool { return f.Detail.Kind == session.KindRejected }

func transportFailure(op Op, err error, msg string) *Failure {
	if msg == "" && err != nil {
		msg = err.Error()
	}
	return &Failure{
		Op:     op,
		Detail: session.ErrorPayload{Kind: session.KindTransport, Message: msg},
		Err:    err,
	}
}

func rejectedFailure(op Op, status int, body []byte, statusText string) *Failure {
	if len(body) > MaxErrorBody {
		body = body[:MaxErrorBody]
	}
	return &Failure{
		Op: op,
		Detail: session.ErrorPayload{
			Kind:    session.KindRejected,
			Status:  status,
			Body:    string(body),
			Message: statusText,
		},
	}
}
