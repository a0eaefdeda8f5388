// Package pipeline runs the session action pipeline against the REST auth
// server: login (token request, then identity lookup), logout, and
// revalidation of a restored token.
//
// Each operation reports progress only by dispatching session events to the
// caller's store. The returned error mirrors the dispatched failure so HTTP
// handlers can pick a status without re-reading the state.
package pipeline
