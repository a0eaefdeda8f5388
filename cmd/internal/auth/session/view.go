package session

import (
	"maps"
	"time"
)

// View is the browser-facing JSON form of a State. The auth token stays on
// the server; Authenticated reports whether one is held.
type View struct {
	Dirty         bool           `json:"dirty"`
	InProgress    bool           `json:"in_progress"`
	Phase         Phase          `json:"phase"`
	LastUpdated   *time.Time     `json:"last_updated"`
	Error         *ErrorPayload  `json:"error"`
	Authenticated bool           `json:"authenticated"`
	Profile       map[string]any `json:"profile,omitempty"`
}

// ViewOf renders st for clients.
func ViewOf(st State) View {
	return View{
		Dirty:         st.Meta.Dirty,
		InProgress:    st.Meta.InProgress,
		Phase:         st.Phase(),
		LastUpdated:   st.Meta.LastUpdated,
		Error:         st.Meta.Error,
		Authenticated: st.Authenticated(),
		Profile:       maps.Clone(st.Profile),
	}
}
