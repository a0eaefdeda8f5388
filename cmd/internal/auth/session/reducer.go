package session

import (
	"maps"
	"time"
)

// Reduce returns the state that follows prev after ev at time now.
//
// It is total: unknown or nil events return prev unchanged. It never mutates
// prev; profile maps are copied before merging.
//
// Policies:
//   - LoginFailed while a token is held (a re-authentication) clears the token
//     and profile. A first login attempt has nothing to clear.
//   - LoginSucceeded merges the profile over the held one only when the token
//     is unchanged (a revalidation). A different token is a new identity and
//     starts from an empty profile.
//   - LogoutFailed forces a local logout and keeps the failure detail.
func Reduce(prev State, ev Event, now time.Time) State {
	switch e := ev.(type) {
	case LoginStarted:
		next := prev
		next.Meta = Meta{Dirty: true, InProgress: true}
		return next

	case LoginSucceeded:
		next := prev
		base := prev.Profile
		if prev.AuthToken != e.AuthToken {
			base = nil
		}
		next.AuthToken = e.AuthToken
		next.Profile = mergeProfile(base, e.Profile)
		next.Meta = Meta{LastUpdated: stamp(now)}
		return next

	case LoginFailed:
		next := prev
		detail := e.Detail
		next.Meta = Meta{LastUpdated: stamp(now), Error: &detail}
		if prev.AuthToken != "" {
			next.AuthToken = ""
			next.Profile = nil
		}
		return next

	case LogoutStarted:
		next := prev
		next.Meta = Meta{Dirty: prev.Meta.Dirty, InProgress: true}
		return next

	case LogoutSucceeded:
		return Reset(now)

	case LogoutFailed:
		next := Reset(now)
		detail := e.Detail
		next.Meta.Error = &detail
		return next

	default:
		return prev
	}
}

func stamp(now time.Time) *time.Time {
	ts := now
	return &ts
}

func mergeProfile(base, overlay map[string]any) map[string]any {
	if len(base) == 0 && len(overlay) == 0 {
		return nil
	}
	out := make(map[string]any, len(base)+len(overlay))
	maps.Copy(out, base)
	maps.Copy(out, overlay)
	return out
}
