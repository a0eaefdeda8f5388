package authapi

import (
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"
)

type lockoutTier struct {
	Threshold int
	Duration  time.Duration
}

// evaluateWindowThrottle blocks once max failures fall inside window. The
// retry delay is the time until enough of them age out.
func evaluateWindowThrottle(now time.Time, failures []time.Time, max int, window time.Duration) (bool, time.Duration) {
	if max <= 0 || window <= 0 {
		return false, 0
	}
	cut := now.Add(-window)

	recent := make([]time.Time, 0, len(failures))
	for _, f := range failures {
		if f.After(cut) {
			recent = append(recent, f)
		}
	}
	if len(recent) < max {
		return false, 0
	}

	slices.SortFunc(recent, func(a, b time.Time) int { return a.Compare(b) })
	// Once recent[len-max] expires the count drops below max.
	return true, recent[len(recent)-max].Add(window).Sub(now)
}

// evaluateProgressiveLockout applies the longest tier whose threshold is met,
// counted from the latest failure.
func evaluateProgressiveLockout(now time.Time, failures []time.Time, tiers []lockoutTier) (bool, time.Duration) {
	if len(failures) == 0 {
		return false, 0
	}
	latest := slices.MaxFunc(failures, func(a, b time.Time) int { return a.Compare(b) })

	var lock time.Duration
	for _, t := range tiers {
		if t.Threshold > 0 && len(failures) >= t.Threshold && t.Duration > lock {
			lock = t.Duration
		}
	}
	if lock == 0 {
		return false, 0
	}

	retry := latest.Add(lock).Sub(now)
	if retry <= 0 {
		return false, 0
	}
	return true, retry
}

// loginThrottle tracks credential failures per client IP and per username.
type loginThrottle struct {
	cfg Config

	mu     sync.Mutex
	byIP   map[string][]time.Time
	byUser map[string][]time.Time
}

func newLoginThrottle(cfg Config) *loginThrottle {
	return &loginThrottle{
		cfg:    cfg,
		byIP:   make(map[string][]time.Time),
		byUser: make(map[string][]time.Time),
	}
}

func (t *loginThrottle) check(now time.Time, ip, user string) (bool, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ip != "" {
		if blocked, retry := evaluateWindowThrottle(now, t.byIP[ip], t.cfg.LoginIPMax, t.cfg.LoginIPWindow); blocked {
			return true, retry
		}
	}
	if user != "" {
		return evaluateProgressiveLockout(now, t.byUser[user], t.cfg.lockoutTiers())
	}
	return false, 0
}

func (t *loginThrottle) fail(now time.Time, ip, user string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ip != "" {
		t.byIP[ip] = appendWithin(t.byIP[ip], now, t.cfg.LoginIPWindow)
	}
	if user != "" {
		t.byUser[user] = appendWithin(t.byUser[user], now, t.cfg.LoginUserWindow)
	}
}

// succeed clears the username's failure history. IP failures stay so one
// valid account cannot reset a spraying source.
func (t *loginThrottle) succeed(user string) {
	if user == "" {
		return
	}
	t.mu.Lock()
	delete(t.byUser, user)
	t.mu.Unlock()
}

// prune drops histories that no longer affect any decision.
func (t *loginThrottle) prune(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for k, v := range t.byIP {
		if v = keepWithin(v, now, t.cfg.LoginIPWindow); len(v) == 0 {
			delete(t.byIP, k)
		} else {
			t.byIP[k] = v
		}
	}
	for k, v := range t.byUser {
		if v = keepWithin(v, now, t.cfg.LoginUserWindow); len(v) == 0 {
			delete(t.byUser, k)
		} else {
			t.byUser[k] = v
		}
	}
}

func appendWithin(xs []time.Time, now time.Time, window time.Duration) []time.Time {
	return append(keepWithin(xs, now, window), now)
}

func keepWithin(xs []time.Time, now time.Time, window time.Duration) []time.Time {
	cut := now.Add(-window)
	out := xs[:0]
	for _, x := range xs {
		if x.After(cut) {
			out = append(out, x)
		}
	}
	return out
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	e := apiError{Code: codeRateLimited, Message: "too many attempts"}
	if retryAfter > 0 {
		e.RetryAfter = int64((retryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.FormatInt(e.RetryAfter, 10))
	}
	writeJSON(w, codeRateLimited.status(), errorResponse{Error: e})
}
