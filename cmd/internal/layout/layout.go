// Package layout classifies viewport widths into size classes and maps them
// to dashboard grid settings.
package layout

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
)

// Size is a responsive size class.
type Size int

const (
	Small Size = iota
	Medium
	Large
)

const (
	// MediumMinWidth and LargeMinWidth are inclusive lower bounds in CSS pixels.
	MediumMinWidth = 768
	LargeMinWidth  = 992
)

func (s Size) String() string {
	switch s {
	case Large:
		return "large"
	case Medium:
		return "medium"
	default:
		return "small"
	}
}

// MarshalText encodes the size as its lower-case name.
func (s Size) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ParseSize is the inverse of Size.String. Unknown names give Small.
func ParseSize(name string) Size {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "large":
		return Large
	case "medium":
		return Medium
	default:
		return Small
	}
}

// Classify returns the size class for a viewport width.
func Classify(width int) Size {
	switch {
	case width >= LargeMinWidth:
		return Large
	case width >= MediumMinWidth:
		return Medium
	default:
		return Small
	}
}

// Tracker follows one client's viewport. The zero value reports Small.
type Tracker struct {
	mu    sync.Mutex
	width int
	size  Size
}

// NewTracker returns a tracker initialised with width.
func NewTracker(width int) *Tracker {
	t := &Tracker{}
	t.Resize(width)
	return t
}

// Resize records a new width and reports whether the size class changed.
func (t *Tracker) Resize(width int) (Size, bool) {
	if width < 0 {
		width = 0
	}
	next := Classify(width)

	t.mu.Lock()
	defer t.mu.Unlock()
	changed := next != t.size
	t.width = width
	t.size = next
	return next, changed
}

// CurrentSize returns the last classified size.
func (t *Tracker) CurrentSize() Size {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.size
}

// Width returns the last recorded width.
func (t *Tracker) Width() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.width
}

// AtLeast reports whether the current size is s or larger.
func (t *Tracker) AtLeast(s Size) bool { return t.CurrentSize() >= s }

// WidthFromRequest returns the viewport width client hint, if any.
func WidthFromRequest(r *http.Request) (int, bool) {
	for _, h := range []string{"Sec-CH-Viewport-Width", "Viewport-Width"} {
		raw := strings.TrimSpace(r.Header.Get(h))
		if raw == "" {
			continue
		}
		w, err := strconv.Atoi(raw)
		if err != nil || w <= 0 {
			continue
		}
		return w, true
	}
	return 0, false
}

// FromRequest classifies the request by its viewport client hint. Requests
// without a usable hint are treated as Large (desktop default).
func FromRequest(r *http.Request) Size {
	if w, ok := WidthFromRequest(r); ok {
		return Classify(w)
	}
	return Large
}

// Grid is the dashboard layout for a size class.
type Grid struct {
	Size       Size `json:"size"`
	Columns    int  `json:"columns"`
	DockedNav  bool `json:"docked_nav"`
	CompactBar bool `json:"compact_bar"`
}

// GridFor returns the grid used at size s.
func GridFor(s Size) Grid {
	switch s {
	case Large:
		return Grid{Size: s, Columns: 3, DockedNav: true}
	case Medium:
		return Grid{Size: s, Columns: 2, DockedNav: true}
	default:
		return Grid{Size: Small, Columns: 1, CompactBar: true}
	}
}
