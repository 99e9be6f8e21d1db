package timer

import "time"

// Styling holds the display presentation settings for a timer.
type Styling struct {
	BackgroundColor string `json:"backgroundColor"`
	TextColor       string `json:"textColor"`
	FontSize        string `json:"fontSize"`
	ViewMode        string `json:"viewMode"`
}

// StylingPatch carries a partial styling update; nil fields are left
// untouched when applied. Values are not validated.
type StylingPatch struct {
	BackgroundColor *string `json:"backgroundColor,omitempty"`
	TextColor       *string `json:"textColor,omitempty"`
	FontSize        *string `json:"fontSize,omitempty"`
	ViewMode        *string `json:"viewMode,omitempty"`
}

// DefaultStyling returns the presentation applied to newly created timers.
func DefaultStyling() Styling {
	return Styling{
		BackgroundColor: "#000000",
		TextColor:       "#FFFFFF",
		FontSize:        "large",
		ViewMode:        "normal",
	}
}

// Apply merges the supplied fields into s.
func (s *Styling) Apply(patch StylingPatch) {
	if patch.BackgroundColor != nil {
		s.BackgroundColor = *patch.BackgroundColor
	}
	if patch.TextColor != nil {
		s.TextColor = *patch.TextColor
	}
	if patch.FontSize != nil {
		s.FontSize = *patch.FontSize
	}
	if patch.ViewMode != nil {
		s.ViewMode = *patch.ViewMode
	}
}

// Snapshot is the full externally visible state of a timer at an instant.
// Connected viewers are exposed only as a count.
type Snapshot struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Duration         int        `json:"duration"`
	OriginalDuration int        `json:"originalDuration"`
	Remaining        int        `json:"remaining"`
	Running          bool       `json:"running"`
	StartedAt        *time.Time `json:"startedAt,omitempty"`
	Message          string     `json:"message"`
	Styling          Styling    `json:"styling"`
	IsFlashing       bool       `json:"isFlashing"`
	ControllerID     string     `json:"controllerId"`
	MaxViewers       int        `json:"maxViewers"`
	Viewers          int        `json:"viewers"`
}

// Summary is the lightweight listing entry for tenant-scoped timer lists.
type Summary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Duration int    `json:"duration"`
	Viewers  int    `json:"viewers"`
}

// Snapshot returns the timer's externally visible state.
func (t *Timer) Snapshot() Snapshot {
	snap := Snapshot{
		ID:               t.id,
		Name:             t.name,
		Duration:         t.duration,
		OriginalDuration: t.originalDuration,
		Remaining:        t.remaining,
		Running:          t.running,
		Message:          t.message,
		Styling:          t.styling,
		IsFlashing:       t.flashing,
		ControllerID:     t.ownerID,
		MaxViewers:       t.maxViewers,
		Viewers:          len(t.viewers),
	}
	if t.running {
		startedAt := t.startedAt
		snap.StartedAt = &startedAt
	}
	return snap
}

// Summary returns the timer's listing entry.
func (t *Timer) Summary() Summary {
	return Summary{
		ID:       t.id,
		Name:     t.name,
		Duration: t.duration,
		Viewers:  len(t.viewers),
	}
}
