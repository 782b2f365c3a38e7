// internal/monitor/session.go
package monitor

import (
	"time"
)

// Position is one monitored exposure. Size is the held quantity, Threshold
// the exposure level (size times price) above which the position is
// considered breached. Breached is sticky: a later healthy tick does not
// clear it, only an explicit threshold adjustment or a restart does.
type Position struct {
	Asset        string
	Size         float64
	Threshold    float64
	LastExposure float64
	Breached     bool
	UpdatedAt    time.Time
}

// AutoHedgeConfig is the per-user automatic hedging policy. Trigger is the
// exposure level above which the policy sizes and fires a hedge; it is
// independent of the per-position breach threshold. Enabled can be toggled
// without losing the stored strategy and trigger.
type AutoHedgeConfig struct {
	Strategy string
	Trigger  float64
	Enabled  bool
}

// Session holds everything monitored for a single user. Exactly one
// background poller services a session at a time; all mutation happens
// under the owning registry's lock.
type Session struct {
	UserID    int64
	ChatID    int64
	Positions map[string]*Position
	AutoHedge *AutoHedgeConfig
}

func newSession(userID, chatID int64) *Session {
	return &Session{
		UserID:    userID,
		ChatID:    chatID,
		Positions: make(map[string]*Position),
	}
}

// SessionSnapshot is a copy of a session safe to read without the registry
// lock.
type SessionSnapshot struct {
	UserID    int64
	ChatID    int64
	Positions []Position
	AutoHedge *AutoHedgeConfig
}

func (s *Session) snapshot() SessionSnapshot {
	snap := SessionSnapshot{
		UserID:    s.UserID,
		ChatID:    s.ChatID,
		Positions: make([]Position, 0, len(s.Positions)),
	}
	for _, pos := range s.Positions {
		snap.Positions = append(snap.Positions, *pos)
	}
	if s.AutoHedge != nil {
		cfg := *s.AutoHedge
		snap.AutoHedge = &cfg
	}
	return snap
}
