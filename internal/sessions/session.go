// Package sessions records what an agent did during a session.
//
// Each session is one append-only document of events ordered by timestamp.
// Events may arrive slightly out of order; anything older than the reorder
// window relative to the newest event is dropped and counted. Sealing a
// session makes it immutable and hands it to the learning analyzer.
package sessions

import (
	"time"

	"github.com/fyrsmithlabs/reqgate/internal/hooks"
	"github.com/fyrsmithlabs/reqgate/internal/requirements"
)

const documentVersion = 1

// Event is one recorded hook event.
type Event struct {
	EventType hooks.HookType `json:"event_type"`
	ToolName  string         `json:"tool_name,omitempty"`
	FilePath  string         `json:"file_path,omitempty"`
	Query     string         `json:"query,omitempty"`
	Command   string         `json:"command,omitempty"`
	Skill     string         `json:"skill,omitempty"`
	Branch    string         `json:"branch,omitempty"`
	Timestamp time.Time      `json:"timestamp"`

	// Blocked marks a tool use the gate refused; the tool never ran.
	Blocked bool `json:"blocked,omitempty"`

	// Effects are the requirement state changes the gate made for this event.
	Effects []requirements.Transition `json:"requirement_effects,omitempty"`
}

// Metrics is the recorded activity of one session.
type Metrics struct {
	Version   int        `json:"version"`
	SessionID string     `json:"session_id"`
	Branch    string     `json:"branch"`
	StartedAt time.Time  `json:"started_at"`
	SealedAt  *time.Time `json:"sealed_at,omitempty"`
	Dropped   int        `json:"dropped"`
	Events    []Event    `json:"events"`
}

// Sealed reports whether the session no longer accepts events.
func (m *Metrics) Sealed() bool {
	return m.SealedAt != nil
}

// Latest returns the newest event timestamp, or StartedAt when empty.
func (m *Metrics) Latest() time.Time {
	if n := len(m.Events); n > 0 {
		return m.Events[n-1].Timestamp
	}
	return m.StartedAt
}

// ToolUses counts events that invoked a tool.
func (m *Metrics) ToolUses() int {
	n := 0
	for _, e := range m.Events {
		if e.ToolName != "" {
			n++
		}
	}
	return n
}

// Summary is a listing row for one session.
type Summary struct {
	SessionID string     `json:"session_id"`
	Branch    string     `json:"branch"`
	StartedAt time.Time  `json:"started_at"`
	SealedAt  *time.Time `json:"sealed_at,omitempty"`
	Events    int        `json:"events"`
	Dropped   int        `json:"dropped"`
}

func (m *Metrics) summary() Summary {
	return Summary{
		SessionID: m.SessionID,
		Branch:    m.Branch,
		StartedAt: m.StartedAt,
		SealedAt:  m.SealedAt,
		Events:    len(m.Events),
		Dropped:   m.Dropped,
	}
}
